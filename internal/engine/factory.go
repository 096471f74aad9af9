package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/supabase-community/supabase-go"

	"highlight-store/internal/domain"
)

// Backend names accepted by NewFactory.
const (
	BackendMemory   = "memory"
	BackendSqlite   = "sqlite"
	BackendSupabase = "supabase"
)

// Options carries backend-specific settings.
type Options struct {
	// DataDir holds one <name>.db file per store (sqlite).
	DataDir string
	// Supabase is the connected client (supabase).
	Supabase *supabase.Client
}

// NewFactory returns an EngineFactory for the given backend.
func NewFactory(backend string, opts Options) (domain.EngineFactory, error) {
	switch backend {
	case BackendMemory, "":
		reg := &memoryRegistry{stores: make(map[string]*memoryData)}
		return reg.open, nil
	case BackendSqlite:
		dir := opts.DataDir
		if dir == "" {
			dir = "./data"
		}
		return func(name string) (domain.Engine, error) {
			return NewSqliteEngine(context.Background(), filepath.Join(dir, name+".db"))
		}, nil
	case BackendSupabase:
		if opts.Supabase == nil {
			return nil, fmt.Errorf("supabase backend requires a client")
		}
		return func(name string) (domain.Engine, error) {
			return NewSupabaseEngine(opts.Supabase, name)
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s (must be memory, sqlite, or supabase)", backend)
	}
}
