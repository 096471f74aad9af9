package domain

import (
	"context"
	"encoding/json"
	"io"
)

// Engine is a storage engine: a revisioned document log. Views are not its
// concern; the store evaluates them.
type Engine interface {
	// Get returns the latest live revision of id, or ErrNotFound.
	Get(ctx context.Context, id string) (Document, error)
	// GetRevision returns a specific stored revision of id.
	GetRevision(ctx context.Context, id, rev string) (Document, error)
	// Put writes a new revision. doc.Rev must name the current revision of a
	// live document and be empty for a new one. doc.Deleted writes a tombstone.
	Put(ctx context.Context, doc Document) (WriteResult, error)
	// Load writes documents verbatim, keeping their revisions (replication).
	Load(ctx context.Context, docs []Document) error
	// AllDocs returns the latest live revision of every document.
	AllDocs(ctx context.Context) ([]Document, error)
	// Compact drops superseded revisions. Tombstones stay.
	Compact(ctx context.Context) error
	// Destroy irreversibly deletes all data and releases the engine.
	Destroy(ctx context.Context) error
	Close() error
}

// EngineFactory opens the engine holding the named store, creating it when absent.
type EngineFactory func(name string) (Engine, error)

// DocumentStore is the facade over one engine and its views.
type DocumentStore interface {
	Open(ctx context.Context) error
	Close() error
	Destroy(ctx context.Context) error
	Put(ctx context.Context, doc Document, id, rev string) (WriteResult, error)
	Post(ctx context.Context, doc Document) (WriteResult, error)
	BulkWrite(ctx context.Context, docs []Document) ([]WriteResult, error)
	Remove(ctx context.Context, id, rev string) (WriteResult, error)
	Get(ctx context.Context, id, rev string) (Document, error)
	Query(ctx context.Context, view string, opts QueryOptions) (QueryResult, error)
	Compact(ctx context.Context) error
	CleanupIndexes(ctx context.Context) error
	ExportTo(ctx context.Context, w io.Writer) (int, error)
	ImportFrom(ctx context.Context, r io.Reader) (int, error)
}

// HighlightService defines the use-case operations for highlight events.
type HighlightService interface {
	CreateHighlight(ctx context.Context, match string, rng json.RawMessage, className, text string, opts CreateOptions) (WriteResult, error)
	UpdateHighlight(ctx context.Context, id string, changes HighlightChanges, rev string) (WriteResult, error)
	DeleteHighlight(ctx context.Context, createID string, date int64) (WriteResult, error)
	GetEvent(ctx context.Context, id, rev string) (Event, error)
	ListByMatch(ctx context.Context, match string, opts ListOptions) ([]Event, error)
	NetCountForMatch(ctx context.Context, match string) (int, error)
	AllMatchSums(ctx context.Context) ([]MatchSum, error)
	RemoveAllForMatch(ctx context.Context, match string) ([]WriteResult, error)
}

// GarbageCollector purges matches whose events cancel out.
type GarbageCollector interface {
	SweepSuperfluous(ctx context.Context) ([]SweepResult, error)
}

// Logger defines the interface for logging operations
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, err error, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
}

// Config defines the interface for configuration management
type Config interface {
	GetServerPort() string
	GetLogLevel() string
	GetLogFormat() string
	GetLogFile() string
	GetStoreBackend() string
	GetStoreName() string
	GetDataDir() string
	GetSupabaseURL() string
	GetSupabaseKey() string
	GetAPIToken() string
	GetAllowedOrigins() []string
	GetProducerVersion() int
	GetSweepConcurrency() int
	GetStrictInvariants() bool
}
