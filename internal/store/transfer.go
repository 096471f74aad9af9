package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"highlight-store/internal/domain"
)

// ExportVersion is the version of the dump format written by ExportTo.
const ExportVersion = 1

// Dump is the export payload.
type Dump struct {
	Version int               `json:"version"`
	Docs    []domain.Document `json:"docs"`
}

func decodeDesign(doc domain.Document, design *domain.DesignDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding design document: %w", err)
	}
	if err := json.Unmarshal(raw, design); err != nil {
		return fmt.Errorf("decoding design document: %w", err)
	}
	return nil
}

// ExportTo writes every live document except design documents to w and
// returns how many were written.
func (s *Store) ExportTo(ctx context.Context, w io.Writer) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	engine, _, err := s.handle()
	if err != nil {
		return 0, err
	}
	docs, err := engine.AllDocs(ctx)
	if err != nil {
		return 0, err
	}
	dump := Dump{Version: ExportVersion, Docs: make([]domain.Document, 0, len(docs))}
	for _, doc := range docs {
		if !doc.IsDesign() {
			dump.Docs = append(dump.Docs, doc)
		}
	}
	if err := json.NewEncoder(w).Encode(dump); err != nil {
		return 0, fmt.Errorf("writing export: %w", err)
	}
	s.logger.Info("Store exported", "store", s.name, "docs", len(dump.Docs))
	return len(dump.Docs), nil
}

func (s *Store) scratchName() string {
	return s.name + "-import-scratch"
}

// ImportFrom replaces the store content with a dump read from r. The dump
// is first loaded into a scratch store; the live store is only replaced
// once that succeeded, and any failure before that point leaves it as it was.
func (s *Store) ImportFrom(ctx context.Context, r io.Reader) (int, error) {
	var dump Dump
	if err := json.NewDecoder(r).Decode(&dump); err != nil {
		return 0, fmt.Errorf("%w: reading import: %v", domain.ErrInvalidEvent, err)
	}
	if dump.Version != ExportVersion {
		return 0, fmt.Errorf("%w: unsupported export version %d", domain.ErrInvalidEvent, dump.Version)
	}
	docs := make([]domain.Document, 0, len(dump.Docs))
	for _, doc := range dump.Docs {
		if !doc.IsDesign() {
			docs = append(docs, doc)
		}
	}

	s.mu.RLock()
	_, _, err := s.handle()
	s.mu.RUnlock()
	if err != nil {
		return 0, err
	}

	scratch, err := s.freshEngine(ctx, s.scratchName())
	if err != nil {
		return 0, err
	}
	if err := scratch.Load(ctx, docs); err != nil {
		s.discardScratch(scratch)
		return 0, fmt.Errorf("loading import: %w", err)
	}

	if err := s.swap(ctx, scratch); err != nil {
		s.discardScratch(scratch)
		return 0, err
	}
	s.discardScratch(scratch)
	s.logger.Info("Store imported", "store", s.name, "docs", len(docs))
	return len(docs), nil
}

// freshEngine returns an empty engine for name, wiping leftovers of an
// earlier run.
func (s *Store) freshEngine(ctx context.Context, name string) (domain.Engine, error) {
	stale, err := s.factory(name)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", domain.ErrStorageUnavailable, name, err)
	}
	if err := stale.Destroy(ctx); err != nil {
		return nil, fmt.Errorf("clearing %s: %w", name, err)
	}
	engine, err := s.factory(name)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", domain.ErrStorageUnavailable, name, err)
	}
	return engine, nil
}

// swap destroys the live engine and replicates scratch into a new one.
func (s *Store) swap(ctx context.Context, scratch domain.Engine) error {
	docs, err := scratch.AllDocs(ctx)
	if err != nil {
		return fmt.Errorf("reading scratch store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	live, _, err := s.handle()
	if err != nil {
		return err
	}

	s.engine, s.index = nil, nil
	if err := live.Destroy(ctx); err != nil {
		return fmt.Errorf("destroying %s: %w", s.name, err)
	}
	s.logger.Warn("Replacing store content", "store", s.name, "docs", len(docs))

	fresh, err := s.factory(s.name)
	if err != nil {
		return fmt.Errorf("%w: recreating %s: %v", domain.ErrStorageUnavailable, s.name, err)
	}
	if err := fresh.Load(ctx, docs); err != nil {
		fresh.Close()
		return fmt.Errorf("replicating into %s: %w", s.name, err)
	}
	if err := s.installDesign(ctx, fresh); err != nil {
		fresh.Close()
		return err
	}
	index, err := s.buildIndex(ctx, fresh)
	if err != nil {
		fresh.Close()
		return err
	}
	s.engine, s.index = fresh, index
	return nil
}

func (s *Store) discardScratch(scratch domain.Engine) {
	if err := scratch.Destroy(context.Background()); err != nil {
		s.logger.Error("Failed to discard scratch store", err, "store", s.scratchName())
	}
}
