// Package store is the document store facade: one engine, the installed
// view definitions, and the index evaluating them.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"highlight-store/internal/domain"
	"highlight-store/internal/view"
	"highlight-store/pkg/idgen"
)

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets how Post and BulkWrite assign ids to new documents.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// WithStrictInvariants makes internal invariant violations panic instead of log.
func WithStrictInvariants(strict bool) Option {
	return func(s *Store) {
		s.strict = strict
	}
}

// Store implements domain.DocumentStore. It is constructed once and shared;
// every operation except Open and Destroy fails with ErrStorageUnavailable
// until Open succeeds.
type Store struct {
	name    string
	factory domain.EngineFactory
	design  domain.DesignDocument
	logger  domain.Logger
	newID   idgen.Generator
	strict  bool

	// mu guards the engine handle. Lifecycle steps take it exclusively.
	mu     sync.RWMutex
	engine domain.Engine
	index  *view.Index
}

// New creates a Store for the named engine. Nothing is opened yet.
func New(name string, factory domain.EngineFactory, design domain.DesignDocument, logger domain.Logger, opts ...Option) *Store {
	s := &Store{
		name:    name,
		factory: factory,
		design:  design,
		logger:  logger,
		newID:   idgen.Compact(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the logical store name.
func (s *Store) Name() string {
	return s.name
}

// assert reports a violated internal invariant. It never fires on bad input.
func (s *Store) assert(ok bool, msg string, fields ...interface{}) {
	if ok {
		return
	}
	if s.strict {
		panic(fmt.Sprintf("store %s: invariant violated: %s %v", s.name, msg, fields))
	}
	s.logger.Error("Invariant violated", errors.New(msg), append([]interface{}{"store", s.name}, fields...)...)
}

// Open connects the engine, installs or re-installs the view definitions
// and builds the index. Concurrent and repeated calls are safe; only the
// first one does any work.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		return nil
	}
	engine, index, err := s.connect(ctx)
	if err != nil {
		return err
	}
	s.assert(s.engine == nil, "engine already set during open")
	s.engine, s.index = engine, index
	s.logger.Info("Store opened", "store", s.name, "views", index.Views())
	return nil
}

// connect opens a fresh engine handle ready for use. Callers hold mu.
func (s *Store) connect(ctx context.Context) (domain.Engine, *view.Index, error) {
	engine, err := s.factory(s.name)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: opening %s: %v", domain.ErrStorageUnavailable, s.name, err)
	}
	if err := s.installDesign(ctx, engine); err != nil {
		engine.Close()
		return nil, nil, err
	}
	index, err := s.buildIndex(ctx, engine)
	if err != nil {
		engine.Close()
		return nil, nil, err
	}
	return engine, index, nil
}

// installDesign writes the design document when it is absent or carries
// another version.
func (s *Store) installDesign(ctx context.Context, engine domain.Engine) error {
	current, err := engine.Get(ctx, s.design.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		current = domain.Document{}
	case err != nil:
		return fmt.Errorf("reading design document: %w", err)
	default:
		if v, ok := current.Fields["version"].(float64); ok && int(v) == s.design.Version {
			return nil
		}
	}

	doc, err := domain.NewDocument(s.design)
	if err != nil {
		return err
	}
	doc.Rev = current.Rev
	if _, err := engine.Put(ctx, doc); err != nil {
		return fmt.Errorf("installing design document: %w", err)
	}
	if current.Rev == "" {
		s.logger.Info("Installed view definitions", "store", s.name, "design", s.design.ID, "version", s.design.Version)
	} else {
		s.logger.Info("Re-installed view definitions", "store", s.name, "design", s.design.ID, "version", s.design.Version)
	}
	return nil
}

func (s *Store) buildIndex(ctx context.Context, engine domain.Engine) (*view.Index, error) {
	docs, err := engine.AllDocs(ctx)
	if err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}
	index := view.NewIndex(s.design)
	index.Rebuild(docs)
	return index, nil
}

// Close releases the engine. Closing a store that was never opened is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return nil
	}
	err := s.engine.Close()
	s.engine, s.index = nil, nil
	s.logger.Info("Store closed", "store", s.name)
	return err
}

// Destroy deletes all data. The next Open starts from an empty store.
func (s *Store) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	engine := s.engine
	if engine == nil {
		var err error
		if engine, err = s.factory(s.name); err != nil {
			return fmt.Errorf("%w: opening %s: %v", domain.ErrStorageUnavailable, s.name, err)
		}
	}
	s.engine, s.index = nil, nil
	if err := engine.Destroy(ctx); err != nil {
		return err
	}
	s.logger.Warn("Store destroyed", "store", s.name)
	return nil
}

// handle returns the open engine and index. Callers hold mu for reading.
func (s *Store) handle() (domain.Engine, *view.Index, error) {
	if s.engine == nil {
		return nil, nil, fmt.Errorf("%w: store %s is not open", domain.ErrStorageUnavailable, s.name)
	}
	return s.engine, s.index, nil
}

// write puts one document and feeds the stored revision to the index.
func (s *Store) write(ctx context.Context, engine domain.Engine, index *view.Index, doc domain.Document) (domain.WriteResult, error) {
	if doc.ID == "" {
		return domain.WriteResult{}, domain.ErrMissingID
	}
	// Round-trip through JSON so the index sees what a reload would see.
	stored, err := domain.NewDocument(doc)
	if err != nil {
		return domain.WriteResult{}, err
	}
	res, err := engine.Put(ctx, stored)
	if err != nil {
		return domain.WriteResult{}, err
	}
	s.assert(domain.Generation(res.Rev) > 0, "engine returned a malformed revision", "id", res.ID, "rev", res.Rev)

	stored.Rev = res.Rev
	if stored.Deleted {
		stored.Fields = nil
	}
	index.Apply(stored)
	return res, nil
}

// Put creates or updates doc. Non-empty id and rev override the document's own.
func (s *Store) Put(ctx context.Context, doc domain.Document, id, rev string) (domain.WriteResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	engine, index, err := s.handle()
	if err != nil {
		return domain.WriteResult{}, err
	}
	if id != "" {
		doc.ID = id
	}
	if rev != "" {
		doc.Rev = rev
	}
	return s.write(ctx, engine, index, doc)
}

// Post creates doc under a store-assigned id.
func (s *Store) Post(ctx context.Context, doc domain.Document) (domain.WriteResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	engine, index, err := s.handle()
	if err != nil {
		return domain.WriteResult{}, err
	}
	doc.ID = s.newID()
	doc.Rev = ""
	return s.write(ctx, engine, index, doc)
}

// BulkWrite writes every document independently. A document flagged Deleted
// is removed; one without an id is created under a new id. Failures are
// reported per document and never abort the batch.
func (s *Store) BulkWrite(ctx context.Context, docs []domain.Document) ([]domain.WriteResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	engine, index, err := s.handle()
	if err != nil {
		return nil, err
	}
	results := make([]domain.WriteResult, len(docs))
	for i, doc := range docs {
		if doc.ID == "" && !doc.Deleted {
			doc.ID = s.newID()
		}
		res, err := s.write(ctx, engine, index, doc)
		if err != nil {
			results[i] = domain.Failed(doc.ID, err)
			continue
		}
		results[i] = res
	}
	return results, nil
}

// Remove deletes the document at revision rev.
func (s *Store) Remove(ctx context.Context, id, rev string) (domain.WriteResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	engine, index, err := s.handle()
	if err != nil {
		return domain.WriteResult{}, err
	}
	return s.write(ctx, engine, index, domain.Document{ID: id, Rev: rev, Deleted: true})
}

// Get returns the latest revision of id, or the given revision when rev is set.
func (s *Store) Get(ctx context.Context, id, rev string) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	engine, _, err := s.handle()
	if err != nil {
		return domain.Document{}, err
	}
	if rev == "" {
		return engine.Get(ctx, id)
	}
	return engine.GetRevision(ctx, id, rev)
}

// Query runs a view query, attaching documents when asked to.
func (s *Store) Query(ctx context.Context, name string, opts domain.QueryOptions) (domain.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	engine, index, err := s.handle()
	if err != nil {
		return domain.QueryResult{}, err
	}
	res, err := index.Query(name, opts)
	if err != nil {
		return domain.QueryResult{}, err
	}
	if !opts.IncludeDocs {
		return res, nil
	}
	for i := range res.Rows {
		row := &res.Rows[i]
		if row.ID == "" {
			continue
		}
		doc, err := engine.Get(ctx, row.ID)
		if errors.Is(err, domain.ErrNotFound) {
			// Deleted between the index read and the fetch.
			continue
		}
		if err != nil {
			return domain.QueryResult{}, err
		}
		row.Doc = &doc
	}
	return res, nil
}

// Compact drops superseded revisions in the engine.
func (s *Store) Compact(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	engine, _, err := s.handle()
	if err != nil {
		return err
	}
	if err := engine.Compact(ctx); err != nil {
		return err
	}
	s.logger.Info("Store compacted", "store", s.name)
	return nil
}

// CleanupIndexes drops index state for views the installed design document
// no longer defines.
func (s *Store) CleanupIndexes(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	engine, index, err := s.handle()
	if err != nil {
		return err
	}
	installed, err := engine.Get(ctx, s.design.ID)
	if err != nil {
		return fmt.Errorf("reading design document: %w", err)
	}
	var design domain.DesignDocument
	if err := decodeDesign(installed, &design); err != nil {
		return err
	}
	if dropped := index.Prune(design); len(dropped) > 0 {
		s.logger.Info("Dropped stale views", "store", s.name, "views", dropped)
	}
	return nil
}
