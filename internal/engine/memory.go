package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"highlight-store/internal/domain"
)

// memoryData is the revision log of one named in-memory store. It outlives
// engine handles so a Close/reopen cycle keeps the data.
type memoryData struct {
	mu   sync.RWMutex
	docs map[string][]record
}

// MemoryEngine keeps everything in memory. Data is lost on restart.
// Safe for concurrent use.
type MemoryEngine struct {
	data   *memoryData
	mu     sync.RWMutex
	closed bool
	forget func()
}

// NewMemoryEngine returns a standalone, empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{data: &memoryData{docs: make(map[string][]record)}}
}

func (m *MemoryEngine) check() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("%w: memory engine is closed", domain.ErrStorageUnavailable)
	}
	return nil
}

func (m *MemoryEngine) Get(ctx context.Context, id string) (domain.Document, error) {
	if err := m.check(); err != nil {
		return domain.Document{}, err
	}
	m.data.mu.RLock()
	defer m.data.mu.RUnlock()
	history := m.data.docs[id]
	if len(history) == 0 || history[len(history)-1].deleted {
		return domain.Document{}, notFound(id)
	}
	return history[len(history)-1].document(id)
}

func (m *MemoryEngine) GetRevision(ctx context.Context, id, rev string) (domain.Document, error) {
	if err := m.check(); err != nil {
		return domain.Document{}, err
	}
	m.data.mu.RLock()
	defer m.data.mu.RUnlock()
	for _, r := range m.data.docs[id] {
		if r.rev == rev {
			return r.document(id)
		}
	}
	return domain.Document{}, fmt.Errorf("%w: %s@%s", domain.ErrNotFound, id, rev)
}

func (m *MemoryEngine) Put(ctx context.Context, doc domain.Document) (domain.WriteResult, error) {
	if err := m.check(); err != nil {
		return domain.WriteResult{}, err
	}
	m.data.mu.Lock()
	defer m.data.mu.Unlock()

	history := m.data.docs[doc.ID]
	var latest *record
	if len(history) > 0 {
		latest = &history[len(history)-1]
	}
	next, err := nextWrite(latest, doc)
	if err != nil {
		return domain.WriteResult{}, err
	}
	m.data.docs[doc.ID] = append(history, next)
	return next.result(doc.ID), nil
}

func (m *MemoryEngine) Load(ctx context.Context, docs []domain.Document) error {
	if err := m.check(); err != nil {
		return err
	}
	recs := make([]record, len(docs))
	for i, doc := range docs {
		r, err := replicated(doc)
		if err != nil {
			return err
		}
		recs[i] = r
	}

	m.data.mu.Lock()
	defer m.data.mu.Unlock()
	for i, r := range recs {
		id := docs[i].ID
		history := slices.DeleteFunc(m.data.docs[id], func(old record) bool { return old.gen == r.gen })
		history = append(history, r)
		slices.SortFunc(history, func(a, b record) int { return a.gen - b.gen })
		m.data.docs[id] = history
	}
	return nil
}

func (m *MemoryEngine) AllDocs(ctx context.Context) ([]domain.Document, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.data.mu.RLock()
	defer m.data.mu.RUnlock()

	ids := make([]string, 0, len(m.data.docs))
	for id, history := range m.data.docs {
		if len(history) > 0 && !history[len(history)-1].deleted {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	out := make([]domain.Document, 0, len(ids))
	for _, id := range ids {
		history := m.data.docs[id]
		doc, err := history[len(history)-1].document(id)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (m *MemoryEngine) Compact(ctx context.Context) error {
	if err := m.check(); err != nil {
		return err
	}
	m.data.mu.Lock()
	defer m.data.mu.Unlock()
	for id, history := range m.data.docs {
		if len(history) > 1 {
			m.data.docs[id] = []record{history[len(history)-1]}
		}
	}
	return nil
}

func (m *MemoryEngine) Destroy(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	forget := m.forget
	m.mu.Unlock()

	m.data.mu.Lock()
	m.data.docs = make(map[string][]record)
	m.data.mu.Unlock()

	if forget != nil {
		forget()
	}
	return nil
}

func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// memoryRegistry hands out engines sharing per-name data.
type memoryRegistry struct {
	mu     sync.Mutex
	stores map[string]*memoryData
}

func (r *memoryRegistry) open(name string) (domain.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.stores[name]
	if !ok {
		data = &memoryData{docs: make(map[string][]record)}
		r.stores[name] = data
	}
	return &MemoryEngine{
		data: data,
		forget: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.stores[name] == data {
				delete(r.stores, name)
			}
		},
	}, nil
}

var _ domain.Engine = (*MemoryEngine)(nil)
