package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"highlight-store/internal/domain"
)

// RevisionsTable is the PostgREST table holding revisions of every store.
//
//	create table highlight_revisions (
//	    store   text    not null,
//	    id      text    not null,
//	    seq     integer not null,
//	    rev     text    not null,
//	    deleted boolean not null default false,
//	    body    jsonb   not null,
//	    primary key (store, id, seq)
//	);
const RevisionsTable = "highlight_revisions"

// scanPageSize is the number of rows asked for per page of a full scan.
// PostgREST may cap pages lower (max-rows), so a scan only ends on an empty page.
const scanPageSize = 1000

type revisionRow struct {
	Store   string          `json:"store"`
	ID      string          `json:"id"`
	Seq     int             `json:"seq"`
	Rev     string          `json:"rev"`
	Deleted bool            `json:"deleted"`
	Body    json.RawMessage `json:"body"`
}

func (r revisionRow) record() record {
	return record{gen: r.Seq, rev: r.Rev, deleted: r.Deleted, body: r.Body}
}

// SupabaseEngine keeps one named store in a shared Supabase table.
// PostgREST has no transactions; the (store, id, seq) key turns racing
// writers into conflicts.
type SupabaseEngine struct {
	mu     sync.Mutex
	client *supabase.Client
	store  string
	closed bool
}

// NewSupabaseEngine returns an engine for the named store.
func NewSupabaseEngine(client *supabase.Client, store string) (*SupabaseEngine, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: supabase client not initialized", domain.ErrStorageUnavailable)
	}
	return &SupabaseEngine{client: client, store: store}, nil
}

func (s *SupabaseEngine) check(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: supabase engine is closed", domain.ErrStorageUnavailable)
	}
	return ctx.Err()
}

func (s *SupabaseEngine) selectRows(build func(*postgrest.FilterBuilder) *postgrest.FilterBuilder) ([]revisionRow, error) {
	q := s.client.From(RevisionsTable).
		Select("*", "", false).
		Eq("store", s.store)
	data, _, err := build(q).Execute()
	if err != nil {
		return nil, fmt.Errorf("%w: querying revisions: %v", domain.ErrStorageUnavailable, err)
	}
	var rows []revisionRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return rows, nil
}

func (s *SupabaseEngine) latest(id string) (*record, error) {
	rows, err := s.selectRows(func(q *postgrest.FilterBuilder) *postgrest.FilterBuilder {
		return q.Eq("id", id).
			Order("seq", &postgrest.OrderOpts{Ascending: false}).
			Limit(1, "")
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0].record()
	return &r, nil
}

func (s *SupabaseEngine) Get(ctx context.Context, id string) (domain.Document, error) {
	if err := s.check(ctx); err != nil {
		return domain.Document{}, err
	}
	r, err := s.latest(id)
	if err != nil {
		return domain.Document{}, err
	}
	if r == nil || r.deleted {
		return domain.Document{}, notFound(id)
	}
	return r.document(id)
}

func (s *SupabaseEngine) GetRevision(ctx context.Context, id, rev string) (domain.Document, error) {
	if err := s.check(ctx); err != nil {
		return domain.Document{}, err
	}
	rows, err := s.selectRows(func(q *postgrest.FilterBuilder) *postgrest.FilterBuilder {
		return q.Eq("id", id).Eq("rev", rev).Limit(1, "")
	})
	if err != nil {
		return domain.Document{}, err
	}
	if len(rows) == 0 {
		return domain.Document{}, fmt.Errorf("%w: %s@%s", domain.ErrNotFound, id, rev)
	}
	return rows[0].record().document(id)
}

func (s *SupabaseEngine) Put(ctx context.Context, doc domain.Document) (domain.WriteResult, error) {
	if err := s.check(ctx); err != nil {
		return domain.WriteResult{}, err
	}
	latest, err := s.latest(doc.ID)
	if err != nil {
		return domain.WriteResult{}, err
	}
	next, err := nextWrite(latest, doc)
	if err != nil {
		return domain.WriteResult{}, err
	}
	row := revisionRow{
		Store:   s.store,
		ID:      doc.ID,
		Seq:     next.gen,
		Rev:     next.rev,
		Deleted: next.deleted,
		Body:    next.body,
	}
	if _, _, err := s.client.From(RevisionsTable).Insert(row, false, "", "minimal", "").Execute(); err != nil {
		if isUniqueViolation(err) {
			return domain.WriteResult{}, fmt.Errorf("%w: %s was written concurrently", domain.ErrConflict, doc.ID)
		}
		return domain.WriteResult{}, fmt.Errorf("%w: writing %s: %v", domain.ErrStorageUnavailable, doc.ID, err)
	}
	return next.result(doc.ID), nil
}

func (s *SupabaseEngine) Load(ctx context.Context, docs []domain.Document) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	rows := make([]revisionRow, 0, len(docs))
	for _, doc := range docs {
		r, err := replicated(doc)
		if err != nil {
			return err
		}
		rows = append(rows, revisionRow{
			Store:   s.store,
			ID:      doc.ID,
			Seq:     r.gen,
			Rev:     r.rev,
			Deleted: r.deleted,
			Body:    r.body,
		})
	}
	// Upsert on the primary key so replaying an export is idempotent.
	if _, _, err := s.client.From(RevisionsTable).Insert(rows, true, "store,id,seq", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("%w: loading documents: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// scanRows reads every revision row of the store, one page at a time,
// ordered by the (id, seq) key so offsets stay stable between pages.
func (s *SupabaseEngine) scanRows(ctx context.Context) ([]revisionRow, error) {
	var all []revisionRow
	for from := 0; ; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := s.selectRows(func(q *postgrest.FilterBuilder) *postgrest.FilterBuilder {
			return q.Order("id", &postgrest.OrderOpts{Ascending: true}).
				Order("seq", &postgrest.OrderOpts{Ascending: true}).
				Range(from, from+scanPageSize-1, "")
		})
		if err != nil {
			if isRangeEnd(err) {
				return all, nil
			}
			return nil, err
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
		from += len(page)
	}
}

// heads returns the newest row of every id, sorted by id.
func (s *SupabaseEngine) heads(ctx context.Context) ([]revisionRow, error) {
	rows, err := s.scanRows(ctx)
	if err != nil {
		return nil, err
	}
	// Newest revision first within each id.
	slices.SortStableFunc(rows, func(a, b revisionRow) int {
		if c := strings.Compare(a.ID, b.ID); c != 0 {
			return c
		}
		return b.Seq - a.Seq
	})
	heads := rows[:0]
	for i, r := range rows {
		if i == 0 || rows[i-1].ID != r.ID {
			heads = append(heads, r)
		}
	}
	return heads, nil
}

func (s *SupabaseEngine) AllDocs(ctx context.Context) ([]domain.Document, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	heads, err := s.heads(ctx)
	if err != nil {
		return nil, err
	}
	var docs []domain.Document
	for _, r := range heads {
		if r.Deleted {
			continue
		}
		doc, err := r.record().document(r.ID)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *SupabaseEngine) Compact(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	heads, err := s.heads(ctx)
	if err != nil {
		return err
	}
	for _, r := range heads {
		if r.Seq <= 1 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		_, _, err := s.client.From(RevisionsTable).
			Delete("minimal", "").
			Eq("store", s.store).
			Eq("id", r.ID).
			Lt("seq", strconv.Itoa(r.Seq)).
			Execute()
		if err != nil {
			return fmt.Errorf("%w: compacting %s: %v", domain.ErrStorageUnavailable, r.ID, err)
		}
	}
	return nil
}

func (s *SupabaseEngine) Destroy(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	_, _, err := s.client.From(RevisionsTable).
		Delete("minimal", "").
		Eq("store", s.store).
		Execute()
	if err != nil {
		return fmt.Errorf("%w: destroying %s: %v", domain.ErrStorageUnavailable, s.store, err)
	}
	return nil
}

func (s *SupabaseEngine) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// isUniqueViolation reports whether PostgREST rejected a write on a key
// constraint (Postgres error 23505).
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}

// isRangeEnd reports whether PostgREST refused an offset past the last row
// (PGRST103), which ends a scan like an empty page does.
func isRangeEnd(err error) bool {
	return strings.Contains(err.Error(), "PGRST103")
}

var _ domain.Engine = (*SupabaseEngine)(nil)
