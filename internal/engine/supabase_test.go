package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/supabase-community/supabase-go"

	"highlight-store/internal/domain"
)

// fakePostgrest serves the subset of the PostgREST API the Supabase engine
// uses, over an in-memory highlight_revisions table. Responses are capped at
// maxRows like a Supabase project's max-rows setting.
type fakePostgrest struct {
	mu      sync.Mutex
	rows    []revisionRow
	maxRows int
	gets    int
}

func (f *fakePostgrest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/rest/v1/"+RevisionsTable {
		writePostgrestError(w, http.StatusNotFound, "42P01", "relation does not exist")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	q := r.URL.Query()
	switch r.Method {
	case http.MethodGet:
		f.gets++
		f.serveSelect(w, q)
	case http.MethodPost:
		f.serveInsert(w, r)
	case http.MethodDelete:
		f.rows = slices.DeleteFunc(f.rows, func(row revisionRow) bool { return matches(row, q) })
		w.WriteHeader(http.StatusNoContent)
	default:
		writePostgrestError(w, http.StatusMethodNotAllowed, "PGRST000", "method not allowed")
	}
}

func (f *fakePostgrest) serveSelect(w http.ResponseWriter, q map[string][]string) {
	var out []revisionRow
	for _, row := range f.rows {
		if matches(row, q) {
			out = append(out, row)
		}
	}
	if order := first(q, "order"); order != "" {
		slices.SortStableFunc(out, func(a, b revisionRow) int {
			for _, term := range strings.Split(order, ",") {
				parts := strings.Split(term, ".")
				c := compareColumn(a, b, parts[0])
				if len(parts) > 1 && parts[1] == "desc" {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
	}

	offset, _ := strconv.Atoi(first(q, "offset"))
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	limit := f.maxRows
	if l, err := strconv.Atoi(first(q, "limit")); err == nil && l < limit {
		limit = l
	}
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []revisionRow{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (f *fakePostgrest) serveInsert(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var incoming []revisionRow
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &incoming); err != nil {
			writePostgrestError(w, http.StatusBadRequest, "PGRST102", err.Error())
			return
		}
	} else {
		var row revisionRow
		if err := json.Unmarshal(trimmed, &row); err != nil {
			writePostgrestError(w, http.StatusBadRequest, "PGRST102", err.Error())
			return
		}
		incoming = []revisionRow{row}
	}

	upsert := strings.Contains(r.Header.Get("Prefer"), "resolution=merge-duplicates")
	next := slices.Clone(f.rows)
	for _, row := range incoming {
		i := slices.IndexFunc(next, func(existing revisionRow) bool {
			return existing.Store == row.Store && existing.ID == row.ID && existing.Seq == row.Seq
		})
		switch {
		case i < 0:
			next = append(next, row)
		case upsert:
			next[i] = row
		default:
			writePostgrestError(w, http.StatusConflict, "23505", "duplicate key value violates unique constraint")
			return
		}
	}
	f.rows = next
	w.WriteHeader(http.StatusCreated)
}

func (f *fakePostgrest) count(store string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, row := range f.rows {
		if row.Store == store {
			n++
		}
	}
	return n
}

func (f *fakePostgrest) selects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func first(q map[string][]string, key string) string {
	if v := q[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func column(row revisionRow, name string) string {
	switch name {
	case "store":
		return row.Store
	case "id":
		return row.ID
	case "seq":
		return strconv.Itoa(row.Seq)
	case "rev":
		return row.Rev
	}
	return ""
}

func compareColumn(a, b revisionRow, name string) int {
	if name == "seq" {
		return a.Seq - b.Seq
	}
	return strings.Compare(column(a, name), column(b, name))
}

// matches applies the eq./lt. filters of a request to row.
func matches(row revisionRow, q map[string][]string) bool {
	for key, values := range q {
		switch key {
		case "select", "order", "limit", "offset", "on_conflict":
			continue
		}
		for _, v := range values {
			op, arg, _ := strings.Cut(v, ".")
			switch op {
			case "eq":
				if column(row, key) != arg {
					return false
				}
			case "lt":
				n, _ := strconv.Atoi(arg)
				if key != "seq" || row.Seq >= n {
					return false
				}
			}
		}
	}
	return true
}

func writePostgrestError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"code": code, "message": msg})
}

func newFakeSupabase(t *testing.T, maxRows int) (*fakePostgrest, *supabase.Client) {
	t.Helper()
	fake := &fakePostgrest{maxRows: maxRows}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := supabase.NewClient(srv.URL, "test-key", &supabase.ClientOptions{})
	require.NoError(t, err)
	return fake, client
}

func TestSupabaseEngine(t *testing.T) {
	runEngineTests(t, func(t *testing.T) domain.Engine {
		_, client := newFakeSupabase(t, 1000)
		e, err := NewSupabaseEngine(client, "highlights")
		require.NoError(t, err)
		return e
	})
}

func TestSupabaseEngine_ScansPastRowCap(t *testing.T) {
	ctx := context.Background()
	fake, client := newFakeSupabase(t, 3)
	e, err := NewSupabaseEngine(client, "highlights")
	require.NoError(t, err)

	const docs = 7
	for i := range docs {
		id := fmt.Sprintf("doc-%02d", i)
		res, err := e.Put(ctx, doc(id, map[string]any{"v": 1}))
		require.NoError(t, err)
		update := doc(id, map[string]any{"v": 2})
		update.Rev = res.Rev
		_, err = e.Put(ctx, update)
		require.NoError(t, err)
	}
	require.Equal(t, 2*docs, fake.count("highlights"))

	before := fake.selects()
	all, err := e.AllDocs(ctx)
	require.NoError(t, err)
	require.Len(t, all, docs)
	for i, d := range all {
		assert.Equal(t, fmt.Sprintf("doc-%02d", i), d.ID)
		assert.Equal(t, float64(2), d.Fields["v"], "latest revision of %s", d.ID)
	}
	assert.Greater(t, fake.selects()-before, 1, "rows are read in several pages")

	require.NoError(t, e.Compact(ctx))
	assert.Equal(t, docs, fake.count("highlights"), "compaction reaches every id")
}

func TestSupabaseEngine_StoresArePartitioned(t *testing.T) {
	ctx := context.Background()
	fake, client := newFakeSupabase(t, 1000)
	factory, err := NewFactory(BackendSupabase, Options{Supabase: client})
	require.NoError(t, err)

	live, err := factory("highlights")
	require.NoError(t, err)
	scratch, err := factory("highlights-import-scratch")
	require.NoError(t, err)

	_, err = live.Put(ctx, doc("a", map[string]any{"v": 1}))
	require.NoError(t, err)
	_, err = scratch.Put(ctx, doc("b", map[string]any{"v": 1}))
	require.NoError(t, err)

	_, err = live.Get(ctx, "b")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, scratch.Destroy(ctx))
	assert.Equal(t, 0, fake.count("highlights-import-scratch"))
	assert.Equal(t, 1, fake.count("highlights"))
}
