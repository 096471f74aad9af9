package store

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"highlight-store/internal/domain"
	"highlight-store/internal/engine"
	"highlight-store/internal/view"
	"highlight-store/pkg/idgen"
	"highlight-store/pkg/logger"
)

// countingEngine counts design document writes.
type countingEngine struct {
	domain.Engine
	designWrites *atomic.Int32
}

func (c countingEngine) Put(ctx context.Context, doc domain.Document) (domain.WriteResult, error) {
	if doc.IsDesign() {
		c.designWrites.Add(1)
	}
	return c.Engine.Put(ctx, doc)
}

func memoryFactory(t *testing.T) domain.EngineFactory {
	t.Helper()
	factory, err := engine.NewFactory(engine.BackendMemory, engine.Options{})
	require.NoError(t, err)
	return factory
}

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithIDGenerator(idgen.Sequence("doc-")), WithStrictInvariants(true)}, opts...)
	s := New("test", memoryFactory(t), view.Definitions(), logger.NewNopLogger(), opts...)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func highlight(id, verb, match string, date int) domain.Document {
	return domain.Document{ID: id, Fields: map[string]any{
		"verb":  verb,
		"match": match,
		"date":  date,
	}}
}

func TestStore_UnopenedIsUnavailable(t *testing.T) {
	ctx := context.Background()
	s := New("test", memoryFactory(t), view.Definitions(), logger.NewNopLogger())

	_, err := s.Get(ctx, "a", "")
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	_, err = s.Put(ctx, highlight("a", "create", "m", 1), "", "")
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	_, err = s.Query(ctx, view.Sum, domain.QueryOptions{})
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.NoError(t, s.Close(), "closing a never-opened store is a no-op")
}

func TestStore_ConcurrentOpenInstallsOnce(t *testing.T) {
	var writes atomic.Int32
	base := memoryFactory(t)
	factory := func(name string) (domain.Engine, error) {
		e, err := base(name)
		if err != nil {
			return nil, err
		}
		return countingEngine{Engine: e, designWrites: &writes}, nil
	}
	s := New("test", factory, view.Definitions(), logger.NewNopLogger())

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Open(context.Background())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), writes.Load())

	// Reopening an installed store at the same version writes nothing.
	require.NoError(t, s.Close())
	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, int32(1), writes.Load())
}

func TestStore_ReinstallsOnVersionChange(t *testing.T) {
	ctx := context.Background()
	factory := memoryFactory(t)
	s := New("test", factory, view.Definitions(), logger.NewNopLogger())
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Close())

	next := view.Definitions()
	next.Version++
	s2 := New("test", factory, next, logger.NewNopLogger())
	require.NoError(t, s2.Open(ctx))
	defer s2.Close()

	doc, err := s2.Get(ctx, view.DesignID, "")
	require.NoError(t, err)
	assert.Equal(t, float64(next.Version), doc.Fields["version"])
	assert.Equal(t, 2, domain.Generation(doc.Rev))
}

func TestStore_PutGetRemove(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	assert.Equal(t, "test", s.Name())

	_, err := s.Put(ctx, highlight("", "create", "m", 1), "", "")
	assert.ErrorIs(t, err, domain.ErrMissingID)

	res, err := s.Put(ctx, highlight("", "create", "m", 1), "a", "")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "a", res.ID)

	got, err := s.Get(ctx, "a", "")
	require.NoError(t, err)
	assert.Equal(t, "m", got.Fields["match"])

	_, err = s.Remove(ctx, "a", "1-stale")
	assert.ErrorIs(t, err, domain.ErrConflict)

	updated := got
	updated.Fields["match"] = "n"
	second, err := s.Put(ctx, updated, "", "")
	require.NoError(t, err)

	old, err := s.Get(ctx, "a", res.Rev)
	require.NoError(t, err)
	assert.Equal(t, "m", old.Fields["match"])

	_, err = s.Remove(ctx, "a", second.Rev)
	require.NoError(t, err)
	_, err = s.Get(ctx, "a", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_PostAssignsID(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	res, err := s.Post(ctx, highlight("ignored", "delete", "m", 1))
	require.NoError(t, err)
	assert.Equal(t, "doc-1", res.ID)

	_, err = s.Get(ctx, "ignored", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_BulkWritePartialSuccess(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	first, err := s.Put(ctx, highlight("a", "create", "m", 1), "", "")
	require.NoError(t, err)

	results, err := s.BulkWrite(ctx, []domain.Document{
		{ID: "a", Rev: first.Rev, Deleted: true},
		highlight("", "create", "m", 2),
		{ID: "missing", Rev: "1-x", Deleted: true},
		highlight("a", "create", "m", 3),
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.True(t, results[0].OK)
	assert.True(t, results[1].OK)
	assert.Equal(t, "doc-1", results[1].ID)
	assert.False(t, results[2].OK)
	assert.ErrorIs(t, results[2].Err, domain.ErrNotFound)
	assert.True(t, results[3].OK, "recreating after the delete in the same batch")
	assert.Equal(t, 3, domain.Generation(results[3].Rev))
}

func TestStore_QueryFollowsWrites(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Put(ctx, highlight("c1", "create", "m", 1), "", "")
	require.NoError(t, err)
	c2, err := s.Put(ctx, highlight("c2", "create", "m", 2), "", "")
	require.NoError(t, err)
	_, err = s.Put(ctx, highlight("d1", "delete", "m", 3), "", "")
	require.NoError(t, err)

	sum, err := s.Query(ctx, view.Sum, domain.QueryOptions{Key: "m"})
	require.NoError(t, err)
	require.Len(t, sum.Rows, 1)
	assert.Equal(t, 1.0, sum.Rows[0].Value)

	_, err = s.Remove(ctx, "c2", c2.Rev)
	require.NoError(t, err)

	start, end := view.MatchRange("m", false)
	res, err := s.Query(ctx, view.MatchDate, domain.QueryOptions{StartKey: start, EndKey: end, IncludeDocs: true})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "c1", res.Rows[0].ID)
	require.NotNil(t, res.Rows[0].Doc)
	assert.Equal(t, "create", res.Rows[0].Doc.Fields["verb"])
	assert.Equal(t, []any{"m", 1.0}, res.Rows[0].Key)

	sum, err = s.Query(ctx, view.Sum, domain.QueryOptions{Key: "m"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, sum.Rows[0].Value)
}

func TestStore_CloseReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Put(ctx, highlight("a", "create", "m", 1), "", "")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	_, err = s.Get(ctx, "a", "")
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)

	require.NoError(t, s.Open(ctx))
	res, err := s.Query(ctx, view.Sum, domain.QueryOptions{Key: "m"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1, "index rebuilt from the engine")
}

func TestStore_DestroyStartsFresh(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Put(ctx, highlight("a", "create", "m", 1), "", "")
	require.NoError(t, err)

	require.NoError(t, s.Destroy(ctx))
	_, err = s.Get(ctx, "a", "")
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)

	require.NoError(t, s.Open(ctx))
	_, err = s.Get(ctx, "a", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Get(ctx, view.DesignID, "")
	assert.NoError(t, err, "definitions re-installed")
}

func TestStore_ExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for _, d := range []domain.Document{
		highlight("c1", "create", "a", 1),
		highlight("c2", "create", "a", 2),
		highlight("c3", "create", "b", 1),
		highlight("d1", "delete", "b", 2),
	} {
		_, err := s.Put(ctx, d, "", "")
		require.NoError(t, err)
	}
	before, err := s.Query(ctx, view.Sum, domain.QueryOptions{Group: true})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := s.ExportTo(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NotContains(t, buf.String(), view.DesignID)

	require.NoError(t, s.Destroy(ctx))
	require.NoError(t, s.Open(ctx))
	n, err = s.ImportFrom(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	after, err := s.Query(ctx, view.Sum, domain.QueryOptions{Group: true})
	require.NoError(t, err)
	assert.Equal(t, before.Rows, after.Rows)

	got, err := s.Get(ctx, "c1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, domain.Generation(got.Rev), "revisions survive the round trip")
}

func TestStore_ImportReplacesContent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Put(ctx, highlight("old", "create", "a", 1), "", "")
	require.NoError(t, err)

	payload := `{"version":1,"docs":[
		{"_id":"new","_rev":"3-abc","verb":"create","match":"z","date":5},
		{"_id":"_design/other","_rev":"1-abc","views":[]}
	]}`
	n, err := s.ImportFrom(ctx, strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "design documents are skipped")

	_, err = s.Get(ctx, "old", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	got, err := s.Get(ctx, "new", "")
	require.NoError(t, err)
	assert.Equal(t, "3-abc", got.Rev)

	_, err = s.Get(ctx, "_design/other", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Get(ctx, view.DesignID, "")
	assert.NoError(t, err)
}

func TestStore_ImportFailureLeavesStoreIntact(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Put(ctx, highlight("keep", "create", "a", 1), "", "")
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"not json", `{{{`, domain.ErrInvalidEvent},
		{"wrong version", `{"version":9,"docs":[]}`, domain.ErrInvalidEvent},
		{"missing revision", `{"version":1,"docs":[{"_id":"x","verb":"create"}]}`, domain.ErrInvalidEvent},
		{"malformed revision", `{"version":1,"docs":[{"_id":"x","_rev":"x-1","verb":"create"}]}`, domain.ErrInvalidEvent},
		{"missing id", `{"version":1,"docs":[{"_rev":"1-a","verb":"create"}]}`, domain.ErrMissingID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ImportFrom(ctx, strings.NewReader(tt.payload))
			require.ErrorIs(t, err, tt.want)

			got, err := s.Get(ctx, "keep", "")
			require.NoError(t, err)
			assert.Equal(t, "a", got.Fields["match"])
		})
	}
}

func TestStore_ExportFormat(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Put(ctx, highlight("a", "create", "m", 1), "", "")
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = s.ExportTo(ctx, &buf)
	require.NoError(t, err)

	var dump struct {
		Version int              `json:"version"`
		Docs    []map[string]any `json:"docs"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &dump))
	assert.Equal(t, ExportVersion, dump.Version)
	require.Len(t, dump.Docs, 1)
	assert.Equal(t, "a", dump.Docs[0]["_id"])
	assert.NotEmpty(t, dump.Docs[0]["_rev"])
}

func TestStore_CleanupIndexes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	design, err := s.Get(ctx, view.DesignID, "")
	require.NoError(t, err)
	design.Fields["views"] = []any{map[string]any{"name": view.Sum, "key": []any{"match"}}}
	_, err = s.Put(ctx, design, "", "")
	require.NoError(t, err)

	require.NoError(t, s.CleanupIndexes(ctx))
	assert.Equal(t, []string{view.Sum}, s.index.Views())

	_, err = s.Query(ctx, view.MatchDate, domain.QueryOptions{})
	assert.ErrorIs(t, err, domain.ErrUnknownView)
}

func TestStore_Compact(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	first, err := s.Put(ctx, highlight("a", "create", "m", 1), "", "")
	require.NoError(t, err)
	doc, err := s.Get(ctx, "a", "")
	require.NoError(t, err)
	_, err = s.Put(ctx, doc, "", "")
	require.NoError(t, err)

	require.NoError(t, s.Compact(ctx))
	_, err = s.Get(ctx, "a", first.Rev)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_AssertPanicsWhenStrict(t *testing.T) {
	s := New("test", nil, view.Definitions(), logger.NewNopLogger(), WithStrictInvariants(true))
	assert.Panics(t, func() { s.assert(false, "broken") })
	assert.NotPanics(t, func() { s.assert(true, "fine") })

	lax := New("test", nil, view.Definitions(), logger.NewNopLogger())
	assert.NotPanics(t, func() { lax.assert(false, "logged only") })
}
