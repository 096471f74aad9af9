package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"highlight-store/internal/domain"
)

func event(id, rev, verb, match string, date float64) domain.Document {
	return domain.Document{
		ID:  id,
		Rev: rev,
		Fields: map[string]any{
			"verb":  verb,
			"match": match,
			"date":  date,
		},
	}
}

func seeded(t *testing.T) *Index {
	t.Helper()
	x := NewIndex(Definitions())
	x.Rebuild([]domain.Document{
		event("c1", "1-a", "create", "https://a.com/", 100),
		event("c2", "1-b", "create", "https://a.com/", 200),
		event("d1", "1-c", "delete", "https://a.com/", 300),
		event("c3", "1-d", "create", "https://b.com/", 150),
		{ID: DesignID, Rev: "1-e", Fields: map[string]any{"match": "x", "date": 1.0}},
	})
	return x
}

func ids(rows []domain.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestIndex_MatchRange(t *testing.T) {
	x := seeded(t)

	start, end := MatchRange("https://a.com/", false)
	res, err := x.Query(MatchDate, domain.QueryOptions{StartKey: start, EndKey: end})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "d1"}, ids(res.Rows))
	assert.Equal(t, 4, res.TotalRows, "design docs are not indexed")
	assert.Equal(t, 0, res.Offset)

	start, end = MatchRange("https://a.com/", true)
	res, err = x.Query(MatchDate, domain.QueryOptions{StartKey: start, EndKey: end, Descending: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "c2", "c1"}, ids(res.Rows))

	start, end = MatchRange("https://b.com/", false)
	res, err = x.Query(MatchDate, domain.QueryOptions{StartKey: start, EndKey: end})
	require.NoError(t, err)
	assert.Equal(t, []string{"c3"}, ids(res.Rows))
	assert.Equal(t, 3, res.Offset)
}

func TestIndex_SkipLimitExclusiveEnd(t *testing.T) {
	x := seeded(t)

	res, err := x.Query(MatchDate, domain.QueryOptions{Skip: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "d1"}, ids(res.Rows))
	assert.Equal(t, 1, res.Offset)

	res, err = x.Query(MatchDate, domain.QueryOptions{
		StartKey:     []any{"https://a.com/"},
		EndKey:       []any{"https://a.com/", 300.0},
		ExclusiveEnd: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, ids(res.Rows))

	res, err = x.Query(MatchDate, domain.QueryOptions{Skip: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestIndex_Reduce(t *testing.T) {
	x := seeded(t)

	res, err := x.Query(Sum, domain.QueryOptions{Key: "https://a.com/"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, 1.0, res.Rows[0].Value)

	res, err = x.Query(Sum, domain.QueryOptions{Group: true})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "https://a.com/", res.Rows[0].Key)
	assert.Equal(t, 1.0, res.Rows[0].Value)
	assert.Equal(t, "https://b.com/", res.Rows[1].Key)
	assert.Equal(t, 1.0, res.Rows[1].Value)

	res, err = x.Query(Sum, domain.QueryOptions{Key: "https://nowhere/"})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)

	noReduce := false
	res, err = x.Query(Sum, domain.QueryOptions{Key: "https://a.com/", Reduce: &noReduce})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 3)
	assert.Equal(t, -1.0, res.Rows[2].Value)
}

func TestIndex_GroupLevel(t *testing.T) {
	design := domain.DesignDocument{Views: []domain.ViewSpec{{
		Name:      "count",
		KeyFields: []string{"match", "date"},
		Reduce:    domain.ReduceCount,
	}}}
	x := NewIndex(design)
	x.Rebuild([]domain.Document{
		event("c1", "1-a", "create", "a", 1),
		event("c2", "1-b", "create", "a", 2),
		event("c3", "1-c", "create", "b", 1),
	})

	res, err := x.Query("count", domain.QueryOptions{GroupLevel: 1})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []any{"a"}, res.Rows[0].Key)
	assert.Equal(t, 2.0, res.Rows[0].Value)
	assert.Equal(t, 1.0, res.Rows[1].Value)
}

func TestIndex_InvalidQueries(t *testing.T) {
	x := seeded(t)

	_, err := x.Query("nope", domain.QueryOptions{})
	assert.ErrorIs(t, err, domain.ErrUnknownView)

	yes := true
	_, err = x.Query(MatchDate, domain.QueryOptions{Reduce: &yes})
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)

	_, err = x.Query(MatchDate, domain.QueryOptions{Group: true})
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)

	_, err = x.Query(MatchDate, domain.QueryOptions{Limit: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestIndex_ApplyIgnoresStaleRevisions(t *testing.T) {
	x := NewIndex(Definitions())

	assert.True(t, x.Apply(event("c1", "2-b", "create", "new", 1)))
	assert.False(t, x.Apply(event("c1", "1-a", "create", "old", 1)), "older generation")

	res, err := x.Query(MatchDate, domain.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []any{"new", 1.0}, res.Rows[0].Key)

	assert.True(t, x.Apply(domain.Document{ID: "c1", Rev: "3-c", Deleted: true}))
	res, err = x.Query(MatchDate, domain.QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Rows, "tombstones drop their rows")
}

func TestIndex_SkipsDocsMissingKeys(t *testing.T) {
	x := NewIndex(Definitions())
	x.Apply(domain.Document{ID: "a", Rev: "1-a", Fields: map[string]any{"match": "m"}})

	res, err := x.Query(MatchDate, domain.QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)

	res, err = x.Query(Sum, domain.QueryOptions{Group: true})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, -1.0, res.Rows[0].Value, "missing verb falls back to the default")
}

func TestIndex_Prune(t *testing.T) {
	x := seeded(t)
	dropped := x.Prune(domain.DesignDocument{Views: []domain.ViewSpec{{Name: Sum}}})
	assert.Equal(t, []string{MatchDate}, dropped)
	assert.Equal(t, []string{Sum}, x.Views())
}
