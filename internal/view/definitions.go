// Package view holds the highlight index definitions and the in-memory
// index that evaluates them against the document log.
package view

import "highlight-store/internal/domain"

const (
	// DesignID is where the definitions are installed.
	DesignID = domain.DesignPrefix + "highlights"

	// Version must be bumped whenever Definitions changes, so open stores re-install.
	Version = 1

	// MatchDate emits [match, date] -> null for every event.
	MatchDate = "match_date_view"

	// Sum emits match -> +1 for CREATE and -1 for DELETE, reduced by sum.
	Sum = "sum_view"
)

// Definitions returns the highlight views as data.
func Definitions() domain.DesignDocument {
	return domain.DesignDocument{
		ID:      DesignID,
		Version: Version,
		Views: []domain.ViewSpec{
			{
				Name:      MatchDate,
				KeyFields: []string{"match", "date"},
			},
			{
				Name:      Sum,
				KeyFields: []string{"match"},
				Value: domain.ValueRule{
					Field:   "verb",
					Cases:   map[string]float64{string(domain.VerbCreate): 1},
					Default: -1,
				},
				Reduce: domain.ReduceSum,
			},
		},
	}
}

// MatchRange returns the [start, end] keys covering every match_date_view
// row of match, swapped for descending scans.
func MatchRange(match string, descending bool) (any, any) {
	lo := []any{match}
	hi := []any{match, map[string]any{}}
	if descending {
		return hi, lo
	}
	return lo, hi
}
