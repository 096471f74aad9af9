package service

import (
	"context"

	"golang.org/x/sync/errgroup"

	"highlight-store/internal/domain"
)

// DefaultSweepConcurrency bounds the parallel per-match cleanups.
const DefaultSweepConcurrency = 4

type GarbageCollector struct {
	highlights  domain.HighlightService
	logger      domain.Logger
	concurrency int
}

func NewGarbageCollector(highlights domain.HighlightService, logger domain.Logger, concurrency int) *GarbageCollector {
	if concurrency <= 0 {
		concurrency = DefaultSweepConcurrency
	}
	return &GarbageCollector{
		highlights:  highlights,
		logger:      logger,
		concurrency: concurrency,
	}
}

// SweepSuperfluous removes every document of each match whose net count is
// zero. Matches are cleaned up independently: a failing match is reported
// in its result and does not stop the others. A CREATE written for a match
// while it is being swept may be removed with it.
func (g *GarbageCollector) SweepSuperfluous(ctx context.Context) ([]domain.SweepResult, error) {
	sums, err := g.highlights.AllMatchSums(ctx)
	if err != nil {
		return nil, err
	}

	var zero []string
	for _, sum := range sums {
		switch {
		case sum.Count == 0:
			zero = append(zero, sum.Match)
		case sum.Count < 0:
			g.logger.Warn("Match has more deletes than creates", "match", sum.Match, "count", sum.Count)
		}
	}

	results := make([]domain.SweepResult, len(zero))
	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for i, match := range zero {
		eg.Go(func() error {
			res, err := g.highlights.RemoveAllForMatch(ctx, match)
			results[i] = domain.SweepResult{Match: match, Results: res}
			if err != nil {
				g.logger.Error("Failed to sweep match", err, "match", match)
				results[i].Err = err
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = eg.Wait()

	g.logger.Info("Swept superfluous matches", "matches", len(zero))
	return results, nil
}

var _ domain.GarbageCollector = (*GarbageCollector)(nil)
