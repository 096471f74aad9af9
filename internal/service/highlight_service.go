package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"highlight-store/internal/domain"
	"highlight-store/internal/view"
	"highlight-store/pkg/idgen"
)

// Option configures a HighlightService.
type Option func(*HighlightService)

// WithClock replaces time.Now for event dates.
func WithClock(now func() time.Time) Option {
	return func(s *HighlightService) {
		s.now = now
	}
}

// WithIDGenerator sets how CREATE event ids are minted.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *HighlightService) {
		s.newID = gen
	}
}

type HighlightService struct {
	store   domain.DocumentStore
	logger  domain.Logger
	version int
	now     func() time.Time
	newID   idgen.Generator
}

// NewHighlightService builds the event API. version is stamped on every
// CREATE event.
func NewHighlightService(store domain.DocumentStore, logger domain.Logger, version int, opts ...Option) *HighlightService {
	s := &HighlightService{
		store:   store,
		logger:  logger,
		version: version,
		now:     time.Now,
		newID:   idgen.Prefixed("hl-", idgen.UUIDv7()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HighlightService) CreateHighlight(ctx context.Context, match string, rng json.RawMessage, className, text string, opts domain.CreateOptions) (domain.WriteResult, error) {
	if match == "" {
		return domain.WriteResult{}, &domain.ValidationError{Field: "match", Message: "is required"}
	}
	if len(rng) == 0 || !json.Valid(rng) {
		return domain.WriteResult{}, &domain.ValidationError{Field: "range", Message: "must be a JSON value"}
	}
	date := opts.Date
	if date.IsZero() {
		date = s.now()
	}

	event := &domain.CreateEvent{
		Envelope: domain.Envelope{
			ID:    s.newID(),
			Verb:  domain.VerbCreate,
			Match: match,
			Date:  date.UnixMilli(),
		},
		Version:   s.version,
		Range:     rng,
		ClassName: className,
		Text:      text,
		Title:     opts.Title,
	}
	doc, err := event.Document()
	if err != nil {
		return domain.WriteResult{}, err
	}
	res, err := s.store.Put(ctx, doc, "", "")
	if err != nil {
		return domain.WriteResult{}, err
	}
	s.logger.Info("Highlight created", "id", res.ID, "match", match)
	return res, nil
}

// createEvent fetches id and requires it to be a CREATE event.
func (s *HighlightService) createEvent(ctx context.Context, id, rev string) (domain.Document, *domain.CreateEvent, error) {
	doc, err := s.store.Get(ctx, id, rev)
	if err != nil {
		return domain.Document{}, nil, err
	}
	event, err := domain.EventFromDocument(doc)
	if err != nil {
		return domain.Document{}, nil, err
	}
	create, ok := event.(*domain.CreateEvent)
	if !ok {
		return domain.Document{}, nil, fmt.Errorf("%s is a %s event: %w", id, event.Header().Verb, domain.ErrWrongVerb)
	}
	return doc, create, nil
}

// UpdateHighlight changes the className and title of a CREATE event. When
// nothing changes it succeeds without writing a revision.
func (s *HighlightService) UpdateHighlight(ctx context.Context, id string, changes domain.HighlightChanges, rev string) (domain.WriteResult, error) {
	doc, create, err := s.createEvent(ctx, id, rev)
	if err != nil {
		return domain.WriteResult{}, err
	}

	changed := false
	if changes.ClassName != nil && *changes.ClassName != create.ClassName {
		doc.Fields["className"] = *changes.ClassName
		changed = true
	}
	if changes.Title != nil && (create.Title == nil || *changes.Title != *create.Title) {
		doc.Fields["title"] = *changes.Title
		changed = true
	}
	if !changed {
		return domain.WriteResult{OK: true, ID: doc.ID, Rev: doc.Rev}, nil
	}

	res, err := s.store.Put(ctx, doc, "", "")
	if err != nil {
		return domain.WriteResult{}, err
	}
	s.logger.Info("Highlight updated", "id", id, "rev", res.Rev)
	return res, nil
}

// DeleteHighlight records a DELETE event cancelling createID. A zero date
// means now. The CREATE document itself is left in place.
func (s *HighlightService) DeleteHighlight(ctx context.Context, createID string, date int64) (domain.WriteResult, error) {
	_, create, err := s.createEvent(ctx, createID, "")
	if err != nil {
		return domain.WriteResult{}, err
	}

	deletes, err := s.ListByMatch(ctx, create.Match, domain.ListOptions{Verbs: []domain.Verb{domain.VerbDelete}})
	if err != nil {
		return domain.WriteResult{}, err
	}
	for _, e := range deletes {
		if d, ok := e.(*domain.DeleteEvent); ok && d.CorrespondingDocumentID == createID {
			return domain.WriteResult{}, fmt.Errorf("%w: %s is already deleted by %s", domain.ErrConflict, createID, d.ID)
		}
	}

	if date == 0 {
		date = s.now().UnixMilli()
	}
	event := &domain.DeleteEvent{
		Envelope: domain.Envelope{
			ID:    domain.DeleteEventID(createID),
			Verb:  domain.VerbDelete,
			Match: create.Match,
			Date:  date,
		},
		CorrespondingDocumentID: createID,
	}
	doc, err := event.Document()
	if err != nil {
		return domain.WriteResult{}, err
	}
	// Create-only write: a racing delete of the same highlight gets ErrConflict.
	res, err := s.store.Put(ctx, doc, "", "")
	if errors.Is(err, domain.ErrConflict) {
		return domain.WriteResult{}, fmt.Errorf("%w: %s is already deleted", domain.ErrConflict, createID)
	}
	if err != nil {
		return domain.WriteResult{}, err
	}
	s.logger.Info("Highlight deleted", "id", createID, "delete_id", res.ID, "match", create.Match)
	return res, nil
}

func (s *HighlightService) GetEvent(ctx context.Context, id, rev string) (domain.Event, error) {
	doc, err := s.store.Get(ctx, id, rev)
	if err != nil {
		return nil, err
	}
	return domain.EventFromDocument(doc)
}

// matchDocs returns every document indexed under match, ordered by date.
func (s *HighlightService) matchDocs(ctx context.Context, match string, descending bool, limit int) ([]domain.Document, error) {
	start, end := view.MatchRange(match, descending)
	res, err := s.store.Query(ctx, view.MatchDate, domain.QueryOptions{
		StartKey:    start,
		EndKey:      end,
		Descending:  descending,
		Limit:       limit,
		IncludeDocs: true,
	})
	if err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(res.Rows))
	for _, row := range res.Rows {
		if row.Doc != nil {
			docs = append(docs, *row.Doc)
		}
	}
	return docs, nil
}

// ListByMatch returns the events of match ordered by date. The limit caps
// the index scan; verb and exclusion filters apply to what it returned.
func (s *HighlightService) ListByMatch(ctx context.Context, match string, opts domain.ListOptions) ([]domain.Event, error) {
	docs, err := s.matchDocs(ctx, match, opts.Descending, opts.Limit)
	if err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(docs))
	for _, doc := range docs {
		event, err := domain.EventFromDocument(doc)
		if err != nil {
			s.logger.Warn("Skipping undecodable document", "id", doc.ID, "match", match, "error", err)
			continue
		}
		events = append(events, event)
	}

	if opts.ExcludeDeletedDocs {
		cancelled := make(map[string]struct{})
		for _, e := range events {
			if d, ok := e.(*domain.DeleteEvent); ok {
				cancelled[d.CorrespondingDocumentID] = struct{}{}
			}
		}
		events = slices.DeleteFunc(events, func(e domain.Event) bool {
			switch e := e.(type) {
			case *domain.CreateEvent:
				_, gone := cancelled[e.ID]
				return gone
			case *domain.DeleteEvent:
				_, gone := cancelled[e.CorrespondingDocumentID]
				return gone
			}
			return false
		})
	}

	if len(opts.Verbs) > 0 {
		events = slices.DeleteFunc(events, func(e domain.Event) bool {
			return !slices.Contains(opts.Verbs, e.Header().Verb)
		})
	}
	return events, nil
}

func (s *HighlightService) NetCountForMatch(ctx context.Context, match string) (int, error) {
	res, err := s.store.Query(ctx, view.Sum, domain.QueryOptions{Key: match})
	if err != nil {
		return 0, err
	}
	if len(res.Rows) == 0 {
		return 0, nil
	}
	n, ok := res.Rows[0].Value.(float64)
	if !ok {
		return 0, fmt.Errorf("unexpected %s value %v", view.Sum, res.Rows[0].Value)
	}
	return int(n), nil
}

// AllMatchSums returns the net count of every match, ordered by match.
func (s *HighlightService) AllMatchSums(ctx context.Context) ([]domain.MatchSum, error) {
	res, err := s.store.Query(ctx, view.Sum, domain.QueryOptions{Group: true})
	if err != nil {
		return nil, err
	}
	sums := make([]domain.MatchSum, 0, len(res.Rows))
	for _, row := range res.Rows {
		match, ok := row.Key.(string)
		if !ok {
			s.logger.Warn("Skipping non-string match key", "key", row.Key)
			continue
		}
		n, _ := row.Value.(float64)
		sums = append(sums, domain.MatchSum{Match: match, Count: int(n)})
	}
	return sums, nil
}

// RemoveAllForMatch deletes every document of match, whatever its verb, in
// one bulk write. Results are reported per document.
func (s *HighlightService) RemoveAllForMatch(ctx context.Context, match string) ([]domain.WriteResult, error) {
	docs, err := s.matchDocs(ctx, match, false, 0)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return []domain.WriteResult{}, nil
	}
	for i := range docs {
		docs[i].Deleted = true
	}
	results, err := s.store.BulkWrite(ctx, docs)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Removed match documents", "match", match, "docs", len(docs))
	return results, nil
}

var _ domain.HighlightService = (*HighlightService)(nil)
