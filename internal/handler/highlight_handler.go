package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"highlight-store/internal/domain"
	"highlight-store/pkg/docsort"
	apperrors "highlight-store/pkg/errors"
	"highlight-store/pkg/match"

	"github.com/gorilla/mux"
)

// HighlightHandler handles highlight-related HTTP requests.
type HighlightHandler struct {
	logger           domain.Logger
	highlightService domain.HighlightService
}

func NewHighlightHandler(highlightService domain.HighlightService, logger domain.Logger) *HighlightHandler {
	return &HighlightHandler{
		logger:           logger,
		highlightService: highlightService,
	}
}

// matchOptions reads the formatter switches from the query string.
func matchOptions(r *http.Request) (match.Options, error) {
	scheme, err := queryBool(r, "scheme", true)
	if err != nil {
		return match.Options{}, apperrors.NewValidationError("invalid scheme flag")
	}
	query, err := queryBool(r, "query", true)
	if err != nil {
		return match.Options{}, apperrors.NewValidationError("invalid query flag")
	}
	fragment, err := queryBool(r, "fragment", false)
	if err != nil {
		return match.Options{}, apperrors.NewValidationError("invalid fragment flag")
	}
	decode, err := queryBool(r, "decode", true)
	if err != nil {
		return match.Options{}, apperrors.NewValidationError("invalid decode flag")
	}
	return match.Options{
		OmitScheme:      !scheme,
		OmitQuery:       !query,
		IncludeFragment: fragment,
		SkipDecode:      !decode,
	}, nil
}

// resolveMatch returns explicit when set, otherwise the formatted key of rawURL.
func resolveMatch(explicit, rawURL string, opts match.Options) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if rawURL == "" {
		return "", apperrors.NewValidationError("match or url is required")
	}
	key, err := match.Format(rawURL, opts)
	if err != nil {
		return "", apperrors.NewValidationError("invalid url", err.Error())
	}
	return key, nil
}

// FormatMatch handles GET /match
func (h *HighlightHandler) FormatMatch(w http.ResponseWriter, r *http.Request) {
	opts, err := matchOptions(r)
	if err != nil {
		writeAppError(w, h.logger, "Invalid match options", err)
		return
	}
	key, err := resolveMatch("", r.URL.Query().Get("url"), opts)
	if err != nil {
		writeAppError(w, h.logger, "Failed to format match", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"match": key})
}

type createHighlightRequest struct {
	Match     string          `json:"match,omitempty"`
	URL       string          `json:"url,omitempty"`
	Range     json.RawMessage `json:"range"`
	ClassName string          `json:"className"`
	Text      string          `json:"text"`
	Title     *string         `json:"title,omitempty"`
	Date      *int64          `json:"date,omitempty"`
}

// CreateHighlight handles POST /highlights
func (h *HighlightHandler) CreateHighlight(w http.ResponseWriter, r *http.Request) {
	var req createHighlightRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	opts, err := matchOptions(r)
	if err != nil {
		writeAppError(w, h.logger, "Invalid match options", err)
		return
	}
	key, err := resolveMatch(req.Match, req.URL, opts)
	if err != nil {
		writeAppError(w, h.logger, "Failed to resolve match", err)
		return
	}

	createOpts := domain.CreateOptions{Title: req.Title}
	if req.Date != nil {
		createOpts.Date = time.UnixMilli(*req.Date)
	}
	res, err := h.highlightService.CreateHighlight(r.Context(), key, req.Range, req.ClassName, req.Text, createOpts)
	if err != nil {
		writeAppError(w, h.logger, "Failed to create highlight", err, "match", key)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type updateHighlightRequest struct {
	ClassName *string `json:"className,omitempty"`
	Title     *string `json:"title,omitempty"`
	Rev       string  `json:"rev,omitempty"`
}

// UpdateHighlight handles PATCH /highlights/{id}
func (h *HighlightHandler) UpdateHighlight(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req updateHighlightRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.highlightService.UpdateHighlight(r.Context(), id, domain.HighlightChanges{
		ClassName: req.ClassName,
		Title:     req.Title,
	}, req.Rev)
	if err != nil {
		writeAppError(w, h.logger, "Failed to update highlight", err, "id", id)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteHighlight handles DELETE /highlights/{id}
func (h *HighlightHandler) DeleteHighlight(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	date, err := queryInt(r, "date", 0)
	if err != nil {
		writeAppError(w, h.logger, "Invalid delete date", err)
		return
	}

	res, err := h.highlightService.DeleteHighlight(r.Context(), id, int64(date))
	if err != nil {
		writeAppError(w, h.logger, "Failed to delete highlight", err, "id", id)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetEvent handles GET /events/{id}
func (h *HighlightHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	event, err := h.highlightService.GetEvent(r.Context(), id, r.URL.Query().Get("rev"))
	if err != nil {
		writeAppError(w, h.logger, "Failed to get event", err, "id", id)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// eventSortKeys are the orderings GET /events accepts besides the index order.
var eventSortKeys = map[string]docsort.KeyFunc[domain.Event]{
	"date": docsort.ByDate[domain.Event],
	"text": func(_ context.Context, e domain.Event) (any, error) {
		if c, ok := e.(*domain.CreateEvent); ok {
			return c.Text, nil
		}
		return nil, nil
	},
	"className": func(_ context.Context, e domain.Event) (any, error) {
		if c, ok := e.(*domain.CreateEvent); ok {
			return c.ClassName, nil
		}
		return nil, nil
	},
}

func parseVerbs(raw string) ([]domain.Verb, error) {
	if raw == "" {
		return nil, nil
	}
	var verbs []domain.Verb
	for _, part := range strings.Split(raw, ",") {
		switch v := domain.Verb(strings.TrimSpace(part)); v {
		case domain.VerbCreate, domain.VerbDelete:
			verbs = append(verbs, v)
		default:
			return nil, apperrors.NewValidationError("invalid verb", part)
		}
	}
	return verbs, nil
}

// ListEvents handles GET /events
func (h *HighlightHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts, err := matchOptions(r)
	if err != nil {
		writeAppError(w, h.logger, "Invalid match options", err)
		return
	}
	key, err := resolveMatch(q.Get("match"), q.Get("url"), opts)
	if err != nil {
		writeAppError(w, h.logger, "Failed to resolve match", err)
		return
	}

	var list domain.ListOptions
	if list.Descending, err = queryBool(r, "descending", false); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid descending flag")
		return
	}
	if list.ExcludeDeletedDocs, err = queryBool(r, "exclude_deleted", false); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid exclude_deleted flag")
		return
	}
	if list.Limit, err = queryInt(r, "limit", 0); err != nil {
		writeAppError(w, h.logger, "Invalid limit", err)
		return
	}
	if list.Verbs, err = parseVerbs(q.Get("verbs")); err != nil {
		writeAppError(w, h.logger, "Invalid verbs", err)
		return
	}

	var sortKey docsort.KeyFunc[domain.Event]
	if orderBy := q.Get("order_by"); orderBy != "" {
		var ok bool
		if sortKey, ok = eventSortKeys[orderBy]; !ok {
			writeError(w, http.StatusBadRequest, "Invalid order_by")
			return
		}
	}

	events, err := h.highlightService.ListByMatch(r.Context(), key, list)
	if err != nil {
		writeAppError(w, h.logger, "Failed to list events", err, "match", key)
		return
	}
	if sortKey != nil {
		events = docsort.Sort(r.Context(), events, sortKey)
	}
	if events == nil {
		events = []domain.Event{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"match":  key,
		"events": events,
		"count":  len(events),
	})
}

// ListMatches handles GET /matches
func (h *HighlightHandler) ListMatches(w http.ResponseWriter, r *http.Request) {
	sums, err := h.highlightService.AllMatchSums(r.Context())
	if err != nil {
		writeAppError(w, h.logger, "Failed to list matches", err)
		return
	}
	if sums == nil {
		sums = []domain.MatchSum{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": sums})
}

// CountMatch handles GET /matches/count
func (h *HighlightHandler) CountMatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts, err := matchOptions(r)
	if err != nil {
		writeAppError(w, h.logger, "Invalid match options", err)
		return
	}
	key, err := resolveMatch(q.Get("match"), q.Get("url"), opts)
	if err != nil {
		writeAppError(w, h.logger, "Failed to resolve match", err)
		return
	}

	count, err := h.highlightService.NetCountForMatch(r.Context(), key)
	if err != nil {
		writeAppError(w, h.logger, "Failed to count match", err, "match", key)
		return
	}
	writeJSON(w, http.StatusOK, domain.MatchSum{Match: key, Count: count})
}

// RemoveMatch handles DELETE /matches
func (h *HighlightHandler) RemoveMatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts, err := matchOptions(r)
	if err != nil {
		writeAppError(w, h.logger, "Invalid match options", err)
		return
	}
	key, err := resolveMatch(q.Get("match"), q.Get("url"), opts)
	if err != nil {
		writeAppError(w, h.logger, "Failed to resolve match", err)
		return
	}

	results, err := h.highlightService.RemoveAllForMatch(r.Context(), key)
	if err != nil {
		writeAppError(w, h.logger, "Failed to remove match", err, "match", key)
		return
	}
	if results == nil {
		results = []domain.WriteResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"match": key, "results": results})
}
