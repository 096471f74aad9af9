package engine

import (
	"encoding/json"
	"fmt"

	"highlight-store/internal/domain"
)

// record is one stored revision of a document.
type record struct {
	gen     int
	rev     string
	deleted bool
	body    []byte
}

// nextWrite checks doc against the latest stored revision (nil when the id
// was never written) and returns the revision to append.
func nextWrite(latest *record, doc domain.Document) (record, error) {
	if doc.ID == "" {
		return record{}, domain.ErrMissingID
	}
	live := latest != nil && !latest.deleted
	switch {
	case doc.Deleted && !live:
		return record{}, fmt.Errorf("%w: %s", domain.ErrNotFound, doc.ID)
	case live && doc.Rev != latest.rev:
		return record{}, fmt.Errorf("%w: %s has revision %s, got %q", domain.ErrConflict, doc.ID, latest.rev, doc.Rev)
	case !live && doc.Rev != "" && (latest == nil || doc.Rev != latest.rev):
		return record{}, fmt.Errorf("%w: %s does not exist at revision %s", domain.ErrConflict, doc.ID, doc.Rev)
	}

	body := []byte("{}")
	if !doc.Deleted {
		var err error
		if body, err = doc.Body(); err != nil {
			return record{}, fmt.Errorf("encoding %s: %w", doc.ID, err)
		}
	}
	gen, prev := 1, ""
	if latest != nil {
		gen, prev = latest.gen+1, latest.rev
	}
	return record{
		gen:     gen,
		rev:     domain.NextRevision(gen, prev, doc.Deleted, body),
		deleted: doc.Deleted,
		body:    body,
	}, nil
}

// replicated turns a document carrying its own revision into a record.
func replicated(doc domain.Document) (record, error) {
	if doc.ID == "" {
		return record{}, domain.ErrMissingID
	}
	gen, _, err := domain.ParseRevision(doc.Rev)
	if err != nil {
		return record{}, fmt.Errorf("%w: loading %s: %v", domain.ErrInvalidEvent, doc.ID, err)
	}
	body := []byte("{}")
	if !doc.Deleted {
		if body, err = doc.Body(); err != nil {
			return record{}, fmt.Errorf("encoding %s: %w", doc.ID, err)
		}
	}
	return record{gen: gen, rev: doc.Rev, deleted: doc.Deleted, body: body}, nil
}

func (r record) document(id string) (domain.Document, error) {
	doc := domain.Document{ID: id, Rev: r.rev, Deleted: r.deleted}
	if err := json.Unmarshal(r.body, &doc.Fields); err != nil {
		return domain.Document{}, fmt.Errorf("decoding %s@%s: %w", id, r.rev, err)
	}
	if doc.Fields == nil {
		doc.Fields = map[string]any{}
	}
	return doc, nil
}

func (r record) result(id string) domain.WriteResult {
	return domain.WriteResult{OK: true, ID: id, Rev: r.rev}
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
}
