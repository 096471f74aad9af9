package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Verb tells the two kinds of highlight events apart.
type Verb string

const (
	VerbCreate Verb = "create"
	VerbDelete Verb = "delete"
)

// Envelope holds the members every highlight event carries.
type Envelope struct {
	ID    string `json:"_id"`
	Rev   string `json:"_rev,omitempty"`
	Verb  Verb   `json:"verb"`
	Match string `json:"match"`
	Date  int64  `json:"date"`
}

// SortDate returns the event date.
func (e Envelope) SortDate() int64 {
	return e.Date
}

// Event is either a *CreateEvent or a *DeleteEvent.
type Event interface {
	Header() Envelope
	Document() (Document, error)
}

// CreateEvent records a user highlighting text on a page.
type CreateEvent struct {
	Envelope
	Version   int             `json:"version"`
	Range     json.RawMessage `json:"range"`
	ClassName string          `json:"className"`
	Text      string          `json:"text"`
	Title     *string         `json:"title,omitempty"`
}

// DeleteEvent cancels the CreateEvent whose id it references.
type DeleteEvent struct {
	Envelope
	CorrespondingDocumentID string `json:"correspondingDocumentId"`
}

// DeleteEventID is the id of the DELETE event cancelling createID. One id per
// highlight lets the store reject a second delete as a conflict.
func DeleteEventID(createID string) string {
	return createID + ":delete"
}

func (e *CreateEvent) Header() Envelope { return e.Envelope }
func (e *DeleteEvent) Header() Envelope { return e.Envelope }

func (e *CreateEvent) Document() (Document, error) { return NewDocument(e) }
func (e *DeleteEvent) Document() (Document, error) { return NewDocument(e) }

// EventFromDocument decodes a stored document into its event variant.
func EventFromDocument(doc Document) (Event, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding document %s: %w", doc.ID, err)
	}
	verb, _ := doc.Fields["verb"].(string)
	switch Verb(verb) {
	case VerbCreate:
		var e CreateEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decoding create event %s: %w", doc.ID, err)
		}
		return &e, nil
	case VerbDelete:
		var e DeleteEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decoding delete event %s: %w", doc.ID, err)
		}
		return &e, nil
	default:
		return nil, fmt.Errorf("document %s has verb %q: %w", doc.ID, verb, ErrWrongVerb)
	}
}

// MatchSum is the net-live count of one match.
type MatchSum struct {
	Match string `json:"match"`
	Count int    `json:"count"`
}

// SweepResult reports the garbage collection of one match.
type SweepResult struct {
	Match   string        `json:"match"`
	Results []WriteResult `json:"results"`
	Error   string        `json:"error,omitempty"`
	Err     error         `json:"-"`
}

// CreateOptions carries the optional members of a new highlight.
type CreateOptions struct {
	Title *string
	Date  time.Time
}

// HighlightChanges lists the metadata an update may touch; nil means unchanged.
type HighlightChanges struct {
	ClassName *string `json:"className,omitempty"`
	Title     *string `json:"title,omitempty"`
}

// ListOptions shapes a listByMatch query.
type ListOptions struct {
	Descending         bool
	Limit              int
	Verbs              []Verb
	ExcludeDeletedDocs bool
}
