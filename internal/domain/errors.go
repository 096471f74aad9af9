package domain

import "errors"

// Domain errors
var (
	ErrMissingID          = errors.New("document id is missing")
	ErrNotFound           = errors.New("document not found")
	ErrConflict           = errors.New("document update conflict")
	ErrWrongVerb          = errors.New("document has the wrong verb")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidEvent       = errors.New("invalid highlight event")
	ErrUnknownView        = errors.New("unknown view")
	ErrInvalidQuery       = errors.New("invalid query")
)

// ValidationError represents a validation error with field and message information.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

// Unwrap lets errors.Is match validation failures as invalid events.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidEvent
}
