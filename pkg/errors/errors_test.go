package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"highlight-store/internal/domain"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		typ    ErrorType
		status int
	}{
		{"missing id", domain.ErrMissingID, ErrorTypeValidation, http.StatusBadRequest},
		{"validation", &domain.ValidationError{Field: "match", Message: "is required"}, ErrorTypeValidation, http.StatusBadRequest},
		{"bad query", fmt.Errorf("%w: negative limit", domain.ErrInvalidQuery), ErrorTypeValidation, http.StatusBadRequest},
		{"not found", fmt.Errorf("%w: hl-1", domain.ErrNotFound), ErrorTypeNotFound, http.StatusNotFound},
		{"unknown view", domain.ErrUnknownView, ErrorTypeNotFound, http.StatusNotFound},
		{"conflict", fmt.Errorf("wrap: %w", domain.ErrConflict), ErrorTypeConflict, http.StatusConflict},
		{"wrong verb", domain.ErrWrongVerb, ErrorTypeWrongVerb, http.StatusUnprocessableEntity},
		{"unavailable", domain.ErrStorageUnavailable, ErrorTypeUnavailable, http.StatusServiceUnavailable},
		{"other", stderrors.New("boom"), ErrorTypeInternal, http.StatusInternalServerError},
		{"already mapped", NewUnauthorizedError("no token"), ErrorTypeUnauthorized, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := FromError(tt.err)
			assert.Equal(t, tt.typ, appErr.Type)
			assert.Equal(t, tt.status, appErr.StatusCode)
			assert.Equal(t, tt.status, GetStatusCode(tt.err))
			assert.True(t, IsType(appErr, tt.typ))
		})
	}
	assert.Nil(t, FromError(nil))
}

func TestFromError_KeepsCause(t *testing.T) {
	err := fmt.Errorf("%w: stale", domain.ErrConflict)
	appErr := FromError(err)
	assert.ErrorIs(t, appErr, domain.ErrConflict)
}

func TestFromError_InternalHidesDetails(t *testing.T) {
	appErr := FromError(stderrors.New("secret path /var/db"))
	assert.Equal(t, "internal server error", appErr.Message)
}

func TestAppError_Error(t *testing.T) {
	err := NewValidationError("invalid input", "match is required")
	assert.Equal(t, "validation: invalid input (match is required)", err.Error())
	assert.Equal(t, "not_found: missing", NewNotFoundError("missing").Error())
}
