package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"highlight-store/internal/domain"
	apperrors "highlight-store/pkg/errors"
)

// maxBodyBytes caps JSON request bodies; imports get importBodyBytes.
const (
	maxBodyBytes    = 1 << 20
	importBodyBytes = 64 << 20
)

// writeError writes an error response (helper function)
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeAppError maps err onto a status code and a typed error body.
// Server-side failures are logged.
func writeAppError(w http.ResponseWriter, logger domain.Logger, msg string, err error, fields ...interface{}) {
	appErr := apperrors.FromError(err)
	if appErr.StatusCode >= http.StatusInternalServerError {
		logger.Error(msg, err, fields...)
	} else {
		logger.Debug(msg, append([]interface{}{"error", err}, fields...)...)
	}
	writeJSON(w, appErr.StatusCode, map[string]any{
		"error": appErr.Message,
		"type":  appErr.Type,
	})
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// queryBool parses a boolean query parameter, def when absent.
func queryBool(r *http.Request, key string, def bool) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseBool(raw)
}

// queryInt parses a non-negative integer query parameter, def when absent.
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.NewValidationError("invalid "+key, "must be a non-negative integer")
	}
	return n, nil
}
