package common

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// ErrorBody is the payload nested under "error" in every failed response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError renders {"error": {...}}.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, map[string]any{"error": ErrorBody{Code: code, Message: message, Details: details}})
}

// DecodeJSON reads one JSON object, rejecting unknown fields. A body cut off
// by security.BodyLimit maps to 413.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &tooLarge):
		return NewAppError("PAYLOAD_TOO_LARGE", "request body too large", http.StatusRequestEntityTooLarge, err)
	case errors.Is(err, io.EOF):
		return Validation("request body required", nil)
	}
	return Validation("invalid JSON body", map[string]string{"body": err.Error()})
}
