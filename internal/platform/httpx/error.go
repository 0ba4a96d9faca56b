package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/apostella/api/internal/platform/requestctx"
)

// Error represents the canonical JSON error envelope returned by the API:
// {"error": message, "details": {...}}. Request and trace identifiers go
// into response headers, never into the body.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError constructs a new Error with the provided parameters.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    sanitize(code, 80),
		Message: sanitize(message, 512),
		Status:  status,
	}
}

// WithDetails attaches additional JSON-serialisable metadata.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	copyDetails := make(map[string]any, len(details))
	for k, v := range details {
		copyDetails[k] = v
	}
	e.Details = copyDetails
	return e
}

// WriteError writes the structured error as JSON to the provided response writer.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	message := err.Message
	if message == "" {
		message = http.StatusText(status)
	}

	payload := map[string]any{
		"error": message,
	}

	details := make(map[string]any, len(err.Details)+1)
	if err.Code != "" {
		details["code"] = err.Code
	}
	for k, v := range err.Details {
		details[k] = v
	}
	if len(details) > 0 {
		payload["details"] = details
	}

	if requestID := sanitize(middleware.GetReqID(ctx), 80); requestID != "" {
		w.Header().Set("X-Request-Id", requestID)
	}
	if traceID := sanitize(requestctx.TraceID(ctx), 64); traceID != "" {
		w.Header().Set("X-Trace-Id", traceID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func sanitize(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
