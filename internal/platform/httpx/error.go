// Package httpx holds the JSON error envelope shared by every checkout endpoint.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jfbeehive/swift-checkout/internal/platform/requestctx"
)

const (
	codeLimit    = 80
	messageLimit = 512
	idLimit      = 80
)

// Error is an API failure: a stable machine code, a human message and the HTTP status.
// Details are merged into the top level of the JSON body.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError builds an Error. A zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: clip(code, codeLimit), Message: clip(message, messageLimit), Status: status}
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// WithDetails returns a copy of e with details merged over any existing ones.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WriteError renders err as JSON. Request, trace and checkout session ids come from ctx; they win
// over details with the same key.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	body := make(map[string]any, len(err.Details)+6)
	for k, v := range err.Details {
		body[k] = v
	}
	body["error"] = err.Code
	body["message"] = err.Message
	body["status"] = status
	ids := [...]struct{ key, value string }{
		{"request_id", middleware.GetReqID(ctx)},
		{"trace_id", requestctx.TraceID(ctx)},
		{"session_id", requestctx.SessionID(ctx)},
	}
	for _, id := range ids {
		if value := clip(id.value, idLimit); value != "" {
			body[id.key] = value
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
