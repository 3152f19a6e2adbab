package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLoggerMiddlewareLogsRouteAndSession(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	r := chi.NewRouter()
	r.Use(InjectLoggerMiddleware(logger), RequestLoggerMiddleware("proj"))
	r.Get("/sessions/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/sessions/sess-42", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one access line, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 404, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["route"] != "/sessions/{sessionID}" {
		t.Fatalf("expected route pattern, got %v", fields["route"])
	}
	if fields["session_id"] != "sess-42" {
		t.Fatalf("expected session id, got %v", fields["session_id"])
	}
	if fields["status"] != int64(http.StatusNotFound) {
		t.Fatalf("expected status 404, got %v", fields["status"])
	}
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)

	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "internal_server_error" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatal("expected the panic to be logged")
	}
}

func TestEventLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := EventLogger(zap.New(core).Named("payments"))

	log(context.Background(), "tokenizer.encrypt_failed", map[string]any{"error": "declined"})
	log(context.Background(), "checkout.submitted", nil)

	all := logs.All()
	if len(all) != 2 {
		t.Fatalf("expected two entries, got %d", len(all))
	}
	if all[0].Level != zapcore.WarnLevel || all[1].Level != zapcore.InfoLevel {
		t.Fatalf("unexpected levels %s %s", all[0].Level, all[1].Level)
	}
	if all[0].ContextMap()["error"] != "declined" {
		t.Fatalf("expected error field, got %v", all[0].ContextMap())
	}
}
