package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfbeehive/swift-checkout/internal/platform/requestctx"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func frozen() MiddlewareOption {
	return WithClock(func() time.Time { return fixedTime })
}

// countingHandler answers with status and body and counts invocations.
type countingHandler struct {
	calls  int
	status int
	body   string
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.calls++
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(h.status)
	_, _ = w.Write([]byte(h.body))
}

type submit struct {
	key     string
	body    string
	session string
}

func (s submit) request() *http.Request {
	body := s.body
	if body == "" {
		body = `{"method":"pix"}`
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/submit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if s.key != "" {
		req.Header.Set("Idempotency-Key", s.key)
	}
	if s.session != "" {
		req = req.WithContext(requestctx.WithSessionID(req.Context(), s.session))
	}
	return req
}

func serve(h http.Handler, s submit) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, s.request())
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Error
}

func TestMiddlewareRequiresKey(t *testing.T) {
	next := &countingHandler{status: http.StatusOK}
	rr := serve(Middleware(NewMemoryStore(), frozen())(next), submit{})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "idempotency_key_required", errorCode(t, rr))
	assert.Zero(t, next.calls)
}

func TestMiddlewareReplaysFirstResponse(t *testing.T) {
	next := &countingHandler{status: http.StatusCreated, body: `{"transaction_id":"tx-1"}`}
	handler := Middleware(NewMemoryStore(), frozen())(next)

	first := serve(handler, submit{key: "abc-123"})
	second := serve(handler, submit{key: "abc-123"})

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(replayHeaderName))
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(replayHeaderName))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestMiddlewareRejectsKeyReuseWithDifferentBody(t *testing.T) {
	next := &countingHandler{status: http.StatusOK}
	handler := Middleware(NewMemoryStore(), frozen())(next)

	require.Equal(t, http.StatusOK, serve(handler, submit{key: "same-key", body: `{"method":"pix"}`}).Code)
	rr := serve(handler, submit{key: "same-key", body: `{"method":"credit_card"}`})

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "idempotency_key_conflict", errorCode(t, rr))
	assert.Equal(t, 1, next.calls)
}

func TestMiddlewareRejectsWhileFirstIsInFlight(t *testing.T) {
	store := NewMemoryStore()
	next := &countingHandler{status: http.StatusOK}
	handler := Middleware(store, frozen())(next)

	req := submit{key: "pending-key"}.request()
	body, err := readAndReplayBody(req)
	require.NoError(t, err)
	scope := sessionScope(req)
	_, err = store.Reserve(req.Context(), scopedKey("pending-key", scope), requestFingerprint(req, body, scope), fixedTime, time.Hour)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "idempotency_in_progress", errorCode(t, rr))
	assert.Zero(t, next.calls)
}

func TestMiddlewareReleasesWhenSaveFails(t *testing.T) {
	store := &stubStore{saveErr: errors.New("save failed")}
	rr := serve(Middleware(store, frozen())(&countingHandler{status: http.StatusCreated}), submit{key: "fail-key"})

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "idempotency_store_error", errorCode(t, rr))
	assert.True(t, store.released)
}

func TestMiddlewareReportsReserveFailure(t *testing.T) {
	store := &stubStore{reserveErr: errors.New("redis down")}
	next := &countingHandler{status: http.StatusOK}
	rr := serve(Middleware(store, frozen())(next), submit{key: "k"})

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "idempotency_store_error", errorCode(t, rr))
	assert.Zero(t, next.calls)
}

func TestMiddlewareOptionalKeyPassesThrough(t *testing.T) {
	store := NewMemoryStore()
	next := &countingHandler{status: http.StatusOK}
	handler := Middleware(store, WithOptionalKey(), frozen())(next)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, serve(handler, submit{}).Code)
	}
	assert.Equal(t, 2, next.calls)
	assert.Zero(t, store.Len())
}

func TestMiddlewareScopesKeysPerSession(t *testing.T) {
	next := &countingHandler{status: http.StatusOK}
	handler := Middleware(NewMemoryStore(), frozen())(next)

	for _, session := range []string{"s1", "s2"} {
		rr := serve(handler, submit{key: "shared-key", session: session})
		assert.Equal(t, http.StatusOK, rr.Code, session)
		assert.Empty(t, rr.Header().Get(replayHeaderName), session)
	}
	assert.Equal(t, 2, next.calls)
}

func TestMiddlewareDoesNotReplayServerErrors(t *testing.T) {
	next := &countingHandler{status: http.StatusBadGateway}
	handler := Middleware(NewMemoryStore(), frozen())(next)

	assert.Equal(t, http.StatusBadGateway, serve(handler, submit{key: "retry-key"}).Code)

	next.status = http.StatusOK
	retry := serve(handler, submit{key: "retry-key"})
	assert.Equal(t, http.StatusOK, retry.Code)
	assert.Empty(t, retry.Header().Get(replayHeaderName))

	assert.Equal(t, "true", serve(handler, submit{key: "retry-key"}).Header().Get(replayHeaderName))
	assert.Equal(t, 2, next.calls)
}

func TestMiddlewareSkipsUnguardedMethods(t *testing.T) {
	next := &countingHandler{status: http.StatusOK}
	handler := Middleware(NewMemoryStore(), WithMethods("post"))(next)

	for _, method := range []string{http.MethodGet, http.MethodPut} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(method, "/api/v1/sessions/s1", nil))
	}
	assert.Equal(t, 2, next.calls)
}

func TestMiddlewareCustomHeader(t *testing.T) {
	next := &countingHandler{status: http.StatusOK}
	handler := Middleware(NewMemoryStore(), WithHeader("X-Checkout-Key"), frozen())(next)

	req := submit{}.request()
	req.Header.Set("X-Checkout-Key", "k1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, next.calls)
}

func TestRequestFingerprintCoversScopeAndBody(t *testing.T) {
	req := submit{key: "k"}.request()
	base := requestFingerprint(req, []byte(`{"a":1}`), "session:s1")

	assert.Len(t, base, 64)
	assert.Equal(t, base, requestFingerprint(req, []byte(`{"a":1}`), "session:s1"))
	assert.NotEqual(t, base, requestFingerprint(req, []byte(`{"a":2}`), "session:s1"))
	assert.NotEqual(t, base, requestFingerprint(req, []byte(`{"a":1}`), "session:s2"))
	assert.Equal(t, "anonymous|k", scopedKey(" k ", ""))
}

type stubStore struct {
	reserveErr error
	saveErr    error
	released   bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	if s.reserveErr != nil {
		return Reservation{}, s.reserveErr
	}
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	return s.saveErr
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}
