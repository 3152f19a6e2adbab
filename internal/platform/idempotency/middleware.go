package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jfbeehive/swift-checkout/internal/platform/httpx"
	"github.com/jfbeehive/swift-checkout/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	anonymousScope    = "anonymous"
)

// Logger receives store failures that cannot be surfaced to the client.
type Logger interface {
	Printf(format string, args ...any)
}

type clockFunc func() time.Time

// ScopeFunc derives the namespace an idempotency key is bound to for a request.
type ScopeFunc func(r *http.Request) string

type guard struct {
	store       Store
	headerName  string
	ttl         time.Duration
	methods     map[string]bool
	clock       clockFunc
	logger      Logger
	scope       ScopeFunc
	optionalKey bool
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*guard)

// WithHeader overrides the header carrying the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.headerName = name
		}
	}
}

// WithTTL configures how long completed records are replayed.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithMethods restricts the guarded HTTP methods. Empty input keeps the default mutating set.
func WithMethods(methods ...string) MiddlewareOption {
	return func(g *guard) {
		set := make(map[string]bool, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				set[method] = true
			}
		}
		if len(set) > 0 {
			g.methods = set
		}
	}
}

// WithLogger injects a logger for persistence errors.
func WithLogger(logger Logger) MiddlewareOption {
	return func(g *guard) {
		g.logger = logger
	}
}

// WithScope overrides how keys are namespaced. By default keys are scoped to the checkout session
// recorded on the request context.
func WithScope(scope ScopeFunc) MiddlewareOption {
	return func(g *guard) {
		if scope != nil {
			g.scope = scope
		}
	}
}

// WithOptionalKey lets requests without the header through unguarded instead of rejecting them.
func WithOptionalKey() MiddlewareOption {
	return func(g *guard) {
		g.optionalKey = true
	}
}

// WithClock overrides the time source.
func WithClock(clock clockFunc) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// Middleware makes repeated submissions with the same key and body return the first response.
// A concurrent duplicate gets 409 while the first is in flight. Responses with a 5xx status are
// not stored, so a retry with the same key runs again.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{
		store:      store,
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods: map[string]bool{
			http.MethodPost:   true,
			http.MethodPut:    true,
			http.MethodPatch:  true,
			http.MethodDelete: true,
		},
		clock: time.Now,
		scope: sessionScope,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if !g.methods[r.Method] {
		next.ServeHTTP(w, r)
		return
	}
	ctx := r.Context()

	key := strings.TrimSpace(r.Header.Get(g.headerName))
	if key == "" {
		if g.optionalKey {
			next.ServeHTTP(w, r)
			return
		}
		respondError(ctx, w, http.StatusBadRequest, "idempotency_key_required", "missing idempotency key header")
		return
	}

	body, err := readAndReplayBody(r)
	if err != nil {
		respondError(ctx, w, http.StatusInternalServerError, "idempotency_read_body_failed", "unable to read request body")
		return
	}
	scope := g.scope(r)
	fingerprint := requestFingerprint(r, body, scope)
	storeKey := scopedKey(key, scope)

	reservation, err := g.store.Reserve(ctx, storeKey, fingerprint, g.clock().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		respondError(ctx, w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	case err != nil:
		g.logf("idempotency: reserve %s: %v", storeKey, err)
		respondError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
		return
	}

	switch reservation.State {
	case ReservationStateNew:
	case ReservationStateCompleted:
		replay(w, reservation.Record)
		return
	case ReservationStatePending:
		respondError(ctx, w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
		return
	default:
		respondError(ctx, w, http.StatusInternalServerError, "idempotency_unknown_state", "unexpected idempotency state")
		return
	}

	buf := &bufferedResponse{header: make(http.Header)}
	next.ServeHTTP(buf, r)

	if buf.status() >= http.StatusInternalServerError {
		g.release(ctx, storeKey, fingerprint)
		g.flush(w, buf, storeKey)
		return
	}

	resp := Response{Status: buf.status(), Headers: buf.header.Clone(), Body: buf.body.Bytes()}
	if err := g.store.SaveResponse(ctx, storeKey, fingerprint, resp, g.clock().UTC(), g.ttl); err != nil {
		g.logf("idempotency: persist %s: %v", storeKey, err)
		g.release(ctx, storeKey, fingerprint)
		respondError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}
	g.flush(w, buf, storeKey)
}

func (g *guard) release(ctx context.Context, key, fingerprint string) {
	if err := g.store.Release(ctx, key, fingerprint); err != nil {
		g.logf("idempotency: release %s: %v", key, err)
	}
}

func (g *guard) flush(w http.ResponseWriter, buf *bufferedResponse, key string) {
	if err := buf.writeTo(w); err != nil {
		g.logf("idempotency: flush %s: %v", key, err)
	}
}

func (g *guard) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// requestFingerprint binds a key to the request it was first used with.
func requestFingerprint(r *http.Request, body []byte, scope string) string {
	h := sha256.New()
	for _, part := range []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Host,
		r.Header.Get("Content-Type"),
		scope,
	} {
		_, _ = io.WriteString(h, part)
		_, _ = h.Write([]byte{0})
	}
	if len(body) > 0 {
		bodySum := sha256.Sum256(body)
		_, _ = h.Write(bodySum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sessionScope(r *http.Request) string {
	if id := requestctx.SessionID(r.Context()); id != "" {
		return "session:" + id
	}
	return anonymousScope
}

func scopedKey(key, scope string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = anonymousScope
	}
	return scope + "|" + strings.TrimSpace(key)
}

func replay(w http.ResponseWriter, record Record) {
	header := w.Header()
	for name, values := range headersFromRecord(record.ResponseHeaders) {
		header[name] = values
	}
	header.Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

// bufferedResponse holds the handler output until the guard decides whether to store it.
type bufferedResponse struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.code == 0 {
		b.code = status
	}
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	if b.code == 0 {
		b.code = http.StatusOK
	}
	return b.body.Write(data)
}

func (b *bufferedResponse) status() int {
	if b.code < 100 {
		return http.StatusOK
	}
	return b.code
}

func (b *bufferedResponse) writeTo(w http.ResponseWriter) error {
	dst := w.Header()
	for name, values := range b.header {
		dst[name] = values
	}
	w.WriteHeader(b.status())
	_, err := b.body.WriteTo(w)
	return err
}
