package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jfbeehive/swift-checkout/internal/platform/requestctx"
)

const (
	cloudTraceHeader = "X-Cloud-Trace-Context"
	idempotencyKey   = "Idempotency-Key"
)

var (
	tracer     = otel.Tracer("github.com/jfbeehive/swift-checkout/internal/platform/observability")
	traceProps = propagation.TraceContext{}
)

// TraceMiddleware continues an incoming W3C traceparent or Cloud Trace context, starts the server
// span and publishes its ids on the request context. The span is renamed to the matched route
// once the handler returns so checkout session ids never end up in span names.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, sampled := remoteContext(r)

			ctx, span := tracer.Start(ctx, "checkout "+r.Method, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			span.SetAttributes(requestAttributes(r)...)

			sc := span.SpanContext()
			info := requestctx.TraceInfo{
				TraceID:   sc.TraceID().String(),
				SpanID:    sc.SpanID().String(),
				Sampled:   sc.IsSampled() || sampled,
				ProjectID: projectID,
			}
			ctx = requestctx.WithTrace(ctx, info)

			traceProps.Inject(ctx, propagation.HeaderCarrier(w.Header()))
			if header := cloudTraceValue(info); header != "" {
				w.Header().Set(cloudTraceHeader, header)
			}

			r = r.WithContext(ctx)
			next.ServeHTTP(w, r)

			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					span.SetName(r.Method + " " + pattern)
				}
				if id := rctx.URLParam(SessionIDParam); id != "" {
					span.SetAttributes(attribute.String("checkout.session_id", SanitizeSessionID(id)))
				}
			}
		})
	}
}

// remoteContext prefers traceparent and falls back to the Cloud Trace header used by Google
// front ends.
func remoteContext(r *http.Request) (context.Context, bool) {
	ctx := traceProps.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return ctx, sc.IsSampled()
	}
	sc, ok := parseCloudTrace(r.Header.Get(cloudTraceHeader))
	if !ok {
		return r.Context(), false
	}
	return trace.ContextWithRemoteSpanContext(r.Context(), sc), sc.IsSampled()
}

// parseCloudTrace reads "TRACE_ID/SPAN_ID;o=OPTIONS" where SPAN_ID is an unsigned decimal.
func parseCloudTrace(header string) (trace.SpanContext, bool) {
	traceHex, rest, found := strings.Cut(strings.TrimSpace(header), "/")
	if !found || len(traceHex) != 32 {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return trace.SpanContext{}, false
	}

	spanPart, options, _ := strings.Cut(rest, ";")
	num, err := strconv.ParseUint(strings.TrimSpace(spanPart), 10, 64)
	if err != nil || num == 0 {
		return trace.SpanContext{}, false
	}
	var spanID trace.SpanID
	for i := 7; i >= 0; i-- {
		spanID[i] = byte(num)
		num >>= 8
	}

	var flags trace.TraceFlags
	if strings.TrimSpace(options) == "o=1" {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), true
}

func cloudTraceValue(info requestctx.TraceInfo) string {
	if info.TraceID == "" || info.SpanID == "" {
		return ""
	}
	spanID, err := strconv.ParseUint(info.SpanID, 16, 64)
	if err != nil {
		return ""
	}
	sampled := 0
	if info.Sampled {
		sampled = 1
	}
	return fmt.Sprintf("%s/%d;o=%d", info.TraceID, spanID, sampled)
}

func requestAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", r.Method),
		attribute.String("url.scheme", scheme),
		attribute.String("url.path", SanitizeRoute(r.URL.Path)),
		attribute.Bool("checkout.idempotency_key_present", strings.TrimSpace(r.Header.Get(idempotencyKey)) != ""),
	}
	if r.Host != "" {
		attrs = append(attrs, attribute.String("server.address", r.Host))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", sanitizeString(ua, 0)))
	}
	return attrs
}
