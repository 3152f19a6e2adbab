// Package requestctx carries per-request values (logger, trace ids, checkout session id) across
// package boundaries without import cycles.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey  struct{}
	traceKey   struct{}
	sessionKey struct{}
)

var nop = zap.NewNop()

// TraceInfo is the trace context of the inbound request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = nop
	}
	return context.WithValue(orBackground(ctx), loggerKey{}, logger)
}

// Logger returns the request logger, or a shared no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if logger, _ := ctx.Value(loggerKey{}).(*zap.Logger); logger != nil {
			return logger
		}
	}
	return nop
}

// NoopLogger is the logger Logger falls back to; compare against it to detect a missing logger.
func NoopLogger() *zap.Logger { return nop }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(orBackground(ctx), traceKey{}, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithSessionID records the checkout session the request addresses.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(orBackground(ctx), sessionKey{}, id)
}

func SessionID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
