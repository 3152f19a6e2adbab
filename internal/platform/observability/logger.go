package observability

import (
	"context"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jfbeehive/swift-checkout/internal/platform/requestctx"
)

const serviceName = "swift-checkout"

// NewLogger builds the JSON logger used by the checkout API. CHECKOUT_LOG_LEVEL (or LOG_LEVEL)
// selects the level; Cloud Logging reads the "severity" key.
func NewLogger() (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	raw := os.Getenv("CHECKOUT_LOG_LEVEL")
	if strings.TrimSpace(raw) == "" {
		raw = os.Getenv("LOG_LEVEL")
	}
	if raw = strings.ToLower(strings.TrimSpace(raw)); raw != "" {
		_ = level.UnmarshalText([]byte(raw))
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.MessageKey = "message"
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.LevelKey = "severity"
	encoderCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cfg := zap.Config{
		Level:             level,
		Encoding:          "json",
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
		InitialFields:     map[string]any{"service": serviceName},
	}
	return cfg.Build()
}

// WithLogger injects the logger into the provided context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// PrintfAdapter adapts zap to printf-style logging interfaces.
type PrintfAdapter struct {
	logger *zap.SugaredLogger
}

// NewPrintfAdapter creates a PrintfAdapter backed by the supplied logger.
func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{logger: logger.Sugar()}
}

// Printf implements the Printf-style logging expected by legacy interfaces.
func (a PrintfAdapter) Printf(format string, args ...any) {
	a.logger.Infof(format, args...)
}

// EventLogger adapts zap to the event hook accepted by services and payment adapters. The
// request-scoped logger on ctx wins over base so lines carry request and trace ids.
func EventLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := base
		zFields := make([]zap.Field, 0, len(fields)+2)
		zFields = append(zFields, zap.String("event", event))
		if scoped := requestctx.Logger(ctx); scoped != requestctx.NoopLogger() {
			logger = scoped
			zFields = append(zFields, zap.String("component", base.Name()))
		}
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			zFields = append(zFields, zap.Any(k, fields[k]))
		}
		switch {
		case strings.HasSuffix(event, "_failed") || strings.HasSuffix(event, ".failed"):
			logger.Warn(event, zFields...)
		default:
			logger.Info(event, zFields...)
		}
	}
}

// WithRequestFields augments the logger with standard request-scoped fields.
func WithRequestFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(fields...)
}
