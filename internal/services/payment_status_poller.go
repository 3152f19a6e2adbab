package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jfbeehive/swift-checkout/internal/domain"
)

// DefaultPollInterval is the fixed period between payment status checks.
const DefaultPollInterval = 5 * time.Second

const pollerMeterName = "github.com/jfbeehive/swift-checkout/internal/services/poller"

type statusChecker interface {
	CheckStatus(ctx context.Context, transactionID string) (domain.PaymentStatus, error)
}

// PaymentStatusPollerDeps wires the status checker used by the poller.
type PaymentStatusPollerDeps struct {
	Checker  statusChecker
	Interval time.Duration
	Logger   func(ctx context.Context, event string, fields map[string]any)
	Meter    metric.Meter
}

// PaymentStatusPoller checks a pending transaction on a fixed interval until it is paid.
type PaymentStatusPoller struct {
	checker  statusChecker
	interval time.Duration
	logger   func(ctx context.Context, event string, fields map[string]any)

	checks        metric.Int64Counter
	checksEnabled bool
}

// NewPaymentStatusPoller constructs a poller. The interval defaults to DefaultPollInterval.
func NewPaymentStatusPoller(deps PaymentStatusPollerDeps) (*PaymentStatusPoller, error) {
	if deps.Checker == nil {
		return nil, errors.New("payment status poller: checker is required")
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(pollerMeterName)
	}
	checks, err := meter.Int64Counter(
		"checkout.poller.checks",
		metric.WithDescription("Count of payment status checks by outcome"),
	)
	return &PaymentStatusPoller{
		checker:       deps.Checker,
		interval:      interval,
		logger:        logger,
		checks:        checks,
		checksEnabled: err == nil,
	}, nil
}

// Start polls transactionID until the gateway reports paid, ctx is cancelled or stop is called.
// onPaid runs at most once, from the polling goroutine. Check failures are logged and retried on
// the next tick. The returned stop func is idempotent and does not wait for the goroutine.
func (p *PaymentStatusPoller) Start(ctx context.Context, transactionID string, onPaid func()) func() {
	transactionID = strings.TrimSpace(transactionID)
	if p == nil || transactionID == "" {
		return func() {}
	}

	pollCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	stop := func() { once.Do(cancel) }

	go func() {
		defer stop()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
			}

			status, err := p.checker.CheckStatus(pollCtx, transactionID)
			if pollCtx.Err() != nil {
				return
			}
			if err != nil {
				p.record(pollCtx, "error")
				p.logger(pollCtx, "checkout.poller.check_failed", map[string]any{
					"transactionId": transactionID,
					"error":         err.Error(),
				})
				continue
			}
			if status != domain.PaymentStatusPaid {
				p.record(pollCtx, "pending")
				continue
			}

			p.record(pollCtx, "paid")
			p.logger(pollCtx, "checkout.poller.paid", map[string]any{"transactionId": transactionID})
			if onPaid != nil {
				onPaid()
			}
			return
		}
	}()

	return stop
}

func (p *PaymentStatusPoller) record(ctx context.Context, outcome string) {
	if !p.checksEnabled {
		return
	}
	p.checks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
