package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jfbeehive/swift-checkout/internal/domain"
)

const maxGatewayResponseBytes = 1 << 20

// CheckoutRequest is the canonical payload posted to the checkout webhook. Amounts are in
// minor currency units and document fields carry digits only.
type CheckoutRequest struct {
	Amount        int64             `json:"amount"`
	PaymentMethod string            `json:"paymentMethod"`
	Customer      CustomerPayload   `json:"customer"`
	Address       AddressPayload    `json:"address"`
	Shipping      ShippingPayload   `json:"shipping"`
	Items         []ItemPayload     `json:"items"`
	Subtotal      int64             `json:"subtotal"`
	Discount      int64             `json:"discount"`
	Card          *CardPayload      `json:"card,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`

	// IdempotencyKey is sent as a header, not in the body.
	IdempotencyKey string `json:"-"`
}

type CustomerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	CPF   string `json:"cpf"`
}

type AddressPayload struct {
	CEP          string `json:"cep"`
	Street       string `json:"street"`
	Number       string `json:"number"`
	Complement   string `json:"complement"`
	Neighborhood string `json:"neighborhood,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
}

type ShippingPayload struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	EstimatedDays string `json:"estimatedDays"`
}

type ItemPayload struct {
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	Tangible  bool   `json:"tangible"`
}

type CardPayload struct {
	Token        string `json:"token"`
	Installments int    `json:"installments"`
}

// GatewayConfig configures the webhook client.
type GatewayConfig struct {
	CheckoutURL string
	StatusURL   string
	HTTPClient  *http.Client
	Timeout     time.Duration
	Logger      Logger
}

// Gateway posts checkout requests and queries payment status.
type Gateway struct {
	checkoutURL string
	statusURL   string
	client      *http.Client
	logger      Logger
}

// NewGateway validates the endpoints and builds a Gateway.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	checkoutURL := strings.TrimSpace(cfg.CheckoutURL)
	statusURL := strings.TrimSpace(cfg.StatusURL)
	if checkoutURL == "" || statusURL == "" {
		return nil, errors.New("payments: gateway checkout and status urls are required")
	}
	for _, raw := range []string{checkoutURL, statusURL} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("payments: invalid gateway url %q", raw)
		}
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Gateway{checkoutURL: checkoutURL, statusURL: statusURL, client: client, logger: logger}, nil
}

// Submit posts the request and normalizes the answer for the selected method.
func (g *Gateway) Submit(ctx context.Context, method domain.PaymentMethod, req CheckoutRequest) (domain.CheckoutResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.CheckoutResult{}, fmt.Errorf("payments: encode checkout request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.checkoutURL, bytes.NewReader(body))
	if err != nil {
		return domain.CheckoutResult{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		httpReq.Header.Set("Idempotency-Key", key)
	}

	started := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.logger(ctx, "payments.gateway.submit_failed", map[string]any{"error": err.Error()})
		return domain.CheckoutResult{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayResponseBytes))
	if err != nil {
		return domain.CheckoutResult{}, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}

	g.logger(ctx, "payments.gateway.submitted", map[string]any{
		"status":        resp.StatusCode,
		"paymentMethod": method.String(),
		"durationMs":    time.Since(started).Milliseconds(),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.CheckoutResult{}, fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}

	return NormalizeCheckoutResponse(method, raw)
}

// CheckStatus fetches the current status of a transaction.
func (g *Gateway) CheckStatus(ctx context.Context, transactionID string) (domain.PaymentStatus, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return "", errors.New("payments: transaction id is required")
	}

	u, err := url.Parse(g.statusURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	q := u.Query()
	q.Set("transactionId", transactionID)
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return domain.PaymentStatus(strings.TrimSpace(out.Status)), nil
}
