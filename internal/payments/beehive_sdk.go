package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	beehiveTokenPath        = "/v1/tokens"
	beehive3DSAvailablePath = "/v1/3ds/availability"
	beehive3DSAuthPath      = "/v1/3ds/authenticate"

	maxBeehiveResponseBytes = 64 << 10
)

// BeehiveSDKConfig configures the HTTP-backed Beehive card SDK.
type BeehiveSDKConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     Logger
}

// BeehiveSDK talks to the Beehive card vault over HTTP.
type BeehiveSDK struct {
	baseURL string
	client  *http.Client
	logger  Logger

	mu       sync.RWMutex
	key      string
	testMode bool
}

// NewBeehiveSDK constructs the SDK. Outbound requests are traced through otelhttp.
func NewBeehiveSDK(cfg BeehiveSDKConfig) (*BeehiveSDK, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("beehive: base url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &BeehiveSDK{baseURL: base, client: httpClient, logger: logger}, nil
}

func (b *BeehiveSDK) SetKey(key string) {
	b.mu.Lock()
	b.key = strings.TrimSpace(key)
	b.mu.Unlock()
}

func (b *BeehiveSDK) SetTestMode(enabled bool) {
	b.mu.Lock()
	b.testMode = enabled
	b.mu.Unlock()
}

// Is3DSAvailable asks the vault whether 3-D Secure can run for the current key. Any failure
// reports false so tokenization proceeds without a challenge.
func (b *BeehiveSDK) Is3DSAvailable(ctx context.Context) bool {
	var out struct {
		Available bool `json:"available"`
	}
	if err := b.do(ctx, http.MethodGet, beehive3DSAvailablePath, nil, &out); err != nil {
		b.logger(ctx, "payments.beehive.3ds.availability_failed", map[string]any{"error": err.Error()})
		return false
	}
	return out.Available
}

// Authenticate3DS runs the challenge and fails unless the vault reports it authenticated.
func (b *BeehiveSDK) Authenticate3DS(ctx context.Context, params ThreeDSParams) error {
	payload := map[string]any{
		"amount":       params.Amount,
		"currency":     params.Currency,
		"installments": params.Installments,
		"card":         beehiveCard(params.Card),
	}
	var out struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := b.do(ctx, http.MethodPost, beehive3DSAuthPath, payload, &out); err != nil {
		return err
	}
	if !strings.EqualFold(out.Status, "authenticated") {
		if out.Reason != "" {
			return fmt.Errorf("beehive: 3ds status %q: %s", out.Status, out.Reason)
		}
		return fmt.Errorf("beehive: 3ds status %q", out.Status)
	}
	return nil
}

// Encrypt exchanges card data for a single-use card token.
func (b *BeehiveSDK) Encrypt(ctx context.Context, card Card) (string, error) {
	var out struct {
		CardToken string `json:"card_token"`
	}
	if err := b.do(ctx, http.MethodPost, beehiveTokenPath, beehiveCard(card), &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.CardToken) == "" {
		return "", errors.New("beehive: token missing from response")
	}
	return out.CardToken, nil
}

func beehiveCard(card Card) map[string]string {
	return map[string]string{
		"card_number":           card.Number,
		"card_holder_name":      card.HolderName,
		"card_expiration_month": card.ExpMonth,
		"card_expiration_year":  card.ExpYear,
		"card_cvv":              card.CVV,
	}
}

func (b *BeehiveSDK) do(ctx context.Context, method, path string, body any, out any) error {
	b.mu.RLock()
	key, testMode := b.key, b.testMode
	b.mu.RUnlock()
	if key == "" {
		return errors.New("beehive: public key not set")
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("beehive: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("beehive: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Public-Key", key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if testMode {
		req.Header.Set("X-Test-Mode", "true")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("beehive: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBeehiveResponseBytes))
	if err != nil {
		return fmt.Errorf("beehive: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("beehive: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("beehive: decode response: %w", err)
	}
	return nil
}
