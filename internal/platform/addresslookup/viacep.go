// Package addresslookup resolves Brazilian postal codes through the public ViaCEP API.
package addresslookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBaseURL  = "https://viacep.com.br/ws"
	defaultTimeout  = 5 * time.Second
	maxResponseSize = 64 << 10
	postalCodeLen   = 8
)

var (
	// ErrInvalidPostalCode is returned when the input does not carry exactly eight digits.
	ErrInvalidPostalCode = errors.New("addresslookup: postal code must have 8 digits")
	// ErrNotFound is returned when ViaCEP answers with erro:true.
	ErrNotFound = errors.New("addresslookup: postal code not found")
)

// Address is the subset of the ViaCEP payload used to prefill the shipping form.
type Address struct {
	PostalCode   string `json:"postalCode"`
	Street       string `json:"street"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	State        string `json:"state"`
}

type viaCEPResponse struct {
	CEP        string `json:"cep"`
	Logradouro string `json:"logradouro"`
	Bairro     string `json:"bairro"`
	Localidade string `json:"localidade"`
	UF         string `json:"uf"`
	Erro       any    `json:"erro"`
}

// Config configures the ViaCEP client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// ViaCEP looks up addresses by postal code. Concurrent lookups of the same code share one request.
type ViaCEP struct {
	baseURL string
	client  *http.Client
	logger  func(ctx context.Context, event string, fields map[string]any)
	group   singleflight.Group
}

// NewViaCEP constructs the client.
func NewViaCEP(cfg Config) *ViaCEP {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
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
	return &ViaCEP{baseURL: baseURL, client: client, logger: logger}
}

// Lookup fetches the address for the postal code. Non-digit characters are ignored.
func (v *ViaCEP) Lookup(ctx context.Context, postalCode string) (Address, error) {
	cep := digits(postalCode)
	if len(cep) != postalCodeLen {
		return Address{}, ErrInvalidPostalCode
	}

	result, err, _ := v.group.Do(cep, func() (any, error) {
		return v.fetch(ctx, cep)
	})
	if err != nil {
		return Address{}, err
	}
	return result.(Address), nil
}

// LookupStreet returns the street for the postal code, or "" when the lookup fails for any reason.
func (v *ViaCEP) LookupStreet(ctx context.Context, postalCode string) string {
	addr, err := v.Lookup(ctx, postalCode)
	if err != nil {
		if !errors.Is(err, ErrInvalidPostalCode) {
			v.logger(ctx, "address_lookup_failed", map[string]any{"error": err.Error()})
		}
		return ""
	}
	return addr.Street
}

func (v *ViaCEP) fetch(ctx context.Context, cep string) (Address, error) {
	endpoint := fmt.Sprintf("%s/%s/json/", v.baseURL, cep)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Address{}, fmt.Errorf("addresslookup: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return Address{}, fmt.Errorf("addresslookup: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return Address{}, fmt.Errorf("addresslookup: unexpected status %d", resp.StatusCode)
	}

	var payload viaCEPResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&payload); err != nil {
		return Address{}, fmt.Errorf("addresslookup: decode response: %w", err)
	}
	if flagged(payload.Erro) {
		return Address{}, ErrNotFound
	}

	return Address{
		PostalCode:   cep,
		Street:       strings.TrimSpace(payload.Logradouro),
		Neighborhood: strings.TrimSpace(payload.Bairro),
		City:         strings.TrimSpace(payload.Localidade),
		State:        strings.TrimSpace(payload.UF),
	}, nil
}

// flagged accepts both erro:true and the legacy erro:"true".
func flagged(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return strings.EqualFold(strings.TrimSpace(val), "true")
	default:
		return false
	}
}

func digits(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
