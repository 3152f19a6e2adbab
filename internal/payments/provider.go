package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Logger receives structured diagnostic events from payment components.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Card is the raw card data handed to an SDK for encryption.
type Card struct {
	Number     string
	HolderName string
	ExpMonth   string
	ExpYear    string
	CVV        string
}

// ThreeDSParams describes a 3-D Secure challenge. Amount is in minor currency units.
type ThreeDSParams struct {
	Amount       int64
	Currency     string
	Installments int
	Card         Card
}

// CardSDK is the contract of an external card-payment SDK. The Tokenizer is its only caller.
type CardSDK interface {
	SetKey(key string)
	SetTestMode(enabled bool)
	Is3DSAvailable(ctx context.Context) bool
	Authenticate3DS(ctx context.Context, params ThreeDSParams) error
	Encrypt(ctx context.Context, card Card) (string, error)
}

// Manager selects the card SDK for the configured provider.
type Manager struct {
	providers       map[string]CardSDK
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when callers do not ask for one.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.TrimSpace(strings.ToLower(provider))
	}
}

// NewManager constructs a Manager over the supplied SDKs.
func NewManager(providers map[string]CardSDK, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]CardSDK, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap}
	if _, ok := copyMap["beehive"]; ok {
		m.defaultProvider = "beehive"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// SDK resolves the SDK for provider, falling back to the default and then to a sole registration.
func (m *Manager) SDK(provider string) (string, CardSDK, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, ErrUnsupportedProvider
	}
	if key := strings.TrimSpace(strings.ToLower(provider)); key != "" {
		if sdk, ok := m.providers[key]; ok {
			return key, sdk, nil
		}
		return "", nil, ErrUnsupportedProvider
	}
	if m.defaultProvider != "" {
		if sdk, ok := m.providers[m.defaultProvider]; ok {
			return m.defaultProvider, sdk, nil
		}
	}
	if len(m.providers) == 1 {
		for key, sdk := range m.providers {
			return key, sdk, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}
