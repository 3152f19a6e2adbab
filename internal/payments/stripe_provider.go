package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripeTokenAPI interface {
	New(params *stripe.TokenParams) (*stripe.Token, error)
}

type stripeClients struct {
	tokens stripeTokenAPI
}

// StripeSDKConfig configures the StripeSDK.
type StripeSDKConfig struct {
	AccountID string
	Backends  *stripe.Backends
	Logger    Logger
	Clients   *stripeClients
}

// StripeSDK implements CardSDK on top of Stripe's token API. Stripe tokens carry no 3-D Secure
// challenge, so Is3DSAvailable always reports false.
type StripeSDK struct {
	mu       sync.Mutex
	key      string
	testMode bool
	api      stripeClients
	injected bool
	backends *stripe.Backends
	account  string
	logger   Logger
}

// NewStripeSDK constructs a Stripe-backed card SDK. The client is built lazily on SetKey.
func NewStripeSDK(cfg StripeSDKConfig) (*StripeSDK, error) {
	sdk := &StripeSDK{
		backends: cfg.Backends,
		account:  strings.TrimSpace(cfg.AccountID),
		logger:   cfg.Logger,
	}
	if cfg.Clients != nil {
		if cfg.Clients.tokens == nil {
			return nil, errors.New("stripe: incomplete client configuration")
		}
		sdk.api = *cfg.Clients
		sdk.injected = true
	}
	if sdk.logger == nil {
		sdk.logger = func(context.Context, string, map[string]any) {}
	}
	return sdk, nil
}

// SetKey installs the publishable key and rebuilds the API client when it changes.
func (s *StripeSDK) SetKey(key string) {
	key = strings.TrimSpace(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == s.key {
		return
	}
	s.key = key
	if !s.injected && key != "" {
		sc := client.New(key, s.backends)
		s.api = stripeClients{tokens: sc.Tokens}
	}
}

// SetTestMode marks whether only test keys may be used.
func (s *StripeSDK) SetTestMode(enabled bool) {
	s.mu.Lock()
	s.testMode = enabled
	s.mu.Unlock()
}

// Is3DSAvailable always reports false for the token flow.
func (s *StripeSDK) Is3DSAvailable(context.Context) bool { return false }

// Authenticate3DS is not supported by the token flow.
func (s *StripeSDK) Authenticate3DS(context.Context, ThreeDSParams) error {
	return errors.New("stripe: 3-D Secure is not available for card tokens")
}

// Encrypt creates a single-use card token.
func (s *StripeSDK) Encrypt(ctx context.Context, card Card) (string, error) {
	s.mu.Lock()
	key, testMode, api := s.key, s.testMode, s.api
	s.mu.Unlock()

	if key == "" || api.tokens == nil {
		return "", errors.New("stripe: publishable key not set")
	}
	if testMode && !s.injected && !strings.Contains(key, "_test_") {
		return "", errors.New("stripe: live key used while test mode is enabled")
	}

	params := &stripe.TokenParams{
		Card: &stripe.CardParams{
			Number:   stripe.String(card.Number),
			ExpMonth: stripe.String(card.ExpMonth),
			ExpYear:  stripe.String(card.ExpYear),
			CVC:      stripe.String(card.CVV),
			Name:     stripe.String(card.HolderName),
		},
	}
	params.Context = ctx
	if s.account != "" {
		params.SetStripeAccount(s.account)
	}

	token, err := api.tokens.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create card token: %w", err)
	}
	if token == nil || strings.TrimSpace(token.ID) == "" {
		return "", errors.New("stripe: empty token response")
	}

	fields := map[string]any{"token": token.ID, "livemode": token.Livemode}
	if token.Card != nil {
		fields["brand"] = strings.ToLower(string(token.Card.Brand))
		fields["last4"] = strings.TrimSpace(token.Card.Last4)
	}
	s.logger(ctx, "payments.stripe.token.created", fields)

	return token.ID, nil
}
