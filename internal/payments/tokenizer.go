package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jfbeehive/swift-checkout/internal/domain"
)

// TokenizerConfig wires the SDK handle and its public key.
type TokenizerConfig struct {
	SDK       CardSDK
	PublicKey string
	TestMode  bool
	Currency  string
	Logger    Logger
}

// Tokenizer turns raw card details into a single-use token, running 3-D Secure first when the SDK
// supports it.
type Tokenizer struct {
	sdk       CardSDK
	publicKey string
	testMode  bool
	currency  string
	logger    Logger
}

// NewTokenizer builds a Tokenizer. A missing SDK or key is reported by Tokenize so that every
// checkout attempt surfaces the configuration problem to the buyer.
func NewTokenizer(cfg TokenizerConfig) *Tokenizer {
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = domain.Currency
	}
	return &Tokenizer{
		sdk:       cfg.SDK,
		publicKey: strings.TrimSpace(cfg.PublicKey),
		testMode:  cfg.TestMode,
		currency:  currency,
		logger:    logger,
	}
}

// Tokenize returns a card token for the given total.
func (t *Tokenizer) Tokenize(ctx context.Context, details domain.CardDetails, total decimal.Decimal) (string, error) {
	if t == nil || t.sdk == nil {
		return "", fmt.Errorf("%w: sdk handle unavailable", ErrConfiguration)
	}
	if t.publicKey == "" {
		return "", fmt.Errorf("%w: public key missing", ErrConfiguration)
	}

	t.sdk.SetKey(t.publicKey)
	t.sdk.SetTestMode(t.testMode)

	card := Card{
		Number:     digitsOnly(details.Number),
		HolderName: strings.TrimSpace(details.HolderName),
		ExpMonth:   twoDigitMonth(details.ExpMonth),
		ExpYear:    strings.TrimSpace(details.ExpYear),
		CVV:        digitsOnly(details.CVV),
	}

	if t.sdk.Is3DSAvailable(ctx) {
		installments := details.Installments
		if installments < 1 {
			installments = 1
		}
		params := ThreeDSParams{
			Amount:       domain.ToMinorUnits(total),
			Currency:     t.currency,
			Installments: installments,
			Card:         card,
		}
		if err := t.sdk.Authenticate3DS(ctx, params); err != nil {
			t.logger(ctx, "tokenizer.3ds_failed", map[string]any{
				"installments": installments,
				"error":        err.Error(),
			})
			return "", fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
	}

	token, err := t.sdk.Encrypt(ctx, card)
	if err != nil {
		t.logger(ctx, "tokenizer.encrypt_failed", map[string]any{"error": err.Error()})
		return "", fmt.Errorf("%w: %w", ErrTokenization, err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrTokenization)
	}
	return token, nil
}

func digitsOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func twoDigitMonth(value string) string {
	value = digitsOnly(value)
	if len(value) == 1 {
		return "0" + value
	}
	return value
}
