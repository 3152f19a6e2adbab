package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jfbeehive/swift-checkout/internal/domain"
	"github.com/jfbeehive/swift-checkout/internal/payments"
	"github.com/jfbeehive/swift-checkout/internal/session"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrSessionNotFound indicates the checkout session does not exist or expired.
	ErrSessionNotFound = errors.New("checkout: session not found")
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	CartLine          = domain.CartLine
	CustomerInfo      = domain.CustomerInfo
	ShippingAddress   = domain.ShippingAddress
	PaymentSelection  = domain.PaymentSelection
	PriceBreakdown    = domain.PriceBreakdown
	InstallmentOption = domain.InstallmentOption
	CheckoutResult    = domain.CheckoutResult
)

// CheckoutService drives one buyer's checkout session from cart edits to a settled payment.
type CheckoutService interface {
	CreateSession(ctx context.Context, cmd CreateSessionCommand) (SessionView, error)
	GetSession(ctx context.Context, sessionID string) (SessionView, error)
	UpdateCustomer(ctx context.Context, sessionID string, customer CustomerInfo) (SessionView, error)
	UpdateAddress(ctx context.Context, sessionID string, address ShippingAddress) (SessionView, error)
	SelectShipping(ctx context.Context, sessionID string, shippingID string) (SessionView, error)
	SelectPayment(ctx context.Context, sessionID string, selection PaymentSelection) (SessionView, error)
	ChangeQuantity(ctx context.Context, cmd ChangeQuantityCommand) (SessionView, error)
	RemoveLine(ctx context.Context, sessionID string, lineID string) (SessionView, error)
	AddBump(ctx context.Context, sessionID string, productID string) (SessionView, error)
	Submit(ctx context.Context, cmd SubmitCheckoutCommand) (SessionView, error)
	Back(ctx context.Context, sessionID string) (SessionView, error)
	Reset(ctx context.Context, sessionID string) (SessionView, error)
	DismissError(ctx context.Context, sessionID string) (SessionView, error)
}

// CardTokenizer exchanges raw card details for a single-use token.
type CardTokenizer interface {
	Tokenize(ctx context.Context, card domain.CardDetails, total decimal.Decimal) (string, error)
}

// PaymentGateway posts checkout requests and queries transaction status.
type PaymentGateway interface {
	Submit(ctx context.Context, method domain.PaymentMethod, req payments.CheckoutRequest) (domain.CheckoutResult, error)
	CheckStatus(ctx context.Context, transactionID string) (domain.PaymentStatus, error)
}

// StatusPoller watches a pending transaction until it is paid or stopped.
type StatusPoller interface {
	Start(ctx context.Context, transactionID string, onPaid func()) (stop func())
}

// AddressLookup resolves a postal code to a street name. Failures yield "".
type AddressLookup interface {
	LookupStreet(ctx context.Context, postalCode string) string
}

// CheckoutEventPublisher accepts checkout lifecycle notifications for downstream processing.
type CheckoutEventPublisher interface {
	PublishCheckoutEvent(ctx context.Context, event CheckoutEvent) error
}

// CreateSessionCommand opens a session, optionally importing an external cart.
type CreateSessionCommand struct {
	Cart     string
	Items    string
	Discount string
}

// ChangeQuantityCommand adjusts a cart line by Delta.
type ChangeQuantityCommand struct {
	SessionID string
	LineID    string
	Delta     int
}

// SubmitCheckoutCommand triggers a checkout attempt. IdempotencyKey is forwarded to the gateway
// when present; otherwise a fresh key is generated per attempt.
type SubmitCheckoutCommand struct {
	SessionID      string
	IdempotencyKey string
}

// SessionView is the read model returned by every session operation.
type SessionView struct {
	Session      session.Snapshot
	Breakdown    PriceBreakdown
	Installments []InstallmentOption
}

// CheckoutEventType enumerates published lifecycle events.
type CheckoutEventType string

const (
	CheckoutEventPaymentPending CheckoutEventType = "checkout.payment_pending"
	CheckoutEventPaid           CheckoutEventType = "checkout.paid"
	CheckoutEventDeclined       CheckoutEventType = "checkout.declined"
)

// CheckoutEvent is the message published for lifecycle transitions.
type CheckoutEvent struct {
	Type          CheckoutEventType `json:"type"`
	SessionID     string            `json:"sessionId"`
	TransactionID string            `json:"transactionId,omitempty"`
	PaymentMethod string            `json:"paymentMethod"`
	Status        string            `json:"status,omitempty"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Message       string            `json:"message,omitempty"`
	OccurredAt    time.Time         `json:"occurredAt"`
}
