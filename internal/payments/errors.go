package payments

import (
	"errors"
	"strings"
)

var (
	// ErrConfiguration indicates the card SDK or its public key is missing.
	ErrConfiguration = errors.New("payments: payment sdk not configured")
	// ErrAuthentication indicates the 3-D Secure challenge was declined or failed.
	ErrAuthentication = errors.New("payments: 3-D Secure authentication failed")
	// ErrTokenization indicates the SDK could not produce a card token.
	ErrTokenization = errors.New("payments: card tokenization failed")
	// ErrTransport indicates the gateway could not be reached or answered with a non-2xx status.
	ErrTransport = errors.New("payments: gateway transport failure")
	// ErrInvalidResponse indicates the gateway answered with a malformed or incomplete payload.
	ErrInvalidResponse = errors.New("payments: invalid gateway response")
	// ErrMissingPaymentData indicates the response lacks the Pix or boleto data the buyer needs.
	ErrMissingPaymentData = errors.New("payments: payment data missing from gateway response")
	// ErrPaymentDeclined indicates the gateway explicitly refused the payment.
	ErrPaymentDeclined = errors.New("payments: payment declined")
	// ErrUnsupportedProvider is returned when the manager cannot locate a card SDK.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
)

// PaymentDeclinedError carries the gateway's optional explanation for a refusal.
type PaymentDeclinedError struct {
	Message string
}

func (e *PaymentDeclinedError) Error() string {
	if e == nil || strings.TrimSpace(e.Message) == "" {
		return ErrPaymentDeclined.Error()
	}
	return ErrPaymentDeclined.Error() + ": " + e.Message
}

// Is matches ErrPaymentDeclined.
func (e *PaymentDeclinedError) Is(target error) bool {
	return target == ErrPaymentDeclined
}
