package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/jfbeehive/swift-checkout/internal/payments"
	"github.com/jfbeehive/swift-checkout/internal/platform/httpx"
	"github.com/jfbeehive/swift-checkout/internal/services"
	"github.com/jfbeehive/swift-checkout/internal/session"
)

// writeCheckoutError maps service, session and payment errors onto the API error envelope. When
// view is non-nil the updated session is attached so clients can render the banner.
func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error, view *services.SessionView) {
	if err == nil {
		return
	}

	var (
		validation *services.ValidationError
		declined   *payments.PaymentDeclinedError
		apiErr     httpx.Error
	)
	switch {
	case errors.As(err, &validation):
		apiErr = httpx.NewError("validation_failed", "one or more fields are invalid", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"fields": map[string]string(validation.Fields)})
	case errors.As(err, &declined):
		apiErr = httpx.NewError("payment_declined", err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, services.ErrSessionNotFound):
		apiErr = httpx.NewError("session_not_found", "checkout session not found", http.StatusNotFound)
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		apiErr = httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, session.ErrPhaseConflict):
		apiErr = httpx.NewError("phase_conflict", err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrCheckoutInProgress):
		apiErr = httpx.NewError("checkout_in_progress", err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrLineNotFound):
		apiErr = httpx.NewError("line_not_found", err.Error(), http.StatusNotFound)
	case errors.Is(err, session.ErrUnknownBump):
		apiErr = httpx.NewError("bump_not_found", err.Error(), http.StatusNotFound)
	case errors.Is(err, session.ErrUnknownShipping):
		apiErr = httpx.NewError("unknown_shipping", err.Error(), http.StatusBadRequest)
	case errors.Is(err, session.ErrInvalidPaymentMethod):
		apiErr = httpx.NewError("invalid_payment_method", err.Error(), http.StatusBadRequest)
	case errors.Is(err, payments.ErrAuthentication):
		apiErr = httpx.NewError("authentication_failed", err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, payments.ErrConfiguration), errors.Is(err, services.ErrCheckoutUnavailable):
		apiErr = httpx.NewError("payment_unavailable", err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, payments.ErrTokenization):
		apiErr = httpx.NewError("tokenization_failed", err.Error(), http.StatusBadGateway)
	case errors.Is(err, payments.ErrMissingPaymentData):
		apiErr = httpx.NewError("missing_payment_data", err.Error(), http.StatusBadGateway)
	case errors.Is(err, payments.ErrInvalidResponse):
		apiErr = httpx.NewError("invalid_gateway_response", err.Error(), http.StatusBadGateway)
	case errors.Is(err, payments.ErrTransport):
		apiErr = httpx.NewError("gateway_unavailable", err.Error(), http.StatusBadGateway)
	default:
		apiErr = httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError)
	}

	if view != nil && view.Session.ID != "" {
		details := map[string]any{"session": newSessionPayload(*view)}
		if view.Session.Error != "" {
			details["banner"] = view.Session.Error
		}
		apiErr = apiErr.WithDetails(details)
	}

	httpx.WriteError(ctx, w, apiErr)
}

func writeRequestError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}
