package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jfbeehive/swift-checkout/internal/platform/addresslookup"
	"github.com/jfbeehive/swift-checkout/internal/platform/httpx"
	"github.com/jfbeehive/swift-checkout/internal/platform/requestctx"
)

// AddressResolver resolves a postal code to an address.
type AddressResolver interface {
	Lookup(ctx context.Context, postalCode string) (addresslookup.Address, error)
}

// AddressHandlers exposes the postal code prefill endpoint.
type AddressHandlers struct {
	resolver AddressResolver
}

// NewAddressHandlers constructs the handlers. A nil resolver answers every lookup as not found.
func NewAddressHandlers(resolver AddressResolver) *AddressHandlers {
	return &AddressHandlers{resolver: resolver}
}

// Routes registers GET /address-lookup/{postalCode}.
func (h *AddressHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{postalCode}", h.lookup)
}

type addressLookupResponse struct {
	Found bool `json:"found"`
	addresslookup.Address
}

// lookup never fails because of the upstream: the form simply stays empty.
func (h *AddressHandlers) lookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	postalCode := chi.URLParam(r, "postalCode")

	if h.resolver == nil {
		writeJSONResponse(w, http.StatusOK, addressLookupResponse{})
		return
	}

	addr, err := h.resolver.Lookup(ctx, postalCode)
	switch {
	case errors.Is(err, addresslookup.ErrInvalidPostalCode):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_postal_code", err.Error(), http.StatusBadRequest))
		return
	case err != nil:
		if !errors.Is(err, addresslookup.ErrNotFound) {
			requestctx.Logger(ctx).Warn("address lookup failed", zap.Error(err))
		}
		writeJSONResponse(w, http.StatusOK, addressLookupResponse{})
		return
	}
	writeJSONResponse(w, http.StatusOK, addressLookupResponse{Found: true, Address: addr})
}
