package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jfbeehive/swift-checkout/internal/domain"
	"github.com/jfbeehive/swift-checkout/internal/platform/observability"
	"github.com/jfbeehive/swift-checkout/internal/platform/requestctx"
	"github.com/jfbeehive/swift-checkout/internal/services"
	"github.com/jfbeehive/swift-checkout/internal/session"
)

const defaultIdempotencyHeader = "Idempotency-Key"

// CheckoutHandlers exposes the checkout session lifecycle over HTTP.
type CheckoutHandlers struct {
	checkout          services.CheckoutService
	idempotencyHeader string
	submitMiddlewares []func(http.Handler) http.Handler
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithIdempotencyHeader sets the header whose value is forwarded to the gateway as idempotency key.
func WithIdempotencyHeader(name string) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if name = strings.TrimSpace(name); name != "" {
			h.idempotencyHeader = name
		}
	}
}

// WithSubmitMiddlewares wraps the checkout submission route. They run after the session id is on the context.
func WithSubmitMiddlewares(mw ...func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.submitMiddlewares = append(h.submitMiddlewares, mw...)
	}
}

// NewCheckoutHandlers constructs the session handlers.
func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		checkout:          checkout,
		idempotencyHeader: defaultIdempotencyHeader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /sessions endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createSession)
	r.Route("/{"+observability.SessionIDParam+"}", func(sr chi.Router) {
		sr.Use(sessionContext)
		sr.Get("/", h.getSession)
		sr.Put("/customer", h.updateCustomer)
		sr.Put("/address", h.updateAddress)
		sr.Put("/shipping", h.selectShipping)
		sr.Put("/payment", h.selectPayment)
		sr.Post("/cart/{lineID}/quantity", h.changeQuantity)
		sr.Delete("/cart/{lineID}", h.removeLine)
		sr.Post("/bumps/{productID}", h.addBump)
		sr.With(h.submitMiddlewares...).Post("/checkout", h.submit)
		sr.Post("/back", h.back)
		sr.Post("/reset", h.reset)
		sr.Delete("/error", h.dismissError)
	})
}

type createSessionRequest struct {
	Cart     string `json:"cart"`
	Items    string `json:"items"`
	Discount string `json:"discount"`
}

type paymentRequest struct {
	Method string       `json:"method"`
	Card   *cardRequest `json:"card"`
}

type cardRequest struct {
	Number       string `json:"number"`
	HolderName   string `json:"holderName"`
	ExpMonth     string `json:"expMonth"`
	ExpYear      string `json:"expYear"`
	CVV          string `json:"cvv"`
	Installments int    `json:"installments"`
}

type shippingRequest struct {
	ShippingID string `json:"shippingId"`
}

type quantityRequest struct {
	Delta *int `json:"delta"`
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createSessionRequest
	if err := decodeJSONBody(r, &req, true); err != nil {
		writeRequestError(ctx, w, err)
		return
	}
	// Storefront redirects carry the cart in the query string.
	query := r.URL.Query()
	if req.Cart == "" {
		req.Cart = query.Get("cart")
	}
	if req.Items == "" {
		req.Items = query.Get("items")
	}
	if req.Discount == "" {
		req.Discount = query.Get("discount")
	}

	view, err := h.checkout.CreateSession(ctx, services.CreateSessionCommand{
		Cart:     req.Cart,
		Items:    req.Items,
		Discount: req.Discount,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err, nil)
		return
	}
	w.Header().Set("Location", strings.TrimRight(r.URL.Path, "/")+"/"+view.Session.ID)
	writeJSONResponse(w, http.StatusCreated, newSessionPayload(view))
}

func (h *CheckoutHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.checkout.GetSession(r.Context(), sessionIDParam(r))
	h.respond(w, r, view, err)
}

func (h *CheckoutHandlers) updateCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerPayload
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeRequestError(r.Context(), w, err)
		return
	}
	view, err := h.checkout.UpdateCustomer(r.Context(), sessionIDParam(r), domain.CustomerInfo(req))
	h.respond(w, r, view, err)
}

func (h *CheckoutHandlers) updateAddress(w http.ResponseWriter, r *http.Request) {
	var req addressPayload
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeRequestError(r.Context(), w, err)
		return
	}
	view, err := h.checkout.UpdateAddress(r.Context(), sessionIDParam(r), domain.ShippingAddress(req))
	h.respond(w, r, view, err)
}

func (h *CheckoutHandlers) selectShipping(w http.ResponseWriter, r *http.Request) {
	var req shippingRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeRequestError(r.Context(), w, err)
		return
	}
	view, err := h.checkout.SelectShipping(r.Context(), sessionIDParam(r), req.ShippingID)
	h.respond(w, r, view, err)
}

func (h *CheckoutHandlers) selectPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req paymentRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeRequestError(ctx, w, err)
		return
	}
	method, ok := domain.ParsePaymentMethod(req.Method)
	if !ok {
		writeCheckoutError(ctx, w, session.ErrInvalidPaymentMethod, nil)
		return
	}

	selection := domain.PaymentSelection{Method: method}
	if req.Card != nil {
		selection.Card = &domain.CardDetails{
			Number:       req.Card.Number,
			HolderName:   req.Card.HolderName,
			ExpMonth:     req.Card.ExpMonth,
			ExpYear:      req.Card.ExpYear,
			CVV:          req.Card.CVV,
			Installments: req.Card.Installments,
		}
	}
	view, err := h.checkout.SelectPayment(ctx, sessionIDParam(r), selection)
	h.respond(w, r, view, err)
}

func (h *CheckoutHandlers) changeQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req quantityRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		writeRequestError(ctx, w, err)
		return
	}
	if req.Delta == nil {
		writeCheckoutError(ctx, w, services.ErrCheckoutInvalidInput, nil)
		return
	}
	view, err := h.checkout.ChangeQuantity(ctx, services.ChangeQuantityCommand{
		SessionID: sessionIDParam(r),
		LineID:    chi.URLParam(r, "lineID"),
		Delta:     *req.Delta,
	})
	h.respond(w, r, view, err)
}

func (h *CheckoutHandlers) removeLine(w http.ResponseWriter, r *http.Request) {
	view, err := h.checkout.RemoveLine(r.Context(), sessionIDParam(r), chi.URLParam(r, "lineID"))
	h.respond(w, r, view, err)
}

func (h *CheckoutHandlers) addBump(w http.ResponseWriter, r *http.Request) {
	view, err := h.checkout.AddBump(r.Context(), sessionIDParam(r), chi.URLParam(r, "productID"))
	h.respond(w, r, view, err)
}

// submit runs one checkout attempt. Payment failures still return the updated session so the
// banner can be shown.
func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.checkout.Submit(ctx, services.SubmitCheckoutCommand{
		SessionID:      sessionIDParam(r),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(h.idempotencyHeader)),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err, &view)
		return
	}
	writeJSONResponse(w, http.StatusOK, newSessionPayload(view))
}

func (h *CheckoutHandlers) back(w http.ResponseWriter, r *http.Request) {
	view, err := h.checkout.Back(r.Context(), sessionIDParam(r))
	h.respond(w, r, view, err)
}

func (h *CheckoutHandlers) reset(w http.ResponseWriter, r *http.Request) {
	view, err := h.checkout.Reset(r.Context(), sessionIDParam(r))
	h.respond(w, r, view, err)
}

func (h *CheckoutHandlers) dismissError(w http.ResponseWriter, r *http.Request) {
	view, err := h.checkout.DismissError(r.Context(), sessionIDParam(r))
	h.respond(w, r, view, err)
}

func (h *CheckoutHandlers) respond(w http.ResponseWriter, r *http.Request, view services.SessionView, err error) {
	if err != nil {
		writeCheckoutError(r.Context(), w, err, nil)
		return
	}
	writeJSONResponse(w, http.StatusOK, newSessionPayload(view))
}

func sessionIDParam(r *http.Request) string {
	if id := requestctx.SessionID(r.Context()); id != "" {
		return id
	}
	return strings.TrimSpace(chi.URLParam(r, observability.SessionIDParam))
}

// sessionContext records the addressed session on the request context and request logger.
func sessionContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(chi.URLParam(r, observability.SessionIDParam))
		ctx := withSession(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func withSession(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	ctx = requestctx.WithSessionID(ctx, id)
	logger := requestctx.Logger(ctx).With(zap.String("session_id", observability.SanitizeSessionID(id)))
	return requestctx.WithLogger(ctx, logger)
}
