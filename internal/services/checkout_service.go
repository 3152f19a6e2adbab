package services

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/jfbeehive/swift-checkout/internal/catalog"
	"github.com/jfbeehive/swift-checkout/internal/domain"
	"github.com/jfbeehive/swift-checkout/internal/payments"
	"github.com/jfbeehive/swift-checkout/internal/session"
)

const defaultCheckoutSource = "swift-checkout"

// Banner messages shown to the buyer when a submission fails.
const (
	msgValidation     = "Por favor, preencha todos os campos obrigatórios."
	msgConfiguration  = "Pagamento com cartão indisponível no momento."
	msgAuthentication = "Falha na autenticação do cartão."
	msgTokenization   = "Não foi possível processar os dados do cartão."
	msgTransport      = "Falha ao processar checkout"
	msgInvalid        = "Resposta inválida do servidor"
	msgMissingPix     = "Dados do Pix não encontrados"
	msgMissingBoleto  = "Dados do boleto não encontrados"
	msgDeclined       = "Pagamento recusado"
	msgGeneric        = "Erro ao processar pedido"
)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Sessions  *session.Store
	Catalog   catalog.Catalog
	Tokenizer CardTokenizer
	Gateway   PaymentGateway
	Poller    StatusPoller
	Addresses AddressLookup
	Events    CheckoutEventPublisher
	// PollContext bounds every status poller; cancel it on shutdown.
	PollContext context.Context
	Source      string
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	KeyGen      func() string
}

type checkoutService struct {
	sessions  *session.Store
	catalog   catalog.Catalog
	tokenizer CardTokenizer
	gateway   PaymentGateway
	poller    StatusPoller
	addresses AddressLookup
	events    CheckoutEventPublisher
	pollCtx   context.Context
	source    string
	sanitizer *bluemonday.Policy
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
	newKey    func() string
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("checkout service: session store is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}
	if deps.Poller == nil {
		return nil, errors.New("checkout service: status poller is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	keyGen := deps.KeyGen
	if keyGen == nil {
		keyGen = uuid.NewString
	}
	pollCtx := deps.PollContext
	if pollCtx == nil {
		pollCtx = context.Background()
	}
	source := strings.TrimSpace(deps.Source)
	if source == "" {
		source = defaultCheckoutSource
	}

	return &checkoutService{
		sessions:  deps.Sessions,
		catalog:   deps.Catalog,
		tokenizer: deps.Tokenizer,
		gateway:   deps.Gateway,
		poller:    deps.Poller,
		addresses: deps.Addresses,
		events:    deps.Events,
		pollCtx:   pollCtx,
		source:    source,
		sanitizer: bluemonday.StrictPolicy(),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		newKey: keyGen,
	}, nil
}

// CreateSession opens a session from the catalog's initial cart or from an imported external cart.
func (s *checkoutService) CreateSession(ctx context.Context, cmd CreateSessionCommand) (SessionView, error) {
	seed := session.Seed{}
	if imported, ok := ImportCart(cmd.Cart, cmd.Items, cmd.Discount); ok {
		seed.Lines = imported.Lines
		seed.Customer = imported.Customer
		seed.DiscountCode = imported.DiscountCode
		s.logger(ctx, "checkout.session.cart_imported", map[string]any{
			"lines":        len(imported.Lines),
			"discountCode": imported.DiscountCode,
		})
	} else if strings.TrimSpace(cmd.Cart) != "" || strings.TrimSpace(cmd.Items) != "" {
		s.logger(ctx, "checkout.session.cart_import_ignored", nil)
	}

	sess := s.sessions.Create(seed)
	s.logger(ctx, "checkout.session.created", map[string]any{"sessionId": sess.ID()})
	return s.view(sess), nil
}

func (s *checkoutService) GetSession(_ context.Context, sessionID string) (SessionView, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return SessionView{}, err
	}
	return s.view(sess), nil
}

func (s *checkoutService) UpdateCustomer(_ context.Context, sessionID string, customer CustomerInfo) (SessionView, error) {
	return s.mutate(sessionID, func(sess *session.Session) error {
		return sess.SetCustomer(customer)
	})
}

// UpdateAddress stores the address, prefilling the street from the postal code when it is blank.
func (s *checkoutService) UpdateAddress(ctx context.Context, sessionID string, address ShippingAddress) (SessionView, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return SessionView{}, err
	}
	if strings.TrimSpace(address.Street) == "" && s.addresses != nil && len(DigitsOnly(address.PostalCode)) == 8 {
		address.Street = s.addresses.LookupStreet(ctx, DigitsOnly(address.PostalCode))
	}
	if err := sess.SetAddress(address); err != nil {
		return SessionView{}, err
	}
	return s.view(sess), nil
}

func (s *checkoutService) SelectShipping(_ context.Context, sessionID string, shippingID string) (SessionView, error) {
	return s.mutate(sessionID, func(sess *session.Session) error {
		return sess.SelectShipping(shippingID)
	})
}

func (s *checkoutService) SelectPayment(_ context.Context, sessionID string, selection PaymentSelection) (SessionView, error) {
	return s.mutate(sessionID, func(sess *session.Session) error {
		return sess.SelectPayment(selection)
	})
}

func (s *checkoutService) ChangeQuantity(_ context.Context, cmd ChangeQuantityCommand) (SessionView, error) {
	return s.mutate(cmd.SessionID, func(sess *session.Session) error {
		return sess.ChangeQuantity(cmd.LineID, cmd.Delta)
	})
}

func (s *checkoutService) RemoveLine(_ context.Context, sessionID string, lineID string) (SessionView, error) {
	return s.mutate(sessionID, func(sess *session.Session) error {
		return sess.RemoveLine(lineID)
	})
}

func (s *checkoutService) AddBump(_ context.Context, sessionID string, productID string) (SessionView, error) {
	return s.mutate(sessionID, func(sess *session.Session) error {
		return sess.AddBump(productID)
	})
}

func (s *checkoutService) Back(ctx context.Context, sessionID string) (SessionView, error) {
	view, err := s.mutate(sessionID, func(sess *session.Session) error {
		return sess.Back()
	})
	if err == nil {
		s.logger(ctx, "checkout.session.back", map[string]any{"sessionId": sessionID})
	}
	return view, err
}

func (s *checkoutService) Reset(ctx context.Context, sessionID string) (SessionView, error) {
	view, err := s.mutate(sessionID, func(sess *session.Session) error {
		sess.Reset()
		return nil
	})
	if err == nil {
		s.logger(ctx, "checkout.session.reset", map[string]any{"sessionId": sessionID})
	}
	return view, err
}

func (s *checkoutService) DismissError(_ context.Context, sessionID string) (SessionView, error) {
	return s.mutate(sessionID, func(sess *session.Session) error {
		sess.DismissError()
		return nil
	})
}

// Submit validates the forms, tokenizes the card for credit payments, posts the checkout and
// applies the normalized result. Every failure keeps the session in checkout with a banner
// message and returns the underlying error.
func (s *checkoutService) Submit(ctx context.Context, cmd SubmitCheckoutCommand) (SessionView, error) {
	sess, err := s.lookup(cmd.SessionID)
	if err != nil {
		return SessionView{}, err
	}

	sub, err := sess.BeginSubmission()
	if err != nil {
		return SessionView{}, err
	}

	breakdown := CalculateBreakdown(sub.Cart, s.catalog.ShippingOptions, sub.ShippingID, sub.Payment.Method)
	fields := map[string]any{
		"sessionId":     sub.SessionID,
		"paymentMethod": sub.Payment.Method.String(),
		"amount":        domain.ToMinorUnits(breakdown.Total),
	}

	if err := ValidateCheckout(sub.Customer, sub.Address, sub.Payment); err != nil {
		return s.fail(ctx, sess, sub, err, fields)
	}

	req := s.buildRequest(sub, breakdown, cmd.IdempotencyKey)

	if sub.Payment.Method == domain.PaymentMethodCredit {
		if s.tokenizer == nil {
			return s.fail(ctx, sess, sub, payments.ErrConfiguration, fields)
		}
		token, err := s.tokenizer.Tokenize(ctx, *sub.Payment.Card, breakdown.Total)
		if err != nil {
			return s.fail(ctx, sess, sub, err, fields)
		}
		installments := sub.Payment.Card.Installments
		if installments < 1 {
			installments = 1
		}
		req.Card = &payments.CardPayload{Token: token, Installments: installments}
	}

	result, err := s.gateway.Submit(ctx, sub.Payment.Method, req)
	if err != nil {
		return s.fail(ctx, sess, sub, err, fields)
	}

	shouldPoll, err := sess.CompleteSubmission(sub.Attempt, result)
	if err != nil {
		// The session was reset while the gateway call was in flight.
		s.logger(ctx, "checkout.submit.stale", mergeFields(fields, map[string]any{"transactionId": result.TransactionID}))
		return s.view(sess), nil
	}

	fields["transactionId"] = result.TransactionID
	fields["status"] = string(result.Status)
	s.logger(ctx, "checkout.submit.accepted", fields)

	if result.Settled() {
		s.publish(ctx, s.event(CheckoutEventPaid, sub, result, breakdown, ""))
	} else {
		s.publish(ctx, s.event(CheckoutEventPaymentPending, sub, result, breakdown, ""))
	}

	if shouldPoll {
		s.startPolling(sess, sub, result, breakdown)
	}

	return s.view(sess), nil
}

func (s *checkoutService) startPolling(sess *session.Session, sub session.Submission, result domain.CheckoutResult, breakdown PriceBreakdown) {
	txID := result.TransactionID
	stop := s.poller.Start(s.pollCtx, txID, func() {
		if !sess.MarkPaid(txID) {
			return
		}
		paid := result
		paid.Status = domain.PaymentStatusPaid
		s.logger(s.pollCtx, "checkout.payment.confirmed", map[string]any{
			"sessionId":     sub.SessionID,
			"transactionId": txID,
		})
		s.publish(s.pollCtx, s.event(CheckoutEventPaid, sub, paid, breakdown, ""))
	})
	if !sess.AttachPoller(txID, stop) {
		stop()
	}
}

func (s *checkoutService) fail(ctx context.Context, sess *session.Session, sub session.Submission, cause error, fields map[string]any) (SessionView, error) {
	message := bannerMessage(cause, sub.Payment.Method)
	if err := sess.FailSubmission(sub.Attempt, message); err != nil {
		s.logger(ctx, "checkout.submit.stale", fields)
	}

	event := "checkout.submit.failed"
	var validation *ValidationError
	if errors.As(cause, &validation) {
		event = "checkout.submit.invalid"
		fields = mergeFields(fields, map[string]any{"fields": validation.Fields.Fields()})
	}
	s.logger(ctx, event, mergeFields(fields, map[string]any{"error": cause.Error()}))

	var declined *payments.PaymentDeclinedError
	if errors.As(cause, &declined) {
		breakdown := CalculateBreakdown(sub.Cart, s.catalog.ShippingOptions, sub.ShippingID, sub.Payment.Method)
		result := domain.CheckoutResult{Method: sub.Payment.Method, Status: domain.PaymentStatusRefused}
		s.publish(ctx, s.event(CheckoutEventDeclined, sub, result, breakdown, declined.Message))
	}

	return s.view(sess), cause
}

func (s *checkoutService) buildRequest(sub session.Submission, breakdown PriceBreakdown, idempotencyKey string) payments.CheckoutRequest {
	shipping := payments.ShippingPayload{ID: sub.ShippingID}
	if option, ok := domain.FindShippingOption(s.catalog.ShippingOptions, sub.ShippingID); ok {
		shipping.Name = option.Name
		shipping.Price = domain.ToMinorUnits(option.Price)
		shipping.EstimatedDays = option.EstimatedDays
	}

	items := make([]payments.ItemPayload, 0, len(sub.Cart))
	for _, line := range sub.Cart {
		items = append(items, payments.ItemPayload{
			Title:     s.clean(line.Name),
			Quantity:  line.Quantity,
			UnitPrice: domain.ToMinorUnits(line.UnitPrice),
			Tangible:  true,
		})
	}

	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		key = s.newKey()
	}

	return payments.CheckoutRequest{
		Amount:        domain.ToMinorUnits(breakdown.Total),
		PaymentMethod: sub.Payment.Method.String(),
		Customer: payments.CustomerPayload{
			Name:  s.clean(sub.Customer.Name),
			Email: strings.TrimSpace(sub.Customer.Email),
			Phone: DigitsOnly(sub.Customer.Phone),
			CPF:   DigitsOnly(sub.Customer.TaxID),
		},
		Address: payments.AddressPayload{
			CEP:          DigitsOnly(sub.Address.PostalCode),
			Street:       s.clean(sub.Address.Street),
			Number:       s.clean(sub.Address.Number),
			Complement:   s.clean(sub.Address.Complement),
			Neighborhood: s.clean(sub.Address.Neighborhood),
			City:         s.clean(sub.Address.City),
			State:        strings.ToUpper(strings.TrimSpace(sub.Address.State)),
		},
		Shipping: shipping,
		Items:    items,
		Subtotal: domain.ToMinorUnits(breakdown.Subtotal),
		Discount: domain.ToMinorUnits(breakdown.Discount),
		Metadata: map[string]string{
			"source":    s.source,
			"sessionId": sub.SessionID,
		},
		IdempotencyKey: key,
	}
}

// clean strips markup from free text; the strict policy escapes entities, which are restored.
func (s *checkoutService) clean(value string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(value)))
}

func (s *checkoutService) event(kind CheckoutEventType, sub session.Submission, result domain.CheckoutResult, breakdown PriceBreakdown, message string) CheckoutEvent {
	return CheckoutEvent{
		Type:          kind,
		SessionID:     sub.SessionID,
		TransactionID: result.TransactionID,
		PaymentMethod: sub.Payment.Method.String(),
		Status:        string(result.Status),
		Amount:        domain.ToMinorUnits(breakdown.Total),
		Currency:      domain.Currency,
		Message:       message,
		OccurredAt:    s.now(),
	}
}

func (s *checkoutService) publish(ctx context.Context, event CheckoutEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishCheckoutEvent(ctx, event); err != nil {
		s.logger(ctx, "checkout.events.publish_failed", map[string]any{
			"type":      string(event.Type),
			"sessionId": event.SessionID,
			"error":     err.Error(),
		})
	}
}

func (s *checkoutService) lookup(sessionID string) (*session.Session, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, ErrCheckoutInvalidInput
	}
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *checkoutService) mutate(sessionID string, fn func(*session.Session) error) (SessionView, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return SessionView{}, err
	}
	if err := fn(sess); err != nil {
		return SessionView{}, err
	}
	return s.view(sess), nil
}

func (s *checkoutService) view(sess *session.Session) SessionView {
	snap := sess.Snapshot()
	view := SessionView{
		Session:   snap,
		Breakdown: CalculateBreakdown(snap.Cart, s.catalog.ShippingOptions, snap.ShippingID, snap.Method),
	}
	if snap.Method == domain.PaymentMethodCredit {
		view.Installments = Installments(view.Breakdown.Total)
	}
	return view
}

func bannerMessage(err error, method domain.PaymentMethod) string {
	var validation *ValidationError
	var declined *payments.PaymentDeclinedError
	switch {
	case errors.As(err, &validation):
		return msgValidation
	case errors.As(err, &declined):
		if strings.TrimSpace(declined.Message) != "" {
			return declined.Message
		}
		return msgDeclined
	case errors.Is(err, payments.ErrConfiguration):
		return msgConfiguration
	case errors.Is(err, payments.ErrAuthentication):
		return msgAuthentication
	case errors.Is(err, payments.ErrTokenization):
		return msgTokenization
	case errors.Is(err, payments.ErrTransport):
		return msgTransport
	case errors.Is(err, payments.ErrMissingPaymentData):
		if method == domain.PaymentMethodBoleto {
			return msgMissingBoleto
		}
		return msgMissingPix
	case errors.Is(err, payments.ErrInvalidResponse):
		return msgInvalid
	default:
		return msgGeneric
	}
}

func mergeFields(base map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
