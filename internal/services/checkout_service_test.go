package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfbeehive/swift-checkout/internal/catalog"
	"github.com/jfbeehive/swift-checkout/internal/domain"
	"github.com/jfbeehive/swift-checkout/internal/payments"
	"github.com/jfbeehive/swift-checkout/internal/session"
)

type stubTokenizer struct {
	token string
	err   error
	calls int
	total decimal.Decimal
}

func (s *stubTokenizer) Tokenize(_ context.Context, _ domain.CardDetails, total decimal.Decimal) (string, error) {
	s.calls++
	s.total = total
	return s.token, s.err
}

type stubGateway struct {
	mu       sync.Mutex
	result   domain.CheckoutResult
	err      error
	requests []payments.CheckoutRequest
	block    chan struct{}
}

func (g *stubGateway) Submit(_ context.Context, _ domain.PaymentMethod, req payments.CheckoutRequest) (domain.CheckoutResult, error) {
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	return g.result, g.err
}

func (g *stubGateway) CheckStatus(context.Context, string) (domain.PaymentStatus, error) {
	return domain.PaymentStatusWaiting, nil
}

func (g *stubGateway) Requests() []payments.CheckoutRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]payments.CheckoutRequest(nil), g.requests...)
}

type manualPoller struct {
	mu      sync.Mutex
	started []string
	onPaid  map[string]func()
	stops   map[string]int
}

func newManualPoller() *manualPoller {
	return &manualPoller{onPaid: map[string]func(){}, stops: map[string]int{}}
}

func (p *manualPoller) Start(_ context.Context, txID string, onPaid func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, txID)
	p.onPaid[txID] = onPaid
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.stops[txID]++
			p.mu.Unlock()
		})
	}
}

func (p *manualPoller) fire(txID string) {
	p.mu.Lock()
	fn := p.onPaid[txID]
	p.mu.Unlock()
	fn()
}

func (p *manualPoller) stopCount(txID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops[txID]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []CheckoutEvent
	err    error
}

func (p *recordingPublisher) PublishCheckoutEvent(_ context.Context, event CheckoutEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []CheckoutEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CheckoutEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type stubAddresses struct {
	street string
	calls  []string
}

func (a *stubAddresses) LookupStreet(_ context.Context, postalCode string) string {
	a.calls = append(a.calls, postalCode)
	return a.street
}

type checkoutHarness struct {
	svc       CheckoutService
	store     *session.Store
	tokenizer *stubTokenizer
	gateway   *stubGateway
	poller    *manualPoller
	events    *recordingPublisher
	addresses *stubAddresses
}

func newCheckoutHarness(t *testing.T) *checkoutHarness {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	h := &checkoutHarness{
		tokenizer: &stubTokenizer{token: "tok_card"},
		gateway:   &stubGateway{},
		poller:    newManualPoller(),
		events:    &recordingPublisher{},
		addresses: &stubAddresses{street: "Avenida Paulista"},
	}
	var n int
	h.store = session.NewStore(cat, session.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}))

	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Sessions:  h.store,
		Catalog:   cat,
		Tokenizer: h.tokenizer,
		Gateway:   h.gateway,
		Poller:    h.poller,
		Addresses: h.addresses,
		Events:    h.events,
		Clock:     func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) },
		KeyGen:    func() string { return "generated-key" },
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *checkoutHarness) readySession(t *testing.T, method domain.PaymentMethod) string {
	t.Helper()
	ctx := context.Background()
	view, err := h.svc.CreateSession(ctx, CreateSessionCommand{})
	require.NoError(t, err)
	id := view.Session.ID

	_, err = h.svc.UpdateCustomer(ctx, id, validCustomer())
	require.NoError(t, err)
	_, err = h.svc.UpdateAddress(ctx, id, validAddress())
	require.NoError(t, err)
	selection := domain.PaymentSelection{Method: method}
	if method == domain.PaymentMethodCredit {
		card := validCard()
		card.Installments = 3
		selection.Card = card
	}
	_, err = h.svc.SelectPayment(ctx, id, selection)
	require.NoError(t, err)
	return id
}

func TestSubmitPixGoesToPaymentAndPolls(t *testing.T) {
	h := newCheckoutHarness(t)
	h.gateway.result = domain.CheckoutResult{
		Method: domain.PaymentMethodPix, Status: domain.PaymentStatusWaiting, TransactionID: "tx-pix",
		Pix: &domain.PixPayment{CopyPaste: "000201"},
	}
	id := h.readySession(t, domain.PaymentMethodPix)

	view, err := h.svc.Submit(context.Background(), SubmitCheckoutCommand{SessionID: id, IdempotencyKey: "client-key"})
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePayment, view.Session.Phase)
	require.NotNil(t, view.Session.Result)
	assert.Equal(t, "tx-pix", view.Session.Result.TransactionID)
	assert.Equal(t, []string{"tx-pix"}, h.poller.started)

	requests := h.gateway.Requests()
	require.Len(t, requests, 1)
	req := requests[0]
	assert.Equal(t, int64(25791), req.Amount)
	assert.Equal(t, int64(25580), req.Subtotal)
	assert.Equal(t, int64(1279), req.Discount)
	assert.Equal(t, "pix", req.PaymentMethod)
	assert.Equal(t, "11999998888", req.Customer.Phone)
	assert.Equal(t, "12345678901", req.Customer.CPF)
	assert.Equal(t, "01310100", req.Address.CEP)
	assert.Equal(t, int64(1490), req.Shipping.Price)
	assert.Equal(t, "client-key", req.IdempotencyKey)
	assert.Equal(t, id, req.Metadata["sessionId"])
	assert.Nil(t, req.Card)
	require.Len(t, req.Items, 2)
	assert.Equal(t, int64(24990), req.Items[0].UnitPrice)
	assert.True(t, req.Items[0].Tangible)
	assert.Zero(t, h.tokenizer.calls)

	h.poller.fire("tx-pix")
	got, err := h.svc.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseSuccess, got.Session.Phase)
	assert.Equal(t, 1, h.poller.stopCount("tx-pix"))
	assert.Equal(t, []CheckoutEventType{CheckoutEventPaymentPending, CheckoutEventPaid}, h.events.types())
}

func TestSubmitCreditPaidGoesStraightToSuccess(t *testing.T) {
	h := newCheckoutHarness(t)
	h.gateway.result = domain.CheckoutResult{
		Method: domain.PaymentMethodCredit, Status: domain.PaymentStatusPaid, TransactionID: "tx-cc",
		Credit: &domain.CreditPayment{Status: domain.PaymentStatusPaid},
	}
	id := h.readySession(t, domain.PaymentMethodCredit)

	view, err := h.svc.Submit(context.Background(), SubmitCheckoutCommand{SessionID: id})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseSuccess, view.Session.Phase)
	assert.Empty(t, h.poller.started)
	assert.False(t, view.Session.HasCard)
	assert.Equal(t, 1, h.tokenizer.calls)
	assert.True(t, h.tokenizer.total.Equal(decimal.RequireFromString("270.70")), h.tokenizer.total.String())

	req := h.gateway.Requests()[0]
	require.NotNil(t, req.Card)
	assert.Equal(t, "tok_card", req.Card.Token)
	assert.Equal(t, 3, req.Card.Installments)
	assert.Equal(t, "generated-key", req.IdempotencyKey)
	assert.Equal(t, []CheckoutEventType{CheckoutEventPaid}, h.events.types())
}

func TestSubmitCreditRefusedStaysInCheckout(t *testing.T) {
	h := newCheckoutHarness(t)
	h.gateway.err = &payments.PaymentDeclinedError{Message: "Cartão sem limite"}
	id := h.readySession(t, domain.PaymentMethodCredit)

	view, err := h.svc.Submit(context.Background(), SubmitCheckoutCommand{SessionID: id})
	require.Error(t, err)
	var declined *payments.PaymentDeclinedError
	require.True(t, errors.As(err, &declined))
	assert.Equal(t, domain.PhaseCheckout, view.Session.Phase)
	assert.Equal(t, "Cartão sem limite", view.Session.Error)
	assert.False(t, view.Session.HasCard)
	assert.False(t, view.Session.Processing)
	assert.Equal(t, []CheckoutEventType{CheckoutEventDeclined}, h.events.types())
}

func TestSubmitValidationFailureSkipsNetwork(t *testing.T) {
	h := newCheckoutHarness(t)
	view, err := h.svc.CreateSession(context.Background(), CreateSessionCommand{})
	require.NoError(t, err)

	view, err = h.svc.Submit(context.Background(), SubmitCheckoutCommand{SessionID: view.Session.ID})
	require.Error(t, err)
	var validation *ValidationError
	require.True(t, errors.As(err, &validation))
	assert.ErrorIs(t, err, ErrCheckoutInvalidInput)
	assert.Contains(t, validation.Fields, FieldEmail)
	assert.Empty(t, h.gateway.Requests())
	assert.Equal(t, domain.PhaseCheckout, view.Session.Phase)
	assert.NotEmpty(t, view.Session.Error)
}

func TestSubmitMapsFailuresToBanner(t *testing.T) {
	cases := []struct {
		name    string
		method  domain.PaymentMethod
		tokErr  error
		gateErr error
		banner  string
		target  error
	}{
		{"configuration", domain.PaymentMethodCredit, payments.ErrConfiguration, nil, msgConfiguration, payments.ErrConfiguration},
		{"authentication", domain.PaymentMethodCredit, fmt.Errorf("%w: x", payments.ErrAuthentication), nil, msgAuthentication, payments.ErrAuthentication},
		{"tokenization", domain.PaymentMethodCredit, payments.ErrTokenization, nil, msgTokenization, payments.ErrTokenization},
		{"transport", domain.PaymentMethodPix, nil, payments.ErrTransport, msgTransport, payments.ErrTransport},
		{"invalid", domain.PaymentMethodPix, nil, payments.ErrInvalidResponse, msgInvalid, payments.ErrInvalidResponse},
		{"missing pix", domain.PaymentMethodPix, nil, payments.ErrMissingPaymentData, msgMissingPix, payments.ErrMissingPaymentData},
		{"missing boleto", domain.PaymentMethodBoleto, nil, payments.ErrMissingPaymentData, msgMissingBoleto, payments.ErrMissingPaymentData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newCheckoutHarness(t)
			h.tokenizer.err = tc.tokErr
			h.gateway.err = tc.gateErr
			id := h.readySession(t, tc.method)

			view, err := h.svc.Submit(context.Background(), SubmitCheckoutCommand{SessionID: id})
			assert.ErrorIs(t, err, tc.target)
			assert.Equal(t, tc.banner, view.Session.Error)
			assert.Equal(t, domain.PhaseCheckout, view.Session.Phase)
			if tc.tokErr != nil {
				assert.Empty(t, h.gateway.Requests())
			}
		})
	}
}

func TestSubmitRejectsConcurrentAttempt(t *testing.T) {
	h := newCheckoutHarness(t)
	h.gateway.block = make(chan struct{})
	h.gateway.result = domain.CheckoutResult{
		Method: domain.PaymentMethodBoleto, Status: domain.PaymentStatusWaiting, TransactionID: "tx-b",
		Boleto: &domain.BoletoPayment{DigitableLine: "1234"},
	}
	id := h.readySession(t, domain.PaymentMethodBoleto)

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Submit(context.Background(), SubmitCheckoutCommand{SessionID: id})
		done <- err
	}()

	require.Eventually(t, func() bool {
		view, err := h.svc.GetSession(context.Background(), id)
		return err == nil && view.Session.Processing
	}, time.Second, time.Millisecond)

	_, err := h.svc.Submit(context.Background(), SubmitCheckoutCommand{SessionID: id})
	assert.ErrorIs(t, err, session.ErrCheckoutInProgress)

	close(h.gateway.block)
	require.NoError(t, <-done)
	assert.Len(t, h.gateway.Requests(), 1)
}

func TestBackStopsPollerAndIgnoresLateConfirmation(t *testing.T) {
	h := newCheckoutHarness(t)
	h.gateway.result = domain.CheckoutResult{
		Method: domain.PaymentMethodPix, Status: domain.PaymentStatusWaiting, TransactionID: "tx-back",
		Pix: &domain.PixPayment{QRCodeBase64: "cXI="},
	}
	id := h.readySession(t, domain.PaymentMethodPix)
	_, err := h.svc.Submit(context.Background(), SubmitCheckoutCommand{SessionID: id})
	require.NoError(t, err)

	view, err := h.svc.Back(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCheckout, view.Session.Phase)
	assert.Equal(t, 1, h.poller.stopCount("tx-back"))

	h.poller.fire("tx-back")
	got, err := h.svc.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCheckout, got.Session.Phase)
	assert.Equal(t, []CheckoutEventType{CheckoutEventPaymentPending}, h.events.types())
}

func TestResetAfterSuccess(t *testing.T) {
	h := newCheckoutHarness(t)
	h.gateway.result = domain.CheckoutResult{
		Method: domain.PaymentMethodCredit, Status: domain.PaymentStatusPaid, TransactionID: "tx-r",
		Credit: &domain.CreditPayment{Status: domain.PaymentStatusPaid},
	}
	id := h.readySession(t, domain.PaymentMethodCredit)
	_, err := h.svc.Submit(context.Background(), SubmitCheckoutCommand{SessionID: id})
	require.NoError(t, err)

	_, err = h.svc.UpdateCustomer(context.Background(), id, validCustomer())
	assert.ErrorIs(t, err, session.ErrPhaseConflict)

	view, err := h.svc.Reset(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCheckout, view.Session.Phase)
	assert.Equal(t, domain.PaymentMethodPix, view.Session.Method)
	assert.Equal(t, "standard", view.Session.ShippingID)
	assert.Empty(t, view.Session.Customer.Email)
}

func TestUpdateAddressPrefillsStreet(t *testing.T) {
	h := newCheckoutHarness(t)
	view, err := h.svc.CreateSession(context.Background(), CreateSessionCommand{})
	require.NoError(t, err)

	addr := validAddress()
	addr.Street = ""
	view, err = h.svc.UpdateAddress(context.Background(), view.Session.ID, addr)
	require.NoError(t, err)
	assert.Equal(t, "Avenida Paulista", view.Session.Address.Street)
	assert.Equal(t, []string{"01310100"}, h.addresses.calls)

	view, err = h.svc.UpdateAddress(context.Background(), view.Session.ID, validAddress())
	require.NoError(t, err)
	assert.Equal(t, "Av. Paulista", view.Session.Address.Street)
	assert.Len(t, h.addresses.calls, 1)
}

func TestCreateSessionImportsItems(t *testing.T) {
	h := newCheckoutHarness(t)
	view, err := h.svc.CreateSession(context.Background(), CreateSessionCommand{Items: "sku-9:2:10.00:Livro"})
	require.NoError(t, err)
	require.Len(t, view.Session.Cart, 1)
	assert.Equal(t, "sku-9", view.Session.Cart[0].ID)
	assert.True(t, view.Breakdown.Subtotal.Equal(decimal.NewFromInt(20)))
}

func TestCreateSessionKeepsItemsDiscount(t *testing.T) {
	h := newCheckoutHarness(t)
	view, err := h.svc.CreateSession(context.Background(), CreateSessionCommand{Items: "sku-9:1:10.00", Discount: " BEMVINDO "})
	require.NoError(t, err)
	assert.Equal(t, "BEMVINDO", view.Session.DiscountCode)

	view, err = h.svc.CreateSession(context.Background(), CreateSessionCommand{Discount: "BEMVINDO"})
	require.NoError(t, err)
	assert.Empty(t, view.Session.DiscountCode)
}

func TestSessionViewInstallmentsOnlyForCredit(t *testing.T) {
	h := newCheckoutHarness(t)
	id := h.readySession(t, domain.PaymentMethodPix)
	view, err := h.svc.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, view.Installments)

	view, err = h.svc.SelectPayment(context.Background(), id, domain.PaymentSelection{Method: domain.PaymentMethodCredit})
	require.NoError(t, err)
	assert.Len(t, view.Installments, MaxInstallments)
}

func TestUnknownSession(t *testing.T) {
	h := newCheckoutHarness(t)
	_, err := h.svc.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = h.svc.GetSession(context.Background(), " ")
	assert.ErrorIs(t, err, ErrCheckoutInvalidInput)
}

func TestPublishFailureDoesNotFailSubmit(t *testing.T) {
	h := newCheckoutHarness(t)
	h.events.err = errors.New("pubsub down")
	h.gateway.result = domain.CheckoutResult{
		Method: domain.PaymentMethodCredit, Status: domain.PaymentStatusPaid,
		Credit: &domain.CreditPayment{Status: domain.PaymentStatusPaid},
	}
	id := h.readySession(t, domain.PaymentMethodCredit)
	view, err := h.svc.Submit(context.Background(), SubmitCheckoutCommand{SessionID: id})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseSuccess, view.Session.Phase)
}

func TestNewCheckoutServiceRequiresDeps(t *testing.T) {
	_, err := NewCheckoutService(CheckoutServiceDeps{})
	assert.Error(t, err)
}
