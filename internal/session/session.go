package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jfbeehive/swift-checkout/internal/catalog"
	"github.com/jfbeehive/swift-checkout/internal/domain"
)

var (
	// ErrPhaseConflict indicates the action is not allowed in the session's current phase.
	ErrPhaseConflict = errors.New("session: action not allowed in current phase")
	// ErrCheckoutInProgress indicates a submission is already in flight for the session.
	ErrCheckoutInProgress = errors.New("session: checkout already in progress")
	// ErrLineNotFound indicates the cart line does not exist.
	ErrLineNotFound = errors.New("session: cart line not found")
	// ErrUnknownShipping indicates the shipping option is not offered.
	ErrUnknownShipping = errors.New("session: unknown shipping option")
	// ErrUnknownBump indicates the order-bump product is not offered.
	ErrUnknownBump = errors.New("session: unknown order bump")
	// ErrInvalidPaymentMethod indicates the payment method is not supported.
	ErrInvalidPaymentMethod = errors.New("session: invalid payment method")
	// ErrStaleAttempt indicates a submission result arrived after the session moved on.
	ErrStaleAttempt = errors.New("session: stale submission attempt")
)

// Seed prefills a new session, typically from an imported external cart.
type Seed struct {
	Lines        []domain.CartLine
	Customer     domain.CustomerInfo
	DiscountCode string
}

// Snapshot is a consistent copy of the session state. Raw card data is never included.
type Snapshot struct {
	ID           string
	Phase        domain.Phase
	Cart         []domain.CartLine
	Customer     domain.CustomerInfo
	Address      domain.ShippingAddress
	ShippingID   string
	Method       domain.PaymentMethod
	HasCard      bool
	CardLast4    string
	Processing   bool
	Result       *domain.CheckoutResult
	Error        string
	DiscountCode string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	SubmittedAt  time.Time
}

// Submission is the frozen input of one checkout attempt.
type Submission struct {
	Attempt    uint64
	SessionID  string
	Cart       []domain.CartLine
	Customer   domain.CustomerInfo
	Address    domain.ShippingAddress
	ShippingID string
	Payment    domain.PaymentSelection
}

// Session is one buyer's checkout. All methods are safe for concurrent use; network work happens
// outside the lock and its results are applied through CompleteSubmission, FailSubmission and
// MarkPaid.
type Session struct {
	mu      sync.Mutex
	id      string
	catalog catalog.Catalog
	now     func() time.Time

	phase      domain.Phase
	cart       []domain.CartLine
	discount   string
	customer   domain.CustomerInfo
	address    domain.ShippingAddress
	shippingID string
	payment    domain.PaymentSelection
	processing bool
	attempt    uint64
	result     *domain.CheckoutResult
	errMessage string
	stopPoll   func()

	createdAt   time.Time
	updatedAt   time.Time
	submittedAt time.Time
}

func newSession(id string, cat catalog.Catalog, seed Seed, now func() time.Time) *Session {
	ts := now()
	s := &Session{
		id:        id,
		catalog:   cat,
		now:       now,
		createdAt: ts,
	}
	s.resetLocked()
	if len(seed.Lines) > 0 {
		s.cart = catalog.CloneLines(seed.Lines)
	}
	s.customer = seed.Customer
	s.discount = seed.DiscountCode
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:           s.id,
		Phase:        s.phase,
		Cart:         catalog.CloneLines(s.cart),
		Customer:     s.customer,
		Address:      s.address,
		ShippingID:   s.shippingID,
		Method:       s.payment.Method,
		HasCard:      s.payment.Card != nil,
		Processing:   s.processing,
		Error:        s.errMessage,
		DiscountCode: s.discount,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
		SubmittedAt:  s.submittedAt,
	}
	if s.payment.Card != nil {
		snap.CardLast4 = lastFour(s.payment.Card.Number)
	}
	if s.result != nil {
		result := s.result.Clone()
		snap.Result = &result
	}
	return snap
}

// UpdatedAt returns the last time the session was touched.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// SetCustomer replaces the customer form.
func (s *Session) SetCustomer(customer domain.CustomerInfo) error {
	return s.edit(func() error {
		s.customer = customer
		return nil
	})
}

// SetAddress replaces the address form.
func (s *Session) SetAddress(address domain.ShippingAddress) error {
	return s.edit(func() error {
		s.address = address
		return nil
	})
}

// SelectShipping picks one of the catalog's shipping options.
func (s *Session) SelectShipping(id string) error {
	return s.edit(func() error {
		id = strings.TrimSpace(id)
		if _, ok := domain.FindShippingOption(s.catalog.ShippingOptions, id); !ok {
			return ErrUnknownShipping
		}
		s.shippingID = id
		return nil
	})
}

// SelectPayment sets the payment method. Card details are kept only for credit.
func (s *Session) SelectPayment(selection domain.PaymentSelection) error {
	return s.edit(func() error {
		if !selection.Method.Valid() {
			return ErrInvalidPaymentMethod
		}
		s.payment = domain.PaymentSelection{Method: selection.Method}
		if selection.Method == domain.PaymentMethodCredit && selection.Card != nil {
			card := *selection.Card
			s.payment.Card = &card
		}
		return nil
	})
}

// ChangeQuantity adjusts a line's quantity by delta, never going below 1.
func (s *Session) ChangeQuantity(lineID string, delta int) error {
	return s.edit(func() error {
		idx := s.lineIndex(lineID)
		if idx < 0 {
			return ErrLineNotFound
		}
		qty := s.cart[idx].Quantity + delta
		if qty < 1 {
			qty = 1
		}
		s.cart[idx].Quantity = qty
		return nil
	})
}

// RemoveLine drops a line from the cart.
func (s *Session) RemoveLine(lineID string) error {
	return s.edit(func() error {
		idx := s.lineIndex(lineID)
		if idx < 0 {
			return ErrLineNotFound
		}
		s.cart = append(s.cart[:idx], s.cart[idx+1:]...)
		return nil
	})
}

// AddBump adds an order-bump product, merging into an existing line with the same id.
func (s *Session) AddBump(productID string) error {
	return s.edit(func() error {
		bump, ok := s.catalog.Bump(productID)
		if !ok {
			return ErrUnknownBump
		}
		if idx := s.lineIndex(bump.ID); idx >= 0 {
			s.cart[idx].Quantity += bump.Quantity
			return nil
		}
		s.cart = append(s.cart, catalog.CloneLines([]domain.CartLine{bump})...)
		return nil
	})
}

// DismissError clears the transient error banner.
func (s *Session) DismissError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMessage = ""
	s.touchLocked()
}

// BeginSubmission freezes the inputs of a checkout attempt and marks the session as processing.
func (s *Session) BeginSubmission() (Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != domain.PhaseCheckout {
		return Submission{}, ErrPhaseConflict
	}
	if s.processing {
		return Submission{}, ErrCheckoutInProgress
	}
	s.processing = true
	s.attempt++
	s.errMessage = ""
	s.submittedAt = s.now()
	s.touchLocked()

	payment := domain.PaymentSelection{Method: s.payment.Method}
	if s.payment.Card != nil {
		card := *s.payment.Card
		payment.Card = &card
	}
	return Submission{
		Attempt:    s.attempt,
		SessionID:  s.id,
		Cart:       catalog.CloneLines(s.cart),
		Customer:   s.customer,
		Address:    s.address,
		ShippingID: s.shippingID,
		Payment:    payment,
	}, nil
}

// CompleteSubmission applies a successful gateway result. Settled credit payments go straight to
// success; everything else waits in payment. It reports whether the caller should start polling.
func (s *Session) CompleteSubmission(attempt uint64, result domain.CheckoutResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentAttemptLocked(attempt) {
		return false, ErrStaleAttempt
	}
	s.processing = false
	s.payment.Card = nil
	stored := result.Clone()
	s.result = &stored
	s.errMessage = ""
	s.touchLocked()

	if result.Settled() {
		s.phase = domain.PhaseSuccess
		return false, nil
	}
	s.phase = domain.PhasePayment
	return strings.TrimSpace(result.TransactionID) != "", nil
}

// FailSubmission records a user-facing error and keeps the session in checkout.
func (s *Session) FailSubmission(attempt uint64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentAttemptLocked(attempt) {
		return ErrStaleAttempt
	}
	s.processing = false
	s.payment.Card = nil
	s.errMessage = message
	s.touchLocked()
	return nil
}

// AttachPoller stores the stop function of the status poller for transactionID. It returns false
// when the session already left the payment phase for that transaction; the caller must then stop
// the poller itself.
func (s *Session) AttachPoller(transactionID string, stop func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.awaitingLocked(transactionID) {
		return false
	}
	if s.stopPoll != nil {
		s.stopPoll()
	}
	s.stopPoll = stop
	return true
}

// MarkPaid moves the session to success if it is still waiting on transactionID.
func (s *Session) MarkPaid(transactionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.awaitingLocked(transactionID) {
		return false
	}
	s.phase = domain.PhaseSuccess
	paid := s.result.Clone()
	paid.Status = domain.PaymentStatusPaid
	if paid.Credit != nil {
		paid.Credit.Status = domain.PaymentStatusPaid
	}
	s.result = &paid
	s.stopPollerLocked()
	s.touchLocked()
	return true
}

// Back returns from payment to checkout, stopping the poller and clearing the banner.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !domain.CanTransition(s.phase, domain.PhaseCheckout) {
		return ErrPhaseConflict
	}
	s.stopPollerLocked()
	s.phase = domain.PhaseCheckout
	s.result = nil
	s.errMessage = ""
	s.touchLocked()
	return nil
}

// Reset starts a new order: initial cart, empty forms, default shipping and payment method.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// Close stops any running poller. The session stays readable.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopPollerLocked()
}

func (s *Session) resetLocked() {
	s.stopPollerLocked()
	s.phase = domain.PhaseCheckout
	s.cart = s.catalog.InitialLines()
	s.customer = domain.CustomerInfo{}
	s.address = domain.ShippingAddress{}
	s.shippingID = s.catalog.DefaultShippingID
	s.payment = domain.PaymentSelection{Method: s.catalog.DefaultPaymentMethod}
	s.result = nil
	s.errMessage = ""
	// A submission in flight belongs to the previous order.
	s.processing = false
	s.attempt++
	s.touchLocked()
}

func (s *Session) edit(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != domain.PhaseCheckout {
		return ErrPhaseConflict
	}
	if s.processing {
		return ErrCheckoutInProgress
	}
	if err := fn(); err != nil {
		return err
	}
	s.touchLocked()
	return nil
}

func (s *Session) lineIndex(id string) int {
	id = strings.TrimSpace(id)
	for i, line := range s.cart {
		if line.ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) currentAttemptLocked(attempt uint64) bool {
	return s.processing && s.attempt == attempt
}

func (s *Session) awaitingLocked(transactionID string) bool {
	return s.phase == domain.PhasePayment &&
		s.result != nil &&
		transactionID != "" &&
		s.result.TransactionID == transactionID
}

func (s *Session) stopPollerLocked() {
	if s.stopPoll != nil {
		s.stopPoll()
		s.stopPoll = nil
	}
}

func (s *Session) touchLocked() {
	s.updatedAt = s.now()
}

func lastFour(number string) string {
	digits := make([]byte, 0, len(number))
	for i := 0; i < len(number); i++ {
		if number[i] >= '0' && number[i] <= '9' {
			digits = append(digits, number[i])
		}
	}
	if len(digits) <= 4 {
		return string(digits)
	}
	return string(digits[len(digits)-4:])
}
