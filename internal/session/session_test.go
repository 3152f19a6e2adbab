package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfbeehive/swift-checkout/internal/catalog"
	"github.com/jfbeehive/swift-checkout/internal/domain"
)

func testCatalog(t *testing.T) catalog.Catalog {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	return cat
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	var n int64
	return NewStore(testCatalog(t), WithIDGenerator(func() string {
		return fmt.Sprintf("sess-%d", atomic.AddInt64(&n, 1))
	}))
}

func pendingPix(txID string) domain.CheckoutResult {
	return domain.CheckoutResult{
		Method:        domain.PaymentMethodPix,
		Status:        domain.PaymentStatusWaiting,
		TransactionID: txID,
		Pix:           &domain.PixPayment{CopyPaste: "000201"},
	}
}

func TestNewSessionDefaults(t *testing.T) {
	store := newTestStore(t)
	sess := store.Create(Seed{})
	snap := sess.Snapshot()

	assert.Equal(t, "sess-1", snap.ID)
	assert.Equal(t, domain.PhaseCheckout, snap.Phase)
	assert.Equal(t, "standard", snap.ShippingID)
	assert.Equal(t, domain.PaymentMethodPix, snap.Method)
	require.Len(t, snap.Cart, 2)
	assert.Equal(t, "1", snap.Cart[0].ID)
}

func TestNewSessionFromSeed(t *testing.T) {
	store := newTestStore(t)
	sess := store.Create(Seed{
		Lines:    []domain.CartLine{{ID: "v-1", Name: "Camiseta", UnitPrice: decimal.NewFromInt(59), Quantity: 2}},
		Customer: domain.CustomerInfo{Email: "ana@example.com"},
	})
	snap := sess.Snapshot()
	require.Len(t, snap.Cart, 1)
	assert.Equal(t, "v-1", snap.Cart[0].ID)
	assert.Equal(t, "ana@example.com", snap.Customer.Email)
}

func TestCartActions(t *testing.T) {
	sess := newTestStore(t).Create(Seed{})

	require.NoError(t, sess.ChangeQuantity("1", 2))
	require.NoError(t, sess.ChangeQuantity("2", -5))
	snap := sess.Snapshot()
	assert.Equal(t, 3, snap.Cart[0].Quantity)
	assert.Equal(t, 1, snap.Cart[1].Quantity)

	require.NoError(t, sess.AddBump("bump-1"))
	require.NoError(t, sess.AddBump("bump-1"))
	snap = sess.Snapshot()
	require.Len(t, snap.Cart, 3)
	assert.Equal(t, 2, snap.Cart[2].Quantity)

	require.NoError(t, sess.RemoveLine("2"))
	assert.Len(t, sess.Snapshot().Cart, 2)

	assert.ErrorIs(t, sess.RemoveLine("missing"), ErrLineNotFound)
	assert.ErrorIs(t, sess.AddBump("nope"), ErrUnknownBump)
	assert.ErrorIs(t, sess.SelectShipping("teleport"), ErrUnknownShipping)
	assert.ErrorIs(t, sess.SelectPayment(domain.PaymentSelection{Method: "cash"}), ErrInvalidPaymentMethod)
}

func TestSelectPaymentKeepsCardOnlyForCredit(t *testing.T) {
	sess := newTestStore(t).Create(Seed{})
	card := &domain.CardDetails{Number: "4111 1111 1111 1234"}

	require.NoError(t, sess.SelectPayment(domain.PaymentSelection{Method: domain.PaymentMethodBoleto, Card: card}))
	assert.False(t, sess.Snapshot().HasCard)

	require.NoError(t, sess.SelectPayment(domain.PaymentSelection{Method: domain.PaymentMethodCredit, Card: card}))
	snap := sess.Snapshot()
	assert.True(t, snap.HasCard)
	assert.Equal(t, "1234", snap.CardLast4)
}

func TestSubmissionSingleFlight(t *testing.T) {
	sess := newTestStore(t).Create(Seed{})

	sub, err := sess.BeginSubmission()
	require.NoError(t, err)
	_, err = sess.BeginSubmission()
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	assert.ErrorIs(t, sess.SetCustomer(domain.CustomerInfo{Name: "x"}), ErrCheckoutInProgress)

	require.NoError(t, sess.FailSubmission(sub.Attempt, "Erro"))
	snap := sess.Snapshot()
	assert.False(t, snap.Processing)
	assert.Equal(t, "Erro", snap.Error)
	assert.Equal(t, domain.PhaseCheckout, snap.Phase)

	_, err = sess.BeginSubmission()
	require.NoError(t, err)
	assert.Empty(t, sess.Snapshot().Error)
}

func TestConcurrentBeginSubmissionAllowsOne(t *testing.T) {
	sess := newTestStore(t).Create(Seed{})
	var wg sync.WaitGroup
	var ok int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sess.BeginSubmission(); err == nil {
				atomic.AddInt32(&ok, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok)
}

func TestCardClearedAfterEveryAttempt(t *testing.T) {
	sess := newTestStore(t).Create(Seed{})
	card := &domain.CardDetails{Number: "4111111111111111", CVV: "123"}
	require.NoError(t, sess.SelectPayment(domain.PaymentSelection{Method: domain.PaymentMethodCredit, Card: card}))

	sub, err := sess.BeginSubmission()
	require.NoError(t, err)
	require.NotNil(t, sub.Payment.Card)
	require.NoError(t, sess.FailSubmission(sub.Attempt, "recusado"))
	assert.False(t, sess.Snapshot().HasCard)

	require.NoError(t, sess.SelectPayment(domain.PaymentSelection{Method: domain.PaymentMethodCredit, Card: card}))
	sub, err = sess.BeginSubmission()
	require.NoError(t, err)
	_, err = sess.CompleteSubmission(sub.Attempt, domain.CheckoutResult{
		Method: domain.PaymentMethodCredit, Status: domain.PaymentStatusPaid,
		Credit: &domain.CreditPayment{Status: domain.PaymentStatusPaid},
	})
	require.NoError(t, err)
	snap := sess.Snapshot()
	assert.False(t, snap.HasCard)
	assert.Equal(t, domain.PhaseSuccess, snap.Phase)
}

func TestCompleteSubmissionPendingGoesToPayment(t *testing.T) {
	sess := newTestStore(t).Create(Seed{})
	sub, err := sess.BeginSubmission()
	require.NoError(t, err)

	poll, err := sess.CompleteSubmission(sub.Attempt, pendingPix("tx-1"))
	require.NoError(t, err)
	assert.True(t, poll)
	assert.Equal(t, domain.PhasePayment, sess.Snapshot().Phase)
	assert.ErrorIs(t, sess.SetAddress(domain.ShippingAddress{}), ErrPhaseConflict)

	_, err = sess.BeginSubmission()
	assert.ErrorIs(t, err, ErrPhaseConflict)
}

func TestCompleteSubmissionWithoutTransactionDoesNotPoll(t *testing.T) {
	sess := newTestStore(t).Create(Seed{})
	sub, err := sess.BeginSubmission()
	require.NoError(t, err)
	poll, err := sess.CompleteSubmission(sub.Attempt, pendingPix(""))
	require.NoError(t, err)
	assert.False(t, poll)
	assert.Equal(t, domain.PhasePayment, sess.Snapshot().Phase)
}

func TestMarkPaidAppliesOnlyToCurrentTransaction(t *testing.T) {
	sess := newTestStore(t).Create(Seed{})
	sub, err := sess.BeginSubmission()
	require.NoError(t, err)
	_, err = sess.CompleteSubmission(sub.Attempt, pendingPix("tx-1"))
	require.NoError(t, err)

	var stopped int32
	require.True(t, sess.AttachPoller("tx-1", func() { atomic.AddInt32(&stopped, 1) }))

	assert.False(t, sess.MarkPaid("tx-other"))
	assert.True(t, sess.MarkPaid("tx-1"))
	snap := sess.Snapshot()
	assert.Equal(t, domain.PhaseSuccess, snap.Phase)
	assert.Equal(t, domain.PaymentStatusPaid, snap.Result.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&stopped))

	assert.False(t, sess.MarkPaid("tx-1"))
	assert.ErrorIs(t, sess.Back(), ErrPhaseConflict)
}

func TestSnapshotIsolatedFromMarkPaid(t *testing.T) {
	sess := newTestStore(t).Create(Seed{})
	require.NoError(t, sess.SelectPayment(domain.PaymentSelection{Method: domain.PaymentMethodCredit, Card: &domain.CardDetails{Number: "4111111111111111"}}))
	sub, err := sess.BeginSubmission()
	require.NoError(t, err)
	_, err = sess.CompleteSubmission(sub.Attempt, domain.CheckoutResult{
		Method:        domain.PaymentMethodCredit,
		Status:        domain.PaymentStatusProcessing,
		TransactionID: "tx-1",
		Credit:        &domain.CreditPayment{Status: domain.PaymentStatusProcessing},
	})
	require.NoError(t, err)

	before := sess.Snapshot()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sess.MarkPaid("tx-1")
	}()
	status := before.Result.Credit.Status
	wg.Wait()

	assert.Equal(t, domain.PaymentStatusProcessing, status)
	assert.Equal(t, domain.PaymentStatusProcessing, before.Result.Status)
	assert.Equal(t, domain.PaymentStatusProcessing, before.Result.Credit.Status)

	after := sess.Snapshot()
	assert.Equal(t, domain.PaymentStatusPaid, after.Result.Status)
	assert.Equal(t, domain.PaymentStatusPaid, after.Result.Credit.Status)
	assert.NotSame(t, before.Result.Credit, after.Result.Credit)
}

func TestBackStopsPollerAndIgnoresLatePaid(t *testing.T) {
	sess := newTestStore(t).Create(Seed{})
	sub, err := sess.BeginSubmission()
	require.NoError(t, err)
	_, err = sess.CompleteSubmission(sub.Attempt, pendingPix("tx-1"))
	require.NoError(t, err)

	var stopped int32
	require.True(t, sess.AttachPoller("tx-1", func() { atomic.AddInt32(&stopped, 1) }))

	require.NoError(t, sess.Back())
	assert.Equal(t, int32(1), atomic.LoadInt32(&stopped))
	snap := sess.Snapshot()
	assert.Equal(t, domain.PhaseCheckout, snap.Phase)
	assert.Nil(t, snap.Result)

	assert.False(t, sess.MarkPaid("tx-1"))
	assert.False(t, sess.AttachPoller("tx-1", func() {}))
	assert.ErrorIs(t, sess.Back(), ErrPhaseConflict)
}

func TestResetRestoresInitialState(t *testing.T) {
	sess := newTestStore(t).Create(Seed{})
	require.NoError(t, sess.SetCustomer(domain.CustomerInfo{Name: "Ana"}))
	require.NoError(t, sess.SelectShipping("express"))
	require.NoError(t, sess.SelectPayment(domain.PaymentSelection{Method: domain.PaymentMethodBoleto}))
	require.NoError(t, sess.AddBump("bump-2"))

	sub, err := sess.BeginSubmission()
	require.NoError(t, err)
	_, err = sess.CompleteSubmission(sub.Attempt, domain.CheckoutResult{
		Method: domain.PaymentMethodCredit, Status: domain.PaymentStatusPaid,
	})
	require.NoError(t, err)
	require.Equal(t, domain.PhaseSuccess, sess.Snapshot().Phase)

	sess.Reset()
	snap := sess.Snapshot()
	assert.Equal(t, domain.PhaseCheckout, snap.Phase)
	assert.Equal(t, "standard", snap.ShippingID)
	assert.Equal(t, domain.PaymentMethodPix, snap.Method)
	assert.Empty(t, snap.Customer.Name)
	assert.Len(t, snap.Cart, 2)
	assert.Nil(t, snap.Result)
}

func TestResetDiscardsInFlightAttempt(t *testing.T) {
	sess := newTestStore(t).Create(Seed{})
	sub, err := sess.BeginSubmission()
	require.NoError(t, err)

	sess.Reset()
	_, err = sess.CompleteSubmission(sub.Attempt, pendingPix("tx-1"))
	assert.ErrorIs(t, err, ErrStaleAttempt)
	assert.ErrorIs(t, sess.FailSubmission(sub.Attempt, "x"), ErrStaleAttempt)
	assert.Equal(t, domain.PhaseCheckout, sess.Snapshot().Phase)
}

func TestDismissError(t *testing.T) {
	sess := newTestStore(t).Create(Seed{})
	sub, err := sess.BeginSubmission()
	require.NoError(t, err)
	require.NoError(t, sess.FailSubmission(sub.Attempt, "Falha"))
	sess.DismissError()
	assert.Empty(t, sess.Snapshot().Error)
}

func TestStoreSweepRemovesIdleSessions(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := NewStore(testCatalog(t), WithTTL(time.Hour), WithClock(clock))

	idle := store.Create(Seed{})
	sub, err := idle.BeginSubmission()
	require.NoError(t, err)
	_, err = idle.CompleteSubmission(sub.Attempt, pendingPix("tx-idle"))
	require.NoError(t, err)
	var stopped int32
	require.True(t, idle.AttachPoller("tx-idle", func() { atomic.AddInt32(&stopped, 1) }))

	busy := store.Create(Seed{})
	_, err = busy.BeginSubmission()
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	fresh := store.Create(Seed{})

	now = now.Add(45 * time.Minute)
	removed := store.Sweep()
	assert.Equal(t, []string{idle.ID()}, removed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&stopped))

	_, ok := store.Get(idle.ID())
	assert.False(t, ok)
	_, ok = store.Get(busy.ID())
	assert.True(t, ok)
	_, ok = store.Get(fresh.ID())
	assert.True(t, ok)
	assert.Equal(t, 2, store.Len())
}
