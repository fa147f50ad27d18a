package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	ledgerRepo "homepro/database/repository/ledger"
	"homepro/models"
	"homepro/services/booking"
	"homepro/services/payment/paymenttest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	customer = models.Principal{ID: "cust-1", Role: models.RoleCustomer}
	pro      = models.Principal{ID: "pro-1", Role: models.RolePro}
)

type countingSink struct {
	mu     sync.Mutex
	counts map[string]int
}

func (s *countingSink) Notify(ctx context.Context, to models.Recipient, n models.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[to.ID+"/"+n.Type]++
}

func (s *countingSink) count(id, kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[id+"/"+kind]
}

type harness struct {
	store   *ledgerRepo.MemoryLedger
	gateway *paymenttest.Gateway
	sink    *countingSink
	machine *booking.Machine
	rec     *Reconciler
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   ledgerRepo.NewMemoryLedger(),
		gateway: paymenttest.New(),
		sink:    &countingSink{},
		now:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	m, err := booking.NewMachine(booking.Deps{Store: h.store, Gateway: h.gateway, Notifier: h.sink, Currency: "usd"})
	require.NoError(t, err)
	h.machine = m
	h.rec = New(h.store, h.gateway, m, zap.NewNop(), Options{
		ClaimTTL: time.Minute,
		Clock:    func() time.Time { return h.now },
	})
	return h
}

// completedAwaitingCapture returns a booking in completed_pending_payment
// whose capture is still pending at the gateway.
func (h *harness) completedAwaitingCapture(t *testing.T) *models.Booking {
	t.Helper()
	ctx := context.Background()
	b, err := h.machine.Create(ctx, customer, pro.ID, 12000)
	require.NoError(t, err)
	for _, s := range []models.BookingStatus{models.StatusAccepted, models.StatusOnTheWay, models.StatusInProgress} {
		b, err = h.machine.Transition(ctx, b.ID, s, pro)
		require.NoError(t, err)
	}
	_, _, err = h.machine.Authorize(ctx, b.ID, "pm_card_visa", customer)
	require.NoError(t, err)

	h.gateway.SetCapture(func(string) (models.CaptureResult, error) {
		return models.CaptureResult{Outcome: models.CapturePending}, nil
	})
	b, err = h.machine.Transition(ctx, b.ID, models.StatusCompletedPendingPayment, pro)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompletedPendingPayment, b.Status)
	return b
}

func deliver(t *testing.T, h *harness, ev models.WebhookEvent) (Outcome, error) {
	t.Helper()
	return h.rec.Handle(context.Background(), paymenttest.Event(ev), paymenttest.ValidSignature)
}

func paidEntries(b *models.Booking) int {
	n := 0
	for _, e := range b.StatusHistory {
		if e.Status == models.StatusPaid {
			n++
		}
	}
	return n
}

func TestReconciler(t *testing.T) {
	ctx := context.Background()

	t.Run("Given a bad signature When delivered Then it is rejected before any claim", func(t *testing.T) {
		h := newHarness(t)
		out, err := h.rec.Handle(ctx, []byte(`{"eventId":"evt_1"}`), "forged")
		assert.Equal(t, OutcomeRejected, out)
		assert.ErrorIs(t, err, booking.ErrInvalidWebhookSignature)

		claimed, err := h.store.ClaimWebhookEvent(ctx, "evt_1", "x", h.now, time.Minute)
		require.NoError(t, err)
		assert.True(t, claimed, "rejected delivery must not leave a claim")
	})

	t.Run("Given a signed event that cannot be decoded When delivered Then it fails for redelivery instead of being rejected", func(t *testing.T) {
		h := newHarness(t)
		out, err := h.rec.Handle(ctx, []byte(`{"eventId":`), paymenttest.ValidSignature)
		assert.Equal(t, OutcomeFailed, out)
		require.Error(t, err)
		assert.NotErrorIs(t, err, booking.ErrInvalidWebhookSignature)
		assert.Empty(t, booking.CodeOf(err))
	})

	t.Run("Given a captured event delivered twice When reconciled Then the booking is paid once", func(t *testing.T) {
		h := newHarness(t)
		b := h.completedAwaitingCapture(t)
		require.NotEmpty(t, b.HoldRef())
		ev := models.WebhookEvent{ID: "evt_paid", Type: models.EventHoldCaptured, RawType: "payment_intent.succeeded", HoldID: b.HoldRef()}

		out, err := deliver(t, h, ev)
		require.NoError(t, err)
		assert.Equal(t, OutcomeProcessed, out)

		out, err = deliver(t, h, ev)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, out)

		got, err := h.store.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPaid, got.Status)
		assert.Equal(t, models.PaymentCaptured, got.PaymentState)
		assert.Equal(t, 1, paidEntries(got))
		assert.Equal(t, 1, h.sink.count(customer.ID, models.NotifyPaymentCaptured))
		assert.Equal(t, 1, h.sink.count(pro.ID, models.NotifyPaymentCaptured))
	})

	t.Run("Given a distinct event for an already paid booking When reconciled Then nothing changes", func(t *testing.T) {
		h := newHarness(t)
		b := h.completedAwaitingCapture(t)
		hold := "pi_" + b.ID

		_, err := deliver(t, h, models.WebhookEvent{ID: "evt_a", Type: models.EventHoldCaptured, HoldID: hold})
		require.NoError(t, err)
		out, err := deliver(t, h, models.WebhookEvent{ID: "evt_b", Type: models.EventHoldCaptured, HoldID: hold})
		require.NoError(t, err)
		assert.Equal(t, OutcomeProcessed, out)

		got, err := h.store.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, paidEntries(got))
		assert.Equal(t, 1, h.sink.count(customer.ID, models.NotifyPaymentCaptured))
	})

	t.Run("Given a failed event When reconciled twice Then payment is failed and parties are notified once", func(t *testing.T) {
		h := newHarness(t)
		b := h.completedAwaitingCapture(t)
		ev := models.WebhookEvent{ID: "evt_fail", Type: models.EventHoldFailed, HoldID: "pi_" + b.ID, FailureReason: "card_declined"}

		_, err := deliver(t, h, ev)
		require.NoError(t, err)
		ev.ID = "evt_fail_again"
		_, err = deliver(t, h, ev)
		require.NoError(t, err)

		got, err := h.store.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompletedPendingPayment, got.Status)
		assert.Equal(t, models.PaymentFailed, got.PaymentState)
		assert.Equal(t, 1, h.sink.count(customer.ID, models.NotifyPaymentRequired))
		assert.Equal(t, 1, h.sink.count(pro.ID, models.NotifyPaymentDelayed))
	})

	t.Run("Given an event before the hold is attached When reconciled Then it fails and succeeds on redelivery", func(t *testing.T) {
		h := newHarness(t)
		b, err := h.machine.Create(ctx, customer, pro.ID, 12000)
		require.NoError(t, err)
		b, err = h.machine.Transition(ctx, b.ID, models.StatusAccepted, pro)
		require.NoError(t, err)

		ev := models.WebhookEvent{ID: "evt_early", Type: models.EventHoldAuthorized, HoldID: "pi_" + b.ID, BookingID: b.ID}
		out, err := deliver(t, h, ev)
		assert.Equal(t, OutcomeFailed, out)
		assert.ErrorIs(t, err, ErrHoldNotAttached)

		h.gateway.AuthorizeStatus = models.HoldRequiresAction
		_, _, err = h.machine.Authorize(ctx, b.ID, "pm_3ds", customer)
		require.NoError(t, err)

		out, err = deliver(t, h, ev)
		require.NoError(t, err)
		assert.Equal(t, OutcomeProcessed, out)
		got, err := h.store.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentAuthorized, got.PaymentState)
	})

	t.Run("Given an event for an unknown hold When reconciled Then it is acknowledged and ignored", func(t *testing.T) {
		h := newHarness(t)
		out, err := deliver(t, h, models.WebhookEvent{ID: "evt_x", Type: models.EventHoldCaptured, HoldID: "pi_nobody"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, out)

		out, err = deliver(t, h, models.WebhookEvent{ID: "evt_x", Type: models.EventHoldCaptured, HoldID: "pi_nobody"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, out)
	})

	t.Run("Given an unrelated event type When reconciled Then it is ignored", func(t *testing.T) {
		h := newHarness(t)
		out, err := deliver(t, h, models.WebhookEvent{ID: "evt_cust", Type: models.EventIgnored, RawType: "customer.created"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, out)
	})

	t.Run("Given a claim abandoned by a crashed worker When redelivered after the TTL Then it is processed", func(t *testing.T) {
		h := newHarness(t)
		b := h.completedAwaitingCapture(t)
		ev := models.WebhookEvent{ID: "evt_crash", Type: models.EventHoldCaptured, HoldID: "pi_" + b.ID}

		claimed, err := h.store.ClaimWebhookEvent(ctx, ev.ID, "payment_intent.succeeded", h.now.Add(-time.Hour), time.Minute)
		require.NoError(t, err)
		require.True(t, claimed)

		out, err := deliver(t, h, ev)
		require.NoError(t, err)
		assert.Equal(t, OutcomeProcessed, out)
	})
}
