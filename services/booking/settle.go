package booking

import (
	"context"
	"errors"
	"fmt"

	ledgerRepo "homepro/database/repository/ledger"
	"homepro/models"
	"homepro/services/payment"

	"go.uber.org/zap"
)

// markPaidAttempts bounds re-reads when the paid write loses to a concurrent
// payment-state update.
const markPaidAttempts = 3

// settle captures the hold of a booking in completed_pending_payment. When
// schedule is set, a failed capture call enqueues a background retry.
func (m *Machine) settle(ctx context.Context, b *models.Booking, schedule bool) (*models.Booking, error) {
	log := m.logger.With(zap.String("bookingId", b.ID))

	if b.PaymentHoldRef == nil {
		m.notifyPaymentRequired(ctx, b)
		return b, newError(ErrPaymentRequired, "booking %s is complete; the customer must authorize payment", b.ID)
	}

	switch b.PaymentState {
	case models.PaymentCaptured:
		return m.markPaid(ctx, b)
	case models.PaymentFailed:
		return b, newError(ErrPaymentPartialFailure, "payment for booking %s failed: %s", b.ID, b.FailureReason)
	case models.PaymentNone:
		return b, newError(ErrPaymentRequired, "payment hold for booking %s is awaiting customer authentication", b.ID)
	}

	res, err := m.gateway.Capture(ctx, b.HoldRef())
	if err != nil {
		log.Warn("capture failed; booking stays pending payment", zap.Error(err))
		if schedule {
			if serr := m.retries.ScheduleCaptureRetry(ctx, b.ID); serr != nil {
				log.Error("failed to schedule capture retry", zap.Error(serr))
			}
			m.notifyPaymentDelayed(ctx, b)
		}
		return b, wrapError(ErrPaymentPartialFailure, err, "capture for booking %s did not complete", b.ID)
	}

	switch res.Outcome {
	case models.CaptureSucceeded:
		return m.markPaid(ctx, b)
	case models.CaptureDeclined:
		return m.recordDecline(ctx, b, res.FailureReason)
	default:
		log.Info("capture pending at gateway; awaiting webhook")
		return b, nil
	}
}

// markPaid performs completed_pending_payment -> paid as the system. Losing
// the write to another path that already recorded paid is a no-op.
func (m *Machine) markPaid(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	current := b
	for attempt := 0; attempt < markPaidAttempts; attempt++ {
		switch current.Status {
		case models.StatusPaid:
			return current, nil
		case models.StatusCompletedPendingPayment:
		default:
			return current, newError(ErrInvalidTransition, "cannot mark booking %s paid from %s", current.ID, current.Status)
		}

		at := m.stamp(current)
		captured := models.PaymentCaptured
		fields := ledgerRepo.Fields{PaymentState: &captured, PaidAt: &at}
		next, err := m.store.CompareAndSwapStatus(ctx, current.ID, models.StatusCompletedPendingPayment, models.StatusPaid,
			m.entry(models.StatusPaid, at, models.SystemPrincipal), fields)
		if err == nil {
			m.logger.Info("booking paid", zap.String("bookingId", next.ID), zap.Int64("amount", next.Price))
			m.announcePaid(ctx, next)
			return next, nil
		}
		if !errors.Is(err, ledgerRepo.ErrStale) {
			return current, m.writeError(current.ID, err)
		}
		if current, err = m.load(ctx, b.ID); err != nil {
			return nil, err
		}
	}
	return current, newError(ErrConflict, "booking %s kept changing while recording payment", b.ID)
}

func (m *Machine) recordDecline(ctx context.Context, b *models.Booking, reason string) (*models.Booking, error) {
	next, won, err := m.failPayment(ctx, b, reason)
	if err != nil {
		return b, err
	}
	if won {
		m.logger.Warn("capture declined", zap.String("bookingId", b.ID), zap.String("reason", reason))
	}
	return next, newError(ErrPaymentPartialFailure, "payment for booking %s was declined: %s", b.ID, reason)
}

// failPayment sets FAILED unless a terminal payment state is already
// recorded. won reports whether this call made the change.
func (m *Machine) failPayment(ctx context.Context, b *models.Booking, reason string) (*models.Booking, bool, error) {
	failed := models.PaymentFailed
	next, err := m.store.UpdatePayment(ctx, b.ID,
		[]models.PaymentState{models.PaymentNone, models.PaymentAuthorized},
		ledgerRepo.Fields{PaymentState: &failed, FailureReason: &reason})
	if err != nil {
		if errors.Is(err, ledgerRepo.ErrStale) {
			cur, lerr := m.load(ctx, b.ID)
			return cur, false, lerr
		}
		return b, false, m.writeError(b.ID, err)
	}
	m.notifyPaymentRequired(ctx, next)
	m.notifyPaymentDelayed(ctx, next)
	return next, true, nil
}

// RetryCapture re-runs settlement for a completed booking without another
// status change. The pro owner may call it; background jobs call it as the
// system and rely on the queue's own backoff.
func (m *Machine) RetryCapture(ctx context.Context, id string, p models.Principal) (*models.Booking, error) {
	b, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !(p.Role == models.RoleSystem || (p.Role == models.RolePro && b.IsParty(p))) {
		return nil, newError(ErrUnauthorized, "only the pro or the system may retry capture")
	}
	switch b.Status {
	case models.StatusPaid:
		return b, nil
	case models.StatusCompletedPendingPayment:
		return m.settle(ctx, b, p.Role != models.RoleSystem)
	default:
		return nil, newError(ErrInvalidTransition, "booking %s is %s, not awaiting payment", id, b.Status)
	}
}

// releaseAfterCancel releases the hold of a just-cancelled booking. A failed
// release never undoes the cancellation; it is scheduled for retry.
func (m *Machine) releaseAfterCancel(ctx context.Context, b *models.Booking) *models.Booking {
	if !needsRelease(b) {
		return b
	}
	if err := m.gateway.Release(ctx, b.HoldRef()); err != nil {
		m.logger.Warn("hold release failed; scheduling retry",
			zap.String("bookingId", b.ID), zap.String("hold", b.HoldRef()), zap.Error(err))
		if serr := m.retries.ScheduleHoldRelease(ctx, b.ID); serr != nil {
			m.logger.Error("failed to schedule hold release", zap.String("bookingId", b.ID), zap.Error(serr))
		}
		return b
	}
	next, err := m.recordRelease(ctx, b)
	if err != nil {
		m.logger.Error("hold released but not recorded", zap.String("bookingId", b.ID), zap.Error(err))
		return b
	}
	return next
}

// ReleaseHold retries the release of a cancelled booking's hold. Only the
// system may call it.
func (m *Machine) ReleaseHold(ctx context.Context, id string, p models.Principal) (*models.Booking, error) {
	if p.Role != models.RoleSystem {
		return nil, newError(ErrUnauthorized, "only the system may release holds")
	}
	b, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusCancelled || !needsRelease(b) {
		return b, nil
	}
	if err := m.gateway.Release(ctx, b.HoldRef()); err != nil {
		if errors.Is(err, payment.ErrGatewayUnavailable) {
			return b, wrapError(ErrGatewayUnavailable, err, "release of hold %s failed", b.HoldRef())
		}
		return b, fmt.Errorf("release hold %s: %w", b.HoldRef(), err)
	}
	return m.recordRelease(ctx, b)
}

func (m *Machine) recordRelease(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	at := m.now()
	next, err := m.store.UpdatePayment(ctx, b.ID, nil, ledgerRepo.Fields{HoldReleasedAt: &at})
	if err != nil {
		return b, m.writeError(b.ID, err)
	}
	m.logger.Info("hold released", zap.String("bookingId", b.ID), zap.String("hold", b.HoldRef()))
	return next, nil
}

func needsRelease(b *models.Booking) bool {
	return b.PaymentHoldRef != nil && b.HoldReleasedAt == nil && b.PaymentState != models.PaymentCaptured
}
