package booking

import (
	"context"
	"errors"

	ledgerRepo "homepro/database/repository/ledger"
	"homepro/models"

	"go.uber.org/zap"
)

// ApplyCaptured records a gateway-confirmed capture. A booking awaiting
// payment becomes paid exactly once; any other status only records the
// payment state.
func (m *Machine) ApplyCaptured(ctx context.Context, id string) (*models.Booking, error) {
	b, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch b.Status {
	case models.StatusPaid:
		return b, nil
	case models.StatusCompletedPendingPayment:
		return m.markPaid(ctx, b)
	}

	if b.PaymentState == models.PaymentCaptured {
		return b, nil
	}
	m.logger.Warn("capture confirmed for booking not awaiting payment",
		zap.String("bookingId", b.ID), zap.String("status", string(b.Status)))
	captured := models.PaymentCaptured
	next, err := m.store.UpdatePayment(ctx, b.ID, nil, ledgerRepo.Fields{PaymentState: &captured})
	if err != nil {
		return nil, m.writeError(b.ID, err)
	}
	return next, nil
}

// ApplyFailed records a gateway-reported payment failure without touching
// the booking status. Parties are notified only by the write that records it.
func (m *Machine) ApplyFailed(ctx context.Context, id, reason string) (*models.Booking, error) {
	b, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.PaymentState == models.PaymentCaptured || b.PaymentState == models.PaymentFailed {
		return b, nil
	}
	if reason == "" {
		reason = "payment failed at gateway"
	}
	next, won, err := m.failPayment(ctx, b, reason)
	if err != nil {
		return nil, err
	}
	if won {
		m.logger.Warn("payment failed", zap.String("bookingId", b.ID), zap.String("reason", reason))
	}
	return next, nil
}

// ApplyAuthorized promotes a hold that finished customer authentication
// after the synchronous call returned.
func (m *Machine) ApplyAuthorized(ctx context.Context, id string) (*models.Booking, error) {
	b, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.PaymentState != models.PaymentNone {
		return b, nil
	}
	authorized := models.PaymentAuthorized
	next, err := m.store.UpdatePayment(ctx, b.ID, []models.PaymentState{models.PaymentNone}, ledgerRepo.Fields{PaymentState: &authorized})
	if err != nil {
		if errors.Is(err, ledgerRepo.ErrStale) {
			return m.load(ctx, id)
		}
		return nil, m.writeError(b.ID, err)
	}
	m.logger.Info("hold authorized asynchronously", zap.String("bookingId", b.ID))

	switch next.Status {
	case models.StatusCompletedPendingPayment:
		return m.settle(ctx, next, true)
	case models.StatusCancelled, models.StatusDeclined:
		return m.releaseAfterCancel(ctx, next), nil
	}
	return next, nil
}

// ApplyReleased records that the gateway cancelled the hold.
func (m *Machine) ApplyReleased(ctx context.Context, id string) (*models.Booking, error) {
	b, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.HoldReleasedAt != nil {
		return b, nil
	}
	at := m.now()
	next, err := m.store.UpdatePayment(ctx, b.ID, nil, ledgerRepo.Fields{HoldReleasedAt: &at})
	if err != nil {
		return nil, m.writeError(b.ID, err)
	}
	return next, nil
}
