package booking

import (
	"context"
	"errors"

	ledgerRepo "homepro/database/repository/ledger"
	"homepro/models"
	"homepro/services/payment"

	"go.uber.org/zap"
)

// Authorize places a payment hold for the booking's price and attaches its
// reference. An existing hold is returned with ErrAlreadyAuthorized and no
// gateway call is made. Besides accepted, on_the_way and in_progress, a
// booking already in completed_pending_payment may still be authorized; the
// capture then runs right after the hold attaches.
func (m *Machine) Authorize(ctx context.Context, id, paymentMethodRef string, p models.Principal) (*models.Booking, string, error) {
	b, err := m.load(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if p.Role != models.RoleCustomer || !b.IsParty(p) {
		return nil, "", newError(ErrUnauthorized, "only the booking's customer may authorize payment")
	}
	if ref := b.HoldRef(); ref != "" {
		return b, ref, newError(ErrAlreadyAuthorized, "booking %s already holds %s", id, ref)
	}
	if !isAuthorizable(b.Status) {
		return nil, "", newError(ErrInvalidTransition, "cannot authorize payment while booking is %s", b.Status)
	}
	if b.Price <= 0 {
		return nil, "", newError(ErrValidation, "booking %s has no payable amount", id)
	}
	if paymentMethodRef == "" {
		return nil, "", newError(ErrValidation, "paymentMethodRef is required")
	}

	log := m.logger.With(zap.String("bookingId", id))
	hold, err := m.gateway.Authorize(ctx, models.HoldRequest{
		BookingID:        b.ID,
		Amount:           b.Price,
		Currency:         b.Currency,
		PaymentMethodRef: paymentMethodRef,
		IdempotencyKey:   b.ID,
	})
	if err != nil {
		log.Warn("authorization failed", zap.Error(err))
		if errors.Is(err, payment.ErrGatewayUnavailable) {
			return nil, "", wrapError(ErrGatewayUnavailable, err, "could not place hold for booking %s", id)
		}
		return nil, "", wrapError(ErrValidation, err, "payment method was not accepted")
	}

	state := models.PaymentNone
	if hold.Status == models.HoldRequiresCapture {
		state = models.PaymentAuthorized
	}

	next, err := m.attach(ctx, b.ID, hold.ID, state)
	if err != nil {
		if !errors.Is(err, ledgerRepo.ErrStale) {
			return nil, "", m.writeError(b.ID, err)
		}
		return m.resolveAttachRace(ctx, b.ID, hold.ID)
	}
	log.Info("payment hold attached", zap.String("hold", hold.ID), zap.String("paymentState", string(state)))

	if next.Status == models.StatusCompletedPendingPayment && state == models.PaymentAuthorized {
		settled, serr := m.settle(ctx, next, true)
		return settled, hold.ID, serr
	}
	return next, hold.ID, nil
}

// attachAttempts bounds AttachHold retries while the booking stays
// authorizable without a hold.
const attachAttempts = 3

// attach stores the hold reference. A stale write is retried as long as the
// booking still has no hold and remains authorizable.
func (m *Machine) attach(ctx context.Context, id, holdID string, state models.PaymentState) (*models.Booking, error) {
	var err error
	for attempt := 0; attempt < attachAttempts; attempt++ {
		var next *models.Booking
		next, err = m.store.AttachHold(ctx, id, holdID, state, authorizable)
		if err == nil || !errors.Is(err, ledgerRepo.ErrStale) {
			return next, err
		}
		cur, lerr := m.load(ctx, id)
		if lerr != nil {
			return nil, lerr
		}
		if cur.PaymentHoldRef != nil || !isAuthorizable(cur.Status) {
			return nil, err
		}
	}
	return nil, err
}

// resolveAttachRace handles a lost AttachHold: either another request
// attached a hold first, or the booking left the authorizable statuses and
// the new hold is orphaned.
func (m *Machine) resolveAttachRace(ctx context.Context, id, holdID string) (*models.Booking, string, error) {
	cur, err := m.load(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if ref := cur.HoldRef(); ref != "" {
		if ref != holdID {
			m.releaseOrphan(ctx, id, holdID)
		}
		return cur, ref, newError(ErrAlreadyAuthorized, "booking %s already holds %s", id, ref)
	}
	if isAuthorizable(cur.Status) {
		// Still eligible: keep the live hold so a retried request can attach it.
		return cur, "", newError(ErrConflict, "booking %s kept changing while authorizing; retry", id)
	}
	m.releaseOrphan(ctx, id, holdID)
	return cur, "", newError(ErrConflict, "booking %s moved to %s while authorizing", id, cur.Status)
}

func (m *Machine) releaseOrphan(ctx context.Context, id, holdID string) {
	if err := m.gateway.Release(ctx, holdID); err != nil {
		m.logger.Error("failed to release orphaned hold", zap.String("bookingId", id), zap.String("hold", holdID), zap.Error(err))
	}
}
