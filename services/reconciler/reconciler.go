// Package reconciler applies verified payment gateway events to bookings
// exactly once per event id.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	ledgerRepo "homepro/database/repository/ledger"
	"homepro/models"
	"homepro/services/booking"
	"homepro/services/payment"

	"go.uber.org/zap"
)

// Outcome describes what happened to a delivered event.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// ErrHoldNotAttached means the event refers to a booking whose hold reference
// has not been stored yet. The gateway should redeliver.
var ErrHoldNotAttached = errors.New("payment hold not attached to booking yet")

var errUnknownBooking = errors.New("event does not belong to a known booking")

// Verifier checks and decodes a raw gateway delivery.
type Verifier interface {
	ParseWebhook(payload []byte, signature string) (*models.WebhookEvent, error)
}

// Applier converges a booking on a gateway fact.
type Applier interface {
	ApplyCaptured(ctx context.Context, id string) (*models.Booking, error)
	ApplyFailed(ctx context.Context, id, reason string) (*models.Booking, error)
	ApplyAuthorized(ctx context.Context, id string) (*models.Booking, error)
	ApplyReleased(ctx context.Context, id string) (*models.Booking, error)
}

type Reconciler struct {
	store    ledgerRepo.Store
	verifier Verifier
	applier  Applier
	logger   *zap.Logger
	claimTTL time.Duration
	now      func() time.Time
}

type Options struct {
	ClaimTTL time.Duration
	Clock    func() time.Time
}

func New(store ledgerRepo.Store, verifier Verifier, applier Applier, logger *zap.Logger, opts Options) *Reconciler {
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 5 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:    store,
		verifier: verifier,
		applier:  applier,
		logger:   logger,
		claimTTL: opts.ClaimTTL,
		now:      opts.Clock,
	}
}

// Handle verifies, de-duplicates and applies one delivery. A non-nil error
// other than a signature failure means no claim is held and the gateway must
// redeliver.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	ev, err := r.verifier.ParseWebhook(payload, signature)
	if err != nil && !errors.Is(err, payment.ErrInvalidSignature) {
		r.logger.Error("verified webhook could not be decoded; awaiting redelivery", zap.Error(err))
		return OutcomeFailed, fmt.Errorf("decode webhook: %w", err)
	}
	if err != nil {
		r.logger.Warn("rejected webhook", zap.Error(err))
		return OutcomeRejected, &booking.Error{
			Code:    booking.CodeInvalidWebhookSignature,
			Message: "webhook could not be verified",
			Err:     err,
		}
	}
	log := r.logger.With(zap.String("eventId", ev.ID), zap.String("type", ev.RawType))

	claimed, err := r.store.ClaimWebhookEvent(ctx, ev.ID, ev.RawType, r.now(), r.claimTTL)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("claim event %s: %w", ev.ID, err)
	}
	if !claimed {
		log.Info("duplicate webhook delivery")
		return OutcomeDuplicate, nil
	}

	outcome, err := r.apply(ctx, ev, log)
	if err != nil {
		if rerr := r.store.ReleaseWebhookEvent(ctx, ev.ID); rerr != nil {
			log.Error("failed to release webhook claim", zap.Error(rerr))
		}
		log.Warn("webhook processing failed; awaiting redelivery", zap.Error(err))
		return OutcomeFailed, err
	}
	if err := r.store.CompleteWebhookEvent(ctx, ev.ID, r.now()); err != nil {
		return OutcomeFailed, fmt.Errorf("complete event %s: %w", ev.ID, err)
	}
	log.Info("webhook reconciled", zap.String("outcome", string(outcome)))
	return outcome, nil
}

func (r *Reconciler) apply(ctx context.Context, ev *models.WebhookEvent, log *zap.Logger) (Outcome, error) {
	if ev.Type == models.EventIgnored {
		return OutcomeIgnored, nil
	}

	b, err := r.locate(ctx, ev)
	if errors.Is(err, errUnknownBooking) {
		log.Info("webhook for unknown hold ignored", zap.String("hold", ev.HoldID), zap.String("bookingId", ev.BookingID))
		return OutcomeIgnored, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}
	log = log.With(zap.String("bookingId", b.ID))

	switch ev.Type {
	case models.EventHoldCaptured:
		_, err = r.applier.ApplyCaptured(ctx, b.ID)
	case models.EventHoldFailed:
		_, err = r.applier.ApplyFailed(ctx, b.ID, ev.FailureReason)
	case models.EventHoldAuthorized:
		_, err = r.applier.ApplyAuthorized(ctx, b.ID)
	case models.EventHoldReleased:
		_, err = r.applier.ApplyReleased(ctx, b.ID)
	default:
		return OutcomeIgnored, nil
	}

	switch {
	case err == nil:
		return OutcomeProcessed, nil
	case booking.IsPartialSuccess(err):
		// The fact is recorded; settlement follow-ups are scheduled by the machine.
		log.Warn("webhook applied with pending payment follow-up", zap.Error(err))
		return OutcomeProcessed, nil
	case errors.Is(err, booking.ErrNotFound):
		return OutcomeIgnored, nil
	default:
		return OutcomeFailed, err
	}
}

// locate finds the booking an event refers to, by hold reference first and
// then by the booking id stamped into the hold's metadata.
func (r *Reconciler) locate(ctx context.Context, ev *models.WebhookEvent) (*models.Booking, error) {
	if ev.HoldID != "" {
		b, err := r.store.GetByHoldRef(ctx, ev.HoldID)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, ledgerRepo.ErrNotFound) {
			return nil, fmt.Errorf("lookup hold %s: %w", ev.HoldID, err)
		}
	}
	if ev.BookingID == "" {
		return nil, errUnknownBooking
	}

	b, err := r.store.Get(ctx, ev.BookingID)
	if errors.Is(err, ledgerRepo.ErrNotFound) {
		return nil, errUnknownBooking
	}
	if err != nil {
		return nil, fmt.Errorf("lookup booking %s: %w", ev.BookingID, err)
	}
	if b.HoldRef() != "" {
		// The booking holds a different reference: this event is for an
		// orphaned hold that lost the attach race.
		return nil, errUnknownBooking
	}
	if ev.Type == models.EventHoldReleased || b.Status == models.StatusCancelled || b.Status == models.StatusDeclined {
		return nil, errUnknownBooking
	}
	return nil, fmt.Errorf("booking %s: %w", b.ID, ErrHoldNotAttached)
}
