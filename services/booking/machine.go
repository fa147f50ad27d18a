package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ledgerRepo "homepro/database/repository/ledger"
	"homepro/models"
	"homepro/services/events"
	"homepro/services/notification"
	"homepro/services/payment"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RetryScheduler enqueues background retries for gateway calls that failed
// after the booking change was committed.
type RetryScheduler interface {
	ScheduleCaptureRetry(ctx context.Context, bookingID string) error
	ScheduleHoldRelease(ctx context.Context, bookingID string) error
}

type nopScheduler struct{}

func (nopScheduler) ScheduleCaptureRetry(context.Context, string) error { return nil }
func (nopScheduler) ScheduleHoldRelease(context.Context, string) error  { return nil }

// Deps are the collaborators of a Machine. Store and Gateway are required.
type Deps struct {
	Store     ledgerRepo.Store
	Gateway   payment.Gateway
	Notifier  notification.Sink
	Events    events.Publisher
	Retries   RetryScheduler
	Logger    *zap.Logger
	Currency  string
	Clock     func() time.Time
	ListLimit int
}

// Machine owns every mutation of a booking. All writes go through the
// store's conditional primitives; side effects run after the write commits.
type Machine struct {
	store     ledgerRepo.Store
	gateway   payment.Gateway
	notifier  notification.Sink
	events    events.Publisher
	retries   RetryScheduler
	logger    *zap.Logger
	currency  string
	now       func() time.Time
	listLimit int
}

func NewMachine(d Deps) (*Machine, error) {
	if d.Store == nil || d.Gateway == nil {
		return nil, fmt.Errorf("booking machine initialization error: store or gateway is nil")
	}
	m := &Machine{
		store:     d.Store,
		gateway:   d.Gateway,
		notifier:  d.Notifier,
		events:    d.Events,
		retries:   d.Retries,
		logger:    d.Logger,
		currency:  strings.ToLower(d.Currency),
		now:       d.Clock,
		listLimit: d.ListLimit,
	}
	if m.notifier == nil {
		m.notifier = notification.Nop
	}
	if m.events == nil {
		m.events = events.Nop
	}
	if m.retries == nil {
		m.retries = nopScheduler{}
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.currency == "" {
		m.currency = "usd"
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	if m.listLimit <= 0 {
		m.listLimit = 50
	}
	return m, nil
}

// Create records a new booking request from a customer.
func (m *Machine) Create(ctx context.Context, p models.Principal, proID string, price int64) (*models.Booking, error) {
	if p.Role != models.RoleCustomer || p.ID == "" {
		return nil, newError(ErrUnauthorized, "only customers can request bookings")
	}
	switch {
	case proID == "":
		return nil, newError(ErrValidation, "proId is required")
	case proID == p.ID:
		return nil, newError(ErrValidation, "a customer cannot book themselves")
	case price < 0:
		return nil, newError(ErrValidation, "price must not be negative")
	}

	now := m.now()
	b := &models.Booking{
		ID:           uuid.NewString(),
		Status:       models.StatusRequested,
		CustomerID:   p.ID,
		ProID:        proID,
		Price:        price,
		Currency:     m.currency,
		PaymentState: models.PaymentNone,
		StatusHistory: []models.StatusEntry{{
			Status: models.StatusRequested,
			At:     now,
			Actor:  p.Actor(),
		}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	m.logger.Info("booking requested", zap.String("bookingId", b.ID), zap.String("customerId", p.ID), zap.String("proId", proID))
	m.announce(ctx, "", b, p)
	return b, nil
}

// Get returns a booking readable by its parties, admins and the system.
func (m *Machine) Get(ctx context.Context, id string, p models.Principal) (*models.Booking, error) {
	b, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canRead(b, p) {
		return nil, newError(ErrUnauthorized, "principal is not a party to booking %s", id)
	}
	return b, nil
}

// History returns the ordered status history of a booking.
func (m *Machine) History(ctx context.Context, id string, p models.Principal) ([]models.StatusEntry, error) {
	b, err := m.Get(ctx, id, p)
	if err != nil {
		return nil, err
	}
	return b.StatusHistory, nil
}

// ListFilter narrows List for admins; parties always see their own bookings.
type ListFilter struct {
	Role    models.Role
	PartyID string
	Limit   int
}

func (m *Machine) List(ctx context.Context, p models.Principal, f ListFilter) ([]models.Booking, error) {
	limit := f.Limit
	if limit <= 0 || limit > m.listLimit {
		limit = m.listLimit
	}

	role, party := p.Role, p.ID
	switch p.Role {
	case models.RoleCustomer, models.RolePro:
	case models.RoleAdmin, models.RoleSystem:
		if f.PartyID == "" || (f.Role != models.RoleCustomer && f.Role != models.RolePro) {
			return nil, newError(ErrValidation, "role and partyId filters are required")
		}
		role, party = f.Role, f.PartyID
	default:
		return nil, newError(ErrUnauthorized, "unknown role %q", p.Role)
	}

	list, err := m.store.ListByParty(ctx, role, party, limit)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return list, nil
}

// Transition moves a booking to target on behalf of p. Partial payment
// outcomes are returned as an error alongside the committed booking.
func (m *Machine) Transition(ctx context.Context, id string, target models.BookingStatus, p models.Principal) (*models.Booking, error) {
	if !target.IsValid() {
		return nil, newError(ErrValidation, "unknown status %q", target)
	}
	b, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !mayAct(b, p) {
		return nil, newError(ErrUnauthorized, "principal is not a party to booking %s", id)
	}

	if b.Status == target {
		// A retried request: nothing to write. A completion retry re-attempts
		// the capture when the caller is allowed to complete.
		if target == models.StatusCompletedPendingPayment && (p.Role == models.RolePro || p.Role == models.RoleSystem) {
			return m.settle(ctx, b, p.Role != models.RoleSystem)
		}
		return b, nil
	}

	if !HasEdge(b.Status, target) {
		return nil, newError(ErrInvalidTransition, "cannot move booking from %s to %s", b.Status, target)
	}
	if !CanTransition(b.Status, target, p.Role) {
		return nil, newError(ErrUnauthorized, "%s may not move booking from %s to %s", p.Role, b.Status, target)
	}
	if target == models.StatusPaid {
		// paid is only recorded for money the gateway has captured.
		if b.PaymentState != models.PaymentCaptured {
			return nil, newError(ErrInvalidTransition, "booking %s has no captured payment (payment state %s); retry capture instead", b.ID, b.PaymentState)
		}
		return m.markPaid(ctx, b)
	}

	at := m.stamp(b)
	var fields ledgerRepo.Fields
	if target == models.StatusCompletedPendingPayment {
		fields.CompletedAt = &at
	}

	next, err := m.store.CompareAndSwapStatus(ctx, b.ID, b.Status, target, m.entry(target, at, p), fields)
	if err != nil {
		return nil, m.writeError(b.ID, err)
	}
	m.logger.Info("booking transitioned",
		zap.String("bookingId", b.ID),
		zap.String("from", string(b.Status)),
		zap.String("to", string(target)),
		zap.String("actor", p.ID))
	m.announce(ctx, b.Status, next, p)

	switch target {
	case models.StatusCancelled:
		return m.releaseAfterCancel(ctx, next), nil
	case models.StatusCompletedPendingPayment:
		return m.settle(ctx, next, true)
	}
	return next, nil
}

func (m *Machine) load(ctx context.Context, id string) (*models.Booking, error) {
	b, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ledgerRepo.ErrNotFound) {
			return nil, newError(ErrNotFound, "booking %s not found", id)
		}
		return nil, fmt.Errorf("load booking %s: %w", id, err)
	}
	return b, nil
}

// stamp returns the time for a new history entry, never earlier than the
// previous entry.
func (m *Machine) stamp(b *models.Booking) time.Time {
	at := m.now()
	if last, ok := b.LastEntry(); ok && at.Before(last.At) {
		at = last.At
	}
	return at
}

func (m *Machine) entry(status models.BookingStatus, at time.Time, p models.Principal) models.StatusEntry {
	return models.StatusEntry{Status: status, At: at, Actor: p.Actor()}
}

func (m *Machine) writeError(id string, err error) error {
	switch {
	case errors.Is(err, ledgerRepo.ErrStale):
		return newError(ErrConflict, "booking %s changed before the write; reload and retry", id)
	case errors.Is(err, ledgerRepo.ErrNotFound):
		return newError(ErrNotFound, "booking %s not found", id)
	default:
		return fmt.Errorf("write booking %s: %w", id, err)
	}
}

func mayAct(b *models.Booking, p models.Principal) bool {
	return p.Role == models.RoleSystem || b.IsParty(p)
}

func canRead(b *models.Booking, p models.Principal) bool {
	return p.Role == models.RoleAdmin || mayAct(b, p)
}
