package ledgerRepo

import (
	"context"
	"errors"
	"time"

	"homepro/models"
)

var (
	// ErrNotFound is returned when no booking matches the id or hold reference.
	ErrNotFound = errors.New("booking not found")
	// ErrStale is returned when a conditional write's precondition no longer holds.
	ErrStale = errors.New("booking precondition failed")
	// ErrDuplicate is returned when a booking id already exists.
	ErrDuplicate = errors.New("booking already exists")
)

// Fields are optional column updates applied in the same atomic write as a
// status or payment change. Nil pointers leave the column untouched.
// CompletedAt, PaidAt and HoldReleasedAt are set-once: a value already
// present is never overwritten.
type Fields struct {
	PaymentState   *models.PaymentState
	CompletedAt    *time.Time
	PaidAt         *time.Time
	HoldReleasedAt *time.Time
	FailureReason  *string
}

// Store persists bookings and the webhook de-duplication table. Every
// mutating method is a single conditional write; history is only appended
// together with the status it records.
type Store interface {
	Create(ctx context.Context, b *models.Booking) error
	Get(ctx context.Context, id string) (*models.Booking, error)
	GetByHoldRef(ctx context.Context, holdRef string) (*models.Booking, error)
	ListByParty(ctx context.Context, role models.Role, partyID string, limit int) ([]models.Booking, error)

	// CompareAndSwapStatus moves the booking from expected to next and appends
	// entry, or returns ErrStale when the stored status is no longer expected.
	CompareAndSwapStatus(ctx context.Context, id string, expected, next models.BookingStatus, entry models.StatusEntry, fields Fields) (*models.Booking, error)
	// AttachHold sets the hold reference once, only while no reference exists
	// and the status is one of allowed.
	AttachHold(ctx context.Context, id, holdRef string, state models.PaymentState, allowed []models.BookingStatus) (*models.Booking, error)
	// UpdatePayment applies fields when the payment state is one of expected
	// (any state when expected is empty). Status and history are untouched.
	UpdatePayment(ctx context.Context, id string, expected []models.PaymentState, fields Fields) (*models.Booking, error)

	// ClaimWebhookEvent inserts the event id atomically. It reports false when
	// the event was already processed or is claimed by a live worker; a claim
	// older than staleAfter is taken over.
	ClaimWebhookEvent(ctx context.Context, eventID, eventType string, now time.Time, staleAfter time.Duration) (bool, error)
	CompleteWebhookEvent(ctx context.Context, eventID string, now time.Time) error
	ReleaseWebhookEvent(ctx context.Context, eventID string) error

	EnsureSchema(ctx context.Context) error
}

// ApplyFields copies non-nil fields onto b honouring the set-once columns.
func ApplyFields(b *models.Booking, f Fields) {
	if f.PaymentState != nil {
		b.PaymentState = *f.PaymentState
	}
	if f.CompletedAt != nil && b.CompletedAt == nil {
		t := *f.CompletedAt
		b.CompletedAt = &t
	}
	if f.PaidAt != nil && b.PaidAt == nil {
		t := *f.PaidAt
		b.PaidAt = &t
	}
	if f.HoldReleasedAt != nil && b.HoldReleasedAt == nil {
		t := *f.HoldReleasedAt
		b.HoldReleasedAt = &t
	}
	if f.FailureReason != nil {
		b.FailureReason = *f.FailureReason
	}
}

func containsStatus(list []models.BookingStatus, s models.BookingStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsPaymentState(list []models.PaymentState, s models.PaymentState) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func statusStrings(list []models.BookingStatus) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return out
}

func paymentStateStrings(list []models.PaymentState) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return out
}
