package models

import "time"

// BookingStatus is a state of the booking lifecycle.
type BookingStatus string

const (
	StatusRequested               BookingStatus = "requested"
	StatusAccepted                BookingStatus = "accepted"
	StatusDeclined                BookingStatus = "declined"
	StatusOnTheWay                BookingStatus = "on_the_way"
	StatusInProgress              BookingStatus = "in_progress"
	StatusCompletedPendingPayment BookingStatus = "completed_pending_payment"
	StatusPaid                    BookingStatus = "paid"
	StatusCancelled               BookingStatus = "cancelled"
)

var allStatuses = []BookingStatus{
	StatusRequested,
	StatusAccepted,
	StatusDeclined,
	StatusOnTheWay,
	StatusInProgress,
	StatusCompletedPendingPayment,
	StatusPaid,
	StatusCancelled,
}

// IsValid reports whether s is a known booking status.
func (s BookingStatus) IsValid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s BookingStatus) IsTerminal() bool {
	return s == StatusPaid || s == StatusDeclined || s == StatusCancelled
}

func (s BookingStatus) String() string {
	return string(s)
}

// PaymentState tracks the gateway hold independently from the work status.
type PaymentState string

const (
	PaymentNone       PaymentState = "NONE"
	PaymentAuthorized PaymentState = "AUTHORIZED"
	PaymentCaptured   PaymentState = "CAPTURED"
	PaymentFailed     PaymentState = "FAILED"
)

// Actor identifies who caused a status change.
type Actor struct {
	ID   string `bson:"id" json:"id"`
	Role Role   `bson:"role" json:"role"`
}

// StatusEntry is one element of the append-only status history.
type StatusEntry struct {
	Status BookingStatus `bson:"status" json:"status"`
	At     time.Time     `bson:"at" json:"at"`
	Actor  Actor         `bson:"actor" json:"actor"`
}

// Booking is a service visit requested by a customer and performed by a pro.
type Booking struct {
	ID             string        `bson:"id" json:"id"`
	Status         BookingStatus `bson:"status" json:"status"`
	CustomerID     string        `bson:"customerId" json:"customerId"`
	ProID          string        `bson:"proId" json:"proId"`
	Price          int64         `bson:"price" json:"price"` // minor units
	Currency       string        `bson:"currency" json:"currency"`
	PaymentHoldRef *string       `bson:"paymentHoldRef" json:"paymentHoldRef"`
	PaymentState   PaymentState  `bson:"paymentState" json:"paymentState"`
	StatusHistory  []StatusEntry `bson:"statusHistory" json:"statusHistory"`
	CompletedAt    *time.Time    `bson:"completedAt" json:"completedAt"`
	PaidAt         *time.Time    `bson:"paidAt" json:"paidAt"`
	HoldReleasedAt *time.Time    `bson:"holdReleasedAt,omitempty" json:"holdReleasedAt,omitempty"`
	FailureReason  string        `bson:"failureReason,omitempty" json:"failureReason,omitempty"`
	Version        int64         `bson:"version" json:"version"`
	CreatedAt      time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// HoldRef returns the attached hold reference or "" when none exists.
func (b *Booking) HoldRef() string {
	if b.PaymentHoldRef == nil {
		return ""
	}
	return *b.PaymentHoldRef
}

// LastEntry returns the most recent history entry.
func (b *Booking) LastEntry() (StatusEntry, bool) {
	if len(b.StatusHistory) == 0 {
		return StatusEntry{}, false
	}
	return b.StatusHistory[len(b.StatusHistory)-1], true
}

// IsParty reports whether the principal is the booking's customer or pro.
func (b *Booking) IsParty(p Principal) bool {
	switch p.Role {
	case RoleCustomer:
		return p.ID != "" && p.ID == b.CustomerID
	case RolePro:
		return p.ID != "" && p.ID == b.ProID
	}
	return false
}

// Clone returns a deep copy so callers never share history slices or pointers.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	c.StatusHistory = append([]StatusEntry(nil), b.StatusHistory...)
	c.PaymentHoldRef = cloneString(b.PaymentHoldRef)
	c.CompletedAt = cloneTime(b.CompletedAt)
	c.PaidAt = cloneTime(b.PaidAt)
	c.HoldReleasedAt = cloneTime(b.HoldReleasedAt)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CreateBookingRequest is the body of POST /api/bookings.
type CreateBookingRequest struct {
	ProID string `json:"proId" binding:"required"`
	Price int64  `json:"price" binding:"gte=0"`
}

// TransitionRequest is the body of POST /api/bookings/:id/transition.
type TransitionRequest struct {
	TargetStatus BookingStatus `json:"targetStatus" binding:"required"`
}

// AuthorizeRequest is the body of POST /api/bookings/:id/authorize.
type AuthorizeRequest struct {
	PaymentMethodRef string `json:"paymentMethodRef" binding:"required"`
}
