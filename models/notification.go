package models

import "time"

// Notification types emitted by the booking lifecycle.
const (
	NotifyStatusChanged   = "booking_status_changed"
	NotifyPaymentCaptured = "payment_captured"
	NotifyPaymentRequired = "payment_required"
	NotifyPaymentDelayed  = "payment_delayed"
)

type Notification struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	BookingID string            `json:"bookingId"`
	Status    BookingStatus     `json:"status"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Recipient is the user a notification is addressed to.
type Recipient struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// LifecycleEvent is published to the event bus after every committed transition.
type LifecycleEvent struct {
	Event        string        `json:"event"`
	Version      int           `json:"version"`
	BookingID    string        `json:"bookingId"`
	From         BookingStatus `json:"from"`
	To           BookingStatus `json:"to"`
	Actor        Actor         `json:"actor"`
	PaymentState PaymentState  `json:"paymentState"`
	Price        int64         `json:"price"`
	Currency     string        `json:"currency"`
	OccurredAt   time.Time     `json:"occurredAt"`
}

// PartitionKey keeps every event of one booking on the same broker partition.
func (e LifecycleEvent) PartitionKey() string {
	return e.BookingID
}
