package models

import "time"

// HoldRequest asks the gateway to reserve funds against a payment method.
type HoldRequest struct {
	BookingID        string
	Amount           int64 // minor units
	Currency         string
	PaymentMethodRef string
	// IdempotencyKey is the booking id so a retried call cannot create a second hold.
	IdempotencyKey string
	Metadata       map[string]string
}

// HoldStatus mirrors the gateway's view of a hold.
type HoldStatus string

const (
	HoldRequiresCapture HoldStatus = "requires_capture"
	HoldRequiresAction  HoldStatus = "requires_action"
	HoldProcessing      HoldStatus = "processing"
	HoldSucceeded       HoldStatus = "succeeded"
	HoldCanceled        HoldStatus = "canceled"
	HoldFailed          HoldStatus = "requires_payment_method"
)

// PaymentHold is a gateway-owned reservation of funds. It is referenced by a
// booking, never stored.
type PaymentHold struct {
	ID       string
	Amount   int64
	Currency string
	Status   HoldStatus
}

// CaptureOutcome is the synchronous result of a capture call.
type CaptureOutcome string

const (
	CaptureSucceeded CaptureOutcome = "succeeded"
	CapturePending   CaptureOutcome = "pending"
	CaptureDeclined  CaptureOutcome = "declined"
)

// CaptureResult carries the outcome and, for declines, the gateway's reason.
type CaptureResult struct {
	Outcome       CaptureOutcome
	FailureReason string
}

// WebhookEventType is the normalized kind of a gateway event.
type WebhookEventType string

const (
	EventHoldAuthorized WebhookEventType = "hold_authorized"
	EventHoldCaptured   WebhookEventType = "hold_captured"
	EventHoldFailed     WebhookEventType = "hold_failed"
	EventHoldReleased   WebhookEventType = "hold_released"
	EventIgnored        WebhookEventType = "ignored"
)

// WebhookEvent is a verified gateway event reduced to what the reconciler needs.
type WebhookEvent struct {
	ID            string           `json:"eventId"`
	Type          WebhookEventType `json:"type"`
	RawType       string           `json:"rawType"`
	HoldID        string           `json:"holdId"`
	BookingID     string           `json:"bookingId,omitempty"`
	FailureReason string           `json:"failureReason,omitempty"`
}

// ProcessedWebhookEvent is the de-duplication record for a gateway event id.
type ProcessedWebhookEvent struct {
	EventID     string     `bson:"eventId" json:"eventId"`
	Type        string     `bson:"type" json:"type"`
	ClaimedAt   time.Time  `bson:"claimedAt" json:"claimedAt"`
	ProcessedAt *time.Time `bson:"processedAt" json:"processedAt"`
}
