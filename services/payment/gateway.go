package payment

import (
	"context"
	"errors"

	"homepro/models"
)

var (
	// ErrGatewayUnavailable marks transport failures, timeouts and 5xx/429
	// answers. The call may be retried with the same idempotency key.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrDeclined marks a card or payment method refusal.
	ErrDeclined = errors.New("payment declined")
	// ErrInvalidSignature is returned when a webhook fails verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Gateway is the payment processor seen by the booking lifecycle.
type Gateway interface {
	// Authorize places a hold. Repeating the call with the same
	// IdempotencyKey returns the original hold.
	Authorize(ctx context.Context, req models.HoldRequest) (*models.PaymentHold, error)
	// Capture settles a hold. Declines are reported in the result, not as an error.
	Capture(ctx context.Context, holdID string) (models.CaptureResult, error)
	// Release cancels a hold. Releasing an already released hold succeeds.
	Release(ctx context.Context, holdID string) error
	// ParseWebhook verifies the signature before decoding the payload.
	ParseWebhook(payload []byte, signature string) (*models.WebhookEvent, error)
}
