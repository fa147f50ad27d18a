package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"homepro/models"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

// Stripe event types consumed by the reconciler.
const (
	stripeEventSucceeded         = "payment_intent.succeeded"
	stripeEventPaymentFailed     = "payment_intent.payment_failed"
	stripeEventCapturableUpdated = "payment_intent.amount_capturable_updated"
	stripeEventCanceled          = "payment_intent.canceled"

	metadataBookingID = "booking_id"
)

// StripeGateway places manual-capture PaymentIntents as holds.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	timeout       time.Duration
	logger        *zap.Logger
}

type StripeOptions struct {
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
	// Backends overrides the HTTP backends; nil uses Stripe's defaults.
	Backends *stripe.Backends
}

func NewStripeGateway(opts StripeOptions, logger *zap.Logger) *StripeGateway {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &StripeGateway{
		api:           client.New(opts.APIKey, opts.Backends),
		webhookSecret: opts.WebhookSecret,
		timeout:       opts.Timeout,
		logger:        logger,
	}
}

func (g *StripeGateway) Authorize(ctx context.Context, req models.HoldRequest) (*models.PaymentHold, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod:      stripe.String(req.PaymentMethodRef),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Confirm:            stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata(metadataBookingID, req.BookingID)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		g.logger.Warn("stripe authorize failed", zap.String("bookingId", req.BookingID), zap.Error(err))
		return nil, classifyStripeError("authorize", err)
	}
	g.logger.Info("stripe hold placed",
		zap.String("bookingId", req.BookingID),
		zap.String("paymentIntent", pi.ID),
		zap.String("status", string(pi.Status)))

	return &models.PaymentHold{
		ID:       pi.ID,
		Amount:   pi.Amount,
		Currency: string(pi.Currency),
		Status:   models.HoldStatus(pi.Status),
	}, nil
}

func (g *StripeGateway) Capture(ctx context.Context, holdID string) (models.CaptureResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey("capture-" + holdID)

	pi, err := g.api.PaymentIntents.Capture(holdID, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) {
			if se.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
				// Already captured, cancelled or still confirming: report what the
				// intent says now.
				return g.currentOutcome(ctx, holdID)
			}
			if se.Type == stripe.ErrorTypeCard {
				return models.CaptureResult{Outcome: models.CaptureDeclined, FailureReason: declineReason(se)}, nil
			}
		}
		g.logger.Warn("stripe capture failed", zap.String("paymentIntent", holdID), zap.Error(err))
		return models.CaptureResult{}, classifyStripeError("capture", err)
	}
	return outcomeFor(pi), nil
}

func (g *StripeGateway) currentOutcome(ctx context.Context, holdID string) (models.CaptureResult, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(holdID, params)
	if err != nil {
		return models.CaptureResult{}, classifyStripeError("capture status", err)
	}
	return outcomeFor(pi), nil
}

func outcomeFor(pi *stripe.PaymentIntent) models.CaptureResult {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return models.CaptureResult{Outcome: models.CaptureSucceeded}
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		return models.CaptureResult{Outcome: models.CapturePending}
	default:
		reason := string(pi.Status)
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			reason = pi.LastPaymentError.Msg
		}
		return models.CaptureResult{Outcome: models.CaptureDeclined, FailureReason: reason}
	}
}

func (g *StripeGateway) Release(ctx context.Context, holdID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.SetIdempotencyKey("release-" + holdID)

	if _, err := g.api.PaymentIntents.Cancel(holdID, params); err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
			getParams := &stripe.PaymentIntentParams{}
			getParams.Context = ctx
			pi, gerr := g.api.PaymentIntents.Get(holdID, getParams)
			if gerr == nil && pi.Status == stripe.PaymentIntentStatusCanceled {
				return nil
			}
		}
		g.logger.Warn("stripe release failed", zap.String("paymentIntent", holdID), zap.Error(err))
		return classifyStripeError("release", err)
	}
	return nil
}

func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*models.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &models.WebhookEvent{ID: event.ID, RawType: string(event.Type), Type: models.EventIgnored}
	switch string(event.Type) {
	case stripeEventSucceeded:
		out.Type = models.EventHoldCaptured
	case stripeEventPaymentFailed:
		out.Type = models.EventHoldFailed
	case stripeEventCapturableUpdated:
		out.Type = models.EventHoldAuthorized
	case stripeEventCanceled:
		out.Type = models.EventHoldReleased
	default:
		return out, nil
	}

	if event.Data == nil {
		return nil, fmt.Errorf("webhook %s: missing data object", event.ID)
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("webhook %s: decode payment intent: %w", event.ID, err)
	}
	out.HoldID = pi.ID
	out.BookingID = pi.Metadata[metadataBookingID]
	if pi.LastPaymentError != nil {
		out.FailureReason = declineReason(pi.LastPaymentError)
	}
	return out, nil
}

func declineReason(se *stripe.Error) string {
	switch {
	case se.Msg != "":
		return se.Msg
	case se.DeclineCode != "":
		return string(se.DeclineCode)
	default:
		return string(se.Code)
	}
}

// classifyStripeError folds Stripe failures into the gateway sentinels.
func classifyStripeError(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("stripe %s: %w: %v", op, ErrGatewayUnavailable, err)
	}
	switch {
	case se.HTTPStatusCode >= 500, se.HTTPStatusCode == 429, se.Type == stripe.ErrorTypeAPI:
		return fmt.Errorf("stripe %s: %w: %s", op, ErrGatewayUnavailable, se.Msg)
	case se.Type == stripe.ErrorTypeCard:
		return fmt.Errorf("stripe %s: %w: %s", op, ErrDeclined, declineReason(se))
	default:
		return fmt.Errorf("stripe %s: %s (%s)", op, se.Msg, se.Code)
	}
}
