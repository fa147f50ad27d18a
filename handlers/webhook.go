package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"homepro/services/booking"
	"homepro/services/reconciler"
	"homepro/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxWebhookBody bounds gateway payloads; Stripe events are far smaller.
const maxWebhookBody = 1 << 16

// WebhookProcessor is the reconciler as seen by HTTP.
type WebhookProcessor interface {
	Handle(ctx context.Context, payload []byte, signature string) (reconciler.Outcome, error)
}

type WebhookHandler struct {
	rec WebhookProcessor
}

func NewWebhookHandler(rec WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{rec: rec}
}

// PaymentWebhookHandler handles POST /webhooks/payment. Any non-2xx answer
// makes the gateway redeliver.
func (h *WebhookHandler) PaymentWebhookHandler(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		utils.JSONError(c, http.StatusRequestEntityTooLarge, booking.CodeValidation, "Webhook body unreadable", err.Error())
		return
	}

	outcome, err := h.rec.Handle(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true, "outcome": outcome})
	case outcome == reconciler.OutcomeRejected:
		respondError(c, err)
	case errors.Is(err, reconciler.ErrHoldNotAttached):
		utils.JSONError(c, http.StatusConflict, "hold_not_attached", "Booking has not recorded this hold yet", err.Error())
	default:
		getLogger(c).Error("webhook processing failed", zap.String("outcome", string(outcome)), zap.Error(err))
		utils.JSONError(c, http.StatusInternalServerError, "webhook_failed", "Webhook could not be processed", "")
	}
}
