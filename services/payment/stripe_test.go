package payment

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"homepro/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

const testWebhookSecret = "whsec_test_secret"

func newTestGateway(t *testing.T, handler http.HandlerFunc) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return NewStripeGateway(StripeOptions{
		APIKey:        "sk_test_123",
		WebhookSecret: testWebhookSecret,
		Timeout:       5 * time.Second,
		Backends:      &stripe.Backends{API: backend, Connect: backend, Uploads: backend},
	}, zap.NewNop())
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func paymentIntentJSON(id, status string) string {
	return fmt.Sprintf(`{"id":%q,"object":"payment_intent","amount":12000,"currency":"usd","status":%q,"metadata":{"booking_id":"b1"}}`, id, status)
}

func TestStripeAuthorize(t *testing.T) {
	t.Run("Given a card When authorized Then a manual-capture intent is created with the booking as idempotency key", func(t *testing.T) {
		gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/payment_intents", r.URL.Path)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "manual", r.PostForm.Get("capture_method"))
			assert.Equal(t, "true", r.PostForm.Get("confirm"))
			assert.Equal(t, "12000", r.PostForm.Get("amount"))
			assert.Equal(t, "pm_card_visa", r.PostForm.Get("payment_method"))
			assert.Equal(t, "b1", r.PostForm.Get("metadata[booking_id]"))
			assert.Equal(t, "b1", r.Header.Get("Idempotency-Key"))
			writeJSON(w, http.StatusOK, paymentIntentJSON("pi_1", "requires_capture"))
		})

		hold, err := gw.Authorize(context.Background(), models.HoldRequest{
			BookingID:        "b1",
			Amount:           12000,
			Currency:         "USD",
			PaymentMethodRef: "pm_card_visa",
			IdempotencyKey:   "b1",
		})
		require.NoError(t, err)
		assert.Equal(t, "pi_1", hold.ID)
		assert.Equal(t, models.HoldRequiresCapture, hold.Status)
	})

	t.Run("Given a declined card When authorized Then ErrDeclined is returned", func(t *testing.T) {
		gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusPaymentRequired, `{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`)
		})
		_, err := gw.Authorize(context.Background(), models.HoldRequest{BookingID: "b1", Amount: 100, Currency: "usd", PaymentMethodRef: "pm", IdempotencyKey: "b1"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDeclined), err.Error())
	})

	t.Run("Given a gateway outage When authorized Then ErrGatewayUnavailable is returned", func(t *testing.T) {
		gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, `{"error":{"type":"api_error","message":"try again"}}`)
		})
		_, err := gw.Authorize(context.Background(), models.HoldRequest{BookingID: "b1", Amount: 100, Currency: "usd", PaymentMethodRef: "pm", IdempotencyKey: "b1"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrGatewayUnavailable), err.Error())
	})
}

func TestStripeCapture(t *testing.T) {
	t.Run("Given a hold When captured Then the outcome is succeeded", func(t *testing.T) {
		gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/payment_intents/pi_1/capture", r.URL.Path)
			assert.Equal(t, "capture-pi_1", r.Header.Get("Idempotency-Key"))
			writeJSON(w, http.StatusOK, paymentIntentJSON("pi_1", "succeeded"))
		})
		res, err := gw.Capture(context.Background(), "pi_1")
		require.NoError(t, err)
		assert.Equal(t, models.CaptureSucceeded, res.Outcome)
	})

	t.Run("Given an already captured hold When captured again Then the current status is reported", func(t *testing.T) {
		gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				writeJSON(w, http.StatusBadRequest, `{"error":{"type":"invalid_request_error","code":"payment_intent_unexpected_state","message":"already captured"}}`)
				return
			}
			writeJSON(w, http.StatusOK, paymentIntentJSON("pi_1", "succeeded"))
		})
		res, err := gw.Capture(context.Background(), "pi_1")
		require.NoError(t, err)
		assert.Equal(t, models.CaptureSucceeded, res.Outcome)
	})

	t.Run("Given a card refusal When captured Then the outcome is declined with a reason", func(t *testing.T) {
		gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusPaymentRequired, `{"error":{"type":"card_error","code":"card_declined","message":"Insufficient funds."}}`)
		})
		res, err := gw.Capture(context.Background(), "pi_1")
		require.NoError(t, err)
		assert.Equal(t, models.CaptureDeclined, res.Outcome)
		assert.Equal(t, "Insufficient funds.", res.FailureReason)
	})

	t.Run("Given a gateway error When captured Then ErrGatewayUnavailable is returned", func(t *testing.T) {
		gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusInternalServerError, `{"error":{"type":"api_error","message":"boom"}}`)
		})
		_, err := gw.Capture(context.Background(), "pi_1")
		assert.ErrorIs(t, err, ErrGatewayUnavailable)
	})
}

func TestStripeRelease(t *testing.T) {
	t.Run("Given an already cancelled hold When released Then no error is returned", func(t *testing.T) {
		gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				writeJSON(w, http.StatusBadRequest, `{"error":{"type":"invalid_request_error","code":"payment_intent_unexpected_state","message":"already canceled"}}`)
				return
			}
			writeJSON(w, http.StatusOK, paymentIntentJSON("pi_1", "canceled"))
		})
		assert.NoError(t, gw.Release(context.Background(), "pi_1"))
	})
}

func signedHeader(payload []byte, secret string) string {
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
}

func TestStripeParseWebhook(t *testing.T) {
	gw := NewStripeGateway(StripeOptions{APIKey: "sk_test", WebhookSecret: testWebhookSecret}, zap.NewNop())

	t.Run("Given a signed succeeded event When parsed Then it is a hold_captured event", func(t *testing.T) {
		payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":` + paymentIntentJSON("pi_1", "succeeded") + `}}`)
		ev, err := gw.ParseWebhook(payload, signedHeader(payload, testWebhookSecret))
		require.NoError(t, err)
		assert.Equal(t, "evt_1", ev.ID)
		assert.Equal(t, models.EventHoldCaptured, ev.Type)
		assert.Equal(t, "pi_1", ev.HoldID)
		assert.Equal(t, "b1", ev.BookingID)
	})

	t.Run("Given a failed event When parsed Then the failure reason is carried", func(t *testing.T) {
		payload := []byte(`{"id":"evt_2","object":"event","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_2","object":"payment_intent","status":"requires_payment_method","last_payment_error":{"type":"card_error","code":"card_declined","message":"Card declined"}}}}`)
		ev, err := gw.ParseWebhook(payload, signedHeader(payload, testWebhookSecret))
		require.NoError(t, err)
		assert.Equal(t, models.EventHoldFailed, ev.Type)
		assert.Equal(t, "Card declined", ev.FailureReason)
	})

	t.Run("Given a wrong secret When parsed Then ErrInvalidSignature is returned", func(t *testing.T) {
		payload := []byte(`{"id":"evt_3","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_3"}}}`)
		_, err := gw.ParseWebhook(payload, signedHeader(payload, "whsec_other"))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("Given an unrelated event type When parsed Then it is ignored", func(t *testing.T) {
		payload := []byte(`{"id":"evt_4","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
		ev, err := gw.ParseWebhook(payload, signedHeader(payload, testWebhookSecret))
		require.NoError(t, err)
		assert.Equal(t, models.EventIgnored, ev.Type)
		assert.Equal(t, "customer.created", ev.RawType)
	})
}
