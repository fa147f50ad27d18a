package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"homepro/services/booking"
	"homepro/services/reconciler"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{booking.ErrUnauthorized, http.StatusForbidden},
		{booking.ErrNotFound, http.StatusNotFound},
		{booking.ErrInvalidTransition, http.StatusConflict},
		{booking.ErrConflict, http.StatusConflict},
		{booking.ErrValidation, http.StatusUnprocessableEntity},
		{booking.ErrPaymentPartialFailure, http.StatusAccepted},
		{booking.ErrPaymentRequired, http.StatusAccepted},
		{booking.ErrGatewayUnavailable, http.StatusServiceUnavailable},
		{booking.ErrInvalidWebhookSignature, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", booking.ErrNotFound), http.StatusNotFound},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

type fakeProcessor struct {
	outcome reconciler.Outcome
	err     error
	payload []byte
	sig     string
}

func (f *fakeProcessor) Handle(_ context.Context, payload []byte, sig string) (reconciler.Outcome, error) {
	f.payload, f.sig = payload, sig
	return f.outcome, f.err
}

func serveWebhook(p *fakeProcessor) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/payment", NewWebhookHandler(p).PaymentWebhookHandler)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewBufferString(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPaymentWebhookHandler(t *testing.T) {
	t.Run("Given a processed event When delivered Then 200 and the raw body reaches the reconciler", func(t *testing.T) {
		p := &fakeProcessor{outcome: reconciler.OutcomeProcessed}
		w := serveWebhook(p)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, `{"id":"evt_1"}`, string(p.payload))
		assert.Equal(t, "t=1,v1=abc", p.sig)
	})

	t.Run("Given the hold is not attached yet When delivered Then 409 asks for redelivery", func(t *testing.T) {
		p := &fakeProcessor{outcome: reconciler.OutcomeFailed, err: fmt.Errorf("booking b1: %w", reconciler.ErrHoldNotAttached)}
		assert.Equal(t, http.StatusConflict, serveWebhook(p).Code)
	})

	t.Run("Given the store fails When delivered Then 500 without internals", func(t *testing.T) {
		p := &fakeProcessor{outcome: reconciler.OutcomeFailed, err: errors.New("mongo: connection reset")}
		w := serveWebhook(p)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "mongo")
	})
}
