package cron

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"homepro/models"
	"homepro/services/booking"
	"homepro/services/notification"
	"homepro/services/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeJobs struct {
	booking   *models.Booking
	err       error
	principal models.Principal
	calls     int
}

func (f *fakeJobs) RetryCapture(_ context.Context, id string, p models.Principal) (*models.Booking, error) {
	f.calls++
	f.principal = p
	return f.booking, f.err
}

func (f *fakeJobs) ReleaseHold(_ context.Context, id string, p models.Principal) (*models.Booking, error) {
	f.calls++
	f.principal = p
	return f.booking, f.err
}

type fakePusher struct {
	err  error
	sent []models.Notification
}

func (f *fakePusher) Send(_ context.Context, _ models.Recipient, n models.Notification) error {
	f.sent = append(f.sent, n)
	return f.err
}

func captureTask(t *testing.T, id string) *asynq.Task {
	task, _, err := tasks.NewCaptureRetryTask(id, 3, 0)
	require.NoError(t, err)
	return task
}

func TestCaptureRetryHandler(t *testing.T) {
	ctx := context.Background()
	pending := &models.Booking{ID: "b1", Status: models.StatusCompletedPendingPayment, PaymentState: models.PaymentAuthorized}

	t.Run("Given a settled booking When the job runs Then it succeeds as the system", func(t *testing.T) {
		jobs := &fakeJobs{booking: &models.Booking{ID: "b1", Status: models.StatusPaid}}
		err := handleCaptureRetry(jobs, zap.NewNop())(ctx, captureTask(t, "b1"))
		require.NoError(t, err)
		assert.Equal(t, models.SystemPrincipal, jobs.principal)
	})

	t.Run("Given the gateway is still failing When the job runs Then the error is retried", func(t *testing.T) {
		cause := fmt.Errorf("capture: %w", booking.ErrPaymentPartialFailure)
		jobs := &fakeJobs{booking: pending, err: cause}
		err := handleCaptureRetry(jobs, zap.NewNop())(ctx, captureTask(t, "b1"))
		require.Error(t, err)
		assert.False(t, errors.Is(err, asynq.SkipRetry))
	})

	t.Run("Given the capture was declined When the job runs Then it is not retried", func(t *testing.T) {
		failed := pending.Clone()
		failed.PaymentState = models.PaymentFailed
		jobs := &fakeJobs{booking: failed, err: booking.ErrPaymentPartialFailure}
		err := handleCaptureRetry(jobs, zap.NewNop())(ctx, captureTask(t, "b1"))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("Given the booking is gone When the job runs Then it is not retried", func(t *testing.T) {
		jobs := &fakeJobs{err: booking.ErrNotFound}
		err := handleCaptureRetry(jobs, zap.NewNop())(ctx, captureTask(t, "b1"))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("Given a malformed payload When the job runs Then it is skipped without calling the machine", func(t *testing.T) {
		jobs := &fakeJobs{}
		err := handleCaptureRetry(jobs, zap.NewNop())(ctx, asynq.NewTask(tasks.TypeCaptureRetry, []byte("{")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
		assert.Zero(t, jobs.calls)
	})
}

func TestHoldReleaseHandler(t *testing.T) {
	ctx := context.Background()
	task, _, err := tasks.NewHoldReleaseTask("b1", 3, 0)
	require.NoError(t, err)

	t.Run("Given the gateway is unavailable When the job runs Then it is retried", func(t *testing.T) {
		jobs := &fakeJobs{err: booking.ErrGatewayUnavailable}
		err := handleHoldRelease(jobs, zap.NewNop())(ctx, task)
		require.Error(t, err)
		assert.False(t, errors.Is(err, asynq.SkipRetry))
	})

	t.Run("Given the release succeeds When the job runs Then it completes", func(t *testing.T) {
		jobs := &fakeJobs{booking: &models.Booking{ID: "b1"}}
		require.NoError(t, handleHoldRelease(jobs, zap.NewNop())(ctx, task))
		assert.Equal(t, models.RoleSystem, jobs.principal.Role)
	})
}

func TestNotificationHandler(t *testing.T) {
	ctx := context.Background()
	task, _, err := tasks.NewNotificationTask(
		models.Recipient{ID: "cust-1", Role: models.RoleCustomer},
		models.Notification{Type: models.NotifyPaymentCaptured, BookingID: "b1"})
	require.NoError(t, err)

	t.Run("Given no device When the job runs Then it completes without retry", func(t *testing.T) {
		push := &fakePusher{err: fmt.Errorf("push: %w", notification.ErrNoDevice)}
		assert.NoError(t, handleNotification(push, zap.NewNop())(ctx, task))
	})

	t.Run("Given FCM fails When the job runs Then the error is retried", func(t *testing.T) {
		push := &fakePusher{err: errors.New("fcm unavailable")}
		assert.Error(t, handleNotification(push, zap.NewNop())(ctx, task))
		require.Len(t, push.sent, 1)
		assert.Equal(t, "b1", push.sent[0].BookingID)
	})
}
