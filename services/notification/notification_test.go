package notification

import (
	"context"
	"errors"
	"testing"

	"homepro/models"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMessenger struct {
	sent    []*messaging.MulticastMessage
	reject  int
	sendErr error
}

func (f *fakeMessenger) SendEachForMulticast(_ context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, m)
	resp := &messaging.BatchResponse{}
	for i := range m.Tokens {
		if i < f.reject {
			resp.FailureCount++
			resp.Responses = append(resp.Responses, &messaging.SendResponse{Error: errors.New("unregistered")})
			continue
		}
		resp.SuccessCount++
		resp.Responses = append(resp.Responses, &messaging.SendResponse{Success: true, MessageID: "m"})
	}
	return resp, nil
}

type fakeQueue struct {
	err   error
	calls int
}

func (q *fakeQueue) EnqueueNotification(context.Context, models.Recipient, models.Notification) error {
	q.calls++
	return q.err
}

func TestPushService(t *testing.T) {
	ctx := context.Background()
	pro := models.Recipient{ID: "pro-1", Role: models.RolePro}
	customer := models.Recipient{ID: "cust-1", Role: models.RoleCustomer}
	n := models.Notification{Type: models.NotifyStatusChanged, Title: "Booking accepted", BookingID: "b1", Status: models.StatusAccepted}

	newService := func(t *testing.T) (*PushService, *MemoryDeviceDirectory, *fakeMessenger) {
		dir := NewMemoryDeviceDirectory()
		m := &fakeMessenger{}
		svc, err := NewPushService(dir, m, zap.NewNop())
		require.NoError(t, err)
		return svc, dir, m
	}

	t.Run("Given no registered device When sending Then ErrNoDevice is returned", func(t *testing.T) {
		svc, _, m := newService(t)
		err := svc.Send(ctx, pro, n)
		assert.ErrorIs(t, err, ErrNoDevice)
		assert.Empty(t, m.sent)
	})

	t.Run("Given a pro device When sending Then a high priority push carries the booking data", func(t *testing.T) {
		svc, dir, m := newService(t)
		require.NoError(t, dir.Register(ctx, models.Device{OwnerID: "pro-1", Role: models.RolePro, DeviceID: "d1", FCMToken: "tok-1"}))

		require.NoError(t, svc.Send(ctx, pro, n))
		require.Len(t, m.sent, 1)
		msg := m.sent[0]
		assert.Equal(t, []string{"tok-1"}, msg.Tokens)
		assert.Equal(t, "b1", msg.Data["bookingId"])
		assert.Equal(t, "pro", msg.Data["role"])
		require.NotNil(t, msg.Android)
		assert.Equal(t, "high", msg.Android.Priority)
	})

	t.Run("Given a customer device When sending Then the default priority is used", func(t *testing.T) {
		svc, dir, m := newService(t)
		require.NoError(t, dir.Register(ctx, models.Device{OwnerID: "cust-1", Role: models.RoleCustomer, DeviceID: "d1", FCMToken: "tok-c"}))

		require.NoError(t, svc.Send(ctx, customer, n))
		require.Len(t, m.sent, 1)
		assert.Nil(t, m.sent[0].Android)
	})

	t.Run("Given every device rejects When sending Then an error is returned", func(t *testing.T) {
		svc, dir, m := newService(t)
		require.NoError(t, dir.Register(ctx, models.Device{OwnerID: "pro-1", Role: models.RolePro, DeviceID: "d1", FCMToken: "tok-1"}))
		m.reject = 1

		assert.Error(t, svc.Send(ctx, pro, n))
	})

	t.Run("Given a device re-registers When sending Then only the new token is used", func(t *testing.T) {
		svc, dir, m := newService(t)
		require.NoError(t, dir.Register(ctx, models.Device{OwnerID: "pro-1", Role: models.RolePro, DeviceID: "d1", FCMToken: "old"}))
		require.NoError(t, dir.Register(ctx, models.Device{OwnerID: "pro-1", Role: models.RolePro, DeviceID: "d1", FCMToken: "new"}))

		require.NoError(t, svc.Send(ctx, pro, n))
		assert.Equal(t, []string{"new"}, m.sent[0].Tokens)
	})
}

func TestSinks(t *testing.T) {
	ctx := context.Background()
	to := models.Recipient{ID: "cust-1", Role: models.RoleCustomer}
	n := models.Notification{Type: models.NotifyPaymentCaptured, BookingID: "b1"}

	t.Run("Given the queue fails When notifying Then the caller is not affected", func(t *testing.T) {
		q := &fakeQueue{err: errors.New("redis down")}
		QueueSink{Queue: q, Logger: zap.NewNop()}.Notify(ctx, to, n)
		assert.Equal(t, 1, q.calls)
	})

	t.Run("Given a multi sink When notifying Then every sink receives the notification", func(t *testing.T) {
		a, b := &fakeQueue{}, &fakeQueue{}
		MultiSink{QueueSink{Queue: a, Logger: zap.NewNop()}, LogSink{Logger: zap.NewNop()}, QueueSink{Queue: b, Logger: zap.NewNop()}}.Notify(ctx, to, n)
		assert.Equal(t, 1, a.calls)
		assert.Equal(t, 1, b.calls)
	})
}
