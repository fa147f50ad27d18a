package notification

import (
	"context"
	"errors"
	"fmt"

	"homepro/models"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
)

// ErrNoDevice means the recipient has no registered push target.
var ErrNoDevice = errors.New("recipient has no registered device")

// Messenger is the subset of the FCM client used for delivery.
type Messenger interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// PushService sends FCM pushes to every device of a recipient.
type PushService struct {
	devices   DeviceDirectory
	messenger Messenger
	logger    *zap.Logger
}

func NewPushService(devices DeviceDirectory, messenger Messenger, logger *zap.Logger) (*PushService, error) {
	if devices == nil || messenger == nil {
		return nil, fmt.Errorf("push service initialization error: device directory or messenger is nil")
	}
	return &PushService{devices: devices, messenger: messenger, logger: logger}, nil
}

// Send delivers n to all devices of to. It fails only when no device
// accepted the message.
func (s *PushService) Send(ctx context.Context, to models.Recipient, n models.Notification) error {
	tokens, err := s.devices.Tokens(ctx, to)
	if err != nil {
		return fmt.Errorf("push to %s: %w", to.ID, err)
	}
	if len(tokens) == 0 {
		return fmt.Errorf("push to %s %s: %w", to.Role, to.ID, ErrNoDevice)
	}

	msg := buildMessage(to, n)
	msg.Tokens = tokens

	resp, err := s.messenger.SendEachForMulticast(ctx, msg)
	if err != nil {
		return fmt.Errorf("push to %s: failed to send FCM message: %w", to.ID, err)
	}
	if resp.FailureCount > 0 {
		for i, r := range resp.Responses {
			if r != nil && !r.Success {
				s.logger.Warn("push rejected for device",
					zap.String("recipient", to.ID), zap.Int("device", i), zap.Error(r.Error))
			}
		}
	}
	if resp.SuccessCount == 0 {
		return fmt.Errorf("push to %s: all %d devices rejected the message", to.ID, len(tokens))
	}
	return nil
}

func buildMessage(to models.Recipient, n models.Notification) *messaging.MulticastMessage {
	data := map[string]string{
		"type":      n.Type,
		"bookingId": n.BookingID,
		"status":    string(n.Status),
		"role":      string(to.Role),
	}
	for k, v := range n.Data {
		data[k] = v
	}

	msg := &messaging.MulticastMessage{
		Notification: &messaging.Notification{Title: n.Title, Body: n.Message},
		Data:         data,
	}
	// Pros act on booking requests, so their pushes jump the queue.
	if to.Role == models.RolePro {
		msg.Android = &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "high_priority",
				Sound:     "default",
			},
		}
		msg.APNS = &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":  "10",
				"apns-push-type": "alert",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		}
	}
	return msg
}

// Enqueuer hands a notification to the background job queue.
type Enqueuer interface {
	EnqueueNotification(ctx context.Context, to models.Recipient, n models.Notification) error
}

// QueueSink defers delivery to the job queue so request handlers never wait
// on FCM.
type QueueSink struct {
	Queue  Enqueuer
	Logger *zap.Logger
}

func (s QueueSink) Notify(ctx context.Context, to models.Recipient, n models.Notification) {
	if err := s.Queue.EnqueueNotification(ctx, to, n); err != nil {
		s.Logger.Error("failed to enqueue notification",
			zap.String("recipient", to.ID), zap.String("type", n.Type), zap.Error(err))
	}
}
