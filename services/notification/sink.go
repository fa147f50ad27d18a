package notification

import (
	"context"

	"homepro/models"

	"go.uber.org/zap"
)

// Sink delivers a notification on a best-effort basis. It never fails the
// caller: delivery errors are logged by the implementation.
type Sink interface {
	Notify(ctx context.Context, to models.Recipient, n models.Notification)
}

// LogSink writes notifications to the log only.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Notify(ctx context.Context, to models.Recipient, n models.Notification) {
	s.Logger.Info("notification",
		zap.String("recipient", to.ID),
		zap.String("role", string(to.Role)),
		zap.String("type", n.Type),
		zap.String("bookingId", n.BookingID),
		zap.String("title", n.Title))
}

// MultiSink fans a notification out to every sink.
type MultiSink []Sink

func (m MultiSink) Notify(ctx context.Context, to models.Recipient, n models.Notification) {
	for _, s := range m {
		s.Notify(ctx, to, n)
	}
}

type nopSink struct{}

func (nopSink) Notify(context.Context, models.Recipient, models.Notification) {}

// Nop discards every notification.
var Nop Sink = nopSink{}
