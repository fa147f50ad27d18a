package booking

import (
	"context"
	"fmt"
	"strings"

	"homepro/models"
	"homepro/services/events"

	"go.uber.org/zap"
)

var statusTitles = map[models.BookingStatus]string{
	models.StatusRequested:               "New booking request",
	models.StatusAccepted:                "Booking accepted",
	models.StatusDeclined:                "Booking declined",
	models.StatusOnTheWay:                "Your pro is on the way",
	models.StatusInProgress:              "Service started",
	models.StatusCompletedPendingPayment: "Service completed",
	models.StatusPaid:                    "Payment received",
	models.StatusCancelled:               "Booking cancelled",
}

func customerOf(b *models.Booking) models.Recipient {
	return models.Recipient{ID: b.CustomerID, Role: models.RoleCustomer}
}

func proOf(b *models.Booking) models.Recipient {
	return models.Recipient{ID: b.ProID, Role: models.RolePro}
}

// announce runs after a committed status change: it notifies the party that
// did not act and publishes the lifecycle event.
func (m *Machine) announce(ctx context.Context, from models.BookingStatus, b *models.Booking, actor models.Principal) {
	n := m.notification(models.NotifyStatusChanged, b, statusTitles[b.Status],
		fmt.Sprintf("Booking %s is now %s.", shortID(b.ID), humanStatus(b.Status)))

	switch actor.Role {
	case models.RoleCustomer:
		m.notifier.Notify(ctx, proOf(b), n)
	case models.RolePro:
		m.notifier.Notify(ctx, customerOf(b), n)
	default:
		m.notifier.Notify(ctx, customerOf(b), n)
		m.notifier.Notify(ctx, proOf(b), n)
	}
	m.publish(ctx, from, b, actor.Actor())
}

func (m *Machine) announcePaid(ctx context.Context, b *models.Booking) {
	amount := formatAmount(b.Price, b.Currency)
	m.notifier.Notify(ctx, customerOf(b), m.notification(models.NotifyPaymentCaptured, b,
		statusTitles[models.StatusPaid], fmt.Sprintf("You were charged %s for booking %s.", amount, shortID(b.ID))))
	m.notifier.Notify(ctx, proOf(b), m.notification(models.NotifyPaymentCaptured, b,
		statusTitles[models.StatusPaid], fmt.Sprintf("Payment of %s for booking %s was captured.", amount, shortID(b.ID))))
	m.publish(ctx, models.StatusCompletedPendingPayment, b, models.SystemPrincipal.Actor())
}

func (m *Machine) notifyPaymentRequired(ctx context.Context, b *models.Booking) {
	m.notifier.Notify(ctx, customerOf(b), m.notification(models.NotifyPaymentRequired, b,
		"Payment required", fmt.Sprintf("Please add a payment method for booking %s.", shortID(b.ID))))
}

func (m *Machine) notifyPaymentDelayed(ctx context.Context, b *models.Booking) {
	m.notifier.Notify(ctx, proOf(b), m.notification(models.NotifyPaymentDelayed, b,
		"Payment delayed", fmt.Sprintf("Payment for booking %s has not been captured yet. We will keep trying.", shortID(b.ID))))
}

func (m *Machine) notification(kind string, b *models.Booking, title, message string) models.Notification {
	return models.Notification{
		Type:      kind,
		Title:     title,
		Message:   message,
		BookingID: b.ID,
		Status:    b.Status,
		Data: map[string]string{
			"bookingId":    b.ID,
			"status":       string(b.Status),
			"paymentState": string(b.PaymentState),
		},
		CreatedAt: m.now(),
	}
}

func (m *Machine) publish(ctx context.Context, from models.BookingStatus, b *models.Booking, actor models.Actor) {
	key := events.BookingKey(string(b.Status))
	ev := models.LifecycleEvent{
		Event:        key,
		Version:      1,
		BookingID:    b.ID,
		From:         from,
		To:           b.Status,
		Actor:        actor,
		PaymentState: b.PaymentState,
		Price:        b.Price,
		Currency:     b.Currency,
		OccurredAt:   m.now(),
	}
	if err := m.events.Publish(ctx, key, ev); err != nil {
		m.logger.Warn("failed to publish lifecycle event", zap.String("bookingId", b.ID), zap.String("key", key), zap.Error(err))
	}
}

func humanStatus(s models.BookingStatus) string {
	return strings.ReplaceAll(string(s), "_", " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatAmount(minor int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", minor/100, minor%100, strings.ToUpper(currency))
}
