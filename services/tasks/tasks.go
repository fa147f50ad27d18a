// Package tasks defines the background jobs of the booking service and the
// queue that schedules them.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"homepro/models"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TypeNotificationSend = "notification:send"
	TypeCaptureRetry     = "payment:capture_retry"
	TypeHoldRelease      = "payment:hold_release"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// NotificationPayload is the body of a notification:send task.
type NotificationPayload struct {
	Recipient    models.Recipient    `json:"recipient"`
	Notification models.Notification `json:"notification"`
}

// BookingPayload is the body of the payment tasks.
type BookingPayload struct {
	BookingID string `json:"bookingId"`
}

func NewNotificationTask(to models.Recipient, n models.Notification) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(NotificationPayload{Recipient: to, Notification: n})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeNotificationSend, b)
	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(5), asynq.Timeout(30 * time.Second)}
	return task, opts, nil
}

func NewCaptureRetryTask(bookingID string, maxRetry int, delay time.Duration) (*asynq.Task, []asynq.Option, error) {
	return newBookingTask(TypeCaptureRetry, bookingID, maxRetry, delay)
}

func NewHoldReleaseTask(bookingID string, maxRetry int, delay time.Duration) (*asynq.Task, []asynq.Option, error) {
	return newBookingTask(TypeHoldRelease, bookingID, maxRetry, delay)
}

func newBookingTask(typename, bookingID string, maxRetry int, delay time.Duration) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(BookingPayload{BookingID: bookingID})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(typename, b)
	opts := []asynq.Option{
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(maxRetry),
		asynq.ProcessIn(delay),
		asynq.Timeout(time.Minute),
		// One pending job per booking and kind; completed jobs free the id.
		asynq.TaskID(typename + ":" + bookingID),
	}
	return task, opts, nil
}

// ParseBookingPayload decodes the payload of a payment task.
func ParseBookingPayload(t *asynq.Task) (BookingPayload, error) {
	var p BookingPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("invalid %s payload: %w", t.Type(), err)
	}
	if p.BookingID == "" {
		return p, fmt.Errorf("invalid %s payload: missing bookingId", t.Type())
	}
	return p, nil
}

// ParseNotificationPayload decodes the payload of a notification:send task.
func ParseNotificationPayload(t *asynq.Task) (NotificationPayload, error) {
	var p NotificationPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("invalid %s payload: %w", t.Type(), err)
	}
	return p, nil
}

// RetryDelay backs off exponentially from ten seconds, capped at thirty
// minutes.
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	const base, limit = 10 * time.Second, 30 * time.Minute
	if n > 16 {
		return limit
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(n)))
	if d <= 0 || d > limit {
		return limit
	}
	return d
}

// Enqueuer is the subset of asynq.Client the queue needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue schedules booking jobs. It satisfies booking.RetryScheduler and
// notification.Enqueuer.
type Queue struct {
	client     Enqueuer
	maxRetry   int
	firstDelay time.Duration
	logger     *zap.Logger
}

func NewQueue(client Enqueuer, maxRetry int, logger *zap.Logger) *Queue {
	return &Queue{client: client, maxRetry: maxRetry, firstDelay: 10 * time.Second, logger: logger}
}

func (q *Queue) ScheduleCaptureRetry(ctx context.Context, bookingID string) error {
	task, opts, err := NewCaptureRetryTask(bookingID, q.maxRetry, q.firstDelay)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task, opts, bookingID)
}

func (q *Queue) ScheduleHoldRelease(ctx context.Context, bookingID string) error {
	task, opts, err := NewHoldReleaseTask(bookingID, q.maxRetry, q.firstDelay)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task, opts, bookingID)
}

func (q *Queue) EnqueueNotification(ctx context.Context, to models.Recipient, n models.Notification) error {
	task, opts, err := NewNotificationTask(to, n)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task, opts, n.BookingID)
}

func (q *Queue) enqueue(ctx context.Context, task *asynq.Task, opts []asynq.Option, bookingID string) error {
	info, err := q.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		q.logger.Debug("job already pending", zap.String("type", task.Type()), zap.String("bookingId", bookingID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s for booking %s: %w", task.Type(), bookingID, err)
	}
	q.logger.Info("job enqueued",
		zap.String("type", task.Type()), zap.String("bookingId", bookingID), zap.String("taskId", info.ID))
	return nil
}
