package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"homepro/models"
	"homepro/services/booking"
	"homepro/services/notification"
	"homepro/services/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// BookingJobs is the part of the booking machine the payment jobs drive.
type BookingJobs interface {
	RetryCapture(ctx context.Context, id string, p models.Principal) (*models.Booking, error)
	ReleaseHold(ctx context.Context, id string, p models.Principal) (*models.Booking, error)
}

// Pusher delivers one notification.
type Pusher interface {
	Send(ctx context.Context, to models.Recipient, n models.Notification) error
}

// Worker runs the asynq server that executes payment and notification jobs.
type Worker struct {
	srv    *asynq.Server
	mux    *asynq.ServeMux
	redis  *redis.Client
	logger *zap.Logger
	stop   chan struct{}
}

func NewWorker(opt asynq.RedisClientOpt, concurrency int, jobs BookingJobs, push Pusher, logger *zap.Logger) *Worker {
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			tasks.QueueCritical: 6,
			tasks.QueueDefault:  3,
		},
		RetryDelayFunc: tasks.RetryDelay,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Warn("job failed", zap.String("type", task.Type()), zap.Error(err))
		}),
		Logger: logger.Sugar(),
	})
	return &Worker{
		srv: srv,
		mux: NewMux(jobs, push, logger),
		redis: redis.NewClient(&redis.Options{
			Addr:     opt.Addr,
			Password: opt.Password,
			DB:       opt.DB,
		}),
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Start runs the worker in the background, retrying startup with backoff.
func (w *Worker) Start() {
	go monitorRedisConnection(w.redis, w.logger, w.stop)

	go func() {
		w.logger.Info("starting job worker")
		const maxAttempts = 5

		for attempts := 1; attempts <= maxAttempts; attempts++ {
			err := w.srv.Start(w.mux)
			if err == nil {
				return
			}
			w.logger.Error("failed to start job worker",
				zap.Int("attempt", attempts), zap.Int("maxAttempts", maxAttempts), zap.Error(err))
			if attempts == maxAttempts {
				w.logger.Error("job worker gave up; payment retries will not run until restart")
				return
			}
			time.Sleep(time.Duration(attempts*2) * time.Second)
		}
	}()
}

func (w *Worker) Shutdown() {
	close(w.stop)
	w.srv.Shutdown()
	_ = w.redis.Close()
}

func NewMux(jobs BookingJobs, push Pusher, logger *zap.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeCaptureRetry, handleCaptureRetry(jobs, logger))
	mux.HandleFunc(tasks.TypeHoldRelease, handleHoldRelease(jobs, logger))
	if push != nil {
		mux.HandleFunc(tasks.TypeNotificationSend, handleNotification(push, logger))
	}
	return mux
}

func handleCaptureRetry(jobs BookingJobs, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		p, err := tasks.ParseBookingPayload(task)
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		log := logger.With(zap.String("bookingId", p.BookingID))

		b, err := jobs.RetryCapture(ctx, p.BookingID, models.SystemPrincipal)
		switch {
		case err == nil:
			log.Info("capture retry settled booking", zap.String("status", string(b.Status)))
			return nil
		case errors.Is(err, booking.ErrNotFound),
			errors.Is(err, booking.ErrInvalidTransition),
			errors.Is(err, booking.ErrPaymentRequired):
			log.Warn("capture retry abandoned", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		case b != nil && b.PaymentState == models.PaymentFailed:
			log.Warn("capture declined; retry abandoned", zap.String("reason", b.FailureReason))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		if lastAttempt(ctx) {
			log.Error("capture retries exhausted; booking stays pending payment", zap.Error(err))
		}
		return err
	}
}

func handleHoldRelease(jobs BookingJobs, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		p, err := tasks.ParseBookingPayload(task)
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		log := logger.With(zap.String("bookingId", p.BookingID))

		_, err = jobs.ReleaseHold(ctx, p.BookingID, models.SystemPrincipal)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, booking.ErrNotFound), errors.Is(err, booking.ErrUnauthorized):
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if lastAttempt(ctx) {
			log.Error("hold release retries exhausted; release the hold manually", zap.Error(err))
		}
		return err
	}
}

func handleNotification(push Pusher, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		p, err := tasks.ParseNotificationPayload(task)
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		err = push.Send(ctx, p.Recipient, p.Notification)
		if errors.Is(err, notification.ErrNoDevice) {
			logger.Debug("no device for recipient", zap.String("recipient", p.Recipient.ID))
			return nil
		}
		return err
	}
}

func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return ok && retried >= maxRetry
}

// monitorRedisConnection pings Redis periodically to detect failures at runtime.
func monitorRedisConnection(client *redis.Client, logger *zap.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := client.Ping(ctx).Err(); err != nil {
				logger.Warn("job queue redis connection lost", zap.Error(err))
			}
			cancel()
		}
	}
}
