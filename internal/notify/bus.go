package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/calcore/internal/models"
	"github.com/noah-isme/calcore/pkg/jobs"
)

// Bus is the fire-and-forget system-event collaborator. Posting never fails
// the caller's transaction.
type Bus interface {
	PostNotification(n models.Notification)
}

// QueueBus dispatches notifications through the in-memory worker queue so
// slow subscribers never block a commit.
type QueueBus struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewQueueBus builds a bus over a handler that delivers each notification.
func NewQueueBus(handler func(context.Context, models.Notification) error, cfg jobs.QueueConfig) *QueueBus {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &QueueBus{logger: logger}
	b.queue = jobs.NewQueue("notifications", func(ctx context.Context, job jobs.Job) error {
		n, ok := job.Payload.(models.Notification)
		if !ok {
			return nil
		}
		return handler(ctx, n)
	}, cfg)
	return b
}

// Start begins dispatch workers.
func (b *QueueBus) Start(ctx context.Context) {
	b.queue.Start(ctx)
}

// Stop drains the workers.
func (b *QueueBus) Stop() {
	b.queue.Stop()
}

// PostNotification implements Bus.
func (b *QueueBus) PostNotification(n models.Notification) {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	err := b.queue.Enqueue(jobs.Job{
		ID:      n.Path + ":" + string(n.Type),
		Type:    string(n.Type),
		Payload: n,
	})
	if err != nil {
		b.logger.Warn("notification dropped",
			zap.String("type", string(n.Type)),
			zap.String("path", n.Path),
			zap.Error(err))
	}
}

// LogBus writes notifications to the log; the default sink when no external
// subscriber is configured.
type LogBus struct {
	Logger *zap.Logger
}

// PostNotification implements Bus.
func (b LogBus) PostNotification(n models.Notification) {
	logger := b.Logger
	if logger == nil {
		return
	}
	logger.Info("notification",
		zap.String("type", string(n.Type)),
		zap.String("actor", n.Actor),
		zap.String("path", n.Path),
		zap.String("recurrence_id", n.RecurrenceID))
}

// NopBus discards notifications; used in tests.
type NopBus struct{}

// PostNotification implements Bus.
func (NopBus) PostNotification(models.Notification) {}
