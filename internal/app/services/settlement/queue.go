// Package settlement runs approved payments through execution from a durable
// queue, retrying with backoff until they settle or are marked dead.
package settlement

import (
	"context"
	"time"

	"github.com/the-pines/frog/internal/app/storage"
	"github.com/the-pines/frog/pkg/logger"
)

// Queue enqueues payments for the worker.
type Queue struct {
	store storage.SettlementStore
	log   *logger.Logger
	now   func() time.Time
}

// NewQueue returns a queue backed by store.
func NewQueue(store storage.SettlementStore, log *logger.Logger) *Queue {
	if log == nil {
		log = logger.NewDefault("settlement-queue")
	}
	return &Queue{store: store, log: log, now: time.Now}
}

// Enqueue schedules paymentID for immediate settlement. Enqueueing a payment
// that is already queued is a no-op.
func (q *Queue) Enqueue(ctx context.Context, paymentID string) error {
	task, created, err := q.store.EnqueueSettlement(ctx, paymentID, q.now().UTC())
	if err != nil {
		return err
	}
	if created {
		q.log.WithContext(ctx).WithField("payment", paymentID).WithField("task", task.ID).Info("settlement queued")
	}
	return nil
}
