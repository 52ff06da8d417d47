package notify

import (
	"context"
	"strings"
	"time"

	"github.com/noah-isme/backend-properti/internal/queue"
)

const dispatchTask = "notification-dispatch"

// EnqueueDispatchTask publishes a delivery task for processing by the worker.
func (d *Dispatcher) EnqueueDispatchTask(ctx context.Context, deliveryID string, delay time.Duration, maxAttempts int) error {
	if strings.TrimSpace(deliveryID) == "" {
		return nil
	}
	if d.Queue.R == nil {
		return nil
	}
	if maxAttempts <= 0 {
		maxAttempts = d.DefaultMaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = 6
		}
	}
	task := queue.Task{
		Kind:           dispatchTask,
		Payload:        []byte(deliveryID),
		IdempotencyKey: deliveryID,
		MaxAttempts:    maxAttempts,
		Delay:          delay,
	}
	return d.Queue.Enqueue(ctx, task)
}

// DispatchTask returns the queue kind used for notification deliveries.
func DispatchTask() string {
	return dispatchTask
}
