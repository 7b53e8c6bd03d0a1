package notify

import (
	"context"
	"strings"
	"time"

	"github.com/aoi-nmz/backend-club/internal/queue"
)

const (
	webhookDeliveryTask      = "webhook-delivery"
	fallbackDeliveryAttempts = 6
)

// EnqueueDelivery hands a delivery off to the queue worker. The delivery ID
// doubles as the idempotency key so a delivery scheduled by both the event
// bus and the sweeper is enqueued once.
func (d Dispatcher) EnqueueDelivery(ctx context.Context, deliveryID string, delay time.Duration, maxAttempts int) error {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" || d.Queue.R == nil {
		return nil
	}
	if maxAttempts <= 0 {
		if maxAttempts = d.DefaultMaxAttempts; maxAttempts <= 0 {
			maxAttempts = fallbackDeliveryAttempts
		}
	}
	return d.Queue.Enqueue(ctx, queue.Task{
		Kind:           webhookDeliveryTask,
		Payload:        []byte(deliveryID),
		IdempotencyKey: deliveryID,
		MaxAttempts:    maxAttempts,
		Delay:          delay,
	})
}

// WebhookDeliveryTask returns the queue kind used for webhook deliveries.
func WebhookDeliveryTask() string {
	return webhookDeliveryTask
}
