package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aoi-nmz/backend-club/internal/lock"
)

const defaultDeliveryLockTTL = 30 * time.Second

// DeliveryWorker executes queued webhook deliveries. Session and attendance
// events fan out through here; the per-delivery lock keeps multiple worker
// replicas from sending the same receipt twice.
type DeliveryWorker struct {
	Dispatcher *Dispatcher
	Locker     lock.Locker
	LockTTL    time.Duration
}

// Handle runs the delivery named by the task payload, which carries the
// delivery ID. Blank payloads are acked without work.
func (w DeliveryWorker) Handle(ctx context.Context, payload []byte) error {
	if w.Dispatcher == nil {
		return errors.New("webhook worker: dispatcher not configured")
	}
	deliveryID := strings.TrimSpace(string(payload))
	if deliveryID == "" {
		return nil
	}
	ttl := w.LockTTL
	if ttl <= 0 {
		ttl = defaultDeliveryLockTTL
	}
	return w.Locker.WithLock(ctx, deliveryLockKey(deliveryID), ttl, func(ctx context.Context) error {
		return w.Dispatcher.DeliverByID(ctx, deliveryID)
	})
}

func deliveryLockKey(deliveryID string) string {
	return "lock:delivery:" + deliveryID
}
