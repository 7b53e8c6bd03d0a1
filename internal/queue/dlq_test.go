package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aoi-nmz/backend-club/internal/queue"
)

type fakeDLQStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]queue.DLQEntry
}

func newFakeDLQStore() *fakeDLQStore {
	return &fakeDLQStore{entries: make(map[uuid.UUID]queue.DLQEntry)}
}

func (f *fakeDLQStore) InsertQueueDlq(ctx context.Context, entry queue.DLQEntry) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	f.entries[entry.ID] = entry
	return entry.ID, nil
}

func (f *fakeDLQStore) DeleteQueueDlq(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
	return nil
}

func (f *fakeDLQStore) GetQueueDlq(ctx context.Context, id uuid.UUID) (queue.DLQEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[id]
	if !ok {
		return queue.DLQEntry{}, errors.New("not found")
	}
	return entry, nil
}

func (f *fakeDLQStore) ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]queue.DLQEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]queue.DLQEntry, 0, len(f.entries))
	for _, e := range f.entries {
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeDLQStore) CountQueueDlq(ctx context.Context, kind string) (int64, error) {
	list, _ := f.ListQueueDlq(ctx, kind, 0, 0)
	return int64(len(list)), nil
}

func (f *fakeDLQStore) QueueDlqSizeByKind(ctx context.Context) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64)
	for _, e := range f.entries {
		out[e.Kind]++
	}
	return out, nil
}

func TestExhaustedTaskLandsInDLQ(t *testing.T) {
	client := newTestRedis(t)
	store := newFakeDLQStore()

	enq := queue.Enqueuer{R: client, Prefix: "dlq"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, enq.Enqueue(ctx, queue.Task{Kind: "webhook-delivery", Payload: []byte("poison"), IdempotencyKey: "p1", MaxAttempts: 2}))

	worker := queue.Worker{
		R:                 client,
		DLQ:               store,
		Prefix:            "dlq",
		Kind:              "webhook-delivery",
		VisibilityTimeout: time.Second,
		RetryBase:         time.Millisecond,
		Handler: func(ctx context.Context, task queue.Task) error {
			return errors.New("永久に失敗")
		},
	}
	go func() { _ = worker.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, _ := store.CountQueueDlq(context.Background(), "webhook-delivery")
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := store.ListQueueDlq(context.Background(), "webhook-delivery", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 2, entries[0].Attempts)
	require.NotNil(t, entries[0].LastError)

	// dedup key cleared so the task can be replayed later
	require.Eventually(t, func() bool {
		n, err := client.Exists(context.Background(), "dlq:dedup:webhook-delivery:p1").Result()
		return err == nil && n == 0
	}, time.Second, 10*time.Millisecond)
}
