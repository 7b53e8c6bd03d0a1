package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aoi-nmz/backend-club/internal/events"
)

type stubStore struct {
	last events.Event
}

func (s *stubStore) InsertDomainEvent(_ context.Context, ev events.Event) (events.Event, error) {
	ev.ID = uuid.New()
	ev.OccurredAt = time.Now()
	s.last = ev
	return ev, nil
}

type captureScheduler struct {
	events []events.Event
}

func (c *captureScheduler) Schedule(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return nil
}

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return c.err
}

func TestEmitPersistsAndFansOut(t *testing.T) {
	store := &stubStore{}
	scheduler := &captureScheduler{}
	notifier := &captureNotifier{}
	bus := events.Bus{Store: store, Scheduler: scheduler, Notifiers: []events.Notifier{notifier}}

	storeID := uuid.New()
	sessionID := uuid.New()
	payload := map[string]any{"total": 36685}
	event, err := bus.Emit(context.Background(), events.TopicSessionClosed, storeID, sessionID, payload)
	require.NoError(t, err)
	require.Equal(t, events.TopicSessionClosed, store.last.Topic)
	require.Equal(t, storeID, store.last.StoreID)
	require.JSONEq(t, `{"total":36685}`, string(store.last.Payload))
	require.Len(t, scheduler.events, 1)
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, scheduler.events[0].ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	require.EqualValues(t, 36685, decoded["total"])
}

func TestEmitRequiresAggregate(t *testing.T) {
	bus := events.Bus{Store: &stubStore{}}
	_, err := bus.Emit(context.Background(), events.TopicSessionOpened, uuid.New(), uuid.Nil, nil)
	require.Error(t, err)
}

func TestEmitJoinsHandlerErrors(t *testing.T) {
	notifyErr := errors.New("smtp down")
	bus := events.Bus{
		Store:     &stubStore{},
		Notifiers: []events.Notifier{&captureNotifier{err: notifyErr}},
	}
	ev, err := bus.Emit(context.Background(), events.TopicOrderCreated, uuid.New(), uuid.New(), `{"item":"dom perignon"}`)
	require.ErrorIs(t, err, notifyErr)
	// event is still durable even when a notifier fails
	require.NotEqual(t, uuid.Nil, ev.ID)
}

func TestEmitRejectsInvalidJSONString(t *testing.T) {
	bus := events.Bus{Store: &stubStore{}}
	_, err := bus.Emit(context.Background(), events.TopicOrderCreated, uuid.New(), uuid.New(), "not json")
	require.Error(t, err)
}
