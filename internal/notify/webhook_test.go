package notify_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/aoi-nmz/backend-club/internal/events"
	"github.com/aoi-nmz/backend-club/internal/notify"
	"github.com/aoi-nmz/backend-club/internal/resilience"
)

type memoryStore struct {
	mu         sync.Mutex
	endpoints  map[uuid.UUID]notify.Endpoint
	deliveries map[uuid.UUID]notify.Delivery
	events     map[uuid.UUID]events.Event
	notified   map[uuid.UUID]bool
	dlq        map[uuid.UUID]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		endpoints:  make(map[uuid.UUID]notify.Endpoint),
		deliveries: make(map[uuid.UUID]notify.Delivery),
		events:     make(map[uuid.UUID]events.Event),
		dlq:        make(map[uuid.UUID]string),
	}
}

func (m *memoryStore) addEndpoint(ep notify.Endpoint) notify.Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ep.ID == uuid.Nil {
		ep.ID = uuid.New()
	}
	m.endpoints[ep.ID] = ep
	return ep
}

func (m *memoryStore) addEvent(ev events.Event) events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	m.events[ev.ID] = ev
	return ev
}

func (m *memoryStore) CreateWebhookEndpoint(_ context.Context, arg notify.EndpointParams) (notify.Endpoint, error) {
	return m.addEndpoint(notify.Endpoint{
		StoreID: arg.StoreID, Name: arg.Name, URL: arg.URL,
		Secret: arg.Secret, Active: arg.Active, Topics: arg.Topics, CreatedAt: time.Now(),
	}), nil
}

func (m *memoryStore) UpdateWebhookEndpoint(_ context.Context, id uuid.UUID, arg notify.EndpointParams) (notify.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[id]
	if !ok {
		return notify.Endpoint{}, pgx.ErrNoRows
	}
	ep.Name, ep.URL, ep.Secret, ep.Active, ep.Topics = arg.Name, arg.URL, arg.Secret, arg.Active, arg.Topics
	m.endpoints[id] = ep
	return ep, nil
}

func (m *memoryStore) GetWebhookEndpoint(_ context.Context, id uuid.UUID) (notify.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[id]
	if !ok {
		return notify.Endpoint{}, pgx.ErrNoRows
	}
	return ep, nil
}

func (m *memoryStore) ListWebhookEndpoints(_ context.Context, storeID uuid.UUID, _, _ int) ([]notify.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notify.Endpoint
	for _, ep := range m.endpoints {
		if ep.StoreID == storeID {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (m *memoryStore) DeleteWebhookEndpoint(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(m.endpoints, id)
	return nil
}

func (m *memoryStore) ListActiveEndpointsForTopic(_ context.Context, storeID uuid.UUID, topic string) ([]notify.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notify.Endpoint
	for _, ep := range m.endpoints {
		if ep.StoreID != storeID || !ep.Active {
			continue
		}
		for _, t := range ep.Topics {
			if t == topic {
				out = append(out, ep)
				break
			}
		}
	}
	return out, nil
}

func (m *memoryStore) EnqueueDelivery(_ context.Context, endpointID, eventID uuid.UUID, maxAttempt int32) (notify.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := notify.Delivery{
		ID: uuid.New(), EndpointID: endpointID, EventID: eventID,
		Status: notify.StatusPending, MaxAttempt: maxAttempt,
		NextAttemptAt: time.Now(), CreatedAt: time.Now(),
	}
	m.deliveries[d.ID] = d
	return d, nil
}

func (m *memoryStore) DequeueDueDeliveries(_ context.Context, limit int32) ([]notify.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notify.Delivery
	for _, d := range m.deliveries {
		if (d.Status == notify.StatusPending || d.Status == notify.StatusFailed) && !d.NextAttemptAt.After(time.Now()) {
			out = append(out, d)
			if int32(len(out)) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memoryStore) MarkDelivering(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	d.Status = notify.StatusDelivering
	d.Attempt++
	m.deliveries[id] = d
	return nil
}

func (m *memoryStore) MarkDelivered(_ context.Context, id uuid.UUID, status int32, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	now := time.Now()
	d.Status = notify.StatusDelivered
	d.ResponseStatus = &status
	d.ResponseBody = &body
	d.DeliveredAt = &now
	m.deliveries[id] = d
	return nil
}

func (m *memoryStore) MarkFailedWithBackoff(_ context.Context, id uuid.UUID, delaySec int32, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	d.Status = notify.StatusFailed
	d.LastError = &lastError
	d.NextAttemptAt = time.Now().Add(time.Duration(delaySec) * time.Second)
	m.deliveries[id] = d
	return nil
}

func (m *memoryStore) MoveToDLQ(_ context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	d.Status = notify.StatusDLQ
	d.LastError = &reason
	m.deliveries[id] = d
	m.dlq[id] = reason
	return nil
}

func (m *memoryStore) GetDeliveryByID(_ context.Context, id uuid.UUID) (notify.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return notify.Delivery{}, pgx.ErrNoRows
	}
	return d, nil
}

func (m *memoryStore) ResetDeliveryForReplay(_ context.Context, id uuid.UUID) (notify.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return notify.Delivery{}, pgx.ErrNoRows
	}
	d.Status = notify.StatusPending
	d.Attempt = 0
	d.LastError = nil
	d.NextAttemptAt = time.Now()
	m.deliveries[id] = d
	delete(m.dlq, id)
	return d, nil
}

func (m *memoryStore) ListWebhookDeliveries(_ context.Context, filter notify.DeliveryFilter) ([]notify.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notify.Delivery
	for _, d := range m.deliveries {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (m *memoryStore) CountWebhookDeliveries(ctx context.Context, filter notify.DeliveryFilter) (int64, error) {
	list, _ := m.ListWebhookDeliveries(ctx, filter)
	return int64(len(list)), nil
}

func (m *memoryStore) GetDomainEvent(_ context.Context, id uuid.UUID) (events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return events.Event{}, pgx.ErrNoRows
	}
	return ev, nil
}

func (m *memoryStore) MarkEventNotified(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return pgx.ErrNoRows
	}
	if m.notified == nil {
		m.notified = map[uuid.UUID]bool{}
	}
	m.notified[id] = true
	return nil
}

func TestComputeSignature(t *testing.T) {
	secret := "whsec"
	body := []byte(`{"topic":"session.closed"}`)
	eventID := uuid.New().String()
	ts := int64(1724800000)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write([]byte(eventID))
	mac.Write([]byte("."))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	require.Equal(t, want, notify.ComputeSignature(secret, ts, eventID, body))
}

func TestScheduleMatchesTopicAndStore(t *testing.T) {
	store := newMemoryStore()
	storeID := uuid.New()
	store.addEndpoint(notify.Endpoint{StoreID: storeID, URL: "https://example.com/hook", Secret: "s", Active: true, Topics: []string{"session.closed"}})
	store.addEndpoint(notify.Endpoint{StoreID: storeID, URL: "https://example.com/other", Secret: "s", Active: true, Topics: []string{"order.created"}})
	store.addEndpoint(notify.Endpoint{StoreID: uuid.New(), URL: "https://example.com/foreign", Secret: "s", Active: true, Topics: []string{"session.closed"}})

	d := &notify.Dispatcher{Store: store, Enabled: true}
	ev := store.addEvent(events.Event{StoreID: storeID, Topic: "session.closed", AggregateID: uuid.New(), Payload: []byte(`{}`)})
	require.NoError(t, d.Schedule(context.Background(), ev))

	pending, err := store.ListWebhookDeliveries(context.Background(), notify.DeliveryFilter{Status: notify.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1, "only the matching endpoint of the same store gets a delivery")
}

func TestWorkOnceDeliversSignedPayload(t *testing.T) {
	var received http.Header
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newMemoryStore()
	storeID := uuid.New()
	ep := store.addEndpoint(notify.Endpoint{StoreID: storeID, URL: srv.URL, Secret: "whsec", Active: true, Topics: []string{"session.closed"}})
	ev := store.addEvent(events.Event{StoreID: storeID, Topic: "session.closed", AggregateID: uuid.New(), Payload: []byte(`{"total":36685}`)})
	del, err := store.EnqueueDelivery(context.Background(), ep.ID, ev.ID, 3)
	require.NoError(t, err)

	d := &notify.Dispatcher{
		Store:   store,
		Enabled: true,
		HTTP:    resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
	}
	require.NoError(t, d.WorkOnce(context.Background(), 5))

	got, err := store.GetDeliveryByID(context.Background(), del.ID)
	require.NoError(t, err)
	require.Equal(t, notify.StatusDelivered, got.Status)

	require.Equal(t, ev.ID.String(), received.Get("X-Event-ID"))
	require.Equal(t, del.ID.String(), received.Get("X-Idempotency-Key"))
	ts, err := strconv.ParseInt(received.Get("X-Timestamp"), 10, 64)
	require.NoError(t, err)
	require.Equal(t, notify.ComputeSignature("whsec", ts, ev.ID.String(), body), received.Get("X-Signature"))

	var envelope struct {
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	require.Equal(t, "session.closed", envelope.Topic)
	require.JSONEq(t, `{"total":36685}`, string(envelope.Data))

	store.mu.Lock()
	notifiedCount := len(store.notified)
	store.mu.Unlock()
	require.Equal(t, 1, notifiedCount, "delivered event carries a notified timestamp")
}

func TestDeliveryMovesToDLQAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newMemoryStore()
	storeID := uuid.New()
	ep := store.addEndpoint(notify.Endpoint{StoreID: storeID, URL: srv.URL, Secret: "s", Active: true, Topics: []string{"order.created"}})
	ev := store.addEvent(events.Event{StoreID: storeID, Topic: "order.created", AggregateID: uuid.New(), Payload: []byte(`{}`)})
	del, err := store.EnqueueDelivery(context.Background(), ep.ID, ev.ID, 2)
	require.NoError(t, err)

	d := &notify.Dispatcher{
		Store:          store,
		Enabled:        true,
		BackoffBaseSec: 0,
		HTTP:           resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
	}

	require.NoError(t, d.WorkOnce(context.Background(), 5))
	got, _ := store.GetDeliveryByID(context.Background(), del.ID)
	require.Equal(t, notify.StatusFailed, got.Status)
	require.NotNil(t, got.LastError)

	// fast-forward past the backoff
	store.mu.Lock()
	got.NextAttemptAt = time.Now().Add(-time.Second)
	store.deliveries[del.ID] = got
	store.mu.Unlock()

	require.NoError(t, d.WorkOnce(context.Background(), 5))
	got, _ = store.GetDeliveryByID(context.Background(), del.ID)
	require.Equal(t, notify.StatusDLQ, got.Status)
}

func TestDeliverByIDSkipsTerminalStates(t *testing.T) {
	store := newMemoryStore()
	storeID := uuid.New()
	ep := store.addEndpoint(notify.Endpoint{StoreID: storeID, URL: "https://example.com", Secret: "s", Active: true})
	ev := store.addEvent(events.Event{StoreID: storeID, Topic: "session.opened", AggregateID: uuid.New(), Payload: []byte(`{}`)})
	del, err := store.EnqueueDelivery(context.Background(), ep.ID, ev.ID, 3)
	require.NoError(t, err)
	require.NoError(t, store.MarkDelivered(context.Background(), del.ID, 200, "ok"))

	d := &notify.Dispatcher{Store: store, Enabled: true}
	require.NoError(t, d.DeliverByID(context.Background(), del.ID.String()))

	got, _ := store.GetDeliveryByID(context.Background(), del.ID)
	require.Zero(t, got.Attempt, "no attempt recorded for a settled delivery")
}

func TestValidateURLRejectsPlainHTTPRemote(t *testing.T) {
	store := newMemoryStore()
	storeID := uuid.New()
	ep := store.addEndpoint(notify.Endpoint{StoreID: storeID, URL: "http://evil.example.com/hook", Secret: "s", Active: true})
	ev := store.addEvent(events.Event{StoreID: storeID, Topic: "session.closed", AggregateID: uuid.New(), Payload: []byte(`{}`)})
	del, err := store.EnqueueDelivery(context.Background(), ep.ID, ev.ID, 1)
	require.NoError(t, err)

	d := &notify.Dispatcher{Store: store, Enabled: true}
	_, _, deliverErr := d.Deliver(context.Background(), ep, ev, del)
	require.Error(t, deliverErr)
}
