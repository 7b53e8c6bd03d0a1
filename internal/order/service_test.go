package order

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aoi-nmz/backend-club/internal/billing"
	"github.com/aoi-nmz/backend-club/internal/common"
	"github.com/aoi-nmz/backend-club/internal/events"
	"github.com/aoi-nmz/backend-club/internal/tenant"
)

type fakeSession struct {
	storeID uuid.UUID
	open    bool
}

type memStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*fakeSession
	orders   map[uuid.UUID]*Order
}

func newMemStore() *memStore {
	return &memStore{
		sessions: map[uuid.UUID]*fakeSession{},
		orders:   map[uuid.UUID]*Order{},
	}
}

func (m *memStore) addSession(storeID uuid.UUID, open bool) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.sessions[id] = &fakeSession{storeID: storeID, open: open}
	return id
}

func (m *memStore) classify(storeID, sessionID uuid.UUID) error {
	s, ok := m.sessions[sessionID]
	if !ok || s.storeID != storeID {
		return ErrNotFound
	}
	if !s.open {
		return ErrSessionClosed
	}
	return nil
}

func (m *memStore) InsertOrder(_ context.Context, storeID uuid.UUID, o Order) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.classify(storeID, o.SessionID); err != nil {
		return Order{}, err
	}
	o.ID = uuid.New()
	o.CreatedAt = time.Now()
	copied := o
	m.orders[o.ID] = &copied
	return o, nil
}

func (m *memStore) ListOrders(_ context.Context, storeID, sessionID uuid.UUID) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.storeID != storeID {
		return nil, ErrNotFound
	}
	out := []Order{}
	for _, o := range m.orders {
		if o.SessionID == sessionID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memStore) DeleteOrder(_ context.Context, storeID, sessionID, orderID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.classify(storeID, sessionID); err != nil {
		return err
	}
	o, ok := m.orders[orderID]
	if !ok || o.SessionID != sessionID {
		return ErrNotFound
	}
	delete(m.orders, orderID)
	return nil
}

func (m *memStore) ListLines(_ context.Context, sessionID uuid.UUID) ([]billing.OrderLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []billing.OrderLine{}
	for _, o := range m.orders {
		if o.SessionID == sessionID {
			out = append(out, billing.OrderLine{Label: o.Label, Amount: o.Amount})
		}
	}
	return out, nil
}

type captureEventStore struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureEventStore) InsertDomainEvent(_ context.Context, ev events.Event) (events.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev.ID = uuid.New()
	ev.OccurredAt = time.Now()
	c.events = append(c.events, ev)
	return ev, nil
}

func testContext(storeID uuid.UUID) context.Context {
	return tenant.WithRecord(context.Background(), tenant.Record{
		ID: storeID, Slug: "ageha", Name: "Club Ageha",
		AdminEmail: "owner@example.com", Timezone: "Asia/Tokyo",
	})
}

func newTestService(store Store) (*Service, *captureEventStore) {
	eventStore := &captureEventStore{}
	svc := NewService(ServiceConfig{
		Store:  store,
		Bus:    &events.Bus{Store: eventStore},
		Logger: zerolog.Nop(),
	})
	return svc, eventStore
}

func TestAddExtendsPriceAndEmits(t *testing.T) {
	storeID := uuid.New()
	store := newMemStore()
	sessionID := store.addSession(storeID, true)
	svc, eventStore := newTestService(store)

	created, err := svc.Add(testContext(storeID), sessionID, AddParams{
		Label: "champagne", UnitPrice: 12000, Quantity: 2,
	})
	require.NoError(t, err)
	require.Equal(t, billing.Money(24000), created.Amount)
	require.Len(t, eventStore.events, 1)
	require.Equal(t, events.TopicOrderCreated, eventStore.events[0].Topic)
	require.Equal(t, storeID, eventStore.events[0].StoreID)
}

func TestAddRejectedOnClosedSession(t *testing.T) {
	storeID := uuid.New()
	store := newMemStore()
	sessionID := store.addSession(storeID, false)
	svc, eventStore := newTestService(store)

	_, err := svc.Add(testContext(storeID), sessionID, AddParams{Label: "beer", UnitPrice: 800, Quantity: 1})
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "SESSION_CLOSED", appErr.Code)
	require.Equal(t, http.StatusConflict, appErr.HTTPStatus)
	require.Empty(t, eventStore.events)
}

func TestAddScopedToStore(t *testing.T) {
	store := newMemStore()
	sessionID := store.addSession(uuid.New(), true)
	svc, _ := newTestService(store)

	_, err := svc.Add(testContext(uuid.New()), sessionID, AddParams{Label: "beer", UnitPrice: 800, Quantity: 1})
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "ORDER_NOT_FOUND", appErr.Code)
}

func TestRemoveThenLinesEmpty(t *testing.T) {
	storeID := uuid.New()
	store := newMemStore()
	sessionID := store.addSession(storeID, true)
	svc, _ := newTestService(store)

	ctx := testContext(storeID)
	created, err := svc.Add(ctx, sessionID, AddParams{Label: "fruit", UnitPrice: 3000, Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, svc.Remove(ctx, sessionID, created.ID))

	lines, err := svc.BillingLines(ctx, sessionID)
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestAddHandlerValidatesQuantity(t *testing.T) {
	storeID := uuid.New()
	store := newMemStore()
	sessionID := store.addSession(storeID, true)
	svc, _ := newTestService(store)
	h := NewHandler(HandlerConfig{Service: svc})

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			rec := tenant.Record{ID: storeID, Slug: "ageha", AdminEmail: "owner@example.com"}
			next.ServeHTTP(w, req.WithContext(tenant.WithRecord(req.Context(), rec)))
		})
	})
	r.Post("/table-sessions/{id}/orders", h.Add)

	body := bytes.NewBufferString(`{"label":"beer","unitPrice":800,"quantity":0}`)
	req := httptest.NewRequest(http.MethodPost, "/table-sessions/"+sessionID.String()+"/orders", body)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	body = bytes.NewBufferString(`{"label":"beer","unitPrice":800,"quantity":2}`)
	req = httptest.NewRequest(http.MethodPost, "/table-sessions/"+sessionID.String()+"/orders", body)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp struct {
		Data Order `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, billing.Money(1600), resp.Data.Amount)
}
