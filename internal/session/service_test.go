package session

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aoi-nmz/backend-club/internal/billing"
	"github.com/aoi-nmz/backend-club/internal/common"
	"github.com/aoi-nmz/backend-club/internal/events"
	"github.com/aoi-nmz/backend-club/internal/tenant"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*TableSession
}

func newMemStore() *memStore {
	return &memStore{sessions: map[uuid.UUID]*TableSession{}}
}

func (m *memStore) InsertSession(_ context.Context, s TableSession) (TableSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	s.Status = StatusOpen
	s.Assignments = []Assignment{}
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	copied := s
	m.sessions[s.ID] = &copied
	return s, nil
}

func (m *memStore) GetSession(_ context.Context, storeID, id uuid.UUID) (TableSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.StoreID != storeID {
		return TableSession{}, ErrNotFound
	}
	return *s, nil
}

func (m *memStore) ListSessions(_ context.Context, storeID uuid.UUID, f ListFilter) ([]TableSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []TableSession{}
	for _, s := range m.sessions {
		if s.StoreID != storeID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (m *memStore) CountSessions(ctx context.Context, storeID uuid.UUID, f ListFilter) (int, error) {
	items, err := m.ListSessions(ctx, storeID, f)
	return len(items), err
}

func (m *memStore) UpdateGuestCount(_ context.Context, storeID, id uuid.UUID, guests int) (TableSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.StoreID != storeID {
		return TableSession{}, ErrNotFound
	}
	if s.Status != StatusOpen {
		return TableSession{}, ErrAlreadyClosed
	}
	s.GuestCount = guests
	return *s, nil
}

func (m *memStore) InsertAssignment(_ context.Context, storeID, sessionID uuid.UUID, castID uuid.UUID, status billing.CastStatus) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.StoreID != storeID {
		return Assignment{}, ErrNotFound
	}
	if s.Status != StatusOpen {
		return Assignment{}, ErrAlreadyClosed
	}
	a := Assignment{ID: uuid.New(), CastID: castID, Status: status, CreatedAt: time.Now()}
	s.Assignments = append(s.Assignments, a)
	return a, nil
}

func (m *memStore) DeleteAssignment(_ context.Context, storeID, sessionID, assignmentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.StoreID != storeID {
		return ErrNotFound
	}
	if s.Status != StatusOpen {
		return ErrAlreadyClosed
	}
	for i, a := range s.Assignments {
		if a.ID == assignmentID {
			s.Assignments = append(s.Assignments[:i], s.Assignments[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *memStore) CloseSession(_ context.Context, storeID, id uuid.UUID, endTime time.Time, bd billing.Breakdown) (TableSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.StoreID != storeID {
		return TableSession{}, ErrNotFound
	}
	if s.Status != StatusOpen {
		return TableSession{}, ErrAlreadyClosed
	}
	s.Status = StatusClosed
	s.EndTime = &endTime
	s.Subtotal = bd.Subtotal
	s.Total = bd.Total
	return *s, nil
}

type stubOrders struct {
	lines []billing.OrderLine
}

func (s stubOrders) BillingLines(context.Context, uuid.UUID) ([]billing.OrderLine, error) {
	return s.lines, nil
}

type stubSettings struct {
	cfg billing.Settings
}

func (s stubSettings) Active(context.Context, uuid.UUID) (billing.Settings, error) {
	return s.cfg, nil
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

func (c *captureEventStore) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Topic)
	}
	return out
}

func defaultSettings() billing.Settings {
	return billing.Settings{
		HourlyCharge:    5000,
		SetDurationMin:  60,
		ExtensionFee30m: 2500,
		ShimeFee:        3000,
		JounaiFee:       2000,
		ServiceRateBps:  1500,
		TaxRateBps:      1000,
	}
}

func testContext(storeID uuid.UUID) context.Context {
	return tenant.WithRecord(context.Background(), tenant.Record{
		ID:         storeID,
		Slug:       "ageha",
		Name:       "Club Ageha",
		AdminEmail: "owner@example.com",
		Timezone:   "Asia/Tokyo",
	})
}

func newTestService(t *testing.T, store Store, orders OrderSource, cfg billing.Settings, now func() time.Time) (*Service, *captureEventStore) {
	t.Helper()
	eventStore := &captureEventStore{}
	return NewService(ServiceConfig{
		Store:    store,
		Orders:   orders,
		Settings: stubSettings{cfg: cfg},
		Bus:      &events.Bus{Store: eventStore},
		Logger:   zerolog.Nop(),
		Now:      now,
	}), eventStore
}

func TestOpenEmitsSessionOpened(t *testing.T) {
	storeID := uuid.New()
	svc, eventStore := newTestService(t, newMemStore(), stubOrders{}, defaultSettings(), nil)

	sess, err := svc.Open(testContext(storeID), OpenParams{TableNumber: "A-3", GuestCount: 2})
	require.NoError(t, err)
	require.Equal(t, StatusOpen, sess.Status)
	require.Equal(t, storeID, sess.StoreID)
	require.Equal(t, []string{events.TopicSessionOpened}, eventStore.topics())
}

func TestCloseFreezesTotalsAndEmits(t *testing.T) {
	storeID := uuid.New()
	start := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Minute)
	orders := stubOrders{lines: []billing.OrderLine{
		{Label: "champagne", Amount: 12000},
		{Label: "fruit platter", Amount: 3000},
	}}
	svc, eventStore := newTestService(t, newMemStore(), orders, defaultSettings(), func() time.Time { return now })

	ctx := testContext(storeID)
	sess, err := svc.Open(ctx, OpenParams{TableNumber: "VIP-1", GuestCount: 2, StartTime: &start})
	require.NoError(t, err)
	_, err = svc.AssignCast(ctx, sess.ID, uuid.New(), billing.StatusShime)
	require.NoError(t, err)
	_, err = svc.AssignCast(ctx, sess.ID, uuid.New(), billing.StatusFree)
	require.NoError(t, err)

	detail, err := svc.Close(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, detail.Status)
	require.NotNil(t, detail.EndTime)
	require.Equal(t, now, detail.EndTime.UTC())

	// 90 min at 60-min set: one 30-min extension block.
	// time 2*(5000+2500)=15000, shime 3000, orders 15000, subtotal 33000
	// service 33000*15%=4950, tax (33000+4950)*10%=3795, total 41745
	require.Equal(t, billing.Money(33000), detail.Bill.Subtotal)
	require.Equal(t, billing.Money(41745), detail.Bill.Total)
	require.Equal(t, detail.Bill.Total, detail.Total)
	require.Equal(t, []string{events.TopicSessionOpened, events.TopicSessionClosed}, eventStore.topics())
}

func TestCloseTwiceConflicts(t *testing.T) {
	storeID := uuid.New()
	svc, _ := newTestService(t, newMemStore(), stubOrders{}, defaultSettings(), nil)

	ctx := testContext(storeID)
	sess, err := svc.Open(ctx, OpenParams{TableNumber: "B-2", GuestCount: 1})
	require.NoError(t, err)
	_, err = svc.Close(ctx, sess.ID)
	require.NoError(t, err)

	_, err = svc.Close(ctx, sess.ID)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "SESSION_CLOSED", appErr.Code)
	require.Equal(t, http.StatusConflict, appErr.HTTPStatus)
}

func TestBillPreviewTracksNow(t *testing.T) {
	storeID := uuid.New()
	start := time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Minute)
	svc, _ := newTestService(t, newMemStore(), stubOrders{}, defaultSettings(), func() time.Time { return now })

	ctx := testContext(storeID)
	sess, err := svc.Open(ctx, OpenParams{TableNumber: "C-1", GuestCount: 1, StartTime: &start})
	require.NoError(t, err)

	bd, err := svc.Bill(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, 30, bd.TimeCharge.DurationMin)
	require.Zero(t, bd.TimeCharge.ExtensionBlocks)

	now = start.Add(61 * time.Minute)
	bd, err = svc.Bill(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, 1, bd.TimeCharge.ExtensionBlocks)
}

func TestAssignRejectsUnknownStatus(t *testing.T) {
	storeID := uuid.New()
	svc, _ := newTestService(t, newMemStore(), stubOrders{}, defaultSettings(), nil)

	ctx := testContext(storeID)
	sess, err := svc.Open(ctx, OpenParams{TableNumber: "A-1", GuestCount: 2})
	require.NoError(t, err)

	_, err = svc.AssignCast(ctx, sess.ID, uuid.New(), billing.CastStatus("douhan"))
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "VALIDATION", appErr.Code)
}

func TestMutationsRejectedAfterClose(t *testing.T) {
	storeID := uuid.New()
	svc, _ := newTestService(t, newMemStore(), stubOrders{}, defaultSettings(), nil)

	ctx := testContext(storeID)
	sess, err := svc.Open(ctx, OpenParams{TableNumber: "A-2", GuestCount: 2})
	require.NoError(t, err)
	_, err = svc.Close(ctx, sess.ID)
	require.NoError(t, err)

	_, err = svc.UpdateGuests(ctx, sess.ID, 3)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "SESSION_CLOSED", appErr.Code)

	_, err = svc.AssignCast(ctx, sess.ID, uuid.New(), billing.StatusShime)
	appErr, ok = common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "SESSION_CLOSED", appErr.Code)
}

func TestStoreScopingHidesForeignSessions(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(t, store, stubOrders{}, defaultSettings(), nil)

	sess, err := svc.Open(testContext(uuid.New()), OpenParams{TableNumber: "A-1", GuestCount: 2})
	require.NoError(t, err)

	_, err = svc.Get(testContext(uuid.New()), sess.ID)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "SESSION_NOT_FOUND", appErr.Code)
	require.Equal(t, http.StatusNotFound, appErr.HTTPStatus)
}
