package cast

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aoi-nmz/backend-club/internal/common"
	"github.com/aoi-nmz/backend-club/internal/events"
	"github.com/aoi-nmz/backend-club/internal/tenant"
)

type memStore struct {
	mu         sync.Mutex
	casts      map[uuid.UUID]*Cast
	attendance map[uuid.UUID]*Attendance
}

func newMemStore() *memStore {
	return &memStore{casts: map[uuid.UUID]*Cast{}, attendance: map[uuid.UUID]*Attendance{}}
}

func (m *memStore) InsertCast(_ context.Context, c Cast) (Cast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.Active = true
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	copied := c
	m.casts[c.ID] = &copied
	return c, nil
}

func (m *memStore) GetCast(_ context.Context, storeID, id uuid.UUID) (Cast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.casts[id]
	if !ok || c.StoreID != storeID {
		return Cast{}, ErrNotFound
	}
	return *c, nil
}

func (m *memStore) ListCasts(_ context.Context, storeID uuid.UUID, activeOnly bool) ([]Cast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Cast{}
	for _, c := range m.casts {
		if c.StoreID != storeID || (activeOnly && !c.Active) {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (m *memStore) UpdateCast(_ context.Context, storeID, id uuid.UUID, p CastPatch) (Cast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.casts[id]
	if !ok || c.StoreID != storeID {
		return Cast{}, ErrNotFound
	}
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Nickname != nil {
		c.Nickname = *p.Nickname
	}
	if p.Active != nil {
		c.Active = *p.Active
	}
	return *c, nil
}

func (m *memStore) openShift(castID uuid.UUID) *Attendance {
	for _, a := range m.attendance {
		if a.CastID == castID && a.ClockOut == nil {
			return a
		}
	}
	return nil
}

func (m *memStore) ClockIn(_ context.Context, storeID, castID uuid.UUID, at time.Time) (Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.casts[castID]
	if !ok || c.StoreID != storeID {
		return Attendance{}, ErrNotFound
	}
	if m.openShift(castID) != nil {
		return Attendance{}, ErrAlreadyClockedIn
	}
	a := Attendance{ID: uuid.New(), CastID: castID, CastName: c.Name, ClockIn: at}
	copied := a
	m.attendance[a.ID] = &copied
	return a, nil
}

func (m *memStore) ClockOut(_ context.Context, storeID, castID uuid.UUID, at time.Time) (Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.casts[castID]
	if !ok || c.StoreID != storeID {
		return Attendance{}, ErrNotFound
	}
	open := m.openShift(castID)
	if open == nil {
		return Attendance{}, ErrNotClockedIn
	}
	open.ClockOut = &at
	return *open, nil
}

func (m *memStore) ListAttendance(_ context.Context, storeID uuid.UUID, from, to time.Time) ([]Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Attendance{}
	for _, a := range m.attendance {
		c, ok := m.casts[a.CastID]
		if !ok || c.StoreID != storeID {
			continue
		}
		if a.ClockIn.Before(from) || !a.ClockIn.Before(to) {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

type captureEventStore struct {
	mu     sync.Mutex
	topics []string
}

func (c *captureEventStore) InsertDomainEvent(_ context.Context, ev events.Event) (events.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev.ID = uuid.New()
	ev.OccurredAt = time.Now()
	c.topics = append(c.topics, ev.Topic)
	return ev, nil
}

func testContext(storeID uuid.UUID) context.Context {
	return tenant.WithRecord(context.Background(), tenant.Record{
		ID: storeID, Slug: "ageha", Name: "Club Ageha",
		AdminEmail: "owner@example.com", Timezone: "Asia/Tokyo",
	})
}

func newTestService(now func() time.Time) (*Service, *memStore, *captureEventStore) {
	store := newMemStore()
	eventStore := &captureEventStore{}
	svc := NewService(ServiceConfig{
		Store:  store,
		Bus:    &events.Bus{Store: eventStore},
		Logger: zerolog.Nop(),
		Now:    now,
	})
	return svc, store, eventStore
}

func TestClockInOutEmitsEvents(t *testing.T) {
	svc, _, eventStore := newTestService(nil)
	storeID := uuid.New()
	ctx := testContext(storeID)

	c, err := svc.Create(ctx, "Rina", "りな")
	require.NoError(t, err)

	in, err := svc.ClockIn(ctx, c.ID)
	require.NoError(t, err)
	require.Nil(t, in.ClockOut)

	out, err := svc.ClockOut(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, out.ClockOut)
	require.Equal(t, []string{events.TopicCastClockedIn, events.TopicCastClockedOut}, eventStore.topics)
}

func TestDoubleClockInConflicts(t *testing.T) {
	svc, _, _ := newTestService(nil)
	ctx := testContext(uuid.New())

	c, err := svc.Create(ctx, "Rina", "")
	require.NoError(t, err)
	_, err = svc.ClockIn(ctx, c.ID)
	require.NoError(t, err)

	_, err = svc.ClockIn(ctx, c.ID)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "ALREADY_CLOCKED_IN", appErr.Code)
	require.Equal(t, http.StatusConflict, appErr.HTTPStatus)
}

func TestClockOutWithoutShiftConflicts(t *testing.T) {
	svc, _, _ := newTestService(nil)
	ctx := testContext(uuid.New())

	c, err := svc.Create(ctx, "Rina", "")
	require.NoError(t, err)

	_, err = svc.ClockOut(ctx, c.ID)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "NOT_CLOCKED_IN", appErr.Code)
}

func TestAttendanceFiltersByWorkingDay(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	now := time.Date(2026, 3, 14, 22, 0, 0, 0, loc)
	svc, _, _ := newTestService(func() time.Time { return now })
	ctx := testContext(uuid.New())

	c, err := svc.Create(ctx, "Rina", "")
	require.NoError(t, err)
	_, err = svc.ClockIn(ctx, c.ID)
	require.NoError(t, err)

	today, err := svc.Attendance(ctx, "2026-03-14")
	require.NoError(t, err)
	require.Len(t, today, 1)

	yesterday, err := svc.Attendance(ctx, "2026-03-13")
	require.NoError(t, err)
	require.Empty(t, yesterday)

	_, err = svc.Attendance(ctx, "14-03-2026")
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, "VALIDATION", appErr.Code)
}

func TestDeactivatedCastHiddenFromActiveList(t *testing.T) {
	svc, _, _ := newTestService(nil)
	ctx := testContext(uuid.New())

	c, err := svc.Create(ctx, "Rina", "")
	require.NoError(t, err)
	inactive := false
	_, err = svc.Update(ctx, c.ID, CastPatch{Active: &inactive})
	require.NoError(t, err)

	active, err := svc.List(ctx, true)
	require.NoError(t, err)
	require.Empty(t, active)

	all, err := svc.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
}
