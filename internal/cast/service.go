package cast

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aoi-nmz/backend-club/internal/common"
	"github.com/aoi-nmz/backend-club/internal/events"
	"github.com/aoi-nmz/backend-club/internal/tenant"
)

// Service manages the cast roster and shift attendance punches.
type Service struct {
	store  Store
	bus    *events.Bus
	logger zerolog.Logger
	now    func() time.Time
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store  Store
	Bus    *events.Bus
	Logger zerolog.Logger
	Now    func() time.Time
}

// NewService builds a cast service.
func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{store: cfg.Store, bus: cfg.Bus, logger: cfg.Logger, now: now}
}

// Create adds a cast to the roster.
func (s *Service) Create(ctx context.Context, name, nickname string) (Cast, error) {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return Cast{}, errStoreRequired()
	}
	return s.store.InsertCast(ctx, Cast{StoreID: store.ID, Name: name, Nickname: nickname})
}

// List returns the roster, optionally only active casts.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]Cast, error) {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return nil, errStoreRequired()
	}
	return s.store.ListCasts(ctx, store.ID, activeOnly)
}

// Update patches a roster entry.
func (s *Service) Update(ctx context.Context, id uuid.UUID, p CastPatch) (Cast, error) {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return Cast{}, errStoreRequired()
	}
	c, err := s.store.UpdateCast(ctx, store.ID, id, p)
	if err != nil {
		return Cast{}, mapStoreErr(err)
	}
	return c, nil
}

// ClockIn opens a shift for the cast and emits cast.clocked_in.
func (s *Service) ClockIn(ctx context.Context, castID uuid.UUID) (Attendance, error) {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return Attendance{}, errStoreRequired()
	}
	a, err := s.store.ClockIn(ctx, store.ID, castID, s.now().UTC())
	if err != nil {
		return Attendance{}, mapStoreErr(err)
	}
	s.emit(ctx, events.TopicCastClockedIn, store, castID, a)
	return a, nil
}

// ClockOut closes the cast's open shift and emits cast.clocked_out.
func (s *Service) ClockOut(ctx context.Context, castID uuid.UUID) (Attendance, error) {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return Attendance{}, errStoreRequired()
	}
	a, err := s.store.ClockOut(ctx, store.ID, castID, s.now().UTC())
	if err != nil {
		return Attendance{}, mapStoreErr(err)
	}
	s.emit(ctx, events.TopicCastClockedOut, store, castID, a)
	return a, nil
}

// Attendance returns punches within the store's working day. The day starts
// at the given date's midnight in the store timezone and runs 24 hours.
func (s *Service) Attendance(ctx context.Context, date string) ([]Attendance, error) {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return nil, errStoreRequired()
	}
	loc, err := time.LoadLocation(store.Timezone)
	if err != nil {
		loc = time.UTC
	}
	day := s.now().In(loc)
	if date != "" {
		day, err = time.ParseInLocation("2006-01-02", date, loc)
		if err != nil {
			return nil, common.NewAppError("VALIDATION", "date must be YYYY-MM-DD", http.StatusBadRequest, err)
		}
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	return s.store.ListAttendance(ctx, store.ID, from.UTC(), from.Add(24*time.Hour).UTC())
}

func (s *Service) emit(ctx context.Context, topic string, store tenant.Record, castID uuid.UUID, a Attendance) {
	if s.bus == nil {
		return
	}
	payload := map[string]any{
		"castId":     castID.String(),
		"clockIn":    a.ClockIn,
		"adminEmail": store.AdminEmail,
	}
	if a.ClockOut != nil {
		payload["clockOut"] = *a.ClockOut
	}
	if _, err := s.bus.Emit(ctx, topic, store.ID, a.ID, payload); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Str("cast_id", castID.String()).Msg("event fanout incomplete")
	}
}

func errStoreRequired() error {
	return common.NewAppError("STORE_REQUIRED", "store identifier is required", http.StatusBadRequest, nil)
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return common.NewAppError("CAST_NOT_FOUND", "cast not found", http.StatusNotFound, err)
	case errors.Is(err, ErrAlreadyClockedIn):
		return common.NewAppError("ALREADY_CLOCKED_IN", "cast already has an open shift", http.StatusConflict, err)
	case errors.Is(err, ErrNotClockedIn):
		return common.NewAppError("NOT_CLOCKED_IN", "cast has no open shift", http.StatusConflict, err)
	default:
		return err
	}
}
