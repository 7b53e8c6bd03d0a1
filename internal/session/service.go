package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aoi-nmz/backend-club/internal/billing"
	"github.com/aoi-nmz/backend-club/internal/common"
	"github.com/aoi-nmz/backend-club/internal/events"
	"github.com/aoi-nmz/backend-club/internal/obs"
	"github.com/aoi-nmz/backend-club/internal/tenant"
)

// OrderSource supplies the priced order lines attached to a session.
type OrderSource interface {
	BillingLines(ctx context.Context, sessionID uuid.UUID) ([]billing.OrderLine, error)
}

// SettingsSource supplies the active billing settings for a store.
type SettingsSource interface {
	Active(ctx context.Context, storeID uuid.UUID) (billing.Settings, error)
}

// Service orchestrates table session lifecycle: seat-in, mutation, settlement.
type Service struct {
	store    Store
	orders   OrderSource
	settings SettingsSource
	bus      *events.Bus
	logger   zerolog.Logger
	now      func() time.Time
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store    Store
	Orders   OrderSource
	Settings SettingsSource
	Bus      *events.Bus
	Logger   zerolog.Logger
	Now      func() time.Time
}

// NewService builds a session service.
func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    cfg.Store,
		orders:   cfg.Orders,
		settings: cfg.Settings,
		bus:      cfg.Bus,
		logger:   cfg.Logger,
		now:      now,
	}
}

// OpenParams captures a seat-in request.
type OpenParams struct {
	TableNumber string
	GuestCount  int
	StartTime   *time.Time
}

// Detail is a session together with its live or frozen bill breakdown.
type Detail struct {
	TableSession
	Bill billing.Breakdown `json:"bill"`
}

// Open seats a new table session and emits session.opened.
func (s *Service) Open(ctx context.Context, p OpenParams) (TableSession, error) {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return TableSession{}, errStoreRequired()
	}
	start := s.now().UTC()
	if p.StartTime != nil {
		start = p.StartTime.UTC()
	}
	created, err := s.store.InsertSession(ctx, TableSession{
		StoreID:     store.ID,
		TableNumber: p.TableNumber,
		GuestCount:  p.GuestCount,
		StartTime:   start,
	})
	if err != nil {
		return TableSession{}, err
	}
	if obs.SessionsOpenedTotal != nil {
		obs.SessionsOpenedTotal.WithLabelValues(store.Slug).Inc()
	}
	s.emit(ctx, events.TopicSessionOpened, store.ID, created.ID, map[string]any{
		"sessionId":   created.ID.String(),
		"tableNumber": created.TableNumber,
		"guestCount":  created.GuestCount,
		"startTime":   created.StartTime,
		"adminEmail":  store.AdminEmail,
	})
	return created, nil
}

// Get returns a session with a bill preview. Open sessions are previewed at
// the current instant; closed sessions reuse their frozen end time.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Detail, error) {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return Detail{}, errStoreRequired()
	}
	sess, err := s.store.GetSession(ctx, store.ID, id)
	if err != nil {
		return Detail{}, mapStoreErr(err)
	}
	bd, err := s.computeBill(ctx, store.ID, sess)
	if err != nil {
		return Detail{}, err
	}
	return Detail{TableSession: sess, Bill: bd}, nil
}

// List returns sessions for the store, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]TableSession, int, error) {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return nil, 0, errStoreRequired()
	}
	if f.Status != "" && f.Status != StatusOpen && f.Status != StatusClosed {
		return nil, 0, common.NewAppError("VALIDATION", "status must be open or closed", http.StatusBadRequest, nil)
	}
	items, err := s.store.ListSessions(ctx, store.ID, f)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountSessions(ctx, store.ID, f)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// UpdateGuests changes the guest count of an open session.
func (s *Service) UpdateGuests(ctx context.Context, id uuid.UUID, guests int) (TableSession, error) {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return TableSession{}, errStoreRequired()
	}
	sess, err := s.store.UpdateGuestCount(ctx, store.ID, id, guests)
	if err != nil {
		return TableSession{}, mapStoreErr(err)
	}
	return sess, nil
}

// AssignCast adds a cast seat to an open session.
func (s *Service) AssignCast(ctx context.Context, sessionID, castID uuid.UUID, status billing.CastStatus) (Assignment, error) {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return Assignment{}, errStoreRequired()
	}
	if !status.Valid() {
		return Assignment{}, common.NewAppError("VALIDATION", "unknown cast status", http.StatusBadRequest, nil)
	}
	a, err := s.store.InsertAssignment(ctx, store.ID, sessionID, castID, status)
	if err != nil {
		return Assignment{}, mapStoreErr(err)
	}
	return a, nil
}

// RemoveAssignment detaches a cast seat from an open session.
func (s *Service) RemoveAssignment(ctx context.Context, sessionID, assignmentID uuid.UUID) error {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return errStoreRequired()
	}
	if err := s.store.DeleteAssignment(ctx, store.ID, sessionID, assignmentID); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// Close settles the session: freeze end time, compute the final breakdown,
// persist the itemised totals, emit session.closed. A second close gets 409.
func (s *Service) Close(ctx context.Context, id uuid.UUID) (Detail, error) {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return Detail{}, errStoreRequired()
	}
	sess, err := s.store.GetSession(ctx, store.ID, id)
	if err != nil {
		return Detail{}, mapStoreErr(err)
	}
	if !sess.Open() {
		return Detail{}, common.NewAppError("SESSION_CLOSED", "session is already closed", http.StatusConflict, ErrAlreadyClosed)
	}
	lines, err := s.orders.BillingLines(ctx, sess.ID)
	if err != nil {
		return Detail{}, err
	}
	cfg, err := s.settings.Active(ctx, store.ID)
	if err != nil {
		return Detail{}, err
	}
	end := s.now().UTC()
	view := sess.BillingView()
	view.EndTime = &end
	bd := billing.Compute(view, lines, cfg, end)

	closed, err := s.store.CloseSession(ctx, store.ID, id, end, bd)
	if err != nil {
		return Detail{}, mapStoreErr(err)
	}
	if obs.SessionsClosedTotal != nil {
		obs.SessionsClosedTotal.WithLabelValues(store.Slug).Inc()
	}
	if obs.BillsComputedTotal != nil {
		obs.BillsComputedTotal.WithLabelValues("settlement").Inc()
	}
	if obs.BillTotalYen != nil {
		obs.BillTotalYen.WithLabelValues(store.Slug).Observe(float64(bd.Total))
	}
	s.emit(ctx, events.TopicSessionClosed, store.ID, closed.ID, map[string]any{
		"sessionId":   closed.ID.String(),
		"tableNumber": closed.TableNumber,
		"guestCount":  closed.GuestCount,
		"total":       bd.Total,
		"endTime":     end,
		"adminEmail":  store.AdminEmail,
	})
	return Detail{TableSession: closed, Bill: bd}, nil
}

// Bill returns the breakdown for checkout screens, live for open sessions.
func (s *Service) Bill(ctx context.Context, id uuid.UUID) (billing.Breakdown, error) {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return billing.Breakdown{}, errStoreRequired()
	}
	sess, err := s.store.GetSession(ctx, store.ID, id)
	if err != nil {
		return billing.Breakdown{}, mapStoreErr(err)
	}
	return s.computeBill(ctx, store.ID, sess)
}

func (s *Service) computeBill(ctx context.Context, storeID uuid.UUID, sess TableSession) (billing.Breakdown, error) {
	lines, err := s.orders.BillingLines(ctx, sess.ID)
	if err != nil {
		return billing.Breakdown{}, err
	}
	cfg, err := s.settings.Active(ctx, storeID)
	if err != nil {
		return billing.Breakdown{}, err
	}
	kind := "settlement"
	if sess.Open() {
		kind = "preview"
	}
	if obs.BillsComputedTotal != nil {
		obs.BillsComputedTotal.WithLabelValues(kind).Inc()
	}
	return billing.Compute(sess.BillingView(), lines, cfg, s.now().UTC()), nil
}

// emit publishes the domain event; fanout failures are logged, not surfaced,
// because the state change itself has committed.
func (s *Service) emit(ctx context.Context, topic string, storeID, aggregateID uuid.UUID, payload map[string]any) {
	if s.bus == nil {
		return
	}
	if _, err := s.bus.Emit(ctx, topic, storeID, aggregateID, payload); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Str("aggregate_id", aggregateID.String()).Msg("event fanout incomplete")
	}
}

func errStoreRequired() error {
	return common.NewAppError("STORE_REQUIRED", "store identifier is required", http.StatusBadRequest, nil)
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return common.NewAppError("SESSION_NOT_FOUND", "table session not found", http.StatusNotFound, err)
	case errors.Is(err, ErrAlreadyClosed):
		return common.NewAppError("SESSION_CLOSED", "session is already closed", http.StatusConflict, err)
	default:
		return err
	}
}
