package order

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aoi-nmz/backend-club/internal/billing"
	"github.com/aoi-nmz/backend-club/internal/common"
	"github.com/aoi-nmz/backend-club/internal/events"
	"github.com/aoi-nmz/backend-club/internal/obs"
	"github.com/aoi-nmz/backend-club/internal/tenant"
)

// Service manages order lines attached to open table sessions.
type Service struct {
	store  Store
	bus    *events.Bus
	logger zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store  Store
	Bus    *events.Bus
	Logger zerolog.Logger
}

// NewService builds an order service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{store: cfg.Store, bus: cfg.Bus, logger: cfg.Logger}
}

// AddParams captures a new order line.
type AddParams struct {
	Label     string
	UnitPrice billing.Money
	Quantity  int
}

// Add charges a line item to an open session and emits order.created.
func (s *Service) Add(ctx context.Context, sessionID uuid.UUID, p AddParams) (Order, error) {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return Order{}, errStoreRequired()
	}
	created, err := s.store.InsertOrder(ctx, store.ID, Order{
		SessionID: sessionID,
		Label:     p.Label,
		UnitPrice: p.UnitPrice,
		Quantity:  p.Quantity,
		Amount:    p.UnitPrice * billing.Money(p.Quantity),
	})
	if err != nil {
		return Order{}, mapStoreErr(err)
	}
	if obs.OrdersPlacedTotal != nil {
		obs.OrdersPlacedTotal.WithLabelValues(store.Slug).Inc()
	}
	if s.bus != nil {
		_, emitErr := s.bus.Emit(ctx, events.TopicOrderCreated, store.ID, created.ID, map[string]any{
			"orderId":    created.ID.String(),
			"sessionId":  created.SessionID.String(),
			"label":      created.Label,
			"amount":     created.Amount,
			"adminEmail": store.AdminEmail,
		})
		if emitErr != nil {
			s.logger.Warn().Err(emitErr).Str("order_id", created.ID.String()).Msg("event fanout incomplete")
		}
	}
	return created, nil
}

// List returns the session's order lines.
func (s *Service) List(ctx context.Context, sessionID uuid.UUID) ([]Order, error) {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return nil, errStoreRequired()
	}
	items, err := s.store.ListOrders(ctx, store.ID, sessionID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return items, nil
}

// Remove voids a line item; only open sessions accept removals.
func (s *Service) Remove(ctx context.Context, sessionID, orderID uuid.UUID) error {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return errStoreRequired()
	}
	if err := s.store.DeleteOrder(ctx, store.ID, sessionID, orderID); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// BillingLines satisfies the session service's order source.
func (s *Service) BillingLines(ctx context.Context, sessionID uuid.UUID) ([]billing.OrderLine, error) {
	return s.store.ListLines(ctx, sessionID)
}

func errStoreRequired() error {
	return common.NewAppError("STORE_REQUIRED", "store identifier is required", http.StatusBadRequest, nil)
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return common.NewAppError("ORDER_NOT_FOUND", "order or session not found", http.StatusNotFound, err)
	case errors.Is(err, ErrSessionClosed):
		return common.NewAppError("SESSION_CLOSED", "session is already closed", http.StatusConflict, err)
	default:
		return err
	}
}
