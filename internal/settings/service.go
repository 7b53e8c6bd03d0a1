package settings

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aoi-nmz/backend-club/internal/billing"
	"github.com/aoi-nmz/backend-club/internal/cache"
	"github.com/aoi-nmz/backend-club/internal/common"
	"github.com/aoi-nmz/backend-club/internal/tenant"
)

// Service reads and writes per-store billing settings with a read-through
// Redis cache. The cache is invalidated on write, never updated in place, so
// a failed Set can at worst cause one extra Postgres round trip.
type Service struct {
	store  Store
	cache  *cache.JSON
	logger zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store  Store
	Cache  *cache.JSON
	Logger zerolog.Logger
}

// NewService builds a settings service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{store: cfg.Store, cache: cfg.Cache, logger: cfg.Logger}
}

// Get returns the store's billing settings.
func (s *Service) Get(ctx context.Context) (BillSettings, error) {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return BillSettings{}, errStoreRequired()
	}
	return s.load(ctx, store.ID, cache.KeyBillSettings(ctx))
}

// UpdateParams carries validated settings fields.
type UpdateParams struct {
	HourlyCharge    billing.Money
	SetDurationMin  int
	ExtensionFee30m billing.Money
	ShimeFee        billing.Money
	JounaiFee       billing.Money
	ServiceRateBps  int
	TaxRateBps      int
}

// Update replaces the store's billing settings and invalidates the cache.
func (s *Service) Update(ctx context.Context, p UpdateParams) (BillSettings, error) {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return BillSettings{}, errStoreRequired()
	}
	updated, err := s.store.UpsertBillSettings(ctx, BillSettings{
		StoreID:         store.ID,
		HourlyCharge:    p.HourlyCharge,
		SetDurationMin:  p.SetDurationMin,
		ExtensionFee30m: p.ExtensionFee30m,
		ShimeFee:        p.ShimeFee,
		JounaiFee:       p.JounaiFee,
		ServiceRateBps:  p.ServiceRateBps,
		TaxRateBps:      p.TaxRateBps,
	})
	if err != nil {
		return BillSettings{}, err
	}
	if err := s.cache.Delete(ctx, cache.KeyBillSettings(ctx)); err != nil {
		s.logger.Warn().Err(err).Msg("settings cache invalidation failed")
	}
	return updated, nil
}

// Active satisfies the session service's settings source, returning the
// engine view of the store's settings.
func (s *Service) Active(ctx context.Context, storeID uuid.UUID) (billing.Settings, error) {
	key := ""
	if _, ok := tenant.From(ctx); ok {
		key = cache.KeyBillSettings(ctx)
	}
	row, err := s.load(ctx, storeID, key)
	if err != nil {
		return billing.Settings{}, err
	}
	return row.Engine(), nil
}

func (s *Service) load(ctx context.Context, storeID uuid.UUID, key string) (BillSettings, error) {
	var cached BillSettings
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, nil
	} else if err != nil {
		s.logger.Warn().Err(err).Msg("settings cache read failed")
	}
	row, err := s.store.GetBillSettings(ctx, storeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return BillSettings{}, common.NewAppError("SETTINGS_NOT_FOUND", "billing settings are not configured for this store", http.StatusNotFound, err)
		}
		return BillSettings{}, err
	}
	if err := s.cache.Set(ctx, key, row); err != nil {
		s.logger.Warn().Err(err).Msg("settings cache write failed")
	}
	return row, nil
}

func errStoreRequired() error {
	return common.NewAppError("STORE_REQUIRED", "store identifier is required", http.StatusBadRequest, nil)
}
