package report

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aoi-nmz/backend-club/internal/billing"
	"github.com/aoi-nmz/backend-club/internal/cache"
	"github.com/aoi-nmz/backend-club/internal/common"
	"github.com/aoi-nmz/backend-club/internal/tenant"
)

// SalesReport is the cached response shape for a sales range query.
type SalesReport struct {
	From       string        `json:"from"`
	To         string        `json:"to"`
	Days       []DailySales  `json:"days"`
	TotalSales billing.Money `json:"totalSales"`
}

// Service provides cached access to billing aggregates.
type Service struct {
	store        Store
	cache        *cache.JSON
	logger       zerolog.Logger
	defaultRange int
	now          func() time.Time
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store        Store
	Cache        *cache.JSON
	Logger       zerolog.Logger
	DefaultRange int
	Now          func() time.Time
}

// NewService builds a report service.
func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	defaultRange := cfg.DefaultRange
	if defaultRange <= 0 {
		defaultRange = 7
	}
	return &Service{
		store:        cfg.Store,
		cache:        cfg.Cache,
		logger:       cfg.Logger,
		defaultRange: defaultRange,
		now:          now,
	}
}

// Sales returns daily settled totals between from and to, inclusive of from
// and exclusive of the day after to. Empty bounds default to the trailing
// week.
func (s *Service) Sales(ctx context.Context, fromStr, toStr string) (SalesReport, error) {
	store, ok := tenant.RecordFrom(ctx)
	if !ok {
		return SalesReport{}, common.NewAppError("STORE_REQUIRED", "store identifier is required", http.StatusBadRequest, nil)
	}
	loc, err := time.LoadLocation(store.Timezone)
	if err != nil {
		loc = time.UTC
	}

	to := s.now().In(loc)
	from := to.AddDate(0, 0, -s.defaultRange+1)
	if toStr != "" {
		if to, err = time.ParseInLocation("2006-01-02", toStr, loc); err != nil {
			return SalesReport{}, errBadDate("to", err)
		}
	}
	if fromStr != "" {
		if from, err = time.ParseInLocation("2006-01-02", fromStr, loc); err != nil {
			return SalesReport{}, errBadDate("from", err)
		}
	}
	fromDay := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	toDay := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	if !fromDay.Before(toDay) {
		return SalesReport{}, common.NewAppError("VALIDATION", "from must not be after to", http.StatusBadRequest, nil)
	}

	key := cache.KeySalesReport(ctx, fromDay.Format("2006-01-02"), to.Format("2006-01-02"))
	var cached SalesReport
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, nil
	} else if err != nil {
		s.logger.Warn().Err(err).Msg("report cache read failed")
	}

	days, err := s.store.SalesByDay(ctx, store.ID, fromDay.UTC(), toDay.UTC(), loc.String())
	if err != nil {
		return SalesReport{}, err
	}
	out := SalesReport{
		From: fromDay.Format("2006-01-02"),
		To:   to.Format("2006-01-02"),
		Days: days,
	}
	for _, d := range days {
		out.TotalSales += d.Sales
	}
	if err := s.cache.Set(ctx, key, out); err != nil {
		s.logger.Warn().Err(err).Msg("report cache write failed")
	}
	return out, nil
}

func errBadDate(field string, err error) error {
	return common.NewAppError("VALIDATION", field+" must be YYYY-MM-DD", http.StatusBadRequest, err)
}
