package cache

import (
	"context"

	"github.com/aoi-nmz/backend-club/internal/tenant"
)

// KeyBillSettings returns a per-store cache key for the active billing settings.
func KeyBillSettings(ctx context.Context) string {
	id, ok := tenant.From(ctx)
	if !ok {
		return "settings:billing"
	}
	return id + ":settings:billing"
}

// KeySalesReport returns a per-store key for a sales report over a date range.
func KeySalesReport(ctx context.Context, from, to string) string {
	base := "report:sales:" + from + ":" + to
	id, ok := tenant.From(ctx)
	if !ok {
		return base
	}
	return id + ":" + base
}
