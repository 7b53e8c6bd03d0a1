package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aoi-nmz/backend-club/internal/billing"
)

// ErrNotFound is returned when a store has no billing settings row yet.
var ErrNotFound = errors.New("settings: not found")

// BillSettings is the per-store pricing configuration row. Rates are basis
// points so percentage floors stay exact integer arithmetic.
type BillSettings struct {
	StoreID         uuid.UUID     `json:"storeId"`
	HourlyCharge    billing.Money `json:"hourlyCharge"`
	SetDurationMin  int           `json:"setDurationMinutes"`
	ExtensionFee30m billing.Money `json:"extensionFee30Min"`
	ShimeFee        billing.Money `json:"shimeFee"`
	JounaiFee       billing.Money `json:"jounaiFee"`
	ServiceRateBps  int           `json:"serviceRateBps"`
	TaxRateBps      int           `json:"taxRateBps"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Engine maps the row to the shape the bill calculator consumes.
func (b BillSettings) Engine() billing.Settings {
	return billing.Settings{
		HourlyCharge:    b.HourlyCharge,
		SetDurationMin:  b.SetDurationMin,
		ExtensionFee30m: b.ExtensionFee30m,
		ShimeFee:        b.ShimeFee,
		JounaiFee:       b.JounaiFee,
		ServiceRateBps:  b.ServiceRateBps,
		TaxRateBps:      b.TaxRateBps,
	}
}

// Store defines persistence for billing settings.
type Store interface {
	GetBillSettings(ctx context.Context, storeID uuid.UUID) (BillSettings, error)
	UpsertBillSettings(ctx context.Context, s BillSettings) (BillSettings, error)
}

type pgStore struct {
	pool *pgxpool.Pool
}

// NewStore builds a Postgres-backed settings store.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) GetBillSettings(ctx context.Context, storeID uuid.UUID) (BillSettings, error) {
	var b BillSettings
	err := s.pool.QueryRow(ctx, `
		SELECT store_id, hourly_charge, set_duration_min, extension_fee_30m,
		       shime_fee, jounai_fee, service_rate_bps, tax_rate_bps, updated_at
		FROM bill_settings
		WHERE store_id = $1`,
		storeID).Scan(&b.StoreID, &b.HourlyCharge, &b.SetDurationMin, &b.ExtensionFee30m,
		&b.ShimeFee, &b.JounaiFee, &b.ServiceRateBps, &b.TaxRateBps, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return BillSettings{}, ErrNotFound
	}
	if err != nil {
		return BillSettings{}, fmt.Errorf("get bill settings: %w", err)
	}
	return b, nil
}

// UpsertBillSettings keeps exactly one active settings row per store.
func (s *pgStore) UpsertBillSettings(ctx context.Context, in BillSettings) (BillSettings, error) {
	var b BillSettings
	err := s.pool.QueryRow(ctx, `
		INSERT INTO bill_settings (store_id, hourly_charge, set_duration_min, extension_fee_30m,
		                           shime_fee, jounai_fee, service_rate_bps, tax_rate_bps)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (store_id) DO UPDATE SET
			hourly_charge = EXCLUDED.hourly_charge,
			set_duration_min = EXCLUDED.set_duration_min,
			extension_fee_30m = EXCLUDED.extension_fee_30m,
			shime_fee = EXCLUDED.shime_fee,
			jounai_fee = EXCLUDED.jounai_fee,
			service_rate_bps = EXCLUDED.service_rate_bps,
			tax_rate_bps = EXCLUDED.tax_rate_bps,
			updated_at = now()
		RETURNING store_id, hourly_charge, set_duration_min, extension_fee_30m,
		          shime_fee, jounai_fee, service_rate_bps, tax_rate_bps, updated_at`,
		in.StoreID, in.HourlyCharge, in.SetDurationMin, in.ExtensionFee30m,
		in.ShimeFee, in.JounaiFee, in.ServiceRateBps, in.TaxRateBps).
		Scan(&b.StoreID, &b.HourlyCharge, &b.SetDurationMin, &b.ExtensionFee30m,
			&b.ShimeFee, &b.JounaiFee, &b.ServiceRateBps, &b.TaxRateBps, &b.UpdatedAt)
	if err != nil {
		return BillSettings{}, fmt.Errorf("upsert bill settings: %w", err)
	}
	return b, nil
}
