package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aoi-nmz/backend-club/internal/billing"
)

// DailySales is one working day's settled totals.
type DailySales struct {
	Date          string        `json:"date"`
	SessionsCount int           `json:"sessionsCount"`
	GuestCount    int           `json:"guestCount"`
	Sales         billing.Money `json:"sales"`
}

// Store defines the aggregate queries behind operator reports.
type Store interface {
	SalesByDay(ctx context.Context, storeID uuid.UUID, from, to time.Time, tz string) ([]DailySales, error)
}

type pgStore struct {
	pool *pgxpool.Pool
}

// NewStore builds a Postgres-backed report store.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

// SalesByDay aggregates closed sessions into per-day totals. Days are bucketed
// in the store timezone so a 01:00 settlement lands on the night it belongs to
// only if the operator runs on calendar days; working-day offsets stay a
// presentation concern.
func (s *pgStore) SalesByDay(ctx context.Context, storeID uuid.UUID, from, to time.Time, tz string) ([]DailySales, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT to_char(end_time AT TIME ZONE $4, 'YYYY-MM-DD') AS day,
		       COUNT(*), COALESCE(SUM(guest_count), 0), COALESCE(SUM(total), 0)
		FROM table_sessions
		WHERE store_id = $1 AND status = 'closed'
		  AND end_time >= $2 AND end_time < $3
		GROUP BY day
		ORDER BY day`,
		storeID, from, to, tz)
	if err != nil {
		return nil, fmt.Errorf("sales by day: %w", err)
	}
	defer rows.Close()
	out := []DailySales{}
	for rows.Next() {
		var d DailySales
		if err := rows.Scan(&d.Date, &d.SessionsCount, &d.GuestCount, &d.Sales); err != nil {
			return nil, fmt.Errorf("scan daily sales: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
