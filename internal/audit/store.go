package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one recorded operator action.
type Entry struct {
	ID        uuid.UUID  `json:"id"`
	StoreID   uuid.UUID  `json:"storeId"`
	StaffID   *uuid.UUID `json:"staffId,omitempty"`
	Method    string     `json:"method"`
	Path      string     `json:"path"`
	Status    int        `json:"status"`
	IP        string     `json:"ip"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Store defines persistence for the operator audit trail.
type Store interface {
	InsertEntry(ctx context.Context, e Entry) error
	ListEntries(ctx context.Context, storeID uuid.UUID, limit, offset int) ([]Entry, error)
	CountEntries(ctx context.Context, storeID uuid.UUID) (int, error)
}

type pgStore struct {
	pool *pgxpool.Pool
}

// NewStore builds a Postgres-backed audit store.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) InsertEntry(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (store_id, staff_id, method, path, status, ip)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.StoreID, e.StaffID, e.Method, e.Path, e.Status, e.IP)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *pgStore) ListEntries(ctx context.Context, storeID uuid.UUID, limit, offset int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, store_id, staff_id, method, path, status, ip, created_at
		FROM audit_log
		WHERE store_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		storeID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()
	out := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.StoreID, &e.StaffID, &e.Method, &e.Path, &e.Status, &e.IP, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *pgStore) CountEntries(ctx context.Context, storeID uuid.UUID) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log WHERE store_id = $1`, storeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}
