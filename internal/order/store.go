package order

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

// ErrNotFound is returned when the order or its session is missing in the
// caller's store scope.
var ErrNotFound = errors.New("order: not found")

// ErrSessionClosed is returned when a write targets a settled session.
var ErrSessionClosed = errors.New("order: session closed")

// Order is a line item charged to a table session. Amount is the extended
// price (unit price times quantity) so the bill engine only has to sum.
type Order struct {
	ID        uuid.UUID     `json:"id"`
	SessionID uuid.UUID     `json:"sessionId"`
	Label     string        `json:"label"`
	UnitPrice billing.Money `json:"unitPrice"`
	Quantity  int           `json:"quantity"`
	Amount    billing.Money `json:"amount"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Store defines persistence operations for session order lines.
type Store interface {
	InsertOrder(ctx context.Context, storeID uuid.UUID, o Order) (Order, error)
	ListOrders(ctx context.Context, storeID, sessionID uuid.UUID) ([]Order, error)
	DeleteOrder(ctx context.Context, storeID, sessionID, orderID uuid.UUID) error
	ListLines(ctx context.Context, sessionID uuid.UUID) ([]billing.OrderLine, error)
}

type pgStore struct {
	pool *pgxpool.Pool
}

// NewStore builds a Postgres-backed order store.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

// InsertOrder writes a line item, guarded on the parent session being open.
func (s *pgStore) InsertOrder(ctx context.Context, storeID uuid.UUID, o Order) (Order, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO orders (session_id, label, unit_price, quantity, amount)
		SELECT id, $3, $4, $5, $6 FROM table_sessions
		WHERE store_id = $1 AND id = $2 AND status = 'open'
		RETURNING id, session_id, label, unit_price, quantity, amount, created_at`,
		storeID, o.SessionID, o.Label, o.UnitPrice, o.Quantity, o.Amount)
	var out Order
	err := row.Scan(&out.ID, &out.SessionID, &out.Label, &out.UnitPrice, &out.Quantity, &out.Amount, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, s.classifySession(ctx, storeID, o.SessionID)
		}
		return Order{}, fmt.Errorf("insert order: %w", err)
	}
	return out, nil
}

func (s *pgStore) ListOrders(ctx context.Context, storeID, sessionID uuid.UUID) ([]Order, error) {
	if err := s.sessionExists(ctx, storeID, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, label, unit_price, quantity, amount, created_at
		FROM orders
		WHERE session_id = $1
		ORDER BY created_at`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	out := []Order{}
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.SessionID, &o.Label, &o.UnitPrice, &o.Quantity, &o.Amount, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *pgStore) DeleteOrder(ctx context.Context, storeID, sessionID, orderID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM orders o
		USING table_sessions ts
		WHERE o.session_id = ts.id
		  AND ts.store_id = $1 AND ts.id = $2 AND ts.status = 'open'
		  AND o.id = $3`,
		storeID, sessionID, orderID)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if err := s.classifySession(ctx, storeID, sessionID); err != nil {
			return err
		}
		return ErrNotFound
	}
	return nil
}

// ListLines returns the billing view of the session's orders. This feeds the
// bill engine, so it is keyed by session id alone: the caller has already
// resolved the session within its store scope.
func (s *pgStore) ListLines(ctx context.Context, sessionID uuid.UUID) ([]billing.OrderLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT label, amount FROM orders
		WHERE session_id = $1
		ORDER BY created_at`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list order lines: %w", err)
	}
	defer rows.Close()
	out := []billing.OrderLine{}
	for rows.Next() {
		var line billing.OrderLine
		if err := rows.Scan(&line.Label, &line.Amount); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func (s *pgStore) sessionExists(ctx context.Context, storeID, sessionID uuid.UUID) error {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM table_sessions WHERE store_id = $1 AND id = $2`,
		storeID, sessionID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	return nil
}

func (s *pgStore) classifySession(ctx context.Context, storeID, sessionID uuid.UUID) error {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM table_sessions WHERE store_id = $1 AND id = $2`,
		storeID, sessionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("classify session state: %w", err)
	}
	if status != "open" {
		return ErrSessionClosed
	}
	return ErrNotFound
}
