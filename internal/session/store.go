package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aoi-nmz/backend-club/internal/billing"
)

// ErrNotFound is returned when a session or assignment row does not exist in
// the caller's store scope.
var ErrNotFound = errors.New("session: not found")

// ErrAlreadyClosed is returned when a close races another close or targets a
// settled session.
var ErrAlreadyClosed = errors.New("session: already closed")

// ListFilter narrows a session listing.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// Store defines the persistence operations for table sessions.
type Store interface {
	InsertSession(ctx context.Context, s TableSession) (TableSession, error)
	GetSession(ctx context.Context, storeID, id uuid.UUID) (TableSession, error)
	ListSessions(ctx context.Context, storeID uuid.UUID, f ListFilter) ([]TableSession, error)
	CountSessions(ctx context.Context, storeID uuid.UUID, f ListFilter) (int, error)
	UpdateGuestCount(ctx context.Context, storeID, id uuid.UUID, guests int) (TableSession, error)
	InsertAssignment(ctx context.Context, storeID, sessionID uuid.UUID, castID uuid.UUID, status billing.CastStatus) (Assignment, error)
	DeleteAssignment(ctx context.Context, storeID, sessionID, assignmentID uuid.UUID) error
	CloseSession(ctx context.Context, storeID, id uuid.UUID, endTime time.Time, bd billing.Breakdown) (TableSession, error)
}

type pgStore struct {
	pool *pgxpool.Pool
}

// NewStore builds a Postgres-backed session store.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

const sessionColumns = `id, store_id, table_number, guest_count, status, start_time, end_time, subtotal, total, created_at, updated_at`

func (s *pgStore) InsertSession(ctx context.Context, in TableSession) (TableSession, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO table_sessions (store_id, table_number, guest_count, status, start_time)
		VALUES ($1, $2, $3, 'open', $4)
		RETURNING `+sessionColumns,
		in.StoreID, in.TableNumber, in.GuestCount, in.StartTime)
	out, err := scanSession(row)
	if err != nil {
		return TableSession{}, fmt.Errorf("insert table session: %w", err)
	}
	out.Assignments = []Assignment{}
	return out, nil
}

func (s *pgStore) GetSession(ctx context.Context, storeID, id uuid.UUID) (TableSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM table_sessions
		WHERE store_id = $1 AND id = $2`,
		storeID, id)
	out, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TableSession{}, ErrNotFound
		}
		return TableSession{}, fmt.Errorf("get table session: %w", err)
	}
	out.Assignments, err = s.listAssignments(ctx, id)
	if err != nil {
		return TableSession{}, err
	}
	return out, nil
}

func (s *pgStore) ListSessions(ctx context.Context, storeID uuid.UUID, f ListFilter) ([]TableSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM table_sessions
		WHERE store_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY start_time DESC
		LIMIT $3 OFFSET $4`,
		storeID, f.Status, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list table sessions: %w", err)
	}
	defer rows.Close()
	out := make([]TableSession, 0, f.Limit)
	for rows.Next() {
		item, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan table session: %w", err)
		}
		item.Assignments = []Assignment{}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *pgStore) CountSessions(ctx context.Context, storeID uuid.UUID, f ListFilter) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM table_sessions
		WHERE store_id = $1 AND ($2 = '' OR status = $2)`,
		storeID, f.Status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count table sessions: %w", err)
	}
	return n, nil
}

func (s *pgStore) UpdateGuestCount(ctx context.Context, storeID, id uuid.UUID, guests int) (TableSession, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE table_sessions
		SET guest_count = $3, updated_at = now()
		WHERE store_id = $1 AND id = $2 AND status = 'open'
		RETURNING `+sessionColumns,
		storeID, id, guests)
	out, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TableSession{}, s.classifyMissing(ctx, storeID, id)
		}
		return TableSession{}, fmt.Errorf("update guest count: %w", err)
	}
	out.Assignments, err = s.listAssignments(ctx, id)
	if err != nil {
		return TableSession{}, err
	}
	return out, nil
}

func (s *pgStore) InsertAssignment(ctx context.Context, storeID, sessionID uuid.UUID, castID uuid.UUID, status billing.CastStatus) (Assignment, error) {
	var a Assignment
	err := s.pool.QueryRow(ctx, `
		INSERT INTO session_assignments (session_id, cast_id, status)
		SELECT id, $3, $4 FROM table_sessions
		WHERE store_id = $1 AND id = $2 AND status = 'open'
		RETURNING id, cast_id, status, created_at`,
		storeID, sessionID, castID, string(status)).Scan(&a.ID, &a.CastID, &a.Status, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, s.classifyMissing(ctx, storeID, sessionID)
		}
		return Assignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	return a, nil
}

func (s *pgStore) DeleteAssignment(ctx context.Context, storeID, sessionID, assignmentID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM session_assignments a
		USING table_sessions ts
		WHERE a.session_id = ts.id
		  AND ts.store_id = $1 AND ts.id = $2 AND ts.status = 'open'
		  AND a.id = $3`,
		storeID, sessionID, assignmentID)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMissing(ctx, storeID, sessionID)
	}
	return nil
}

// CloseSession freezes the session with a single guarded UPDATE. The status
// predicate makes concurrent closes race safely: the loser matches zero rows.
func (s *pgStore) CloseSession(ctx context.Context, storeID, id uuid.UUID, endTime time.Time, bd billing.Breakdown) (TableSession, error) {
	breakdown, err := json.Marshal(bd)
	if err != nil {
		return TableSession{}, fmt.Errorf("encode breakdown: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE table_sessions
		SET status = 'closed', end_time = $3, subtotal = $4, total = $5,
		    breakdown = $6, updated_at = now()
		WHERE store_id = $1 AND id = $2 AND status = 'open'
		RETURNING `+sessionColumns,
		storeID, id, endTime, bd.Subtotal, bd.Total, breakdown)
	out, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TableSession{}, s.classifyMissing(ctx, storeID, id)
		}
		return TableSession{}, fmt.Errorf("close table session: %w", err)
	}
	out.Assignments, err = s.listAssignments(ctx, id)
	if err != nil {
		return TableSession{}, err
	}
	return out, nil
}

// classifyMissing distinguishes a session that does not exist from one that is
// already closed so handlers can answer 404 vs 409.
func (s *pgStore) classifyMissing(ctx context.Context, storeID, id uuid.UUID) error {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM table_sessions WHERE store_id = $1 AND id = $2`,
		storeID, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("classify session state: %w", err)
	}
	if status != StatusOpen {
		return ErrAlreadyClosed
	}
	return ErrNotFound
}

func (s *pgStore) listAssignments(ctx context.Context, sessionID uuid.UUID) ([]Assignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, cast_id, status, created_at
		FROM session_assignments
		WHERE session_id = $1
		ORDER BY created_at`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()
	out := []Assignment{}
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.CastID, &a.Status, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (TableSession, error) {
	var ts TableSession
	err := row.Scan(&ts.ID, &ts.StoreID, &ts.TableNumber, &ts.GuestCount, &ts.Status,
		&ts.StartTime, &ts.EndTime, &ts.Subtotal, &ts.Total, &ts.CreatedAt, &ts.UpdatedAt)
	return ts, err
}
