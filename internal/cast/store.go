package cast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when the cast row is missing in the caller's store
// scope.
var ErrNotFound = errors.New("cast: not found")

// ErrAlreadyClockedIn is returned when a clock-in finds an open attendance
// record for the cast.
var ErrAlreadyClockedIn = errors.New("cast: already clocked in")

// ErrNotClockedIn is returned when a clock-out finds no open attendance
// record.
var ErrNotClockedIn = errors.New("cast: not clocked in")

// Cast is a roster entry.
type Cast struct {
	ID        uuid.UUID `json:"id"`
	StoreID   uuid.UUID `json:"storeId"`
	Name      string    `json:"name"`
	Nickname  string    `json:"nickname"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Attendance is one shift punch record. ClockOut nil means the cast is still
// on the floor.
type Attendance struct {
	ID       uuid.UUID  `json:"id"`
	CastID   uuid.UUID  `json:"castId"`
	CastName string     `json:"castName"`
	ClockIn  time.Time  `json:"clockIn"`
	ClockOut *time.Time `json:"clockOut,omitempty"`
}

// CastPatch carries optional roster updates.
type CastPatch struct {
	Name     *string
	Nickname *string
	Active   *bool
}

// Store defines persistence for the cast roster and attendance punches.
type Store interface {
	InsertCast(ctx context.Context, c Cast) (Cast, error)
	GetCast(ctx context.Context, storeID, id uuid.UUID) (Cast, error)
	ListCasts(ctx context.Context, storeID uuid.UUID, activeOnly bool) ([]Cast, error)
	UpdateCast(ctx context.Context, storeID, id uuid.UUID, p CastPatch) (Cast, error)
	ClockIn(ctx context.Context, storeID, castID uuid.UUID, at time.Time) (Attendance, error)
	ClockOut(ctx context.Context, storeID, castID uuid.UUID, at time.Time) (Attendance, error)
	ListAttendance(ctx context.Context, storeID uuid.UUID, from, to time.Time) ([]Attendance, error)
}

type pgStore struct {
	pool *pgxpool.Pool
}

// NewStore builds a Postgres-backed cast store.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

const castColumns = `id, store_id, name, nickname, active, created_at, updated_at`

func (s *pgStore) InsertCast(ctx context.Context, c Cast) (Cast, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO casts (store_id, name, nickname, active)
		VALUES ($1, $2, $3, true)
		RETURNING `+castColumns,
		c.StoreID, c.Name, c.Nickname)
	out, err := scanCast(row)
	if err != nil {
		return Cast{}, fmt.Errorf("insert cast: %w", err)
	}
	return out, nil
}

func (s *pgStore) GetCast(ctx context.Context, storeID, id uuid.UUID) (Cast, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+castColumns+` FROM casts WHERE store_id = $1 AND id = $2`,
		storeID, id)
	out, err := scanCast(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cast{}, ErrNotFound
	}
	if err != nil {
		return Cast{}, fmt.Errorf("get cast: %w", err)
	}
	return out, nil
}

func (s *pgStore) ListCasts(ctx context.Context, storeID uuid.UUID, activeOnly bool) ([]Cast, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+castColumns+` FROM casts
		WHERE store_id = $1 AND ($2 = false OR active)
		ORDER BY name`,
		storeID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list casts: %w", err)
	}
	defer rows.Close()
	out := []Cast{}
	for rows.Next() {
		c, err := scanCast(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cast: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *pgStore) UpdateCast(ctx context.Context, storeID, id uuid.UUID, p CastPatch) (Cast, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE casts
		SET name = COALESCE($3, name),
		    nickname = COALESCE($4, nickname),
		    active = COALESCE($5, active),
		    updated_at = now()
		WHERE store_id = $1 AND id = $2
		RETURNING `+castColumns,
		storeID, id, p.Name, p.Nickname, p.Active)
	out, err := scanCast(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cast{}, ErrNotFound
	}
	if err != nil {
		return Cast{}, fmt.Errorf("update cast: %w", err)
	}
	return out, nil
}

// ClockIn opens an attendance record unless one is already open. The guarded
// insert keeps double punches out without a separate lock.
func (s *pgStore) ClockIn(ctx context.Context, storeID, castID uuid.UUID, at time.Time) (Attendance, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO attendance (cast_id, clock_in)
		SELECT c.id, $3 FROM casts c
		WHERE c.store_id = $1 AND c.id = $2
		  AND NOT EXISTS (
			SELECT 1 FROM attendance a WHERE a.cast_id = c.id AND a.clock_out IS NULL
		  )
		RETURNING id, cast_id, clock_in, clock_out`,
		storeID, castID, at)
	var a Attendance
	err := row.Scan(&a.ID, &a.CastID, &a.ClockIn, &a.ClockOut)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetCast(ctx, storeID, castID); getErr != nil {
			return Attendance{}, getErr
		}
		return Attendance{}, ErrAlreadyClockedIn
	}
	if err != nil {
		return Attendance{}, fmt.Errorf("clock in: %w", err)
	}
	return a, nil
}

func (s *pgStore) ClockOut(ctx context.Context, storeID, castID uuid.UUID, at time.Time) (Attendance, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE attendance a
		SET clock_out = $3
		FROM casts c
		WHERE a.cast_id = c.id AND c.store_id = $1 AND c.id = $2
		  AND a.clock_out IS NULL
		RETURNING a.id, a.cast_id, a.clock_in, a.clock_out`,
		storeID, castID, at)
	var a Attendance
	err := row.Scan(&a.ID, &a.CastID, &a.ClockIn, &a.ClockOut)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetCast(ctx, storeID, castID); getErr != nil {
			return Attendance{}, getErr
		}
		return Attendance{}, ErrNotClockedIn
	}
	if err != nil {
		return Attendance{}, fmt.Errorf("clock out: %w", err)
	}
	return a, nil
}

func (s *pgStore) ListAttendance(ctx context.Context, storeID uuid.UUID, from, to time.Time) ([]Attendance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.cast_id, c.name, a.clock_in, a.clock_out
		FROM attendance a
		JOIN casts c ON c.id = a.cast_id
		WHERE c.store_id = $1 AND a.clock_in >= $2 AND a.clock_in < $3
		ORDER BY a.clock_in`,
		storeID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()
	out := []Attendance{}
	for rows.Next() {
		var a Attendance
		if err := rows.Scan(&a.ID, &a.CastID, &a.CastName, &a.ClockIn, &a.ClockOut); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanCast(row pgx.Row) (Cast, error) {
	var c Cast
	err := row.Scan(&c.ID, &c.StoreID, &c.Name, &c.Nickname, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}
