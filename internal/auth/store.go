package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StaffRecord is the staff row as stored, password hash included.
type StaffRecord struct {
	ID           uuid.UUID
	StoreID      uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	Roles        []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SessionRecord is one refresh-token session row. RefreshToken holds the
// sha256 digest, never the raw token.
type SessionRecord struct {
	ID           uuid.UUID
	StaffID      uuid.UUID
	RefreshToken string
	UserAgent    string
	IP           string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Store defines the persistence operations the auth service needs.
type Store interface {
	CreateStaff(ctx context.Context, rec StaffRecord) (StaffRecord, error)
	GetStaffByEmail(ctx context.Context, storeID uuid.UUID, email string) (StaffRecord, error)
	GetStaffByID(ctx context.Context, id uuid.UUID) (StaffRecord, error)

	CreateSession(ctx context.Context, rec SessionRecord) (SessionRecord, error)
	GetSessionByToken(ctx context.Context, tokenHash string) (SessionRecord, error)
	RotateSessionToken(ctx context.Context, sessionID uuid.UUID, tokenHash string, expiresAt time.Time) error
	DeleteSessionByToken(ctx context.Context, tokenHash string) error
	DeleteSessionsByStaff(ctx context.Context, staffID uuid.UUID) error
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

var errPoolUnavailable = errors.New("auth: pool not configured")

func (s *pgStore) CreateStaff(ctx context.Context, rec StaffRecord) (StaffRecord, error) {
	if s == nil || s.pool == nil {
		return StaffRecord{}, errPoolUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO staff (store_id, name, email, password_hash, roles)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, store_id, name, email, password_hash, roles, created_at, updated_at`,
		rec.StoreID, rec.Name, rec.Email, rec.PasswordHash, rec.Roles)
	var out StaffRecord
	if err := row.Scan(&out.ID, &out.StoreID, &out.Name, &out.Email, &out.PasswordHash, &out.Roles, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return StaffRecord{}, err
	}
	return out, nil
}

func (s *pgStore) GetStaffByEmail(ctx context.Context, storeID uuid.UUID, email string) (StaffRecord, error) {
	if s == nil || s.pool == nil {
		return StaffRecord{}, errPoolUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT id, store_id, name, email, password_hash, roles, created_at, updated_at
FROM staff WHERE store_id = $1 AND email = $2`, storeID, email)
	var out StaffRecord
	if err := row.Scan(&out.ID, &out.StoreID, &out.Name, &out.Email, &out.PasswordHash, &out.Roles, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return StaffRecord{}, err
	}
	return out, nil
}

func (s *pgStore) GetStaffByID(ctx context.Context, id uuid.UUID) (StaffRecord, error) {
	if s == nil || s.pool == nil {
		return StaffRecord{}, errPoolUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT id, store_id, name, email, password_hash, roles, created_at, updated_at
FROM staff WHERE id = $1`, id)
	var out StaffRecord
	if err := row.Scan(&out.ID, &out.StoreID, &out.Name, &out.Email, &out.PasswordHash, &out.Roles, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return StaffRecord{}, err
	}
	return out, nil
}

func (s *pgStore) CreateSession(ctx context.Context, rec SessionRecord) (SessionRecord, error) {
	if s == nil || s.pool == nil {
		return SessionRecord{}, errPoolUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO staff_sessions (staff_id, refresh_token, user_agent, ip, expires_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, staff_id, refresh_token, user_agent, ip, expires_at, created_at`,
		rec.StaffID, rec.RefreshToken, rec.UserAgent, rec.IP, rec.ExpiresAt)
	var out SessionRecord
	if err := row.Scan(&out.ID, &out.StaffID, &out.RefreshToken, &out.UserAgent, &out.IP, &out.ExpiresAt, &out.CreatedAt); err != nil {
		return SessionRecord{}, err
	}
	return out, nil
}

func (s *pgStore) GetSessionByToken(ctx context.Context, tokenHash string) (SessionRecord, error) {
	if s == nil || s.pool == nil {
		return SessionRecord{}, errPoolUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT id, staff_id, refresh_token, user_agent, ip, expires_at, created_at
FROM staff_sessions WHERE refresh_token = $1`, tokenHash)
	var out SessionRecord
	if err := row.Scan(&out.ID, &out.StaffID, &out.RefreshToken, &out.UserAgent, &out.IP, &out.ExpiresAt, &out.CreatedAt); err != nil {
		return SessionRecord{}, err
	}
	return out, nil
}

func (s *pgStore) RotateSessionToken(ctx context.Context, sessionID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	if s == nil || s.pool == nil {
		return errPoolUnavailable
	}
	_, err := s.pool.Exec(ctx, `UPDATE staff_sessions SET refresh_token = $2, expires_at = $3 WHERE id = $1`,
		sessionID, tokenHash, expiresAt)
	return err
}

func (s *pgStore) DeleteSessionByToken(ctx context.Context, tokenHash string) error {
	if s == nil || s.pool == nil {
		return errPoolUnavailable
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM staff_sessions WHERE refresh_token = $1`, tokenHash)
	return err
}

func (s *pgStore) DeleteSessionsByStaff(ctx context.Context, staffID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return errPoolUnavailable
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM staff_sessions WHERE staff_id = $1`, staffID)
	return err
}
