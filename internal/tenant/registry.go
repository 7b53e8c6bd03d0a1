package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"github.com/aoi-nmz/backend-club/internal/common"
)

const recordContextKey contextKey = "tenant.record"

// ErrUnknownStore is returned when the slug or id does not match a store row.
var ErrUnknownStore = errors.New("tenant: unknown store")

// Record is the resolved store row behind a tenant slug.
type Record struct {
	ID         uuid.UUID `json:"id"`
	Slug       string    `json:"slug"`
	Name       string    `json:"name"`
	AdminEmail string    `json:"adminEmail"`
	Timezone   string    `json:"timezone"`
}

// Registry resolves store slugs and ids to store records, caching lookups in
// Redis so the resolution does not hit Postgres on every request.
type Registry struct {
	Pool  *pgxpool.Pool
	Cache *redis.Client
	TTL   time.Duration
}

// Lookup resolves a slug or UUID string to a store record.
func (g *Registry) Lookup(ctx context.Context, slugOrID string) (Record, error) {
	if g == nil || g.Pool == nil {
		return Record{}, errors.New("tenant: registry not configured")
	}
	cacheKey := "tenant:store:" + slugOrID
	if g.Cache != nil {
		if raw, err := g.Cache.Get(ctx, cacheKey).Result(); err == nil {
			var rec Record
			if json.Unmarshal([]byte(raw), &rec) == nil {
				return rec, nil
			}
		}
	}
	var rec Record
	var row pgx.Row
	if id, err := uuid.Parse(slugOrID); err == nil {
		row = g.Pool.QueryRow(ctx, `SELECT id, slug, name, admin_email, timezone FROM stores WHERE id = $1`, id)
	} else {
		row = g.Pool.QueryRow(ctx, `SELECT id, slug, name, admin_email, timezone FROM stores WHERE slug = $1`, slugOrID)
	}
	if err := row.Scan(&rec.ID, &rec.Slug, &rec.Name, &rec.AdminEmail, &rec.Timezone); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrUnknownStore
		}
		return Record{}, err
	}
	if g.Cache != nil {
		ttl := g.TTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		if raw, err := json.Marshal(rec); err == nil {
			_ = g.Cache.Set(ctx, cacheKey, raw, ttl).Err()
		}
	}
	return rec, nil
}

// Middleware resolves the store slug placed in context by the Resolver into a
// full record, rejecting requests for unknown stores.
func (g *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slug, ok := From(r.Context())
		if !ok {
			common.JSONError(w, http.StatusBadRequest, "STORE_REQUIRED", "store identifier is required", nil)
			return
		}
		rec, err := g.Lookup(r.Context(), slug)
		if err != nil {
			if errors.Is(err, ErrUnknownStore) {
				common.JSONError(w, http.StatusNotFound, "STORE_NOT_FOUND", "unknown store", nil)
				return
			}
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "store lookup failed", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithRecord(r.Context(), rec)))
	})
}

// WithRecord stores the resolved store record into the context.
func WithRecord(ctx context.Context, rec Record) context.Context {
	return context.WithValue(ctx, recordContextKey, rec)
}

// RecordFrom extracts the resolved store record from the context.
func RecordFrom(ctx context.Context) (Record, bool) {
	if ctx == nil {
		return Record{}, false
	}
	rec, ok := ctx.Value(recordContextKey).(Record)
	if !ok || rec.ID == uuid.Nil {
		return Record{}, false
	}
	return rec, true
}
