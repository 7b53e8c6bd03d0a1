package notify

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aoi-nmz/backend-club/internal/events"
)

// Delivery lifecycle states.
const (
	StatusPending    = "pending"
	StatusDelivering = "delivering"
	StatusDelivered  = "delivered"
	StatusFailed     = "failed"
	StatusDLQ        = "dlq"
)

// Endpoint is a webhook destination registered by a store operator.
type Endpoint struct {
	ID        uuid.UUID `json:"id"`
	StoreID   uuid.UUID `json:"storeId"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Active    bool      `json:"active"`
	Topics    []string  `json:"topics"`
	CreatedAt time.Time `json:"createdAt"`
}

// Delivery is one attempt series of an event against an endpoint.
type Delivery struct {
	ID             uuid.UUID  `json:"id"`
	EndpointID     uuid.UUID  `json:"endpointId"`
	EventID        uuid.UUID  `json:"eventId"`
	Status         string     `json:"status"`
	Attempt        int32      `json:"attempt"`
	MaxAttempt     int32      `json:"maxAttempt"`
	NextAttemptAt  time.Time  `json:"nextAttemptAt"`
	LastError      *string    `json:"lastError,omitempty"`
	ResponseStatus *int32     `json:"responseStatus,omitempty"`
	ResponseBody   *string    `json:"responseBody,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
}

// EndpointParams carries the mutable fields for endpoint create/update.
type EndpointParams struct {
	StoreID uuid.UUID
	Name    string
	URL     string
	Secret  string
	Active  bool
	Topics  []string
}

// DeliveryFilter narrows delivery listings.
type DeliveryFilter struct {
	EndpointID uuid.UUID
	EventID    uuid.UUID
	Status     string
	Limit      int
	Offset     int
}

// Store defines the persistence operations required for webhook management.
type Store interface {
	CreateWebhookEndpoint(ctx context.Context, arg EndpointParams) (Endpoint, error)
	UpdateWebhookEndpoint(ctx context.Context, id uuid.UUID, arg EndpointParams) (Endpoint, error)
	GetWebhookEndpoint(ctx context.Context, id uuid.UUID) (Endpoint, error)
	ListWebhookEndpoints(ctx context.Context, storeID uuid.UUID, limit, offset int) ([]Endpoint, error)
	DeleteWebhookEndpoint(ctx context.Context, id uuid.UUID) error
	ListActiveEndpointsForTopic(ctx context.Context, storeID uuid.UUID, topic string) ([]Endpoint, error)

	EnqueueDelivery(ctx context.Context, endpointID, eventID uuid.UUID, maxAttempt int32) (Delivery, error)
	DequeueDueDeliveries(ctx context.Context, limit int32) ([]Delivery, error)
	MarkDelivering(ctx context.Context, id uuid.UUID) error
	MarkDelivered(ctx context.Context, id uuid.UUID, status int32, body string) error
	MarkFailedWithBackoff(ctx context.Context, id uuid.UUID, delaySec int32, lastError string) error
	MoveToDLQ(ctx context.Context, id uuid.UUID, reason string) error
	GetDeliveryByID(ctx context.Context, id uuid.UUID) (Delivery, error)
	ResetDeliveryForReplay(ctx context.Context, id uuid.UUID) (Delivery, error)
	ListWebhookDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, error)
	CountWebhookDeliveries(ctx context.Context, filter DeliveryFilter) (int64, error)

	GetDomainEvent(ctx context.Context, id uuid.UUID) (events.Event, error)
	MarkEventNotified(ctx context.Context, id uuid.UUID) error
}

// ErrStoreUnavailable indicates the notify store dependency is not configured.
var ErrStoreUnavailable = errors.New("notify: store unavailable")

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const endpointColumns = `id, store_id, name, url, secret, active, topics, created_at`

func scanEndpoint(row pgx.Row) (Endpoint, error) {
	var ep Endpoint
	if err := row.Scan(&ep.ID, &ep.StoreID, &ep.Name, &ep.URL, &ep.Secret, &ep.Active, &ep.Topics, &ep.CreatedAt); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

func (s *pgStore) CreateWebhookEndpoint(ctx context.Context, arg EndpointParams) (Endpoint, error) {
	if s == nil || s.pool == nil {
		return Endpoint{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO webhook_endpoints (store_id, name, url, secret, active, topics)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+endpointColumns,
		arg.StoreID, arg.Name, arg.URL, arg.Secret, arg.Active, arg.Topics)
	return scanEndpoint(row)
}

func (s *pgStore) UpdateWebhookEndpoint(ctx context.Context, id uuid.UUID, arg EndpointParams) (Endpoint, error) {
	if s == nil || s.pool == nil {
		return Endpoint{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE webhook_endpoints
SET name = $2, url = $3, secret = $4, active = $5, topics = $6
WHERE id = $1 RETURNING `+endpointColumns,
		id, arg.Name, arg.URL, arg.Secret, arg.Active, arg.Topics)
	return scanEndpoint(row)
}

func (s *pgStore) GetWebhookEndpoint(ctx context.Context, id uuid.UUID) (Endpoint, error) {
	if s == nil || s.pool == nil {
		return Endpoint{}, ErrStoreUnavailable
	}
	return scanEndpoint(s.pool.QueryRow(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = $1`, id))
}

func (s *pgStore) ListWebhookEndpoints(ctx context.Context, storeID uuid.UUID, limit, offset int) ([]Endpoint, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints
WHERE store_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, storeID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEndpoints(rows)
}

func (s *pgStore) DeleteWebhookEndpoint(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhook_endpoints WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *pgStore) ListActiveEndpointsForTopic(ctx context.Context, storeID uuid.UUID, topic string) ([]Endpoint, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints
WHERE store_id = $1 AND active AND $2 = ANY(topics)`, storeID, topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEndpoints(rows)
}

func collectEndpoints(rows pgx.Rows) ([]Endpoint, error) {
	var endpoints []Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

const deliveryColumns = `id, endpoint_id, event_id, status, attempt, max_attempt, next_attempt_at, last_error, response_status, response_body, created_at, delivered_at`

func scanDelivery(row pgx.Row) (Delivery, error) {
	var d Delivery
	var lastErr, respBody sql.NullString
	var respStatus sql.NullInt32
	var deliveredAt sql.NullTime
	if err := row.Scan(&d.ID, &d.EndpointID, &d.EventID, &d.Status, &d.Attempt, &d.MaxAttempt, &d.NextAttemptAt, &lastErr, &respStatus, &respBody, &d.CreatedAt, &deliveredAt); err != nil {
		return Delivery{}, err
	}
	if lastErr.Valid {
		d.LastError = &lastErr.String
	}
	if respStatus.Valid {
		d.ResponseStatus = &respStatus.Int32
	}
	if respBody.Valid {
		d.ResponseBody = &respBody.String
	}
	if deliveredAt.Valid {
		d.DeliveredAt = &deliveredAt.Time
	}
	return d, nil
}

func (s *pgStore) EnqueueDelivery(ctx context.Context, endpointID, eventID uuid.UUID, maxAttempt int32) (Delivery, error) {
	if s == nil || s.pool == nil {
		return Delivery{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO webhook_deliveries (endpoint_id, event_id, status, max_attempt, next_attempt_at)
VALUES ($1, $2, 'pending', $3, now()) RETURNING `+deliveryColumns, endpointID, eventID, maxAttempt)
	return scanDelivery(row)
}

func (s *pgStore) DequeueDueDeliveries(ctx context.Context, limit int32) ([]Delivery, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
WHERE status IN ('pending', 'failed') AND next_attempt_at <= now()
ORDER BY next_attempt_at LIMIT $1 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deliveries []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (s *pgStore) MarkDelivering(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `UPDATE webhook_deliveries SET status = 'delivering', attempt = attempt + 1 WHERE id = $1`, id)
	return err
}

func (s *pgStore) MarkDelivered(ctx context.Context, id uuid.UUID, status int32, body string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `UPDATE webhook_deliveries
SET status = 'delivered', response_status = $2, response_body = $3, delivered_at = now()
WHERE id = $1`, id, status, body)
	return err
}

func (s *pgStore) MarkFailedWithBackoff(ctx context.Context, id uuid.UUID, delaySec int32, lastError string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `UPDATE webhook_deliveries
SET status = 'failed', last_error = $2, next_attempt_at = now() + make_interval(secs => $3)
WHERE id = $1`, id, lastError, delaySec)
	return err
}

func (s *pgStore) MoveToDLQ(ctx context.Context, id uuid.UUID, reason string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `UPDATE webhook_deliveries SET status = 'dlq', last_error = $2 WHERE id = $1`, id, reason); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO webhook_dlq (delivery_id, reason) VALUES ($1, $2)`, id, reason); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *pgStore) GetDeliveryByID(ctx context.Context, id uuid.UUID) (Delivery, error) {
	if s == nil || s.pool == nil {
		return Delivery{}, ErrStoreUnavailable
	}
	return scanDelivery(s.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id))
}

func (s *pgStore) ResetDeliveryForReplay(ctx context.Context, id uuid.UUID) (Delivery, error) {
	if s == nil || s.pool == nil {
		return Delivery{}, ErrStoreUnavailable
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Delivery{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	row := tx.QueryRow(ctx, `UPDATE webhook_deliveries
SET status = 'pending', attempt = 0, last_error = NULL, next_attempt_at = now()
WHERE id = $1 RETURNING `+deliveryColumns, id)
	d, err := scanDelivery(row)
	if err != nil {
		return Delivery{}, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM webhook_dlq WHERE delivery_id = $1`, id); err != nil {
		return Delivery{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Delivery{}, err
	}
	return d, nil
}

func (s *pgStore) ListWebhookDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
WHERE ($1::uuid IS NULL OR endpoint_id = $1)
  AND ($2::uuid IS NULL OR event_id = $2)
  AND ($3 = '' OR status = $3)
ORDER BY created_at DESC LIMIT $4 OFFSET $5`,
		nullableUUID(filter.EndpointID), nullableUUID(filter.EventID), filter.Status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deliveries []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (s *pgStore) CountWebhookDeliveries(ctx context.Context, filter DeliveryFilter) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	var total int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_deliveries
WHERE ($1::uuid IS NULL OR endpoint_id = $1)
  AND ($2::uuid IS NULL OR event_id = $2)
  AND ($3 = '' OR status = $3)`,
		nullableUUID(filter.EndpointID), nullableUUID(filter.EventID), filter.Status).Scan(&total)
	return total, err
}

func (s *pgStore) GetDomainEvent(ctx context.Context, id uuid.UUID) (events.Event, error) {
	if s == nil || s.pool == nil {
		return events.Event{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT id, store_id, topic, aggregate_id, payload, occurred_at FROM domain_events WHERE id = $1`, id)
	var ev events.Event
	var payload []byte
	if err := row.Scan(&ev.ID, &ev.StoreID, &ev.Topic, &ev.AggregateID, &payload, &ev.OccurredAt); err != nil {
		return events.Event{}, err
	}
	ev.Payload = payload
	return ev, nil
}

// MarkEventNotified stamps the first successful delivery time on the event.
// The WHERE guard keeps the earliest timestamp when several endpoints receive
// the same event.
func (s *pgStore) MarkEventNotified(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE domain_events SET notified_at = now() WHERE id = $1 AND notified_at IS NULL`, id)
	return err
}

func nullableUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
