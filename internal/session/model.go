package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/aoi-nmz/backend-club/internal/billing"
)

// Session statuses. A session is open from seat-in until it is settled; the
// guarded close UPDATE is the only transition out of StatusOpen.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Assignment is a cast seat on a table session as stored.
type Assignment struct {
	ID        uuid.UUID          `json:"id"`
	CastID    uuid.UUID          `json:"castId"`
	Status    billing.CastStatus `json:"status"`
	CreatedAt time.Time          `json:"createdAt"`
}

// TableSession is a persisted table session. Once closed the itemised totals
// are frozen on the row so receipts never drift from what the guest was
// charged, even if settings change afterwards.
type TableSession struct {
	ID          uuid.UUID     `json:"id"`
	StoreID     uuid.UUID     `json:"storeId"`
	TableNumber string        `json:"tableNumber"`
	GuestCount  int           `json:"guestCount"`
	Status      string        `json:"status"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     *time.Time    `json:"endTime,omitempty"`
	Assignments []Assignment  `json:"assignments"`
	Subtotal    billing.Money `json:"subtotal"`
	Total       billing.Money `json:"total"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// BillingView maps the stored session to the shape the bill engine consumes.
func (s TableSession) BillingView() billing.Session {
	assignments := make([]billing.Assignment, 0, len(s.Assignments))
	for _, a := range s.Assignments {
		assignments = append(assignments, billing.Assignment{Status: a.Status})
	}
	return billing.Session{
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		GuestCount:  s.GuestCount,
		Assignments: assignments,
	}
}

// Open reports whether the session can still accept orders and mutations.
func (s TableSession) Open() bool {
	return s.Status == StatusOpen
}
