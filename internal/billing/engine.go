package billing

import "time"

// Money represents a monetary value in whole yen.
type Money = int64

// CastStatus enumerates the known cast assignment statuses. Only shime and
// jounai carry a fee; every other value (including unknown ones) is free.
type CastStatus string

const (
	// StatusShime marks a closing assignment. Fee-bearing.
	StatusShime CastStatus = "shime"
	// StatusJounai marks an in-house assignment. Fee-bearing.
	StatusJounai CastStatus = "jounai"
	// StatusFree marks a floating assignment with no fee.
	StatusFree CastStatus = "free"
	// StatusHelp marks a helping assignment with no fee.
	StatusHelp CastStatus = "help"
)

// KnownStatuses returns the statuses accepted at the validation boundary.
func KnownStatuses() []CastStatus {
	return []CastStatus{StatusShime, StatusJounai, StatusFree, StatusHelp}
}

// Valid reports whether the status belongs to the accepted vocabulary.
func (s CastStatus) Valid() bool {
	switch s {
	case StatusShime, StatusJounai, StatusFree, StatusHelp:
		return true
	}
	return false
}

// Assignment is a single cast seat on a table session.
type Assignment struct {
	Status CastStatus
}

// Session is the billing view of a table session. EndTime nil means the
// session is still open and elapsed time is measured against the evaluation
// instant passed to Compute.
type Session struct {
	StartTime   time.Time
	EndTime     *time.Time
	GuestCount  int
	Assignments []Assignment
}

// OrderLine is one item charged to a session. Amount is already priced by
// the caller; the engine only sums it.
type OrderLine struct {
	Label  string `json:"label"`
	Amount Money  `json:"amount"`
}

// Settings is the per-store pricing configuration. Rates are carried in
// basis points so percentage truncation is exact integer arithmetic.
type Settings struct {
	HourlyCharge    Money
	SetDurationMin  int
	ExtensionFee30m Money
	ShimeFee        Money
	JounaiFee       Money
	ServiceRateBps  int
	TaxRateBps      int
}

// TimeCharge itemises the time-based portion of a bill.
type TimeCharge struct {
	DurationMin     int   `json:"durationMinutes"`
	ExtensionMin    int   `json:"extensionMinutes"`
	ExtensionBlocks int   `json:"extensionBlocks"`
	BasePrice       Money `json:"basePrice"`
	ExtensionPrice  Money `json:"extensionPrice"`
	Total           Money `json:"total"`
}

// CastFees itemises per-assignment fees split by status bucket.
type CastFees struct {
	ShimeCount  int   `json:"shimeCount"`
	JounaiCount int   `json:"jounaiCount"`
	ShimeTotal  Money `json:"shimeTotal"`
	JounaiTotal Money `json:"jounaiTotal"`
	Total       Money `json:"total"`
}

// OrderSummary retains the full order list for itemised display.
type OrderSummary struct {
	Items []OrderLine `json:"items"`
	Total Money       `json:"total"`
}

// Breakdown is the complete derivation of a bill, not just the final number,
// so receipts can be rendered and the computation audited without re-running
// it.
type Breakdown struct {
	TimeCharge    TimeCharge   `json:"timeCharge"`
	CastFees      CastFees     `json:"castFees"`
	Orders        OrderSummary `json:"orders"`
	Subtotal      Money        `json:"subtotal"`
	ServiceCharge Money        `json:"serviceCharge"`
	Tax           Money        `json:"tax"`
	Total         Money        `json:"total"`
}

// Compute derives an itemised bill from a session snapshot, its orders, and
// the store pricing settings. It is a total function: no validation, no I/O,
// no error path. The caller supplies the evaluation instant so previews of
// open sessions stay deterministic under test.
//
// The included block is flat: hourly_charge buys set_duration_minutes per
// guest regardless of how much of the block is used. Overage is billed in
// 30-minute blocks, rounded up. The service charge is truncated from the
// subtotal, and tax is truncated from the service-charge-inclusive amount --
// the ordering is customer-facing policy and must not be rearranged.
func Compute(s Session, orders []OrderLine, cfg Settings, now time.Time) Breakdown {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	mins := elapsedMinutes(s.StartTime, end)

	extensionMin := mins - cfg.SetDurationMin
	if extensionMin < 0 {
		extensionMin = 0
	}
	blocks := (extensionMin + 29) / 30

	guests := Money(s.GuestCount)
	tc := TimeCharge{
		DurationMin:     mins,
		ExtensionMin:    extensionMin,
		ExtensionBlocks: blocks,
		BasePrice:       cfg.HourlyCharge * guests,
		ExtensionPrice:  Money(blocks) * cfg.ExtensionFee30m * guests,
	}
	tc.Total = tc.BasePrice + tc.ExtensionPrice

	var fees CastFees
	for _, a := range s.Assignments {
		switch a.Status {
		case StatusShime:
			fees.ShimeCount++
		case StatusJounai:
			fees.JounaiCount++
		default:
			// free, help, and anything unknown: seat is not billed
		}
	}
	fees.ShimeTotal = Money(fees.ShimeCount) * cfg.ShimeFee
	fees.JounaiTotal = Money(fees.JounaiCount) * cfg.JounaiFee
	fees.Total = fees.ShimeTotal + fees.JounaiTotal

	sum := OrderSummary{Items: orders}
	for _, o := range orders {
		sum.Total += o.Amount
	}

	subtotal := tc.Total + fees.Total + sum.Total
	service := subtotal * Money(cfg.ServiceRateBps) / 10000
	tax := (subtotal + service) * Money(cfg.TaxRateBps) / 10000

	return Breakdown{
		TimeCharge:    tc,
		CastFees:      fees,
		Orders:        sum,
		Subtotal:      subtotal,
		ServiceCharge: service,
		Tax:           tax,
		Total:         subtotal + service + tax,
	}
}

// elapsedMinutes rounds up to the next whole minute: a session open for any
// fraction of a minute is billed for that full minute.
func elapsedMinutes(start, end time.Time) int {
	d := end.Sub(start)
	mins := int(d / time.Minute)
	if d%time.Minute > 0 {
		mins++
	}
	return mins
}
