package billing_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aoi-nmz/backend-club/internal/billing"
)

var testSettings = billing.Settings{
	HourlyCharge:    3000,
	SetDurationMin:  60,
	ExtensionFee30m: 1500,
	ShimeFee:        5000,
	JounaiFee:       2000,
	ServiceRateBps:  1500,
	TaxRateBps:      1000,
}

func sessionAt(start time.Time, elapsed time.Duration, guests int, statuses ...billing.CastStatus) (billing.Session, time.Time) {
	assignments := make([]billing.Assignment, 0, len(statuses))
	for _, st := range statuses {
		assignments = append(assignments, billing.Assignment{Status: st})
	}
	end := start.Add(elapsed)
	return billing.Session{
		StartTime:   start,
		EndTime:     &end,
		GuestCount:  guests,
		Assignments: assignments,
	}, end
}

func TestComputeWorkedExample(t *testing.T) {
	start := time.Date(2025, 3, 14, 21, 0, 0, 0, time.UTC)
	s, end := sessionAt(start, 95*time.Minute, 2, billing.StatusShime, billing.StatusJounai, billing.StatusJounai)
	orders := []billing.OrderLine{
		{Label: "bottle", Amount: 6000},
		{Label: "snacks", Amount: 2000},
	}

	b := billing.Compute(s, orders, testSettings, end)

	require.Equal(t, 95, b.TimeCharge.DurationMin)
	require.Equal(t, 35, b.TimeCharge.ExtensionMin)
	require.Equal(t, 2, b.TimeCharge.ExtensionBlocks)
	require.Equal(t, int64(6000), b.TimeCharge.BasePrice)
	require.Equal(t, int64(6000), b.TimeCharge.ExtensionPrice)
	require.Equal(t, int64(12000), b.TimeCharge.Total)

	require.Equal(t, int64(5000), b.CastFees.ShimeTotal)
	require.Equal(t, int64(4000), b.CastFees.JounaiTotal)
	require.Equal(t, int64(9000), b.CastFees.Total)

	require.Equal(t, int64(8000), b.Orders.Total)
	require.Equal(t, int64(29000), b.Subtotal)
	require.Equal(t, int64(4350), b.ServiceCharge)
	require.Equal(t, int64(3335), b.Tax)
	require.Equal(t, int64(36685), b.Total)
}

func TestComputeFlatIncludedBlock(t *testing.T) {
	start := time.Date(2025, 3, 14, 21, 0, 0, 0, time.UTC)
	for _, elapsed := range []time.Duration{time.Minute, 30 * time.Minute, 60 * time.Minute} {
		s, end := sessionAt(start, elapsed, 3)
		b := billing.Compute(s, nil, testSettings, end)
		require.Zero(t, b.TimeCharge.ExtensionMin, "elapsed %v", elapsed)
		require.Zero(t, b.TimeCharge.ExtensionPrice, "elapsed %v", elapsed)
		require.Equal(t, int64(9000), b.TimeCharge.Total, "elapsed %v", elapsed)
	}
}

func TestComputeExtensionRounding(t *testing.T) {
	start := time.Date(2025, 3, 14, 21, 0, 0, 0, time.UTC)
	cases := []struct {
		elapsed time.Duration
		blocks  int
	}{
		{60 * time.Minute, 0},
		{61 * time.Minute, 1},
		{90 * time.Minute, 1},
		{91 * time.Minute, 2},
		{120 * time.Minute, 2},
	}
	for _, tc := range cases {
		s, end := sessionAt(start, tc.elapsed, 1)
		b := billing.Compute(s, nil, testSettings, end)
		require.Equal(t, tc.blocks, b.TimeCharge.ExtensionBlocks, "elapsed %v", tc.elapsed)
	}
}

func TestComputeFractionalMinuteRoundsUp(t *testing.T) {
	start := time.Date(2025, 3, 14, 21, 0, 0, 0, time.UTC)
	s, end := sessionAt(start, 60*time.Minute+time.Second, 1)
	b := billing.Compute(s, nil, testSettings, end)
	require.Equal(t, 61, b.TimeCharge.DurationMin)
	require.Equal(t, 1, b.TimeCharge.ExtensionBlocks)
}

func TestComputeOpenSessionUsesNow(t *testing.T) {
	start := time.Date(2025, 3, 14, 21, 0, 0, 0, time.UTC)
	s := billing.Session{StartTime: start, GuestCount: 2}

	early := billing.Compute(s, nil, testSettings, start.Add(45*time.Minute))
	late := billing.Compute(s, nil, testSettings, start.Add(2*time.Hour))
	require.Equal(t, 45, early.TimeCharge.DurationMin)
	require.Equal(t, 120, late.TimeCharge.DurationMin)
	// re-invoking later never shrinks the time charge
	require.GreaterOrEqual(t, late.TimeCharge.Total, early.TimeCharge.Total)
}

func TestComputeCastFeePartition(t *testing.T) {
	start := time.Date(2025, 3, 14, 21, 0, 0, 0, time.UTC)
	s, end := sessionAt(start, 30*time.Minute, 1,
		billing.StatusShime, billing.StatusShime,
		billing.StatusJounai,
		billing.StatusFree, billing.StatusHelp, billing.CastStatus("douhan"))
	b := billing.Compute(s, nil, testSettings, end)
	require.Equal(t, 2, b.CastFees.ShimeCount)
	require.Equal(t, 1, b.CastFees.JounaiCount)
	require.Equal(t, int64(10000), b.CastFees.ShimeTotal)
	require.Equal(t, int64(2000), b.CastFees.JounaiTotal)
	require.Equal(t, int64(12000), b.CastFees.Total)
}

func TestComputeTaxCompoundsOnServiceCharge(t *testing.T) {
	start := time.Date(2025, 3, 14, 21, 0, 0, 0, time.UTC)
	s, end := sessionAt(start, 95*time.Minute, 2, billing.StatusShime, billing.StatusJounai, billing.StatusJounai)
	orders := []billing.OrderLine{{Label: "bottle", Amount: 8000}}

	b := billing.Compute(s, orders, testSettings, end)
	naive := b.Subtotal * int64(testSettings.TaxRateBps) / 10000
	compounded := (b.Subtotal + b.ServiceCharge) * int64(testSettings.TaxRateBps) / 10000
	require.Equal(t, compounded, b.Tax)
	require.NotEqual(t, naive, b.Tax, "tax must be computed after the service charge when service_rate > 0")
}

func TestComputeServiceChargeMonotone(t *testing.T) {
	start := time.Date(2025, 3, 14, 21, 0, 0, 0, time.UTC)
	var prevService, prevTax int64
	for amount := int64(0); amount <= 5000; amount += 137 {
		s, end := sessionAt(start, 40*time.Minute, 1)
		b := billing.Compute(s, []billing.OrderLine{{Label: "drink", Amount: amount}}, testSettings, end)
		require.GreaterOrEqual(t, b.ServiceCharge, prevService)
		require.GreaterOrEqual(t, b.Tax, prevTax)
		prevService, prevTax = b.ServiceCharge, b.Tax
	}
}

func TestComputeOrderSumIsOrderIndependent(t *testing.T) {
	start := time.Date(2025, 3, 14, 21, 0, 0, 0, time.UTC)
	s, end := sessionAt(start, 30*time.Minute, 1)
	orders := []billing.OrderLine{
		{Label: "a", Amount: 1200},
		{Label: "b", Amount: 800},
		{Label: "c", Amount: 0},
		{Label: "d", Amount: 4500},
	}
	want := billing.Compute(s, orders, testSettings, end)

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		shuffled := make([]billing.OrderLine, len(orders))
		copy(shuffled, orders)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := billing.Compute(s, shuffled, testSettings, end)
		require.Equal(t, want.Orders.Total, got.Orders.Total)
		require.Equal(t, want.Total, got.Total)
	}
}

func TestComputeZeroRates(t *testing.T) {
	cfg := testSettings
	cfg.ServiceRateBps = 0
	cfg.TaxRateBps = 0
	start := time.Date(2025, 3, 14, 21, 0, 0, 0, time.UTC)
	s, end := sessionAt(start, 50*time.Minute, 2)
	b := billing.Compute(s, nil, cfg, end)
	require.Zero(t, b.ServiceCharge)
	require.Zero(t, b.Tax)
	require.Equal(t, b.Subtotal, b.Total)
}

func TestComputeNoAssignmentsNoOrders(t *testing.T) {
	start := time.Date(2025, 3, 14, 21, 0, 0, 0, time.UTC)
	s, end := sessionAt(start, 10*time.Minute, 4)
	b := billing.Compute(s, nil, testSettings, end)
	require.Zero(t, b.CastFees.Total)
	require.Zero(t, b.Orders.Total)
	require.Empty(t, b.Orders.Items)
	require.Equal(t, int64(12000), b.Subtotal)
}
