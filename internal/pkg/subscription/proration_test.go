package subscription

import (
	"math"
	"testing"
	"time"

	"github.com/tokenworks/tokenbill/app/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.01
}

func TestRemainingValueMonthly(t *testing.T) {
	plan := &models.Plan{PriceCents: 1000, Interval: models.PlanIntervalMonthly}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	next := now.Add(5 * 24 * time.Hour)

	p := RemainingValue(&next, plan, now)
	if p.RemainingDays != 5 || p.TotalDays != 30 {
		t.Fatalf("got %d/%d days, want 5/30", p.RemainingDays, p.TotalDays)
	}
	if !almostEqual(p.Value, 166.6666) {
		t.Fatalf("remaining value: got %f, want ~166.67", p.Value)
	}
}

func TestRemainingValueYearly(t *testing.T) {
	plan := &models.Plan{PriceCents: 36500, Interval: models.PlanIntervalYearly}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	next := now.Add(73 * 24 * time.Hour)

	p := RemainingValue(&next, plan, now)
	if p.RemainingDays != 73 || p.TotalDays != 365 {
		t.Fatalf("got %d/%d days, want 73/365", p.RemainingDays, p.TotalDays)
	}
	if !almostEqual(p.Value, 7300) {
		t.Fatalf("remaining value: got %f, want 7300", p.Value)
	}
}

func TestRemainingValueElapsedPeriod(t *testing.T) {
	plan := &models.Plan{PriceCents: 1000, Interval: models.PlanIntervalMonthly}
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	next := now.Add(-24 * time.Hour)

	p := RemainingValue(&next, plan, now)
	if p.RemainingDays != 0 || p.Value != 0 {
		t.Fatalf("elapsed period should be worthless, got %d days / %f", p.RemainingDays, p.Value)
	}
}

func TestRemainingValueNilBillingDate(t *testing.T) {
	plan := &models.Plan{PriceCents: 1000, Interval: models.PlanIntervalMonthly}
	p := RemainingValue(nil, plan, time.Now())
	if p.RemainingDays != 0 || p.Value != 0 {
		t.Fatalf("nil billing date should yield zero value, got %+v", p)
	}
}

func TestNewChargeCentsRounds(t *testing.T) {
	plan := &models.Plan{PriceCents: 1000, Interval: models.PlanIntervalMonthly}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	next := now.Add(5 * 24 * time.Hour)
	p := RemainingValue(&next, plan, now)

	// 3000 - 166.67 = 2833.33 -> 2833
	if got := NewChargeCents(3000, p); got != 2833 {
		t.Fatalf("upgrade charge: got %d, want 2833", got)
	}
}

func TestNewChargeCentsFlooredAtZero(t *testing.T) {
	plan := &models.Plan{PriceCents: 3000, Interval: models.PlanIntervalMonthly}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	next := now.Add(20 * 24 * time.Hour)
	p := RemainingValue(&next, plan, now)

	// Remaining value (2000) exceeds the cheaper plan's price.
	if got := NewChargeCents(1000, p); got != 0 {
		t.Fatalf("charge must not go negative, got %d", got)
	}
}
