package subscription

import (
	"time"

	"github.com/tokenworks/tokenbill/app/models"
)

// Proration is the remaining value of a billing cycle. Value is in cents and
// kept fractional until a charge is derived.
type Proration struct {
	RemainingDays int
	TotalDays     int
	Value         float64
}

// RemainingValue computes what is left of the current cycle, priced against
// the given plan. Cycle lengths are nominal (365/30 days), not calendar
// diffs; remaining days floor at zero.
func RemainingValue(nextBillingDate *time.Time, plan *models.Plan, now time.Time) Proration {
	total := plan.CycleDays()

	remaining := 0
	if nextBillingDate != nil {
		if d := int(nextBillingDate.Sub(now).Hours() / 24); d > 0 {
			remaining = d
		}
	}

	return Proration{
		RemainingDays: remaining,
		TotalDays:     total,
		Value:         float64(remaining) / float64(total) * float64(plan.PriceCents),
	}
}

// NewChargeCents is the amount to invoice for a plan change: the new plan's
// price minus the remaining value of the cycle, floored at zero.
func NewChargeCents(newPlanPriceCents int64, p Proration) int64 {
	charge := float64(newPlanPriceCents) - p.Value
	if charge <= 0 {
		return 0
	}
	return int64(charge + 0.5)
}
