package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	PlanIntervalMonthly = "monthly"
	PlanIntervalYearly  = "yearly"
	PlanIntervalOneTime = "one_time"
)

// FreePlanName identifies the zero-price tier whose token grant is guarded
// against repeat farming.
const FreePlanName = "Free"

// Plan is a catalog entry. Mutated by administrators only; the core treats it
// as reference data.
type Plan struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Name           string    `gorm:"type:varchar(100);not null;index" json:"name" validate:"required,max=100"`
	PriceCents     int64     `gorm:"not null;default:0" json:"price_cents" validate:"gte=0"`
	Currency       string    `gorm:"type:varchar(8);not null;default:'usd'" json:"currency"`
	Interval       string    `gorm:"type:varchar(16);not null;default:'monthly'" json:"interval" validate:"oneof=monthly yearly one_time"`
	TokensPerCycle int64     `gorm:"not null;default:0" json:"tokens_per_cycle" validate:"gte=0"`
	PremiumAccess  bool      `gorm:"default:false" json:"premium_access"`
	TestPriceID    string    `gorm:"type:varchar(191);default:''" json:"test_price_id"`
	LivePriceID    string    `gorm:"type:varchar(191);default:''" json:"live_price_id"`
	IsActive       bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Plan) Validate() error {
	v := validator.New()

	return v.Struct(p)
}

// ProviderPriceID resolves the provider price reference for the current
// environment mode.
func (p *Plan) ProviderPriceID(dev bool) string {
	if dev {
		return p.TestPriceID
	}
	return p.LivePriceID
}

// IsFreeTier reports whether the plan is the zero-price "Free" tier.
func (p *Plan) IsFreeTier() bool {
	return p.PriceCents == 0 && strings.EqualFold(strings.TrimSpace(p.Name), FreePlanName)
}

// CycleDays returns the nominal billing cycle length used by proration.
// Fixed 365/30 day cycles, not a calendar diff.
func (p *Plan) CycleDays() int {
	if p.Interval == PlanIntervalYearly {
		return 365
	}
	return 30
}
