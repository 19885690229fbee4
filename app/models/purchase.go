package models

import "time"

// Purchase types mirror the granting event that produced the record.
const (
	PurchaseTypePurchase            = "purchase"
	PurchaseTypeSubscription        = "subscription"
	PurchaseTypeSubscriptionRenewal = "subscription_renewal"
	PurchaseTypePlanUpgrade         = "plan_upgrade"
	PurchaseTypePlanChange          = "plan_change"
	PurchaseTypePlanChangeDowngrade = "plan_change_downgrade"
)

const (
	PurchaseStatusCompleted = "completed"
	PurchaseStatusPending   = "pending"
	PurchaseStatusFailed    = "failed"
)

// Purchase is the durable, idempotent record of one token-granting event.
// The idempotency key is unique: a retried webhook finds the existing row and
// never re-grants. Rows are immutable except ReferrerTokensAwarded, which the
// referral cascade writes once.
type Purchase struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	UserID                uint       `gorm:"not null;index" json:"user_id"`
	IdempotencyKey        string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"idempotency_key"`
	PlanID                *uint      `gorm:"index" json:"plan_id,omitempty"`
	ProviderPriceID       string     `gorm:"type:varchar(191);default:''" json:"provider_price_id"`
	AmountCents           int64      `gorm:"not null;default:0" json:"amount_cents"`
	Currency              string     `gorm:"type:varchar(8);not null;default:'usd'" json:"currency"`
	TokensGranted         int64      `gorm:"not null;default:0" json:"tokens_granted"`
	Bucket                string     `gorm:"type:varchar(32);not null" json:"bucket"`
	Status                string     `gorm:"type:varchar(32);not null;default:'completed'" json:"status"`
	Type                  string     `gorm:"type:varchar(32);not null;index" json:"type"`
	ReferrerUserID        *uint      `gorm:"index" json:"referrer_user_id,omitempty"`
	ReferrerTokensAwarded int64      `gorm:"not null;default:0" json:"referrer_tokens_awarded"`
	ExpiresAt             *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	CreatedAt             time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCredit reports whether the record granted tokens (as opposed to a
// negative adjustment such as a plan-change token delta).
func (p *Purchase) IsCredit() bool {
	return p.TokensGranted > 0
}
