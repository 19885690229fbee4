package models

import "time"

const (
	TierKindReferral = "referral"
	TierKindSales    = "sales"
)

// RewardTier is a threshold bracket mapping a cumulative referral or sales
// count to a reward bundle. Read-only reference data; ranges are ordered and
// non-overlapping.
type RewardTier struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Kind               string    `gorm:"type:varchar(16);not null;index" json:"kind"`
	Name               string    `gorm:"type:varchar(100);not null" json:"name"`
	MinCount           int64     `gorm:"not null" json:"min_count"`
	MaxCount           int64     `gorm:"not null" json:"max_count"`
	TokenReward        int64     `gorm:"not null;default:0" json:"token_reward"`
	Badge              string    `gorm:"type:varchar(100);default:''" json:"badge"`
	SubscriptionMonths int       `gorm:"not null;default:0" json:"subscription_months"`
	CashRewardCents    int64     `gorm:"not null;default:0" json:"cash_reward_cents"`
	PhysicalPlaque     bool      `gorm:"default:false" json:"physical_plaque"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Matches reports whether count falls inside the tier's range.
func (t *RewardTier) Matches(count int64) bool {
	return count >= t.MinCount && count <= t.MaxCount
}

// TierAward records one granted tier reward. The (user, tier) unique index is
// the idempotency guard: a tier is never awarded twice.
type TierAward struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;index:ux_tier_awards_user_tier,unique,priority:1" json:"user_id"`
	RewardTierID uint      `gorm:"not null;index:ux_tier_awards_user_tier,unique,priority:2" json:"reward_tier_id"`
	Badge        string    `gorm:"type:varchar(100);default:''" json:"badge"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}
