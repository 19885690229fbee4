package models

import "time"

// TokenUsage is an observability record of one deduction: the input/output
// split (estimated 20/80 when the caller supplies none) and the bucket
// breakdown. Not part of the correctness contract.
type TokenUsage struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	UserID                uint      `gorm:"not null;index" json:"user_id"`
	TotalTokens           int64     `gorm:"not null" json:"total_tokens"`
	InputTokens           int64     `gorm:"not null;default:0" json:"input_tokens"`
	OutputTokens          int64     `gorm:"not null;default:0" json:"output_tokens"`
	FromRegistrationToken int64     `gorm:"not null;default:0" json:"from_registration_token"`
	FromFreeToken         int64     `gorm:"not null;default:0" json:"from_free_token"`
	FromSubscriptionToken int64     `gorm:"not null;default:0" json:"from_subscription_token"`
	FromAddonsToken       int64     `gorm:"not null;default:0" json:"from_addons_token"`
	CreatedAt             time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
