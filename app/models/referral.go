package models

import "time"

// Referral links a referrer to a referred user. At most one row per
// (referrer, referred) pair; conversion is idempotent: repeat purchases by
// the referred user top up TokensAwarded without new rows.
type Referral struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	ReferrerUserID uint       `gorm:"not null;index:ux_referrals_pair,unique,priority:1" json:"referrer_user_id"`
	ReferredUserID uint       `gorm:"not null;index:ux_referrals_pair,unique,priority:2" json:"referred_user_id"`
	Code           string     `gorm:"type:varchar(32);not null;index" json:"code"`
	IsConverted    bool       `gorm:"default:false;index" json:"is_converted"`
	TokensAwarded  int64      `gorm:"not null;default:0" json:"tokens_awarded"`
	ConvertedAt    *time.Time `gorm:"type:timestamp;default:null" json:"converted_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
