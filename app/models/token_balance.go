package models

import (
	"time"

	"gorm.io/gorm"
)

// Bucket names in deduction priority order. Subscription allowances are
// consumed before paid addon top-ups so routine usage never silently eats
// purchased credits.
const (
	BucketRegistration = "registration_token"
	BucketFree         = "free_token"
	BucketSubscription = "subscription_token"
	BucketAddons       = "addons_token"
)

// DeductionPriority is the fixed bucket order used by the ledger when no
// override is supplied.
var DeductionPriority = []string{BucketRegistration, BucketFree, BucketSubscription, BucketAddons}

// TokenBalance holds the four independent token buckets for one user.
// All buckets stay >= 0 at all times; only the ledger engine mutates them.
type TokenBalance struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	RegistrationToken int64     `gorm:"not null;default:0" json:"registration_token"`
	FreeToken         int64     `gorm:"not null;default:0" json:"free_token"`
	SubscriptionToken int64     `gorm:"not null;default:0" json:"subscription_token"`
	AddonsToken       int64     `gorm:"not null;default:0" json:"addons_token"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetOrCreateTokenBalance returns the existing balance row or creates a zeroed
// one. Users get their row lazily on first ledger touch.
func GetOrCreateTokenBalance(db *gorm.DB, userID uint) (*TokenBalance, error) {
	var tb TokenBalance
	if err := db.Where("user_id = ?", userID).First(&tb).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			tb = TokenBalance{UserID: userID}
			if err := db.Create(&tb).Error; err != nil {
				return nil, err
			}
			return &tb, nil
		}
		return nil, err
	}
	return &tb, nil
}

// Total returns the sum of all four buckets.
func (tb *TokenBalance) Total() int64 {
	return tb.RegistrationToken + tb.FreeToken + tb.SubscriptionToken + tb.AddonsToken
}

// Bucket returns the current amount in the named bucket.
func (tb *TokenBalance) Bucket(name string) int64 {
	switch name {
	case BucketRegistration:
		return tb.RegistrationToken
	case BucketFree:
		return tb.FreeToken
	case BucketSubscription:
		return tb.SubscriptionToken
	case BucketAddons:
		return tb.AddonsToken
	default:
		return 0
	}
}

// AddToBucket applies a delta to the named bucket. Returns false when the
// bucket name is unknown or the delta would push the bucket negative.
func (tb *TokenBalance) AddToBucket(name string, delta int64) bool {
	current := tb.Bucket(name)
	if current+delta < 0 {
		return false
	}
	switch name {
	case BucketRegistration:
		tb.RegistrationToken += delta
	case BucketFree:
		tb.FreeToken += delta
	case BucketSubscription:
		tb.SubscriptionToken += delta
	case BucketAddons:
		tb.AddonsToken += delta
	default:
		return false
	}
	return true
}

// IsValidBucket reports whether name is one of the four known buckets.
func IsValidBucket(name string) bool {
	switch name {
	case BucketRegistration, BucketFree, BucketSubscription, BucketAddons:
		return true
	default:
		return false
	}
}
