package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusUnpaid   = "unpaid"
)

const (
	PlanChangeKindUpgrade   = "upgrade"
	PlanChangeKindDowngrade = "downgrade"
	PlanChangeKindSwap      = "swap"
)

// PlanChange is one entry of a subscription's plan-change history.
type PlanChange struct {
	FromPlanID uint      `json:"from_plan_id"`
	ToPlanID   uint      `json:"to_plan_id"`
	Kind       string    `json:"kind"`
	ChangedAt  time.Time `json:"changed_at"`
}

// ChangeMeta is the typed replacement for the free-form metadata map the
// subscription used to carry: the plan paid for at cycle start (proration
// anchor across chained upgrades), a pending downgrade target applied at the
// next renewal, and the change history.
type ChangeMeta struct {
	OriginalPlanID uint         `json:"original_plan_id,omitempty"`
	PendingPlanID  uint         `json:"pending_plan_id,omitempty"`
	History        []PlanChange `json:"history,omitempty"`
}

// Subscription mirrors one provider subscription for one user. Transitions
// are driven exclusively by the subscription state machine; rows are never
// hard-deleted.
type Subscription struct {
	ID                     uint           `gorm:"primaryKey" json:"id"`
	UserID                 uint           `gorm:"not null;index" json:"user_id"`
	PlanID                 uint           `gorm:"not null;index" json:"plan_id"`
	ProviderSubscriptionID string         `gorm:"type:varchar(191);not null;uniqueIndex" json:"provider_subscription_id"`
	Status                 string         `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	NextBillingDate        *time.Time     `gorm:"type:timestamp;default:null" json:"next_billing_date,omitempty"`
	CanceledAt             *time.Time     `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	EndsAt                 *time.Time     `gorm:"type:timestamp;default:null" json:"ends_at,omitempty"`
	FailedPaymentAttempts  int            `gorm:"not null;default:0" json:"failed_payment_attempts"`
	Meta                   datatypes.JSON `gorm:"type:json" json:"meta,omitempty"`
	CreatedAt              time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitling reports whether the subscription currently grants access.
func (s *Subscription) IsEntitling() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing
}

// ChangeMeta decodes the typed change metadata. An empty column yields a
// zero value.
func (s *Subscription) ChangeMeta() (ChangeMeta, error) {
	var m ChangeMeta
	if len(s.Meta) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(s.Meta, &m); err != nil {
		return ChangeMeta{}, err
	}
	return m, nil
}

// SetChangeMeta encodes and stores the typed change metadata.
func (s *Subscription) SetChangeMeta(m ChangeMeta) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	s.Meta = datatypes.JSON(b)
	return nil
}
