package subscription

import (
	"github.com/tokenworks/tokenbill/app/models"
	"github.com/tokenworks/tokenbill/internal/pkg/ledger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the subscription state machine.
// Ledger returns a ledger repository bound to the same scope so a transition
// and its token grants share one transaction.
type Repository interface {
	WithinTransaction(fn func(Repository) error) error
	Ledger() ledger.Repository
	GetUserByID(id uint) (*models.User, error)
	GetPlanByID(id uint) (*models.Plan, error)
	GetPlanByProviderPriceID(priceID string) (*models.Plan, error)
	GetSubscriptionForUpdate(providerSubscriptionID string) (*models.Subscription, error)
	GetEntitledSubscriptionByUser(userID uint) (*models.Subscription, error)
	CreateSubscription(sub *models.Subscription) error
	SaveSubscription(sub *models.Subscription) error
	HasFreePlanSubscription(userID uint) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a subscription repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithinTransaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) Ledger() ledger.Repository {
	return ledger.NewRepository(r.db)
}

func (r *gormRepository) GetUserByID(id uint) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetPlanByID(id uint) (*models.Plan, error) {
	var p models.Plan
	if err := r.db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) GetPlanByProviderPriceID(priceID string) (*models.Plan, error) {
	var p models.Plan
	err := r.db.Where("test_price_id = ? OR live_price_id = ?", priceID, priceID).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetSubscriptionForUpdate locks the row so concurrent webhook deliveries for
// the same subscription serialize.
func (r *gormRepository) GetSubscriptionForUpdate(providerSubscriptionID string) (*models.Subscription, error) {
	var s models.Subscription
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("provider_subscription_id = ?", providerSubscriptionID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetEntitledSubscriptionByUser returns the user's active/trialing
// subscription. Uniqueness is a query-layer convention, matching how the
// rest of the system reads it.
func (r *gormRepository) GetEntitledSubscriptionByUser(userID uint) (*models.Subscription, error) {
	var s models.Subscription
	err := r.db.Where("user_id = ? AND status IN ?", userID,
		[]string{models.SubscriptionStatusActive, models.SubscriptionStatusTrialing}).
		Order("created_at DESC").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) CreateSubscription(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

// HasFreePlanSubscription reports whether the user holds any row, historical
// included, on a zero-price plan named "Free". Guards free-tier token farming.
func (r *gormRepository) HasFreePlanSubscription(userID uint) (bool, error) {
	var n int64
	err := r.db.Model(&models.Subscription{}).
		Joins("JOIN plans ON plans.id = subscriptions.plan_id").
		Where("subscriptions.user_id = ? AND plans.price_cents = 0 AND plans.name = ?", userID, models.FreePlanName).
		Count(&n).Error
	return n > 0, err
}
