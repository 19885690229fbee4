package ledger

import (
	"github.com/tokenworks/tokenbill/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the ledger engine. WithinTransaction
// hands the callback a repository bound to the transaction so every read and
// write of one grant/deduct shares a single atomic scope.
type Repository interface {
	WithinTransaction(fn func(Repository) error) error
	GetUserByID(id uint) (*models.User, error)
	GetBalanceForUpdate(userID uint) (*models.TokenBalance, error)
	SaveBalance(tb *models.TokenBalance) error
	FindPurchaseByKey(key string) (*models.Purchase, error)
	CreatePurchase(p *models.Purchase) error
	SetPurchaseReferrerAward(purchaseID, referrerUserID uint, tokens int64) error
	FindReferralByReferredUser(referredUserID uint) (*models.Referral, error)
	SaveReferral(r *models.Referral) error
	CountConvertedReferrals(referrerUserID uint) (int64, error)
	CountReferredPurchases(referrerUserID uint) (int64, error)
	ListTiersByKind(kind string) ([]models.RewardTier, error)
	HasTierAward(userID, tierID uint) (bool, error)
	CreateTierAward(a *models.TierAward) error
	CreateTokenUsage(u *models.TokenUsage) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithinTransaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetUserByID(id uint) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetBalanceForUpdate takes a row lock on the user's balance. Concurrent
// events for the same user serialize here; different users stay independent.
func (r *gormRepository) GetBalanceForUpdate(userID uint) (*models.TokenBalance, error) {
	tb, err := models.GetOrCreateTokenBalance(r.db, userID)
	if err != nil {
		return nil, err
	}
	var locked models.TokenBalance
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", tb.ID).First(&locked).Error; err != nil {
		return nil, err
	}
	return &locked, nil
}

func (r *gormRepository) SaveBalance(tb *models.TokenBalance) error {
	return r.db.Save(tb).Error
}

func (r *gormRepository) FindPurchaseByKey(key string) (*models.Purchase, error) {
	var p models.Purchase
	if err := r.db.Where("idempotency_key = ?", key).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) CreatePurchase(p *models.Purchase) error {
	return r.db.Create(p).Error
}

func (r *gormRepository) SetPurchaseReferrerAward(purchaseID, referrerUserID uint, tokens int64) error {
	return r.db.Model(&models.Purchase{}).Where("id = ?", purchaseID).Updates(map[string]interface{}{
		"referrer_user_id":        referrerUserID,
		"referrer_tokens_awarded": tokens,
	}).Error
}

func (r *gormRepository) FindReferralByReferredUser(referredUserID uint) (*models.Referral, error) {
	var ref models.Referral
	if err := r.db.Where("referred_user_id = ?", referredUserID).First(&ref).Error; err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *gormRepository) SaveReferral(ref *models.Referral) error {
	return r.db.Save(ref).Error
}

func (r *gormRepository) CountConvertedReferrals(referrerUserID uint) (int64, error) {
	var n int64
	err := r.db.Model(&models.Referral{}).
		Where("referrer_user_id = ? AND is_converted = ?", referrerUserID, true).
		Count(&n).Error
	return n, err
}

func (r *gormRepository) CountReferredPurchases(referrerUserID uint) (int64, error) {
	var n int64
	err := r.db.Model(&models.Purchase{}).
		Where("referrer_user_id = ? AND status = ?", referrerUserID, models.PurchaseStatusCompleted).
		Count(&n).Error
	return n, err
}

func (r *gormRepository) ListTiersByKind(kind string) ([]models.RewardTier, error) {
	var tiers []models.RewardTier
	err := r.db.Where("kind = ?", kind).Order("min_count ASC").Find(&tiers).Error
	return tiers, err
}

func (r *gormRepository) HasTierAward(userID, tierID uint) (bool, error) {
	var n int64
	err := r.db.Model(&models.TierAward{}).
		Where("user_id = ? AND reward_tier_id = ?", userID, tierID).
		Count(&n).Error
	return n > 0, err
}

func (r *gormRepository) CreateTierAward(a *models.TierAward) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "reward_tier_id"},
		},
		DoNothing: true,
	}).Create(a).Error
}

func (r *gormRepository) CreateTokenUsage(u *models.TokenUsage) error {
	return r.db.Create(u).Error
}
