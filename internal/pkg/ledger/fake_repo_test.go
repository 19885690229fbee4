package ledger

import (
	"github.com/tokenworks/tokenbill/app/models"
	"gorm.io/gorm"
)

// fakeRepo is an in-memory ledger repository. GetBalanceForUpdate hands out
// copies and SaveBalance writes them back, so unsaved mutations vanish the way
// a rolled-back transaction would.
type fakeRepo struct {
	users      map[uint]*models.User
	balances   map[uint]*models.TokenBalance
	purchases  map[string]*models.Purchase
	referrals  map[uint]*models.Referral // keyed by referred user id
	tiers      []models.RewardTier
	tierAwards map[[2]uint]bool
	usages     []*models.TokenUsage

	nextPurchaseID uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:      map[uint]*models.User{},
		balances:   map[uint]*models.TokenBalance{},
		purchases:  map[string]*models.Purchase{},
		referrals:  map[uint]*models.Referral{},
		tierAwards: map[[2]uint]bool{},
	}
}

func (f *fakeRepo) addUser(id uint) {
	f.users[id] = &models.User{ID: id}
}

func (f *fakeRepo) setBalance(userID uint, registration, free, subscription, addons int64) {
	f.balances[userID] = &models.TokenBalance{
		ID:                userID,
		UserID:            userID,
		RegistrationToken: registration,
		FreeToken:         free,
		SubscriptionToken: subscription,
		AddonsToken:       addons,
	}
}

func (f *fakeRepo) WithinTransaction(fn func(Repository) error) error {
	return fn(f)
}

func (f *fakeRepo) GetUserByID(id uint) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func (f *fakeRepo) GetBalanceForUpdate(userID uint) (*models.TokenBalance, error) {
	tb, ok := f.balances[userID]
	if !ok {
		tb = &models.TokenBalance{ID: userID, UserID: userID}
		f.balances[userID] = tb
	}
	cp := *tb
	return &cp, nil
}

func (f *fakeRepo) SaveBalance(tb *models.TokenBalance) error {
	cp := *tb
	f.balances[tb.UserID] = &cp
	return nil
}

func (f *fakeRepo) FindPurchaseByKey(key string) (*models.Purchase, error) {
	p, ok := f.purchases[key]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

func (f *fakeRepo) CreatePurchase(p *models.Purchase) error {
	f.nextPurchaseID++
	p.ID = f.nextPurchaseID
	f.purchases[p.IdempotencyKey] = p
	return nil
}

func (f *fakeRepo) SetPurchaseReferrerAward(purchaseID, referrerUserID uint, tokens int64) error {
	for _, p := range f.purchases {
		if p.ID == purchaseID {
			id := referrerUserID
			p.ReferrerUserID = &id
			p.ReferrerTokensAwarded = tokens
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeRepo) FindReferralByReferredUser(referredUserID uint) (*models.Referral, error) {
	r, ok := f.referrals[referredUserID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return r, nil
}

func (f *fakeRepo) SaveReferral(r *models.Referral) error {
	f.referrals[r.ReferredUserID] = r
	return nil
}

func (f *fakeRepo) CountConvertedReferrals(referrerUserID uint) (int64, error) {
	var n int64
	for _, r := range f.referrals {
		if r.ReferrerUserID == referrerUserID && r.IsConverted {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) CountReferredPurchases(referrerUserID uint) (int64, error) {
	var n int64
	for _, p := range f.purchases {
		if p.ReferrerUserID != nil && *p.ReferrerUserID == referrerUserID && p.Status == models.PurchaseStatusCompleted {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) ListTiersByKind(kind string) ([]models.RewardTier, error) {
	var out []models.RewardTier
	for _, t := range f.tiers {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeRepo) HasTierAward(userID, tierID uint) (bool, error) {
	return f.tierAwards[[2]uint{userID, tierID}], nil
}

func (f *fakeRepo) CreateTierAward(a *models.TierAward) error {
	f.tierAwards[[2]uint{a.UserID, a.RewardTierID}] = true
	return nil
}

func (f *fakeRepo) CreateTokenUsage(u *models.TokenUsage) error {
	f.usages = append(f.usages, u)
	return nil
}
