package subscription

import (
	"context"

	"github.com/tokenworks/tokenbill/app/models"
	"github.com/tokenworks/tokenbill/internal/pkg/ledger"
	"gorm.io/gorm"
)

// fakeStore backs both the subscription repository and its ledger view, so a
// state transition and its token grants observe the same data the way the
// shared GORM transaction does in production.
type fakeStore struct {
	users         map[uint]*models.User
	plans         map[uint]*models.Plan
	subscriptions map[string]*models.Subscription
	balances      map[uint]*models.TokenBalance
	purchases     map[string]*models.Purchase
	referrals     map[uint]*models.Referral
	usages        []*models.TokenUsage

	nextPurchaseID     uint
	nextSubscriptionID uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         map[uint]*models.User{},
		plans:         map[uint]*models.Plan{},
		subscriptions: map[string]*models.Subscription{},
		balances:      map[uint]*models.TokenBalance{},
		purchases:     map[string]*models.Purchase{},
		referrals:     map[uint]*models.Referral{},
	}
}

func (f *fakeStore) addUser(id uint) {
	f.users[id] = &models.User{ID: id, StripeCustomerID: "cus_test"}
}

func (f *fakeStore) addPlan(p models.Plan) {
	cp := p
	f.plans[p.ID] = &cp
}

func (f *fakeStore) balance(userID uint) *models.TokenBalance {
	tb, ok := f.balances[userID]
	if !ok {
		tb = &models.TokenBalance{ID: userID, UserID: userID}
		f.balances[userID] = tb
	}
	return tb
}

// subscription.Repository

func (f *fakeStore) WithinTransaction(fn func(Repository) error) error {
	return fn(f)
}

func (f *fakeStore) Ledger() ledger.Repository {
	return &fakeLedger{f}
}

func (f *fakeStore) GetUserByID(id uint) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func (f *fakeStore) GetPlanByID(id uint) (*models.Plan, error) {
	p, ok := f.plans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

func (f *fakeStore) GetPlanByProviderPriceID(priceID string) (*models.Plan, error) {
	for _, p := range f.plans {
		if p.TestPriceID == priceID || p.LivePriceID == priceID {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeStore) GetSubscriptionForUpdate(providerSubscriptionID string) (*models.Subscription, error) {
	s, ok := f.subscriptions[providerSubscriptionID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) GetEntitledSubscriptionByUser(userID uint) (*models.Subscription, error) {
	for _, s := range f.subscriptions {
		if s.UserID == userID && s.IsEntitling() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeStore) CreateSubscription(sub *models.Subscription) error {
	f.nextSubscriptionID++
	sub.ID = f.nextSubscriptionID
	cp := *sub
	f.subscriptions[sub.ProviderSubscriptionID] = &cp
	return nil
}

func (f *fakeStore) SaveSubscription(sub *models.Subscription) error {
	cp := *sub
	f.subscriptions[sub.ProviderSubscriptionID] = &cp
	return nil
}

func (f *fakeStore) HasFreePlanSubscription(userID uint) (bool, error) {
	for _, s := range f.subscriptions {
		plan, ok := f.plans[s.PlanID]
		if !ok {
			continue
		}
		if s.UserID == userID && plan.IsFreeTier() {
			return true, nil
		}
	}
	return false, nil
}

// fakeLedger exposes the store through the ledger repository surface.
type fakeLedger struct {
	s *fakeStore
}

func (l *fakeLedger) WithinTransaction(fn func(ledger.Repository) error) error {
	return fn(l)
}

func (l *fakeLedger) GetUserByID(id uint) (*models.User, error) {
	return l.s.GetUserByID(id)
}

func (l *fakeLedger) GetBalanceForUpdate(userID uint) (*models.TokenBalance, error) {
	cp := *l.s.balance(userID)
	return &cp, nil
}

func (l *fakeLedger) SaveBalance(tb *models.TokenBalance) error {
	cp := *tb
	l.s.balances[tb.UserID] = &cp
	return nil
}

func (l *fakeLedger) FindPurchaseByKey(key string) (*models.Purchase, error) {
	p, ok := l.s.purchases[key]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

func (l *fakeLedger) CreatePurchase(p *models.Purchase) error {
	l.s.nextPurchaseID++
	p.ID = l.s.nextPurchaseID
	l.s.purchases[p.IdempotencyKey] = p
	return nil
}

func (l *fakeLedger) SetPurchaseReferrerAward(purchaseID, referrerUserID uint, tokens int64) error {
	for _, p := range l.s.purchases {
		if p.ID == purchaseID {
			id := referrerUserID
			p.ReferrerUserID = &id
			p.ReferrerTokensAwarded = tokens
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (l *fakeLedger) FindReferralByReferredUser(referredUserID uint) (*models.Referral, error) {
	r, ok := l.s.referrals[referredUserID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return r, nil
}

func (l *fakeLedger) SaveReferral(r *models.Referral) error {
	l.s.referrals[r.ReferredUserID] = r
	return nil
}

func (l *fakeLedger) CountConvertedReferrals(referrerUserID uint) (int64, error) {
	var n int64
	for _, r := range l.s.referrals {
		if r.ReferrerUserID == referrerUserID && r.IsConverted {
			n++
		}
	}
	return n, nil
}

func (l *fakeLedger) CountReferredPurchases(referrerUserID uint) (int64, error) {
	var n int64
	for _, p := range l.s.purchases {
		if p.ReferrerUserID != nil && *p.ReferrerUserID == referrerUserID {
			n++
		}
	}
	return n, nil
}

func (l *fakeLedger) ListTiersByKind(kind string) ([]models.RewardTier, error) {
	return nil, nil
}

func (l *fakeLedger) HasTierAward(userID, tierID uint) (bool, error) {
	return false, nil
}

func (l *fakeLedger) CreateTierAward(a *models.TierAward) error {
	return nil
}

func (l *fakeLedger) CreateTokenUsage(u *models.TokenUsage) error {
	l.s.usages = append(l.s.usages, u)
	return nil
}

// fakeProvider records provider calls and can fail on demand.
type fakeProvider struct {
	invoices    []int64
	cancels     []string
	resumes     []string
	priceSwaps  []string
	failCalls   bool
	invoiceDesc string
}

func (p *fakeProvider) CreateProrationInvoice(_ context.Context, customerID string, amountCents int64, currency, description string) (string, error) {
	if p.failCalls {
		return "", errProviderDown
	}
	p.invoices = append(p.invoices, amountCents)
	p.invoiceDesc = description
	return "in_test", nil
}

func (p *fakeProvider) CancelSubscription(_ context.Context, subscriptionID string, atPeriodEnd bool) error {
	if p.failCalls {
		return errProviderDown
	}
	p.cancels = append(p.cancels, subscriptionID)
	return nil
}

func (p *fakeProvider) ResumeSubscription(_ context.Context, subscriptionID string) error {
	if p.failCalls {
		return errProviderDown
	}
	p.resumes = append(p.resumes, subscriptionID)
	return nil
}

func (p *fakeProvider) UpdateSubscriptionPrice(_ context.Context, subscriptionID, priceID string) error {
	if p.failCalls {
		return errProviderDown
	}
	p.priceSwaps = append(p.priceSwaps, priceID)
	return nil
}

// fakeEnqueuer records retry enqueues.
type fakeEnqueuer struct {
	ops []string
}

func (e *fakeEnqueuer) EnqueueProviderRetry(op, subscriptionID string, args map[string]string) error {
	e.ops = append(e.ops, op)
	return nil
}
