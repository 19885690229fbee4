package billing

import (
	"context"
	"errors"
	"time"

	"github.com/tokenworks/tokenbill/app/models"
	"github.com/tokenworks/tokenbill/internal/pkg/ledger"
	"github.com/tokenworks/tokenbill/internal/pkg/payments"
	"github.com/tokenworks/tokenbill/internal/pkg/pricing"
	"github.com/tokenworks/tokenbill/internal/pkg/subscription"
	"gorm.io/gorm"
)

// memStore backs the whole billing stack in memory for dispatcher tests: it
// serves as subscription repository, ledger repository and webhook-event
// repository over one shared data set.
type memStore struct {
	users         map[uint]*models.User
	plans         map[uint]*models.Plan
	subscriptions map[string]*models.Subscription
	balances      map[uint]*models.TokenBalance
	purchases     map[string]*models.Purchase
	referrals     map[uint]*models.Referral
	events        map[string]*models.WebhookEvent
	processed     map[uint]string

	nextID uint
}

func newMemStore() *memStore {
	return &memStore{
		users:         map[uint]*models.User{},
		plans:         map[uint]*models.Plan{},
		subscriptions: map[string]*models.Subscription{},
		balances:      map[uint]*models.TokenBalance{},
		purchases:     map[string]*models.Purchase{},
		referrals:     map[uint]*models.Referral{},
		events:        map[string]*models.WebhookEvent{},
		processed:     map[uint]string{},
	}
}

func (m *memStore) id() uint {
	m.nextID++
	return m.nextID
}

func (m *memStore) balance(userID uint) *models.TokenBalance {
	tb, ok := m.balances[userID]
	if !ok {
		tb = &models.TokenBalance{ID: userID, UserID: userID}
		m.balances[userID] = tb
	}
	return tb
}

// billing.Repository

func (m *memStore) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	if existing, ok := m.events[event.ProviderEventID]; ok {
		return false, existing, nil
	}
	event.ID = m.id()
	m.events[event.ProviderEventID] = event
	return true, event, nil
}

func (m *memStore) MarkWebhookProcessed(id uint, processingError string) error {
	m.processed[id] = processingError
	return nil
}

// subscription.Repository

func (m *memStore) WithinTransaction(fn func(subscription.Repository) error) error {
	return fn(m)
}

func (m *memStore) Ledger() ledger.Repository {
	return (*memLedger)(m)
}

func (m *memStore) GetUserByID(id uint) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func (m *memStore) GetPlanByID(id uint) (*models.Plan, error) {
	p, ok := m.plans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

func (m *memStore) GetPlanByProviderPriceID(priceID string) (*models.Plan, error) {
	for _, p := range m.plans {
		if p.TestPriceID == priceID || p.LivePriceID == priceID {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memStore) GetSubscriptionForUpdate(providerSubscriptionID string) (*models.Subscription, error) {
	s, ok := m.subscriptions[providerSubscriptionID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) GetEntitledSubscriptionByUser(userID uint) (*models.Subscription, error) {
	for _, s := range m.subscriptions {
		if s.UserID == userID && s.IsEntitling() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memStore) CreateSubscription(sub *models.Subscription) error {
	sub.ID = m.id()
	cp := *sub
	m.subscriptions[sub.ProviderSubscriptionID] = &cp
	return nil
}

func (m *memStore) SaveSubscription(sub *models.Subscription) error {
	cp := *sub
	m.subscriptions[sub.ProviderSubscriptionID] = &cp
	return nil
}

func (m *memStore) HasFreePlanSubscription(userID uint) (bool, error) {
	for _, s := range m.subscriptions {
		plan, ok := m.plans[s.PlanID]
		if ok && s.UserID == userID && plan.IsFreeTier() {
			return true, nil
		}
	}
	return false, nil
}

// memLedger exposes the store through the ledger repository surface.
type memLedger memStore

func (l *memLedger) store() *memStore { return (*memStore)(l) }

func (l *memLedger) WithinTransaction(fn func(ledger.Repository) error) error {
	return fn(l)
}

func (l *memLedger) GetUserByID(id uint) (*models.User, error) {
	return l.store().GetUserByID(id)
}

func (l *memLedger) GetBalanceForUpdate(userID uint) (*models.TokenBalance, error) {
	cp := *l.store().balance(userID)
	return &cp, nil
}

func (l *memLedger) SaveBalance(tb *models.TokenBalance) error {
	cp := *tb
	l.store().balances[tb.UserID] = &cp
	return nil
}

func (l *memLedger) FindPurchaseByKey(key string) (*models.Purchase, error) {
	p, ok := l.store().purchases[key]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

func (l *memLedger) CreatePurchase(p *models.Purchase) error {
	p.ID = l.store().id()
	l.store().purchases[p.IdempotencyKey] = p
	return nil
}

func (l *memLedger) SetPurchaseReferrerAward(purchaseID, referrerUserID uint, tokens int64) error {
	for _, p := range l.store().purchases {
		if p.ID == purchaseID {
			id := referrerUserID
			p.ReferrerUserID = &id
			p.ReferrerTokensAwarded = tokens
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (l *memLedger) FindReferralByReferredUser(referredUserID uint) (*models.Referral, error) {
	r, ok := l.store().referrals[referredUserID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return r, nil
}

func (l *memLedger) SaveReferral(r *models.Referral) error {
	l.store().referrals[r.ReferredUserID] = r
	return nil
}

func (l *memLedger) CountConvertedReferrals(referrerUserID uint) (int64, error) {
	var n int64
	for _, r := range l.store().referrals {
		if r.ReferrerUserID == referrerUserID && r.IsConverted {
			n++
		}
	}
	return n, nil
}

func (l *memLedger) CountReferredPurchases(referrerUserID uint) (int64, error) {
	var n int64
	for _, p := range l.store().purchases {
		if p.ReferrerUserID != nil && *p.ReferrerUserID == referrerUserID {
			n++
		}
	}
	return n, nil
}

func (l *memLedger) ListTiersByKind(kind string) ([]models.RewardTier, error) {
	return nil, nil
}

func (l *memLedger) HasTierAward(userID, tierID uint) (bool, error) {
	return false, nil
}

func (l *memLedger) CreateTierAward(a *models.TierAward) error {
	return nil
}

func (l *memLedger) CreateTokenUsage(u *models.TokenUsage) error {
	return nil
}

// nullProvider satisfies the provider surface and records cancel calls so
// tests can assert the webhook-driven path skips them.
type nullProvider struct {
	cancels int
}

func (p *nullProvider) CreateProrationInvoice(context.Context, string, int64, string, string) (string, error) {
	return "in_test", nil
}

func (p *nullProvider) CancelSubscription(context.Context, string, bool) error {
	p.cancels++
	return nil
}

func (p *nullProvider) ResumeSubscription(context.Context, string) error { return nil }

func (p *nullProvider) UpdateSubscriptionPrice(context.Context, string, string) error { return nil }

// stubPrices serves canned price objects.
type stubPrices struct {
	prices map[string]*payments.Price
	fail   bool
}

func (f *stubPrices) GetPrice(_ context.Context, priceID string) (*payments.Price, error) {
	if f.fail {
		return nil, errors.New("provider unavailable")
	}
	p, ok := f.prices[priceID]
	if !ok {
		return nil, errors.New("no such price")
	}
	return p, nil
}

type testEnv struct {
	svc      *Service
	store    *memStore
	provider *nullProvider
	prices   *stubPrices
}

func newTestEnv() *testEnv {
	store := newMemStore()
	provider := &nullProvider{}
	prices := &stubPrices{prices: map[string]*payments.Price{}}
	granter := ledger.NewService((*memLedger)(store))
	subs := subscription.NewService(store, granter, provider)
	svc := NewService(store, subs, granter, pricing.NewCatalog(map[string]int64{
		"price_tokens_small": 7000,
	}), prices)
	return &testEnv{svc: svc, store: store, provider: provider, prices: prices}
}

func (e *testEnv) addUser(id uint) {
	e.store.users[id] = &models.User{ID: id, StripeCustomerID: "cus_test"}
}

func (e *testEnv) addPlan(p models.Plan) {
	cp := p
	e.store.plans[p.ID] = &cp
}

func (e *testEnv) addSubscription(id string, userID, planID uint, next time.Time) {
	sub := &models.Subscription{
		UserID:                 userID,
		PlanID:                 planID,
		ProviderSubscriptionID: id,
		Status:                 models.SubscriptionStatusActive,
		NextBillingDate:        &next,
	}
	_ = sub.SetChangeMeta(models.ChangeMeta{OriginalPlanID: planID})
	_ = e.store.CreateSubscription(sub)
}
