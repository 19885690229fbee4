package ledger

import "github.com/tokenworks/tokenbill/app/models"

// PurchaseContext carries the provenance of a grant. IdempotencyKey is
// usually the provider session/event id; when absent the engine synthesizes
// one deterministically so repeated client calls cannot duplicate grants.
type PurchaseContext struct {
	IdempotencyKey  string
	Type            string
	PlanID          *uint
	ProviderPriceID string
	AmountCents     int64
	Currency        string
	Status          string
}

// DeductOptions tune a deduction. A nil/empty PriorityOverride uses the fixed
// registration -> free -> subscription -> addons order. InputTokens and
// OutputTokens feed the usage-analytics record; when both are zero the engine
// estimates a 20/80 split.
type DeductOptions struct {
	PriorityOverride []string
	InputTokens      int64
	OutputTokens     int64
}

// DeductionBreakdown reports how a deduction was satisfied bucket by bucket.
type DeductionBreakdown struct {
	Total    int64
	ByBucket map[string]int64
	Balance  *models.TokenBalance
}
