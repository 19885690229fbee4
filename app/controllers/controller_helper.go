package controllers

import (
	"github.com/go-playground/validator/v10"

	"github.com/tokenworks/tokenbill/internal/pkg/billing"
	"github.com/tokenworks/tokenbill/internal/pkg/database"
	"github.com/tokenworks/tokenbill/internal/pkg/env"
	"github.com/tokenworks/tokenbill/internal/pkg/jobqueue"
	"github.com/tokenworks/tokenbill/internal/pkg/payments"
	"github.com/tokenworks/tokenbill/internal/pkg/pricing"
)

var validate = validator.New()

// newBillingService wires the billing stack for a request: provider client
// from env, catalog from TOKEN_PRICE_CATALOG, retry queue attached to the
// subscription service.
func newBillingService() *billing.Service {
	provider := payments.NewStripeClientFromEnv()
	catalog := pricing.NewCatalog(pricing.ParseCatalog(env.GetEnv("TOKEN_PRICE_CATALOG", "")))

	svc := billing.NewServiceFromDB(database.GetDB(), provider, catalog)
	queue := jobqueue.GetManager(provider).GetQueue()
	svc.Subscriptions().SetRetryEnqueuer(jobqueue.NewEnqueuer(queue))
	return svc
}
