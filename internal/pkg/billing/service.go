package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/tokenworks/tokenbill/app/models"
	"github.com/tokenworks/tokenbill/internal/pkg/ledger"
	"github.com/tokenworks/tokenbill/internal/pkg/payments"
	"github.com/tokenworks/tokenbill/internal/pkg/pricing"
	"github.com/tokenworks/tokenbill/internal/pkg/subscription"
	"gorm.io/gorm"
)

// PriceFetcher looks up provider price objects for token resolution.
// *payments.StripeClient satisfies it.
type PriceFetcher interface {
	GetPrice(ctx context.Context, priceID string) (*payments.Price, error)
}

// Service orchestrates billing operations: it persists webhook events, routes
// them to the subscription state machine and the token ledger, and serves the
// direct purchase-confirmation path.
type Service struct {
	repo    Repository
	subs    *subscription.Service
	tokens  *ledger.Service
	catalog *pricing.Catalog
	prices  PriceFetcher
}

// NewService creates a billing service from injected collaborators.
func NewService(repo Repository, subs *subscription.Service, tokens *ledger.Service, catalog *pricing.Catalog, prices PriceFetcher) *Service {
	return &Service{repo: repo, subs: subs, tokens: tokens, catalog: catalog, prices: prices}
}

// NewServiceFromDB wires the full billing stack against a GORM handle and a
// provider client.
func NewServiceFromDB(db *gorm.DB, provider *payments.StripeClient, catalog *pricing.Catalog) *Service {
	return NewService(
		NewRepository(db),
		subscription.NewServiceFromDB(db, provider),
		ledger.NewServiceFromDB(db),
		catalog,
		provider,
	)
}

// Subscriptions exposes the underlying subscription service for the API layer.
func (s *Service) Subscriptions() *subscription.Service {
	return s.subs
}

// RecordWebhookEvent stores the raw event before any processing. Returns
// duplicate=true when the provider event id was seen before, in which case the
// caller acknowledges without dispatching. Events without an id get a
// payload-hash surrogate so retried deliveries of the same body still dedup.
func (s *Service) RecordWebhookEvent(ev *payments.Event, payload []byte, signatureValid bool) (bool, *models.WebhookEvent, error) {
	eventID := strings.TrimSpace(ev.ID)
	if eventID == "" {
		sum := sha256.Sum256(payload)
		eventID = "payload:" + hex.EncodeToString(sum[:])
	}

	created, stored, err := s.repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		ProviderEventID: eventID,
		EventType:       ev.Type,
		PayloadJSON:     string(payload),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		return false, nil, err
	}
	return !created, stored, nil
}

// MarkProcessed records the dispatch outcome on the stored event.
func (s *Service) MarkProcessed(eventID uint, dispatchErr error) {
	msg := ""
	if dispatchErr != nil {
		msg = dispatchErr.Error()
	}
	if err := s.repo.MarkWebhookProcessed(eventID, msg); err != nil {
		log.Errorf("[Billing] Failed to mark webhook event %d processed: %v", eventID, err)
	}
}

// ConfirmPurchase is the direct (non-webhook) token purchase path: the client
// reports a completed payment for a price id and the ledger credits the addons
// bucket. Retries inside the same hour land on the same synthesized key.
func (s *Service) ConfirmPurchase(ctx context.Context, in ConfirmPurchaseInput) (*OperationResult, error) {
	if in.UserID == 0 {
		return nil, errors.New("user_id is required")
	}
	priceID := strings.TrimSpace(in.PriceID)
	if priceID == "" {
		return nil, errors.New("price_id is required")
	}

	metadata := map[string]string{}
	var amountCents int64
	currency := "usd"
	if s.prices != nil {
		price, err := s.prices.GetPrice(ctx, priceID)
		if err != nil {
			log.Warnf("[Billing] Price lookup failed for %s, falling back to catalog: %v", priceID, err)
		} else {
			metadata = price.Metadata
			amountCents = price.UnitAmountCents
			if price.Currency != "" {
				currency = price.Currency
			}
		}
	}

	tokens := s.catalog.Resolve(priceID, metadata, amountCents)
	purchase, balance, err := s.tokens.Grant(ctx, in.UserID, tokens, models.BucketAddons, ledger.PurchaseContext{
		IdempotencyKey:  ledger.SynthesizeIdempotencyKey(models.PurchaseTypePurchase, in.UserID, time.Now()),
		Type:            models.PurchaseTypePurchase,
		ProviderPriceID: priceID,
		AmountCents:     amountCents,
		Currency:        currency,
	})
	if err != nil {
		return nil, err
	}

	res := succeed("purchase confirmed")
	res.Purchase = purchase
	res.Balances = balance
	return res, nil
}
