package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/tokenworks/tokenbill/app/models"
	"gorm.io/gorm"
)

// Referrers earn 20% of every purchase their referred users make, not just
// the first one. Integer-truncated.
const referralRewardPercent = 20

// runCascade awards the referrer their cut of a credit, marks the referral
// converted and evaluates tier rewards. Runs inside the triggering grant's
// transaction so a rollback takes the cascade down with it.
func (s *Service) runCascade(tx Repository, trigger *models.Purchase) error {
	ref, err := tx.FindReferralByReferredUser(trigger.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	award := trigger.TokensGranted * referralRewardPercent / 100
	if award <= 0 {
		return nil
	}

	// The key derives from the triggering purchase, so a replayed grant never
	// reaches this point twice. Referral rewards themselves don't cascade.
	key := fmt.Sprintf("referral:%d", trigger.ID)
	_, _, err = s.grantTx(tx, ref.ReferrerUserID, award, models.BucketFree, PurchaseContext{
		IdempotencyKey: key,
		Type:           models.PurchaseTypePurchase,
		Currency:       trigger.Currency,
		Status:         models.PurchaseStatusCompleted,
	}, false)
	if err != nil {
		return err
	}

	// Conversion is idempotent: repeat purchases top up tokens_awarded on the
	// same row.
	if !ref.IsConverted {
		now := time.Now()
		ref.IsConverted = true
		ref.ConvertedAt = &now
	}
	ref.TokensAwarded += award
	if err := tx.SaveReferral(ref); err != nil {
		return err
	}

	trigger.ReferrerUserID = &ref.ReferrerUserID
	trigger.ReferrerTokensAwarded = award
	if err := tx.SetPurchaseReferrerAward(trigger.ID, ref.ReferrerUserID, award); err != nil {
		return err
	}

	return s.evaluateTiers(tx, ref.ReferrerUserID)
}

// evaluateTiers checks the referrer's cumulative referral and sales counts
// against the tier tables. The (user, tier) award row is the guard: a tier is
// never paid out twice.
func (s *Service) evaluateTiers(tx Repository, userID uint) error {
	referralCount, err := tx.CountConvertedReferrals(userID)
	if err != nil {
		return err
	}
	salesCount, err := tx.CountReferredPurchases(userID)
	if err != nil {
		return err
	}

	counts := map[string]int64{
		models.TierKindReferral: referralCount,
		models.TierKindSales:    salesCount,
	}
	for kind, count := range counts {
		tiers, err := tx.ListTiersByKind(kind)
		if err != nil {
			return err
		}
		for i := range tiers {
			tier := &tiers[i]
			if !tier.Matches(count) {
				continue
			}
			has, err := tx.HasTierAward(userID, tier.ID)
			if err != nil {
				return err
			}
			if has {
				continue
			}
			if err := tx.CreateTierAward(&models.TierAward{
				UserID:       userID,
				RewardTierID: tier.ID,
				Badge:        tier.Badge,
			}); err != nil {
				return err
			}
			if tier.TokenReward > 0 {
				key := fmt.Sprintf("tier:%d:%d", userID, tier.ID)
				if _, _, err := s.grantTx(tx, userID, tier.TokenReward, models.BucketFree, PurchaseContext{
					IdempotencyKey: key,
					Type:           models.PurchaseTypePurchase,
					Status:         models.PurchaseStatusCompleted,
				}, false); err != nil {
					return err
				}
			}
			// Subscription-months, cash and plaque rewards are recorded on
			// the award row; fulfillment happens outside the ledger.
		}
	}
	return nil
}
