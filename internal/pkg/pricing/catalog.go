package pricing

import (
	"strconv"
	"strings"
)

// Tier fallback thresholds when a price id cannot be resolved any other way.
const (
	smallTierMaxCents  = 1000 // <= $10
	mediumTierMaxCents = 5000 // <= $50

	smallTierTokens  = 7000
	mediumTierTokens = 40000
	largeTierTokens  = 100000
)

// Catalog maps provider price ids to token amounts. Injected at wiring time so
// catalog changes never require touching core logic.
type Catalog struct {
	entries map[string]int64
}

// ParseCatalog parses a "priceID:tokens,priceID:tokens" spec, the format the
// TOKEN_PRICE_CATALOG env variable uses. Malformed entries are skipped.
func ParseCatalog(spec string) map[string]int64 {
	entries := map[string]int64{}
	for _, part := range strings.Split(spec, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(kv) != 2 {
			continue
		}
		tokens, err := strconv.ParseInt(strings.TrimSpace(kv[1]), 10, 64)
		if err != nil || tokens <= 0 {
			continue
		}
		entries[strings.TrimSpace(kv[0])] = tokens
	}
	return entries
}

// NewCatalog builds a catalog from price-id -> token entries.
func NewCatalog(entries map[string]int64) *Catalog {
	m := make(map[string]int64, len(entries))
	for k, v := range entries {
		k = strings.TrimSpace(k)
		if k == "" || v <= 0 {
			continue
		}
		m[k] = v
	}
	return &Catalog{entries: m}
}

// Resolve determines the token amount for a provider price id. The fallback
// chain is fixed:
//  1. exact catalog key match
//  2. substring match of a catalog key inside the price id
//  3. "tokens" field in the price metadata
//  4. tiered fallback by unit amount
func (c *Catalog) Resolve(priceID string, metadata map[string]string, unitAmountCents int64) int64 {
	priceID = strings.TrimSpace(priceID)

	if tokens, ok := c.entries[priceID]; ok {
		return tokens
	}

	if priceID != "" {
		for key, tokens := range c.entries {
			if strings.Contains(priceID, key) {
				return tokens
			}
		}
	}

	if raw, ok := metadata["tokens"]; ok {
		if tokens, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && tokens > 0 {
			return tokens
		}
	}

	switch {
	case unitAmountCents <= smallTierMaxCents:
		return smallTierTokens
	case unitAmountCents <= mediumTierMaxCents:
		return mediumTierTokens
	default:
		return largeTierTokens
	}
}
