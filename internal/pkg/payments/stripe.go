package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tokenworks/tokenbill/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com/v1"

// APIError carries a non-2xx provider response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stripe api error: status=%d body=%s", e.Status, e.Body)
}

// StripeClient is a minimal REST client for the provider calls the billing
// core needs. Stripe's API is form-encoded over HTTPS.
type StripeClient struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
}

// Price is the subset of a provider price object used for token resolution.
type Price struct {
	ID              string            `json:"id"`
	UnitAmountCents int64             `json:"unit_amount"`
	Currency        string            `json:"currency"`
	Metadata        map[string]string `json:"metadata"`
}

func NewStripeClientFromEnv() *StripeClient {
	return &StripeClient{
		APIKey:     strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		APIBaseURL: strings.TrimSpace(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateProrationInvoice creates an invoice item for the prorated charge,
// wraps it in an invoice and pays it immediately. Returns the invoice id.
func (c *StripeClient) CreateProrationInvoice(ctx context.Context, customerID string, amountCents int64, currency, description string) (string, error) {
	if strings.TrimSpace(customerID) == "" {
		return "", errors.New("customer id is required")
	}
	if amountCents <= 0 {
		// Nothing to invoice; downgrades can prorate to zero.
		return "", nil
	}

	item := url.Values{}
	item.Set("customer", customerID)
	item.Set("amount", fmt.Sprintf("%d", amountCents))
	item.Set("currency", strings.ToLower(strings.TrimSpace(currency)))
	item.Set("description", description)
	if err := c.doForm(ctx, http.MethodPost, "/invoiceitems", item, nil); err != nil {
		return "", err
	}

	inv := url.Values{}
	inv.Set("customer", customerID)
	inv.Set("auto_advance", "true")
	var created struct {
		ID string `json:"id"`
	}
	if err := c.doForm(ctx, http.MethodPost, "/invoices", inv, &created); err != nil {
		return "", err
	}
	if strings.TrimSpace(created.ID) == "" {
		return "", errors.New("stripe invoice creation returned empty id")
	}

	if err := c.doForm(ctx, http.MethodPost, "/invoices/"+created.ID+"/pay", url.Values{}, nil); err != nil {
		return created.ID, err
	}
	return created.ID, nil
}

// CancelSubscription cancels at the provider, either immediately or at the
// period end.
func (c *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) error {
	if strings.TrimSpace(subscriptionID) == "" {
		return errors.New("subscription id is required")
	}
	if atPeriodEnd {
		form := url.Values{}
		form.Set("cancel_at_period_end", "true")
		return c.doForm(ctx, http.MethodPost, "/subscriptions/"+subscriptionID, form, nil)
	}
	return c.doForm(ctx, http.MethodDelete, "/subscriptions/"+subscriptionID, url.Values{}, nil)
}

// ResumeSubscription clears a pending period-end cancellation.
func (c *StripeClient) ResumeSubscription(ctx context.Context, subscriptionID string) error {
	if strings.TrimSpace(subscriptionID) == "" {
		return errors.New("subscription id is required")
	}
	form := url.Values{}
	form.Set("cancel_at_period_end", "false")
	return c.doForm(ctx, http.MethodPost, "/subscriptions/"+subscriptionID, form, nil)
}

// UpdateSubscriptionPrice swaps the subscription's price at the provider.
// Proration is computed locally, so the provider-side proration is disabled.
func (c *StripeClient) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) error {
	if strings.TrimSpace(subscriptionID) == "" || strings.TrimSpace(priceID) == "" {
		return errors.New("subscription id and price id are required")
	}

	var sub struct {
		Items struct {
			Data []struct {
				ID string `json:"id"`
			} `json:"data"`
		} `json:"items"`
	}
	if err := c.doForm(ctx, http.MethodGet, "/subscriptions/"+subscriptionID, nil, &sub); err != nil {
		return err
	}
	if len(sub.Items.Data) == 0 {
		return errors.New("stripe subscription has no items")
	}

	form := url.Values{}
	form.Set("items[0][id]", sub.Items.Data[0].ID)
	form.Set("items[0][price]", priceID)
	form.Set("proration_behavior", "none")
	return c.doForm(ctx, http.MethodPost, "/subscriptions/"+subscriptionID, form, nil)
}

// GetPrice fetches a price with its metadata.
func (c *StripeClient) GetPrice(ctx context.Context, priceID string) (*Price, error) {
	if strings.TrimSpace(priceID) == "" {
		return nil, errors.New("price id is required")
	}
	var p Price
	if err := c.doForm(ctx, http.MethodGet, "/prices/"+priceID, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *StripeClient) doForm(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("STRIPE_SECRET_KEY is not configured")
	}

	endpoint := strings.TrimRight(c.APIBaseURL, "/") + path
	var body io.Reader
	if method != http.MethodGet && form != nil {
		body = strings.NewReader(form.Encode())
	}
	if method == http.MethodGet && len(form) > 0 {
		endpoint += "?" + form.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return err
		}
	}
	return nil
}
