package billing

import "github.com/tokenworks/tokenbill/app/models"

// OperationResult is the envelope every public billing operation returns to
// the web layer: outcome flag, human-readable message, and the mutated
// entities when the operation touched them.
type OperationResult struct {
	Success      bool                 `json:"success"`
	Message      string               `json:"message"`
	Balances     *models.TokenBalance `json:"balances,omitempty"`
	Purchase     *models.Purchase     `json:"purchase,omitempty"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
}

func succeed(message string) *OperationResult {
	return &OperationResult{Success: true, Message: message}
}

// ConfirmPurchaseInput is the direct (non-webhook) purchase confirmation
// request from the API.
type ConfirmPurchaseInput struct {
	PriceID       string `json:"price_id" validate:"required"`
	UserID        uint   `json:"user_id" validate:"required"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email" validate:"omitempty,email"`
}
