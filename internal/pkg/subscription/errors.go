package subscription

import "errors"

var (
	// ErrSubscriptionNotFound means no local row matches the provider
	// subscription id.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrPlanNotFound means the referenced plan is missing from the catalog.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrInvalidState means the transition is not legal from the current
	// state, e.g. resuming a non-canceled subscription or one past ends_at.
	ErrInvalidState = errors.New("invalid subscription state")
)
