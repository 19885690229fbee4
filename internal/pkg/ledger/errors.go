package ledger

import "errors"

var (
	// ErrUserNotFound means the grant/deduct target does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidBucket means the bucket name is not one of the four known buckets.
	ErrInvalidBucket = errors.New("invalid token bucket")
	// ErrInsufficientTokens means a deduction exceeded the combined balance.
	// No partial deduction is ever applied.
	ErrInsufficientTokens = errors.New("insufficient tokens")
	// ErrPersistence wraps storage transaction failures. The transaction is
	// always rolled back as a whole.
	ErrPersistence = errors.New("persistence error")
)
