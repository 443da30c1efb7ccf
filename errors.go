package credits

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("credits: not found")
	ErrAlreadyExists = errors.New("credits: already exists")
	ErrInvalidInput  = errors.New("credits: invalid input")

	// Account errors
	ErrAccountNotFound = errors.New("credits: account not found")

	// Ledger errors
	ErrInsufficientCredits = errors.New("credits: insufficient credits")
	ErrInvalidReason       = errors.New("credits: invalid entry reason")
	ErrInvalidAmount       = errors.New("credits: invalid amount")

	// Artifact errors
	ErrArtifactNotFound = errors.New("credits: artifact not found")
	ErrNotOwner         = errors.New("credits: artifact belongs to another account")

	// Plan errors
	ErrInvalidPlan = errors.New("credits: unknown plan")
	ErrSamePlan    = errors.New("credits: already on this plan")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("credits: subscription not found")
	ErrNoActiveSubscription = errors.New("credits: no active subscription")
	ErrNoPendingDowngrade   = errors.New("credits: no downgrade scheduled")
	ErrStaleSubscription    = errors.New("credits: subscription state is newer than the requested change")

	// Provider errors
	ErrPaymentProvider       = errors.New("credits: payment provider call failed")
	ErrProviderNotConfigured = errors.New("credits: payment provider not configured")
	ErrSignatureInvalid      = errors.New("credits: webhook signature verification failed")

	// Store errors
	ErrStoreNotReady     = errors.New("credits: store not ready")
	ErrStoreClosed       = errors.New("credits: store is closed")
	ErrTransactionFailed = errors.New("credits: transaction failed")
	ErrMigrationFailed   = errors.New("credits: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("credits: validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrArtifactNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound)
}

// IsAlreadyExists returns true if the error is a uniqueness violation.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsInsufficient returns true if the error means the account cannot afford
// the requested debit.
func IsInsufficient(err error) bool {
	return errors.Is(err, ErrInsufficientCredits)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed) ||
		errors.Is(err, ErrPaymentProvider)
}
