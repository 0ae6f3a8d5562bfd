package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// A duplicate credit is not an error: it is CreditResult{Applied: false}.

var (
	// Configuration errors: the engine refuses to compute rather than guess.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// Reference errors are propagated, not retried.
	ErrUnknownReference = errors.New("unknown reference")
	ErrHabitNotFound    = fmt.Errorf("habit not found: %w", ErrUnknownReference)
	ErrPayoutNotFound   = fmt.Errorf("payout not found: %w", ErrUnknownReference)

	// Persistence unavailable; the caller retries the whole call.
	ErrTransientStore = errors.New("store temporarily unavailable")

	// Input errors
	ErrInvalidActivity   = errors.New("invalid activity")
	ErrNegativeDelta     = fmt.Errorf("xp and coin deltas must be >= 0: %w", ErrInvalidActivity)
	ErrInvalidCadence    = fmt.Errorf("habit cadence must be 7, 21 or 30 days: %w", ErrInvalidActivity)
	ErrSelfReferral      = fmt.Errorf("user cannot refer themselves: %w", ErrInvalidActivity)
	ErrReferralCycle     = fmt.Errorf("referral would create a cycle: %w", ErrInvalidActivity)
	ErrAlreadyReferred   = errors.New("user already has a referrer")
	ErrUnknownEventType  = fmt.Errorf("unknown commission event type: %w", ErrInvalidActivity)
)

// ConfigError describes a malformed rule, table or catalog entry.
// It matches ErrInvalidConfiguration under errors.Is.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Is reports ErrInvalidConfiguration as the sentinel for all ConfigErrors.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}
