package domain

import (
	"fmt"
	"time"
)

// ValidationError reports malformed input, rejected before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProviderError is a single provider's send failure (auth, bad destination,
// provider-side rate limit, timeout). The dispatch engine recovers from it by
// falling back to the next provider in the chain.
type ProviderError struct {
	Provider string
	Message  string
	Err      error // underlying cause, may be nil
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// DispatchExhaustedError means every provider in the fallback chain failed.
type DispatchExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *DispatchExhaustedError) Error() string {
	return fmt.Sprintf("all %d providers in fallback chain failed, last error: %v", e.Attempts, e.LastErr)
}

func (e *DispatchExhaustedError) Unwrap() error { return e.LastErr }

// InvalidStateError reports an operation against an entity in an incompatible
// lifecycle state.
type InvalidStateError struct {
	Entity string
	ID     string
	State  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s is in state %q", e.Entity, e.ID, e.State)
}

// RateLimitError rejects an autoresponder trigger whose per-recipient limit is
// reached. No send was attempted.
type RateLimitError struct {
	RuleID    string
	Recipient string
	Limit     int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rule %s: recipient %s reached trigger limit %d", e.RuleID, e.Recipient, e.Limit)
}

// CooldownError rejects an autoresponder trigger arriving inside the rule's
// cooldown window. No send was attempted.
type CooldownError struct {
	RuleID    string
	Recipient string
	RetryAt   time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("rule %s: recipient %s in cooldown until %s", e.RuleID, e.Recipient, e.RetryAt.Format(time.RFC3339))
}
