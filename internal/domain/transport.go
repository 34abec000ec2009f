package domain

import "context"

// Transport delivers one message through one named external provider.
// Adapters translate provider-specific failures into *ProviderError and never
// retry; fallback across providers belongs to the dispatch engine.
type Transport interface {
	Name() string
	Send(ctx context.Context, recipient, body, sender string) (*SendOutcome, error)
}
