// Package dispatch routes messages through the provider fallback chain and
// drives bulk delivery for campaigns.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"smsgate/internal/config"
	"smsgate/internal/domain"
	"smsgate/internal/metrics"
	"smsgate/internal/transport"

	"github.com/google/uuid"
)

// Engine resolves a provider ordering per send and attempts each provider in
// turn until one succeeds.
type Engine struct {
	cfg      *config.Config
	registry *transport.Registry
	store    domain.Store
	logger   *slog.Logger
	timeout  time.Duration
}

func NewEngine(cfg *config.Config, registry *transport.Registry, store domain.Store, logger *slog.Logger) *Engine {
	timeout := time.Duration(cfg.General.SendTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{
		cfg:      cfg,
		registry: registry,
		store:    store,
		logger:   logger,
		timeout:  timeout,
	}
}

// Send delivers one message, falling back through the configured provider
// chain. Every attempt, including intermediate failures, is recorded through
// the store as an independent event. When every provider fails the returned
// error is a *domain.DispatchExhaustedError carrying the last provider error.
func (e *Engine) Send(ctx context.Context, msg *domain.Message) (*domain.SendOutcome, error) {
	if msg.Recipient == "" {
		return nil, &domain.ValidationError{Field: "recipient", Reason: "must not be empty"}
	}
	if msg.Body == "" {
		return nil, &domain.ValidationError{Field: "body", Reason: "must not be empty"}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	chain := e.providerChain(msg.Provider)
	if len(chain) == 0 {
		return nil, &domain.DispatchExhaustedError{
			Attempts: 0,
			LastErr:  fmt.Errorf("no configured providers in fallback chain"),
		}
	}

	var lastErr error
	for _, name := range chain {
		t, err := e.registry.Get(name)
		if err != nil {
			// Chain entries are pre-filtered; this only fires when config
			// changed between resolution and use.
			e.logger.Warn("provider unavailable, skipping", "provider", name, "err", err)
			continue
		}

		sender := msg.Sender
		if sender == "" {
			sender = e.registry.DefaultSender(name)
		}

		outcome, err := e.attempt(ctx, t, msg, sender)
		e.record(ctx, msg, outcome)

		if err == nil {
			e.logger.Info("message dispatched",
				"id", msg.ID,
				"provider", name,
				"to", msg.Recipient,
			)
			return outcome, nil
		}

		lastErr = err
		e.logger.Warn("provider failed, trying next",
			"id", msg.ID,
			"provider", name,
			"err", err,
		)
	}

	return nil, &domain.DispatchExhaustedError{Attempts: len(chain), LastErr: lastErr}
}

// attempt runs one provider call under the per-attempt timeout and always
// returns a non-nil outcome describing what happened.
func (e *Engine) attempt(ctx context.Context, t domain.Transport, msg *domain.Message, sender string) (*domain.SendOutcome, error) {
	sctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	outcome, err := t.Send(sctx, msg.Recipient, msg.Body, sender)
	elapsed := time.Since(start)

	status := "sent"
	if err != nil {
		status = "failed"
		outcome = &domain.SendOutcome{
			Success:  false,
			Provider: t.Name(),
			Err:      err.Error(),
		}
	}

	metrics.Default.Counter("smsgate_send_attempts_total", "Send attempts by provider and status",
		fmt.Sprintf(`provider=%q,status=%q`, t.Name(), status)).Inc()
	metrics.Default.Histogram("smsgate_send_duration_seconds", "Provider send latency",
		fmt.Sprintf(`provider=%q`, t.Name())).Observe(elapsed.Seconds())

	return outcome, err
}

func (e *Engine) record(ctx context.Context, msg *domain.Message, outcome *domain.SendOutcome) {
	if err := e.store.RecordSendAttempt(ctx, msg, outcome); err != nil {
		e.logger.Error("cannot record send attempt", "id", msg.ID, "err", err)
	}
}

// providerChain resolves the ordered provider list for one send: the requested
// provider (or the system default) first, then the configured fallback chain,
// duplicates removed in first-seen order. Names without a usable configuration
// are skipped rather than failing the call; a Warn makes typos visible.
func (e *Engine) providerChain(requested string) []string {
	candidates := make([]string, 0, len(e.cfg.General.FallbackChain)+1)
	if requested != "" {
		candidates = append(candidates, requested)
	} else if e.cfg.General.DefaultProvider != "" {
		candidates = append(candidates, e.cfg.General.DefaultProvider)
	}
	candidates = append(candidates, e.cfg.General.FallbackChain...)

	seen := make(map[string]bool, len(candidates))
	var chain []string
	for _, name := range candidates {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if !e.registry.Configured(name) {
			e.logger.Warn("provider not configured, skipping in fallback chain", "provider", name)
			continue
		}
		chain = append(chain, name)
	}
	return chain
}
