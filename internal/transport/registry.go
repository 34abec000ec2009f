// Package transport holds one adapter per external SMS provider plus the
// name-keyed registry the dispatch engine selects them from.
package transport

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"smsgate/internal/config"
	"smsgate/internal/domain"
)

// Constructor builds a transport from its providers map entry.
type Constructor func(pc config.ProviderConfig, logger *slog.Logger) domain.Transport

// Registry creates and caches transports by provider name. New providers are
// added by registering a constructor, not by touching the dispatch engine.
type Registry struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]Constructor
	cache        map[string]domain.Transport
	mu           sync.RWMutex
}

func NewRegistry(cfg *config.Config, logger *slog.Logger) *Registry {
	r := &Registry{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]Constructor),
		cache:        make(map[string]domain.Transport),
	}
	r.registerDefaults()
	return r
}

// Register adds (or replaces) a transport constructor by name.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = ctor
}

func (r *Registry) registerDefaults() {
	r.constructors["twilio"] = newTwilioFromConfig
	r.constructors["vonage"] = newVonageFromConfig
	r.constructors["africastalking"] = newAfricasTalkingFromConfig
	r.constructors["telegram"] = newTelegramFromConfig
	r.constructors["mock"] = newMockFromConfig
}

// Get returns the transport for the given provider name. Created transports
// are cached so the same instance is reused across calls. Uses double-check
// locking to avoid TOCTOU races.
func (r *Registry) Get(name string) (domain.Transport, error) {
	r.mu.RLock()
	if cached, ok := r.cache[name]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.cache[name]; ok {
		return cached, nil
	}

	pc, ok := r.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	ctor, ok := r.constructors[name]
	if !ok {
		return nil, fmt.Errorf("provider %s: no constructor registered", name)
	}

	t := ctor(pc, r.logger)
	r.cache[name] = t
	return t, nil
}

// Configured reports whether the name has an enabled providers entry with a
// registered constructor.
func (r *Registry) Configured(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pc, ok := r.cfg.Providers[name]
	if !ok || !pc.Enabled {
		return false
	}
	_, ok = r.constructors[name]
	return ok
}

// Names returns the configured, enabled provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, pc := range r.cfg.Providers {
		if pc.Enabled {
			if _, ok := r.constructors[name]; ok {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// DefaultSender returns the provider's configured default sender address.
func (r *Registry) DefaultSender(name string) string {
	return r.cfg.Providers[name].Sender
}
