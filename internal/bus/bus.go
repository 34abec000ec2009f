package bus

import (
	"log/slog"
	"sync"
	"time"

	"smsgate/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based trigger event bus for in-process delivery
// from the inbound gateway to the automation engine.
type InMemoryBus struct {
	events chan domain.TriggerEvent
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		events: make(chan domain.TriggerEvent, bufferSize),
		logger: logger,
	}
}

// Blocks up to 10 seconds if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(ev domain.TriggerEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	select {
	case b.events <- ev:
	default:
		// Bus full — wait with timeout instead of dropping
		b.logger.Warn("event bus full, waiting...", "type", ev.Type, "recipient", ev.Recipient)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.events <- ev:
			b.logger.Info("event delivered after wait", "type", ev.Type)
		case <-timer.C:
			b.logger.Error("event dropped: bus full for 10s",
				"type", ev.Type,
				"recipient", ev.Recipient,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.TriggerEvent {
	return b.events
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.events)
	}
}
