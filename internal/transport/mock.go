package transport

import (
	"context"
	"log/slog"
	"sync/atomic"

	"smsgate/internal/config"
	"smsgate/internal/domain"

	"github.com/google/uuid"
)

// Mock implements domain.Transport without any network call. It backs the
// default configuration, the doctor command, and tests.
type Mock struct {
	name   string
	fail   bool
	logger *slog.Logger
	sent   atomic.Int64
}

type MockConfig struct {
	Name   string
	Fail   bool // every send fails with a ProviderError
	Logger *slog.Logger
}

func NewMock(cfg MockConfig) *Mock {
	if cfg.Name == "" {
		cfg.Name = "mock"
	}
	return &Mock{
		name:   cfg.Name,
		fail:   cfg.Fail,
		logger: cfg.Logger,
	}
}

func (m *Mock) Name() string { return m.name }

// Sent returns how many sends succeeded.
func (m *Mock) Sent() int64 { return m.sent.Load() }

func (m *Mock) Send(ctx context.Context, recipient, body, sender string) (*domain.SendOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.ProviderError{Provider: m.name, Message: "cancelled", Err: err}
	}
	if m.fail {
		return nil, &domain.ProviderError{Provider: m.name, Message: "mock send failure"}
	}
	m.sent.Add(1)
	m.logger.Debug("mock send", "to", recipient, "len", len(body))
	return &domain.SendOutcome{
		Success:           true,
		Provider:          m.name,
		ProviderMessageID: uuid.NewString(),
	}, nil
}

func newMockFromConfig(pc config.ProviderConfig, logger *slog.Logger) domain.Transport {
	return NewMock(MockConfig{Logger: logger})
}
