package transport

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"smsgate/internal/config"
	"smsgate/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram implements domain.Transport over the Telegram Bot API. Recipients
// are chat IDs rather than phone numbers; the adapter serves as a notification
// fallback channel in a chain of SMS providers.
type Telegram struct {
	token  string
	logger *slog.Logger

	mu  sync.Mutex
	bot *tgbotapi.BotAPI // connected lazily on first send
}

type TelegramTransportConfig struct {
	Token  string
	Logger *slog.Logger
}

func NewTelegram(cfg TelegramTransportConfig) *Telegram {
	return &Telegram{
		token:  cfg.Token,
		logger: cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// connect initializes the bot once. NewBotAPI performs a getMe call, so it is
// deferred until a send actually needs the connection.
func (t *Telegram) connect() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return nil, err
	}
	t.logger.Info("telegram transport connected", "username", bot.Self.UserName)
	t.bot = bot
	return bot, nil
}

func (t *Telegram) Send(ctx context.Context, recipient, body, sender string) (*domain.SendOutcome, error) {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return nil, &domain.ProviderError{Provider: "telegram", Message: "recipient is not a chat ID: " + recipient}
	}

	bot, err := t.connect()
	if err != nil {
		return nil, &domain.ProviderError{Provider: "telegram", Message: "bot init failed", Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, &domain.ProviderError{Provider: "telegram", Message: "cancelled", Err: err}
	}

	sent, err := bot.Send(tgbotapi.NewMessage(chatID, body))
	if err != nil {
		return nil, &domain.ProviderError{Provider: "telegram", Message: "send failed", Err: err}
	}

	return &domain.SendOutcome{
		Success:           true,
		Provider:          "telegram",
		ProviderMessageID: strconv.Itoa(sent.MessageID),
	}, nil
}

func newTelegramFromConfig(pc config.ProviderConfig, logger *slog.Logger) domain.Transport {
	return NewTelegram(TelegramTransportConfig{
		Token:  pc.Token,
		Logger: logger,
	})
}
