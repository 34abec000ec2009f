package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"smsgate/internal/config"
	"smsgate/internal/domain"
)

// Vonage implements domain.Transport for the Vonage (Nexmo) SMS API.
type Vonage struct {
	apiKey    string
	apiSecret string
	apiBase   string
	client    *http.Client
	logger    *slog.Logger
}

type VonageConfig struct {
	APIKey    string
	APISecret string
	APIBase   string
	Logger    *slog.Logger
}

func NewVonage(cfg VonageConfig) *Vonage {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://rest.nexmo.com"
	}
	return &Vonage{
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		apiBase:   cfg.APIBase,
		client:    newHTTPClient(defaultHTTPTimeout),
		logger:    cfg.Logger,
	}
}

func (v *Vonage) Name() string { return "vonage" }

type vonageRequest struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	To        string `json:"to"`
	From      string `json:"from"`
	Text      string `json:"text"`
}

type vonageResponse struct {
	Messages []struct {
		Status       string `json:"status"`
		MessageID    string `json:"message-id"`
		MessagePrice string `json:"message-price"`
		ErrorText    string `json:"error-text"`
	} `json:"messages"`
}

// Vonage per-message status codes that mean the account, not the message, is
// the problem.
const (
	vonageStatusOK          = "0"
	vonageStatusThrottled   = "1"
	vonageStatusInvalidCred = "4"
)

func (v *Vonage) Send(ctx context.Context, recipient, body, sender string) (*domain.SendOutcome, error) {
	payload, err := json.Marshal(vonageRequest{
		APIKey:    v.apiKey,
		APISecret: v.apiSecret,
		To:        recipient,
		From:      sender,
		Text:      body,
	})
	if err != nil {
		return nil, &domain.ProviderError{Provider: "vonage", Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.apiBase+"/sms/json", bytes.NewReader(payload))
	if err != nil {
		return nil, &domain.ProviderError{Provider: "vonage", Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, &domain.ProviderError{Provider: "vonage", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.ProviderError{Provider: "vonage", Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	var vr vonageResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, &domain.ProviderError{Provider: "vonage", Message: "decode response", Err: err}
	}
	if len(vr.Messages) == 0 {
		return nil, &domain.ProviderError{Provider: "vonage", Message: "empty response"}
	}

	m := vr.Messages[0]
	switch m.Status {
	case vonageStatusOK:
		// accepted
	case vonageStatusThrottled:
		return nil, &domain.ProviderError{Provider: "vonage", Message: "rate limited: " + m.ErrorText}
	case vonageStatusInvalidCred:
		return nil, &domain.ProviderError{Provider: "vonage", Message: "authentication failed: " + m.ErrorText}
	default:
		return nil, &domain.ProviderError{Provider: "vonage", Message: fmt.Sprintf("status %s: %s", m.Status, m.ErrorText)}
	}

	v.logger.Debug("vonage message accepted", "messageID", m.MessageID)
	return &domain.SendOutcome{
		Success:           true,
		Provider:          "vonage",
		ProviderMessageID: m.MessageID,
		Cost:              m.MessagePrice,
	}, nil
}

func newVonageFromConfig(pc config.ProviderConfig, logger *slog.Logger) domain.Transport {
	return NewVonage(VonageConfig{
		APIKey:    pc.APIKey,
		APISecret: pc.APISecret,
		APIBase:   pc.APIBase,
		Logger:    logger,
	})
}
