package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"smsgate/internal/config"
	"smsgate/internal/domain"
)

// AfricasTalking implements domain.Transport for the Africa's Talking bulk
// SMS API.
type AfricasTalking struct {
	username string
	apiKey   string
	apiBase  string
	client   *http.Client
	logger   *slog.Logger
}

type AfricasTalkingConfig struct {
	Username string
	APIKey   string
	APIBase  string
	Logger   *slog.Logger
}

func NewAfricasTalking(cfg AfricasTalkingConfig) *AfricasTalking {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.africastalking.com"
	}
	return &AfricasTalking{
		username: cfg.Username,
		apiKey:   cfg.APIKey,
		apiBase:  cfg.APIBase,
		client:   newHTTPClient(defaultHTTPTimeout),
		logger:   cfg.Logger,
	}
}

func (a *AfricasTalking) Name() string { return "africastalking" }

type atResponse struct {
	SMSMessageData struct {
		Message    string `json:"Message"`
		Recipients []struct {
			Status     string `json:"status"`
			StatusCode int    `json:"statusCode"`
			MessageID  string `json:"messageId"`
			Cost       string `json:"cost"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

func (a *AfricasTalking) Send(ctx context.Context, recipient, body, sender string) (*domain.SendOutcome, error) {
	form := url.Values{}
	form.Set("username", a.username)
	form.Set("to", recipient)
	form.Set("message", body)
	if sender != "" {
		form.Set("from", sender)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+"/version1/messaging", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &domain.ProviderError{Provider: "africastalking", Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &domain.ProviderError{Provider: "africastalking", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &domain.ProviderError{Provider: "africastalking", Message: "authentication failed: check username and API key"}
	}
	if resp.StatusCode >= 400 {
		return nil, &domain.ProviderError{Provider: "africastalking", Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	var ar atResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, &domain.ProviderError{Provider: "africastalking", Message: "decode response", Err: err}
	}
	if len(ar.SMSMessageData.Recipients) == 0 {
		return nil, &domain.ProviderError{Provider: "africastalking", Message: "rejected: " + ar.SMSMessageData.Message}
	}

	r := ar.SMSMessageData.Recipients[0]
	if r.Status != "Success" {
		return nil, &domain.ProviderError{Provider: "africastalking", Message: fmt.Sprintf("%s (code %d)", r.Status, r.StatusCode)}
	}

	a.logger.Debug("africastalking message accepted", "messageID", r.MessageID, "cost", r.Cost)
	return &domain.SendOutcome{
		Success:           true,
		Provider:          "africastalking",
		ProviderMessageID: r.MessageID,
		Cost:              r.Cost,
	}, nil
}

func newAfricasTalkingFromConfig(pc config.ProviderConfig, logger *slog.Logger) domain.Transport {
	return NewAfricasTalking(AfricasTalkingConfig{
		Username: pc.Username,
		APIKey:   pc.APIKey,
		APIBase:  pc.APIBase,
		Logger:   logger,
	})
}
