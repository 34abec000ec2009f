package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"smsgate/internal/config"
	"smsgate/internal/domain"
)

// Twilio implements domain.Transport for the Twilio Messages API.
type Twilio struct {
	accountSID string
	authToken  string
	apiBase    string
	client     *http.Client
	logger     *slog.Logger
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	APIBase    string
	Logger     *slog.Logger
}

func NewTwilio(cfg TwilioConfig) *Twilio {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.twilio.com"
	}
	return &Twilio{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		apiBase:    cfg.APIBase,
		client:     newHTTPClient(defaultHTTPTimeout),
		logger:     cfg.Logger,
	}
}

func (t *Twilio) Name() string { return "twilio" }

type twilioResponse struct {
	SID          string  `json:"sid"`
	Status       string  `json:"status"`
	Price        *string `json:"price"`
	PriceUnit    string  `json:"price_unit"`
	ErrorCode    *int    `json:"code"`
	ErrorMessage string  `json:"message"`
}

func (t *Twilio) Send(ctx context.Context, recipient, body, sender string) (*domain.SendOutcome, error) {
	form := url.Values{}
	form.Set("To", recipient)
	form.Set("From", sender)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.apiBase, t.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &domain.ProviderError{Provider: "twilio", Message: "build request", Err: err}
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &domain.ProviderError{Provider: "twilio", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ProviderError{Provider: "twilio", Message: "read response", Err: err}
	}

	var tr twilioResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, &domain.ProviderError{Provider: "twilio", Message: fmt.Sprintf("unexpected response (HTTP %d)", resp.StatusCode), Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &domain.ProviderError{Provider: "twilio", Message: "authentication failed: check account SID and auth token"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &domain.ProviderError{Provider: "twilio", Message: "rate limited"}
	case resp.StatusCode >= 400:
		msg := tr.ErrorMessage
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		if tr.ErrorCode != nil {
			msg = fmt.Sprintf("%s (code %d)", msg, *tr.ErrorCode)
		}
		return nil, &domain.ProviderError{Provider: "twilio", Message: msg}
	}

	cost := ""
	if tr.Price != nil {
		cost = strings.TrimPrefix(*tr.Price, "-")
		if tr.PriceUnit != "" {
			cost += " " + tr.PriceUnit
		}
	}

	t.logger.Debug("twilio message accepted", "sid", tr.SID, "status", tr.Status)
	return &domain.SendOutcome{
		Success:           true,
		Provider:          "twilio",
		ProviderMessageID: tr.SID,
		Cost:              cost,
	}, nil
}

// newTwilioFromConfig adapts a providers map entry into the adapter config.
func newTwilioFromConfig(pc config.ProviderConfig, logger *slog.Logger) domain.Transport {
	return NewTwilio(TwilioConfig{
		AccountSID: pc.APIKey,
		AuthToken:  pc.APISecret,
		APIBase:    pc.APIBase,
		Logger:     logger,
	})
}
