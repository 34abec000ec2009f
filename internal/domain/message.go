package domain

import "time"

// Message is a single send request. Immutable once constructed.
type Message struct {
	ID          string
	Recipient   string
	Sender      string // optional: provider default sender is used when empty
	Body        string
	Provider    string // optional: requested provider name
	TemplateKey string // optional: template the body was rendered from
	CreatedAt   time.Time
}

// SendOutcome is the result of one send attempt through one provider.
type SendOutcome struct {
	Success           bool
	Provider          string
	ProviderMessageID string
	Cost              string // provider-reported price, opaque string (e.g. "0.0075 USD")
	Err               string // error description when Success is false
}
