package domain

import "time"

// TriggerType classifies an inbound event.
type TriggerType string

const (
	TriggerKeyword    TriggerType = "keyword"
	TriggerMessage    TriggerType = "message"
	TriggerMissedCall TriggerType = "missed_call"
	TriggerWebhook    TriggerType = "webhook"
)

// MatchMode controls how a rule's keywords are compared against the event payload.
type MatchMode string

const (
	MatchExact    MatchMode = "exact"
	MatchContains MatchMode = "contains"
)

// Rule is one configured autoresponder: a trigger condition plus a reply.
// Rules are immutable during a single trigger evaluation.
type Rule struct {
	ID              string
	Name            string
	Trigger         TriggerType
	Keywords        []string // matching values; hook names for webhook rules
	Match           MatchMode
	CaseSensitive   bool
	Content         Content
	Provider        string        // optional: requested provider for the reply
	Sender          string        // optional: requested sender for the reply
	MaxPerRecipient int           // 0 = unlimited
	Cooldown        time.Duration // 0 = none
	Active          bool
}

// TriggerEvent is one inbound occurrence evaluated against the rule set.
type TriggerEvent struct {
	Recipient string
	Type      TriggerType
	Payload   map[string]string // type-specific: keyword, text, hook, plus template variables
	Timestamp time.Time
}

// TriggerRecord is the history row written when a rule matches an event.
// It is created unprocessed before the send and updated exactly once with the
// outcome. Records are never deleted by this package.
type TriggerRecord struct {
	ID                string
	RuleID            string
	Recipient         string
	Timestamp         time.Time
	Processed         bool
	Success           bool
	ResponseMessageID string
	Err               string
}

// TriggerOutcome is the delivery result applied to an existing TriggerRecord.
type TriggerOutcome struct {
	Success           bool
	ResponseMessageID string
	Err               string
}
