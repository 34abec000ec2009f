package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by store lookups for missing rows.
var ErrNotFound = errors.New("not found")

// TriggerHistory is the rate-limit history backend for autoresponders.
// Counts and timestamps must be maintained atomically so that concurrent
// evaluations (and multiple process instances) never lose updates.
type TriggerHistory interface {
	SaveTriggerRecord(ctx context.Context, rec *TriggerRecord) error
	UpdateTriggerRecord(ctx context.Context, id string, outcome TriggerOutcome) error
	// CountSuccessfulTriggers counts processed, successful records for the
	// (rule, recipient) pair.
	CountSuccessfulTriggers(ctx context.Context, ruleID, recipient string) (int, error)
	// LastTriggerTime returns the newest record timestamp for the pair, or the
	// zero time when no record exists.
	LastTriggerTime(ctx context.Context, ruleID, recipient string) (time.Time, error)
}

// Store is the persistence collaborator the core depends on. The core never
// embeds storage logic itself.
type Store interface {
	TriggerHistory

	RecordSendAttempt(ctx context.Context, msg *Message, outcome *SendOutcome) error

	SaveTemplate(ctx context.Context, tpl *Template) error
	GetTemplate(ctx context.Context, key string) (*Template, error)

	SaveCampaign(ctx context.Context, c *Campaign) error
	LoadCampaign(ctx context.Context, id string) (*Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id string, status CampaignStatus) error
	// IncrementCampaignCounts adds to the sent/failed counters atomically
	// (row-level increment, safe under concurrent delivery).
	IncrementCampaignCounts(ctx context.Context, id string, sent, failed int) error
}
