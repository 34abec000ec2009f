package domain

import "time"

// CampaignStatus is the lifecycle state of a campaign.
// Transitions are one-directional: draft/scheduled -> running -> terminal.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// CanStart reports whether a run may begin from this status.
func (s CampaignStatus) CanStart() bool {
	return s == CampaignDraft || s == CampaignScheduled
}

// Terminal reports whether the status is final.
func (s CampaignStatus) Terminal() bool {
	switch s {
	case CampaignCompleted, CampaignFailed, CampaignCancelled:
		return true
	}
	return false
}

// Campaign is a bulk send across a recipient list. Sent and Failed are
// monotonically non-decreasing while the campaign is running and fixed once a
// terminal status is reached.
type Campaign struct {
	ID         string
	Name       string
	Content    Content
	Variables  map[string]string // substituted when Content references a template
	Provider   string            // optional: requested provider
	Sender     string            // optional: requested sender
	Recipients []string
	Status     CampaignStatus
	Sent       int
	Failed     int
	Total      int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
