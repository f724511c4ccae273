package models

import "time"

// SentEmail statuses
const (
	SentEmailQueued = "QUEUED"
	SentEmailSent   = "SENT"
	SentEmailFailed = "FAILED"
)

// SentEmail tracks one outbound email and its engagement.
// Counters only grow; First* timestamps are written once.
type SentEmail struct {
	BaseModel
	FormID            string     `json:"form_id" gorm:"size:36;index"`
	SubmissionID      string     `json:"submission_id" gorm:"size:36;index"`
	CampaignID        string     `json:"campaign_id,omitempty" gorm:"size:36;index"`
	Channel           string     `json:"channel" gorm:"size:40"`
	Recipient         string     `json:"recipient" gorm:"size:320;index"`
	Subject           string     `json:"subject"`
	Status            string     `json:"status" gorm:"size:20;not null"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	OpenCount         int        `json:"open_count" gorm:"not null;default:0"`
	ClickCount        int        `json:"click_count" gorm:"not null;default:0"`
	FirstOpenedAt     *time.Time `json:"first_opened_at,omitempty"`
	LastOpenedAt      *time.Time `json:"last_opened_at,omitempty"`
	FirstClickedAt    *time.Time `json:"first_clicked_at,omitempty"`
	LastClickedAt     *time.Time `json:"last_clicked_at,omitempty"`
	BounceReason      string     `json:"bounce_reason,omitempty"`
	MarkedSpam        bool       `json:"marked_spam" gorm:"not null;default:false"`
	Unsubscribed      bool       `json:"unsubscribed" gorm:"not null;default:false"`
}
