package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Submission is one accepted form entry
type Submission struct {
	ID               string            `json:"id" gorm:"primaryKey;size:36"`
	FormID           string            `json:"form_id" gorm:"size:36;not null;index"`
	Data             datatypes.JSONMap `json:"data"`
	Email            string            `json:"email,omitempty" gorm:"size:320;index"`
	Unsubscribed     bool              `json:"unsubscribed" gorm:"not null;default:false"`
	CreatedAt        time.Time         `json:"created_at" gorm:"autoCreateTime;index"`
	NotificationLogs []NotificationLog `json:"notification_logs,omitempty"`
}

// BeforeCreate assigns a UUID when the caller did not set one
func (s *Submission) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Notification channels
const (
	ChannelSubmissionConfirmation = "SUBMISSION_CONFIRMATION"
	ChannelDeveloperNotification  = "DEVELOPER_NOTIFICATION"
	ChannelWebhook                = "WEBHOOK"
)

// Notification statuses. PENDING transitions once to a terminal status.
const (
	NotificationPending = "PENDING"
	NotificationSent    = "SENT"
	NotificationFailed  = "FAILED"
	NotificationSkipped = "SKIPPED"
)

// Channels lists every notification channel in dispatch order
var Channels = []string{
	ChannelSubmissionConfirmation,
	ChannelDeveloperNotification,
	ChannelWebhook,
}

// ValidChannel reports whether channel is a known notification channel
func ValidChannel(channel string) bool {
	for _, c := range Channels {
		if c == channel {
			return true
		}
	}
	return false
}

// NotificationLog records one delivery attempt for one channel
type NotificationLog struct {
	BaseModel
	SubmissionID string  `json:"submission_id" gorm:"size:36;not null;index"`
	Channel      string  `json:"channel" gorm:"size:40;not null"`
	Status       string  `json:"status" gorm:"size:20;not null"`
	Error        string  `json:"error,omitempty" gorm:"type:text"`
	SentEmailID  *string `json:"sent_email_id,omitempty" gorm:"size:36"`
}

// Terminal reports whether the log entry has reached its final status
func (l *NotificationLog) Terminal() bool {
	return l.Status != NotificationPending
}

// Unsubscribe records an opt-out for a form, optionally scoped to a campaign
type Unsubscribe struct {
	BaseModel
	Email      string `json:"email" gorm:"size:320;not null;uniqueIndex:ux_unsubscribe_scope,priority:1"`
	FormID     string `json:"form_id" gorm:"size:36;not null;uniqueIndex:ux_unsubscribe_scope,priority:2"`
	CampaignID string `json:"campaign_id,omitempty" gorm:"size:36;not null;default:'';uniqueIndex:ux_unsubscribe_scope,priority:3"`
}
