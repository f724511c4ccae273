package models

import (
	"strings"

	"gorm.io/datatypes"
)

// FormType is the semantic category of a form
type FormType string

const (
	FormTypeWaitlist FormType = "WAITLIST"
	FormTypeFeedback FormType = "FEEDBACK"
	FormTypeContact  FormType = "CONTACT"
	FormTypeCustom   FormType = "CUSTOM"
)

// Valid reports whether t is a known form type
func (t FormType) Valid() bool {
	switch t {
	case FormTypeWaitlist, FormTypeFeedback, FormTypeContact, FormTypeCustom:
		return true
	}
	return false
}

// ParseFormType parses a form type name case-insensitively. Empty input
// returns "" with ok=true so callers can fall back to schema resolution.
func ParseFormType(s string) (FormType, bool) {
	if strings.TrimSpace(s) == "" {
		return "", true
	}
	t := FormType(strings.ToUpper(strings.TrimSpace(s)))
	return t, t.Valid()
}

// Webhook kinds
const (
	WebhookKindGeneric = "generic"
	WebhookKindSlack   = "slack"
	WebhookKindDiscord = "discord"
)

// EmailSettings controls the email channels of a form
type EmailSettings struct {
	ConfirmationEnabled          bool   `json:"confirmation_enabled"`
	ConfirmationSubject          string `json:"confirmation_subject,omitempty"`
	DeveloperNotificationEnabled bool   `json:"developer_notification_enabled"`
	DeveloperEmail               string `json:"developer_email,omitempty"`
	FromName                     string `json:"from_name,omitempty"`
}

// WebhookSettings configures the optional chat/webhook channel
type WebhookSettings struct {
	URL    string `json:"url,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Secret string `json:"secret,omitempty"`
}

// FormSettings is stored as a JSON column on Form
type FormSettings struct {
	ShowUsersJoined bool            `json:"show_users_joined"`
	Email           EmailSettings   `json:"email"`
	Webhook         WebhookSettings `json:"webhook"`
}

// Form belongs to a user and receives submissions
type Form struct {
	BaseModel
	UserID   string                           `json:"user_id" gorm:"size:191;not null;index"`
	Name     string                           `json:"name" gorm:"not null"`
	FormType FormType                         `json:"form_type" gorm:"size:20"`
	Schema   string                           `json:"schema" gorm:"type:text"`
	Settings datatypes.JSONType[FormSettings] `json:"settings"`
}
