package models

import "time"

// APIKey authenticates widget requests on behalf of a user.
// Only the bcrypt hash of the secret is stored; KeyPrefix narrows the lookup.
type APIKey struct {
	BaseModel
	UserID     string     `json:"user_id" gorm:"size:191;not null;index"`
	Name       string     `json:"name" gorm:"not null"`
	KeyHash    string     `json:"-" gorm:"not null"`
	KeyPrefix  string     `json:"key_prefix" gorm:"size:16;not null;uniqueIndex"`
	IsActive   bool       `json:"is_active" gorm:"not null"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}
