package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel provides common fields for all database models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// BeforeCreate assigns a UUID when the caller did not set one
func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// AllModels lists every table managed by AutoMigrate
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&APIKey{},
		&Form{},
		&Submission{},
		&NotificationLog{},
		&SentEmail{},
		&QuotaUsage{},
		&Unsubscribe{},
	}
}
