package models

import "time"

// User is a form owner. ID is the identity provider's subject.
type User struct {
	ID        string    `json:"id" gorm:"primaryKey;size:191"`
	Email     string    `json:"email" gorm:"size:320;index"`
	Name      string    `json:"name"`
	Plan      Plan      `json:"plan" gorm:"size:20;not null;default:'FREE'"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// QuotaUsage counts accepted submissions for one user in one calendar month
type QuotaUsage struct {
	ID              uint   `json:"-" gorm:"primaryKey"`
	UserID          string `json:"user_id" gorm:"size:191;not null;uniqueIndex:ux_quota_usage_period,priority:1"`
	Year            int    `json:"year" gorm:"not null;uniqueIndex:ux_quota_usage_period,priority:2"`
	Month           int    `json:"month" gorm:"not null;uniqueIndex:ux_quota_usage_period,priority:3"`
	SubmissionCount int    `json:"submission_count" gorm:"not null;default:0"`
}
