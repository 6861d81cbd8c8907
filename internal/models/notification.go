package models

import (
	"time"
)

type NotificationType string

const (
	NotificationAchievementEarned  NotificationType = "achievement_earned"
	NotificationSubmissionReceived NotificationType = "submission_received"
	NotificationAssignmentCreated  NotificationType = "assignment_created"
)

type Notification struct {
	ID        string           `json:"id" gorm:"primaryKey;size:64"`
	UserID    string           `json:"user_id" gorm:"not null;index;size:255"`
	Type      NotificationType `json:"type" gorm:"size:50"`
	Title     string           `json:"title" gorm:"size:200"`
	Message   string           `json:"message" gorm:"type:text"`
	Read      bool             `json:"read" gorm:"default:false"`
	CreatedAt time.Time        `json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
