package notifications

import "time"

type NotificationType string

var (
	AssignmentNotice    NotificationType = "assignment"
	ReminderNotice      NotificationType = "reminder"
	OnboardingNotice    NotificationType = "onboarding"
	RevocationCapNotice NotificationType = "revocation_cap"
)

// Notification records every transactional email handed to the mail
// vendor, one row per recipient.
type Notification struct {
	ID        string           `gorm:"column:id;primaryKey"`
	PlanID    string           `gorm:"column:plan_id;index"`
	Email     string           `gorm:"column:email;index"`
	Type      NotificationType `gorm:"column:type;not null"`
	SentAt    time.Time        `gorm:"column:sent_at"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
}

func (Notification) TableName() string { return "notifications" }
