package task

import "time"

// Job records every batch task handed to the queue, so operators can audit
// what the scheduler enqueued and when.
type Job struct {
	ID          string     `gorm:"column:id;primaryKey"`
	TaskName    string     `gorm:"column:task_name;index;not null"`
	ReferenceID string     `gorm:"column:reference_id;index"`
	Status      string     `gorm:"column:status;not null;default:'pending'"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
}

func (Job) TableName() string { return "jobs" }
