package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	// StatusDead is a failed job that will not be claimed again.
	StatusDead = "dead"
)

// JobRun is one pipeline job held in the database-backed queue. JobType is
// the stage topic; Payload is the stage envelope.
type JobRun struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobType     string         `gorm:"column:job_type;type:text;not null;index" json:"job_type"`
	LectureID   *uuid.UUID     `gorm:"type:uuid;column:lecture_id;index" json:"lecture_id,omitempty"`
	Status      string         `gorm:"column:status;type:text;not null;index" json:"status"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error       string         `gorm:"column:error;type:text;not null;default:''" json:"error,omitempty"`
	RunAfter    time.Time      `gorm:"column:run_after;not null;index" json:"run_after"`
	LockedAt    *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	Payload     datatypes.JSON `gorm:"column:payload;not null" json:"payload"`
	CreatedAt   time.Time      `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (JobRun) TableName() string { return "job_runs" }

func (j *JobRun) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = StatusQueued
	}
	if j.RunAfter.IsZero() {
		j.RunAfter = time.Now().UTC()
	}
	return nil
}
