package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobNew       JobStatus = "new"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobStopped   JobStatus = "stopped"
	JobFailed    JobStatus = "failed"
)

type JobKind string

const (
	KindUpload     JobKind = "upload"
	KindReclassify JobKind = "reclassify"
)

// Settings are per-job knobs, mutable independent of run state.
type Settings struct {
	BatchSize      int `json:"batch_size"`
	MaxStepSeconds int `json:"max_step_seconds"`
}

// Job is one bulk classification run. ID is the numeric identity used by items;
// UUID is the opaque public handle.
type Job struct {
	ID             uint64                       `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID           uuid.UUID                    `gorm:"type:uuid;not null;uniqueIndex" json:"uuid"`
	Kind           string                       `gorm:"column:kind;not null;index" json:"kind"`
	Status         string                       `gorm:"column:status;not null;index" json:"status"`
	Source         string                       `gorm:"column:source;type:text" json:"source"`
	StagingDir     string                       `gorm:"column:staging_dir" json:"staging_dir,omitempty"`
	TotalItems     int                          `gorm:"column:total_items;not null;default:0" json:"total_items"`
	ProcessedItems int                          `gorm:"column:processed_items;not null;default:0" json:"processed_items"`
	SuccessCount   int                          `gorm:"column:success_count;not null;default:0" json:"success_count"`
	FailCount      int                          `gorm:"column:fail_count;not null;default:0" json:"fail_count"`
	SkippedCount   int                          `gorm:"column:skipped_count;not null;default:0" json:"skipped_count"`
	LastError      string                       `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	Settings       datatypes.JSONType[Settings] `gorm:"column:settings" json:"settings"`
	CreatedAt      time.Time                    `gorm:"not null;index" json:"created_at"`
	StartedAt      *time.Time                   `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt     *time.Time                   `gorm:"column:finished_at" json:"finished_at,omitempty"`
	UpdatedAt      time.Time                    `gorm:"not null" json:"updated_at"`
}

func (Job) TableName() string { return "classification_job" }

// Terminal reports whether the job stopped advancing in normal flow.
func (j *Job) Terminal() bool {
	switch JobStatus(j.Status) {
	case JobCompleted, JobStopped, JobFailed:
		return true
	}
	return false
}
