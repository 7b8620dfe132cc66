package jobs

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type ItemStatus string

const (
	ItemPending     ItemStatus = "pending"
	ItemProcessing  ItemStatus = "processing"
	ItemSuccess     ItemStatus = "success"
	ItemError       ItemStatus = "error"
	ItemSkipped     ItemStatus = "skipped"
	ItemQuarantined ItemStatus = "quarantined"
)

// MaxAttempts is the failed-attempt count at which an item is quarantined.
const MaxAttempts = 3

// AttachmentPrefix tags locators that reference an existing subject instead of a staged file.
const AttachmentPrefix = "attachment:"

type Item struct {
	ID          uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID       uint64     `gorm:"column:job_id;not null;index:idx_item_job_status,priority:1" json:"job_id"`
	Locator     string     `gorm:"column:locator;not null" json:"locator"`
	ContentHash string     `gorm:"column:content_hash;index" json:"content_hash,omitempty"`
	Status      string     `gorm:"column:status;not null;index:idx_item_job_status,priority:2" json:"status"`
	Attempts    int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError   string     `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	SubjectID   *uuid.UUID `gorm:"type:uuid;column:subject_id;index" json:"subject_id,omitempty"`
	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
}

func (Item) TableName() string { return "classification_job_item" }

// AttachmentRef returns the subject reference of a reclassification item.
func (it *Item) AttachmentRef() (string, bool) {
	if !strings.HasPrefix(it.Locator, AttachmentPrefix) {
		return "", false
	}
	return strings.TrimPrefix(it.Locator, AttachmentPrefix), true
}
