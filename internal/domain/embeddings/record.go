package embeddings

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Record is one subject's embedding for one model. Dimension always equals len(Vector).
type Record struct {
	SubjectID  uuid.UUID                    `gorm:"type:uuid;primaryKey" json:"subject_id"`
	Model      string                       `gorm:"column:model;primaryKey" json:"model"`
	Vector     datatypes.JSONSlice[float64] `gorm:"column:vector;not null" json:"vector"`
	Dimension  int                          `gorm:"column:dimension;not null" json:"dimension"`
	InputHash  string                       `gorm:"column:input_hash;not null" json:"input_hash"`
	MirroredAt *time.Time                   `gorm:"column:mirrored_at" json:"mirrored_at,omitempty"`
	CreatedAt  time.Time                    `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time                    `gorm:"not null" json:"updated_at"`
}

func (Record) TableName() string { return "secret_embedding" }
