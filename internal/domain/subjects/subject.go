package subjects

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Side string

const (
	SideFront Side = "front"
	SideBack  Side = "back"
)

// Subject is a stored secret image and its derived classification metadata.
// Payload is empty until the first successful classification.
type Subject struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FilePath    string    `gorm:"column:file_path;not null" json:"file_path"`
	ContentHash string    `gorm:"column:content_hash;index" json:"content_hash"`
	Side        string    `gorm:"column:side;not null;default:front" json:"side"`

	PairID      *uuid.UUID `gorm:"type:uuid;column:pair_id;index" json:"pair_id,omitempty"`
	DuplicateOf *uuid.UUID `gorm:"type:uuid;column:duplicate_of" json:"duplicate_of,omitempty"`

	Payload datatypes.JSON `gorm:"column:payload" json:"payload,omitempty"`

	Style        string                      `gorm:"column:style;index" json:"style,omitempty"`
	MediaType    string                      `gorm:"column:media_type;index" json:"media_type,omitempty"`
	ReviewStatus string                      `gorm:"column:review_status;index" json:"review_status,omitempty"`
	NSFWScore    float64                     `gorm:"column:nsfw_score" json:"nsfw_score"`
	ContainsPII  bool                        `gorm:"column:contains_pii" json:"contains_pii"`
	Topics       datatypes.JSONSlice[string] `gorm:"column:topics" json:"topics,omitempty"`
	Feelings     datatypes.JSONSlice[string] `gorm:"column:feelings" json:"feelings,omitempty"`
	Meanings     datatypes.JSONSlice[string] `gorm:"column:meanings" json:"meanings,omitempty"`
	Vibe         datatypes.JSONSlice[string] `gorm:"column:vibe" json:"vibe,omitempty"`
	Locations    datatypes.JSONSlice[string] `gorm:"column:locations" json:"locations,omitempty"`
	Annotation   datatypes.JSON              `gorm:"column:annotation" json:"annotation,omitempty"`

	LastError      string     `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	EmbeddingError string     `gorm:"column:embedding_error;type:text" json:"embedding_error,omitempty"`
	ClassifiedAt   *time.Time `gorm:"column:classified_at" json:"classified_at,omitempty"`
	CreatedAt      time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null" json:"updated_at"`
}

func (Subject) TableName() string { return "secret_subject" }

// HasPayload reports whether a classification result is stored.
func (s *Subject) HasPayload() bool {
	return len(s.Payload) > 0 && string(s.Payload) != "null"
}

// IndexPayload is the filterable metadata stored alongside a subject's vector.
func (s *Subject) IndexPayload() map[string]any {
	list := func(v datatypes.JSONSlice[string]) []string {
		if v == nil {
			return []string{}
		}
		return []string(v)
	}
	return map[string]any{
		"side":          s.Side,
		"style":         s.Style,
		"media_type":    s.MediaType,
		"review_status": s.ReviewStatus,
		"contains_pii":  s.ContainsPII,
		"nsfw_score":    s.NSFWScore,
		"topics":        list(s.Topics),
		"feelings":      list(s.Feelings),
		"meanings":      list(s.Meanings),
		"vibe":          list(s.Vibe),
		"locations":     list(s.Locations),
	}
}
