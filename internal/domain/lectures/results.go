package lectures

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Embedding struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ChunkID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"chunk_id"`
	SlideID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"slide_id"`
	LectureID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"lecture_id"`
	SlideNumber int            `gorm:"column:slide_number;not null" json:"slide_number"`
	Model       string         `gorm:"column:model;type:text;not null;default:''" json:"model"`
	Dimensions  int            `gorm:"column:dimensions;not null;default:0" json:"dimensions"`
	Vector      datatypes.JSON `gorm:"column:vector;not null" json:"vector"`
	Metadata    datatypes.JSON `gorm:"column:metadata;not null;default:'{}'" json:"metadata"`
	CreatedAt   time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Embedding) TableName() string { return "embeddings" }

func (e *Embedding) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

const (
	PurposeCover   = "cover"
	PurposeHeader  = "header"
	PurposeContent = "content"
	PurposeError   = "error"
)

type Explanation struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SlideID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"slide_id"`
	LectureID    uuid.UUID `gorm:"type:uuid;not null;index" json:"lecture_id"`
	SlideNumber  int       `gorm:"column:slide_number;not null" json:"slide_number"`
	SlidePurpose string    `gorm:"column:slide_purpose;type:text;not null;default:'content'" json:"slide_purpose"`
	Content      string    `gorm:"column:content;type:text;not null" json:"content"`
	OneLiner     string    `gorm:"column:one_liner;type:text;not null;default:''" json:"one_liner"`
	IsFallback   bool      `gorm:"column:is_fallback;not null;default:false" json:"is_fallback"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (Explanation) TableName() string { return "explanations" }

func (e *Explanation) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

type Summary struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	LectureID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"lecture_id"`
	Content    string    `gorm:"column:content;type:text;not null" json:"content"`
	IsFallback bool      `gorm:"column:is_fallback;not null;default:false" json:"is_fallback"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (Summary) TableName() string { return "summaries" }

func (s *Summary) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
