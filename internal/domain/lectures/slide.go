package lectures

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Slide struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	LectureID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_slide_lecture_number,priority:1" json:"lecture_id"`
	SlideNumber     int       `gorm:"column:slide_number;not null;uniqueIndex:idx_slide_lecture_number,priority:2" json:"slide_number"`
	RawText         string    `gorm:"column:raw_text;type:text;not null;default:''" json:"raw_text"`
	TotalChunks     int       `gorm:"column:total_chunks;not null;default:0" json:"total_chunks"`
	ProcessedChunks int       `gorm:"column:processed_chunks;not null;default:0" json:"processed_chunks"`
	CreatedAt       time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Slide) TableName() string { return "slides" }

func (s *Slide) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Chunk is an immutable window of slide text. Its embedding lives in Embedding.
type Chunk struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SlideID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_chunk_slide_index,priority:1" json:"slide_id"`
	LectureID   uuid.UUID `gorm:"type:uuid;not null;index" json:"lecture_id"`
	SlideNumber int       `gorm:"column:slide_number;not null" json:"slide_number"`
	ChunkIndex  int       `gorm:"column:chunk_index;not null;uniqueIndex:idx_chunk_slide_index,priority:2" json:"chunk_index"`
	Text        string    `gorm:"column:text;type:text;not null" json:"text"`
	TokenCount  int       `gorm:"column:token_count;not null;default:0" json:"token_count"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (Chunk) TableName() string { return "chunks" }

func (c *Chunk) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
