package lectures

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ImageTypeContent    = "content"
	ImageTypeDecorative = "decorative"

	ScopeLecture = "lecture"
	ScopeGlobal  = "global"

	PlacementSubImage  = "sub_image"
	PlacementFullSlide = "full_slide_render"
)

// VisualAsset is the canonical content record of one image within a lecture,
// keyed by perceptual hash. AnalyzedAt stays nil until image analysis commits.
type VisualAsset struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	LectureID   uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_asset_lecture_hash,priority:1" json:"lecture_id"`
	ImageHash   string     `gorm:"column:image_hash;type:text;not null;uniqueIndex:idx_asset_lecture_hash,priority:2" json:"image_hash"`
	StoragePath string     `gorm:"column:storage_path;type:text;not null" json:"storage_path"`
	Scope       string     `gorm:"column:scope;type:text;not null;default:'lecture'" json:"scope"`
	Type        string     `gorm:"column:type;type:text;not null;default:''" json:"type"`
	OCRText     string     `gorm:"column:ocr_text;type:text;not null;default:''" json:"ocr_text"`
	AltText     string     `gorm:"column:alt_text;type:text;not null;default:''" json:"alt_text"`
	IsFallback  bool       `gorm:"column:is_fallback;not null;default:false" json:"is_fallback"`
	Width       int        `gorm:"column:width;not null;default:0" json:"width"`
	Height      int        `gorm:"column:height;not null;default:0" json:"height"`
	AnalyzedAt  *time.Time `gorm:"column:analyzed_at" json:"analyzed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (VisualAsset) TableName() string { return "visual_assets" }

func (a *VisualAsset) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// SlideImage places an image (or the full-slide render) on a slide.
type SlideImage struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	SlideID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_slide_image_index,priority:1" json:"slide_id"`
	LectureID   uuid.UUID  `gorm:"type:uuid;not null;index:idx_slide_image_lecture_hash,priority:1" json:"lecture_id"`
	AssetID     *uuid.UUID `gorm:"type:uuid;index" json:"asset_id,omitempty"`
	SlideNumber int        `gorm:"column:slide_number;not null" json:"slide_number"`
	ImageIndex  int        `gorm:"column:image_index;not null;uniqueIndex:idx_slide_image_index,priority:2" json:"image_index"`
	Kind        string     `gorm:"column:kind;type:text;not null;default:'sub_image'" json:"kind"`
	ImageHash   string     `gorm:"column:image_hash;type:text;not null;default:'';index:idx_slide_image_lecture_hash,priority:2" json:"image_hash"`
	StoragePath string     `gorm:"column:storage_path;type:text;not null" json:"storage_path"`
	Type        string     `gorm:"column:type;type:text;not null;default:''" json:"type"`
	OCRText     string     `gorm:"column:ocr_text;type:text;not null;default:''" json:"ocr_text"`
	AltText     string     `gorm:"column:alt_text;type:text;not null;default:''" json:"alt_text"`
	Width       int        `gorm:"column:width;not null;default:0" json:"width"`
	Height      int        `gorm:"column:height;not null;default:0" json:"height"`
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (SlideImage) TableName() string { return "slide_images" }

func (s *SlideImage) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// DecorativeImage is the global registry entry shared by every lecture.
type DecorativeImage struct {
	ImageHash   string    `gorm:"column:image_hash;type:text;primaryKey" json:"image_hash"`
	StoragePath string    `gorm:"column:storage_path;type:text;not null" json:"storage_path"`
	OCRText     string    `gorm:"column:ocr_text;type:text;not null;default:''" json:"ocr_text"`
	AltText     string    `gorm:"column:alt_text;type:text;not null;default:''" json:"alt_text"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (DecorativeImage) TableName() string { return "decorative_images_global" }
