package lectures

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Lecture is the unit of work: one uploaded slide deck processed end to end.
type Lecture struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      string    `gorm:"column:user_id;type:text;not null;default:'';index" json:"user_id"`
	Title       string    `gorm:"column:title;type:text;not null;default:''" json:"title"`
	StoragePath string    `gorm:"column:storage_path;type:text;not null;default:''" json:"storage_path"`
	Status      Status    `gorm:"column:status;type:text;not null;default:'new';index" json:"status"`

	TotalSlides        int  `gorm:"column:total_slides;not null;default:0" json:"total_slides"`
	ProcessedSlides    int  `gorm:"column:processed_slides;not null;default:0" json:"processed_slides"`
	TotalSubImages     int  `gorm:"column:total_sub_images;not null;default:0" json:"total_sub_images"`
	ProcessedSubImages int  `gorm:"column:processed_sub_images;not null;default:0" json:"processed_sub_images"`
	EmbeddingsComplete bool `gorm:"column:embeddings_complete;not null;default:false" json:"embeddings_complete"`

	// ErrorDetails holds {stage: [ErrorEntry...]}.
	ErrorDetails datatypes.JSON `gorm:"column:error_details;not null;default:'{}'" json:"error_details"`

	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Lecture) TableName() string { return "lectures" }

func (l *Lecture) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if len(l.ErrorDetails) == 0 {
		l.ErrorDetails = datatypes.JSON([]byte("{}"))
	}
	if l.Status == "" {
		l.Status = StatusNew
	}
	return nil
}
