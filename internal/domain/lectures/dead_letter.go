package lectures

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DeadLetterPending   = "pending"
	DeadLetterReplayed  = "replayed"
	DeadLetterDiscarded = "discarded"
)

// DeadLetter is a job message the bus gave up delivering.
type DeadLetter struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Subscription string         `gorm:"column:subscription;type:text;not null;default:''" json:"subscription"`
	MessageID    string         `gorm:"column:message_id;type:text;not null;uniqueIndex" json:"message_id"`
	Topic        string         `gorm:"column:topic;type:text;not null;default:'';index" json:"topic"`
	Payload      datatypes.JSON `gorm:"column:payload;not null" json:"payload"`
	Attributes   datatypes.JSON `gorm:"column:attributes;not null;default:'{}'" json:"attributes"`
	Status       string         `gorm:"column:status;type:text;not null;default:'pending';index" json:"status"`
	CreatedAt    time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (DeadLetter) TableName() string { return "dead_letter_messages" }

func (d *DeadLetter) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
