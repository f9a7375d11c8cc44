package realtime

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventLectureComplete = "lecture_complete"
	EventLectureFailed   = "lecture_failed"
)

// LectureEvent is broadcast when a lecture reaches a terminal status.
type LectureEvent struct {
	Event     string         `json:"event"`
	LectureID uuid.UUID      `json:"lecture_id"`
	UserID    string         `json:"user_id,omitempty"`
	Status    string         `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}
