package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/srleom/miniclue/internal/domain/lectures"
)

// SeedLecture inserts a lecture with the given status and counters.
func SeedLecture(tb testing.TB, gdb *gorm.DB, mutate func(l *lectures.Lecture)) *lectures.Lecture {
	tb.Helper()
	l := &lectures.Lecture{
		ID:          uuid.New(),
		UserID:      "user-" + uuid.NewString()[:8],
		Title:       "Lecture",
		StoragePath: "lectures/test.pdf",
		Status:      lectures.StatusNew,
	}
	if mutate != nil {
		mutate(l)
	}
	if err := gdb.WithContext(context.Background()).Create(l).Error; err != nil {
		tb.Fatalf("seed lecture: %v", err)
	}
	return l
}

// SeedSlides inserts n slides numbered from 1.
func SeedSlides(tb testing.TB, gdb *gorm.DB, lectureID uuid.UUID, n int) []*lectures.Slide {
	tb.Helper()
	out := make([]*lectures.Slide, 0, n)
	for i := 1; i <= n; i++ {
		s := &lectures.Slide{LectureID: lectureID, SlideNumber: i, RawText: "slide text"}
		if err := gdb.WithContext(context.Background()).Create(s).Error; err != nil {
			tb.Fatalf("seed slide %d: %v", i, err)
		}
		out = append(out, s)
	}
	return out
}
