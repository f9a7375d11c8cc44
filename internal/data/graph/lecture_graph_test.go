package graph

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/platform/logger"
)

func TestBuildLectureGraph(t *testing.T) {
	l := &types.Lecture{ID: uuid.New(), Title: "Graphs", Status: types.StatusComplete, TotalSlides: 2}
	s1 := &types.Slide{ID: uuid.New(), LectureID: l.ID, SlideNumber: 1}
	s2 := &types.Slide{ID: uuid.New(), LectureID: l.ID, SlideNumber: 2}
	stray := &types.Slide{ID: uuid.New(), LectureID: uuid.New(), SlideNumber: 1}

	placements := []*types.SlideImage{
		{SlideID: s1.ID, Kind: types.PlacementFullSlide, ImageHash: "render", ImageIndex: 0},
		{SlideID: s1.ID, Kind: types.PlacementSubImage, ImageHash: "logo", Type: types.ImageTypeDecorative, ImageIndex: 1},
		{SlideID: s2.ID, Kind: types.PlacementSubImage, ImageHash: "logo", Type: types.ImageTypeDecorative, ImageIndex: 1},
		{SlideID: s2.ID, Kind: types.PlacementSubImage, ImageHash: "chart", Type: types.ImageTypeContent, ImageIndex: 2},
	}

	g := BuildLectureGraph(l, []*types.Slide{s1, s2, stray}, placements, time.Now())
	if g.Lecture["id"] != l.ID.String() || g.Lecture["status"] != "complete" {
		t.Fatalf("lecture params: %+v", g.Lecture)
	}
	if len(g.Slides) != 2 {
		t.Fatalf("slides = %d, want 2", len(g.Slides))
	}
	if len(g.Images) != 2 {
		t.Fatalf("images = %d, want 2 distinct hashes", len(g.Images))
	}
	if len(g.Shows) != 3 {
		t.Fatalf("shows = %d, want 3 sub-image placements", len(g.Shows))
	}
	if g.Images[0]["decorative"] != true || g.Images[1]["decorative"] != false {
		t.Fatalf("decorative flags: %+v", g.Images)
	}
}

func TestUpsertLectureGraphWithoutClientIsNoop(t *testing.T) {
	if err := UpsertLectureGraph(context.Background(), nil, logger.Nop(), LectureGraph{}); err != nil {
		t.Fatalf("nil client: %v", err)
	}
}
