package hooks

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/platform/logger"
	"github.com/srleom/miniclue/internal/realtime"
)

type recordingBus struct{ events []realtime.LectureEvent }

func (b *recordingBus) Publish(ctx context.Context, ev realtime.LectureEvent) error {
	b.events = append(b.events, ev)
	return nil
}
func (b *recordingBus) Close() error { return nil }

func TestNotifyPublishesTerminalEvents(t *testing.T) {
	b := &recordingBus{}
	h := Notify(b)
	ctx := context.Background()

	done := &types.Lecture{ID: uuid.New(), Status: types.StatusComplete, TotalSlides: 3}
	details, _ := json.Marshal(types.ErrorDetails{"ingestion": {{Message: "bad pdf", Kind: types.ErrorKindPermanent}}})
	failed := &types.Lecture{ID: uuid.New(), Status: types.StatusFailed, ErrorDetails: datatypes.JSON(details)}

	for _, l := range []*types.Lecture{done, failed} {
		if err := h.LectureFinished(ctx, l); err != nil {
			t.Fatalf("LectureFinished: %v", err)
		}
	}
	if len(b.events) != 2 {
		t.Fatalf("events = %d", len(b.events))
	}
	if b.events[0].Event != realtime.EventLectureComplete || b.events[0].LectureID != done.ID {
		t.Fatalf("complete event: %+v", b.events[0])
	}
	if b.events[1].Event != realtime.EventLectureFailed || b.events[1].Data["errors"] == nil {
		t.Fatalf("failed event: %+v", b.events[1])
	}
}

func TestProjectAndMetricsTolerateMissingBackends(t *testing.T) {
	l := &types.Lecture{ID: uuid.New(), Status: types.StatusComplete}
	if err := Project(nil, logger.Nop(), nil, nil).LectureFinished(context.Background(), l); err != nil {
		t.Fatalf("Project without client: %v", err)
	}
	if err := Metrics().LectureFinished(context.Background(), l); err != nil {
		t.Fatalf("Metrics: %v", err)
	}
}
