package bus

import (
	"context"

	"github.com/srleom/miniclue/internal/realtime"
)

type Bus interface {
	Publish(ctx context.Context, ev realtime.LectureEvent) error
	Close() error
}
