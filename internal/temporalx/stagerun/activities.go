package stagerun

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/srleom/miniclue/internal/observability"
	"github.com/srleom/miniclue/internal/pipeline/dispatch"
	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/logger"
)

type Activities struct {
	Log      *logger.Logger
	Handlers map[envelope.Topic]dispatch.HandlerFunc
}

// Deliver runs the handler for msg.Topic with the activity attempt as the
// delivery attempt.
func (a *Activities) Deliver(ctx context.Context, msg dispatch.Message) error {
	h := a.Handlers[msg.Topic]
	if h == nil {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("no handler for topic %q", msg.Topic), ErrTypePermanent, nil)
	}
	msg.Attempt = int(activity.GetInfo(ctx).Attempt)
	if msg.Attempt < 1 {
		msg.Attempt = 1
	}

	err := h(ctx, msg)
	switch {
	case err == nil:
		return nil
	case dispatch.IsPermanent(err):
		if a.Log != nil {
			a.Log.Warn("Stage delivery dead-lettered", "topic", msg.Topic, "message_id", msg.ID, "attempt", msg.Attempt, "error", err)
		}
		observability.Current().IncDeadLetter(string(msg.Topic))
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypePermanent, err)
	default:
		return err
	}
}
