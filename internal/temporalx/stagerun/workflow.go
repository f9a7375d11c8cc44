// Package stagerun runs one pipeline delivery as a Temporal workflow. The
// workflow's single activity calls the stage handler and Temporal owns the
// retries.
package stagerun

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/srleom/miniclue/internal/pipeline/dispatch"
	"github.com/srleom/miniclue/internal/pipeline/policy"
)

const (
	WorkflowName = dispatch.TemporalWorkflowName
	ActivityName = dispatch.TemporalActivityName

	// Error type carried by deliveries the handler rejected as permanent.
	ErrTypePermanent = "StagePermanent"
)

// NewWorkflow returns the stage_run workflow for pol. The activity timeout
// and attempt cap come from the stage's policy so the handler's own attempt
// cutoff lines up with Temporal's.
func NewWorkflow(pol *policy.Policy) func(ctx workflow.Context, msg dispatch.Message) error {
	if pol == nil {
		pol = policy.Default()
	}
	return func(ctx workflow.Context, msg dispatch.Message) error {
		timeout := pol.Stage(msg.Topic).Timeout + time.Minute
		ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: timeout,
			RetryPolicy: &temporal.RetryPolicy{
				InitialInterval:        2 * time.Second,
				BackoffCoefficient:     2,
				MaximumInterval:        2 * time.Minute,
				MaximumAttempts:        int32(pol.MaxAttempts),
				NonRetryableErrorTypes: []string{ErrTypePermanent},
			},
		})

		err := workflow.ExecuteActivity(ctx, ActivityName, msg).Get(ctx, nil)
		if err == nil {
			return nil
		}
		var appErr *temporal.ApplicationError
		if errors.As(err, &appErr) && appErr.Type() == ErrTypePermanent {
			// The handler already settled the lecture.
			workflow.GetLogger(ctx).Warn("Stage delivery rejected", "topic", msg.Topic, "message_id", msg.ID, "error", appErr.Error())
			return nil
		}
		return err
	}
}
