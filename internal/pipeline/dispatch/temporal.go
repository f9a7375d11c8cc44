package dispatch

import (
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/dbctx"
)

const (
	TemporalWorkflowName = "stage_run"
	TemporalActivityName = "stage_run_deliver"
)

// Temporal starts one workflow per job. The workflow's activity runs the
// stage handler and Temporal owns the retries.
type Temporal struct {
	tc        temporalsdkclient.Client
	taskQueue string
}

func NewTemporal(tc temporalsdkclient.Client, taskQueue string) *Temporal {
	return &Temporal{tc: tc, taskQueue: taskQueue}
}

func (t *Temporal) Publish(dbc dbctx.Context, topic envelope.Topic, p envelope.Payload) error {
	if t == nil || t.tc == nil {
		return fmt.Errorf("temporal client is not configured")
	}
	msg, err := NewMessage(topic, p)
	if err != nil {
		return err
	}
	_, err = t.tc.ExecuteWorkflow(dbc.Context(), temporalsdkclient.StartWorkflowOptions{
		ID:        fmt.Sprintf("stage-%s-%s", topic, msg.ID),
		TaskQueue: t.taskQueue,
	}, TemporalWorkflowName, msg)
	if err != nil {
		return fmt.Errorf("temporal start %s: %w", topic, err)
	}
	return nil
}
