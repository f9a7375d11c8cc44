package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/srleom/miniclue/internal/pipeline/dispatch"
	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/pipeline/policy"
	"github.com/srleom/miniclue/internal/platform/logger"
	"github.com/srleom/miniclue/internal/temporalx"
	"github.com/srleom/miniclue/internal/temporalx/stagerun"
)

// Runner polls the pipeline task queue and feeds stage_run activities to the
// stage handlers.
type Runner struct {
	log      *logger.Logger
	tc       temporalsdkclient.Client
	cfg      temporalx.Config
	policy   *policy.Policy
	handlers map[envelope.Topic]dispatch.HandlerFunc
}

func NewRunner(
	log *logger.Logger,
	tc temporalsdkclient.Client,
	cfg temporalx.Config,
	pol *policy.Policy,
	handlers map[envelope.Topic]dispatch.HandlerFunc,
) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if len(handlers) == 0 {
		return nil, fmt.Errorf("temporal worker has no handlers")
	}
	return &Runner{log: log, tc: tc, cfg: cfg, policy: pol, handlers: handlers}, nil
}

func (r *Runner) Start(ctx context.Context) error {
	cfg := r.cfg
	r.log.Info("Starting Temporal worker", "address", cfg.Address, "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)

	if cfg.AutoNamespace {
		if err := temporalx.EnsureNamespace(ctx, cfg, r.log); err != nil {
			r.log.Warn("Temporal namespace ensure failed; worker will retry on start", "namespace", cfg.Namespace, "error", err)
		}
	}

	maxWait := cfg.DialMaxWait
	deadline := time.Now().Add(maxWait)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("Temporal worker started", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempts", attempt)
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		notFound := errors.As(startErr, &nfe)
		if notFound && cfg.AutoNamespace {
			_ = temporalx.EnsureNamespace(ctx, cfg, r.log)
		}
		if maxWait <= 0 || time.Now().After(deadline) {
			if notFound {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", cfg.Namespace, startErr)
			}
			return startErr
		}

		r.log.Warn("Temporal worker failed to start; retrying", "task_queue", cfg.TaskQueue, "attempt", attempt, "error", startErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(temporalx.Backoff(250*time.Millisecond, 5*time.Second, attempt)):
		}
	}
}

func (r *Runner) newWorker() worker.Worker {
	concurrency := r.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})
	acts := &stagerun.Activities{Log: r.log, Handlers: r.handlers}
	w.RegisterWorkflowWithOptions(stagerun.NewWorkflow(r.policy), workflow.RegisterOptions{Name: stagerun.WorkflowName})
	w.RegisterActivityWithOptions(acts.Deliver, activity.RegisterOptions{Name: stagerun.ActivityName})
	return w
}
