// Package worker consumes pipeline jobs queued in job_runs and hands them to
// the stage handlers.
package worker

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	jobsrepo "github.com/srleom/miniclue/internal/data/repos/jobs"
	types "github.com/srleom/miniclue/internal/domain/jobs"
	"github.com/srleom/miniclue/internal/observability"
	"github.com/srleom/miniclue/internal/pipeline/dispatch"
	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/platform/envutil"
	"github.com/srleom/miniclue/internal/platform/logger"
)

type Config struct {
	Concurrency  int
	MaxAttempts  int
	PollInterval time.Duration
	RetryDelay   time.Duration
	StaleRunning time.Duration
	Heartbeat    time.Duration
}

func LoadConfig(maxAttempts int) Config {
	return Config{
		Concurrency:  envutil.Int("WORKER_CONCURRENCY", 4),
		MaxAttempts:  maxAttempts,
		PollInterval: envutil.Duration("WORKER_POLL_INTERVAL", time.Second),
		RetryDelay:   envutil.Duration("WORKER_RETRY_DELAY", 30*time.Second),
		StaleRunning: envutil.Duration("WORKER_STALE_RUNNING", 30*time.Minute),
		Heartbeat:    envutil.Duration("WORKER_HEARTBEAT", 30*time.Second),
	}
}

type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     jobsrepo.JobRunRepo
	handlers map[envelope.Topic]dispatch.HandlerFunc
	cfg      Config
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo jobsrepo.JobRunRepo, handlers map[envelope.Topic]dispatch.HandlerFunc, cfg Config) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		handlers: handlers,
		cfg:      cfg,
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting job worker pool", "concurrency", w.cfg.Concurrency)
	for i := 0; i < w.cfg.Concurrency; i++ {
		go w.runLoop(ctx, i+1)
	}
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			// Keep claiming while the queue has work.
			for ctx.Err() == nil {
				ran, err := w.RunOnce(ctx)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
				}
				if !ran {
					break
				}
			}
		}
	}
}

// RunOnce claims and runs at most one job. It reports whether a job ran.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.repo.ClaimNextRunnable(dbctx.New(ctx), w.cfg.MaxAttempts, w.cfg.RetryDelay, w.cfg.StaleRunning)
	if err != nil || job == nil {
		return false, err
	}
	w.run(ctx, job)
	return true, nil
}

func (w *Worker) run(ctx context.Context, job *types.JobRun) {
	log := w.log.With("job_id", job.ID, "job_type", job.JobType, "attempt", job.Attempts)
	dbc := dbctx.New(context.WithoutCancel(ctx))

	topic, ok := envelope.ParseTopic(job.JobType)
	h := w.handlers[topic]
	if !ok || h == nil {
		log.Warn("No handler registered for job_type")
		w.fail(dbc, log, job, dispatch.Permanent(fmt.Errorf("no handler registered for job_type=%s", job.JobType)))
		return
	}

	hbCtx, stop := context.WithCancel(ctx)
	defer stop()
	if w.cfg.Heartbeat > 0 {
		go w.heartbeat(hbCtx, job)
	}

	msg := dispatch.Message{ID: job.ID.String(), Topic: topic, Data: job.Payload, Attempt: job.Attempts}
	if err := w.invoke(ctx, h, msg); err != nil {
		w.fail(dbc, log, job, err)
		return
	}
	if err := w.repo.MarkSucceeded(dbc, job.ID); err != nil {
		log.Warn("MarkSucceeded failed", "error", err)
	}
}

func (w *Worker) invoke(ctx context.Context, h dispatch.HandlerFunc, msg dispatch.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Job handler panic", "job_id", msg.ID, "job_type", msg.Topic, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, msg)
}

func (w *Worker) fail(dbc dbctx.Context, log *logger.Logger, job *types.JobRun, err error) {
	retry := !dispatch.IsPermanent(err) && job.Attempts < w.cfg.MaxAttempts
	if !retry {
		log.Warn("Job dead-lettered", "error", err)
		observability.Current().IncDeadLetter(job.JobType)
	} else {
		log.Info("Job failed; will retry", "error", err)
	}
	if merr := w.repo.MarkFailed(dbc, job.ID, err.Error(), retry); merr != nil {
		log.Warn("MarkFailed failed", "error", merr)
	}
}

func (w *Worker) heartbeat(ctx context.Context, job *types.JobRun) {
	t := time.NewTicker(w.cfg.Heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.repo.Heartbeat(dbctx.New(ctx), job.ID); err != nil {
				w.log.Debug("Heartbeat failed", "job_id", job.ID, "error", err)
			}
		}
	}
}
