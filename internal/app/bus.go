package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	jobsrepo "github.com/srleom/miniclue/internal/data/repos/jobs"
	"github.com/srleom/miniclue/internal/jobs/worker"
	"github.com/srleom/miniclue/internal/pipeline/dispatch"
	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/pipeline/policy"
	"github.com/srleom/miniclue/internal/platform/gcp"
	"github.com/srleom/miniclue/internal/platform/logger"
	"github.com/srleom/miniclue/internal/temporalx"
	"github.com/srleom/miniclue/internal/temporalx/temporalworker"
)

// consumeFunc starts delivering messages to handlers and returns once the
// consumers are running. Consumers stop when ctx ends.
type consumeFunc func(ctx context.Context, handlers map[envelope.Topic]dispatch.HandlerFunc) error

type pipelineBus struct {
	Dispatcher dispatch.Dispatcher
	Consume    consumeFunc
	Close      func()
}

func wireBus(ctx context.Context, log *logger.Logger, cfg Config, db *gorm.DB, pol *policy.Policy, jobs jobsrepo.JobRunRepo, rdb *goredis.Client) (pipelineBus, error) {
	log = log.With("bus", cfg.Bus)
	switch cfg.Bus {
	case BusMemory:
		mem := dispatch.NewMemory(log)
		mem.MaxAttempts = pol.MaxAttempts
		return pipelineBus{
			Dispatcher: mem,
			Consume: func(ctx context.Context, handlers map[envelope.Topic]dispatch.HandlerFunc) error {
				for topic, h := range handlers {
					mem.Subscribe(topic, h)
				}
				go mem.Run(ctx)
				return nil
			},
		}, nil

	case BusJobQueue:
		return pipelineBus{
			Dispatcher: dispatch.NewJobQueue(jobs),
			Consume: func(ctx context.Context, handlers map[envelope.Topic]dispatch.HandlerFunc) error {
				worker.NewWorker(db, log, jobs, handlers, worker.LoadConfig(pol.MaxAttempts)).Start(ctx)
				return nil
			},
		}, nil

	case BusPubSub:
		ps, err := dispatch.NewPubSub(ctx, cfg.GCPProject, cfg.PubSubTopicPrefix, gcp.ClientOptionsFromEnv()...)
		if err != nil {
			return pipelineBus{}, err
		}
		// Deliveries arrive on the push webhook.
		return pipelineBus{Dispatcher: ps}, nil

	case BusRedis:
		if rdb == nil {
			return pipelineBus{}, fmt.Errorf("PIPELINE_BUS=redis requires REDIS_ADDR")
		}
		streams := dispatch.NewRedisStreams(log, rdb, cfg.RedisStreamPrefix)
		streams.MaxAttempts = pol.MaxAttempts
		return pipelineBus{
			Dispatcher: streams,
			Consume: func(ctx context.Context, handlers map[envelope.Topic]dispatch.HandlerFunc) error {
				go func() {
					if err := streams.Consume(ctx, cfg.RedisGroup, cfg.RedisConsumer, handlers); err != nil && ctx.Err() == nil {
						log.Error("Redis stream consumer stopped", "error", err)
					}
				}()
				return nil
			},
		}, nil

	case BusTemporal:
		tcfg := temporalx.LoadConfig()
		tc, err := temporalx.NewClient(log, tcfg)
		if err != nil {
			return pipelineBus{}, fmt.Errorf("temporal client: %w", err)
		}
		if tc == nil {
			return pipelineBus{}, fmt.Errorf("PIPELINE_BUS=temporal requires TEMPORAL_ADDRESS")
		}
		return pipelineBus{
			Dispatcher: dispatch.NewTemporal(tc, tcfg.TaskQueue),
			Consume: func(ctx context.Context, handlers map[envelope.Topic]dispatch.HandlerFunc) error {
				runner, err := temporalworker.NewRunner(log, tc, tcfg, pol, handlers)
				if err != nil {
					return err
				}
				return runner.Start(ctx)
			},
			Close: tc.Close,
		}, nil
	}
	return pipelineBus{}, fmt.Errorf("unknown PIPELINE_BUS %q", cfg.Bus)
}
