package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/dbctx"
	"github.com/srleom/miniclue/internal/platform/logger"
)

// RedisStreams keeps one stream per topic. Consumers read through a consumer
// group; entries are acknowledged only after the handler accepts them, and
// entries left pending by a crashed consumer are reclaimed with XAUTOCLAIM.
type RedisStreams struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string

	MaxLen      int64
	MaxAttempts int
	MinIdle     time.Duration
	Block       time.Duration
}

func NewRedisStreams(log *logger.Logger, rdb *goredis.Client, prefix string) *RedisStreams {
	if prefix == "" {
		prefix = "pipeline:"
	}
	return &RedisStreams{
		log:         log.With("bus", "redis"),
		rdb:         rdb,
		prefix:      prefix,
		MaxLen:      100000,
		MaxAttempts: 5,
		MinIdle:     5 * time.Minute,
		Block:       5 * time.Second,
	}
}

func (r *RedisStreams) Stream(topic envelope.Topic) string { return r.prefix + string(topic) }

func (r *RedisStreams) Publish(dbc dbctx.Context, topic envelope.Topic, p envelope.Payload) error {
	msg, err := NewMessage(topic, p)
	if err != nil {
		return err
	}
	err = r.rdb.XAdd(dbc.Context(), &goredis.XAddArgs{
		Stream: r.Stream(topic),
		MaxLen: r.MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":    msg.ID,
			"topic": string(topic),
			"data":  string(msg.Data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd %s: %w", topic, err)
	}
	return nil
}

// Consume blocks reading every subscribed topic until ctx ends.
func (r *RedisStreams) Consume(ctx context.Context, group, consumer string, handlers map[envelope.Topic]HandlerFunc) error {
	if len(handlers) == 0 {
		return fmt.Errorf("redis consume: no handlers")
	}
	streams := make([]string, 0, len(handlers)*2)
	byStream := map[string]envelope.Topic{}
	for topic := range handlers {
		s := r.Stream(topic)
		if err := r.rdb.XGroupCreateMkStream(ctx, s, group, "0").Err(); err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("redis group create %s: %w", s, err)
		}
		byStream[s] = topic
		streams = append(streams, s)
	}
	for range byStream {
		streams = append(streams, ">")
	}

	reclaim := time.NewTicker(r.MinIdle / 2)
	defer reclaim.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reclaim.C:
			for s, topic := range byStream {
				r.reclaim(ctx, s, group, consumer, handlers[topic])
			}
		default:
		}

		res, err := r.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  streams,
			Count:    10,
			Block:    r.Block,
		}).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn("XREADGROUP failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		for _, xs := range res {
			topic := byStream[xs.Stream]
			for _, xm := range xs.Messages {
				r.handle(ctx, xs.Stream, group, topic, xm, 1, handlers[topic])
			}
		}
	}
}

func (r *RedisStreams) reclaim(ctx context.Context, stream, group, consumer string, h HandlerFunc) {
	msgs, _, err := r.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  r.MinIdle,
		Start:    "0-0",
		Count:    10,
	}).Result()
	if err != nil {
		r.log.Warn("XAUTOCLAIM failed", "stream", stream, "error", err)
		return
	}
	for _, xm := range msgs {
		attempt := 2
		pend, err := r.rdb.XPendingExt(ctx, &goredis.XPendingExtArgs{
			Stream: stream, Group: group, Start: xm.ID, End: xm.ID, Count: 1,
		}).Result()
		if err == nil && len(pend) == 1 {
			attempt = int(pend[0].RetryCount)
		}
		topic, _ := envelope.ParseTopic(strings.TrimPrefix(stream, r.prefix))
		r.handle(ctx, stream, group, topic, xm, attempt, h)
	}
}

func (r *RedisStreams) handle(ctx context.Context, stream, group string, topic envelope.Topic, xm goredis.XMessage, attempt int, h HandlerFunc) {
	id, _ := xm.Values["id"].(string)
	data, _ := xm.Values["data"].(string)
	msg := Message{ID: id, Topic: topic, Data: []byte(data), Attempt: attempt}
	if msg.ID == "" {
		msg.ID = xm.ID
	}

	err := h(ctx, msg)
	switch {
	case err == nil:
	case IsPermanent(err):
		r.log.Warn("Message rejected", "stream", stream, "message_id", msg.ID, "error", err)
	case attempt >= r.MaxAttempts:
		r.log.Error("Message exhausted retries", "stream", stream, "message_id", msg.ID, "attempt", attempt, "error", err)
	default:
		// Left pending; XAUTOCLAIM hands it out again once idle.
		return
	}
	if err := r.rdb.XAck(ctx, stream, group, xm.ID).Err(); err != nil {
		r.log.Warn("XACK failed", "stream", stream, "entry_id", xm.ID, "error", err)
	}
}
