package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	jobsrepo "github.com/srleom/miniclue/internal/data/repos/jobs"
	"github.com/srleom/miniclue/internal/data/repos/testutil"
	types "github.com/srleom/miniclue/internal/domain/jobs"
	"github.com/srleom/miniclue/internal/pipeline/dispatch"
	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/dbctx"
)

type harness struct {
	w    *Worker
	repo jobsrepo.JobRunRepo
	q    *dispatch.JobQueue
}

func newHarness(t *testing.T, h dispatch.HandlerFunc) *harness {
	t.Helper()
	db := testutil.DB(t)
	repo := jobsrepo.NewJobRunRepo(db, testutil.Logger(t))
	w := NewWorker(db, testutil.Logger(t), repo, map[envelope.Topic]dispatch.HandlerFunc{envelope.TopicSummary: h}, Config{
		MaxAttempts: 3,
		RetryDelay:  -time.Second,
	})
	return &harness{w: w, repo: repo, q: dispatch.NewJobQueue(repo)}
}

func (h *harness) publish(t *testing.T) {
	t.Helper()
	if err := h.q.Publish(dbctx.New(context.Background()), envelope.TopicSummary, &envelope.SummaryPayload{LectureID: uuid.New()}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func (h *harness) drain(t *testing.T) int {
	t.Helper()
	runs := 0
	for i := 0; i < 10; i++ {
		ran, err := h.w.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if !ran {
			break
		}
		runs++
	}
	return runs
}

func (h *harness) count(t *testing.T, status string) int64 {
	t.Helper()
	n, err := h.repo.CountByStatus(dbctx.New(context.Background()), "", status)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestWorkerRunsQueuedJob(t *testing.T) {
	var got []dispatch.Message
	h := newHarness(t, func(ctx context.Context, msg dispatch.Message) error {
		got = append(got, msg)
		return nil
	})
	h.publish(t)

	if runs := h.drain(t); runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}
	if len(got) != 1 || got[0].Topic != envelope.TopicSummary || got[0].Attempt != 1 {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
	if _, err := envelope.Decode(got[0].Topic, got[0].Data); err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}
	if n := h.count(t, types.StatusSucceeded); n != 1 {
		t.Fatalf("succeeded = %d", n)
	}
}

func TestWorkerRetriesUntilMaxAttempts(t *testing.T) {
	var attempts []int
	h := newHarness(t, func(ctx context.Context, msg dispatch.Message) error {
		attempts = append(attempts, msg.Attempt)
		return errors.New("unavailable")
	})
	h.publish(t)

	h.drain(t)
	if len(attempts) != 3 || attempts[2] != 3 {
		t.Fatalf("attempts = %v, want [1 2 3]", attempts)
	}
	if n := h.count(t, types.StatusDead); n != 1 {
		t.Fatalf("dead = %d, want 1", n)
	}
}

func TestWorkerParksPermanentFailures(t *testing.T) {
	calls := 0
	h := newHarness(t, func(ctx context.Context, msg dispatch.Message) error {
		calls++
		return dispatch.Permanent(errors.New("malformed"))
	})
	h.publish(t)

	h.drain(t)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if n := h.count(t, types.StatusDead); n != 1 {
		t.Fatalf("dead = %d, want 1", n)
	}
}

func TestWorkerRecoversHandlerPanic(t *testing.T) {
	calls := 0
	h := newHarness(t, func(ctx context.Context, msg dispatch.Message) error {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return nil
	})
	h.publish(t)

	h.drain(t)
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if n := h.count(t, types.StatusSucceeded); n != 1 {
		t.Fatalf("succeeded = %d, want 1", n)
	}
}
