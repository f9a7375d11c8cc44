package lectures

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/srleom/miniclue/internal/data/repos/testutil"
	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/platform/dbctx"
)

func TestLectureRepoStatusAndCounters(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewLectureRepo(db, testutil.Logger(t))

	l := testutil.SeedLecture(t, db, nil)

	if ok, err := repo.VerifyActive(dbc, l.ID); err != nil || !ok {
		t.Fatalf("VerifyActive: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.VerifyActive(dbc, uuid.New()); err != nil || ok {
		t.Fatalf("VerifyActive(missing): ok=%v err=%v", ok, err)
	}

	if ok, err := repo.BeginParsing(dbc, l.ID, 3); err != nil || !ok {
		t.Fatalf("BeginParsing: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.SetStatusIf(dbc, l.ID, types.StatusProcessing, types.StatusNew); err != nil || ok {
		t.Fatalf("SetStatusIf with stale expectation: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.SetStatusIf(dbc, l.ID, types.StatusProcessing, types.StatusParsing); err != nil || !ok {
		t.Fatalf("SetStatusIf: ok=%v err=%v", ok, err)
	}
	if _, err := repo.SetStatusIf(dbc, l.ID, types.StatusNew, types.StatusProcessing); err == nil {
		t.Fatalf("expected backwards transition to be rejected")
	}

	for i := 1; i <= 3; i++ {
		processed, total, err := repo.Increment(dbc, l.ID, CounterSlides)
		if err != nil {
			t.Fatalf("Increment: %v", err)
		}
		if processed != i || total != 3 {
			t.Fatalf("Increment #%d: processed=%d total=%d", i, processed, total)
		}
	}
	if _, _, err := repo.Increment(dbc, uuid.New(), CounterSlides); err != ErrNotFound {
		t.Fatalf("Increment(missing): want ErrNotFound, got %v", err)
	}
}

func TestLectureRepoRecordErrorAppends(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewLectureRepo(db, testutil.Logger(t))
	l := testutil.SeedLecture(t, db, nil)

	steps := []struct{ stage, msg string }{
		{types.StageEmbedding, "first"},
		{types.StageExplanation, "other stage"},
		{types.StageEmbedding, "second"},
	}
	for _, s := range steps {
		if err := repo.RecordError(dbc, l.ID, s.stage, types.ErrorKindTransient, s.msg); err != nil {
			t.Fatalf("RecordError: %v", err)
		}
	}

	got, err := repo.GetByID(dbc, l.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: %v", err)
	}
	details, err := types.DecodeErrorDetails(got.ErrorDetails)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n := len(details[types.StageEmbedding]); n != 2 {
		t.Fatalf("embedding errors = %d, want 2", n)
	}
	if details[types.StageEmbedding][0].Message != "first" || details[types.StageEmbedding][1].Message != "second" {
		t.Fatalf("embedding errors out of order: %+v", details[types.StageEmbedding])
	}
	if n := len(details[types.StageExplanation]); n != 1 {
		t.Fatalf("explanation errors = %d, want 1", n)
	}
}

func TestLectureRepoMarkFailedIsTerminal(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewLectureRepo(db, testutil.Logger(t))
	l := testutil.SeedLecture(t, db, func(l *types.Lecture) { l.Status = types.StatusExplaining })

	if ok, err := repo.MarkFailed(dbc, l.ID, types.StageExplanation, "auth"); err != nil || !ok {
		t.Fatalf("MarkFailed: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.MarkFailed(dbc, l.ID, types.StageExplanation, "again"); err != nil || ok {
		t.Fatalf("second MarkFailed should not transition: ok=%v err=%v", ok, err)
	}
	if ok, _ := repo.VerifyActive(dbc, l.ID); ok {
		t.Fatalf("failed lecture must not be active")
	}
}

func runTx(t *testing.T, db *gorm.DB, fn func(dbc dbctx.Context) error) {
	t.Helper()
	if err := db.Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: context.Background(), Tx: tx})
	}); err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestRendezvousSummaryFirst(t *testing.T) {
	db := testutil.DB(t)
	repo := NewLectureRepo(db, testutil.Logger(t))
	l := testutil.SeedLecture(t, db, func(l *types.Lecture) { l.Status = types.StatusExplaining })

	completions := 0
	runTx(t, db, func(dbc dbctx.Context) error {
		embDone, entered, err := repo.EnterSummarising(dbc, l.ID)
		if err != nil || !entered {
			t.Fatalf("EnterSummarising: entered=%v err=%v", entered, err)
		}
		if embDone {
			t.Fatalf("embedding flag should not be set yet")
		}
		return nil
	})
	runTx(t, db, func(dbc dbctx.Context) error {
		status, changed, err := repo.MarkEmbeddingsComplete(dbc, l.ID)
		if err != nil || !changed {
			t.Fatalf("MarkEmbeddingsComplete: changed=%v err=%v", changed, err)
		}
		if status != types.StatusSummarising {
			t.Fatalf("status seen by embedding track = %s", status)
		}
		fired, err := repo.TryComplete(dbc, l.ID)
		if err != nil {
			return err
		}
		if fired {
			completions++
		}
		return nil
	})

	assertComplete(t, repo, l.ID, completions)
}

func TestRendezvousEmbeddingFirst(t *testing.T) {
	db := testutil.DB(t)
	repo := NewLectureRepo(db, testutil.Logger(t))
	l := testutil.SeedLecture(t, db, func(l *types.Lecture) { l.Status = types.StatusExplaining })

	completions := 0
	runTx(t, db, func(dbc dbctx.Context) error {
		status, changed, err := repo.MarkEmbeddingsComplete(dbc, l.ID)
		if err != nil || !changed {
			t.Fatalf("MarkEmbeddingsComplete: changed=%v err=%v", changed, err)
		}
		if status != types.StatusExplaining {
			t.Fatalf("status = %s, want explaining", status)
		}
		fired, err := repo.TryComplete(dbc, l.ID)
		if fired {
			t.Fatalf("embedding track must not complete before summary")
		}
		return err
	})
	runTx(t, db, func(dbc dbctx.Context) error {
		embDone, entered, err := repo.EnterSummarising(dbc, l.ID)
		if err != nil || !entered || !embDone {
			t.Fatalf("EnterSummarising: embDone=%v entered=%v err=%v", embDone, entered, err)
		}
		fired, err := repo.TryComplete(dbc, l.ID)
		if fired {
			completions++
		}
		return err
	})

	// A late duplicate of either track must not complete again.
	runTx(t, db, func(dbc dbctx.Context) error {
		if _, changed, _ := repo.MarkEmbeddingsComplete(dbc, l.ID); changed {
			t.Fatalf("embedding flag set twice")
		}
		fired, err := repo.TryComplete(dbc, l.ID)
		if fired {
			completions++
		}
		return err
	})

	assertComplete(t, repo, l.ID, completions)
}

func assertComplete(t *testing.T, repo LectureRepo, id uuid.UUID, completions int) {
	t.Helper()
	if completions != 1 {
		t.Fatalf("completions = %d, want exactly 1", completions)
	}
	got, err := repo.GetByID(dbctx.Context{Ctx: context.Background()}, id)
	if err != nil || got == nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != types.StatusComplete || got.CompletedAt == nil {
		t.Fatalf("status=%s completed_at=%v", got.Status, got.CompletedAt)
	}
}

func TestIncrementConcurrentSingleFanOut(t *testing.T) {
	db := testutil.DB(t)
	repo := NewLectureRepo(db, testutil.Logger(t))
	const n = 50
	l := testutil.SeedLecture(t, db, func(l *types.Lecture) {
		l.Status = types.StatusExplaining
		l.TotalSlides = n
	})

	var wg sync.WaitGroup
	var last int32
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Transaction(func(tx *gorm.DB) error {
				processed, total, err := repo.Increment(dbctx.Context{Ctx: context.Background(), Tx: tx}, l.ID, CounterSlides)
				if err != nil {
					return err
				}
				if processed == total {
					atomic.AddInt32(&last, 1)
				}
				return nil
			})
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("increment: %v", err)
	}
	if last != 1 {
		t.Fatalf("%d callers observed processed == total, want 1", last)
	}
}
