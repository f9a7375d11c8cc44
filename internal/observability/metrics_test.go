package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/srleom/miniclue/internal/data/repos/testutil"
	jobtypes "github.com/srleom/miniclue/internal/domain/jobs"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.ObserveStage("summary", "ok", time.Second)
	m.ObserveAPI("GET", "/", "200", time.Millisecond)
	m.IncLectureFinished("complete")
	if err := m.WritePrometheus(&bytes.Buffer{}); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
}

func TestObserveStageExposition(t *testing.T) {
	m := newMetrics()
	m.ObserveStage("embedding", "ok", 2*time.Second)
	m.ObserveStage("embedding", "transient", 0)
	m.ObserveStage("", "", 0)
	m.IncDeadLetter("summary")

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`mc_stage_deliveries_total{topic="embedding",outcome="ok"} 1.000000`,
		`mc_stage_deliveries_total{topic="embedding",outcome="transient"} 1.000000`,
		`mc_stage_deliveries_total{topic="unknown",outcome="unknown"} 1.000000`,
		`mc_dead_letters_total{topic="summary"} 1.000000`,
		"# TYPE mc_stage_duration_seconds histogram",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("exposition missing %q:\n%s", want, out)
		}
	}
}

func TestCollectStatusCounts(t *testing.T) {
	db := testutil.DB(t)
	for _, st := range []string{jobtypes.StatusQueued, jobtypes.StatusQueued, jobtypes.StatusDead} {
		if err := db.Create(&jobtypes.JobRun{JobType: "summary", Status: st, Payload: []byte(`{}`)}).Error; err != nil {
			t.Fatalf("seed job: %v", err)
		}
	}
	testutil.SeedLecture(t, db, nil)

	m := newMetrics()
	if err := m.CollectStatusCounts(context.Background(), db); err != nil {
		t.Fatalf("CollectStatusCounts: %v", err)
	}
	var buf bytes.Buffer
	_ = m.WritePrometheus(&buf)
	out := buf.String()
	for _, want := range []string{
		`mc_job_queue_depth{status="queued"} 2.000000`,
		`mc_job_queue_depth{status="dead"} 1.000000`,
		`mc_job_queue_depth{status="running"} 0.000000`,
		`mc_lectures_by_status{status="new"} 1.000000`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("exposition missing %q:\n%s", want, out)
		}
	}
}
