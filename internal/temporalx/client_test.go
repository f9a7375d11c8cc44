package temporalx

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 250 * time.Millisecond},
		{2, 500 * time.Millisecond},
		{3, time.Second},
		{10, 5 * time.Second},
	}
	for _, c := range cases {
		if got := Backoff(250*time.Millisecond, 5*time.Second, c.attempt); got != c.want {
			t.Fatalf("attempt %d: got %v want %v", c.attempt, got, c.want)
		}
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("TEMPORAL_NAMESPACE", "")
	t.Setenv("TEMPORAL_TASK_QUEUE", "")
	cfg := LoadConfig()
	if cfg.Namespace != "miniclue" || cfg.TaskQueue != "miniclue-pipeline" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
