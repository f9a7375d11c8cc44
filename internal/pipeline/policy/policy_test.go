package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/logger"
)

func TestEmbeddedPolicyMatchesDefault(t *testing.T) {
	t.Setenv(pipelinePolicyEnv, "")
	p := Load(logger.Nop())
	d := Default()
	if p.Narrative != d.Narrative || p.MaxAttempts != d.MaxAttempts || p.ChunkTokens != d.ChunkTokens || p.ChunkOverlap != d.ChunkOverlap {
		t.Fatalf("embedded policy = %+v, default = %+v", p, d)
	}
	for topic, want := range d.Stages {
		if got := p.Stage(topic); got != want {
			t.Fatalf("stage %s = %+v, want %+v", topic, got, want)
		}
	}
}

func TestLoadFromEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	yml := "pipeline: lecture\nnarrative: false\nstages:\n  - name: explanation\n    timeout: 5s\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(pipelinePolicyEnv, path)
	p := Load(logger.Nop())
	if p.Narrative {
		t.Fatalf("narrative should be disabled")
	}
	if got := p.Stage(envelope.TopicExplanation).Timeout; got != 5*time.Second {
		t.Fatalf("explanation timeout = %v", got)
	}
	if got := p.Stage(envelope.TopicSummary).Timeout; got != 3*time.Minute {
		t.Fatalf("unset stages keep defaults, got %v", got)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"wrong pipeline": "pipeline: other\n",
		"unknown stage":  "pipeline: lecture\nstages:\n  - name: transcode\n",
		"duplicate":      "pipeline: lecture\nstages:\n  - name: summary\n  - name: summary\n",
		"bad timeout":    "pipeline: lecture\nstages:\n  - name: summary\n    timeout: soon\n",
		"bad overlap":    "pipeline: lecture\nchunking:\n  tokens: 100\n  overlap: 100\n",
	}
	for name, yml := range cases {
		if _, err := Parse([]byte(yml)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadFallsBackOnBadFile(t *testing.T) {
	t.Setenv(pipelinePolicyEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	if p := Load(logger.Nop()); p.MaxAttempts != Default().MaxAttempts {
		t.Fatalf("expected defaults, got %+v", p)
	}
}
