package policy

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/logger"
)

const pipelinePolicyEnv = "PIPELINE_POLICY_YAML"

//go:embed pipeline.yaml
var policyFS embed.FS

type yamlPolicy struct {
	Pipeline  string `yaml:"pipeline"`
	Version   int    `yaml:"version"`
	Narrative *bool  `yaml:"narrative"`
	Delivery  struct {
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"delivery"`
	Chunking struct {
		Tokens  int `yaml:"tokens"`
		Overlap int `yaml:"overlap"`
	} `yaml:"chunking"`
	Render struct {
		Width int `yaml:"width"`
	} `yaml:"render"`
	Stages []yamlStage `yaml:"stages"`
}

type yamlStage struct {
	Name      string `yaml:"name"`
	Timeout   string `yaml:"timeout"`
	BatchSize int    `yaml:"batch_size"`
}

type Stage struct {
	Timeout   time.Duration
	BatchSize int
}

// Policy holds the tunables shared by every stage.
type Policy struct {
	Version      int
	Narrative    bool
	MaxAttempts  int
	ChunkTokens  int
	ChunkOverlap int
	RenderWidth  int
	Stages       map[envelope.Topic]Stage
}

// Default mirrors the embedded pipeline.yaml.
func Default() *Policy {
	return &Policy{
		Version:      1,
		Narrative:    true,
		MaxAttempts:  5,
		ChunkTokens:  1000,
		ChunkOverlap: 200,
		RenderWidth:  1280,
		Stages: map[envelope.Topic]Stage{
			envelope.TopicIngestion:     {Timeout: 10 * time.Minute},
			envelope.TopicImageAnalysis: {Timeout: 2 * time.Minute},
			envelope.TopicEmbedding:     {Timeout: 5 * time.Minute, BatchSize: 256},
			envelope.TopicExplanation:   {Timeout: 90 * time.Second},
			envelope.TopicSummary:       {Timeout: 3 * time.Minute},
		},
	}
}

func (p *Policy) Stage(t envelope.Topic) Stage {
	if p == nil {
		return Default().Stages[t]
	}
	return p.Stages[t]
}

// Load reads PIPELINE_POLICY_YAML when set, else the embedded policy. An
// invalid file falls back to Default with a warning.
func Load(log *logger.Logger) *Policy {
	data, err := read()
	if err == nil {
		var p *Policy
		if p, err = Parse(data); err == nil {
			return p
		}
	}
	if log != nil {
		log.Warn("pipeline policy load failed; using defaults", "error", err)
	}
	return Default()
}

func read() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(pipelinePolicyEnv)); path != "" {
		return os.ReadFile(path)
	}
	return policyFS.ReadFile("pipeline.yaml")
}

func Parse(data []byte) (*Policy, error) {
	var y yamlPolicy
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if strings.TrimSpace(y.Pipeline) != "lecture" {
		return nil, fmt.Errorf("unexpected pipeline: %q", y.Pipeline)
	}

	p := Default()
	if y.Version > 0 {
		p.Version = y.Version
	}
	if y.Narrative != nil {
		p.Narrative = *y.Narrative
	}
	if y.Delivery.MaxAttempts > 0 {
		p.MaxAttempts = y.Delivery.MaxAttempts
	}
	if y.Chunking.Tokens > 0 {
		p.ChunkTokens = y.Chunking.Tokens
		p.ChunkOverlap = y.Chunking.Overlap
	}
	if p.ChunkOverlap < 0 || p.ChunkOverlap >= p.ChunkTokens {
		return nil, errors.New("chunking overlap must be smaller than tokens")
	}
	if y.Render.Width > 0 {
		p.RenderWidth = y.Render.Width
	}

	seen := map[envelope.Topic]bool{}
	for _, s := range y.Stages {
		topic, ok := envelope.ParseTopic(s.Name)
		if !ok {
			return nil, fmt.Errorf("unknown stage %q", s.Name)
		}
		if seen[topic] {
			return nil, fmt.Errorf("duplicate stage: %s", topic)
		}
		seen[topic] = true
		st := p.Stages[topic]
		if s.Timeout != "" {
			d, err := time.ParseDuration(s.Timeout)
			if err != nil || d <= 0 {
				return nil, fmt.Errorf("stage %s: bad timeout %q", topic, s.Timeout)
			}
			st.Timeout = d
		}
		if s.BatchSize > 0 {
			st.BatchSize = s.BatchSize
		}
		p.Stages[topic] = st
	}
	return p, nil
}
