package app

import (
	"strings"

	"github.com/srleom/miniclue/internal/platform/envutil"
	"github.com/srleom/miniclue/internal/platform/logger"
)

type BusKind string

const (
	BusMemory   BusKind = "memory"
	BusJobQueue BusKind = "jobqueue"
	BusPubSub   BusKind = "pubsub"
	BusRedis    BusKind = "redis"
	BusTemporal BusKind = "temporal"
)

type Config struct {
	Env         string
	ServiceName string
	Version     string
	Port        string
	MetricsAddr string

	// Database. An empty SQLiteDSN means Postgres via POSTGRES_*.
	SQLiteDSN string

	Bus                 BusKind
	MaxDeliveryAttempts int

	GCPProject        string
	PubSubTopicPrefix string
	RedisStreamPrefix string
	RedisGroup        string
	RedisConsumer     string

	// Push auth. Both empty outside local mode is a startup error.
	PushBaseURL        string
	PushServiceAccount string
	PushSharedSecret   string
	APIToken           string
	CORSOrigins        []string
	VisionOCR          bool
	FakeGeneration     bool
}

// Local reports whether the process runs without real credentials.
func (c Config) Local() bool {
	switch strings.ToLower(c.Env) {
	case "local", "dev", "development", "test":
		return true
	}
	return false
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Env:         envutil.String("APP_ENV", "local"),
		ServiceName: envutil.String("SERVICE_NAME", "miniclue"),
		Version:     envutil.String("SERVICE_VERSION", "dev"),
		Port:        envutil.String("PORT", "8080"),
		MetricsAddr: envutil.String("METRICS_ADDR", ":9090"),

		SQLiteDSN: envutil.String("SQLITE_DSN", ""),

		Bus:                 BusKind(strings.ToLower(envutil.String("PIPELINE_BUS", string(BusMemory)))),
		MaxDeliveryAttempts: envutil.Int("PIPELINE_MAX_DELIVERY_ATTEMPTS", 0),

		GCPProject:        envutil.String("GCP_PROJECT_ID", ""),
		PubSubTopicPrefix: envutil.String("PUBSUB_TOPIC_PREFIX", ""),
		RedisStreamPrefix: envutil.String("REDIS_STREAM_PREFIX", "miniclue:"),
		RedisGroup:        envutil.String("REDIS_STREAM_GROUP", "pipeline"),
		RedisConsumer:     envutil.String("REDIS_STREAM_CONSUMER", hostname()),

		PushBaseURL:        strings.TrimRight(envutil.String("PUSH_BASE_URL", ""), "/"),
		PushServiceAccount: envutil.String("PUBSUB_SERVICE_ACCOUNT_EMAIL", ""),
		PushSharedSecret:   envutil.String("PUSH_SHARED_SECRET", ""),
		APIToken:           envutil.String("API_TOKEN", ""),
		CORSOrigins:        splitList(envutil.String("CORS_ORIGINS", "")),
		VisionOCR:          envutil.Bool("VISION_OCR_ENABLED", false),
		FakeGeneration:     envutil.Bool("GENERATION_FAKE", false),
	}
	if log != nil {
		log.Info("Config loaded",
			"env", cfg.Env,
			"bus", cfg.Bus,
			"port", cfg.Port,
			"sqlite", cfg.SQLiteDSN != "",
			"push_base_url", cfg.PushBaseURL,
		)
	}
	return cfg
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
