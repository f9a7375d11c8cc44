package temporalx

import (
	"time"

	"github.com/srleom/miniclue/internal/platform/envutil"
)

type Config struct {
	Address   string
	Namespace string
	TaskQueue string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string

	DialTimeout   time.Duration
	DialMaxWait   time.Duration
	AutoNamespace bool
	Concurrency   int
	// MaxAttempts caps activity retries of one stage delivery.
	MaxAttempts int
}

func LoadConfig() Config {
	return Config{
		Address:   envutil.String("TEMPORAL_ADDRESS", ""),
		Namespace: envutil.String("TEMPORAL_NAMESPACE", "miniclue"),
		TaskQueue: envutil.String("TEMPORAL_TASK_QUEUE", "miniclue-pipeline"),

		ClientCertPath: envutil.String("TEMPORAL_CLIENT_CERT_PATH", ""),
		ClientKeyPath:  envutil.String("TEMPORAL_CLIENT_KEY_PATH", ""),
		ClientCAPath:   envutil.String("TEMPORAL_CLIENT_CA_PATH", ""),

		DialTimeout:   envutil.Duration("TEMPORAL_DIAL_TIMEOUT", 5*time.Second),
		DialMaxWait:   envutil.Duration("TEMPORAL_DIAL_MAX_WAIT", 60*time.Second),
		AutoNamespace: envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false),
		Concurrency:   envutil.Int("WORKER_CONCURRENCY", 4),
		MaxAttempts:   envutil.Int("PIPELINE_MAX_ATTEMPTS", 5),
	}
}
