package app

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/srleom/miniclue/internal/pipeline/dispatch"
	"github.com/srleom/miniclue/internal/pipeline/envelope"
	"github.com/srleom/miniclue/internal/platform/logger"
)

func localEnv(t *testing.T) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	for k, v := range map[string]string{
		"APP_ENV":                        "local",
		"SQLITE_DSN":                     fmt.Sprintf("file:app_%s?mode=memory&cache=shared", uuid.NewString()[:8]),
		"PIPELINE_BUS":                   "memory",
		"PIPELINE_MAX_DELIVERY_ATTEMPTS": "",
		"GENERATION_FAKE":                "true",
		"OBJECT_STORAGE_MODE":            "memory",
		"API_TOKEN":                      "",
		"REDIS_ADDR":                     "",
		"NEO4J_URI":                      "",
		"METRICS_ENABLED":                "false",
		"OTEL_ENABLED":                   "false",
		"PUSH_SHARED_SECRET":             "",
		"PUBSUB_SERVICE_ACCOUNT_EMAIL":   "",
		"VISION_OCR_ENABLED":             "false",
	} {
		t.Setenv(k, v)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	localEnv(t)
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")

	cfg := LoadConfig(nil)
	if cfg.Bus != BusMemory || cfg.Port != "8080" || !cfg.Local() {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("cors origins: %v", cfg.CORSOrigins)
	}
	if cfg.RedisConsumer == "" {
		t.Fatalf("redis consumer should default to the hostname")
	}
}

func TestPushVerifierSelection(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantNil bool
		wantErr bool
	}{
		{name: "local without auth", cfg: Config{Env: "local", Bus: BusPubSub}, wantNil: true},
		{name: "shared secret", cfg: Config{Env: "production", PushSharedSecret: "0123456789abcdef0123"}},
		{name: "short secret", cfg: Config{Env: "production", PushSharedSecret: "short"}, wantErr: true},
		{name: "service account", cfg: Config{Env: "production", PushServiceAccount: "push@proj.iam.gserviceaccount.com"}},
		{name: "pubsub in production needs auth", cfg: Config{Env: "production", Bus: BusPubSub}, wantErr: true},
		{name: "jobqueue in production", cfg: Config{Env: "production", Bus: BusJobQueue}, wantNil: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := pushVerifier(tc.cfg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tc.wantErr)
			}
			if tc.wantErr {
				return
			}
			if (v == nil) != tc.wantNil {
				t.Fatalf("verifier=%v wantNil=%v", v, tc.wantNil)
			}
		})
	}
}

func TestResolveGeneratorsRejectsFakeOutsideLocal(t *testing.T) {
	localEnv(t)
	if _, err := resolveGenerators(logger.Nop(), Config{Env: "production", FakeGeneration: true}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewWiresLocalApp(t *testing.T) {
	localEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.Cfg.MaxDeliveryAttempts != a.Policy.MaxAttempts {
		t.Fatalf("delivery cutoff %d should follow policy %d", a.Cfg.MaxDeliveryAttempts, a.Policy.MaxAttempts)
	}
	mem, ok := a.bus.Dispatcher.(*dispatch.Memory)
	if !ok {
		t.Fatalf("dispatcher: %T", a.bus.Dispatcher)
	}

	w := httptest.NewRecorder()
	a.Server.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthcheck: %d", w.Code)
	}

	body := `{"title":"Week 1","storage_path":"decks/w1.pdf","tenant":{"customer_identifier":"c1"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/lectures", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	a.Server.Engine.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	if got := len(mem.Published(envelope.TopicIngestion)); got != 1 {
		t.Fatalf("ingestion published %d times", got)
	}

	w = httptest.NewRecorder()
	a.Server.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/push/nope", bytes.NewBufferString(`{}`)))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown push topic: %d", w.Code)
	}
}
