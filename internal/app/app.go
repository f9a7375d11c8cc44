package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/srleom/miniclue/internal/data/db"
	jobsrepo "github.com/srleom/miniclue/internal/data/repos/jobs"
	lectrepo "github.com/srleom/miniclue/internal/data/repos/lectures"
	apphttp "github.com/srleom/miniclue/internal/http"
	httpH "github.com/srleom/miniclue/internal/http/handlers"
	"github.com/srleom/miniclue/internal/observability"
	"github.com/srleom/miniclue/internal/pipeline/generation"
	"github.com/srleom/miniclue/internal/pipeline/hooks"
	"github.com/srleom/miniclue/internal/pipeline/policy"
	"github.com/srleom/miniclue/internal/pipeline/stages"
	"github.com/srleom/miniclue/internal/platform/gcp"
	"github.com/srleom/miniclue/internal/platform/logger"
	"github.com/srleom/miniclue/internal/platform/neo4jdb"
	"github.com/srleom/miniclue/internal/platform/openai"
	"github.com/srleom/miniclue/internal/realtime/bus"
	"github.com/srleom/miniclue/internal/services"
)

type Repos struct {
	Lectures     lectrepo.LectureRepo
	Slides       lectrepo.SlideRepo
	Chunks       lectrepo.ChunkRepo
	Assets       lectrepo.AssetRepo
	Decorative   lectrepo.DecorativeRepo
	Embeddings   lectrepo.EmbeddingRepo
	Explanations lectrepo.ExplanationRepo
	Summaries    lectrepo.SummaryRepo
	DeadLetters  lectrepo.DeadLetterRepo
	JobRuns      jobsrepo.JobRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Lectures:     lectrepo.NewLectureRepo(db, log),
		Slides:       lectrepo.NewSlideRepo(db, log),
		Chunks:       lectrepo.NewChunkRepo(db, log),
		Assets:       lectrepo.NewAssetRepo(db, log),
		Decorative:   lectrepo.NewDecorativeRepo(db, log),
		Embeddings:   lectrepo.NewEmbeddingRepo(db, log),
		Explanations: lectrepo.NewExplanationRepo(db, log),
		Summaries:    lectrepo.NewSummaryRepo(db, log),
		DeadLetters:  lectrepo.NewDeadLetterRepo(db, log),
		JobRuns:      jobsrepo.NewJobRunRepo(db, log),
	}
}

type App struct {
	Log     *logger.Logger
	DB      *gorm.DB
	Cfg     Config
	Policy  *policy.Policy
	Repos   Repos
	Stages  *stages.Service
	Server  *apphttp.Server
	Metrics *observability.Metrics

	bus     pipelineBus
	redis   *goredis.Client
	closers []func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)
	a := &App{Log: log, Cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if shutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
		Version:     cfg.Version,
	}); shutdown != nil {
		a.closers = append(a.closers, shutdown)
	}
	a.Metrics = observability.Init(log)

	if a.DB, err = openDB(log, cfg); err != nil {
		return nil, err
	}
	a.Repos = wireRepos(a.DB, log)
	a.Policy = policy.Load(log)
	if cfg.MaxDeliveryAttempts <= 0 {
		cfg.MaxDeliveryAttempts = a.Policy.MaxAttempts
		a.Cfg = cfg
	}

	store, err := resolveObjectStore(ctx, log, cfg)
	if err != nil {
		return nil, err
	}
	generators, err := resolveGenerators(log, cfg)
	if err != nil {
		return nil, err
	}

	if a.redis, err = bus.NewRedisClient(log); err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	if a.redis != nil {
		a.closers = append(a.closers, func(context.Context) error { return a.redis.Close() })
	}

	if a.bus, err = wireBus(ctx, log, cfg, a.DB, a.Policy, a.Repos.JobRuns, a.redis); err != nil {
		return nil, fmt.Errorf("init pipeline bus: %w", err)
	}

	completionHooks, err := a.wireHooks(log)
	if err != nil {
		return nil, err
	}

	deps := stages.Deps{
		DB:           a.DB,
		Log:          log,
		Lectures:     a.Repos.Lectures,
		Slides:       a.Repos.Slides,
		Chunks:       a.Repos.Chunks,
		Assets:       a.Repos.Assets,
		Decorative:   a.Repos.Decorative,
		Embeddings:   a.Repos.Embeddings,
		Explanations: a.Repos.Explanations,
		Summaries:    a.Repos.Summaries,
		Store:        store,
		Dispatcher:   a.bus.Dispatcher,
		Generators:   generators,
		Policy:       a.Policy,
		Hooks:        completionHooks,
	}
	if cfg.VisionOCR {
		vision, err := gcp.NewVision(ctx, log)
		if err != nil {
			return nil, fmt.Errorf("init vision: %w", err)
		}
		deps.OCR = vision
		a.closers = append(a.closers, func(context.Context) error { return vision.Close() })
	}
	if a.Stages, err = stages.New(deps); err != nil {
		return nil, err
	}

	verifier, err := pushVerifier(cfg)
	if err != nil {
		return nil, err
	}
	lectureSvc := services.NewLectureService(a.DB, log, a.Repos.Lectures, a.Repos.Summaries, store, a.bus.Dispatcher)
	deadLetterSvc := services.NewDeadLetterService(a.DB, log, a.Repos.DeadLetters, a.bus.Dispatcher)

	rc := apphttp.RouterConfig{
		Log:               log,
		ServiceName:       cfg.ServiceName,
		CORSOrigins:       cfg.CORSOrigins,
		PushVerifier:      verifier,
		PushBaseURL:       cfg.PushBaseURL,
		APIToken:          cfg.APIToken,
		HealthHandler:     httpH.NewHealthHandler(a.DB),
		LectureHandler:    httpH.NewLectureHandler(lectureSvc),
		DeadLetterHandler: httpH.NewDeadLetterHandler(deadLetterSvc),
	}
	if verifier != nil || cfg.Local() {
		rc.PushHandler = httpH.NewPushHandler(log, a.Stages.Handlers(), deadLetterSvc, cfg.MaxDeliveryAttempts)
	} else {
		log.Warn("Push auth not configured; /push routes disabled")
	}
	a.Server = apphttp.NewServer(rc)

	ok = true
	return a, nil
}

func openDB(log *logger.Logger, cfg Config) (*gorm.DB, error) {
	if cfg.SQLiteDSN != "" {
		log.Info("Opening SQLite", "dsn", cfg.SQLiteDSN)
		return db.OpenSQLite(cfg.SQLiteDSN, false)
	}
	pg, err := db.NewPostgresService(log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		_ = pg.Close()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	return pg.DB(), nil
}

func resolveGenerators(log *logger.Logger, cfg Config) (generation.Resolver, error) {
	if cfg.FakeGeneration {
		if !cfg.Local() {
			return nil, errors.New("GENERATION_FAKE is only allowed in local mode")
		}
		log.Warn("Using fake generation")
		return generation.Static(&generation.Fake{}), nil
	}
	return generation.NewOpenAIResolver(log, openai.ConfigFromEnv(), generation.TenantKeysFromEnv()), nil
}

func pushVerifier(cfg Config) (services.PushVerifier, error) {
	switch {
	case cfg.PushSharedSecret != "":
		return services.NewSecretPushVerifier(cfg.PushSharedSecret)
	case cfg.PushServiceAccount != "":
		return services.NewGooglePushVerifier(cfg.PushServiceAccount)
	case cfg.Bus == BusPubSub && !cfg.Local():
		return nil, errors.New("PIPELINE_BUS=pubsub requires PUBSUB_SERVICE_ACCOUNT_EMAIL or PUSH_SHARED_SECRET")
	}
	return nil, nil
}

func (a *App) wireHooks(log *logger.Logger) ([]stages.Hook, error) {
	out := []stages.Hook{hooks.Metrics()}
	if a.redis != nil {
		b, err := bus.NewRedisBus(log, a.redis)
		if err != nil {
			return nil, fmt.Errorf("init redis bus: %w", err)
		}
		out = append(out, hooks.Notify(b))
	}
	graph, err := neo4jdb.New(log, neo4jdb.LoadConfig())
	if err != nil {
		return nil, fmt.Errorf("init neo4j: %w", err)
	}
	if graph != nil {
		out = append(out, hooks.Project(graph, log, a.Repos.Slides, a.Repos.Assets))
		a.closers = append(a.closers, graph.Close)
	}
	return out, nil
}

// Run starts the consumers, collectors and HTTP server and blocks until ctx
// ends.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.bus.Consume != nil {
		if err := a.bus.Consume(ctx, a.Stages.Handlers()); err != nil {
			return fmt.Errorf("start consumers: %w", err)
		}
	}
	if a.Metrics != nil {
		a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
		a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB)
		a.Metrics.StartJobQueueCollector(ctx, a.Log, a.DB)
		if a.redis != nil {
			a.Metrics.StartRedisCollector(ctx, a.Log, a.redis.Options().Addr)
		}
	}
	addr := ":" + a.Cfg.Port
	a.Log.Info("Serving", "addr", addr, "bus", a.Cfg.Bus)
	return a.Server.Run(ctx, addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.bus.Close != nil {
		a.bus.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.Log.Warn("Shutdown step failed", "error", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	a.Log.Sync()
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "miniclue"
	}
	return h
}
