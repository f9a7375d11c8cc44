package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/srleom/miniclue/internal/http/handlers"
	httpMW "github.com/srleom/miniclue/internal/http/middleware"
	"github.com/srleom/miniclue/internal/observability"
	"github.com/srleom/miniclue/internal/platform/logger"
	"github.com/srleom/miniclue/internal/services"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string

	// PushVerifier authenticates /push routes; nil disables it (local runs).
	PushVerifier services.PushVerifier
	PushBaseURL  string
	APIToken     string

	HealthHandler     *httpH.HealthHandler
	PushHandler       *httpH.PushHandler
	LectureHandler    *httpH.LectureHandler
	DeadLetterHandler *httpH.DeadLetterHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(observability.Current()))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	// Push subscriptions
	if cfg.PushHandler != nil {
		push := r.Group("/push")
		push.Use(httpMW.PushAuth(cfg.Log, cfg.PushVerifier, cfg.PushBaseURL))
		push.POST("/dead-letter", cfg.PushHandler.DeadLetter)
		push.POST("/:topic", cfg.PushHandler.Push)
	}

	api := r.Group("/api")
	api.Use(httpMW.RequireAPIToken(cfg.APIToken))
	{
		if cfg.LectureHandler != nil {
			api.POST("/lectures", cfg.LectureHandler.Create)
			api.GET("/lectures/:id", cfg.LectureHandler.Get)
		}
		if cfg.DeadLetterHandler != nil {
			api.GET("/dead-letters", cfg.DeadLetterHandler.List)
			api.POST("/dead-letters/:id/replay", cfg.DeadLetterHandler.Replay)
		}
	}

	return r
}
