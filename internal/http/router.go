package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/postsecret-pipeline/internal/http/handlers"
	httpMW "github.com/yungbote/postsecret-pipeline/internal/http/middleware"
	"github.com/yungbote/postsecret-pipeline/internal/observability"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	ServiceName    string
	AllowedOrigins []string

	SubjectHandler *httpH.SubjectHandler
	JobHandler     *httpH.JobHandler
	HealthHandler  *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		// Subjects
		if cfg.SubjectHandler != nil {
			api.GET("/subjects/:id", cfg.SubjectHandler.GetSubject)
			api.POST("/subjects/:id/classify", cfg.SubjectHandler.Classify)
			api.POST("/subjects/:id/pair", cfg.SubjectHandler.Pair)
			api.POST("/subjects/:id/similar", cfg.SubjectHandler.FindSimilar)
		}

		// Bulk jobs
		if cfg.JobHandler != nil {
			api.POST("/jobs", cfg.JobHandler.CreateJob)
			api.POST("/jobs/reclassify", cfg.JobHandler.CreateReclassifyJob)
			api.GET("/jobs", cfg.JobHandler.ListJobs)
			api.GET("/jobs/:id", cfg.JobHandler.GetJob)
			api.GET("/jobs/:id/errors", cfg.JobHandler.ListItemErrors)
			api.POST("/jobs/:id/start", cfg.JobHandler.StartJob)
			api.POST("/jobs/:id/pause", cfg.JobHandler.PauseJob)
			api.POST("/jobs/:id/resume", cfg.JobHandler.ResumeJob)
			api.POST("/jobs/:id/stop", cfg.JobHandler.StopJob)
			api.POST("/jobs/:id/step", cfg.JobHandler.StepJob)
			api.POST("/jobs/:id/retry", cfg.JobHandler.RetryFailed)
			api.PATCH("/jobs/:id/settings", cfg.JobHandler.UpdateSettings)
			api.DELETE("/jobs/:id", cfg.JobHandler.DeleteJob)
		}
	}

	return r
}
