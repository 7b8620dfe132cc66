package app

import (
	"context"

	"gorm.io/gorm"

	"github.com/yungbote/postsecret-pipeline/internal/data/repos"
	httpserver "github.com/yungbote/postsecret-pipeline/internal/http"
	httpH "github.com/yungbote/postsecret-pipeline/internal/http/handlers"
	"github.com/yungbote/postsecret-pipeline/internal/observability"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
)

func wireHTTP(db *gorm.DB, log *logger.Logger, cfg PipelineConfig, set repos.Set, svc Services, metrics *observability.Metrics) *httpserver.Server {
	ping := func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
	serviceName := ""
	if cfg.Tracing.Enabled {
		serviceName = cfg.Tracing.ServiceName
	}
	return httpserver.NewServer(cfg.HTTP.Addr, httpserver.RouterConfig{
		Log:            log,
		Metrics:        metrics,
		ServiceName:    serviceName,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		SubjectHandler: httpH.NewSubjectHandler(set.Subjects, svc.Orchestrator, svc.Similarity),
		JobHandler:     httpH.NewJobHandler(log, svc.Bulk, cfg.HTTP.UploadTempDir),
		HealthHandler:  httpH.NewHealthHandler(ping),
	})
}
