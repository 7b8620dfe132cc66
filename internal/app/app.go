package app

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/postsecret-pipeline/internal/data/db"
	"github.com/yungbote/postsecret-pipeline/internal/data/repos"
	httpserver "github.com/yungbote/postsecret-pipeline/internal/http"
	"github.com/yungbote/postsecret-pipeline/internal/observability"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      PipelineConfig
	Repos    repos.Set
	Services Services
	Metrics  *observability.Metrics
	Server   *httpserver.Server

	store         *db.Service
	shutdownTrace func(context.Context) error
	cancel        context.CancelFunc
}

// New builds every component from cfg. The caller owns Close.
func New(cfg PipelineConfig) (*App, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	shutdownTrace := observability.InitTracing(context.Background(), log, cfg.Tracing)
	metrics := observability.NewMetrics()

	store, err := db.Open(log, cfg.DB)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init db: %w", err)
	}
	if err := db.AutoMigrateAll(store.DB()); err != nil {
		_ = store.Close()
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	theDB := store.DB()

	reposet := repos.New(theDB, log)

	serviceset, err := wireServices(theDB, log, cfg, reposet, metrics)
	if err != nil {
		_ = store.Close()
		log.Sync()
		return nil, err
	}

	return &App{
		Log:           log,
		DB:            theDB,
		Cfg:           cfg,
		Repos:         reposet,
		Services:      serviceset,
		Metrics:       metrics,
		Server:        wireHTTP(theDB, log, cfg, reposet, serviceset, metrics),
		store:         store,
		shutdownTrace: shutdownTrace,
	}, nil
}

// Start launches the background job driver when enabled.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Cfg.Driver.Enabled && a.Services.Driver != nil {
		a.Services.Driver.Start(ctx)
	}
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTP.Addr)
	return a.Server.Run()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Log.Warn("HTTP shutdown failed", "error", err)
		}
	}
	if a.Services.Bus != nil {
		_ = a.Services.Bus.Close()
	}
	if a.shutdownTrace != nil {
		if err := a.shutdownTrace(ctx); err != nil {
			a.Log.Warn("tracer shutdown failed", "error", err)
		}
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
