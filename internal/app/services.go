package app

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/postsecret-pipeline/internal/data/repos"
	"github.com/yungbote/postsecret-pipeline/internal/jobs/worker"
	"github.com/yungbote/postsecret-pipeline/internal/observability"
	"github.com/yungbote/postsecret-pipeline/internal/pkg/httpx"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
	"github.com/yungbote/postsecret-pipeline/internal/platform/openai"
	"github.com/yungbote/postsecret-pipeline/internal/platform/qdrant"
	"github.com/yungbote/postsecret-pipeline/internal/realtime/bus"
	"github.com/yungbote/postsecret-pipeline/internal/services/bulk"
	"github.com/yungbote/postsecret-pipeline/internal/services/classifier"
	"github.com/yungbote/postsecret-pipeline/internal/services/embedding"
	"github.com/yungbote/postsecret-pipeline/internal/services/orchestrator"
	"github.com/yungbote/postsecret-pipeline/internal/services/similarity"
)

type Services struct {
	OpenAI       *openai.Client
	Classifier   *classifier.Classifier
	Embedding    *embedding.Service
	VectorIndex  VectorIndex
	Orchestrator orchestrator.Orchestrator
	Similarity   *similarity.Service
	Bulk         bulk.BulkJobService
	Bus          bus.Bus
	Driver       *worker.Driver
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg PipelineConfig, set repos.Set, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	ai, err := openai.NewClient(log, cfg.OpenAI, openai.WithRetryPolicy(retryPolicy(log, cfg.OpenAI.MaxRetries, metrics)))
	if err != nil {
		return Services{}, fmt.Errorf("init openai client: %w", err)
	}
	if !ai.HasAPIKey() {
		log.Warn("OPENAI_API_KEY not set; classification and embedding calls will fail")
	}

	cls := classifier.New(log, ai, cfg.Classifier)
	emb := embedding.New(log, ai, cfg.Embedding)

	mirror, err := qdrant.NewMirror(log, cfg.VectorIndex)
	if err != nil {
		return Services{}, fmt.Errorf("init vector index: %w", err)
	}
	index := instrumentVectorIndex(mirror, metrics)

	orch := orchestrator.NewOrchestrator(db, log, set.Subjects, set.Embeddings, cls, emb, index,
		orchestrator.WithMetrics(metrics))
	search := similarity.New(log, set.Embeddings, set.Subjects, index, emb.Model(), metrics)

	b, err := bus.New(log, cfg.Redis)
	if err != nil {
		return Services{}, fmt.Errorf("init job bus: %w", err)
	}

	bulkSvc, err := bulk.NewBulkJobService(db, log, set, orch, cfg.Bulk,
		bulk.WithNotifier(bus.NewJobNotifier(log, b)),
		bulk.WithMetrics(metrics),
	)
	if err != nil {
		_ = b.Close()
		return Services{}, fmt.Errorf("init bulk job service: %w", err)
	}

	return Services{
		OpenAI:       ai,
		Classifier:   cls,
		Embedding:    emb,
		VectorIndex:  index,
		Orchestrator: orch,
		Similarity:   search,
		Bulk:         bulkSvc,
		Bus:          b,
		Driver:       worker.NewDriver(log, bulkSvc, cfg.Driver),
	}, nil
}

// retryPolicy is the model-call policy with retries logged and counted by status.
func retryPolicy(log *logger.Logger, maxRetries int, metrics *observability.Metrics) httpx.Policy {
	p := httpx.DefaultPolicy(maxRetries)
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		status := "transport"
		var se interface{ HTTPStatusCode() int }
		if errors.As(err, &se) {
			status = strconv.Itoa(se.HTTPStatusCode())
		}
		metrics.IncClassifierRetry(status)
		log.Warn("OpenAI request retrying",
			"attempt", attempt,
			"max_retries", maxRetries,
			"sleep", delay.String(),
			"status", status,
			"error", err.Error(),
		)
	}
	return p
}
