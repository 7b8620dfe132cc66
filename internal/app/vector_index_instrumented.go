package app

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/postsecret-pipeline/internal/observability"
	"github.com/yungbote/postsecret-pipeline/internal/platform/qdrant"
)

// VectorIndex is the full ANN surface: the orchestrator writes, similarity search reads.
type VectorIndex interface {
	Upsert(ctx context.Context, subjectID uuid.UUID, vector []float64, payload map[string]any, model string) bool
	Search(ctx context.Context, vector []float64, model string, limit int, minScore float64, filter qdrant.Filter) ([]qdrant.Match, bool)
}

type instrumentedVectorIndex struct {
	inner   VectorIndex
	metrics *observability.Metrics
}

func instrumentVectorIndex(inner VectorIndex, metrics *observability.Metrics) VectorIndex {
	if inner == nil || metrics == nil {
		return inner
	}
	return &instrumentedVectorIndex{inner: inner, metrics: metrics}
}

func (s *instrumentedVectorIndex) Upsert(ctx context.Context, subjectID uuid.UUID, vector []float64, payload map[string]any, model string) bool {
	start := time.Now()
	ok := s.inner.Upsert(ctx, subjectID, vector, payload, model)
	s.observe("upsert", ok, time.Since(start))
	return ok
}

func (s *instrumentedVectorIndex) Search(ctx context.Context, vector []float64, model string, limit int, minScore float64, filter qdrant.Filter) ([]qdrant.Match, bool) {
	start := time.Now()
	out, ok := s.inner.Search(ctx, vector, model, limit, minScore, filter)
	s.observe("search", ok, time.Since(start))
	return out, ok
}

func (s *instrumentedVectorIndex) observe(operation string, ok bool, dur time.Duration) {
	status := "success"
	if !ok {
		status = "unavailable"
	}
	s.metrics.ObserveIndexOperation(operation, status, dur)
}
