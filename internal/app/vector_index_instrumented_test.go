package app

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yungbote/postsecret-pipeline/internal/observability"
	"github.com/yungbote/postsecret-pipeline/internal/platform/qdrant"
)

func TestInstrumentVectorIndexPassThrough(t *testing.T) {
	id := uuid.New()
	inner := &fakeIndex{matches: []qdrant.Match{{SubjectID: id, Score: 0.9}}, available: true}
	m := observability.NewMetrics()
	vi := instrumentVectorIndex(inner, m)

	if !vi.Upsert(context.Background(), id, []float64{1, 0}, nil, "m") {
		t.Fatalf("Upsert: want=true")
	}
	out, ok := vi.Search(context.Background(), []float64{1, 0}, "m", 3, 0, nil)
	if !ok || len(out) != 1 || out[0].SubjectID != id {
		t.Fatalf("Search: ok=%v out=%+v", ok, out)
	}
	if inner.upserts != 1 || inner.searches != 1 {
		t.Fatalf("calls: upsert=%d search=%d", inner.upserts, inner.searches)
	}

	inner.available = false
	if _, ok := vi.Search(context.Background(), []float64{1, 0}, "m", 3, 0, nil); ok {
		t.Fatalf("Search: want unavailable")
	}
	n, err := testutil.GatherAndCount(m.Registry(), "postsecret_vector_index_operation_duration_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 3 {
		t.Fatalf("series: want=3 got=%d", n)
	}
}

func TestInstrumentVectorIndexWithoutMetrics(t *testing.T) {
	inner := &fakeIndex{}
	if got := instrumentVectorIndex(inner, nil); got != VectorIndex(inner) {
		t.Fatalf("without metrics the inner index is returned as is")
	}
}

type fakeIndex struct {
	matches   []qdrant.Match
	available bool
	upserts   int
	searches  int
}

func (f *fakeIndex) Upsert(context.Context, uuid.UUID, []float64, map[string]any, string) bool {
	f.upserts++
	return true
}

func (f *fakeIndex) Search(context.Context, []float64, string, int, float64, qdrant.Filter) ([]qdrant.Match, bool) {
	f.searches++
	return f.matches, f.available
}
