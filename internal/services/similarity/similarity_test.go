package similarity

import (
	"context"
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/postsecret-pipeline/internal/data/repos"
	"github.com/yungbote/postsecret-pipeline/internal/data/repos/testutil"
	types "github.com/yungbote/postsecret-pipeline/internal/domain"
	"github.com/yungbote/postsecret-pipeline/internal/pkg/dbctx"
	"github.com/yungbote/postsecret-pipeline/internal/platform/qdrant"
)

const testModel = "text-embedding-3-small"

type fakeIndex struct {
	hits      []qdrant.Match
	available bool
	calls     int
	limit     int
}

func (f *fakeIndex) Search(_ context.Context, _ []float64, _ string, limit int, _ float64, _ qdrant.Filter) ([]qdrant.Match, bool) {
	f.calls++
	f.limit = limit
	return f.hits, f.available
}

type fixture struct {
	set  repos.Set
	ids  []uuid.UUID
	vecs map[uuid.UUID][]float64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	gdb := testutil.DB(t)
	set := repos.New(gdb, testutil.Logger(t))
	f := &fixture{set: set, vecs: map[uuid.UUID][]float64{}}
	vectors := [][]float64{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0.5, 0.5, 0},
		{0, 1, 0},
		{0, 0, 1},
		{-1, 0, 0},
		{0, 0, 0},
	}
	styles := []string{"collage", "collage", "doodle", "collage", "doodle", "collage", "collage"}
	for i, v := range vectors {
		sub := testutil.SeedSubject(t, ctx, gdb, uuid.NewString())
		if err := set.Subjects.UpdateFields(dbctx.Context{Ctx: ctx}, sub.ID, map[string]interface{}{
			"style":  styles[i],
			"topics": datatypes.JSONSlice[string]{"love", styles[i]},
		}); err != nil {
			t.Fatalf("update subject: %v", err)
		}
		if _, err := set.Embeddings.Put(dbctx.Context{Ctx: ctx}, &types.EmbeddingRecord{
			SubjectID: sub.ID,
			Model:     testModel,
			Vector:    v,
			InputHash: uuid.NewString(),
		}); err != nil {
			t.Fatalf("put embedding: %v", err)
		}
		f.ids = append(f.ids, sub.ID)
		f.vecs[sub.ID] = v
	}
	return f
}

func (f *fixture) service(t *testing.T, idx VectorIndex) *Service {
	return New(testutil.Logger(t), f.set.Embeddings, f.set.Subjects, idx, testModel, nil)
}

// reference computes the expected brute-force answer independently of the service.
func (f *fixture) reference(self uuid.UUID, limit int, minScore float64, keep func(uuid.UUID) bool) []Match {
	q := f.vecs[self]
	var out []Match
	for id, v := range f.vecs {
		if id == self || (keep != nil && !keep(id)) {
			continue
		}
		var dot, na, nb float64
		for i := range q {
			dot += q[i] * v[i]
			na += q[i] * q[i]
			nb += v[i] * v[i]
		}
		score := 0.0
		if na > 0 && nb > 0 {
			score = dot / (math.Sqrt(na) * math.Sqrt(nb))
		}
		if score >= minScore {
			out = append(out, Match{SubjectID: id, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].SubjectID.String() < out[j].SubjectID.String()
		}
		return out[i].Score > out[j].Score
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sameMatches(t *testing.T, want, got []Match) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("len: want=%d got=%d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if want[i].SubjectID != got[i].SubjectID || math.Abs(want[i].Score-got[i].Score) > 1e-9 {
			t.Fatalf("match %d: want=%v got=%v", i, want[i], got[i])
		}
	}
}

func TestFallbackMatchesBruteForce(t *testing.T) {
	f := newFixture(t)
	idx := &fakeIndex{available: false}
	svc := f.service(t, idx)

	cases := []struct {
		name     string
		limit    int
		minScore float64
	}{
		{"all", 10, -1},
		{"limited", 2, -1},
		{"threshold", 10, 0.5},
		{"nothing passes", 10, 1.01},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.FindSimilar(context.Background(), f.ids[0], tc.limit, tc.minScore, nil)
			if err != nil {
				t.Fatalf("FindSimilar: %v", err)
			}
			sameMatches(t, f.reference(f.ids[0], tc.limit, tc.minScore, nil), got)
		})
	}
	if idx.calls != len(cases) {
		t.Fatalf("index calls: want=%d got=%d", len(cases), idx.calls)
	}
}

func TestFallbackAppliesFilter(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, nil)
	styleOf := map[uuid.UUID]string{}
	styles := []string{"collage", "collage", "doodle", "collage", "doodle", "collage", "collage"}
	for i, id := range f.ids {
		styleOf[id] = styles[i]
	}

	got, err := svc.FindSimilar(context.Background(), f.ids[0], 10, -1, qdrant.Filter{"style": "doodle"})
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	sameMatches(t, f.reference(f.ids[0], 10, -1, func(id uuid.UUID) bool { return styleOf[id] == "doodle" }), got)

	got, err = svc.FindSimilar(context.Background(), f.ids[0], 10, -1, qdrant.Filter{"topics": map[string]any{"$in": []any{"doodle"}}})
	if err != nil {
		t.Fatalf("FindSimilar list filter: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("list filter: want=2 got=%v", got)
	}
}

func TestZeroVectorScoresZero(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, nil)
	zero := f.ids[len(f.ids)-1]
	got, err := svc.FindSimilar(context.Background(), zero, 10, -1, nil)
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	for _, m := range got {
		if m.Score != 0 || math.IsNaN(m.Score) {
			t.Fatalf("zero vector score: got=%v", m.Score)
		}
	}
}

func TestANNResultIsUsedEvenWhenEmpty(t *testing.T) {
	f := newFixture(t)
	idx := &fakeIndex{available: true, hits: []qdrant.Match{}}
	got, err := f.service(t, idx).FindSimilar(context.Background(), f.ids[0], 5, 0, nil)
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("available empty result must not fall back: got=%v", got)
	}
}

func TestANNResultDropsSelfAndTruncates(t *testing.T) {
	f := newFixture(t)
	idx := &fakeIndex{available: true, hits: []qdrant.Match{
		{SubjectID: f.ids[0], Score: 1},
		{SubjectID: f.ids[1], Score: 0.99},
		{SubjectID: f.ids[2], Score: 0.7},
		{SubjectID: f.ids[3], Score: 0.2},
	}}
	got, err := f.service(t, idx).FindSimilar(context.Background(), f.ids[0], 2, 0, nil)
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(got) != 2 || got[0].SubjectID != f.ids[1] || got[1].SubjectID != f.ids[2] {
		t.Fatalf("ann hits: got=%v", got)
	}
}

func TestFindSimilarClampsLimit(t *testing.T) {
	f := newFixture(t)
	idx := &fakeIndex{available: true, hits: []qdrant.Match{}}
	if _, err := f.service(t, idx).FindSimilar(context.Background(), f.ids[0], 10_000, 0, nil); err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if idx.limit != MaxLimit {
		t.Fatalf("limit: want=%d got=%d", MaxLimit, idx.limit)
	}
}

func TestFindSimilarErrors(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, nil)
	if _, err := svc.FindSimilar(context.Background(), uuid.New(), 5, 0, nil); !errors.Is(err, ErrNoEmbedding) {
		t.Fatalf("unknown subject: want ErrNoEmbedding got=%v", err)
	}
	if _, err := svc.FindSimilar(context.Background(), f.ids[0], 5, 0, qdrant.Filter{"style": map[string]any{"$gt": 1}}); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("bad filter: want ErrInvalidFilter got=%v", err)
	}
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float64{1, 0}, []float64{1, 0}); math.Abs(got-1) > 1e-12 {
		t.Fatalf("identical: got=%v", got)
	}
	if got := Cosine([]float64{1, 0}, []float64{0, 1}); got != 0 {
		t.Fatalf("orthogonal: got=%v", got)
	}
	if got := Cosine([]float64{0, 0}, []float64{1, 1}); got != 0 {
		t.Fatalf("zero: got=%v", got)
	}
	if got := Cosine([]float64{1}, []float64{1, 2}); got != 0 {
		t.Fatalf("mismatched: got=%v", got)
	}
}
