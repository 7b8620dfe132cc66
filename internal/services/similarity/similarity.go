package similarity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/yungbote/postsecret-pipeline/internal/data/repos"
	types "github.com/yungbote/postsecret-pipeline/internal/domain"
	"github.com/yungbote/postsecret-pipeline/internal/observability"
	"github.com/yungbote/postsecret-pipeline/internal/pkg/dbctx"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
	"github.com/yungbote/postsecret-pipeline/internal/platform/qdrant"
)

const (
	DefaultLimit = 10
	MaxLimit     = 200
)

var (
	ErrNoEmbedding   = errors.New("subject has no stored embedding")
	ErrInvalidFilter = errors.New("invalid similarity filter")
)

type Match = qdrant.Match

// VectorIndex answers ANN queries. available=false means the index could not answer.
type VectorIndex interface {
	Search(ctx context.Context, vector []float64, model string, limit int, minScore float64, filter qdrant.Filter) ([]qdrant.Match, bool)
}

type Service struct {
	log        *logger.Logger
	embeddings repos.EmbeddingRepo
	subjects   repos.SubjectRepo
	index      VectorIndex
	model      string
	metrics    *observability.Metrics
}

func New(log *logger.Logger, embeddings repos.EmbeddingRepo, subjects repos.SubjectRepo, index VectorIndex, model string, metrics *observability.Metrics) *Service {
	return &Service{
		log:        log.With("service", "SimilaritySearchService"),
		embeddings: embeddings,
		subjects:   subjects,
		index:      index,
		model:      model,
		metrics:    metrics,
	}
}

// FindSimilar returns subjects whose embeddings are closest to subjectID's, best first. The ANN
// index answers when it can; otherwise every stored embedding of the same model is scanned.
func (s *Service) FindSimilar(ctx context.Context, subjectID uuid.UUID, limit int, minScore float64, filter qdrant.Filter) ([]Match, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	cond, err := qdrant.Compile(filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	dbc := dbctx.Context{Ctx: ctx}
	rec, err := s.embeddings.Get(dbc, subjectID, s.model)
	if err != nil {
		return nil, fmt.Errorf("load embedding: %w", err)
	}
	if rec == nil || len(rec.Vector) == 0 {
		return nil, ErrNoEmbedding
	}

	if s.index != nil {
		if hits, ok := s.index.Search(ctx, rec.Vector, s.model, limit, minScore, filter); ok {
			s.metrics.IncSimilarity("ann")
			return trim(hits, subjectID, limit), nil
		}
	}
	s.metrics.IncSimilarity("bruteforce")
	s.log.Debug("ANN unavailable, using brute-force similarity", "subject_id", subjectID, "model", s.model)
	return s.bruteForce(dbc, subjectID, rec.Vector, limit, minScore, cond)
}

func (s *Service) bruteForce(dbc dbctx.Context, subjectID uuid.UUID, query []float64, limit int, minScore float64, cond qdrant.Condition) ([]Match, error) {
	all, err := s.embeddings.ListByModel(dbc, s.model)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	out := make([]Match, 0, len(all))
	for _, rec := range all {
		if rec.SubjectID == subjectID {
			continue
		}
		score := Cosine(query, rec.Vector)
		if score < minScore {
			continue
		}
		out = append(out, Match{SubjectID: rec.SubjectID, Score: score})
	}
	if !cond.Empty() && len(out) > 0 {
		out, err = s.applyFilter(dbc, out, cond)
		if err != nil {
			return nil, err
		}
	}
	sortMatches(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Service) applyFilter(dbc dbctx.Context, in []Match, cond qdrant.Condition) ([]Match, error) {
	ids := make([]uuid.UUID, 0, len(in))
	for _, m := range in {
		ids = append(ids, m.SubjectID)
	}
	rows, err := s.subjects.GetByIDs(dbc, ids)
	if err != nil {
		return nil, fmt.Errorf("load subjects: %w", err)
	}
	byID := make(map[uuid.UUID]*types.Subject, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	out := in[:0]
	for _, m := range in {
		sub := byID[m.SubjectID]
		if sub == nil || !cond.Match(sub.IndexPayload()) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// trim drops the query subject from ANN hits and cuts them to limit.
func trim(hits []Match, self uuid.UUID, limit int) []Match {
	out := make([]Match, 0, limit)
	for _, h := range hits {
		if h.SubjectID == self {
			continue
		}
		out = append(out, h)
		if len(out) == limit {
			break
		}
	}
	return out
}

func sortMatches(m []Match) {
	sort.SliceStable(m, func(i, j int) bool {
		if m[i].Score == m[j].Score {
			return m[i].SubjectID.String() < m[j].SubjectID.String()
		}
		return m[i].Score > m[j].Score
	})
}

// Cosine is the cosine similarity of a and b; mismatched lengths or a zero vector give 0.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < len(a); i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
