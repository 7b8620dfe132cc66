package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/postsecret-pipeline/internal/data/repos"
	"github.com/yungbote/postsecret-pipeline/internal/data/repos/subjects"
	types "github.com/yungbote/postsecret-pipeline/internal/domain"
	"github.com/yungbote/postsecret-pipeline/internal/domain/classification"
	"github.com/yungbote/postsecret-pipeline/internal/observability"
	"github.com/yungbote/postsecret-pipeline/internal/pkg/dbctx"
	"github.com/yungbote/postsecret-pipeline/internal/pkg/lasterr"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
	"github.com/yungbote/postsecret-pipeline/internal/schemaguard"
	"github.com/yungbote/postsecret-pipeline/internal/services/classifier"
	"github.com/yungbote/postsecret-pipeline/internal/services/embedding"
)

var (
	ErrDuplicate       = errors.New("duplicate")
	ErrSubjectNotFound = errors.New("subject not found")
)

type Classifier interface {
	Classify(ctx context.Context, front classifier.Image, back *classifier.Image) (*classifier.Result, error)
}

type Embedder interface {
	Embed(ctx context.Context, text, model string) ([]float64, error)
	Model() string
}

// VectorIndex is the best-effort ANN write side; false means the point was not mirrored.
type VectorIndex interface {
	Upsert(ctx context.Context, subjectID uuid.UUID, vector []float64, payload map[string]any, model string) bool
}

// Result is the single outcome of one Process call. Success with a non-empty EmbeddingError means
// the subject is classified but not searchable by similarity.
type Result struct {
	Success        bool                    `json:"success"`
	SubjectID      uuid.UUID               `json:"subject_id"`
	BackID         *uuid.UUID              `json:"back_id,omitempty"`
	Payload        *classification.Payload `json:"payload,omitempty"`
	Classified     bool                    `json:"classified"`
	Embedded       bool                    `json:"embedded"`
	Mirrored       bool                    `json:"mirrored"`
	Duplicate      bool                    `json:"duplicate,omitempty"`
	EmbeddingError string                  `json:"embedding_error,omitempty"`
	Error          string                  `json:"error,omitempty"`
}

func (r Result) Degraded() bool { return r.Success && r.EmbeddingError != "" }

type Orchestrator interface {
	// Process runs classify, store, embed and mirror for one secret. It never returns an error;
	// failures are reported in the Result and recorded on the subjects involved.
	Process(ctx context.Context, frontID uuid.UUID, backID *uuid.UUID, force bool) Result
	PairSubjects(ctx context.Context, frontID, backID uuid.UUID) error
}

type orchestrator struct {
	db         *gorm.DB
	log        *logger.Logger
	subjects   repos.SubjectRepo
	embeddings repos.EmbeddingRepo
	classifier Classifier
	embedder   Embedder
	index      VectorIndex
	metrics    *observability.Metrics
	tracer     trace.Tracer
	now        func() time.Time
}

type Option func(*orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *orchestrator) { o.metrics = m }
}

func NewOrchestrator(
	db *gorm.DB,
	baseLog *logger.Logger,
	subjectRepo repos.SubjectRepo,
	embeddingRepo repos.EmbeddingRepo,
	cls Classifier,
	emb Embedder,
	index VectorIndex,
	opts ...Option,
) Orchestrator {
	o := &orchestrator{
		db:         db,
		log:        baseLog.With("service", "ClassificationOrchestrator"),
		subjects:   subjectRepo,
		embeddings: embeddingRepo,
		classifier: cls,
		embedder:   emb,
		index:      index,
		tracer:     observability.Tracer(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *orchestrator) PairSubjects(ctx context.Context, frontID, backID uuid.UUID) error {
	return o.subjects.Pair(dbctx.Context{Ctx: ctx}, frontID, backID)
}

func (o *orchestrator) Process(ctx context.Context, frontID uuid.UUID, backID *uuid.UUID, force bool) (res Result) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.process", trace.WithAttributes(
		attribute.String("subject_id", frontID.String()),
		attribute.Bool("force", force),
	))
	defer span.End()

	res.SubjectID = frontID
	touched := []uuid.UUID{frontID}
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("orchestrator panic", "subject_id", frontID, "panic", r)
			res = o.fail(ctx, res, touched, fmt.Errorf("panic: %v", r))
		}
		if !res.Success {
			span.SetStatus(codes.Error, res.Error)
		}
	}()

	dbc := dbctx.Context{Ctx: ctx}
	front, back, err := o.resolve(dbc, frontID, backID)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			res.Duplicate = true
			res.Error = ErrDuplicate.Error()
			return res
		}
		return o.fail(ctx, res, touched, err)
	}
	res.SubjectID = front.ID
	touched = []uuid.UUID{front.ID}
	if back != nil {
		res.BackID = &back.ID
		touched = append(touched, back.ID)
	}

	payload, annotation, classified, err := o.payloadFor(ctx, front, back, force)
	if err != nil {
		span.RecordError(err)
		return o.fail(ctx, res, touched, err)
	}
	res.Classified = classified

	saved, err := o.store(ctx, front, back, payload, annotation, classified)
	if err != nil {
		return o.fail(ctx, res, touched, fmt.Errorf("store payload: %w", err))
	}
	res.Payload = &payload
	res.Success = true

	vector, fresh, embErr := o.embed(ctx, saved, payload)
	if embErr != nil {
		res.EmbeddingError = lasterr.Truncate(embErr, lasterr.MaxLen)
		span.RecordError(embErr)
		return res
	}
	res.Embedded = true
	res.Mirrored = o.mirror(ctx, saved, vector, fresh)
	return res
}

// resolve loads the canonical front and its optional back. A subject stored as the back of a pair
// resolves to its front partner.
func (o *orchestrator) resolve(dbc dbctx.Context, frontID uuid.UUID, backID *uuid.UUID) (*types.Subject, *types.Subject, error) {
	front, err := o.subjects.GetByID(dbc, frontID)
	if err != nil {
		return nil, nil, fmt.Errorf("load subject: %w", err)
	}
	if front == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrSubjectNotFound, frontID)
	}
	if front.DuplicateOf != nil {
		return nil, nil, ErrDuplicate
	}
	if backID != nil && *backID != uuid.Nil {
		if err := o.subjects.Pair(dbc, front.ID, *backID); err != nil {
			if errors.Is(err, subjects.ErrNotFound) {
				return nil, nil, fmt.Errorf("%w: back %s", ErrSubjectNotFound, *backID)
			}
			return nil, nil, err
		}
		if front, err = o.subjects.GetByID(dbc, front.ID); err != nil {
			return nil, nil, fmt.Errorf("reload subject: %w", err)
		}
	}
	if front.PairID != nil && front.Side == string(types.SideBack) {
		partner, err := o.subjects.GetByID(dbc, *front.PairID)
		if err != nil {
			return nil, nil, fmt.Errorf("load pair: %w", err)
		}
		if partner != nil {
			front = partner
		}
	}
	if front.PairID == nil {
		return front, nil, nil
	}
	back, err := o.subjects.GetByID(dbc, *front.PairID)
	if err != nil {
		return nil, nil, fmt.Errorf("load back: %w", err)
	}
	return front, back, nil
}

// payloadFor reuses a stored payload unless force is set or none exists.
func (o *orchestrator) payloadFor(ctx context.Context, front, back *types.Subject, force bool) (classification.Payload, *classifier.ModerationAnnotation, bool, error) {
	if !force && front.HasPayload() {
		o.metrics.IncClassifierCall("reused")
		return schemaguard.NormalizeJSON(front.Payload), nil, false, nil
	}
	ctx, span := o.tracer.Start(ctx, "orchestrator.classify")
	defer span.End()

	var backImg *classifier.Image
	if back != nil {
		img := imageFor(back)
		backImg = &img
	}
	out, err := o.classifier.Classify(ctx, imageFor(front), backImg)
	if err != nil {
		o.metrics.IncClassifierCall("error")
		span.SetStatus(codes.Error, err.Error())
		return classification.Payload{}, nil, false, err
	}
	o.metrics.IncClassifierCall("success")
	return out.Payload, out.Moderation, true, nil
}

func imageFor(s *types.Subject) classifier.Image {
	p := strings.TrimSpace(s.FilePath)
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return classifier.Image{URL: p}
	}
	return classifier.Image{Path: p}
}

// store saves the payload and derived facets on front and mirrors them onto back in one transaction.
func (o *orchestrator) store(ctx context.Context, front, back *types.Subject, p classification.Payload, ann *classifier.ModerationAnnotation, classified bool) (*types.Subject, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	updates := derivedColumns(p)
	updates["payload"] = datatypes.JSON(raw)
	updates["last_error"] = ""
	if classified {
		updates["classified_at"] = o.now()
	}
	if ann != nil {
		annRaw, err := json.Marshal(map[string]any{"moderation_annotation": ann})
		if err != nil {
			return nil, err
		}
		updates["annotation"] = datatypes.JSON(annRaw)
	}

	var saved *types.Subject
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := o.subjects.UpdateFields(dbc, front.ID, updates); err != nil {
			return err
		}
		if back != nil {
			mirrored := make(map[string]interface{}, len(updates))
			for k, v := range updates {
				mirrored[k] = v
			}
			if err := o.subjects.UpdateFields(dbc, back.ID, mirrored); err != nil {
				return err
			}
		}
		var err error
		saved, err = o.subjects.GetByID(dbc, front.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, fmt.Errorf("%w: %s", ErrSubjectNotFound, front.ID)
	}
	return saved, nil
}

func derivedColumns(p classification.Payload) map[string]interface{} {
	return map[string]interface{}{
		"style":         p.Style,
		"media_type":    p.Media.Type,
		"review_status": p.Moderation.ReviewStatus,
		"nsfw_score":    float64(p.Moderation.NSFWScore),
		"contains_pii":  p.Moderation.ContainsPII,
		"topics":        datatypes.JSONSlice[string](p.Topics),
		"feelings":      datatypes.JSONSlice[string](p.Feelings),
		"meanings":      datatypes.JSONSlice[string](p.Meanings),
		"vibe":          datatypes.JSONSlice[string](p.Vibe),
		"locations":     datatypes.JSONSlice[string](p.Locations),
	}
}

// embed returns the subject's vector, generating it only when the input text changed. fresh is false
// when the stored vector was reused and has already been mirrored.
func (o *orchestrator) embed(ctx context.Context, s *types.Subject, p classification.Payload) ([]float64, bool, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.embed")
	defer span.End()

	dbc := dbctx.Context{Ctx: ctx}
	model := o.embedder.Model()
	input := embedding.BuildInput(p)
	hash := embedding.InputHash(input)

	existing, err := o.embeddings.Get(dbc, s.ID, model)
	if err != nil {
		return nil, false, o.embeddingFailed(dbc, s.ID, fmt.Errorf("load embedding: %w", err))
	}
	if existing != nil && existing.InputHash == hash && len(existing.Vector) > 0 {
		o.metrics.IncEmbedding("unchanged")
		o.clearEmbeddingError(dbc, s)
		return existing.Vector, existing.MirroredAt == nil, nil
	}

	vec, err := o.embedder.Embed(ctx, input, model)
	if err != nil {
		return nil, false, o.embeddingFailed(dbc, s.ID, err)
	}
	if _, err := o.embeddings.Put(dbc, &types.EmbeddingRecord{
		SubjectID: s.ID,
		Model:     model,
		Vector:    vec,
		InputHash: hash,
	}); err != nil {
		return nil, false, o.embeddingFailed(dbc, s.ID, fmt.Errorf("store embedding: %w", err))
	}
	o.metrics.IncEmbedding("ok")
	o.clearEmbeddingError(dbc, s)
	return vec, true, nil
}

func (o *orchestrator) embeddingFailed(dbc dbctx.Context, id uuid.UUID, err error) error {
	o.metrics.IncEmbedding("error")
	o.log.Warn("embedding failed; subject stays classified", "subject_id", id, "error", err)
	if uerr := o.subjects.UpdateFields(dbc, id, map[string]interface{}{
		"embedding_error": lasterr.Truncate(err, lasterr.MaxLen),
	}); uerr != nil {
		o.log.Warn("failed to record embedding error", "subject_id", id, "error", uerr)
	}
	return err
}

func (o *orchestrator) clearEmbeddingError(dbc dbctx.Context, s *types.Subject) {
	if s.EmbeddingError == "" {
		return
	}
	if err := o.subjects.UpdateFields(dbc, s.ID, map[string]interface{}{"embedding_error": ""}); err != nil {
		o.log.Warn("failed to clear embedding error", "subject_id", s.ID, "error", err)
	}
}

func (o *orchestrator) mirror(ctx context.Context, s *types.Subject, vector []float64, fresh bool) bool {
	if o.index == nil {
		return false
	}
	if !fresh {
		o.metrics.IncMirror("unchanged")
		return true
	}
	ctx, span := o.tracer.Start(ctx, "orchestrator.mirror")
	defer span.End()

	model := o.embedder.Model()
	if !o.index.Upsert(ctx, s.ID, vector, s.IndexPayload(), model) {
		o.metrics.IncMirror("failed")
		return false
	}
	o.metrics.IncMirror("ok")
	if err := o.embeddings.MarkMirrored(dbctx.Context{Ctx: ctx}, s.ID, model, o.now()); err != nil {
		o.log.Warn("failed to mark embedding mirrored", "subject_id", s.ID, "error", err)
	}
	return true
}

// fail records err as the last error on every subject involved and returns a failed Result.
func (o *orchestrator) fail(ctx context.Context, res Result, ids []uuid.UUID, err error) Result {
	msg := lasterr.Truncate(err, lasterr.MaxLen)
	res.Success = false
	res.Error = msg
	res.Embedded = false
	res.Mirrored = false
	dbc := dbctx.Context{Ctx: context.WithoutCancel(ctx)}
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if uerr := o.subjects.UpdateFields(dbc, id, map[string]interface{}{"last_error": msg}); uerr != nil {
			o.log.Warn("failed to record subject error", "subject_id", id, "error", uerr)
		}
	}
	o.log.Warn("classification failed", "subject_id", res.SubjectID, "error", msg)
	return res
}
