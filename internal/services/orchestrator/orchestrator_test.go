package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/postsecret-pipeline/internal/data/repos"
	"github.com/yungbote/postsecret-pipeline/internal/data/repos/testutil"
	types "github.com/yungbote/postsecret-pipeline/internal/domain"
	"github.com/yungbote/postsecret-pipeline/internal/pkg/dbctx"
	"github.com/yungbote/postsecret-pipeline/internal/schemaguard"
	"github.com/yungbote/postsecret-pipeline/internal/services/classifier"
)

type fakeClassifier struct {
	calls  int
	fronts []classifier.Image
	backs  []*classifier.Image
	err    error
	panics bool
	raw    map[string]any
}

func (f *fakeClassifier) Classify(_ context.Context, front classifier.Image, back *classifier.Image) (*classifier.Result, error) {
	f.calls++
	f.fronts = append(f.fronts, front)
	f.backs = append(f.backs, back)
	if f.panics {
		panic("model exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	raw := f.raw
	if raw == nil {
		raw = map[string]any{
			"topics":     []any{"Love", "regret"},
			"style":      "collage",
			"media":      map[string]any{"type": "postcard"},
			"moderation": map[string]any{"reviewStatus": "auto_vetted", "nsfwScore": 0.2},
		}
	}
	return &classifier.Result{
		Payload:    schemaguard.Normalize(raw),
		Moderation: &classifier.ModerationAnnotation{Model: "omni-moderation-latest"},
	}, nil
}

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Model() string { return "text-embedding-3-small" }

func (f *fakeEmbedder) Embed(_ context.Context, text, _ string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty")
	}
	return []float64{0.6, 0.8}, nil
}

type fakeIndex struct {
	calls    int
	ok       bool
	payloads []map[string]any
}

func (f *fakeIndex) Upsert(_ context.Context, _ uuid.UUID, _ []float64, payload map[string]any, _ string) bool {
	f.calls++
	f.payloads = append(f.payloads, payload)
	return f.ok
}

type harness struct {
	db   *gorm.DB
	set  repos.Set
	cls  *fakeClassifier
	emb  *fakeEmbedder
	idx  *fakeIndex
	orch Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb := testutil.DB(t)
	h := &harness{
		db:  gdb,
		set: repos.New(gdb, testutil.Logger(t)),
		cls: &fakeClassifier{},
		emb: &fakeEmbedder{},
		idx: &fakeIndex{ok: true},
	}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h.orch = NewOrchestrator(gdb, testutil.Logger(t), h.set.Subjects, h.set.Embeddings, h.cls, h.emb, h.idx,
		WithClock(func() time.Time { return fixed }))
	return h
}

func (h *harness) subject(t *testing.T, id uuid.UUID) *types.Subject {
	t.Helper()
	s, err := h.set.Subjects.GetByID(dbctx.Context{Ctx: context.Background()}, id)
	if err != nil || s == nil {
		t.Fatalf("load subject %s: %v", id, err)
	}
	return s
}

func TestProcessFullPipeline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := testutil.SeedSubject(t, ctx, h.db, "hash-a")

	res := h.orch.Process(ctx, sub.ID, nil, false)
	if !res.Success || !res.Classified || !res.Embedded || !res.Mirrored {
		t.Fatalf("result: got=%+v", res)
	}
	if res.Payload == nil || res.Payload.Style != "collage" {
		t.Fatalf("payload: got=%+v", res.Payload)
	}

	got := h.subject(t, sub.ID)
	if !got.HasPayload() || got.Style != "collage" || got.MediaType != "postcard" || got.ReviewStatus != "auto_vetted" {
		t.Fatalf("derived columns: got style=%q media=%q review=%q", got.Style, got.MediaType, got.ReviewStatus)
	}
	if got.NSFWScore != 0.2 {
		t.Fatalf("nsfw: want=0.2 got=%v", got.NSFWScore)
	}
	if len(got.Topics) != 2 || got.Topics[0] != "love" {
		t.Fatalf("topics: got=%v", got.Topics)
	}
	if got.ClassifiedAt == nil {
		t.Fatalf("classified_at not set")
	}
	if !strings.Contains(string(got.Annotation), "moderation_annotation") {
		t.Fatalf("annotation: got=%s", got.Annotation)
	}

	rec, err := h.set.Embeddings.Get(dbctx.Context{Ctx: ctx}, sub.ID, h.emb.Model())
	if err != nil || rec == nil {
		t.Fatalf("embedding record: %v", err)
	}
	if rec.Dimension != 2 || rec.MirroredAt == nil {
		t.Fatalf("embedding record: dim=%d mirrored=%v", rec.Dimension, rec.MirroredAt)
	}
	if h.idx.payloads[0]["style"] != "collage" {
		t.Fatalf("index payload: got=%v", h.idx.payloads[0])
	}
}

func TestProcessIsIdempotentWithoutForce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := testutil.SeedSubject(t, ctx, h.db, "hash-a")

	if res := h.orch.Process(ctx, sub.ID, nil, false); !res.Success {
		t.Fatalf("first run: %+v", res)
	}
	res := h.orch.Process(ctx, sub.ID, nil, false)
	if !res.Success || res.Classified {
		t.Fatalf("second run should reuse payload: %+v", res)
	}
	if h.cls.calls != 1 || h.emb.calls != 1 || h.idx.calls != 1 {
		t.Fatalf("calls: classify=%d embed=%d index=%d", h.cls.calls, h.emb.calls, h.idx.calls)
	}

	res = h.orch.Process(ctx, sub.ID, nil, true)
	if !res.Success || !res.Classified {
		t.Fatalf("forced run: %+v", res)
	}
	if h.cls.calls != 2 {
		t.Fatalf("force must reclassify: calls=%d", h.cls.calls)
	}
	if h.emb.calls != 1 {
		t.Fatalf("unchanged facets must not re-embed: calls=%d", h.emb.calls)
	}
}

func TestProcessEmbeddingFailureIsNonFatal(t *testing.T) {
	h := newHarness(t)
	h.emb.err = errors.New("embedding service down")
	ctx := context.Background()
	sub := testutil.SeedSubject(t, ctx, h.db, "hash-a")

	res := h.orch.Process(ctx, sub.ID, nil, false)
	if !res.Success || !res.Degraded() || res.Embedded || res.Mirrored {
		t.Fatalf("result: got=%+v", res)
	}
	if h.idx.calls != 0 {
		t.Fatalf("nothing to mirror: calls=%d", h.idx.calls)
	}
	got := h.subject(t, sub.ID)
	if !got.HasPayload() || got.EmbeddingError == "" || got.LastError != "" {
		t.Fatalf("subject: payload=%v embedding_error=%q last_error=%q", got.HasPayload(), got.EmbeddingError, got.LastError)
	}

	h.emb.err = nil
	res = h.orch.Process(ctx, sub.ID, nil, false)
	if !res.Success || !res.Embedded || res.Degraded() {
		t.Fatalf("recovery: %+v", res)
	}
	if got := h.subject(t, sub.ID); got.EmbeddingError != "" {
		t.Fatalf("embedding error not cleared: %q", got.EmbeddingError)
	}
}

func TestProcessMirrorFailureKeepsSuccess(t *testing.T) {
	h := newHarness(t)
	h.idx.ok = false
	ctx := context.Background()
	sub := testutil.SeedSubject(t, ctx, h.db, "hash-a")

	res := h.orch.Process(ctx, sub.ID, nil, false)
	if !res.Success || !res.Embedded || res.Mirrored {
		t.Fatalf("result: %+v", res)
	}
	rec, _ := h.set.Embeddings.Get(dbctx.Context{Ctx: ctx}, sub.ID, h.emb.Model())
	if rec == nil || rec.MirroredAt != nil {
		t.Fatalf("mirrored_at must stay unset: %+v", rec)
	}

	h.idx.ok = true
	if res := h.orch.Process(ctx, sub.ID, nil, false); !res.Mirrored {
		t.Fatalf("retry should mirror the stored vector: %+v", res)
	}
	if h.emb.calls != 1 {
		t.Fatalf("stored vector must be reused: embed calls=%d", h.emb.calls)
	}
}

func TestProcessClassifierFailure(t *testing.T) {
	h := newHarness(t)
	h.cls.err = &classifier.Error{Op: "parse content", Err: errors.New("not json")}
	ctx := context.Background()
	sub := testutil.SeedSubject(t, ctx, h.db, "hash-a")

	res := h.orch.Process(ctx, sub.ID, nil, false)
	if res.Success || !strings.Contains(res.Error, "parse content") {
		t.Fatalf("result: %+v", res)
	}
	got := h.subject(t, sub.ID)
	if got.HasPayload() || !strings.Contains(got.LastError, "parse content") {
		t.Fatalf("subject: payload=%v last_error=%q", got.HasPayload(), got.LastError)
	}
	if h.emb.calls != 0 {
		t.Fatalf("embedding must not run after a failed classification")
	}
}

func TestProcessRecoversPanics(t *testing.T) {
	h := newHarness(t)
	h.cls.panics = true
	ctx := context.Background()
	sub := testutil.SeedSubject(t, ctx, h.db, "hash-a")

	res := h.orch.Process(ctx, sub.ID, nil, false)
	if res.Success || !strings.Contains(res.Error, "model exploded") {
		t.Fatalf("result: %+v", res)
	}
	if got := h.subject(t, sub.ID); !strings.Contains(got.LastError, "panic") {
		t.Fatalf("last_error: %q", got.LastError)
	}
}

func TestProcessDuplicateShortCircuits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orig := testutil.SeedSubject(t, ctx, h.db, "hash-a")
	dup := testutil.SeedSubject(t, ctx, h.db, "hash-a")
	if err := h.set.Subjects.UpdateFields(dbctx.Context{Ctx: ctx}, dup.ID, map[string]interface{}{"duplicate_of": orig.ID}); err != nil {
		t.Fatalf("mark duplicate: %v", err)
	}

	res := h.orch.Process(ctx, dup.ID, nil, true)
	if res.Success || !res.Duplicate || res.Error != "duplicate" {
		t.Fatalf("result: %+v", res)
	}
	if h.cls.calls != 0 {
		t.Fatalf("duplicate must not be classified")
	}
}

func TestProcessMirrorsOntoBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	front := testutil.SeedSubject(t, ctx, h.db, "hash-front")
	back := testutil.SeedSubject(t, ctx, h.db, "hash-back")

	res := h.orch.Process(ctx, front.ID, &back.ID, false)
	if !res.Success || res.BackID == nil || *res.BackID != back.ID {
		t.Fatalf("result: %+v", res)
	}
	if h.cls.backs[0] == nil || h.cls.backs[0].Path != back.FilePath {
		t.Fatalf("classifier must receive the back image: %+v", h.cls.backs[0])
	}
	gotFront, gotBack := h.subject(t, front.ID), h.subject(t, back.ID)
	if gotBack.PairID == nil || *gotBack.PairID != front.ID || gotBack.Side != "back" {
		t.Fatalf("back linkage: pair=%v side=%q", gotBack.PairID, gotBack.Side)
	}
	if string(gotBack.Payload) != string(gotFront.Payload) || gotBack.Style != gotFront.Style {
		t.Fatalf("back must mirror front payload")
	}

	// Processing the back subject resolves to its front.
	res = h.orch.Process(ctx, back.ID, nil, false)
	if !res.Success || res.SubjectID != front.ID {
		t.Fatalf("back resolves to front: %+v", res)
	}
	if rec, err := h.set.Embeddings.Get(dbctx.Context{Ctx: ctx}, back.ID, h.emb.Model()); err != nil || rec != nil {
		t.Fatalf("back must not get its own embedding: rec=%v err=%v", rec, err)
	}
}

func TestProcessReversedPairKeepsOrientation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	front := testutil.SeedSubject(t, ctx, h.db, "rf")
	back := testutil.SeedSubject(t, ctx, h.db, "rb")
	if err := h.orch.PairSubjects(ctx, front.ID, back.ID); err != nil {
		t.Fatalf("PairSubjects: %v", err)
	}

	res := h.orch.Process(ctx, back.ID, &front.ID, false)
	if !res.Success || res.SubjectID != front.ID || res.BackID == nil || *res.BackID != back.ID {
		t.Fatalf("result: %+v", res)
	}
	if gotFront, gotBack := h.subject(t, front.ID), h.subject(t, back.ID); gotFront.Side != "front" || gotBack.Side != "back" {
		t.Fatalf("orientation flipped: front=%q back=%q", gotFront.Side, gotBack.Side)
	}
}

func TestProcessRejectsRepairing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	front := testutil.SeedSubject(t, ctx, h.db, "f")
	back := testutil.SeedSubject(t, ctx, h.db, "b")
	other := testutil.SeedSubject(t, ctx, h.db, "o")
	if err := h.orch.PairSubjects(ctx, front.ID, back.ID); err != nil {
		t.Fatalf("PairSubjects: %v", err)
	}
	res := h.orch.Process(ctx, front.ID, &other.ID, false)
	if res.Success || !strings.Contains(res.Error, "already_paired") {
		t.Fatalf("result: %+v", res)
	}
	if h.cls.calls != 0 {
		t.Fatalf("classifier must not run on a pairing conflict")
	}
}

func TestProcessUnknownSubject(t *testing.T) {
	h := newHarness(t)
	res := h.orch.Process(context.Background(), uuid.New(), nil, false)
	if res.Success || !strings.Contains(res.Error, ErrSubjectNotFound.Error()) {
		t.Fatalf("result: %+v", res)
	}
}
