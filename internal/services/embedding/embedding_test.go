package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/yungbote/postsecret-pipeline/internal/domain/classification"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
	"github.com/yungbote/postsecret-pipeline/internal/platform/openai"
)

type fakeAPI struct {
	vec   []float64
	err   error
	calls int
}

func (f *fakeAPI) CreateEmbedding(_ context.Context, model, input string) (*openai.EmbeddingResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	resp := &openai.EmbeddingResponse{Model: model}
	if f.vec != nil {
		resp.Data = append(resp.Data, struct {
			Embedding []float64 `json:"embedding"`
			Index     int       `json:"index"`
		}{Embedding: f.vec})
	}
	return resp, nil
}

func norm(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

func TestBuildInput(t *testing.T) {
	p := classification.Default()
	if got := BuildInput(p); got != "" {
		t.Fatalf("default payload: want empty got=%q", got)
	}

	text := "I still miss her"
	p.Front.Text.FullText = &text
	p.Topics = []string{"grief", "love"}
	p.Vibe = []string{"wistful"}
	p.Style = "doodle"
	p.Wisdom = "call your mother"
	want := "Secret: I still miss her. Topics: grief,love. Vibe: wistful. Style: doodle. Wisdom: call your mother"
	if got := BuildInput(p); got != want {
		t.Fatalf("input:\nwant=%q\n got=%q", want, got)
	}
}

func TestEmbedNormalizesVector(t *testing.T) {
	api := &fakeAPI{vec: []float64{3, 4}}
	s := New(logger.NewNop(), api, Config{Model: "custom"})
	vec, err := s.Embed(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if math.Abs(norm(vec)-1) > 1e-9 || math.Abs(vec[0]-0.6) > 1e-9 {
		t.Fatalf("vector not unit length: %v", vec)
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	got := Normalize([]float64{0, 0, 0})
	for _, x := range got {
		if x != 0 || math.IsNaN(x) {
			t.Fatalf("zero vector changed: %v", got)
		}
	}
}

func TestEmbedFailuresReturnNil(t *testing.T) {
	cases := []struct {
		name string
		api  *fakeAPI
		text string
		want error
	}{
		{"empty input", &fakeAPI{vec: []float64{1}}, "  ", ErrEmptyInput},
		{"missing key", &fakeAPI{err: openai.ErrMissingAPIKey}, "x", ErrMissingAPIKey},
		{"http error", &fakeAPI{err: &openai.HTTPError{StatusCode: 500}}, "x", nil},
		{"empty data", &fakeAPI{}, "x", ErrNoVector},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vec, err := New(logger.NewNop(), tc.api, Config{}).Embed(context.Background(), tc.text, "")
			if vec != nil || err == nil {
				t.Fatalf("want nil vector and error, got vec=%v err=%v", vec, err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("err: want=%v got=%v", tc.want, err)
			}
		})
	}

	api := &fakeAPI{vec: []float64{1}}
	_, _ = New(logger.NewNop(), api, Config{}).Embed(context.Background(), "", "")
	if api.calls != 0 {
		t.Fatalf("empty input must not call the endpoint")
	}
}

func TestEmbedDimensionMismatchIsNotAnError(t *testing.T) {
	api := &fakeAPI{vec: []float64{1, 1, 1}}
	vec, err := New(logger.NewNop(), api, Config{}).Embed(context.Background(), "x", "text-embedding-3-small")
	if err != nil || len(vec) != 3 {
		t.Fatalf("mismatch should only warn: vec=%v err=%v", vec, err)
	}
}
