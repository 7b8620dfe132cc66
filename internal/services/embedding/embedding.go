package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/yungbote/postsecret-pipeline/internal/domain/classification"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
	"github.com/yungbote/postsecret-pipeline/internal/platform/openai"
)

var (
	ErrEmptyInput    = errors.New("embedding input is empty")
	ErrMissingAPIKey = errors.New("embedding api key not configured")
	ErrNoVector      = errors.New("embedding response has no vector")
)

// KnownDimensions are the published output sizes of common embedding models.
var KnownDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

type Config struct {
	Model string `yaml:"model" validate:"required"`
}

// API is the subset of the OpenAI client used for embeddings.
type API interface {
	CreateEmbedding(ctx context.Context, model, input string) (*openai.EmbeddingResponse, error)
}

type Service struct {
	log *logger.Logger
	api API
	cfg Config
}

func New(log *logger.Logger, api API, cfg Config) *Service {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	return &Service{log: log.With("service", "EmbeddingService"), api: api, cfg: cfg}
}

func (s *Service) Model() string { return s.cfg.Model }

// Embed returns the L2-normalized embedding of text. Every failure yields a nil vector and an
// error describing it; callers treat all of them as a non-fatal missing embedding.
func (s *Service) Embed(ctx context.Context, text, model string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	if model == "" {
		model = s.cfg.Model
	}
	resp, err := s.api.CreateEmbedding(ctx, model, text)
	if errors.Is(err, openai.ErrMissingAPIKey) {
		return nil, ErrMissingAPIKey
	}
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if resp == nil || len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrNoVector
	}
	vec := resp.Data[0].Embedding
	if want, ok := KnownDimensions[model]; ok && want != len(vec) {
		s.log.Warn("embedding dimension differs from known model size", "model", model, "want", want, "got", len(vec))
	}
	return Normalize(vec), nil
}

// BuildInput renders the payload facets as "Label: a,b" segments joined by ". ".
// Segments without content are omitted.
func BuildInput(p classification.Payload) string {
	secret := strings.TrimSpace(p.FullText())
	if secret == "" {
		secret = strings.TrimSpace(p.SecretDescription)
	}
	style := p.Style
	if style == classification.Unknown {
		style = ""
	}
	segments := []struct {
		label  string
		values []string
	}{
		{"Secret", []string{secret}},
		{"Topics", p.Topics},
		{"Feelings", p.Feelings},
		{"Meanings", p.Meanings},
		{"Vibe", p.Vibe},
		{"Style", []string{style}},
		{"Locations", p.Locations},
		{"Wisdom", []string{strings.TrimSpace(p.Wisdom)}},
	}
	var out []string
	for _, seg := range segments {
		vals := make([]string, 0, len(seg.values))
		for _, v := range seg.values {
			if v = strings.TrimSpace(v); v != "" {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			continue
		}
		out = append(out, seg.label+": "+strings.Join(vals, ","))
	}
	return strings.Join(out, ". ")
}

// InputHash identifies the text a vector was produced from.
func InputHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Normalize scales v to unit Euclidean length. A zero vector is returned unchanged.
func Normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
