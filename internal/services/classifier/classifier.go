package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/postsecret-pipeline/internal/domain/classification"
	"github.com/yungbote/postsecret-pipeline/internal/ingestion/imageprep"
	"github.com/yungbote/postsecret-pipeline/internal/pkg/httpx"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
	"github.com/yungbote/postsecret-pipeline/internal/platform/openai"
	"github.com/yungbote/postsecret-pipeline/internal/schemaguard"
)

const defaultPrompt = `You classify scanned PostSecret postcards. Reply with a single JSON object using the keys ` +
	`topics, feelings, meanings, vibe, style, locations, wisdom, secretDescription, media, front, back, ` +
	`moderation and confidence. Images are introduced by "SIDE: front" and "SIDE: back" markers.`

type Config struct {
	Model           string  `yaml:"model" validate:"required"`
	Detail          string  `yaml:"detail" validate:"oneof=low auto high"`
	Temperature     float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens       int     `yaml:"max_tokens" validate:"gte=0"`
	MaxImageEdge    int     `yaml:"max_image_edge" validate:"gte=0"`
	Prompt          string  `yaml:"prompt"`
	Moderation      bool    `yaml:"moderation"`
	ModerationModel string  `yaml:"moderation_model"`
}

// ChatAPI is the subset of the OpenAI client the classifier needs.
type ChatAPI interface {
	ChatCompletion(ctx context.Context, req openai.ChatRequest) (*openai.ChatResponse, error)
	Moderate(ctx context.Context, model, input string) (*openai.ModerationResponse, error)
}

// Image references one side. URL wins over Path; a local Path is sent as a data URL.
type Image struct {
	Path string
	URL  string
}

// Error is raised when no valid payload could be obtained.
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("classifier: ")
	b.WriteString(e.Op)
	// A wrapped HTTPError already renders its status and body.
	var he *openai.HTTPError
	wrapsHTTP := errors.As(e.Err, &he)
	if e.StatusCode > 0 && !wrapsHTTP {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Body != "" && !wrapsHTTP {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ModerationAnnotation records the optional moderation sub-call. It never affects success.
type ModerationAnnotation struct {
	Model      string   `json:"model,omitempty"`
	Flagged    bool     `json:"flagged"`
	Categories []string `json:"categories,omitempty"`
	MaxScore   float64  `json:"max_score"`
	Error      string   `json:"error,omitempty"`
}

type Result struct {
	Payload    classification.Payload
	Moderation *ModerationAnnotation
}

type Classifier struct {
	log *logger.Logger
	api ChatAPI
	cfg Config
}

func New(log *logger.Logger, api ChatAPI, cfg Config) *Classifier {
	if cfg.Detail == "" {
		cfg.Detail = "auto"
	}
	if cfg.MaxImageEdge <= 0 {
		cfg.MaxImageEdge = imageprep.DefaultMaxEdge
	}
	if strings.TrimSpace(cfg.Prompt) == "" {
		cfg.Prompt = defaultPrompt
	}
	return &Classifier{log: log.With("service", "VisionClassifier"), api: api, cfg: cfg}
}

func (c *Classifier) Model() string { return c.cfg.Model }

// Classify sends front (and back, when given) to the vision model and returns the normalized payload.
func (c *Classifier) Classify(ctx context.Context, front Image, back *Image) (*Result, error) {
	req, err := c.buildRequest(front, back)
	if err != nil {
		return nil, err
	}
	resp, err := c.api.ChatCompletion(ctx, req)
	if err != nil {
		return nil, wrapTransport(err)
	}
	content := strings.TrimSpace(resp.Content())
	if content == "" {
		if r := resp.Refusal(); r != "" {
			return nil, &Error{Op: "empty content", Body: httpx.TruncateBody([]byte(r), 500)}
		}
		return nil, &Error{Op: "empty content"}
	}
	var raw any
	dec := json.NewDecoder(strings.NewReader(stripFences(content)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, &Error{Op: "parse content", Err: err, Body: httpx.TruncateBody([]byte(content), 500)}
	}
	if _, ok := raw.(map[string]any); !ok {
		return nil, &Error{Op: "parse content", Err: errors.New("content is not a JSON object"), Body: httpx.TruncateBody([]byte(content), 500)}
	}

	out := &Result{Payload: schemaguard.Normalize(raw)}
	if c.cfg.Moderation {
		out.Moderation = c.moderate(ctx, out.Payload)
	}
	return out, nil
}

func (c *Classifier) buildRequest(front Image, back *Image) (openai.ChatRequest, error) {
	frontURL, err := c.imageURL(front)
	if err != nil {
		return openai.ChatRequest{}, &Error{Op: "prepare front image", Err: err}
	}
	parts := []openai.ContentPart{
		openai.TextPart("SIDE: front"),
		openai.ImagePart(frontURL, c.cfg.Detail),
	}
	if back != nil {
		backURL, err := c.imageURL(*back)
		if err != nil {
			return openai.ChatRequest{}, &Error{Op: "prepare back image", Err: err}
		}
		parts = append(parts,
			openai.TextPart("SIDE: back"),
			openai.ImagePart(backURL, c.cfg.Detail),
		)
	}
	temp := c.cfg.Temperature
	return openai.ChatRequest{
		Model: c.cfg.Model,
		Messages: []openai.Message{
			{Role: "system", Content: c.cfg.Prompt},
			{Role: "user", Content: parts},
		},
		Temperature:    &temp,
		MaxTokens:      c.cfg.MaxTokens,
		ResponseFormat: &openai.ResponseFormat{Type: "json_object"},
	}, nil
}

func (c *Classifier) imageURL(img Image) (string, error) {
	if u := strings.TrimSpace(img.URL); u != "" {
		return u, nil
	}
	if strings.TrimSpace(img.Path) == "" {
		return "", errors.New("image has neither url nor path")
	}
	return imageprep.DataURL(img.Path, c.cfg.MaxImageEdge)
}

func (c *Classifier) moderate(ctx context.Context, p classification.Payload) *ModerationAnnotation {
	text := strings.TrimSpace(strings.Join([]string{p.FullText(), p.SecretDescription}, "\n"))
	if text == "" {
		return nil
	}
	ann := &ModerationAnnotation{Model: c.cfg.ModerationModel}
	resp, err := c.api.Moderate(ctx, c.cfg.ModerationModel, text)
	if err != nil {
		c.log.Warn("moderation sub-call failed", "error", err)
		ann.Error = httpx.TruncateBody([]byte(err.Error()), 500)
		return ann
	}
	if resp.Model != "" {
		ann.Model = resp.Model
	}
	for _, r := range resp.Results {
		ann.Flagged = ann.Flagged || r.Flagged
		for name, hit := range r.Categories {
			if hit {
				ann.Categories = append(ann.Categories, name)
			}
		}
		for _, s := range r.CategoryScores {
			if s > ann.MaxScore {
				ann.MaxScore = s
			}
		}
	}
	sort.Strings(ann.Categories)
	return ann
}

// wrapTransport converts client errors into classifier errors, keeping the HTTP status and body.
func wrapTransport(err error) error {
	var he *openai.HTTPError
	if errors.As(err, &he) {
		return &Error{Op: "chat completion", StatusCode: he.StatusCode, Body: he.Body, Err: err}
	}
	return &Error{Op: "chat completion", Err: err}
}

// stripFences tolerates models that wrap JSON in a markdown code fence.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
