package openai

import (
	"context"
	"net/http"

	"github.com/yungbote/postsecret-pipeline/internal/pkg/httpx"
)

type embeddingsRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type EmbeddingResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// CreateEmbedding embeds a single input. It is attempted exactly once.
func (c *Client) CreateEmbedding(ctx context.Context, model, input string) (*EmbeddingResponse, error) {
	var resp EmbeddingResponse
	if err := c.do(ctx, httpx.NoRetry, http.MethodPost, "/v1/embeddings", embeddingsRequest{Model: model, Input: input}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type moderationRequest struct {
	Model string `json:"model,omitempty"`
	Input string `json:"input"`
}

type ModerationResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Results []struct {
		Flagged        bool               `json:"flagged"`
		Categories     map[string]bool    `json:"categories"`
		CategoryScores map[string]float64 `json:"category_scores"`
	} `json:"results"`
}

// Moderate scores text with /v1/moderations. It is attempted exactly once.
func (c *Client) Moderate(ctx context.Context, model, input string) (*ModerationResponse, error) {
	var resp ModerationResponse
	if err := c.do(ctx, httpx.NoRetry, http.MethodPost, "/v1/moderations", moderationRequest{Model: model, Input: input}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
