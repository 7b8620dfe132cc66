package openai

import (
	"context"
	"net/http"
	"strings"
)

type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Message content is either a string or a []ContentPart.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

func ImagePart(url, detail string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url, Detail: detail}}
}

type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Content returns the first choice's message content.
func (r *ChatResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Refusal returns the first choice's refusal text, if any.
func (r *ChatResponse) Refusal() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Choices[0].Message.Refusal)
}

// ChatCompletion calls /v1/chat/completions under the client's retry policy.
// A model that rejects temperature is retried once without it and remembered.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Temperature != nil && c.modelRejectsTemperature(req.Model) {
		req.Temperature = nil
	}
	var resp ChatResponse
	err := c.do(ctx, c.retry, http.MethodPost, "/v1/chat/completions", req, &resp)
	if err != nil && req.Temperature != nil && isUnsupportedTemperatureParam(err) {
		c.noTemp.Store(strings.ToLower(strings.TrimSpace(req.Model)), struct{}{})
		c.log.Info("Model rejected temperature; retrying without", "model", req.Model)
		req.Temperature = nil
		resp = ChatResponse{}
		err = c.do(ctx, c.retry, http.MethodPost, "/v1/chat/completions", req, &resp)
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
