package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/postsecret-pipeline/internal/pkg/httpx"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
)

const maxErrorBodyBytes = 1024

var ErrMissingAPIKey = errors.New("missing openai api key")

type Config struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries" validate:"gte=0,lte=10"`
}

// Client talks to an OpenAI-compatible REST endpoint.
type Client struct {
	log     *logger.Logger
	baseURL string
	apiKey  string
	http    *http.Client
	retry   httpx.Policy
	now     func() time.Time

	// Models that rejected the temperature parameter once; it is omitted afterwards.
	noTemp sync.Map
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithRetryPolicy(p httpx.Policy) Option {
	return func(c *Client) { c.retry = p }
}

func NewClient(log *logger.Logger, cfg Config, opts ...Option) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	c := &Client{
		log:     log.With("service", "OpenAIClient"),
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		http:    &http.Client{Timeout: timeout},
		retry:   httpx.DefaultPolicy(cfg.MaxRetries),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = func(attempt int, delay time.Duration, err error) {
			c.log.Warn("OpenAI request retrying",
				"attempt", attempt,
				"max_retries", c.retry.MaxRetries,
				"sleep", delay.String(),
				"error", err.Error(),
			)
		}
	}
	return c, nil
}

func (c *Client) HasAPIKey() bool { return c != nil && c.apiKey != "" }

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
	retryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (e *HTTPError) RetryAfter() time.Duration {
	if e == nil {
		return 0
	}
	return e.retryAfter
}

func (c *Client) doOnce(ctx context.Context, method, path string, body any, out any) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("openai encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       httpx.TruncateBody(raw, maxErrorBodyBytes),
			retryAfter: httpx.RetryAfterDuration(resp.Header, c.now()),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &DecodeError{Err: err, Body: httpx.TruncateBody(raw, maxErrorBodyBytes)}
	}
	return nil
}

// DecodeError means the endpoint answered 2xx with a body that is not the expected JSON.
type DecodeError struct {
	Err  error
	Body string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("openai decode error: %v; raw=%s", e.Err, e.Body)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (c *Client) do(ctx context.Context, policy httpx.Policy, method, path string, body any, out any) error {
	return policy.Do(ctx, func(ctx context.Context) error {
		return c.doOnce(ctx, method, path, body, out)
	})
}

func (c *Client) modelRejectsTemperature(model string) bool {
	_, ok := c.noTemp.Load(strings.ToLower(strings.TrimSpace(model)))
	return ok
}

func isUnsupportedTemperatureParam(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusBadRequest {
		return false
	}
	msg := strings.ToLower(he.Body)
	if !strings.Contains(msg, "temperature") {
		return false
	}
	return strings.Contains(msg, "unsupported") ||
		strings.Contains(msg, "not supported") ||
		strings.Contains(msg, "does not support") ||
		strings.Contains(msg, "only the default")
}
