package qdrant

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	Enabled          bool   `yaml:"enabled"`
	URL              string `yaml:"url"`
	APIKey           string `yaml:"api_key"`
	CollectionPrefix string `yaml:"collection_prefix"`
	// VectorDim sizes auto-created collections; 0 means "use the first vector's length".
	VectorDim int           `yaml:"vector_dim" validate:"gte=0"`
	Distance  string        `yaml:"distance" validate:"omitempty,oneof=Cosine Dot Euclid Manhattan"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

type ConfigErrorCode string

const (
	ConfigErrorMissingURL ConfigErrorCode = "missing_url"
	ConfigErrorInvalidURL ConfigErrorCode = "invalid_url"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid qdrant config"
	}
	switch e.Code {
	case ConfigErrorMissingURL:
		return "qdrant url is required when the vector index is enabled"
	case ConfigErrorInvalidURL:
		return fmt.Sprintf("invalid qdrant url %q; expected absolute URL like http://qdrant:6333", e.Value)
	default:
		return "invalid qdrant config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ValidateConfig checks a config; a disabled mirror needs nothing.
func ValidateConfig(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return &ConfigError{Code: ConfigErrorMissingURL}
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return &ConfigError{Code: ConfigErrorInvalidURL, Value: cfg.URL, Cause: err}
	}
	return nil
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.CollectionPrefix) == "" {
		c.CollectionPrefix = "postsecret"
	}
	if c.Distance == "" {
		c.Distance = "Cosine"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	return c
}
