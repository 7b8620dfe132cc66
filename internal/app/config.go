package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/postsecret-pipeline/internal/data/db"
	"github.com/yungbote/postsecret-pipeline/internal/jobs/worker"
	"github.com/yungbote/postsecret-pipeline/internal/observability"
	"github.com/yungbote/postsecret-pipeline/internal/platform/envutil"
	"github.com/yungbote/postsecret-pipeline/internal/platform/openai"
	"github.com/yungbote/postsecret-pipeline/internal/platform/qdrant"
	"github.com/yungbote/postsecret-pipeline/internal/realtime/bus"
	"github.com/yungbote/postsecret-pipeline/internal/services/bulk"
	"github.com/yungbote/postsecret-pipeline/internal/services/classifier"
	"github.com/yungbote/postsecret-pipeline/internal/services/embedding"
)

const ConfigFileEnv = "PIPELINE_CONFIG_FILE"

type HTTPConfig struct {
	Addr           string   `yaml:"addr" validate:"required"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	UploadTempDir  string   `yaml:"upload_temp_dir"`
}

type PipelineConfig struct {
	LogMode     string                      `yaml:"log_mode" validate:"oneof=development production test"`
	DB          db.Config                   `yaml:"db"`
	OpenAI      openai.Config               `yaml:"openai"`
	Classifier  classifier.Config           `yaml:"classifier"`
	Embedding   embedding.Config            `yaml:"embedding"`
	VectorIndex qdrant.Config               `yaml:"vector_index"`
	Bulk        bulk.Config                 `yaml:"bulk"`
	Driver      worker.Config               `yaml:"driver"`
	HTTP        HTTPConfig                  `yaml:"http"`
	Redis       bus.RedisConfig             `yaml:"redis"`
	Tracing     observability.TracingConfig `yaml:"tracing"`
}

// DefaultConfig is a runnable local setup: sqlite, no ANN index, no Redis.
func DefaultConfig() PipelineConfig {
	return PipelineConfig{
		LogMode: "development",
		DB:      db.Config{Driver: "sqlite", DSN: "postsecret.db"},
		OpenAI:  openai.Config{Timeout: 120 * time.Second, MaxRetries: 5},
		Classifier: classifier.Config{
			Model:        "gpt-4o-mini",
			Detail:       "auto",
			Temperature:  0.2,
			MaxTokens:    1200,
			MaxImageEdge: 1600,
		},
		Embedding: embedding.Config{Model: "text-embedding-3-small"},
		VectorIndex: qdrant.Config{
			CollectionPrefix: "postsecret",
			Distance:         "Cosine",
			Timeout:          10 * time.Second,
		},
		Bulk: bulk.Config{
			StagingRoot:    "data/staging",
			MediaRoot:      "data/media",
			BatchSize:      bulk.DefaultBatchSize,
			MaxStepSeconds: bulk.DefaultMaxStepSeconds,
		},
		Driver:  worker.Config{Enabled: true, Interval: worker.DefaultInterval, Concurrency: worker.DefaultConcurrency},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Tracing: observability.TracingConfig{ServiceName: "postsecret-pipeline", SampleRatio: 0.1},
	}
}

// LoadConfig layers .env, the optional YAML file and environment overrides over DefaultConfig,
// then validates the result.
func LoadConfig() (PipelineConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return PipelineConfig{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := DefaultConfig()
	if path := envutil.String(ConfigFileEnv, ""); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return PipelineConfig{}, err
		}
	}
	applyEnv(&cfg)
	if err := ValidateConfig(cfg); err != nil {
		return PipelineConfig{}, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *PipelineConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *PipelineConfig) {
	cfg.LogMode = envutil.String("LOG_MODE", cfg.LogMode)

	cfg.DB.Driver = envutil.String("DB_DRIVER", cfg.DB.Driver)
	cfg.DB.DSN = envutil.String("DB_DSN", cfg.DB.DSN)
	cfg.DB.Host = envutil.String("POSTGRES_HOST", cfg.DB.Host)
	cfg.DB.Port = envutil.String("POSTGRES_PORT", cfg.DB.Port)
	cfg.DB.User = envutil.String("POSTGRES_USER", cfg.DB.User)
	cfg.DB.Password = envutil.String("POSTGRES_PASSWORD", cfg.DB.Password)
	cfg.DB.Name = envutil.String("POSTGRES_NAME", cfg.DB.Name)
	cfg.DB.SSLMode = envutil.String("POSTGRES_SSLMODE", cfg.DB.SSLMode)

	cfg.OpenAI.APIKey = envutil.String("OPENAI_API_KEY", cfg.OpenAI.APIKey)
	cfg.OpenAI.BaseURL = envutil.String("OPENAI_BASE_URL", cfg.OpenAI.BaseURL)
	cfg.OpenAI.Timeout = envutil.Seconds("OPENAI_TIMEOUT_SECONDS", cfg.OpenAI.Timeout)
	cfg.OpenAI.MaxRetries = envutil.Int("OPENAI_MAX_RETRIES", cfg.OpenAI.MaxRetries)

	cfg.Classifier.Model = envutil.String("CLASSIFIER_MODEL", cfg.Classifier.Model)
	cfg.Classifier.Detail = envutil.String("CLASSIFIER_DETAIL", cfg.Classifier.Detail)
	cfg.Classifier.Temperature = envutil.Float("CLASSIFIER_TEMPERATURE", cfg.Classifier.Temperature)
	cfg.Classifier.MaxTokens = envutil.Int("CLASSIFIER_MAX_TOKENS", cfg.Classifier.MaxTokens)
	cfg.Classifier.Moderation = envutil.Bool("CLASSIFIER_MODERATION", cfg.Classifier.Moderation)

	cfg.Embedding.Model = envutil.String("EMBEDDING_MODEL", cfg.Embedding.Model)

	cfg.VectorIndex.Enabled = envutil.Bool("QDRANT_ENABLED", cfg.VectorIndex.Enabled)
	cfg.VectorIndex.URL = envutil.String("QDRANT_URL", cfg.VectorIndex.URL)
	cfg.VectorIndex.APIKey = envutil.String("QDRANT_API_KEY", cfg.VectorIndex.APIKey)
	cfg.VectorIndex.CollectionPrefix = envutil.String("QDRANT_COLLECTION_PREFIX", cfg.VectorIndex.CollectionPrefix)
	cfg.VectorIndex.VectorDim = envutil.Int("QDRANT_VECTOR_DIM", cfg.VectorIndex.VectorDim)

	cfg.Bulk.StagingRoot = envutil.String("STAGING_ROOT", cfg.Bulk.StagingRoot)
	cfg.Bulk.MediaRoot = envutil.String("MEDIA_ROOT", cfg.Bulk.MediaRoot)
	cfg.Bulk.BatchSize = envutil.Int("BULK_BATCH_SIZE", cfg.Bulk.BatchSize)
	cfg.Bulk.MaxStepSeconds = envutil.Int("BULK_MAX_STEP_SECONDS", cfg.Bulk.MaxStepSeconds)
	cfg.Bulk.MaxFiles = envutil.Int("BULK_MAX_FILES", cfg.Bulk.MaxFiles)
	cfg.Bulk.MaxBytes = envutil.Int64("BULK_MAX_BYTES", cfg.Bulk.MaxBytes)

	cfg.Driver.Enabled = envutil.Bool("DRIVER_ENABLED", cfg.Driver.Enabled)
	cfg.Driver.Interval = envutil.Seconds("DRIVER_INTERVAL_SECONDS", cfg.Driver.Interval)
	cfg.Driver.Concurrency = envutil.Int("WORKER_CONCURRENCY", cfg.Driver.Concurrency)

	cfg.HTTP.Addr = envutil.String("HTTP_ADDR", cfg.HTTP.Addr)
	if origins := envutil.String("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.HTTP.AllowedOrigins = splitList(origins)
	}

	cfg.Redis.Addr = envutil.String("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envutil.String("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.Channel = envutil.String("REDIS_CHANNEL", cfg.Redis.Channel)
	cfg.Redis.LastTTL = envutil.Seconds("REDIS_LAST_TTL_SECONDS", cfg.Redis.LastTTL)

	cfg.Tracing.Enabled = envutil.Bool("OTEL_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.ServiceName = envutil.String("OTEL_SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Tracing.Endpoint = envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.Insecure = envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", cfg.Tracing.Insecure)
	cfg.Tracing.SampleRatio = envutil.Float("OTEL_SAMPLER_RATIO", cfg.Tracing.SampleRatio)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ValidateConfig checks struct tags and the cross-field rules tags cannot express.
func ValidateConfig(cfg PipelineConfig) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := qdrant.ValidateConfig(cfg.VectorIndex); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.DB.Driver == "postgres" && strings.TrimSpace(cfg.DB.DSN) == "" && strings.TrimSpace(cfg.DB.Host) == "" {
		return errors.New("invalid config: postgres requires db.dsn or db.host")
	}
	return nil
}
