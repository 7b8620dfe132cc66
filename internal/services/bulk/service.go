package bulk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/postsecret-pipeline/internal/data/repos"
	types "github.com/yungbote/postsecret-pipeline/internal/domain"
	"github.com/yungbote/postsecret-pipeline/internal/domain/jobs"
	"github.com/yungbote/postsecret-pipeline/internal/ingestion/staging"
	"github.com/yungbote/postsecret-pipeline/internal/observability"
	"github.com/yungbote/postsecret-pipeline/internal/pkg/dbctx"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
	"github.com/yungbote/postsecret-pipeline/internal/services/orchestrator"
)

const (
	DefaultBatchSize      = 5
	DefaultMaxStepSeconds = 20
	MaxBatchSize          = 100
)

type Config struct {
	StagingRoot    string `yaml:"staging_root" validate:"required"`
	MediaRoot      string `yaml:"media_root" validate:"required"`
	BatchSize      int    `yaml:"batch_size" validate:"gte=1,lte=100"`
	MaxStepSeconds int    `yaml:"max_step_seconds" validate:"gte=0"`
	MaxFiles       int    `yaml:"max_files" validate:"gte=0"`
	MaxBytes       int64  `yaml:"max_bytes" validate:"gte=0"`
}

// ItemProcessor runs the single-item pipeline.
type ItemProcessor interface {
	Process(ctx context.Context, frontID uuid.UUID, backID *uuid.UUID, force bool) orchestrator.Result
}

// Notifier is told about job progress after every mutation.
type Notifier interface {
	JobUpdated(ctx context.Context, job *types.Job)
}

// Upload is one file received from a caller, already on local disk.
type Upload struct {
	Name string
	Path string
}

type CreateResult struct {
	Job      *types.Job          `json:"job"`
	Rejected []staging.Rejection `json:"rejected,omitempty"`
}

type BatchResult struct {
	JobID           uint64 `json:"job_id"`
	Status          string `json:"status"`
	Processed       int    `json:"processed"`
	Succeeded       int    `json:"succeeded"`
	Failed          int    `json:"failed"`
	Quarantined     int    `json:"quarantined"`
	Degraded        int    `json:"degraded"`
	Interrupted     bool   `json:"interrupted"`
	BudgetExhausted bool   `json:"budget_exhausted"`
	Busy            bool   `json:"busy"`
	Completed       bool   `json:"completed"`
}

type BulkJobService interface {
	CreateJob(ctx context.Context, uploads []Upload, source string, settings *types.JobSettings) (*CreateResult, error)
	CreateReclassifyJob(ctx context.Context, subjectIDs []uuid.UUID, source string, settings *types.JobSettings) (*types.Job, error)
	ProcessBatch(ctx context.Context, jobID uint64) (*BatchResult, error)
	Start(ctx context.Context, jobID uint64) (*types.Job, error)
	Pause(ctx context.Context, jobID uint64) (*types.Job, error)
	Resume(ctx context.Context, jobID uint64) (*types.Job, error)
	Stop(ctx context.Context, jobID uint64) (*types.Job, error)
	RetryFailed(ctx context.Context, jobID uint64) (int64, error)
	DeleteJob(ctx context.Context, jobID uint64) error
	UpdateSettings(ctx context.Context, jobID uint64, batchSize, maxStepSeconds int) (*types.Job, error)
	GetJob(ctx context.Context, jobID uint64) (*types.Job, error)
	ResolveJob(ctx context.Context, ref string) (*types.Job, error)
	ListJobs(ctx context.Context, statuses []string, limit, offset int) ([]*types.Job, error)
	ListItemErrors(ctx context.Context, jobID uint64, limit int) ([]*types.JobItem, error)
	RunningJobIDs(ctx context.Context) ([]uint64, error)
}

type bulkJobService struct {
	db        *gorm.DB
	log       *logger.Logger
	jobs      repos.JobRepo
	items     repos.ItemRepo
	subjects  repos.SubjectRepo
	processor ItemProcessor
	notify    Notifier
	metrics   *observability.Metrics
	cfg       Config
	limits    staging.Limits
	now       func() time.Time

	inflightMu sync.Mutex
	inflight   map[uint64]struct{}
}

type Option func(*bulkJobService)

func WithClock(now func() time.Time) Option {
	return func(s *bulkJobService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *bulkJobService) { s.notify = n }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *bulkJobService) { s.metrics = m }
}

func NewBulkJobService(
	db *gorm.DB,
	baseLog *logger.Logger,
	set repos.Set,
	processor ItemProcessor,
	cfg Config,
	opts ...Option,
) (BulkJobService, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxStepSeconds < 0 {
		cfg.MaxStepSeconds = 0
	}
	limits := staging.DefaultLimits
	if cfg.MaxFiles > 0 {
		limits.MaxFiles = cfg.MaxFiles
	}
	if cfg.MaxBytes > 0 {
		limits.MaxBytes = cfg.MaxBytes
	}
	var err error
	if cfg.StagingRoot, err = realDir(cfg.StagingRoot); err != nil {
		return nil, fmt.Errorf("staging root: %w", err)
	}
	if cfg.MediaRoot, err = realDir(cfg.MediaRoot); err != nil {
		return nil, fmt.Errorf("media root: %w", err)
	}
	s := &bulkJobService{
		db:        db,
		log:       baseLog.With("service", "BulkJobService"),
		jobs:      set.Jobs,
		items:     set.Items,
		subjects:  set.Subjects,
		processor: processor,
		cfg:       cfg,
		limits:    limits,
		now:       time.Now,
		inflight:  map[uint64]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func realDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errors.New("directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func (s *bulkJobService) settingsFor(in *types.JobSettings) (types.JobSettings, error) {
	out := types.JobSettings{BatchSize: s.cfg.BatchSize, MaxStepSeconds: s.cfg.MaxStepSeconds}
	if s.cfg.MaxStepSeconds == 0 {
		out.MaxStepSeconds = DefaultMaxStepSeconds
	}
	if in == nil {
		return out, nil
	}
	if in.BatchSize != 0 {
		out.BatchSize = in.BatchSize
	}
	if in.MaxStepSeconds != 0 {
		out.MaxStepSeconds = in.MaxStepSeconds
	}
	return out, validateSettings(out.BatchSize, out.MaxStepSeconds)
}

func validateSettings(batchSize, maxStepSeconds int) error {
	if batchSize < 1 || batchSize > MaxBatchSize {
		return fmt.Errorf("%w: batch_size must be in 1..%d, got %d", ErrInvalidSettings, MaxBatchSize, batchSize)
	}
	if maxStepSeconds < 0 {
		return fmt.Errorf("%w: max_step_seconds must be >= 0, got %d", ErrInvalidSettings, maxStepSeconds)
	}
	return nil
}

func (s *bulkJobService) GetJob(ctx context.Context, jobID uint64) (*types.Job, error) {
	job, err := s.jobs.GetByID(dbctx.Context{Ctx: ctx}, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %d", ErrJobNotFound, jobID)
	}
	return job, nil
}

// ResolveJob accepts either the numeric job id or its UUID.
func (s *bulkJobService) ResolveJob(ctx context.Context, ref string) (*types.Job, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
		return s.GetJob(ctx, id)
	}
	u, err := uuid.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrJobNotFound, ref)
	}
	job, err := s.jobs.GetByUUID(dbctx.Context{Ctx: ctx}, u)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, u)
	}
	return job, nil
}

func (s *bulkJobService) ListJobs(ctx context.Context, statuses []string, limit, offset int) ([]*types.Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.jobs.List(dbctx.Context{Ctx: ctx}, statuses, limit, offset)
}

func (s *bulkJobService) ListItemErrors(ctx context.Context, jobID uint64, limit int) ([]*types.JobItem, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.items.ListByStatus(dbctx.Context{Ctx: ctx}, jobID,
		[]string{string(types.ItemError), string(types.ItemQuarantined)}, limit)
}

func (s *bulkJobService) RunningJobIDs(ctx context.Context) ([]uint64, error) {
	return s.jobs.ListIDsByStatus(dbctx.Context{Ctx: ctx}, string(types.JobRunning))
}

func (s *bulkJobService) Start(ctx context.Context, jobID uint64) (*types.Job, error) {
	now := s.now()
	job, err := s.transition(ctx, jobID, []types.JobStatus{types.JobNew, types.JobPaused, types.JobStopped}, types.JobRunning,
		map[string]interface{}{"finished_at": nil})
	if err != nil {
		return nil, err
	}
	if job.StartedAt == nil {
		if err := s.jobs.UpdateFields(dbctx.Context{Ctx: ctx}, jobID, map[string]interface{}{"started_at": now}); err != nil {
			return nil, err
		}
		job.StartedAt = &now
	}
	return job, nil
}

func (s *bulkJobService) Resume(ctx context.Context, jobID uint64) (*types.Job, error) {
	return s.transition(ctx, jobID, []types.JobStatus{types.JobPaused}, types.JobRunning, nil)
}

func (s *bulkJobService) Pause(ctx context.Context, jobID uint64) (*types.Job, error) {
	return s.transition(ctx, jobID, []types.JobStatus{types.JobRunning}, types.JobPaused, nil)
}

func (s *bulkJobService) Stop(ctx context.Context, jobID uint64) (*types.Job, error) {
	return s.transition(ctx, jobID, []types.JobStatus{types.JobNew, types.JobRunning, types.JobPaused}, types.JobStopped,
		map[string]interface{}{"finished_at": s.now()})
}

// transition is a compare-and-set on the job status.
func (s *bulkJobService) transition(ctx context.Context, jobID uint64, from []types.JobStatus, to types.JobStatus, extra map[string]interface{}) (*types.Job, error) {
	dbc := dbctx.Context{Ctx: ctx}
	allowed := make([]string, 0, len(from))
	for _, st := range from {
		allowed = append(allowed, string(st))
	}
	updates := map[string]interface{}{"status": string(to)}
	for k, v := range extra {
		updates[k] = v
	}
	ok, err := s.jobs.UpdateFieldsIfStatus(dbc, jobID, allowed, updates)
	if err != nil {
		return nil, err
	}
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if job.Status == string(to) {
			return job, nil
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
	}
	s.log.Info("job status changed", "job_id", jobID, "status", to)
	s.publish(ctx, job)
	return job, nil
}

// RetryFailed re-queues error and quarantined items. A completed job is reopened as paused.
func (s *bulkJobService) RetryFailed(ctx context.Context, jobID uint64) (int64, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	n, err := s.items.ResetFailed(dbc, jobID)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if job.Status == string(types.JobCompleted) {
		if _, err := s.jobs.UpdateFieldsIfStatus(dbc, jobID, []string{string(types.JobCompleted)}, map[string]interface{}{
			"status":      string(types.JobPaused),
			"finished_at": nil,
		}); err != nil {
			return n, err
		}
	}
	if _, err := s.refreshCounters(dbc, jobID, nil); err != nil {
		return n, err
	}
	s.log.Info("failed items re-queued", "job_id", jobID, "count", n)
	if job, err = s.GetJob(ctx, jobID); err == nil {
		s.publish(ctx, job)
	}
	return n, nil
}

// DeleteJob removes the job, its items and its staging directory.
func (s *bulkJobService) DeleteJob(ctx context.Context, jobID uint64) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if _, err := s.items.DeleteByJob(dbc, jobID); err != nil {
			return err
		}
		return s.jobs.Delete(dbc, jobID)
	})
	if err != nil {
		return err
	}
	if job.StagingDir != "" {
		if err := staging.RemoveUnder(s.cfg.StagingRoot, job.StagingDir); err != nil {
			s.log.Warn("failed to remove staging dir", "job_id", jobID, "dir", job.StagingDir, "error", err)
		}
	}
	s.log.Info("job deleted", "job_id", jobID)
	return nil
}

func (s *bulkJobService) UpdateSettings(ctx context.Context, jobID uint64, batchSize, maxStepSeconds int) (*types.Job, error) {
	if err := validateSettings(batchSize, maxStepSeconds); err != nil {
		return nil, err
	}
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	settings := datatypes.NewJSONType(jobs.Settings{BatchSize: batchSize, MaxStepSeconds: maxStepSeconds})
	if err := s.jobs.UpdateFields(dbctx.Context{Ctx: ctx}, jobID, map[string]interface{}{"settings": settings}); err != nil {
		return nil, err
	}
	return s.GetJob(ctx, jobID)
}

// refreshCounters recomputes job counters from item aggregates.
func (s *bulkJobService) refreshCounters(dbc dbctx.Context, jobID uint64, extra map[string]interface{}) (map[string]int, error) {
	counts, err := s.items.CountByStatus(dbc, jobID)
	if err != nil {
		return nil, err
	}
	success := counts[string(types.ItemSuccess)]
	failed := counts[string(types.ItemError)] + counts[string(types.ItemQuarantined)]
	total := 0
	for _, n := range counts {
		total += n
	}
	updates := map[string]interface{}{
		"total_items":     total,
		"processed_items": success + failed,
		"success_count":   success,
		"fail_count":      failed,
		"skipped_count":   counts[string(types.ItemSkipped)],
	}
	for k, v := range extra {
		updates[k] = v
	}
	return counts, s.jobs.UpdateFields(dbc, jobID, updates)
}

func (s *bulkJobService) publish(ctx context.Context, job *types.Job) {
	if s.notify == nil || job == nil {
		return
	}
	s.notify.JobUpdated(ctx, job)
}
