// Package worker drives running bulk jobs forward on a ticker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
	"github.com/yungbote/postsecret-pipeline/internal/services/bulk"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultConcurrency = 4
)

type Config struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency" validate:"gte=0,lte=64"`
}

// Stepper is the slice of the bulk job service the driver needs.
type Stepper interface {
	RunningJobIDs(ctx context.Context) ([]uint64, error)
	ProcessBatch(ctx context.Context, jobID uint64) (*bulk.BatchResult, error)
}

// Driver calls ProcessBatch for every running job once per tick. Jobs are
// stepped concurrently; a single job never has two batches in flight because
// the bulk service serializes per job.
type Driver struct {
	log         *logger.Logger
	steps       Stepper
	interval    time.Duration
	concurrency int
}

func NewDriver(baseLog *logger.Logger, steps Stepper, cfg Config) *Driver {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Driver{
		log:         baseLog.With("component", "JobDriver"),
		steps:       steps,
		interval:    cfg.Interval,
		concurrency: cfg.Concurrency,
	}
}

// Start runs the tick loop until ctx is cancelled.
func (d *Driver) Start(ctx context.Context) {
	d.log.Info("Starting job driver", "interval", d.interval.String(), "concurrency", d.concurrency)
	go d.runLoop(ctx)
}

func (d *Driver) runLoop(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.log.Info("Job driver stopped")
			return
		case <-ticker.C:
			if _, err := d.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.log.Warn("Job driver tick failed", "error", err)
			}
		}
	}
}

// Tick steps every running job once and returns the batch results.
func (d *Driver) Tick(ctx context.Context) ([]*bulk.BatchResult, error) {
	ids, err := d.steps.RunningJobIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list running jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	results := make([]*bulk.BatchResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("Batch panic", "job_id", id, "panic", r)
					err = nil
				}
			}()
			res, stepErr := d.steps.ProcessBatch(gctx, id)
			if stepErr != nil {
				// one job's failure must not cancel the others
				d.log.Warn("ProcessBatch failed", "job_id", id, "error", stepErr)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

// RunUntilIdle steps a single job until it leaves the running state or ctx ends.
func RunUntilIdle(ctx context.Context, steps Stepper, jobID uint64, onBatch func(*bulk.BatchResult)) (*bulk.BatchResult, error) {
	var last *bulk.BatchResult
	for {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		res, err := steps.ProcessBatch(ctx, jobID)
		if err != nil {
			return last, err
		}
		last = res
		if onBatch != nil {
			onBatch(res)
		}
		if res.Busy {
			select {
			case <-ctx.Done():
				return last, ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		if res.Status != "running" {
			return last, nil
		}
	}
}
