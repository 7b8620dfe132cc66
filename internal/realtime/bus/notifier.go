package bus

import (
	"context"
	"time"

	types "github.com/yungbote/postsecret-pipeline/internal/domain"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
	"github.com/yungbote/postsecret-pipeline/internal/realtime"
)

// JobSnapshot is the progress payload published for a job.
type JobSnapshot struct {
	ID             uint64    `json:"id"`
	UUID           string    `json:"uuid"`
	Kind           string    `json:"kind"`
	Status         string    `json:"status"`
	TotalItems     int       `json:"total_items"`
	ProcessedItems int       `json:"processed_items"`
	SuccessCount   int       `json:"success_count"`
	FailCount      int       `json:"fail_count"`
	SkippedCount   int       `json:"skipped_count"`
	LastError      string    `json:"last_error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func Snapshot(job *types.Job) JobSnapshot {
	return JobSnapshot{
		ID:             job.ID,
		UUID:           job.UUID.String(),
		Kind:           job.Kind,
		Status:         job.Status,
		TotalItems:     job.TotalItems,
		ProcessedItems: job.ProcessedItems,
		SuccessCount:   job.SuccessCount,
		FailCount:      job.FailCount,
		SkippedCount:   job.SkippedCount,
		LastError:      job.LastError,
		UpdatedAt:      job.UpdatedAt,
	}
}

// JobNotifier publishes job progress on a Bus. Publish failures are logged only.
type JobNotifier struct {
	log *logger.Logger
	bus Bus
}

func NewJobNotifier(baseLog *logger.Logger, b Bus) *JobNotifier {
	return &JobNotifier{log: baseLog.With("service", "JobNotifier"), bus: b}
}

func (n *JobNotifier) JobUpdated(ctx context.Context, job *types.Job) {
	if n == nil || n.bus == nil || job == nil {
		return
	}
	msg := realtime.Message{
		Channel: realtime.JobChannel(job.UUID.String()),
		Event:   realtime.EventJobUpdated,
		Data:    Snapshot(job),
	}
	if err := n.bus.Publish(ctx, msg); err != nil {
		n.log.Warn("publish job update failed", "job_id", job.ID, "error", err)
	}
}
