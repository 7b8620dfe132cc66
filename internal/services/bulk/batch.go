package bulk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/postsecret-pipeline/internal/domain"
	"github.com/yungbote/postsecret-pipeline/internal/domain/jobs"
	"github.com/yungbote/postsecret-pipeline/internal/ingestion/staging"
	"github.com/yungbote/postsecret-pipeline/internal/pkg/dbctx"
	"github.com/yungbote/postsecret-pipeline/internal/pkg/lasterr"
	"github.com/yungbote/postsecret-pipeline/internal/services/orchestrator"
)

// ProcessBatch advances a running job by at most one batch of pending items, oldest first.
// A status change away from running takes effect at the next item boundary. Item failures are
// recorded on the item and never returned as an error.
func (s *bulkJobService) ProcessBatch(ctx context.Context, jobID uint64) (*BatchResult, error) {
	if !s.acquire(jobID) {
		return &BatchResult{JobID: jobID, Busy: true}, nil
	}
	defer s.release(jobID)

	start := s.now()
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	res := &BatchResult{JobID: jobID, Status: job.Status}
	if job.Status != string(types.JobRunning) {
		return res, nil
	}
	kind := job.Kind
	defer func() { s.metrics.ObserveBatch(kind, s.now().Sub(start)) }()

	dbc := dbctx.Context{Ctx: ctx}
	if n, err := s.items.ResetProcessing(dbc, jobID); err != nil {
		return nil, err
	} else if n > 0 {
		s.log.Warn("re-queued items left in processing", "job_id", jobID, "count", n)
	}

	if kind == string(types.KindUpload) {
		if _, err := os.Stat(job.StagingDir); err != nil {
			return s.failJob(ctx, job, res, fmt.Errorf("staging directory unavailable: %w", err))
		}
	}

	settings := job.Settings.Data()
	batchSize := settings.BatchSize
	if batchSize <= 0 {
		batchSize = s.cfg.BatchSize
	}
	budget := time.Duration(settings.MaxStepSeconds) * time.Second

	pending, err := s.items.ListPending(dbc, jobID, batchSize)
	if err != nil {
		return nil, err
	}
	var lastErr string
	for i, it := range pending {
		if i > 0 && budget > 0 && s.now().Sub(start) >= budget {
			res.BudgetExhausted = true
			break
		}
		status, err := s.jobs.Status(dbc, jobID)
		if err != nil {
			return nil, err
		}
		if status != string(types.JobRunning) {
			res.Interrupted = true
			break
		}
		ok, err := s.items.MarkProcessing(dbc, it.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		it.Attempts++
		outcome, msg, stop := s.processItem(ctx, job, it)
		if stop {
			res.Interrupted = true
			break
		}
		res.Processed++
		switch outcome {
		case types.ItemSuccess:
			res.Succeeded++
			if msg != "" {
				res.Degraded++
			}
		case types.ItemQuarantined:
			res.Quarantined++
			res.Failed++
			lastErr = msg
		default:
			res.Failed++
			lastErr = msg
		}
	}

	cdbc := dbctx.Context{Ctx: context.WithoutCancel(ctx)}
	var extra map[string]interface{}
	if lastErr != "" {
		extra = map[string]interface{}{"last_error": lastErr}
	}
	counts, err := s.refreshCounters(cdbc, jobID, extra)
	if err != nil {
		return nil, err
	}
	if counts[string(types.ItemPending)] == 0 && counts[string(types.ItemProcessing)] == 0 {
		done, err := s.jobs.UpdateFieldsIfStatus(cdbc, jobID, []string{string(types.JobRunning)}, map[string]interface{}{
			"status":      string(types.JobCompleted),
			"finished_at": s.now(),
		})
		if err != nil {
			return nil, err
		}
		if done {
			res.Completed = true
			s.log.Info("job completed", "job_id", jobID)
		}
	}
	if job, err = s.GetJob(cdbc.Ctx, jobID); err == nil {
		res.Status = job.Status
		s.publish(ctx, job)
	}
	return res, nil
}

// processItem runs one item and records its outcome. stop reports that ctx ended mid-item; the
// item is then left in processing and re-queued by the next batch.
func (s *bulkJobService) processItem(ctx context.Context, job *types.Job, it *types.JobItem) (types.ItemStatus, string, bool) {
	var result orchestrator.Result
	subjectID, force, err := s.subjectFor(ctx, job, it)
	if err == nil {
		result = s.run(ctx, subjectID, force)
		if !result.Success {
			err = errors.New(result.Error)
		}
	}
	if ctx.Err() != nil {
		return "", "", true
	}

	dbc := dbctx.Context{Ctx: ctx}
	var (
		status types.ItemStatus
		msg    string
	)
	updates := map[string]interface{}{}
	if err == nil {
		status = types.ItemSuccess
		if result.EmbeddingError != "" {
			msg = lasterr.TruncateString("warning: embedding failed: "+result.EmbeddingError, lasterr.MaxLen)
		}
		updates["subject_id"] = result.SubjectID
	} else {
		status = types.ItemError
		if it.Attempts >= jobs.MaxAttempts {
			status = types.ItemQuarantined
		}
		msg = lasterr.Truncate(err, lasterr.MaxLen)
	}
	updates["status"] = string(status)
	updates["last_error"] = msg
	if uerr := s.items.UpdateFields(dbc, it.ID, updates); uerr != nil {
		s.log.Error("failed to record item outcome", "job_id", job.ID, "item_id", it.ID, "error", uerr)
	}
	s.metrics.IncItem(job.Kind, string(status))
	if status != types.ItemSuccess {
		s.log.Warn("item failed", "job_id", job.ID, "item_id", it.ID, "attempts", it.Attempts, "status", status, "error", msg)
	}
	return status, msg, false
}

func (s *bulkJobService) run(ctx context.Context, subjectID uuid.UUID, force bool) (res orchestrator.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = orchestrator.Result{SubjectID: subjectID, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return s.processor.Process(ctx, subjectID, nil, force)
}

// subjectFor resolves the subject an item classifies. Upload items sideload their staged file into
// the media store on first attempt; reclassify items reference an existing subject and force.
func (s *bulkJobService) subjectFor(ctx context.Context, job *types.Job, it *types.JobItem) (uuid.UUID, bool, error) {
	if ref, ok := it.AttachmentRef(); ok {
		id, err := uuid.Parse(ref)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("bad subject reference %q", ref)
		}
		return id, true, nil
	}
	if it.SubjectID != nil && *it.SubjectID != uuid.Nil {
		return *it.SubjectID, false, nil
	}

	dbc := dbctx.Context{Ctx: ctx}
	area, err := staging.Open(job.StagingDir)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("open staging: %w", err)
	}
	src, err := area.Resolve(it.Locator)
	if err != nil {
		return uuid.Nil, false, err
	}
	hash := it.ContentHash
	if hash == "" {
		if hash, err = staging.HashFile(src); err != nil {
			return uuid.Nil, false, fmt.Errorf("hash staged file: %w", err)
		}
	}

	existing, err := s.subjects.FindByHash(dbc, hash)
	if err != nil {
		return uuid.Nil, false, err
	}
	var subjectID uuid.UUID
	if existing != nil {
		subjectID = existing.ID
	} else {
		target, err := s.sideload(src, hash)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("sideload: %w", err)
		}
		sub := &types.Subject{FilePath: target, ContentHash: hash}
		if err := s.subjects.Create(dbc, sub); err != nil {
			return uuid.Nil, false, fmt.Errorf("create subject: %w", err)
		}
		subjectID = sub.ID
	}
	if err := s.items.UpdateFields(dbc, it.ID, map[string]interface{}{"subject_id": subjectID}); err != nil {
		return uuid.Nil, false, err
	}
	it.SubjectID = &subjectID
	return subjectID, false, nil
}

// sideload copies a staged file into the media store under its content hash.
func (s *bulkJobService) sideload(src, hash string) (string, error) {
	media, err := staging.Open(s.cfg.MediaRoot)
	if err != nil {
		return "", err
	}
	prefix := "xx"
	if len(hash) >= 2 {
		prefix = hash[:2]
	}
	rel := path.Join(prefix, hash+strings.ToLower(filepath.Ext(src)))
	target, err := media.CopyIn(src, rel)
	if errors.Is(err, os.ErrExist) {
		return media.Resolve(rel)
	}
	return target, err
}

func (s *bulkJobService) failJob(ctx context.Context, job *types.Job, res *BatchResult, cause error) (*BatchResult, error) {
	msg := lasterr.Truncate(cause, lasterr.MaxLen)
	s.log.Error("job failed", "job_id", job.ID, "error", msg)
	ok, err := s.jobs.UpdateFieldsIfStatus(dbctx.Context{Ctx: ctx}, job.ID, []string{string(types.JobRunning)}, map[string]interface{}{
		"status":      string(types.JobFailed),
		"last_error":  msg,
		"finished_at": s.now(),
	})
	if err != nil {
		return nil, err
	}
	if ok {
		res.Status = string(types.JobFailed)
	}
	if job, err := s.GetJob(ctx, job.ID); err == nil {
		s.publish(ctx, job)
	}
	return res, nil
}

func (s *bulkJobService) acquire(jobID uint64) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[jobID]; busy {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *bulkJobService) release(jobID uint64) {
	s.inflightMu.Lock()
	delete(s.inflight, jobID)
	s.inflightMu.Unlock()
}
