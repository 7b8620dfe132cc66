package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/postsecret-pipeline/internal/domain"
	"github.com/yungbote/postsecret-pipeline/internal/http/response"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
	"github.com/yungbote/postsecret-pipeline/internal/services/bulk"
)

type JobHandler struct {
	log     *logger.Logger
	jobs    bulk.BulkJobService
	tempDir string
}

// NewJobHandler builds the bulk job endpoints. Uploaded files are spooled under tempDir
// (os.TempDir when empty) before the service stages them.
func NewJobHandler(baseLog *logger.Logger, jobs bulk.BulkJobService, tempDir string) *JobHandler {
	return &JobHandler{log: baseLog.With("handler", "JobHandler"), jobs: jobs, tempDir: tempDir}
}

func (h *JobHandler) jobParam(c *gin.Context) (*types.Job, bool) {
	job, err := h.jobs.ResolveJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, "get_job_failed", err)
		return nil, false
	}
	return job, true
}

func formInt(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.PostForm(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// POST /api/jobs (multipart: files[], source, batch_size, max_step_seconds, start)
func (h *JobHandler) CreateJob(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_upload", err)
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_upload", errors.New("no files uploaded"))
		return
	}
	batchSize, err := formInt(c, "batch_size")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_settings", err)
		return
	}
	maxStep, err := formInt(c, "max_step_seconds")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_settings", err)
		return
	}

	spool, err := os.MkdirTemp(h.tempDir, "upload-*")
	if err != nil {
		respondServiceError(c, "upload_failed", err)
		return
	}
	defer func() {
		if err := os.RemoveAll(spool); err != nil {
			h.log.Warn("failed to remove upload spool", "dir", spool, "error", err)
		}
	}()

	uploads := make([]bulk.Upload, 0, len(files))
	for i, fh := range files {
		name := filepath.Base(fh.Filename)
		dst := filepath.Join(spool, fmt.Sprintf("%03d-%s", i, name))
		if err := c.SaveUploadedFile(fh, dst); err != nil {
			respondServiceError(c, "upload_failed", err)
			return
		}
		uploads = append(uploads, bulk.Upload{Name: name, Path: dst})
	}

	source := strings.TrimSpace(c.PostForm("source"))
	if source == "" {
		source = "http-upload"
	}
	var settings *types.JobSettings
	if batchSize != 0 || maxStep != 0 {
		settings = &types.JobSettings{BatchSize: batchSize, MaxStepSeconds: maxStep}
	}

	res, err := h.jobs.CreateJob(c.Request.Context(), uploads, source, settings)
	if err != nil {
		respondServiceError(c, "create_job_failed", err)
		return
	}
	if start, _ := strconv.ParseBool(c.PostForm("start")); start {
		job, err := h.jobs.Start(c.Request.Context(), res.Job.ID)
		if err != nil {
			respondServiceError(c, "start_job_failed", err)
			return
		}
		res.Job = job
	}
	response.RespondCreated(c, gin.H{"job": res.Job, "rejected": res.Rejected})
}

type reclassifyRequest struct {
	SubjectIDs     []uuid.UUID `json:"subject_ids" binding:"required"`
	Source         string      `json:"source"`
	BatchSize      int         `json:"batch_size"`
	MaxStepSeconds int         `json:"max_step_seconds"`
	Start          bool        `json:"start"`
}

// POST /api/jobs/reclassify
func (h *JobHandler) CreateReclassifyJob(c *gin.Context) {
	var req reclassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	var settings *types.JobSettings
	if req.BatchSize != 0 || req.MaxStepSeconds != 0 {
		settings = &types.JobSettings{BatchSize: req.BatchSize, MaxStepSeconds: req.MaxStepSeconds}
	}
	source := req.Source
	if source == "" {
		source = "reclassify"
	}
	job, err := h.jobs.CreateReclassifyJob(c.Request.Context(), req.SubjectIDs, source, settings)
	if err != nil {
		respondServiceError(c, "create_job_failed", err)
		return
	}
	if req.Start {
		if job, err = h.jobs.Start(c.Request.Context(), job.ID); err != nil {
			respondServiceError(c, "start_job_failed", err)
			return
		}
	}
	response.RespondCreated(c, gin.H{"job": job})
}

// GET /api/jobs?status=running&status=paused&limit=&offset=
func (h *JobHandler) ListJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	jobs, err := h.jobs.ListJobs(c.Request.Context(), c.QueryArray("status"), limit, offset)
	if err != nil {
		respondServiceError(c, "list_jobs_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": jobs})
}

// GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, ok := h.jobParam(c)
	if !ok {
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// GET /api/jobs/:id/errors
func (h *JobHandler) ListItemErrors(c *gin.Context) {
	job, ok := h.jobParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.jobs.ListItemErrors(c.Request.Context(), job.ID, limit)
	if err != nil {
		respondServiceError(c, "list_errors_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"items": items})
}

func (h *JobHandler) transition(c *gin.Context, code string, fn func(*gin.Context, uint64) (*types.Job, error)) {
	job, ok := h.jobParam(c)
	if !ok {
		return
	}
	updated, err := fn(c, job.ID)
	if err != nil {
		respondServiceError(c, code, err)
		return
	}
	response.RespondOK(c, gin.H{"job": updated})
}

// POST /api/jobs/:id/start
func (h *JobHandler) StartJob(c *gin.Context) {
	h.transition(c, "start_job_failed", func(c *gin.Context, id uint64) (*types.Job, error) {
		return h.jobs.Start(c.Request.Context(), id)
	})
}

// POST /api/jobs/:id/pause
func (h *JobHandler) PauseJob(c *gin.Context) {
	h.transition(c, "pause_job_failed", func(c *gin.Context, id uint64) (*types.Job, error) {
		return h.jobs.Pause(c.Request.Context(), id)
	})
}

// POST /api/jobs/:id/resume
func (h *JobHandler) ResumeJob(c *gin.Context) {
	h.transition(c, "resume_job_failed", func(c *gin.Context, id uint64) (*types.Job, error) {
		return h.jobs.Resume(c.Request.Context(), id)
	})
}

// POST /api/jobs/:id/stop
func (h *JobHandler) StopJob(c *gin.Context) {
	h.transition(c, "stop_job_failed", func(c *gin.Context, id uint64) (*types.Job, error) {
		return h.jobs.Stop(c.Request.Context(), id)
	})
}

// POST /api/jobs/:id/step runs one batch synchronously.
func (h *JobHandler) StepJob(c *gin.Context) {
	job, ok := h.jobParam(c)
	if !ok {
		return
	}
	res, err := h.jobs.ProcessBatch(c.Request.Context(), job.ID)
	if err != nil {
		respondServiceError(c, "step_job_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"batch": res})
}

// POST /api/jobs/:id/retry
func (h *JobHandler) RetryFailed(c *gin.Context) {
	job, ok := h.jobParam(c)
	if !ok {
		return
	}
	n, err := h.jobs.RetryFailed(c.Request.Context(), job.ID)
	if err != nil {
		respondServiceError(c, "retry_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"requeued": n})
}

type settingsRequest struct {
	BatchSize      int `json:"batch_size" binding:"required"`
	MaxStepSeconds int `json:"max_step_seconds"`
}

// PATCH /api/jobs/:id/settings
func (h *JobHandler) UpdateSettings(c *gin.Context) {
	job, ok := h.jobParam(c)
	if !ok {
		return
	}
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	updated, err := h.jobs.UpdateSettings(c.Request.Context(), job.ID, req.BatchSize, req.MaxStepSeconds)
	if err != nil {
		respondServiceError(c, "update_settings_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"job": updated})
}

// DELETE /api/jobs/:id
func (h *JobHandler) DeleteJob(c *gin.Context) {
	job, ok := h.jobParam(c)
	if !ok {
		return
	}
	if err := h.jobs.DeleteJob(c.Request.Context(), job.ID); err != nil {
		respondServiceError(c, "delete_job_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}
