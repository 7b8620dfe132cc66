package bulk

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/postsecret-pipeline/internal/domain"
	"github.com/yungbote/postsecret-pipeline/internal/domain/jobs"
	"github.com/yungbote/postsecret-pipeline/internal/ingestion/imageprep"
	"github.com/yungbote/postsecret-pipeline/internal/ingestion/staging"
	"github.com/yungbote/postsecret-pipeline/internal/pkg/dbctx"
)

type stagedFile struct {
	rel  string
	hash string
}

// CreateJob stages uploads into a fresh per-job directory and creates one item per kept image.
// Any CreateError leaves no job, no items and no staging directory behind.
func (s *bulkJobService) CreateJob(ctx context.Context, uploads []Upload, source string, settings *types.JobSettings) (_ *CreateResult, err error) {
	kind := string(types.KindUpload)
	defer func() {
		if err != nil {
			result := string(CreateErrorCodeOf(err))
			if result == "" {
				result = "error"
			}
			s.metrics.IncJobCreated(kind, result)
		}
	}()
	jobSettings, err := s.settingsFor(settings)
	if err != nil {
		return nil, err
	}
	jobUUID := uuid.New()
	area, err := staging.Create(s.cfg.StagingRoot, "job-"+jobUUID.String())
	if err != nil {
		return nil, createErr(CodeStaging, err)
	}
	defer func() {
		if err != nil {
			if rmErr := area.Remove(); rmErr != nil {
				s.log.Warn("failed to clean staging after create error", "dir", area.Root, "error", rmErr)
			}
		}
	}()

	files, rejected, err := s.stage(area, uploads)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, createErr(CodeNoValidImages, fmt.Errorf("%d uploads, %d rejected", len(uploads), len(rejected)))
	}

	items, skipped, err := s.dedupe(ctx, files)
	if err != nil {
		return nil, err
	}
	now := s.now()
	job := &types.Job{
		UUID:         jobUUID,
		Kind:         kind,
		Status:       string(types.JobNew),
		Source:       strings.TrimSpace(source),
		StagingDir:   area.Root,
		TotalItems:   len(items),
		SkippedCount: skipped,
		Settings:     datatypes.NewJSONType(jobSettings),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.persist(ctx, job, items); err != nil {
		return nil, err
	}
	s.metrics.IncJobCreated(kind, "ok")
	s.log.Info("bulk job created", "job_id", job.ID, "uuid", job.UUID, "items", len(items), "skipped", skipped, "rejected", len(rejected))
	s.publish(ctx, job)
	return &CreateResult{Job: job, Rejected: rejected}, nil
}

// stage copies loose images and extracts archives. Limits apply to the job as a whole.
func (s *bulkJobService) stage(area *staging.Area, uploads []Upload) ([]stagedFile, []staging.Rejection, error) {
	var (
		rels     []string
		rejected []staging.Rejection
		used     int64
	)
	for i, up := range uploads {
		name := baseName(up.Name)
		if name == "" {
			name = baseName(up.Path)
		}
		switch {
		case strings.EqualFold(filepath.Ext(name), ".zip"):
			limits := s.limits
			if limits.MaxFiles > 0 {
				limits.MaxFiles -= len(rels)
				if limits.MaxFiles <= 0 {
					return nil, nil, createErr(CodeZipBombFiles, staging.ErrTooManyFiles)
				}
			}
			if limits.MaxBytes > 0 {
				limits.MaxBytes -= used
				if limits.MaxBytes <= 0 {
					return nil, nil, createErr(CodeZipBombBytes, staging.ErrTooManyBytes)
				}
			}
			ext, err := area.ExtractZip(up.Path, fmt.Sprintf("archive-%03d", i), limits, imageprep.IsImageName)
			if err != nil {
				return nil, nil, archiveErr(err)
			}
			rels = append(rels, ext.Files...)
			rejected = append(rejected, ext.Rejected...)
			used += ext.Bytes
		case imageprep.IsImageName(name):
			rel := path.Join(fmt.Sprintf("upload-%03d", i), name)
			if _, err := area.CopyIn(up.Path, rel); err != nil {
				rejected = append(rejected, staging.Rejection{Name: up.Name, Reason: err.Error()})
				continue
			}
			rels = append(rels, rel)
		default:
			rejected = append(rejected, staging.Rejection{Name: up.Name, Reason: "not an image or zip archive"})
		}
	}
	if s.limits.MaxFiles > 0 && len(rels) > s.limits.MaxFiles {
		return nil, nil, createErr(CodeZipBombFiles, fmt.Errorf("%w: %d > %d", staging.ErrTooManyFiles, len(rels), s.limits.MaxFiles))
	}

	out := make([]stagedFile, 0, len(rels))
	for _, rel := range rels {
		abs, err := area.Resolve(rel)
		if err != nil {
			rejected = append(rejected, staging.Rejection{Name: rel, Reason: err.Error()})
			continue
		}
		if _, _, err := imageprep.Validate(abs); err != nil {
			rejected = append(rejected, staging.Rejection{Name: rel, Reason: "corrupt image"})
			continue
		}
		hash, err := staging.HashFile(abs)
		if err != nil {
			return nil, nil, createErr(CodeStaging, err)
		}
		out = append(out, stagedFile{rel: rel, hash: hash})
	}
	return out, rejected, nil
}

func archiveErr(err error) error {
	switch {
	case errors.Is(err, staging.ErrTooManyFiles):
		return createErr(CodeZipBombFiles, err)
	case errors.Is(err, staging.ErrTooManyBytes):
		return createErr(CodeZipBombBytes, err)
	default:
		return createErr(CodeInvalidArchive, err)
	}
}

func baseName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	b := path.Base(name)
	if b == "." || b == "/" || b == ".." {
		return ""
	}
	return b
}

// dedupe builds items; a hash already stored or repeated within the upload is skipped.
func (s *bulkJobService) dedupe(ctx context.Context, files []stagedFile) ([]*types.JobItem, int, error) {
	hashes := make([]string, 0, len(files))
	for _, f := range files {
		hashes = append(hashes, f.hash)
	}
	existing, err := s.subjects.ExistingHashes(dbctx.Context{Ctx: ctx}, hashes)
	if err != nil {
		return nil, 0, fmt.Errorf("lookup hashes: %w", err)
	}
	seen := map[string]string{}
	items := make([]*types.JobItem, 0, len(files))
	skipped := 0
	for _, f := range files {
		it := &types.JobItem{Locator: f.rel, ContentHash: f.hash, Status: string(types.ItemPending)}
		if id, ok := existing[f.hash]; ok {
			subjectID := id
			it.Status = string(types.ItemSkipped)
			it.SubjectID = &subjectID
			it.LastError = "duplicate of stored subject " + id.String()
		} else if first, ok := seen[f.hash]; ok {
			it.Status = string(types.ItemSkipped)
			it.LastError = "duplicate of " + first
		} else {
			seen[f.hash] = f.rel
		}
		if it.Status == string(types.ItemSkipped) {
			skipped++
		}
		items = append(items, it)
	}
	return items, skipped, nil
}

func (s *bulkJobService) persist(ctx context.Context, job *types.Job, items []*types.JobItem) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := s.jobs.Create(dbc, job); err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		for _, it := range items {
			it.JobID = job.ID
		}
		if err := s.items.Create(dbc, items); err != nil {
			return fmt.Errorf("create items: %w", err)
		}
		return nil
	})
}

// CreateReclassifyJob queues existing subjects for forced reclassification. Unknown ids are dropped.
func (s *bulkJobService) CreateReclassifyJob(ctx context.Context, subjectIDs []uuid.UUID, source string, settings *types.JobSettings) (_ *types.Job, err error) {
	kind := string(types.KindReclassify)
	defer func() {
		if err != nil {
			s.metrics.IncJobCreated(kind, "error")
		}
	}()
	jobSettings, err := s.settingsFor(settings)
	if err != nil {
		return nil, err
	}
	rows, err := s.subjects.GetByIDs(dbctx.Context{Ctx: ctx}, uniqueIDs(subjectIDs))
	if err != nil {
		return nil, fmt.Errorf("load subjects: %w", err)
	}
	found := make(map[uuid.UUID]bool, len(rows))
	for _, r := range rows {
		found[r.ID] = true
	}
	var items []*types.JobItem
	for _, id := range uniqueIDs(subjectIDs) {
		if !found[id] {
			continue
		}
		subjectID := id
		items = append(items, &types.JobItem{
			Locator:   jobs.AttachmentPrefix + id.String(),
			Status:    string(types.ItemPending),
			SubjectID: &subjectID,
		})
	}
	if len(items) == 0 {
		return nil, createErr(CodeNoSubjects, fmt.Errorf("none of %d subjects exist", len(subjectIDs)))
	}
	now := s.now()
	job := &types.Job{
		UUID:       uuid.New(),
		Kind:       kind,
		Status:     string(types.JobNew),
		Source:     strings.TrimSpace(source),
		TotalItems: len(items),
		Settings:   datatypes.NewJSONType(jobSettings),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.persist(ctx, job, items); err != nil {
		return nil, err
	}
	s.metrics.IncJobCreated(kind, "ok")
	s.log.Info("reclassify job created", "job_id", job.ID, "items", len(items))
	s.publish(ctx, job)
	return job, nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
