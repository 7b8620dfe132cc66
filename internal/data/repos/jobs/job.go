package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/postsecret-pipeline/internal/domain"
	"github.com/yungbote/postsecret-pipeline/internal/pkg/dbctx"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
)

type JobRepo interface {
	Create(dbc dbctx.Context, job *types.Job) error
	GetByID(dbc dbctx.Context, id uint64) (*types.Job, error)
	GetByUUID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error)
	List(dbc dbctx.Context, statuses []string, limit, offset int) ([]*types.Job, error)
	ListIDsByStatus(dbc dbctx.Context, status string) ([]uint64, error)
	Status(dbc dbctx.Context, id uint64) (string, error)
	UpdateFields(dbc dbctx.Context, id uint64, updates map[string]interface{}) error
	UpdateFieldsIfStatus(dbc dbctx.Context, id uint64, allowedStatuses []string, updates map[string]interface{}) (bool, error)
	Delete(dbc dbctx.Context, id uint64) error
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{
		db:  db,
		log: baseLog.With("repo", "JobRepo"),
	}
}

func (r *jobRepo) Create(dbc dbctx.Context, job *types.Job) error {
	if job == nil {
		return nil
	}
	if job.UUID == uuid.Nil {
		job.UUID = uuid.New()
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	return dbc.DB(r.db).Create(job).Error
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id uint64) (*types.Job, error) {
	if id == 0 {
		return nil, nil
	}
	var job types.Job
	err := dbc.DB(r.db).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) GetByUUID(dbc dbctx.Context, id uuid.UUID) (*types.Job, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.Job
	err := dbc.DB(r.db).Where("uuid = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) List(dbc dbctx.Context, statuses []string, limit, offset int) ([]*types.Job, error) {
	var out []*types.Job
	q := dbc.DB(r.db).Model(&types.Job{})
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Order("id DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobRepo) ListIDsByStatus(dbc dbctx.Context, status string) ([]uint64, error) {
	var ids []uint64
	err := dbc.DB(r.db).Model(&types.Job{}).
		Where("status = ?", status).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Status re-reads only the status column; batches poll it between items.
func (r *jobRepo) Status(dbc dbctx.Context, id uint64) (string, error) {
	var statuses []string
	err := dbc.DB(r.db).Model(&types.Job{}).
		Where("id = ?", id).
		Limit(1).
		Pluck("status", &statuses).Error
	if err != nil {
		return "", err
	}
	if len(statuses) == 0 {
		return "", nil
	}
	return statuses[0], nil
}

func (r *jobRepo) UpdateFields(dbc dbctx.Context, id uint64, updates map[string]interface{}) error {
	if id == 0 {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return dbc.DB(r.db).
		Model(&types.Job{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsIfStatus applies updates only while the job is in one of allowedStatuses.
// It reports whether a row changed, which makes status transitions compare-and-set.
func (r *jobRepo) UpdateFieldsIfStatus(dbc dbctx.Context, id uint64, allowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == 0 {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := dbc.DB(r.db).Model(&types.Job{}).Where("id = ?", id)
	if len(allowedStatuses) == 1 {
		q = q.Where("status = ?", allowedStatuses[0])
	} else if len(allowedStatuses) > 1 {
		q = q.Where("status IN ?", allowedStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) Delete(dbc dbctx.Context, id uint64) error {
	if id == 0 {
		return nil
	}
	return dbc.DB(r.db).Where("id = ?", id).Delete(&types.Job{}).Error
}
