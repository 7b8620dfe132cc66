package jobs

import (
	"time"

	"gorm.io/gorm"

	types "github.com/yungbote/postsecret-pipeline/internal/domain"
	"github.com/yungbote/postsecret-pipeline/internal/pkg/dbctx"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
)

type ItemRepo interface {
	Create(dbc dbctx.Context, items []*types.JobItem) error
	GetByID(dbc dbctx.Context, id uint64) (*types.JobItem, error)
	ListPending(dbc dbctx.Context, jobID uint64, limit int) ([]*types.JobItem, error)
	ListByStatus(dbc dbctx.Context, jobID uint64, statuses []string, limit int) ([]*types.JobItem, error)
	CountByStatus(dbc dbctx.Context, jobID uint64) (map[string]int, error)
	MarkProcessing(dbc dbctx.Context, id uint64) (bool, error)
	UpdateFields(dbc dbctx.Context, id uint64, updates map[string]interface{}) error
	ResetProcessing(dbc dbctx.Context, jobID uint64) (int64, error)
	ResetFailed(dbc dbctx.Context, jobID uint64) (int64, error)
	DeleteByJob(dbc dbctx.Context, jobID uint64) (int64, error)
}

type itemRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewItemRepo(db *gorm.DB, baseLog *logger.Logger) ItemRepo {
	return &itemRepo{
		db:  db,
		log: baseLog.With("repo", "ItemRepo"),
	}
}

func (r *itemRepo) Create(dbc dbctx.Context, items []*types.JobItem) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now()
	for _, it := range items {
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		it.UpdatedAt = now
	}
	return dbc.DB(r.db).CreateInBatches(&items, 200).Error
}

func (r *itemRepo) GetByID(dbc dbctx.Context, id uint64) (*types.JobItem, error) {
	var out []*types.JobItem
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

// ListPending returns the oldest pending items by creation sequence.
func (r *itemRepo) ListPending(dbc dbctx.Context, jobID uint64, limit int) ([]*types.JobItem, error) {
	return r.ListByStatus(dbc, jobID, []string{string(types.ItemPending)}, limit)
}

func (r *itemRepo) ListByStatus(dbc dbctx.Context, jobID uint64, statuses []string, limit int) ([]*types.JobItem, error) {
	var out []*types.JobItem
	q := dbc.DB(r.db).Where("job_id = ?", jobID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *itemRepo) CountByStatus(dbc dbctx.Context, jobID uint64) (map[string]int, error) {
	var rows []struct {
		Status string
		N      int
	}
	err := dbc.DB(r.db).Model(&types.JobItem{}).
		Select("status, COUNT(*) AS n").
		Where("job_id = ?", jobID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}

// MarkProcessing moves a pending item to processing and counts the attempt.
func (r *itemRepo) MarkProcessing(dbc dbctx.Context, id uint64) (bool, error) {
	res := dbc.DB(r.db).Model(&types.JobItem{}).
		Where("id = ? AND status = ?", id, string(types.ItemPending)).
		Updates(map[string]interface{}{
			"status":     string(types.ItemProcessing),
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *itemRepo) UpdateFields(dbc dbctx.Context, id uint64, updates map[string]interface{}) error {
	if id == 0 {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return dbc.DB(r.db).Model(&types.JobItem{}).Where("id = ?", id).Updates(updates).Error
}

// ResetProcessing returns items stranded in processing (a crashed batch) to pending.
func (r *itemRepo) ResetProcessing(dbc dbctx.Context, jobID uint64) (int64, error) {
	res := dbc.DB(r.db).Model(&types.JobItem{}).
		Where("job_id = ? AND status = ?", jobID, string(types.ItemProcessing)).
		Updates(map[string]interface{}{
			"status":     string(types.ItemPending),
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

// ResetFailed re-queues error and quarantined items. Error items keep their attempt count so
// repeated failures still escalate; quarantined items are released with a fresh budget.
func (r *itemRepo) ResetFailed(dbc dbctx.Context, jobID uint64) (int64, error) {
	var total int64
	err := dbc.DB(r.db).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&types.JobItem{}).
			Where("job_id = ? AND status = ?", jobID, string(types.ItemError)).
			Updates(map[string]interface{}{
				"status":     string(types.ItemPending),
				"last_error": "",
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		res = tx.Model(&types.JobItem{}).
			Where("job_id = ? AND status = ?", jobID, string(types.ItemQuarantined)).
			Updates(map[string]interface{}{
				"status":     string(types.ItemPending),
				"attempts":   0,
				"last_error": "",
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *itemRepo) DeleteByJob(dbc dbctx.Context, jobID uint64) (int64, error) {
	res := dbc.DB(r.db).Where("job_id = ?", jobID).Delete(&types.JobItem{})
	return res.RowsAffected, res.Error
}
