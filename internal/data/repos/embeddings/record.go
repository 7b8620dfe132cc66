package embeddings

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/postsecret-pipeline/internal/domain"
	"github.com/yungbote/postsecret-pipeline/internal/pkg/dbctx"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
)

type EmbeddingRepo interface {
	Get(dbc dbctx.Context, subjectID uuid.UUID, model string) (*types.EmbeddingRecord, error)
	// Put stores rec unless a row with the same input hash already exists. It reports whether it wrote.
	Put(dbc dbctx.Context, rec *types.EmbeddingRecord) (bool, error)
	ListByModel(dbc dbctx.Context, model string) ([]*types.EmbeddingRecord, error)
	MarkMirrored(dbc dbctx.Context, subjectID uuid.UUID, model string, at time.Time) error
}

type embeddingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEmbeddingRepo(db *gorm.DB, baseLog *logger.Logger) EmbeddingRepo {
	return &embeddingRepo{
		db:  db,
		log: baseLog.With("repo", "EmbeddingRepo"),
	}
}

func (r *embeddingRepo) Get(dbc dbctx.Context, subjectID uuid.UUID, model string) (*types.EmbeddingRecord, error) {
	var out []*types.EmbeddingRecord
	err := dbc.DB(r.db).
		Where("subject_id = ? AND model = ?", subjectID, model).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *embeddingRepo) Put(dbc dbctx.Context, rec *types.EmbeddingRecord) (bool, error) {
	if rec == nil || rec.SubjectID == uuid.Nil || rec.Model == "" {
		return false, nil
	}
	existing, err := r.Get(dbc, rec.SubjectID, rec.Model)
	if err != nil {
		return false, err
	}
	if existing != nil && existing.InputHash == rec.InputHash && existing.Dimension == len(existing.Vector) {
		return false, nil
	}
	now := time.Now()
	rec.Dimension = len(rec.Vector)
	rec.UpdatedAt = now
	if existing != nil {
		rec.CreatedAt = existing.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	// A new vector invalidates the previous mirror.
	rec.MirroredAt = nil
	err = dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subject_id"}, {Name: "model"}},
			DoUpdates: clause.AssignmentColumns([]string{"vector", "dimension", "input_hash", "mirrored_at", "updated_at"}),
		}).
		Create(rec).Error
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *embeddingRepo) ListByModel(dbc dbctx.Context, model string) ([]*types.EmbeddingRecord, error) {
	var out []*types.EmbeddingRecord
	if err := dbc.DB(r.db).Where("model = ?", model).Order("subject_id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *embeddingRepo) MarkMirrored(dbc dbctx.Context, subjectID uuid.UUID, model string, at time.Time) error {
	return dbc.DB(r.db).Model(&types.EmbeddingRecord{}).
		Where("subject_id = ? AND model = ?", subjectID, model).
		Update("mirrored_at", at).Error
}
