package subjects

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/postsecret-pipeline/internal/domain"
	"github.com/yungbote/postsecret-pipeline/internal/pkg/dbctx"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
)

var (
	ErrNotFound      = errors.New("subject not found")
	ErrAlreadyPaired = errors.New("already_paired")
	ErrSelfPair      = errors.New("cannot pair a subject with itself")
)

type SubjectRepo interface {
	Create(dbc dbctx.Context, s *types.Subject) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Subject, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Subject, error)
	FindByHash(dbc dbctx.Context, hash string) (*types.Subject, error)
	ExistingHashes(dbc dbctx.Context, hashes []string) (map[string]uuid.UUID, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Pair(dbc dbctx.Context, frontID, backID uuid.UUID) error
}

type subjectRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSubjectRepo(db *gorm.DB, baseLog *logger.Logger) SubjectRepo {
	return &subjectRepo{
		db:  db,
		log: baseLog.With("repo", "SubjectRepo"),
	}
}

func (r *subjectRepo) Create(dbc dbctx.Context, s *types.Subject) error {
	if s == nil {
		return nil
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Side == "" {
		s.Side = "front"
	}
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	return dbc.DB(r.db).Create(s).Error
}

func (r *subjectRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Subject, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out []*types.Subject
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *subjectRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Subject, error) {
	var out []*types.Subject
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// FindByHash returns the oldest non-duplicate subject with the given content hash.
func (r *subjectRepo) FindByHash(dbc dbctx.Context, hash string) (*types.Subject, error) {
	if hash == "" {
		return nil, nil
	}
	var out []*types.Subject
	err := dbc.DB(r.db).
		Where("content_hash = ? AND duplicate_of IS NULL", hash).
		Order("created_at ASC").
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

// ExistingHashes maps each already-stored hash to a subject carrying it.
func (r *subjectRepo) ExistingHashes(dbc dbctx.Context, hashes []string) (map[string]uuid.UUID, error) {
	out := map[string]uuid.UUID{}
	if len(hashes) == 0 {
		return out, nil
	}
	var rows []struct {
		ID          uuid.UUID
		ContentHash string
	}
	// Chunked to stay under driver bind-parameter limits.
	const chunk = 500
	for start := 0; start < len(hashes); start += chunk {
		end := start + chunk
		if end > len(hashes) {
			end = len(hashes)
		}
		rows = rows[:0]
		err := dbc.DB(r.db).Model(&types.Subject{}).
			Select("id, content_hash").
			Where("content_hash IN ?", hashes[start:end]).
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if _, ok := out[row.ContentHash]; !ok {
				out[row.ContentHash] = row.ID
			}
		}
	}
	return out, nil
}

func (r *subjectRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return dbc.DB(r.db).Model(&types.Subject{}).Where("id = ?", id).Updates(updates).Error
}

// Pair links front and back in both directions inside one transaction. Re-pairing the same
// two subjects is a no-op; pairing either with a different partner returns ErrAlreadyPaired.
func (r *subjectRepo) Pair(dbc dbctx.Context, frontID, backID uuid.UUID) error {
	if frontID == backID {
		return ErrSelfPair
	}
	return dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		var rows []*types.Subject
		err := txx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", []uuid.UUID{frontID, backID}).
			Find(&rows).Error
		if err != nil {
			return err
		}
		byID := map[uuid.UUID]*types.Subject{}
		for _, s := range rows {
			byID[s.ID] = s
		}
		front, back := byID[frontID], byID[backID]
		if front == nil || back == nil {
			return ErrNotFound
		}
		if front.PairID != nil && *front.PairID != backID {
			return fmt.Errorf("%w: front %s is paired with %s", ErrAlreadyPaired, frontID, *front.PairID)
		}
		if back.PairID != nil && *back.PairID != frontID {
			return fmt.Errorf("%w: back %s is paired with %s", ErrAlreadyPaired, backID, *back.PairID)
		}
		if front.PairID != nil && back.PairID != nil {
			// already linked; the stored orientation stays canonical
			return nil
		}
		now := time.Now()
		if err := txx.Model(&types.Subject{}).Where("id = ?", frontID).
			Updates(map[string]interface{}{"pair_id": backID, "side": "front", "updated_at": now}).Error; err != nil {
			return err
		}
		return txx.Model(&types.Subject{}).Where("id = ?", backID).
			Updates(map[string]interface{}{"pair_id": frontID, "side": "back", "updated_at": now}).Error
	})
}
