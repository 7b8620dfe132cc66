package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/postsecret-pipeline/internal/data/db"
	types "github.com/yungbote/postsecret-pipeline/internal/domain"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
)

var (
	logOnce sync.Once
	logg    *logger.Logger
	logErr  error

	dbSeq atomic.Int64
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// DB returns a fresh, migrated in-memory sqlite database private to the calling test.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	name := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", dbSeq.Add(1))
	gdb, err := gorm.Open(sqlite.Open(name), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		tb.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrateAll(gdb); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return gdb
}

func SeedSubject(tb testing.TB, ctx context.Context, tx *gorm.DB, hash string) *types.Subject {
	tb.Helper()
	now := time.Now()
	s := &types.Subject{
		ID:          uuid.New(),
		FilePath:    "media/" + hash + ".png",
		ContentHash: hash,
		Side:        "front",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed subject: %v", err)
	}
	return s
}

func SeedJob(tb testing.TB, ctx context.Context, tx *gorm.DB, status string) *types.Job {
	tb.Helper()
	now := time.Now()
	j := &types.Job{
		UUID:      uuid.New(),
		Kind:      "upload",
		Status:    status,
		Source:    "test",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(j).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return j
}

func SeedItems(tb testing.TB, ctx context.Context, tx *gorm.DB, jobID uint64, statuses ...string) []*types.JobItem {
	tb.Helper()
	now := time.Now()
	out := make([]*types.JobItem, 0, len(statuses))
	for i, st := range statuses {
		it := &types.JobItem{
			JobID:     jobID,
			Locator:   fmt.Sprintf("img-%03d.png", i),
			Status:    st,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(it).Error; err != nil {
			tb.Fatalf("seed item: %v", err)
		}
		out = append(out, it)
	}
	return out
}
