package db

import (
	"gorm.io/gorm"

	"github.com/yungbote/postsecret-pipeline/internal/domain/embeddings"
	"github.com/yungbote/postsecret-pipeline/internal/domain/jobs"
	"github.com/yungbote/postsecret-pipeline/internal/domain/subjects"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// Stored secrets + derived facets
		&subjects.Subject{},
		&embeddings.Record{},

		// Bulk jobs
		&jobs.Job{},
		&jobs.Item{},
	)
}
