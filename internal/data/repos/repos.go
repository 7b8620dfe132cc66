package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/postsecret-pipeline/internal/data/repos/embeddings"
	"github.com/yungbote/postsecret-pipeline/internal/data/repos/jobs"
	"github.com/yungbote/postsecret-pipeline/internal/data/repos/subjects"
	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
)

type JobRepo = jobs.JobRepo
type ItemRepo = jobs.ItemRepo
type SubjectRepo = subjects.SubjectRepo
type EmbeddingRepo = embeddings.EmbeddingRepo

// Set bundles every repository over one database handle.
type Set struct {
	Jobs       JobRepo
	Items      ItemRepo
	Subjects   SubjectRepo
	Embeddings EmbeddingRepo
}

func New(db *gorm.DB, log *logger.Logger) Set {
	return Set{
		Jobs:       jobs.NewJobRepo(db, log),
		Items:      jobs.NewItemRepo(db, log),
		Subjects:   subjects.NewSubjectRepo(db, log),
		Embeddings: embeddings.NewEmbeddingRepo(db, log),
	}
}
