package domain

import (
	"github.com/yungbote/postsecret-pipeline/internal/domain/embeddings"
	"github.com/yungbote/postsecret-pipeline/internal/domain/jobs"
	"github.com/yungbote/postsecret-pipeline/internal/domain/subjects"
)

type (
	Job         = jobs.Job
	JobStatus   = jobs.JobStatus
	JobKind     = jobs.JobKind
	ItemStatus  = jobs.ItemStatus
	JobSettings = jobs.Settings
	JobItem     = jobs.Item

	Subject     = subjects.Subject
	SubjectSide = subjects.Side

	EmbeddingRecord = embeddings.Record
)

const (
	JobNew       = jobs.JobNew
	JobRunning   = jobs.JobRunning
	JobPaused    = jobs.JobPaused
	JobCompleted = jobs.JobCompleted
	JobStopped   = jobs.JobStopped
	JobFailed    = jobs.JobFailed

	KindUpload     = jobs.KindUpload
	KindReclassify = jobs.KindReclassify

	ItemPending     = jobs.ItemPending
	ItemProcessing  = jobs.ItemProcessing
	ItemSuccess     = jobs.ItemSuccess
	ItemError       = jobs.ItemError
	ItemSkipped     = jobs.ItemSkipped
	ItemQuarantined = jobs.ItemQuarantined

	SideFront = subjects.SideFront
	SideBack  = subjects.SideBack
)
