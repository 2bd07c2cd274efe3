package core

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/markdave123-py/Indexa/internal/models"
)

// ErrNotFound is returned by lookups when no matching record exists.
var ErrNotFound = errors.New("record not found")

// DbClient defines all persistence operations the API and pipeline need.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJobByID(ctx context.Context, id string) (*models.Job, error)
	ListJobsByUser(ctx context.Context, userID string) ([]models.Job, error)

	// ClaimJob flips a queued job to processing and reports whether this
	// caller won the claim. A false result with nil error means another
	// worker holds the job or it already ran.
	ClaimJob(ctx context.Context, id string) (bool, error)
	UpdateJobStatus(ctx context.Context, id string, status models.JobStatus) error
	UpdateJobMetadata(ctx context.Context, id string, meta models.StageMeta) error
	// FailJob sets status and metadata in one statement so a failed job
	// always carries its error detail.
	FailJob(ctx context.Context, id string, meta models.StageMeta) error

	UpsertExtractionResult(ctx context.Context, res *models.ExtractionResult) error
	GetExtractionResultByJob(ctx context.Context, jobID string) (*models.ExtractionResult, error)

	InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error
	GetChunksByJob(ctx context.Context, jobID string) ([]models.DocumentChunk, error)
	DeleteChunksByJob(ctx context.Context, jobID string) error

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
// It’s abstract so you can replace AWS with MinIO, GCP, etc. easily.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)

	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// PresignGet returns a time-limited download URL for the object.
	PresignGet(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
}
