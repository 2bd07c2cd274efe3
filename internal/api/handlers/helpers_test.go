package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Indexa/internal/config"
	"github.com/markdave123-py/Indexa/internal/core"
	"github.com/markdave123-py/Indexa/internal/core/ingestion_engine"
	"github.com/markdave123-py/Indexa/internal/models"
)

// stubDB hands back canned data and records what the handlers wrote.
type stubDB struct {
	users   map[string]*models.User
	job     *models.Job
	jobErr  error
	jobs    []models.Job
	extract *models.ExtractionResult
	chunks  []models.DocumentChunk

	createdUsers []*models.User
	createdJobs  []*models.Job
}

func (s *stubDB) CreateUser(ctx context.Context, user *models.User) error {
	if s.users == nil {
		s.users = map[string]*models.User{}
	}
	if _, exists := s.users[user.Email]; exists {
		return fmt.Errorf("duplicate email")
	}
	s.users[user.Email] = user
	s.createdUsers = append(s.createdUsers, user)
	return nil
}

func (s *stubDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, ok := s.users[email]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", email, core.ErrNotFound)
	}
	return u, nil
}

func (s *stubDB) CreateJob(ctx context.Context, job *models.Job) error {
	s.createdJobs = append(s.createdJobs, job)
	return nil
}

func (s *stubDB) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	if s.jobErr != nil {
		return nil, s.jobErr
	}
	if s.job == nil || s.job.ID != id {
		return nil, fmt.Errorf("job %s: %w", id, core.ErrNotFound)
	}
	j := *s.job
	return &j, nil
}

func (s *stubDB) ListJobsByUser(ctx context.Context, userID string) ([]models.Job, error) {
	return s.jobs, nil
}

func (s *stubDB) ClaimJob(ctx context.Context, id string) (bool, error) { return true, nil }

func (s *stubDB) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus) error {
	return nil
}

func (s *stubDB) UpdateJobMetadata(ctx context.Context, id string, meta models.StageMeta) error {
	return nil
}

func (s *stubDB) FailJob(ctx context.Context, id string, meta models.StageMeta) error { return nil }

func (s *stubDB) UpsertExtractionResult(ctx context.Context, res *models.ExtractionResult) error {
	return nil
}

func (s *stubDB) GetExtractionResultByJob(ctx context.Context, jobID string) (*models.ExtractionResult, error) {
	if s.extract == nil {
		return nil, fmt.Errorf("extraction result for job %s: %w", jobID, core.ErrNotFound)
	}
	return s.extract, nil
}

func (s *stubDB) InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	return nil
}

func (s *stubDB) GetChunksByJob(ctx context.Context, jobID string) ([]models.DocumentChunk, error) {
	return s.chunks, nil
}

func (s *stubDB) DeleteChunksByJob(ctx context.Context, jobID string) error { return nil }

func (s *stubDB) Close() error { return nil }

type stubIngestor struct {
	result    *ingestion_engine.Result
	err       error
	enqueued  []string
	processed []string
}

func (s *stubIngestor) Start(ctx context.Context, numWorkers int) error { return nil }

func (s *stubIngestor) Enqueue(jobID string) error {
	s.enqueued = append(s.enqueued, jobID)
	return nil
}

func (s *stubIngestor) ProcessOne(ctx context.Context, jobID string) (*ingestion_engine.Result, error) {
	s.processed = append(s.processed, jobID)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubObjectStore struct {
	uploadedKey  string
	uploadedData []byte
	uploadedCT   string
	presignURL   string
}

func (s *stubObjectStore) UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	s.uploadedKey = key
	s.uploadedData = data
	s.uploadedCT = contentType
	return "https://" + bucket + ".s3.test/" + key, nil
}

func (s *stubObjectStore) DeleteFile(ctx context.Context, bucket, key string) error { return nil }

func (s *stubObjectStore) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	return nil, core.ErrNotFound
}

func (s *stubObjectStore) GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return nil, core.ErrNotFound
}

func (s *stubObjectStore) PresignGet(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	if s.presignURL == "" {
		return "", fmt.Errorf("presign unavailable")
	}
	return s.presignURL, nil
}

// configuredCfg carries everything the pipeline needs, so configured-only
// paths stay enabled in tests.
func configuredCfg() *config.Config {
	return &config.Config{
		Port:         "8080",
		BucketName:   "docs",
		AwsRegion:    "us-east-2",
		AwsAccessKey: "AKIDEXAMPLE",
		AwsSecretKey: "secret",
		EmbedAPIKey:  "sk-test",
	}
}

func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), "user_id", userID))
}

func ownedJob() *models.Job {
	return &models.Job{
		ID:          "job-1",
		UserID:      "user-1",
		FileName:    "notes.txt",
		Bucket:      "docs",
		ObjectKey:   "user-1/job-1/notes.txt",
		ContentType: "text/plain",
		Status:      models.JobStatusQueued,
	}
}

// multipartBody builds a single-file multipart form with an explicit
// part content type.
func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return &buf, mw.FormDataContentType()
}
