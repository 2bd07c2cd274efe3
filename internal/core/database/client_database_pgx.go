package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/Indexa/internal/config"
	"github.com/markdave123-py/Indexa/internal/core"
	"github.com/markdave123-py/Indexa/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	// Ensure bootstrap once
	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// nullableTime lets COALESCE fall through to now() when the caller left
// the timestamp unset.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// Implementing the db interface for User

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO users (id, first_name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()), COALESCE($6, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		user.ID, user.FirstName, user.Email, user.PasswordHash,
		nullableTime(user.CreatedAt), nullableTime(user.UpdatedAt))
	return err
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, first_name, email, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.FirstName, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", email, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Implementing the db interface for Job

func (c *DatabaseClient) CreateJob(ctx context.Context, job *models.Job) error {
	if job == nil {
		return errors.New("nil job")
	}
	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("encode job metadata: %w", err)
	}
	const q = `
		INSERT INTO jobs
			(id, user_id, file_name, bucket, object_key, content_type, file_size, analysis_target, status, metadata, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, now()), COALESCE($12, now()))
	`
	_, err = c.db.ExecContext(ctx, q,
		job.ID, job.UserID, job.FileName, job.Bucket, job.ObjectKey, job.ContentType,
		job.FileSize, job.AnalysisTarget, job.Status, meta,
		nullableTime(job.CreatedAt), nullableTime(job.UpdatedAt))
	return err
}

func (c *DatabaseClient) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	const q = `
		SELECT id, user_id, file_name, bucket, object_key, content_type, file_size, analysis_target, status, metadata, created_at, updated_at
		FROM jobs
		WHERE id = $1
	`
	var (
		j       models.Job
		metaRaw []byte
	)
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&j.ID, &j.UserID, &j.FileName, &j.Bucket, &j.ObjectKey, &j.ContentType,
		&j.FileSize, &j.AnalysisTarget, &j.Status, &metaRaw, &j.CreatedAt, &j.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &j.Metadata); err != nil {
			return nil, fmt.Errorf("decode job metadata: %w", err)
		}
	}
	return &j, nil
}

func (c *DatabaseClient) ListJobsByUser(ctx context.Context, userID string) ([]models.Job, error) {
	const q = `
		SELECT id, user_id, file_name, bucket, object_key, content_type, file_size, analysis_target, status, metadata, created_at, updated_at
		FROM jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		var (
			j       models.Job
			metaRaw []byte
		)
		if err := rows.Scan(
			&j.ID, &j.UserID, &j.FileName, &j.Bucket, &j.ObjectKey, &j.ContentType,
			&j.FileSize, &j.AnalysisTarget, &j.Status, &metaRaw, &j.CreatedAt, &j.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &j.Metadata); err != nil {
				return nil, fmt.Errorf("decode job metadata: %w", err)
			}
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ClaimJob is the concurrency guard in front of the pipeline: the
// UPDATE only matches while the job is still queued, so exactly one
// caller observes an affected row.
func (c *DatabaseClient) ClaimJob(ctx context.Context, id string) (bool, error) {
	const q = `
		UPDATE jobs
		SET status = 'processing', updated_at = now()
		WHERE id = $1 AND status = 'queued'
	`
	res, err := c.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (c *DatabaseClient) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus) error {
	const q = `
		UPDATE jobs
		SET status = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (c *DatabaseClient) UpdateJobMetadata(ctx context.Context, id string, meta models.StageMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode job metadata: %w", err)
	}
	const q = `
		UPDATE jobs
		SET metadata = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, raw)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// FailJob flips status and metadata in one statement so a failed job is
// never visible without its error detail.
func (c *DatabaseClient) FailJob(ctx context.Context, id string, meta models.StageMeta) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode job metadata: %w", err)
	}
	const q = `
		UPDATE jobs
		SET status = 'failed', metadata = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, raw)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// Implementing the db interface for Extraction results

func (c *DatabaseClient) UpsertExtractionResult(ctx context.Context, res *models.ExtractionResult) error {
	if res == nil {
		return errors.New("nil extraction result")
	}
	const q = `
		INSERT INTO extraction_results (job_id, text, raw_response, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (job_id) DO UPDATE
		SET text = EXCLUDED.text, raw_response = EXCLUDED.raw_response, updated_at = now()
	`
	_, err := c.db.ExecContext(ctx, q, res.JobID, res.Text, res.RawResponse)
	return err
}

func (c *DatabaseClient) GetExtractionResultByJob(ctx context.Context, jobID string) (*models.ExtractionResult, error) {
	const q = `
		SELECT job_id, text, raw_response, created_at, updated_at
		FROM extraction_results
		WHERE job_id = $1
	`
	var r models.ExtractionResult
	err := c.db.QueryRowContext(ctx, q, jobID).Scan(
		&r.JobID, &r.Text, &r.RawResponse, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("extraction result for job %s: %w", jobID, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Implementing the db interface for Document Chunks

// InsertDocumentChunks inserts chunks in a single transaction.
func (c *DatabaseClient) InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO document_chunks
			(id, job_id, position, text, char_offset, token_count, embedding, embed_model)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		vec := pgvector.NewVector(ch.Embedding)

		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.JobID, ch.Position, ch.Text, ch.CharOffset, ch.TokenCount, vec, ch.EmbedModel,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) GetChunksByJob(ctx context.Context, jobID string) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, job_id, position, text, char_offset, token_count, embedding, embed_model, created_at
		FROM document_chunks
		WHERE job_id = $1
		ORDER BY position ASC
	`
	rows, err := c.db.QueryContext(ctx, q, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch  models.DocumentChunk
			emb pgvector.Vector
		)
		if err := rows.Scan(
			&ch.ID, &ch.JobID, &ch.Position, &ch.Text, &ch.CharOffset, &ch.TokenCount, &emb, &ch.EmbedModel, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) DeleteChunksByJob(ctx context.Context, jobID string) error {
	const q = `DELETE FROM document_chunks WHERE job_id = $1`
	_, err := c.db.ExecContext(ctx, q, jobID)
	return err
}
