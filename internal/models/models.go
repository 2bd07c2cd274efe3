package models

import (
	"time"
)

// User is an account that can upload documents and trigger ingestion.
type User struct {
	ID           string    `db:"id" json:"id"`
	FirstName    string    `db:"first_name" json:"first_name,omitempty"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// JobStatus is the lifecycle status of an ingestion job.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// AnalysisTarget selects what the extraction provider should pull from the
// document. Only text detection is implemented; other targets are rejected.
type AnalysisTarget string

const (
	AnalysisTargetText   AnalysisTarget = "text"
	AnalysisTargetTables AnalysisTarget = "tables"
	AnalysisTargetForms  AnalysisTarget = "forms"
)

// Job tracks one uploaded document through extraction, chunking, embedding
// and indexing. Created by the upload surface (or an external collaborator)
// with status "queued"; mutated only by the pipeline while it runs.
type Job struct {
	ID             string         `db:"id" json:"id"`
	UserID         string         `db:"user_id" json:"user_id"`
	FileName       string         `db:"file_name" json:"file_name"`
	Bucket         string         `db:"bucket" json:"bucket"`
	ObjectKey      string         `db:"object_key" json:"object_key"`
	ContentType    string         `db:"content_type" json:"content_type"`
	FileSize       int64          `db:"file_size" json:"file_size"`
	AnalysisTarget AnalysisTarget `db:"analysis_target" json:"analysis_target"`
	Status         JobStatus      `db:"status" json:"status"`
	Metadata       StageMeta      `db:"metadata" json:"metadata"` // free-form JSON column
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// StageEntry is one timestamped checkpoint in a job's stage history.
type StageEntry struct {
	Stage string    `json:"stage"`
	At    time.Time `json:"at"`
}

// StageMeta is the free-form metadata blob stored on the job row. External
// collaborators read this JSON directly, so the field names are part of the
// contract.
type StageMeta struct {
	Stage        string       `json:"stage,omitempty"`
	StageHistory []StageEntry `json:"stage_history,omitempty"`
	Error        string       `json:"error,omitempty"`
	FailedAt     *time.Time   `json:"failed_at,omitempty"`
}

// ExtractionResult holds the raw text pulled out of a job's document, one row
// per job (unique on job_id), upserted when extraction finishes.
type ExtractionResult struct {
	JobID       string    `db:"job_id" json:"job_id"`
	Text        string    `db:"text" json:"text"`
	RawResponse []byte    `db:"raw_response" json:"raw_response,omitempty"` // provider JSON, as received
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// DocumentChunk is one text chunk of a job's extracted document together with
// its embedding. Positions are contiguous from 0 inside a job.
type DocumentChunk struct {
	ID         string    `db:"id" json:"id"`
	JobID      string    `db:"job_id" json:"job_id"`
	Position   int       `db:"position" json:"position"`
	Text       string    `db:"text" json:"text"`
	CharOffset int       `db:"char_offset" json:"char_offset"`
	TokenCount int       `db:"token_count" json:"token_count"`
	Embedding  []float32 `db:"embedding" json:"embedding"` // pgvector column
	EmbedModel string    `db:"embed_model" json:"embed_model"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
