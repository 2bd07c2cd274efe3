package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/markdave123-py/Indexa/internal/core"
	"github.com/markdave123-py/Indexa/internal/models"
)

// ErrQueueFull is returned by Enqueue when the job queue has no room.
var ErrQueueFull = errors.New("ingestion queue is full")

// Outcome classifies how one pipeline invocation ended.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeFailed           Outcome = "failed"
)

// Result reports what a pipeline invocation did with a job.
type Result struct {
	JobID   string
	Outcome Outcome
	Reason  string // failure reason, set when Outcome is OutcomeFailed
	Chunks  int    // chunk rows written to the index
}

// DocumentIngestor orchestrates the ingestion pipeline:
//
// db:        persistence for jobs, extraction results and chunks.
// embedder:  embedding provider for chunk texts.
// extractor: strategy-dispatching text extraction engine.
// cfg:       runtime tuning knobs for the pipeline.
// jobs:      in-memory queue of job IDs to process (easy to swap with Kafka later).
type DocumentIngestor struct {
	db        core.DbClient
	embedder  core.EmbeddingProvider
	extractor core.TextExtractor
	cfg       *IngestConfig
	jobs      chan string
	pool      *ants.Pool
}

// NewDocumentIngestor constructs the ingestor with a bounded job queue (64).
func NewDocumentIngestor(db core.DbClient, emb core.EmbeddingProvider, extractor core.TextExtractor, cfg *IngestConfig) *DocumentIngestor {
	if cfg == nil {
		cfg = &IngestConfig{}
	}
	return &DocumentIngestor{
		db: db, embedder: emb, extractor: extractor,
		cfg:  cfg.withDefaults(),
		jobs: make(chan string, 64),
	}
}

// Start launches the worker pool and a dispatcher goroutine that drains
// the job queue until ctx is cancelled.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) error {
	if numWorkers <= 0 {
		numWorkers = i.cfg.Workers
	}
	pool, err := ants.NewPool(numWorkers)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	i.pool = pool

	go func() {
		defer pool.Release()
		for {
			select {
			case <-ctx.Done():
				slog.Info("ingestor dispatcher shutting down")
				return
			case jobID := <-i.jobs:
				id := jobID
				if err := pool.Submit(func() { i.runOne(ctx, id) }); err != nil {
					slog.Error("could not submit job to pool", "job_id", id, "error", err)
				}
			}
		}
	}()
	return nil
}

func (i *DocumentIngestor) runOne(ctx context.Context, jobID string) {
	res, err := i.ProcessOne(ctx, jobID)
	switch {
	case err != nil:
		slog.Error("ingestion aborted", "job_id", jobID, "error", err)
	case res.Outcome == OutcomeFailed:
		slog.Warn("ingestion failed", "job_id", jobID, "reason", res.Reason)
	default:
		slog.Info("ingestion done", "job_id", jobID, "outcome", res.Outcome, "chunks", res.Chunks)
	}
}

// Enqueue schedules a job ID for ingestion without blocking. When the
// queue is full the job simply stays queued; a later trigger picks it up.
func (i *DocumentIngestor) Enqueue(jobID string) error {
	select {
	case i.jobs <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

// ProcessOne runs the whole pipeline for a single job: claim, extract,
// chunk, embed, index, complete. The run is detached from the caller's
// context and bounded by the configured budget instead, so an abandoned
// HTTP request cannot cancel work mid-write.
func (i *DocumentIngestor) ProcessOne(_ context.Context, jobID string) (*Result, error) {
	proctx, cancel := context.WithTimeout(context.Background(), i.cfg.Budget)
	defer cancel()

	job, err := i.db.GetJobByID(proctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != models.JobStatusQueued {
		return &Result{JobID: jobID, Outcome: OutcomeAlreadyProcessed}, nil
	}
	claimed, err := i.db.ClaimJob(proctx, jobID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Lost the race to a concurrent trigger.
		return &Result{JobID: jobID, Outcome: OutcomeAlreadyProcessed}, nil
	}

	slog.Info("ingestion started", "job_id", jobID, "file", job.FileName, "content_type", job.ContentType)

	tracker := NewStageTracker(job.Metadata)
	i.saveStage(proctx, jobID, tracker, StageProcessing)

	ext, err := i.extractor.Extract(proctx, job)
	if err != nil {
		return i.failJob(proctx, jobID, tracker, fmt.Errorf("extraction: %w", err))
	}

	result := &models.ExtractionResult{JobID: jobID, Text: ext.Text, RawResponse: ext.Raw}
	if err := i.db.UpsertExtractionResult(proctx, result); err != nil {
		return i.failJob(proctx, jobID, tracker, fmt.Errorf("persist extraction result: %w", err))
	}
	i.saveStage(proctx, jobID, tracker, StageExtracted)

	chunks := chunkText(ext.Text, i.cfg.ChunkSize, i.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		slog.Warn("document produced no chunks", "job_id", jobID)
		return i.completeJob(proctx, jobID, tracker, 0)
	}

	texts := make([]string, len(chunks))
	for n, c := range chunks {
		texts[n] = c.Text
	}
	vectors, err := i.embedder.EmbedTexts(proctx, texts)
	if err != nil {
		// Extraction is the primary deliverable. Downstream consumers can
		// still fall back to the raw text, so the job completes unindexed.
		slog.Error("embedding failed, job stays at extracted", "job_id", jobID, "error", err)
		return i.completeJob(proctx, jobID, tracker, 0)
	}

	rows := make([]models.DocumentChunk, len(chunks))
	for n, c := range chunks {
		rows[n] = models.DocumentChunk{
			ID:         uuid.NewString(),
			JobID:      jobID,
			Position:   c.Pos,
			Text:       c.Text,
			CharOffset: c.Offset,
			TokenCount: c.TokenCnt,
			Embedding:  vectors[n],
			EmbedModel: i.cfg.EmbedModel,
		}
	}
	if err := i.db.DeleteChunksByJob(proctx, jobID); err != nil {
		slog.Warn("could not clear previous chunks", "job_id", jobID, "error", err)
	}
	if err := i.db.InsertDocumentChunks(proctx, rows); err != nil {
		slog.Error("index write failed, job stays at extracted", "job_id", jobID, "error", err)
		return i.completeJob(proctx, jobID, tracker, 0)
	}
	i.saveStage(proctx, jobID, tracker, StageIndexed)

	return i.completeJob(proctx, jobID, tracker, len(rows))
}

// saveStage advances the tracker and persists the metadata when the
// transition applied. Metadata is advisory, so persistence trouble is
// logged rather than propagated.
func (i *DocumentIngestor) saveStage(ctx context.Context, jobID string, tracker *StageTracker, stage string) {
	if !tracker.To(stage) {
		return
	}
	if err := i.db.UpdateJobMetadata(ctx, jobID, tracker.Meta()); err != nil {
		slog.Warn("stage update not persisted", "job_id", jobID, "stage", stage, "error", err)
	}
}

func (i *DocumentIngestor) failJob(ctx context.Context, jobID string, tracker *StageTracker, cause error) (*Result, error) {
	slog.Error("ingestion failing job", "job_id", jobID, "error", cause)
	tracker.Fail(cause.Error())
	if err := i.db.FailJob(ctx, jobID, tracker.Meta()); err != nil {
		slog.Error("could not mark job failed", "job_id", jobID, "error", err)
	}
	return &Result{JobID: jobID, Outcome: OutcomeFailed, Reason: cause.Error()}, nil
}

// completeJob closes out a claimed job. The injected stage is only
// reached when chunk rows actually landed in the index; otherwise the
// stage stays where the run left it (extracted on soft failures).
func (i *DocumentIngestor) completeJob(ctx context.Context, jobID string, tracker *StageTracker, written int) (*Result, error) {
	if written > 0 {
		i.saveStage(ctx, jobID, tracker, StageInjected)
	}
	if err := i.db.UpdateJobStatus(ctx, jobID, models.JobStatusCompleted); err != nil {
		slog.Error("could not mark job completed", "job_id", jobID, "error", err)
	}
	return &Result{JobID: jobID, Outcome: OutcomeCompleted, Chunks: written}, nil
}
