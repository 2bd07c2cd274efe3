package ingestion_engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Indexa/internal/core"
	"github.com/markdave123-py/Indexa/internal/models"
)

// fakeDB records every mutation the pipeline makes. Error fields switch
// individual operations into failure mode.
type fakeDB struct {
	job *models.Job

	getErr      error
	claimResult bool
	claimErr    error
	upsertErr   error
	insertErr   error

	claims      int
	statusSets  []models.JobStatus
	metaSets    []models.StageMeta
	failedMeta  *models.StageMeta
	upserted    *models.ExtractionResult
	inserted    []models.DocumentChunk
	deletedJobs []string

	// statusCh, when set, receives every status update. Lets tests wait
	// on work running inside the worker pool.
	statusCh chan models.JobStatus
}

func (f *fakeDB) CreateUser(ctx context.Context, user *models.User) error { return nil }

func (f *fakeDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return nil, core.ErrNotFound
}

func (f *fakeDB) CreateJob(ctx context.Context, job *models.Job) error { return nil }

func (f *fakeDB) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	j := *f.job
	return &j, nil
}

func (f *fakeDB) ListJobsByUser(ctx context.Context, userID string) ([]models.Job, error) {
	return nil, nil
}

func (f *fakeDB) ClaimJob(ctx context.Context, id string) (bool, error) {
	f.claims++
	return f.claimResult, f.claimErr
}

func (f *fakeDB) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus) error {
	f.statusSets = append(f.statusSets, status)
	if f.statusCh != nil {
		f.statusCh <- status
	}
	return nil
}

func (f *fakeDB) UpdateJobMetadata(ctx context.Context, id string, meta models.StageMeta) error {
	f.metaSets = append(f.metaSets, meta)
	return nil
}

func (f *fakeDB) FailJob(ctx context.Context, id string, meta models.StageMeta) error {
	m := meta
	f.failedMeta = &m
	return nil
}

func (f *fakeDB) UpsertExtractionResult(ctx context.Context, res *models.ExtractionResult) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = res
	return nil
}

func (f *fakeDB) GetExtractionResultByJob(ctx context.Context, jobID string) (*models.ExtractionResult, error) {
	return nil, core.ErrNotFound
}

func (f *fakeDB) InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, chunks...)
	return nil
}

func (f *fakeDB) GetChunksByJob(ctx context.Context, jobID string) ([]models.DocumentChunk, error) {
	return f.inserted, nil
}

func (f *fakeDB) DeleteChunksByJob(ctx context.Context, jobID string) error {
	f.deletedJobs = append(f.deletedJobs, jobID)
	return nil
}

func (f *fakeDB) Close() error { return nil }

type fakeEmbedder struct {
	err   error
	calls int
	texts []string
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.texts = texts
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

type fakeExtractor struct {
	text  string
	err   error
	calls int
}

func (f *fakeExtractor) Extract(ctx context.Context, job *models.Job) (*core.ExtractedText, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &core.ExtractedText{Text: f.text, Raw: []byte(`{"Blocks":[]}`)}, nil
}

func queuedJob() *models.Job {
	uploaded := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return &models.Job{
		ID:             "job-1",
		UserID:         "user-1",
		FileName:       "notes.txt",
		Bucket:         "docs",
		ObjectKey:      "objects/notes.txt",
		ContentType:    "text/plain",
		AnalysisTarget: models.AnalysisTargetText,
		Status:         models.JobStatusQueued,
		Metadata: models.StageMeta{
			Stage: StageUploaded,
			StageHistory: []models.StageEntry{
				{Stage: StageRegistered, At: uploaded},
				{Stage: StageUploaded, At: uploaded},
			},
		},
	}
}

func newTestIngestor(db core.DbClient, emb core.EmbeddingProvider, ex core.TextExtractor) *DocumentIngestor {
	return NewDocumentIngestor(db, emb, ex, &IngestConfig{
		ChunkSize:    2000,
		ChunkOverlap: 150,
		EmbedModel:   "text-embedding-3-small",
	})
}

func historyStages(meta models.StageMeta) []string {
	out := make([]string, 0, len(meta.StageHistory))
	for _, e := range meta.StageHistory {
		out = append(out, e.Stage)
	}
	return out
}

func TestProcessOneIndexesShortDocument(t *testing.T) {
	db := &fakeDB{job: queuedJob(), claimResult: true}
	emb := &fakeEmbedder{}
	ex := &fakeExtractor{text: strings.Repeat("a", 300)}

	res, err := newTestIngestor(db, emb, ex).ProcessOne(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 1, res.Chunks)

	assert.Equal(t, 1, db.claims)
	require.NotNil(t, db.upserted)
	assert.Equal(t, "job-1", db.upserted.JobID)
	assert.Equal(t, ex.text, db.upserted.Text)
	assert.JSONEq(t, `{"Blocks":[]}`, string(db.upserted.RawResponse))

	assert.Equal(t, []string{"job-1"}, db.deletedJobs)
	require.Len(t, db.inserted, 1)
	row := db.inserted[0]
	assert.NotEmpty(t, row.ID)
	assert.Equal(t, "job-1", row.JobID)
	assert.Equal(t, 0, row.Position)
	assert.Equal(t, ex.text, row.Text)
	assert.Equal(t, 0, row.CharOffset)
	assert.Equal(t, 75, row.TokenCount)
	assert.Equal(t, []float32{0}, row.Embedding)
	assert.Equal(t, "text-embedding-3-small", row.EmbedModel)

	assert.Equal(t, []models.JobStatus{models.JobStatusCompleted}, db.statusSets)
	require.Len(t, db.metaSets, 4)
	final := db.metaSets[3]
	assert.Equal(t, StageInjected, final.Stage)
	assert.Equal(t, []string{
		StageRegistered, StageUploaded, StageProcessing,
		StageExtracted, StageIndexed, StageInjected,
	}, historyStages(final))
}

func TestProcessOneChunksLongDocument(t *testing.T) {
	db := &fakeDB{job: queuedJob(), claimResult: true}
	emb := &fakeEmbedder{}
	ex := &fakeExtractor{text: strings.Repeat("a", 5000)}

	res, err := newTestIngestor(db, emb, ex).ProcessOne(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chunks)

	require.Len(t, emb.texts, 3)
	require.Len(t, db.inserted, 3)
	for n, row := range db.inserted {
		assert.Equal(t, n, row.Position)
		assert.Equal(t, []float32{float32(n)}, row.Embedding)
	}
	assert.Equal(t, 0, db.inserted[0].CharOffset)
	assert.Equal(t, 1850, db.inserted[1].CharOffset)
	assert.Equal(t, 3700, db.inserted[2].CharOffset)
}

func TestProcessOneSkipsNonQueuedJob(t *testing.T) {
	job := queuedJob()
	job.Status = models.JobStatusProcessing
	db := &fakeDB{job: job, claimResult: true}
	emb := &fakeEmbedder{}
	ex := &fakeExtractor{text: "irrelevant"}

	res, err := newTestIngestor(db, emb, ex).ProcessOne(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, res.Outcome)

	// A rerun must not touch anything.
	assert.Zero(t, db.claims)
	assert.Zero(t, ex.calls)
	assert.Zero(t, emb.calls)
	assert.Empty(t, db.statusSets)
	assert.Empty(t, db.metaSets)
	assert.Nil(t, db.upserted)
	assert.Empty(t, db.inserted)
	assert.Nil(t, db.failedMeta)
}

func TestProcessOneLosesClaimRace(t *testing.T) {
	db := &fakeDB{job: queuedJob(), claimResult: false}
	emb := &fakeEmbedder{}
	ex := &fakeExtractor{text: "irrelevant"}

	res, err := newTestIngestor(db, emb, ex).ProcessOne(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, res.Outcome)
	assert.Equal(t, 1, db.claims)
	assert.Zero(t, ex.calls)
	assert.Empty(t, db.metaSets)
}

func TestProcessOneJobNotFound(t *testing.T) {
	db := &fakeDB{getErr: core.ErrNotFound}
	res, err := newTestIngestor(db, &fakeEmbedder{}, &fakeExtractor{}).ProcessOne(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Nil(t, res)
}

func TestProcessOneExtractionFailureFailsJob(t *testing.T) {
	db := &fakeDB{job: queuedJob(), claimResult: true}
	emb := &fakeEmbedder{}
	ex := &fakeExtractor{err: errors.New("job failed: unreadable document")}

	res, err := newTestIngestor(db, emb, ex).ProcessOne(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Reason, "extraction:")
	assert.Contains(t, res.Reason, "unreadable document")

	require.NotNil(t, db.failedMeta)
	assert.Equal(t, StageFailed, db.failedMeta.Stage)
	assert.Contains(t, db.failedMeta.Error, "unreadable document")
	require.NotNil(t, db.failedMeta.FailedAt)
	assert.Equal(t, StageFailed, historyStages(*db.failedMeta)[len(db.failedMeta.StageHistory)-1])

	assert.Nil(t, db.upserted)
	assert.Empty(t, db.inserted)
	assert.Zero(t, emb.calls)
	assert.Empty(t, db.statusSets, "FailJob owns the status flip")
}

func TestProcessOneUpsertFailureFailsJob(t *testing.T) {
	db := &fakeDB{job: queuedJob(), claimResult: true, upsertErr: errors.New("disk full")}
	emb := &fakeEmbedder{}
	ex := &fakeExtractor{text: strings.Repeat("a", 300)}

	res, err := newTestIngestor(db, emb, ex).ProcessOne(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Reason, "persist extraction result")
	require.NotNil(t, db.failedMeta)
	assert.Zero(t, emb.calls)
	assert.Empty(t, db.inserted)
}

func TestProcessOneEmbeddingFailureCompletesUnindexed(t *testing.T) {
	db := &fakeDB{job: queuedJob(), claimResult: true}
	emb := &fakeEmbedder{err: errors.New("unexpected status 500")}
	ex := &fakeExtractor{text: strings.Repeat("a", 300)}

	res, err := newTestIngestor(db, emb, ex).ProcessOne(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Zero(t, res.Chunks)

	assert.Nil(t, db.failedMeta)
	assert.NotNil(t, db.upserted, "extraction result is kept")
	assert.Empty(t, db.inserted)
	assert.Equal(t, []models.JobStatus{models.JobStatusCompleted}, db.statusSets)

	final := db.metaSets[len(db.metaSets)-1]
	assert.Equal(t, StageExtracted, final.Stage)
}

func TestProcessOneInsertFailureCompletesUnindexed(t *testing.T) {
	db := &fakeDB{job: queuedJob(), claimResult: true, insertErr: errors.New("connection reset")}
	emb := &fakeEmbedder{}
	ex := &fakeExtractor{text: strings.Repeat("a", 300)}

	res, err := newTestIngestor(db, emb, ex).ProcessOne(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Zero(t, res.Chunks)
	assert.Nil(t, db.failedMeta)

	final := db.metaSets[len(db.metaSets)-1]
	assert.Equal(t, StageExtracted, final.Stage)
}

func TestProcessOneWhitespaceOnlyTextCompletes(t *testing.T) {
	db := &fakeDB{job: queuedJob(), claimResult: true}
	emb := &fakeEmbedder{}
	ex := &fakeExtractor{text: "   \n\n  "}

	res, err := newTestIngestor(db, emb, ex).ProcessOne(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Zero(t, res.Chunks)
	assert.Zero(t, emb.calls)
	assert.Empty(t, db.inserted)
}

func TestEnqueueReportsFullQueue(t *testing.T) {
	ing := newTestIngestor(&fakeDB{}, &fakeEmbedder{}, &fakeExtractor{})

	for n := 0; n < cap(ing.jobs); n++ {
		require.NoError(t, ing.Enqueue("job"))
	}
	assert.ErrorIs(t, ing.Enqueue("job"), ErrQueueFull)
}

func TestStartDrainsQueue(t *testing.T) {
	db := &fakeDB{
		job:         queuedJob(),
		claimResult: true,
		statusCh:    make(chan models.JobStatus, 1),
	}
	emb := &fakeEmbedder{}
	ex := &fakeExtractor{text: strings.Repeat("a", 300)}
	ing := newTestIngestor(db, emb, ex)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, ing.Start(ctx, 1))
	require.NoError(t, ing.Enqueue("job-1"))

	select {
	case status := <-db.statusCh:
		assert.Equal(t, models.JobStatusCompleted, status)
	case <-time.After(2 * time.Second):
		t.Fatal("enqueued job was not processed")
	}
	assert.Len(t, db.inserted, 1)
}
