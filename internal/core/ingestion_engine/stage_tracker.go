package ingestion_engine

import (
	"time"

	"github.com/markdave123-py/Indexa/internal/models"
)

// Pipeline stages in lifecycle order. Failed is reachable from any
// non-terminal stage and only through Fail, never To.
const (
	StageRegistered = "registered"
	StageUploaded   = "uploaded"
	StageProcessing = "processing"
	StageExtracted  = "extracted"
	StageIndexed    = "indexed"
	StageInjected   = "injected"
	StageFailed     = "failed"
)

// StageHistoryCap bounds the history kept on the job record; older
// entries are dropped first.
const StageHistoryCap = 25

var stageRank = map[string]int{
	StageRegistered: 0,
	StageUploaded:   1,
	StageProcessing: 2,
	StageExtracted:  3,
	StageIndexed:    4,
	StageInjected:   5,
}

// StageTracker advances a job's stage metadata through the lifecycle.
// Skipping ahead is allowed (stages are checkpoints, not a strict chain),
// moving backward is not. External collaborators read the produced JSON
// directly, so the shape is models.StageMeta verbatim.
type StageTracker struct {
	meta models.StageMeta
	now  func() time.Time
}

// NewStageTracker resumes tracking from previously persisted metadata.
// A zero StageMeta starts a fresh history.
func NewStageTracker(meta models.StageMeta) *StageTracker {
	return &StageTracker{meta: meta, now: time.Now}
}

// To moves to stage and reports whether the transition applied. Unknown
// stages, backward moves, repeats of the current stage and anything after
// a failure are ignored.
func (t *StageTracker) To(stage string) bool {
	if t.meta.Stage == StageFailed {
		return false
	}
	rank, ok := stageRank[stage]
	if !ok {
		return false
	}
	if cur, ok := stageRank[t.meta.Stage]; ok && rank <= cur {
		return false
	}

	t.meta.Stage = stage
	t.appendHistory(stage)
	return true
}

// Fail records a terminal failure with its reason and timestamp. Repeated
// calls keep the first recorded failure.
func (t *StageTracker) Fail(reason string) {
	if t.meta.Stage == StageFailed {
		return
	}
	at := t.now()
	t.meta.Stage = StageFailed
	t.meta.Error = reason
	t.meta.FailedAt = &at
	t.appendHistory(StageFailed)
}

// Current returns the stage the tracker is at, empty for a fresh job.
func (t *StageTracker) Current() string {
	return t.meta.Stage
}

// Meta returns the metadata blob to persist on the job record.
func (t *StageTracker) Meta() models.StageMeta {
	return t.meta
}

func (t *StageTracker) appendHistory(stage string) {
	h := t.meta.StageHistory
	if n := len(h); n > 0 && h[n-1].Stage == stage {
		return
	}
	h = append(h, models.StageEntry{Stage: stage, At: t.now()})
	if len(h) > StageHistoryCap {
		h = h[len(h)-StageHistoryCap:]
	}
	t.meta.StageHistory = h
}
