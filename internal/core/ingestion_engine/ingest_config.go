package ingestion_engine

import (
	"time"
)

// IngestConfig tunes the pipeline.
//
// ChunkSize:    target characters per chunk (e.g., 2000).
// ChunkOverlap: characters shared between consecutive chunks for context bleed (e.g., 150).
// BatchSize:    how many chunk texts to embed in one API call (e.g., 100).
// Workers:      pool size draining the job queue.
// Budget:       wall-clock ceiling for one whole pipeline run.
// EmbedModel:   model identifier stamped on every stored chunk.
type IngestConfig struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	Workers      int
	Budget       time.Duration
	EmbedModel   string
}

func (c *IngestConfig) withDefaults() *IngestConfig {
	out := *c
	if out.ChunkSize <= 0 {
		out.ChunkSize = 2000
	}
	if out.ChunkOverlap < 0 {
		out.ChunkOverlap = 0
	}
	if out.BatchSize <= 0 {
		out.BatchSize = 100
	}
	if out.Workers <= 0 {
		out.Workers = 2
	}
	if out.Budget <= 0 {
		out.Budget = 50 * time.Second
	}
	return &out
}

// chunk is the internal representation passed through the pipeline.
//
// Pos:      stable, zero-based position of the chunk inside the document.
// Text:     chunk content, trimmed of boundary whitespace.
// Offset:   where the untrimmed slice starts in the source text.
// TokenCnt: approximate token count (used for sizing and diagnostics).
type chunk struct {
	Pos      int
	Text     string
	Offset   int
	TokenCnt int
}
