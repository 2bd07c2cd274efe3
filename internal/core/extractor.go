package core

import (
	"context"

	"github.com/markdave123-py/Indexa/internal/models"
)

// ExtractedText is the result of pulling text out of one document.
type ExtractedText struct {
	Text string

	// Raw is the provider response exactly as received, nil for strategies
	// that read the document locally.
	Raw []byte

	Metadata map[string]string
}

// TextExtractor defines the interface for extracting text from an uploaded
// document. Implementations pick a strategy from the job's content type and
// may fetch the object themselves or hand a reference to a remote service.
type TextExtractor interface {
	Extract(ctx context.Context, job *models.Job) (*ExtractedText, error)
}
