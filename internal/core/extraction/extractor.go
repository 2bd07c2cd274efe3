package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/Indexa/internal/core"
	"github.com/markdave123-py/Indexa/internal/models"
)

var (
	// ErrUnsupported marks a content type or analysis target no strategy
	// can handle.
	ErrUnsupported = errors.New("unsupported document type")

	// ErrNoText is returned when a strategy ran successfully but found
	// nothing to index.
	ErrNoText = errors.New("no text detected in document")
)

// ProviderFailure carries the reason the OCR provider gave for a failed
// detection job.
type ProviderFailure struct {
	Status  string
	Message string
}

func (e *ProviderFailure) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider reported %s", e.Status)
	}
	return fmt.Sprintf("provider reported %s: %s", e.Status, e.Message)
}

// Config tunes the extraction engine.
//
// CharCap:          hard cap on extracted characters for locally read
//                   documents; a marker is appended when it cuts.
// PollInitialDelay: wait before the first async status poll.
// PollInterval:     wait between subsequent polls.
// PollMaxAttempts:  polls before an in-progress job counts as failed.
type Config struct {
	CharCap          int
	PollInitialDelay time.Duration
	PollInterval     time.Duration
	PollMaxAttempts  int
}

func (c Config) withDefaults() Config {
	if c.CharCap <= 0 {
		c.CharCap = 100000
	}
	if c.PollInitialDelay <= 0 {
		c.PollInitialDelay = time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.PollMaxAttempts <= 0 {
		c.PollMaxAttempts = 12
	}
	return c
}

const truncationMarker = "\n\n[truncated]"

// Extractor picks an extraction strategy per job and runs it.
type Extractor struct {
	obj      core.ObjectClient
	textract *TextractClient
	cfg      Config
}

var _ core.TextExtractor = (*Extractor)(nil)

func NewExtractor(obj core.ObjectClient, tc *TextractClient, cfg Config) *Extractor {
	return &Extractor{obj: obj, textract: tc, cfg: cfg.withDefaults()}
}

// Extract resolves the job's strategy and returns the document's text.
// Only the text analysis target is supported.
func (e *Extractor) Extract(ctx context.Context, job *models.Job) (*core.ExtractedText, error) {
	if t := job.AnalysisTarget; t != "" && t != models.AnalysisTargetText {
		return nil, fmt.Errorf("%w: analysis target %q", ErrUnsupported, t)
	}

	switch resolveStrategy(job.ContentType, job.FileName) {
	case strategyFlat:
		return e.extractFlat(ctx, job)
	case strategyImage:
		return e.extractImage(ctx, job)
	case strategyAsync:
		return e.extractAsync(ctx, job)
	case strategyOffice:
		return e.extractOffice(ctx, job)
	default:
		return nil, fmt.Errorf("%w: content type %q (file %q)", ErrUnsupported, job.ContentType, job.FileName)
	}
}

// extractFlat reads the object and treats it as plain text.
func (e *Extractor) extractFlat(ctx context.Context, job *models.Job) (*core.ExtractedText, error) {
	raw, err := e.obj.GetFile(ctx, job.Bucket, job.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("fetching object: %w", err)
	}

	text := strings.ToValidUTF8(string(raw), "�")
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoText
	}
	text, truncated := truncateChars(text, e.cfg.CharCap)
	if truncated {
		slog.Warn("flat text truncated at cap", "job_id", job.ID, "cap", e.cfg.CharCap)
	}

	return &core.ExtractedText{
		Text:     text,
		Metadata: map[string]string{"strategy": "flat"},
	}, nil
}

// extractImage sends the image inline through the synchronous detection
// call and keeps the detected lines in response order.
func (e *Extractor) extractImage(ctx context.Context, job *models.Job) (*core.ExtractedText, error) {
	raw, err := e.obj.GetFile(ctx, job.Bucket, job.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("fetching object: %w", err)
	}

	out, err := e.textract.DetectDocumentText(ctx, raw)
	if err != nil {
		return nil, err
	}

	text := LineText(out.Blocks)
	if text == "" {
		return nil, ErrNoText
	}

	return &core.ExtractedText{
		Text:     text,
		Raw:      out.Raw,
		Metadata: map[string]string{"strategy": "image"},
	}, nil
}

// extractAsync submits an asynchronous detection job over the stored
// object and polls on a fixed schedule until it settles or the attempt
// budget runs out.
func (e *Extractor) extractAsync(ctx context.Context, job *models.Job) (*core.ExtractedText, error) {
	providerJobID, err := e.textract.StartDocumentTextDetection(ctx, job.Bucket, job.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("starting detection: %w", err)
	}
	slog.Info("detection job submitted", "job_id", job.ID, "provider_job_id", providerJobID)

	if err := sleepCtx(ctx, e.cfg.PollInitialDelay); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= e.cfg.PollMaxAttempts; attempt++ {
		out, err := e.textract.GetDocumentTextDetection(ctx, providerJobID, "")
		if err != nil {
			return nil, fmt.Errorf("polling detection: %w", err)
		}

		switch out.JobStatus {
		case JobStatusInProgress:
			if attempt < e.cfg.PollMaxAttempts {
				if err := sleepCtx(ctx, e.cfg.PollInterval); err != nil {
					return nil, err
				}
			}
		case JobStatusSucceeded, JobStatusPartialSuccess:
			if out.JobStatus == JobStatusPartialSuccess {
				slog.Warn("detection finished partially", "job_id", job.ID, "message", out.StatusMessage)
			}
			return e.collectAsync(ctx, providerJobID, out)
		case JobStatusFailed:
			return nil, &ProviderFailure{Status: out.JobStatus, Message: out.StatusMessage}
		default:
			return nil, fmt.Errorf("unexpected job status %q", out.JobStatus)
		}
	}

	return nil, fmt.Errorf("detection still in progress after %d polls", e.cfg.PollMaxAttempts)
}

// collectAsync walks the continuation tokens of a finished job and joins
// all detected lines.
func (e *Extractor) collectAsync(ctx context.Context, providerJobID string, first *GetOutput) (*core.ExtractedText, error) {
	blocks := first.Blocks
	token := first.NextToken
	pages := 1
	for token != "" {
		out, err := e.textract.GetDocumentTextDetection(ctx, providerJobID, token)
		if err != nil {
			return nil, fmt.Errorf("fetching results page: %w", err)
		}
		blocks = append(blocks, out.Blocks...)
		token = out.NextToken
		pages++
	}

	text := LineText(blocks)
	if text == "" {
		return nil, ErrNoText
	}

	return &core.ExtractedText{
		Text: text,
		Raw:  first.Raw,
		Metadata: map[string]string{
			"strategy":     "async",
			"result_pages": strconv.Itoa(pages),
		},
	}, nil
}

// extractOffice converts word-processor, presentation and markup formats
// locally through docconv.
func (e *Extractor) extractOffice(ctx context.Context, job *models.Job) (*core.ExtractedText, error) {
	rc, err := e.obj.GetObjectReader(ctx, job.Bucket, job.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("fetching object: %w", err)
	}
	defer rc.Close()

	mimeType := normalizeContentType(job.ContentType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = docconv.MimeTypeByExtension(job.FileName)
	}

	res, err := docconv.Convert(rc, mimeType, mimeType == "text/html")
	if err != nil {
		return nil, fmt.Errorf("converting document: %w", err)
	}
	if strings.TrimSpace(res.Body) == "" {
		return nil, ErrNoText
	}

	text, truncated := truncateChars(res.Body, e.cfg.CharCap)
	if truncated {
		slog.Warn("converted text truncated at cap", "job_id", job.ID, "cap", e.cfg.CharCap)
	}

	return &core.ExtractedText{
		Text:     text,
		Metadata: map[string]string{"strategy": "office"},
	}, nil
}

type strategy int

const (
	strategyUnsupported strategy = iota
	strategyFlat
	strategyImage
	strategyAsync
	strategyOffice
)

var flatExts = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true,
	".tsv": true, ".log": true, ".json": true, ".yaml": true, ".yml": true,
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

var asyncExts = map[string]bool{".pdf": true, ".tif": true, ".tiff": true}

var officeExts = map[string]bool{
	".doc": true, ".docx": true, ".pptx": true, ".rtf": true,
	".odt": true, ".html": true, ".htm": true, ".pages": true,
}

var officeTypes = map[string]bool{
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/rtf": true,
	"text/rtf":        true,
	"application/vnd.oasis.opendocument.text": true,
	"text/html": true,
}

// resolveStrategy maps a job's content type and file name to a strategy.
// A flat-text extension always wins, so a delimited text file served
// with a generic or wrong MIME type is still read directly. Otherwise
// the declared MIME type decides, and the extension is the fallback for
// missing or generic types.
func resolveStrategy(contentType, fileName string) strategy {
	ext := strings.ToLower(filepath.Ext(fileName))
	if flatExts[ext] {
		return strategyFlat
	}

	ct := normalizeContentType(contentType)
	switch {
	case ct == "" || ct == "application/octet-stream":
		// fall through to the extension
	case ct == "application/pdf" || ct == "image/tiff":
		return strategyAsync
	case ct == "image/png" || ct == "image/jpeg" || ct == "image/jpg":
		return strategyImage
	case officeTypes[ct]:
		return strategyOffice
	case ct == "application/json" || ct == "application/xml" || strings.HasPrefix(ct, "text/"):
		return strategyFlat
	default:
		return strategyUnsupported
	}

	switch {
	case imageExts[ext]:
		return strategyImage
	case asyncExts[ext]:
		return strategyAsync
	case officeExts[ext]:
		return strategyOffice
	}
	return strategyUnsupported
}

func normalizeContentType(ct string) string {
	if ct == "" {
		return ""
	}
	parsed, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	}
	return parsed
}

// truncateChars cuts s to at most max characters (runes) and appends the
// truncation marker when it does.
func truncateChars(s string, max int) (string, bool) {
	if max <= 0 {
		return s, false
	}
	n := 0
	for idx := range s {
		if n == max {
			return s[:idx] + truncationMarker, true
		}
		n++
	}
	return s, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
