package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/markdave123-py/Indexa/internal/config"
	"github.com/markdave123-py/Indexa/internal/core"
	"github.com/markdave123-py/Indexa/internal/core/retry"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "text-embedding-3-small"

	defaultBatchSize  = 100
	defaultMaxRetries = 3

	// batchTimeout bounds a single embeddings call. The caller's context
	// still bounds the run as a whole.
	batchTimeout = 20 * time.Second

	// interBatchDelay spaces out consecutive batches.
	interBatchDelay = 100 * time.Millisecond

	defaultRetryDelay = 500 * time.Millisecond
)

// OpenAIEmbedder turns chunk texts into vectors through an
// OpenAI-compatible embeddings endpoint. Batches are issued one at a
// time to stay inside provider rate limits.
type OpenAIEmbedder struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int

	batchSize  int
	maxRetries int
	retryDelay time.Duration
}

func NewOpenAIEmbedder(cfg *config.Config) (*OpenAIEmbedder, error) {
	apiKey := cfg.EmbedAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("embedding API key is not set")
	}

	baseURL := strings.TrimRight(cfg.EmbedBaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.EmbedModel
	if model == "" {
		model = defaultModel
	}
	batchSize := cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	maxRetries := cfg.EmbedMaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return &OpenAIEmbedder{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		dimensions: cfg.EmbedDim,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		retryDelay: defaultRetryDelay,
	}, nil
}

// embeddingsRequest is the JSON body for POST /embeddings. Dimensions
// pins the vector width to the index column regardless of the model's
// native size.
type embeddingsRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []embeddingData `json:"data"`
}

// embeddingData is one vector plus its position in the request input.
type embeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// EmbedTexts converts texts to vectors in fixed-size batches. The
// result holds exactly one vector per input text, in input order, or
// the whole call fails.
func (o *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += o.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("embedded %d/%d texts before deadline: %w", len(out), len(texts), err)
		}

		end := start + o.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		var vectors [][]float32
		err := retry.WithBackoff(ctx, func() error {
			var callErr error
			vectors, callErr = o.embedBatch(ctx, batch)
			return callErr
		}, o.maxRetries, o.retryDelay)
		if err != nil {
			return nil, fmt.Errorf("embed batch starting at %d: %w", start, err)
		}
		out = append(out, vectors...)

		if end < len(texts) {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("embedded %d/%d texts before deadline: %w", len(out), len(texts), ctx.Err())
			case <-time.After(interBatchDelay):
			}
		}
	}
	return out, nil
}

// embedBatch performs one embeddings call and reorders the result by
// the provider-reported index.
func (o *OpenAIEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()

	payload, err := json.Marshal(embeddingsRequest{Model: o.model, Input: batch, Dimensions: o.dimensions})
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("encoding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp)
	}

	var decoded embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if len(decoded.Data) != len(batch) {
		return nil, retry.Permanent(fmt.Errorf("got %d vectors for %d inputs", len(decoded.Data), len(batch)))
	}
	vectors := make([][]float32, len(batch))
	for _, d := range decoded.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, retry.Permanent(fmt.Errorf("vector index %d out of range for batch of %d", d.Index, len(batch)))
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, retry.Permanent(fmt.Errorf("no vector returned for input %d", i))
		}
	}
	return vectors, nil
}

// classifyStatus maps a non-200 reply onto the retry taxonomy: 429
// carries the server's requested wait when one is given, other 4xx are
// permanent, everything else stays retryable.
func classifyStatus(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if wait, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return retry.After(err, wait)
		}
		return err
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.Permanent(err)
	default:
		return err
	}
}

// parseRetryAfter reads a Retry-After value given either as integer
// seconds or as an HTTP date.
func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		wait := time.Until(t)
		if wait < 0 {
			wait = 0
		}
		return wait, true
	}
	return 0, false
}

var _ core.EmbeddingProvider = (*OpenAIEmbedder)(nil)
