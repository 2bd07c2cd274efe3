// Package extraction pulls plain text out of uploaded documents. A
// strategy picked from the content type either reads the object directly
// (flat text, office formats) or drives the OCR provider's synchronous
// and asynchronous detection APIs.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/markdave123-py/Indexa/internal/core/signer"
)

const textractService = "textract"

// TextractClient speaks the OCR provider's JSON 1.1 RPC protocol. Every
// request is a signed POST to the regional endpoint with the operation
// named in the target header.
type TextractClient struct {
	httpClient *http.Client
	signer     *signer.Signer
	endpoint   string
}

// NewTextractClient builds a client for one region. A non-empty endpoint
// overrides the AWS URL, for tests and compatible gateways.
func NewTextractClient(sg *signer.Signer, region, endpoint string) *TextractClient {
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://textract.%s.amazonaws.com/", region)
	}
	return &TextractClient{
		httpClient: &http.Client{},
		signer:     sg,
		endpoint:   endpoint,
	}
}

// Block is one detected element of the analyzed document. Only LINE
// blocks carry the text this pipeline keeps.
type Block struct {
	BlockType string `json:"BlockType"`
	Text      string `json:"Text,omitempty"`
	Page      int    `json:"Page,omitempty"`
}

// documentInput references the bytes to analyze, inline or in S3.
type documentInput struct {
	Bytes    []byte    `json:"Bytes,omitempty"`
	S3Object *s3Object `json:"S3Object,omitempty"`
}

type s3Object struct {
	Bucket string `json:"Bucket"`
	Name   string `json:"Name"`
}

// detectRequest is the JSON body for DetectDocumentText.
type detectRequest struct {
	Document documentInput `json:"Document"`
}

// DetectOutput is the provider response for one synchronous detection.
type DetectOutput struct {
	Blocks []Block `json:"Blocks"`
	Raw    []byte  `json:"-"`
}

// DetectDocumentText runs synchronous detection over an inline document,
// for single images small enough to send in the request body.
func (c *TextractClient) DetectDocumentText(ctx context.Context, document []byte) (*DetectOutput, error) {
	var out DetectOutput
	raw, err := c.do(ctx, "Textract.DetectDocumentText", detectRequest{
		Document: documentInput{Bytes: document},
	}, &out)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return &out, nil
}

// startRequest is the JSON body for StartDocumentTextDetection.
type startRequest struct {
	DocumentLocation documentInput `json:"DocumentLocation"`
}

type startResponse struct {
	JobID string `json:"JobId"`
}

// StartDocumentTextDetection submits an asynchronous detection job over
// an object already in storage and returns the provider job ID.
func (c *TextractClient) StartDocumentTextDetection(ctx context.Context, bucket, key string) (string, error) {
	var out startResponse
	_, err := c.do(ctx, "Textract.StartDocumentTextDetection", startRequest{
		DocumentLocation: documentInput{S3Object: &s3Object{Bucket: bucket, Name: key}},
	}, &out)
	if err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", fmt.Errorf("start detection: provider returned no job id")
	}
	return out.JobID, nil
}

// getRequest is the JSON body for GetDocumentTextDetection.
type getRequest struct {
	JobID     string `json:"JobId"`
	NextToken string `json:"NextToken,omitempty"`
}

// GetOutput is one page of an asynchronous job's results.
type GetOutput struct {
	JobStatus     string  `json:"JobStatus"`
	StatusMessage string  `json:"StatusMessage,omitempty"`
	Blocks        []Block `json:"Blocks"`
	NextToken     string  `json:"NextToken,omitempty"`
	Raw           []byte  `json:"-"`
}

// Async job statuses reported by the provider.
const (
	JobStatusInProgress     = "IN_PROGRESS"
	JobStatusSucceeded      = "SUCCEEDED"
	JobStatusPartialSuccess = "PARTIAL_SUCCESS"
	JobStatusFailed         = "FAILED"
)

// GetDocumentTextDetection fetches one page of results for an async job.
// Pass the previous page's continuation token to advance, empty to start.
func (c *TextractClient) GetDocumentTextDetection(ctx context.Context, jobID, nextToken string) (*GetOutput, error) {
	var out GetOutput
	raw, err := c.do(ctx, "Textract.GetDocumentTextDetection", getRequest{
		JobID:     jobID,
		NextToken: nextToken,
	}, &out)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return &out, nil
}

// apiError mirrors the provider's JSON error shape.
type apiError struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
	// Some operations capitalize the field.
	MessageAlt string `json:"Message"`
}

func (e *apiError) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.MessageAlt
}

// do issues one signed RPC call and decodes the response into out,
// returning the raw response bytes as received.
func (c *TextractClient) do(ctx context.Context, target string, in, out any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", target, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", target, err)
	}
	req.Header.Set("Content-Type", "application/x-amz-json-1.1")
	req.Header.Set("X-Amz-Target", target)
	c.signer.Sign(req, signer.HashPayload(body), textractService)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", target, err)
	}

	if resp.StatusCode != http.StatusOK {
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && (ae.Type != "" || ae.text() != "") {
			return nil, fmt.Errorf("%s: %s (status %d): %s",
				target, strings.TrimPrefix(ae.Type, "com.amazonaws.textract#"), resp.StatusCode, ae.text())
		}
		return nil, fmt.Errorf("%s: unexpected status %d", target, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", target, err)
	}
	return raw, nil
}

// LineText joins the text of all LINE blocks in response order, one line
// per row, matching the provider's row-major reading order.
func LineText(blocks []Block) string {
	var lines []string
	for _, b := range blocks {
		if b.BlockType == "LINE" && b.Text != "" {
			lines = append(lines, b.Text)
		}
	}
	return strings.Join(lines, "\n")
}
