package objectclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	cfg "github.com/markdave123-py/Indexa/internal/config"
	"github.com/markdave123-py/Indexa/internal/core"
	"github.com/markdave123-py/Indexa/internal/core/signer"
)

type S3Client struct {
	httpClient *http.Client
	signer     *signer.Signer
	region     string
	bucket     string

	// endpoint overrides the AWS virtual-hosted URL scheme, for
	// S3-compatible stores. Requests then go path-style.
	endpoint string
}

func NewS3Client(cfg *cfg.Config) (core.ObjectClient, error) {
	if cfg.AwsAccessKey == "" || cfg.AwsSecretKey == "" {
		return nil, fmt.Errorf("AWS credentials not set")
	}
	if cfg.AwsRegion == "" {
		return nil, fmt.Errorf("AWS_REGION not set")
	}
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("S3 bucket name not set")
	}

	sg := signer.New(signer.Credentials{
		AccessKey:    cfg.AwsAccessKey,
		SecretKey:    cfg.AwsSecretKey,
		SessionToken: cfg.AwsSession,
	}, cfg.AwsRegion)

	log.Println("S3 object client ready")

	return &S3Client{
		httpClient: &http.Client{},
		signer:     sg,
		region:     cfg.AwsRegion,
		bucket:     cfg.BucketName,
		endpoint:   cfg.S3Endpoint,
	}, nil
}

// objectURL builds the request URL for one object. AWS buckets are
// addressed virtual-hosted style; a custom endpoint switches to path style.
func (c *S3Client) objectURL(bucket, key string) *url.URL {
	if c.endpoint != "" {
		u, err := url.Parse(c.endpoint)
		if err != nil || u.Host == "" {
			u = &url.URL{Scheme: "https", Host: c.endpoint}
		}
		u.Path = "/" + bucket + "/" + key
		return u
	}
	return &url.URL{
		Scheme: "https",
		Host:   fmt.Sprintf("%s.s3.%s.amazonaws.com", bucket, c.region),
		Path:   "/" + key,
	}
}

// UploadFile uploads a file to S3 and returns the public URL.
func (c *S3Client) UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	ctxUpload, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	u := c.objectURL(bucket, key)
	req, err := http.NewRequestWithContext(ctxUpload, http.MethodPut, u.String(), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.signer.Sign(req, signer.HashPayload(data), "s3")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("s3 upload failed: %s", responseError(resp))
	}

	return u.String(), nil
}

func (c *S3Client) DeleteFile(ctx context.Context, bucket, key string) error {
	ctxDel, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxDel, http.MethodDelete, c.objectURL(bucket, key).String(), nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	c.signer.Sign(req, signer.EmptyPayloadHash, "s3")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("s3 delete failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("s3 delete failed: %s", responseError(resp))
	}
	return nil
}

func (c *S3Client) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	ctxGet, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := c.get(ctxGet, bucket, key)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

// GetObjectReader streams the object. The body stays tied to the caller's
// context, so no inner deadline is set here.
func (c *S3Client) GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	resp, err := c.get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *S3Client) get(ctx context.Context, bucket, key string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(bucket, key).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build get request: %w", err)
	}
	c.signer.Sign(req, signer.EmptyPayloadHash, "s3")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("s3 get failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("s3 get failed: %s", responseError(resp))
	}
	return resp, nil
}

// PresignGet returns a download URL that stays valid for expires.
func (c *S3Client) PresignGet(_ context.Context, bucket, key string, expires time.Duration) (string, error) {
	req, err := http.NewRequest(http.MethodGet, c.objectURL(bucket, key).String(), nil)
	if err != nil {
		return "", fmt.Errorf("build presign request: %w", err)
	}
	return c.signer.Presign(req, "s3", expires), nil
}

// responseError summarizes a non-2xx S3 response, keeping the first part
// of the XML body for the error code and message.
func responseError(resp *http.Response) string {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	body := strings.TrimSpace(string(snippet))
	if body == "" {
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", resp.StatusCode, body)
}
