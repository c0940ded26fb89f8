package blobstore

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

// Gateway talks to an S3-compatible HTTP object gateway: PUT/GET
// {base}/{bucket}/{key} with bearer auth. Transient failures are retried
// in place; persistent failure surfaces to the caller, which may fall
// back to local storage.
type Gateway struct {
	base    string
	bucket  string
	authKey string
	client  *http.Client
}

var _ domain.BlobStore = (*Gateway)(nil)

// NewGateway builds a client for the given gateway endpoint and bucket.
func NewGateway(base, bucket, authKey string) *Gateway {
	return &Gateway{
		base:    strings.TrimRight(base, "/"),
		bucket:  bucket,
		authKey: authKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *Gateway) objectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", g.base, g.bucket, key)
}

func (g *Gateway) retryPolicy(ctx domain.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return backoff.WithContext(b, ctx)
}

// Put uploads the object. Idempotent per key: the gateway overwrites.
func (g *Gateway) Put(ctx domain.Context, key string, data []byte, contentType string) (domain.BlobRef, error) {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, g.objectURL(key), bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+g.authKey)
		req.Header.Set("Content-Type", contentType)
		resp, err := g.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("gateway put: status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("gateway put: status %d", resp.StatusCode))
		}
		return nil
	}
	if err := backoff.Retry(op, g.retryPolicy(ctx)); err != nil {
		return domain.BlobRef{}, fmt.Errorf("blobstore gateway put %s: %w", key, err)
	}
	return domain.BlobRef{Provider: "cloud", Key: key, URL: g.objectURL(key)}, nil
}

// Get downloads the object, or ErrNotFound on 404.
func (g *Gateway) Get(ctx domain.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.objectURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("blobstore gateway get: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.authKey)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blobstore gateway get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("blobstore gateway get %s: %w", key, domain.ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("blobstore gateway get %s: status %d", key, resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("blobstore gateway read: %w", err)
	}
	return b, nil
}
