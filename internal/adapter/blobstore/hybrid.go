package blobstore

import (
	"errors"
	"log/slog"

	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

// Hybrid writes to the cloud gateway as the authoritative copy and
// mirrors to local disk for inspection. When the cloud write fails the
// local copy becomes the reference and the provider is recorded as
// "local".
type Hybrid struct {
	cloud domain.BlobStore
	local domain.BlobStore
}

var _ domain.BlobStore = (*Hybrid)(nil)

// NewHybrid composes the two backends.
func NewHybrid(cloud, local domain.BlobStore) *Hybrid {
	return &Hybrid{cloud: cloud, local: local}
}

// Put stores in both backends; the cloud reference wins when available.
func (h *Hybrid) Put(ctx domain.Context, key string, data []byte, contentType string) (domain.BlobRef, error) {
	ref, cloudErr := h.cloud.Put(ctx, key, data, contentType)
	localRef, localErr := h.local.Put(ctx, key, data, contentType)
	if cloudErr == nil {
		if localErr != nil {
			slog.Warn("local blob mirror failed", slog.String("key", key), slog.Any("error", localErr))
		}
		return ref, nil
	}
	if localErr == nil {
		slog.Warn("cloud blob put failed, using local fallback",
			slog.String("key", key), slog.Any("error", cloudErr))
		return localRef, nil
	}
	return domain.BlobRef{}, errors.Join(cloudErr, localErr)
}

// Get prefers the authoritative cloud copy, falling back to the mirror.
func (h *Hybrid) Get(ctx domain.Context, key string) ([]byte, error) {
	b, err := h.cloud.Get(ctx, key)
	if err == nil {
		return b, nil
	}
	return h.local.Get(ctx, key)
}
