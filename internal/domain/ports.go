package domain

import (
	"image"
	"time"
)

// Lease is an exclusive, time-bounded claim on a queued payload. If the
// holder neither completes nor releases it before the visibility timeout,
// the payload becomes re-dequeuable and its retry counter increments.
type Lease struct {
	Token      string
	Payload    JobPayload
	RetryCount int
	Deadline   time.Time
}

// Queue is the durable FIFO substrate. It is the only synchronization
// surface between the submission path and the workers.
type Queue interface {
	// Enqueue registers the payload at most once per job_id. It reports
	// existed=true when the fingerprint was already present, in which
	// case the existing record stands and nothing is enqueued.
	Enqueue(ctx Context, p JobPayload) (existed bool, err error)
	// Dequeue claims the oldest pending payload, or returns (nil, nil)
	// when the queue is empty.
	Dequeue(ctx Context) (*Lease, error)
	// Complete acknowledges the lease and discards the payload.
	Complete(ctx Context, l *Lease) error
	// Release returns the payload to the queue and increments its retry
	// counter. It reports exhausted=true when the redelivery budget is
	// spent and the payload was dead-lettered instead of requeued.
	Release(ctx Context, l *Lease) (exhausted bool, err error)
	// UpdateMeta applies a partial metadata update. Callers must hold
	// the lease for the job except during submission bootstrap.
	UpdateMeta(ctx Context, jobID string, patch MetaPatch) error
	// Meta reads job metadata without contending for the lease.
	Meta(ctx Context, jobID string) (JobMeta, error)
}

// Recognizer wraps an external text-detection engine. Implementations
// initialize lazily on first use and must be safe for sequential reuse.
type Recognizer interface {
	Extract(ctx Context, img image.Image, confidenceThreshold float64) ([]TextRegion, error)
}

// ResultStore persists completed-job results.
type ResultStore interface {
	// Store writes the record and returns its id. It fails with
	// ErrDuplicate when a record for the same job_id already exists.
	Store(ctx Context, r OCRResult) (string, error)
	// Get fetches by record id or job id.
	Get(ctx Context, idOrJobID string) (OCRResult, error)
	// Update applies a partial patch to the record.
	Update(ctx Context, id string, patch map[string]any) error
	QueryBySubmitter(ctx Context, userID string, limit int) ([]OCRResult, error)
	QueryByTimeRange(ctx Context, from, to time.Time, limit int) ([]OCRResult, error)
	Stats(ctx Context) (ResultStats, error)
}

// BlobStore stores the enhanced image and serves it back by key.
type BlobStore interface {
	// Put stores the bytes under key and returns a public reference.
	// Put is idempotent per key.
	Put(ctx Context, key string, data []byte, contentType string) (BlobRef, error)
	// Get fetches the bytes, or ErrNotFound.
	Get(ctx Context, key string) ([]byte, error)
}

// WebhookSender delivers a signed event payload to a callback URL with
// at-least-once semantics.
type WebhookSender interface {
	Deliver(ctx Context, url string, payload map[string]any) error
}

// EventPublisher emits job lifecycle events to an external stream. A nil
// or no-op publisher is valid when no brokers are configured.
type EventPublisher interface {
	PublishJobEvent(ctx Context, event, jobID string, fields map[string]any) error
}
