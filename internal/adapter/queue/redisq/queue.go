// Package redisq implements the durable job queue on Redis: FIFO delivery,
// visibility-timeout leases, a per-job retry counter and a job metadata
// hash readable without the lease.
package redisq

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/siwakornc/invoice-ocr-service/internal/adapter/observability"
	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

const (
	keyPending     = "ocr:queue:pending"
	keyProcessing  = "ocr:queue:processing"
	keyLeases      = "ocr:queue:leases"
	keyDead        = "ocr:queue:dead"
	keyFingerprint = "ocr:fp:"
	keyPayload     = "ocr:payload:"
	keyMeta        = "ocr:job:"
	keyLease       = "ocr:lease:"

	// fingerprintTTL bounds how long a job_id stays deduplicated after
	// the job reaches a terminal state.
	fingerprintTTL = 24 * time.Hour
)

// Queue is the Redis-backed implementation of domain.Queue.
type Queue struct {
	rdb        *redis.Client
	visibility time.Duration
	maxRetries int
	now        func() time.Time
}

var _ domain.Queue = (*Queue)(nil)

// New builds a Queue. visibility bounds how long a dequeued payload stays
// invisible; maxRetries bounds redeliveries before dead-lettering.
func New(rdb *redis.Client, visibility time.Duration, maxRetries int) *Queue {
	return &Queue{rdb: rdb, visibility: visibility, maxRetries: maxRetries, now: time.Now}
}

// Ping reports backend reachability for readiness probes.
func (q *Queue) Ping(ctx domain.Context) error {
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queue ping: %w: %v", domain.ErrQueueUnavailable, err)
	}
	return nil
}

// Enqueue registers the payload at most once per job_id via the
// fingerprint key. A second call with the same job_id reports existed=true
// and leaves the first record untouched.
func (q *Queue) Enqueue(ctx domain.Context, p domain.JobPayload) (bool, error) {
	ctx, span := otel.Tracer("redisq").Start(ctx, "queue.enqueue")
	defer span.End()

	set, err := q.rdb.SetNX(ctx, keyFingerprint+p.JobID, "1", fingerprintTTL).Result()
	if err != nil {
		return false, fmt.Errorf("queue enqueue: %w: %v", domain.ErrQueueUnavailable, err)
	}
	if !set {
		return true, nil
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("queue enqueue marshal: %w", err)
	}
	now := q.now().UTC()
	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, keyPayload+p.JobID, raw, 0)
	pipe.HSet(ctx, keyMeta+p.JobID, map[string]any{
		"status":      string(domain.JobQueued),
		"stage":       string(domain.StageInitializing),
		"progress":    0,
		"retry_count": 0,
		"created_at":  now.Format(time.RFC3339Nano),
	})
	pipe.LPush(ctx, keyPending, p.JobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("queue enqueue: %w: %v", domain.ErrQueueUnavailable, err)
	}
	return false, nil
}

// Dequeue claims the oldest pending payload. Returns (nil, nil) when the
// queue is empty.
func (q *Queue) Dequeue(ctx domain.Context) (*domain.Lease, error) {
	jobID, err := q.rdb.LMove(ctx, keyPending, keyProcessing, "RIGHT", "LEFT").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue dequeue: %w: %v", domain.ErrQueueUnavailable, err)
	}

	raw, err := q.rdb.Get(ctx, keyPayload+jobID).Result()
	if err != nil {
		// Payload vanished (dead-lettered while pending); drop the id.
		q.rdb.LRem(ctx, keyProcessing, 1, jobID)
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue dequeue payload: %w: %v", domain.ErrQueueUnavailable, err)
	}
	var p domain.JobPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		q.rdb.LRem(ctx, keyProcessing, 1, jobID)
		return nil, fmt.Errorf("queue dequeue unmarshal: %w", err)
	}

	token := uuid.NewString()
	deadline := q.now().Add(q.visibility)
	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, keyLease+jobID, token, q.visibility)
	pipe.ZAdd(ctx, keyLeases, redis.Z{Score: float64(deadline.UnixMilli()), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue dequeue lease: %w: %v", domain.ErrQueueUnavailable, err)
	}

	retry, _ := q.rdb.HGet(ctx, keyMeta+jobID, "retry_count").Int()
	return &domain.Lease{Token: token, Payload: p, RetryCount: retry, Deadline: deadline}, nil
}

// Complete acknowledges the lease and discards the payload. The
// fingerprint stays behind (with its TTL) so a completed job_id is not
// re-enqueuable immediately.
func (q *Queue) Complete(ctx domain.Context, l *domain.Lease) error {
	jobID := l.Payload.JobID
	if err := q.checkLease(ctx, jobID, l.Token); err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, keyProcessing, 1, jobID)
	pipe.ZRem(ctx, keyLeases, jobID)
	pipe.Del(ctx, keyLease+jobID, keyPayload+jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue complete: %w: %v", domain.ErrQueueUnavailable, err)
	}
	return nil
}

// Release returns the payload to the pending queue and increments its
// retry counter. Past maxRetries the payload is dead-lettered and the job
// marked failed with kind Exhausted; the caller owes the job.failed
// webhook in that case.
func (q *Queue) Release(ctx domain.Context, l *domain.Lease) (bool, error) {
	jobID := l.Payload.JobID
	if err := q.checkLease(ctx, jobID, l.Token); err != nil {
		return false, err
	}
	q.rdb.Del(ctx, keyLease+jobID)
	return q.redeliver(ctx, jobID)
}

// redeliver moves jobID out of processing and either requeues or
// dead-letters it. Shared by Release and the reaper.
func (q *Queue) redeliver(ctx domain.Context, jobID string) (bool, error) {
	retries, err := q.rdb.HIncrBy(ctx, keyMeta+jobID, "retry_count", 1).Result()
	if err != nil {
		return false, fmt.Errorf("queue redeliver: %w: %v", domain.ErrQueueUnavailable, err)
	}
	observability.QueueRetriesTotal.Inc()

	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, keyProcessing, 1, jobID)
	pipe.ZRem(ctx, keyLeases, jobID)
	if int(retries) > q.maxRetries {
		now := q.now().UTC()
		pipe.LPush(ctx, keyDead, jobID)
		pipe.HSet(ctx, keyMeta+jobID, map[string]any{
			"status":       string(domain.JobFailed),
			"stage":        string(domain.StageQueue),
			"error":        domain.ErrExhausted.Error(),
			"completed_at": now.Format(time.RFC3339Nano),
		})
		if _, err := pipe.Exec(ctx); err != nil {
			return false, fmt.Errorf("queue dead-letter: %w: %v", domain.ErrQueueUnavailable, err)
		}
		slog.Warn("job dead-lettered", slog.String("job_id", jobID), slog.Int64("retries", retries))
		return true, nil
	}
	pipe.LPush(ctx, keyPending, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("queue requeue: %w: %v", domain.ErrQueueUnavailable, err)
	}
	return false, nil
}

// Payload returns the stored payload for jobID without claiming it. The
// reaper uses it to address the job.failed webhook for dead-lettered jobs.
func (q *Queue) Payload(ctx domain.Context, jobID string) (domain.JobPayload, error) {
	raw, err := q.rdb.Get(ctx, keyPayload+jobID).Result()
	if errors.Is(err, redis.Nil) {
		return domain.JobPayload{}, fmt.Errorf("queue payload for job %s: %w", jobID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.JobPayload{}, fmt.Errorf("queue payload: %w: %v", domain.ErrQueueUnavailable, err)
	}
	var p domain.JobPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.JobPayload{}, fmt.Errorf("queue payload unmarshal: %w", err)
	}
	return p, nil
}

func (q *Queue) checkLease(ctx domain.Context, jobID, token string) error {
	cur, err := q.rdb.Get(ctx, keyLease+jobID).Result()
	if errors.Is(err, redis.Nil) || (err == nil && cur != token) {
		return fmt.Errorf("queue lease lost for job %s: %w", jobID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("queue lease check: %w: %v", domain.ErrQueueUnavailable, err)
	}
	return nil
}

// UpdateMeta applies a partial metadata update to the job hash.
func (q *Queue) UpdateMeta(ctx domain.Context, jobID string, patch domain.MetaPatch) error {
	fields := map[string]any{}
	if patch.Status != nil {
		fields["status"] = string(*patch.Status)
	}
	if patch.Stage != nil {
		fields["stage"] = string(*patch.Stage)
	}
	if patch.Progress != nil {
		fields["progress"] = *patch.Progress
	}
	if patch.Error != nil {
		fields["error"] = *patch.Error
	}
	if patch.StartedAt != nil {
		fields["started_at"] = patch.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if patch.CompletedAt != nil {
		fields["completed_at"] = patch.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	if patch.ProcessingMS != nil {
		fields["processing_ms"] = *patch.ProcessingMS
	}
	if len(fields) == 0 {
		return nil
	}
	if err := q.rdb.HSet(ctx, keyMeta+jobID, fields).Err(); err != nil {
		return fmt.Errorf("queue update meta: %w: %v", domain.ErrQueueUnavailable, err)
	}
	return nil
}

// Meta reads the job hash without taking the lease. ErrNotFound when the
// job_id is unknown.
func (q *Queue) Meta(ctx domain.Context, jobID string) (domain.JobMeta, error) {
	m, err := q.rdb.HGetAll(ctx, keyMeta+jobID).Result()
	if err != nil {
		return domain.JobMeta{}, fmt.Errorf("queue meta: %w: %v", domain.ErrQueueUnavailable, err)
	}
	if len(m) == 0 {
		return domain.JobMeta{}, fmt.Errorf("queue meta for job %s: %w", jobID, domain.ErrNotFound)
	}
	meta := domain.JobMeta{
		JobID:  jobID,
		Status: domain.JobStatus(m["status"]),
		Stage:  domain.Stage(m["stage"]),
		Error:  m["error"],
	}
	meta.Progress, _ = strconv.Atoi(m["progress"])
	meta.RetryCount, _ = strconv.Atoi(m["retry_count"])
	meta.ProcessingMS, _ = strconv.ParseInt(m["processing_ms"], 10, 64)
	meta.CreatedAt = parseTime(m["created_at"])
	meta.StartedAt = parseTime(m["started_at"])
	meta.CompletedAt = parseTime(m["completed_at"])
	return meta, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
