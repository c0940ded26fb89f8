package redisq

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

// ReapExpired requeues every payload whose lease deadline has passed.
// A crashed or stalled worker is indistinguishable from a slow one, so the
// visibility timeout is the sole recovery trigger. It returns the job ids
// that were dead-lettered this sweep so the caller can emit their
// job.failed webhooks.
func (q *Queue) ReapExpired(ctx domain.Context) ([]string, error) {
	now := q.now().UnixMilli()
	expired, err := q.rdb.ZRangeByScore(ctx, keyLeases, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("queue reap: %w: %v", domain.ErrQueueUnavailable, err)
	}

	var dead []string
	for _, jobID := range expired {
		q.rdb.Del(ctx, keyLease+jobID)
		exhausted, err := q.redeliver(ctx, jobID)
		if err != nil {
			return dead, err
		}
		if exhausted {
			dead = append(dead, jobID)
		} else {
			slog.Info("lease expired, payload requeued", slog.String("job_id", jobID))
		}
	}
	return dead, nil
}

// StartReaper runs ReapExpired on a ticker until ctx is cancelled.
// onDead, if non-nil, is invoked for every dead-lettered job id.
func (q *Queue) StartReaper(ctx domain.Context, interval time.Duration, onDead func(domain.Context, string)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			dead, err := q.ReapExpired(ctx)
			if err != nil {
				slog.Error("lease reaper sweep failed", slog.Any("error", err))
				continue
			}
			if onDead != nil {
				for _, jobID := range dead {
					onDead(ctx, jobID)
				}
			}
		}
	}
}
