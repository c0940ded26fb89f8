package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/siwakornc/invoice-ocr-service/internal/adapter/queue/redisq"
	"github.com/siwakornc/invoice-ocr-service/internal/usecase"
)

const (
	pollMin        = 100 * time.Millisecond
	pollMax        = 2 * time.Second
	pollBackoff    = 1.5
	reaperInterval = 10 * time.Second
)

// RunWorker runs concurrency dequeue loops plus the lease reaper until
// ctx is cancelled. Each loop handles one job at a time; the CPU-bound
// pipeline stages run on the loop goroutine.
func RunWorker(ctx context.Context, q *redisq.Queue, proc *usecase.Processor, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		q.StartReaper(ctx, reaperInterval, func(ctx context.Context, jobID string) {
			payload, err := q.Payload(ctx, jobID)
			if err != nil {
				slog.Error("dead-lettered job payload unavailable",
					slog.String("job_id", jobID), slog.Any("error", err))
				return
			}
			proc.HandleDead(ctx, payload)
		})
		return nil
	})

	for i := 0; i < concurrency; i++ {
		worker := i
		g.Go(func() error {
			log := slog.Default().With(slog.Int("worker", worker))
			log.Info("worker loop started")
			poller := redisq.NewAdaptivePoller(pollMin, pollMax, pollBackoff)
			for {
				lease, err := q.Dequeue(ctx)
				switch {
				case ctx.Err() != nil:
					log.Info("worker loop stopped")
					return nil
				case err != nil:
					log.Error("dequeue failed", slog.Any("error", err))
					poller.Miss()
				case lease == nil:
					poller.Miss()
				default:
					poller.Hit()
					proc.Handle(ctx, lease)
					continue
				}
				select {
				case <-ctx.Done():
					log.Info("worker loop stopped")
					return nil
				case <-time.After(poller.Interval()):
				}
			}
		})
	}
	return g.Wait()
}
