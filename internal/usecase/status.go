package usecase

import (
	"errors"
	"fmt"

	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

// StatusView is the polled job state: queue metadata merged with the
// stored result or the failure detail, whichever applies.
type StatusView struct {
	JobID    string            `json:"job_id"`
	Status   domain.JobStatus  `json:"status"`
	Stage    domain.Stage      `json:"stage,omitempty"`
	Progress int               `json:"progress"`
	Error    string            `json:"error,omitempty"`
	Result   *domain.OCRResult `json:"result,omitempty"`
}

// Status answers job status queries without contending for the lease.
type Status struct {
	queue   domain.Queue
	results domain.ResultStore
}

// NewStatus builds the status use case. results may be nil when no result
// store is configured; completed jobs then report metadata only.
func NewStatus(queue domain.Queue, results domain.ResultStore) *Status {
	return &Status{queue: queue, results: results}
}

// Get merges queue metadata with the stored result. Jobs whose queue
// metadata already expired still resolve through the result store.
func (s *Status) Get(ctx domain.Context, jobID string) (StatusView, error) {
	meta, err := s.queue.Meta(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		if s.results == nil {
			return StatusView{}, err
		}
		res, rerr := s.results.Get(ctx, jobID)
		if rerr != nil {
			return StatusView{}, fmt.Errorf("status for job %s: %w", jobID, domain.ErrNotFound)
		}
		return StatusView{
			JobID:    jobID,
			Status:   domain.JobCompleted,
			Stage:    domain.StageCompleted,
			Progress: domain.StageCompleted.Progress(),
			Result:   &res,
		}, nil
	}
	if err != nil {
		return StatusView{}, err
	}

	view := StatusView{
		JobID:    jobID,
		Status:   meta.Status,
		Stage:    meta.Stage,
		Progress: meta.Progress,
		Error:    meta.Error,
	}
	if meta.Status == domain.JobCompleted && s.results != nil {
		if res, err := s.results.Get(ctx, jobID); err == nil {
			view.Result = &res
		}
	}
	return view, nil
}
