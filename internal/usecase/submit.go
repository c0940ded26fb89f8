// Package usecase holds the application services: submission, status
// queries and the worker-side job processor. Use cases speak only to the
// domain ports; all wiring to concrete adapters happens in internal/app.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/siwakornc/invoice-ocr-service/internal/adapter/observability"
	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

// SubmitInput is the submission request body.
type SubmitInput struct {
	JobID      string `json:"job_id" validate:"omitempty,max=128"`
	ImageURL   string `json:"image_url" validate:"required,url,max=2048"`
	UserID     string `json:"user_id" validate:"omitempty,max=128"`
	MessageID  string `json:"message_id" validate:"omitempty,max=128"`
	WebhookURL string `json:"webhook_url" validate:"omitempty,url,max=2048"`
}

// Submitter accepts jobs onto the queue. Submission never blocks on
// processing: the endpoint answers as soon as the payload is durable.
type Submitter struct {
	queue    domain.Queue
	events   domain.EventPublisher
	validate *validator.Validate
}

// NewSubmitter builds the submission use case. events may be nil.
func NewSubmitter(queue domain.Queue, events domain.EventPublisher) *Submitter {
	return &Submitter{queue: queue, events: events, validate: validator.New()}
}

// Submit validates the request and enqueues the job once per job_id.
// A repeated job_id reports existed=true and leaves the first submission
// untouched.
func (s *Submitter) Submit(ctx domain.Context, in SubmitInput) (jobID string, existed bool, err error) {
	if err := s.validate.Struct(in); err != nil {
		var verr validator.ValidationErrors
		if errors.As(err, &verr) {
			return "", false, fmt.Errorf("submit validate: %w: %v", domain.ErrInvalidArgument, verr)
		}
		return "", false, fmt.Errorf("submit validate: %w", err)
	}
	if in.JobID == "" {
		in.JobID = uuid.NewString()
	}

	existed, err = s.queue.Enqueue(ctx, domain.JobPayload{
		JobID:      in.JobID,
		ImageURL:   in.ImageURL,
		UserID:     in.UserID,
		MessageID:  in.MessageID,
		WebhookURL: in.WebhookURL,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", false, fmt.Errorf("submit enqueue: %w", err)
	}
	log := observability.Logger(ctx).With(slog.String("job_id", in.JobID))
	if existed {
		log.Info("duplicate submission, existing job stands")
		return in.JobID, true, nil
	}

	observability.JobsEnqueuedTotal.Inc()
	log.Info("job enqueued", slog.String("user_id", in.UserID))
	if s.events != nil {
		if err := s.events.PublishJobEvent(ctx, "job.enqueued", in.JobID, map[string]any{
			"user_id": in.UserID,
		}); err != nil {
			log.Warn("lifecycle event publish failed", slog.Any("error", err))
		}
	}
	return in.JobID, false, nil
}
