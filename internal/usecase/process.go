package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/siwakornc/invoice-ocr-service/internal/adapter/blobstore"
	"github.com/siwakornc/invoice-ocr-service/internal/adapter/observability"
	"github.com/siwakornc/invoice-ocr-service/internal/adapter/recognizer"
	"github.com/siwakornc/invoice-ocr-service/internal/domain"
	"github.com/siwakornc/invoice-ocr-service/internal/extract"
	"github.com/siwakornc/invoice-ocr-service/internal/pipeline"
)

// ProcessorConfig tunes the per-job run.
type ProcessorConfig struct {
	ConfidenceThreshold float64
	JPEGQuality         int
	JobTimeout          time.Duration
	MaxDownloadBytes    int64
	Language            string
	Model               string
	DualPass            bool
}

// Processor runs one leased job end to end: download, pipeline, OCR,
// extraction, persistence, webhook. Safe for concurrent use; each Handle
// call is independent.
type Processor struct {
	queue      domain.Queue
	recognizer domain.Recognizer
	results    domain.ResultStore
	blobs      domain.BlobStore
	webhooks   domain.WebhookSender
	events     domain.EventPublisher
	pipe       *pipeline.Pipeline
	client     *http.Client
	cfg        ProcessorConfig
	now        func() time.Time
}

// NewProcessor wires the job processor. events may be nil.
func NewProcessor(
	queue domain.Queue,
	rec domain.Recognizer,
	results domain.ResultStore,
	blobs domain.BlobStore,
	webhooks domain.WebhookSender,
	events domain.EventPublisher,
	pipe *pipeline.Pipeline,
	cfg ProcessorConfig,
) *Processor {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 300 * time.Second
	}
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = 20 << 20
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 95
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.3
	}
	return &Processor{
		queue:      queue,
		recognizer: rec,
		results:    results,
		blobs:      blobs,
		webhooks:   webhooks,
		events:     events,
		pipe:       pipe,
		client: &http.Client{
			Timeout:   60 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cfg: cfg,
		now: time.Now,
	}
}

// Handle processes one leased payload. All outcomes are absorbed here:
// the job ends completed, failed, or back on the queue for another try.
func (p *Processor) Handle(ctx domain.Context, lease *domain.Lease) {
	jobID := lease.Payload.JobID
	start := p.now()
	log := observability.Logger(ctx).With(slog.String("job_id", jobID))
	ctx = observability.WithLogger(ctx, log)
	ctx, span := otel.Tracer("usecase").Start(ctx, "job.process",
		trace.WithAttributes(
			attribute.String("job_id", jobID),
			attribute.Int("retry_count", lease.RetryCount),
		))
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	res, stage, err := p.run(runCtx, lease, start)
	// Meta writes and lease settlement must survive job-timeout expiry.
	cleanup, cancelCleanup := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancelCleanup()
	if err != nil {
		p.fail(cleanup, lease, stage, err, start)
		return
	}
	p.finish(cleanup, lease, res, start)
}

// run walks the stage sequence. On error it reports the stage that broke.
func (p *Processor) run(ctx domain.Context, lease *domain.Lease, start time.Time) (*domain.OCRResult, domain.Stage, error) {
	payload := lease.Payload
	jobID := payload.JobID
	stage := domain.StageInitializing

	advance := func(next domain.Stage) error {
		stage = next
		status := domain.JobRunning
		progress := next.Progress()
		patch := domain.MetaPatch{Status: &status, Stage: &next, Progress: &progress}
		if next == domain.StageInitializing {
			t := start.UTC()
			patch.StartedAt = &t
		}
		return p.queue.UpdateMeta(ctx, jobID, patch)
	}

	if err := advance(domain.StageInitializing); err != nil {
		return nil, stage, err
	}

	if err := advance(domain.StageDownloading); err != nil {
		return nil, stage, err
	}
	raw, err := p.download(ctx, payload.ImageURL)
	if err != nil {
		return nil, stage, err
	}

	if err := advance(domain.StagePreprocessing); err != nil {
		return nil, stage, err
	}
	img, err := p.pipe.Decode(raw)
	if err != nil {
		return nil, stage, err
	}
	pres, err := p.pipe.Process(ctx, jobID, img)
	if err != nil {
		return nil, stage, err
	}

	if err := advance(domain.StageOCRExtraction); err != nil {
		return nil, stage, err
	}
	regions, err := p.recognizer.Extract(ctx, pres.Image, p.cfg.ConfidenceThreshold)
	if err != nil {
		return nil, stage, err
	}

	if err := advance(domain.StageFieldExtraction); err != nil {
		return nil, stage, err
	}
	fields := extract.Fields(regions)

	if err := advance(domain.StagePreparingResults); err != nil {
		return nil, stage, err
	}
	jpeg, err := pipeline.Encode(pres.Image, p.cfg.JPEGQuality)
	if err != nil {
		return nil, stage, err
	}
	ref, err := p.blobs.Put(ctx, blobstore.Key(jobID, "enhanced", "jpg"), jpeg, "image/jpeg")
	if err != nil {
		return nil, stage, err
	}

	stored := regions
	if len(stored) > domain.MaxStoredRegions {
		stored = stored[:domain.MaxStoredRegions]
	}
	res := domain.OCRResult{
		JobID:             jobID,
		UserID:            payload.UserID,
		MessageID:         payload.MessageID,
		FullText:          fullText(regions),
		Regions:           stored,
		OverallConfidence: recognizer.OverallConfidence(regions),
		Fields:            fields,
		EnhancedImage:     ref,
		Metadata: domain.ProcessingMetadata{
			OperationsApplied: pres.Applied,
			OperationsFailed:  pres.Failed,
			ProcessingQuality: pres.Quality,
			QualityBefore:     pres.QualityBefore,
			QualityAfter:      pres.QualityAfter,
			UsedOriginal:      pres.UsedOriginal,
			DualPass:          p.cfg.DualPass,
			DualPassImproved:  anyImproved(regions),
			DocumentScores:    pres.DocScores,
			Model:             p.cfg.Model,
			Language:          p.cfg.Language,
			ProcessingMS:      p.now().Sub(start).Milliseconds(),
		},
		CreatedAt: p.now().UTC(),
	}

	if err := advance(domain.StageStoringResults); err != nil {
		return nil, stage, err
	}
	id, err := p.results.Store(ctx, res)
	switch {
	case errors.Is(err, domain.ErrDuplicate):
		// Redelivered job whose first attempt got as far as storing: the
		// original record stands.
		if prev, gerr := p.results.Get(ctx, jobID); gerr == nil {
			res = prev
		}
		observability.Logger(ctx).Info("result already stored, keeping first record")
	case err != nil:
		return nil, stage, err
	default:
		res.ID = id
	}

	if err := advance(domain.StageSendingWebhook); err != nil {
		return nil, stage, err
	}
	if payload.WebhookURL != "" {
		seconds := p.now().Sub(start).Seconds()
		if err := p.webhooks.Deliver(ctx, payload.WebhookURL, completedPayload(payload, res, seconds)); err != nil {
			// The result is durable and the status endpoint reflects it;
			// an abandoned delivery does not fail the job.
			observability.Logger(ctx).Error("completion webhook abandoned", slog.Any("error", err))
		}
	}
	return &res, stage, nil
}

func (p *Processor) finish(ctx domain.Context, lease *domain.Lease, res *domain.OCRResult, start time.Time) {
	jobID := lease.Payload.JobID
	elapsed := p.now().Sub(start)
	status := domain.JobCompleted
	st := domain.StageCompleted
	progress := st.Progress()
	done := p.now().UTC()
	ms := elapsed.Milliseconds()
	if err := p.queue.UpdateMeta(ctx, jobID, domain.MetaPatch{
		Status: &status, Stage: &st, Progress: &progress, CompletedAt: &done, ProcessingMS: &ms,
	}); err != nil {
		observability.Logger(ctx).Error("completion meta write failed", slog.Any("error", err))
	}
	if err := p.queue.Complete(ctx, lease); err != nil {
		observability.Logger(ctx).Error("lease complete failed", slog.Any("error", err))
	}

	observability.JobsCompletedTotal.Inc()
	observability.JobProcessingDuration.Observe(elapsed.Seconds())
	observability.ResultConfidence.Observe(res.OverallConfidence)
	observability.Logger(ctx).Info("job completed",
		slog.String("job_id", jobID),
		slog.Duration("elapsed", elapsed),
		slog.Float64("confidence", res.OverallConfidence),
		slog.String("quality", res.Metadata.ProcessingQuality))

	p.publish(ctx, "job.completed", jobID, map[string]any{
		"user_id":            lease.Payload.UserID,
		"overall_confidence": res.OverallConfidence,
		"processing_ms":      ms,
	})
}

// permanentFailure reports errors no retry can fix.
func permanentFailure(err error) bool {
	return errors.Is(err, domain.ErrInvalidArgument) ||
		errors.Is(err, domain.ErrUndecodable) ||
		errors.Is(err, domain.ErrNonDocument)
}

func (p *Processor) fail(ctx domain.Context, lease *domain.Lease, stage domain.Stage, cause error, start time.Time) {
	jobID := lease.Payload.JobID
	log := observability.Logger(ctx).With(slog.String("job_id", jobID), slog.String("stage", string(stage)))

	if !permanentFailure(cause) {
		exhausted, err := p.queue.Release(ctx, lease)
		if err != nil {
			log.Error("lease release failed", slog.Any("error", err))
			return
		}
		if !exhausted {
			status := domain.JobQueued
			msg := cause.Error()
			if err := p.queue.UpdateMeta(ctx, jobID, domain.MetaPatch{Status: &status, Error: &msg}); err != nil {
				log.Error("requeue meta write failed", slog.Any("error", err))
			}
			log.Warn("transient failure, job requeued", slog.Any("error", cause))
			return
		}
		// Dead-lettered: redeliver already marked the job failed with
		// stage=queue; only the webhook and bookkeeping remain.
		log.Error("retry budget exhausted, job dead-lettered", slog.Any("error", cause))
		observability.JobsFailedTotal.WithLabelValues(string(domain.StageQueue)).Inc()
		p.sendFailed(ctx, lease.Payload, domain.StageQueue, domain.ErrExhausted, nil)
		p.publish(ctx, "job.failed", jobID, map[string]any{"stage": string(domain.StageQueue), "error": domain.ErrExhausted.Error()})
		return
	}

	status := domain.JobFailed
	msg := cause.Error()
	done := p.now().UTC()
	ms := p.now().Sub(start).Milliseconds()
	if err := p.queue.UpdateMeta(ctx, jobID, domain.MetaPatch{
		Status: &status, Stage: &stage, Error: &msg, CompletedAt: &done, ProcessingMS: &ms,
	}); err != nil {
		log.Error("failure meta write failed", slog.Any("error", err))
	}
	if err := p.queue.Complete(ctx, lease); err != nil {
		log.Error("lease complete failed", slog.Any("error", err))
	}

	var nde *pipeline.NonDocumentError
	var scores map[string]float64
	if errors.As(cause, &nde) {
		scores = nde.Scores
	}
	observability.JobsFailedTotal.WithLabelValues(string(stage)).Inc()
	log.Error("job failed", slog.Any("error", cause))
	p.sendFailed(ctx, lease.Payload, stage, cause, scores)
	p.publish(ctx, "job.failed", jobID, map[string]any{"stage": string(stage), "error": msg})
}

// HandleDead emits the terminal notifications for a job the lease reaper
// dead-lettered; the queue already marked it failed.
func (p *Processor) HandleDead(ctx domain.Context, payload domain.JobPayload) {
	observability.JobsFailedTotal.WithLabelValues(string(domain.StageQueue)).Inc()
	p.sendFailed(ctx, payload, domain.StageQueue, domain.ErrExhausted, nil)
	p.publish(ctx, "job.failed", payload.JobID, map[string]any{
		"stage": string(domain.StageQueue),
		"error": domain.ErrExhausted.Error(),
	})
}

func (p *Processor) sendFailed(ctx domain.Context, payload domain.JobPayload, stage domain.Stage, cause error, scores map[string]float64) {
	if payload.WebhookURL == "" {
		return
	}
	body := map[string]any{
		"event":      "job.failed",
		"job_id":     payload.JobID,
		"user_id":    payload.UserID,
		"message_id": payload.MessageID,
		"timestamp":  p.now().UTC().Format(time.RFC3339),
		"error":      cause.Error(),
		"stage":      string(stage),
	}
	if scores != nil {
		body["classification_details"] = scores
	}
	if err := p.webhooks.Deliver(ctx, payload.WebhookURL, body); err != nil {
		observability.Logger(ctx).Error("failure webhook abandoned",
			slog.String("job_id", payload.JobID), slog.Any("error", err))
	}
}

func (p *Processor) publish(ctx domain.Context, event, jobID string, fields map[string]any) {
	if p.events == nil {
		return
	}
	if err := p.events.PublishJobEvent(ctx, event, jobID, fields); err != nil {
		observability.Logger(ctx).Warn("lifecycle event publish failed",
			slog.String("event", event), slog.Any("error", err))
	}
}

// download fetches and sniffs the source image. Size and content-type
// violations are the submitter's fault, not retryable.
func (p *Processor) download(ctx domain.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("download request: %w: %v", domain.ErrInvalidArgument, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("download status %d: %w", resp.StatusCode, domain.ErrInvalidArgument)
	default:
		return nil, fmt.Errorf("download status %d: %w", resp.StatusCode, domain.ErrTransient)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download read: %w: %v", domain.ErrTransient, err)
	}
	if int64(len(raw)) > p.cfg.MaxDownloadBytes {
		return nil, fmt.Errorf("download exceeds %d bytes: %w", p.cfg.MaxDownloadBytes, domain.ErrInvalidArgument)
	}
	if mt := mimetype.Detect(raw); !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("download content type %s: %w", mt.String(), domain.ErrInvalidArgument)
	}
	return raw, nil
}

func fullText(regions []domain.TextRegion) string {
	var b strings.Builder
	for _, r := range regions {
		if !r.AboveThreshold {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(r.Text)
	}
	return b.String()
}

func anyImproved(regions []domain.TextRegion) bool {
	for _, r := range regions {
		if r.DualPassImproved {
			return true
		}
	}
	return false
}
