// Package domain holds the core entities, port interfaces and error
// sentinels shared by the use cases and adapters. It has no dependencies
// on any adapter or framework.
package domain

import (
	"context"
	"time"
)

// Context is aliased to keep signatures terse across the codebase.
type Context = context.Context

// JobStatus enumerates the lifecycle of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is sticky.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Stage enumerates the sequential processing stages of a job. A worker
// advances strictly forward through Stages; any stage may transition the
// job to failed but never backwards.
type Stage string

const (
	StageInitializing     Stage = "initializing"
	StageDownloading      Stage = "downloading"
	StagePreprocessing    Stage = "preprocessing"
	StageOCRExtraction    Stage = "ocr_extraction"
	StageFieldExtraction  Stage = "field_extraction"
	StagePreparingResults Stage = "preparing_results"
	StageStoringResults   Stage = "storing_results"
	StageSendingWebhook   Stage = "sending_webhook"
	StageCompleted        Stage = "completed"

	// StageQueue marks failures raised by the queue substrate itself
	// (redelivery budget exhausted), not by any worker stage.
	StageQueue Stage = "queue"
)

// Stages is the declared forward sequence.
var Stages = []Stage{
	StageInitializing,
	StageDownloading,
	StagePreprocessing,
	StageOCRExtraction,
	StageFieldExtraction,
	StagePreparingResults,
	StageStoringResults,
	StageSendingWebhook,
	StageCompleted,
}

// stageProgress maps each stage to its progress target for status polling.
var stageProgress = map[Stage]int{
	StageInitializing:     10,
	StageDownloading:      30,
	StagePreprocessing:    40,
	StageOCRExtraction:    60,
	StageFieldExtraction:  80,
	StagePreparingResults: 90,
	StageStoringResults:   95,
	StageSendingWebhook:   95,
	StageCompleted:        100,
}

// Progress returns the polling progress target for the stage.
func (s Stage) Progress() int {
	if p, ok := stageProgress[s]; ok {
		return p
	}
	return 0
}

// Index returns the position of the stage in the forward sequence, or -1.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// JobPayload is the durable message enqueued per submission. The job_id is
// the fingerprint: at most one live payload exists per job_id.
type JobPayload struct {
	JobID      string    `json:"job_id"`
	ImageURL   string    `json:"image_url"`
	UserID     string    `json:"user_id"`
	MessageID  string    `json:"message_id"`
	WebhookURL string    `json:"webhook_url"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// JobMeta is the mutable per-job metadata held by the queue substrate.
// Only the lease holder writes it; status queries read it lock-free.
type JobMeta struct {
	JobID        string
	Status       JobStatus
	Stage        Stage
	Progress     int
	RetryCount   int
	Error        string
	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
	ProcessingMS int64
}

// MetaPatch is a partial update to JobMeta; nil fields are left untouched.
type MetaPatch struct {
	Status       *JobStatus
	Stage        *Stage
	Progress     *int
	Error        *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ProcessingMS *int64
}

// BlobRef points at a stored blob. The public URL is durable for the
// lifetime of the blob; deleting the blob invalidates the reference.
type BlobRef struct {
	Provider string `json:"provider"`
	Key      string `json:"key"`
	URL      string `json:"url"`
}
