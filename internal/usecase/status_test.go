package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

func TestStatusUnknownJob(t *testing.T) {
	s := NewStatus(newQueue(t), newMemStore())
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStatusQueuedJob(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, domain.JobPayload{JobID: "j-1", ImageURL: "https://a.example/i.jpg"})
	require.NoError(t, err)

	view, err := NewStatus(q, newMemStore()).Get(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, view.Status)
	assert.Equal(t, domain.StageInitializing, view.Stage)
	assert.Equal(t, 0, view.Progress)
	assert.Nil(t, view.Result)
}

func TestStatusCompletedAttachesResult(t *testing.T) {
	q := newQueue(t)
	store := newMemStore()
	ctx := context.Background()
	_, err := q.Enqueue(ctx, domain.JobPayload{JobID: "j-1", ImageURL: "https://a.example/i.jpg"})
	require.NoError(t, err)

	status := domain.JobCompleted
	stage := domain.StageCompleted
	progress := 100
	require.NoError(t, q.UpdateMeta(ctx, "j-1", domain.MetaPatch{
		Status: &status, Stage: &stage, Progress: &progress,
	}))
	_, err = store.Store(ctx, domain.OCRResult{JobID: "j-1", FullText: "done"})
	require.NoError(t, err)

	view, err := NewStatus(q, store).Get(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, view.Status)
	assert.Equal(t, 100, view.Progress)
	require.NotNil(t, view.Result)
	assert.Equal(t, "done", view.Result.FullText)
}

func TestStatusFallsBackToResultStore(t *testing.T) {
	// Queue metadata expired, but the stored result survives.
	store := newMemStore()
	ctx := context.Background()
	_, err := store.Store(ctx, domain.OCRResult{JobID: "j-old", FullText: "archived"})
	require.NoError(t, err)

	view, err := NewStatus(newQueue(t), store).Get(ctx, "j-old")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, view.Status)
	assert.Equal(t, 100, view.Progress)
	require.NotNil(t, view.Result)
	assert.Equal(t, "archived", view.Result.FullText)
}

func TestStatusFailedJobCarriesError(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, domain.JobPayload{JobID: "j-1", ImageURL: "https://a.example/i.jpg"})
	require.NoError(t, err)

	status := domain.JobFailed
	stage := domain.StagePreprocessing
	msg := "non-document image (score 0.180)"
	require.NoError(t, q.UpdateMeta(ctx, "j-1", domain.MetaPatch{
		Status: &status, Stage: &stage, Error: &msg,
	}))

	view, err := NewStatus(q, newMemStore()).Get(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, view.Status)
	assert.Equal(t, msg, view.Error)
	assert.Nil(t, view.Result)
}
