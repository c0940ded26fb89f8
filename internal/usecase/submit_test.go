package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siwakornc/invoice-ocr-service/internal/adapter/queue/redisq"
	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

func newQueue(t *testing.T) *redisq.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return redisq.New(rdb, 30*time.Second, 3)
}

func TestSubmitEnqueuesJob(t *testing.T) {
	q := newQueue(t)
	s := NewSubmitter(q, nil)
	ctx := context.Background()

	jobID, existed, err := s.Submit(ctx, SubmitInput{
		JobID:      "j-1",
		ImageURL:   "https://cdn.example.com/invoice.jpg",
		UserID:     "u-1",
		WebhookURL: "https://callback.example.com/hook",
	})
	require.NoError(t, err)
	assert.Equal(t, "j-1", jobID)
	assert.False(t, existed)

	lease, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "j-1", lease.Payload.JobID)
	assert.Equal(t, "https://cdn.example.com/invoice.jpg", lease.Payload.ImageURL)
	assert.False(t, lease.Payload.EnqueuedAt.IsZero())
}

func TestSubmitDuplicateJobID(t *testing.T) {
	q := newQueue(t)
	s := NewSubmitter(q, nil)
	ctx := context.Background()
	in := SubmitInput{JobID: "j-1", ImageURL: "https://cdn.example.com/a.jpg"}

	_, existed, err := s.Submit(ctx, in)
	require.NoError(t, err)
	assert.False(t, existed)

	jobID, existed, err := s.Submit(ctx, in)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "j-1", jobID)

	// Only the first submission is queued.
	lease, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, lease)
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestSubmitGeneratesJobID(t *testing.T) {
	s := NewSubmitter(newQueue(t), nil)

	jobID, existed, err := s.Submit(context.Background(), SubmitInput{
		ImageURL: "https://cdn.example.com/a.jpg",
	})
	require.NoError(t, err)
	assert.False(t, existed)
	assert.NotEmpty(t, jobID)
}

func TestSubmitValidation(t *testing.T) {
	s := NewSubmitter(newQueue(t), nil)
	tests := []struct {
		name string
		in   SubmitInput
	}{
		{"missing image url", SubmitInput{JobID: "j-1"}},
		{"malformed image url", SubmitInput{JobID: "j-1", ImageURL: "not a url"}},
		{"malformed webhook url", SubmitInput{JobID: "j-1", ImageURL: "https://a.example/i.jpg", WebhookURL: "::"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.Submit(context.Background(), tt.in)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
}
