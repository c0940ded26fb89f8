package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

// TestResultsRepoIntegration exercises the repository against a real
// Postgres. Gated behind POSTGRES_INTEGRATION_TEST because it needs a
// container runtime.
func TestResultsRepoIntegration(t *testing.T) {
	if os.Getenv("POSTGRES_INTEGRATION_TEST") == "" {
		t.Skip("set POSTGRES_INTEGRATION_TEST=1 to run")
	}
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "ocr",
				"POSTGRES_PASSWORD": "ocr",
				"POSTGRES_DB":       "ocr_results",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://ocr:ocr@%s:%s/ocr_results?sslmode=disable", host, port.Port())
	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx))
	require.NoError(t, EnsureSchema(ctx, pool))

	repo := NewResultsRepo(pool)
	res := sampleResult()

	id, err := repo.Store(ctx, res)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = repo.Store(ctx, res)
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	byJob, err := repo.Get(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, id, byJob.ID)
	assert.Equal(t, res.FullText, byJob.FullText)
	assert.InDelta(t, res.OverallConfidence, byJob.OverallConfidence, 1e-9)

	byID, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, res.JobID, byID.JobID)

	require.NoError(t, repo.Update(ctx, id, map[string]any{"full_text": "patched"}))
	patched, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "patched", patched.FullText)

	list, err := repo.QueryBySubmitter(ctx, res.UserID, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Count)
	assert.Greater(t, stats.AvgConfidence, 0.0)
}
