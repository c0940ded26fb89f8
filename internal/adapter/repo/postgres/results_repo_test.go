package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

// fakePool records the statements it sees and plays back canned rows.
type fakePool struct {
	execSQL  []string
	execArgs [][]any
	execErr  error
	execTag  pgconn.CommandTag

	rows    *fakeRows
	rowErr  error
	scanRow rowScanner
}

func (f *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	return f.execTag, f.execErr
}

func (f *fakePool) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return f.rows, nil
}

func (f *fakePool) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	if f.scanRow != nil {
		return fakeRow{f.scanRow}
	}
	return fakeRow{errScanner{f.rowErr}}
}

func (f *fakePool) Ping(context.Context) error { return nil }

type fakeRow struct{ s rowScanner }

func (r fakeRow) Scan(dest ...any) error { return r.s.Scan(dest...) }

type errScanner struct{ err error }

func (e errScanner) Scan(...any) error { return e.err }

// resultScanner plays one OCRResult into scanResult's dest layout.
type resultScanner struct{ res domain.OCRResult }

func (s resultScanner) Scan(dest ...any) error {
	regions, _ := json.Marshal(s.res.Regions)
	fields, _ := json.Marshal(s.res.Fields)
	blob, _ := json.Marshal(s.res.EnhancedImage)
	meta, _ := json.Marshal(s.res.Metadata)
	*dest[0].(*string) = s.res.ID
	*dest[1].(*string) = s.res.JobID
	*dest[2].(*string) = s.res.UserID
	*dest[3].(*string) = s.res.MessageID
	*dest[4].(*string) = s.res.FullText
	*dest[5].(*[]byte) = regions
	*dest[6].(*float64) = s.res.OverallConfidence
	*dest[7].(*[]byte) = fields
	*dest[8].(*[]byte) = blob
	*dest[9].(*[]byte) = meta
	*dest[10].(*time.Time) = s.res.CreatedAt
	return nil
}

type fakeRows struct {
	results []domain.OCRResult
	idx     int
}

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.results) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return resultScanner{r.results[r.idx-1]}.Scan(dest...)
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func sampleResult() domain.OCRResult {
	return domain.OCRResult{
		JobID:             "job-1",
		UserID:            "u-1",
		MessageID:         "m-1",
		FullText:          "ร้านอาหารดีใจ รวมทั้งสิ้น 245.50",
		Regions:           []domain.TextRegion{{Text: "ร้านอาหารดีใจ", Confidence: 0.9, AboveThreshold: true}},
		OverallConfidence: 0.87,
		EnhancedImage:     domain.BlobRef{Provider: "local", Key: "enhanced-images/x.jpg"},
		Metadata:          domain.ProcessingMetadata{ProcessingQuality: "good", ProcessingMS: 1200},
		CreatedAt:         time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
	}
}

func TestStoreAssignsIDAndInserts(t *testing.T) {
	pool := &fakePool{}
	repo := NewResultsRepo(pool)

	id, err := repo.Store(context.Background(), sampleResult())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, pool.execArgs, 1)
	assert.Equal(t, id, pool.execArgs[0][0])
	assert.Equal(t, "job-1", pool.execArgs[0][1])
	assert.JSONEq(t, `[{"box":[{"x":0,"y":0},{"x":0,"y":0},{"x":0,"y":0},{"x":0,"y":0}],"text":"ร้านอาหารดีใจ","confidence":0.9,"script":"","above_threshold":true}]`,
		string(pool.execArgs[0][5].([]byte)))
}

func TestStoreMapsUniqueViolation(t *testing.T) {
	pool := &fakePool{execErr: &pgconn.PgError{Code: "23505"}}
	repo := NewResultsRepo(pool)

	_, err := repo.Store(context.Background(), sampleResult())
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestGetNotFound(t *testing.T) {
	pool := &fakePool{rowErr: pgx.ErrNoRows}
	repo := NewResultsRepo(pool)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetRoundTrip(t *testing.T) {
	want := sampleResult()
	want.ID = "rec-1"
	pool := &fakePool{scanRow: resultScanner{want}}
	repo := NewResultsRepo(pool)

	got, err := repo.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestUpdateRejectsUnknownColumn(t *testing.T) {
	repo := NewResultsRepo(&fakePool{})

	err := repo.Update(context.Background(), "rec-1", map[string]any{"job_id": "evil"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestUpdateNotFound(t *testing.T) {
	pool := &fakePool{execTag: pgconn.NewCommandTag("UPDATE 0")}
	repo := NewResultsRepo(pool)

	err := repo.Update(context.Background(), "missing", map[string]any{"full_text": "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateMarshalsJSONColumns(t *testing.T) {
	pool := &fakePool{execTag: pgconn.NewCommandTag("UPDATE 1")}
	repo := NewResultsRepo(pool)

	err := repo.Update(context.Background(), "rec-1", map[string]any{
		"metadata": domain.ProcessingMetadata{ProcessingQuality: "good"},
	})
	require.NoError(t, err)
	require.Len(t, pool.execArgs, 1)
	_, isBytes := pool.execArgs[0][1].([]byte)
	assert.True(t, isBytes, "metadata must be marshaled before binding")
}

func TestQueryBySubmitter(t *testing.T) {
	a, b := sampleResult(), sampleResult()
	a.ID, b.ID = "rec-1", "rec-2"
	pool := &fakePool{rows: &fakeRows{results: []domain.OCRResult{a, b}}}
	repo := NewResultsRepo(pool)

	out, err := repo.QueryBySubmitter(context.Background(), "u-1", 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "rec-1", out[0].ID)
	assert.Equal(t, "rec-2", out[1].ID)
}
