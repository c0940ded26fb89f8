package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/siwakornc/invoice-ocr-service/internal/domain"
)

// ResultsRepo implements domain.ResultStore on Postgres.
type ResultsRepo struct {
	pool PgxPool
}

var _ domain.ResultStore = (*ResultsRepo)(nil)

// NewResultsRepo builds the repository.
func NewResultsRepo(pool PgxPool) *ResultsRepo {
	return &ResultsRepo{pool: pool}
}

const uniqueViolation = "23505"

// Store inserts the record, generating its id. ErrDuplicate when a
// record for the job_id already exists.
func (r *ResultsRepo) Store(ctx domain.Context, res domain.OCRResult) (string, error) {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "results.store")
	defer span.End()

	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	regions, err := json.Marshal(res.Regions)
	if err != nil {
		return "", fmt.Errorf("results store marshal regions: %w", err)
	}
	fields, err := json.Marshal(res.Fields)
	if err != nil {
		return "", fmt.Errorf("results store marshal fields: %w", err)
	}
	blob, err := json.Marshal(res.EnhancedImage)
	if err != nil {
		return "", fmt.Errorf("results store marshal blob ref: %w", err)
	}
	meta, err := json.Marshal(res.Metadata)
	if err != nil {
		return "", fmt.Errorf("results store marshal metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO ocr_results
			(id, job_id, user_id, message_id, full_text, regions,
			 overall_confidence, fields, enhanced_image, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		res.ID, res.JobID, res.UserID, res.MessageID, res.FullText, regions,
		res.OverallConfidence, fields, blob, meta, res.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", fmt.Errorf("results store job %s: %w", res.JobID, domain.ErrDuplicate)
		}
		return "", fmt.Errorf("results store: %w", err)
	}
	return res.ID, nil
}

const selectCols = `
	id, job_id, user_id, message_id, full_text, regions,
	overall_confidence, fields, enhanced_image, metadata, created_at`

// rowScanner matches both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (domain.OCRResult, error) {
	var res domain.OCRResult
	var regions, fields, blob, meta []byte
	err := row.Scan(&res.ID, &res.JobID, &res.UserID, &res.MessageID, &res.FullText,
		&regions, &res.OverallConfidence, &fields, &blob, &meta, &res.CreatedAt)
	if err != nil {
		return domain.OCRResult{}, err
	}
	if err := json.Unmarshal(regions, &res.Regions); err != nil {
		return domain.OCRResult{}, fmt.Errorf("results scan regions: %w", err)
	}
	if err := json.Unmarshal(fields, &res.Fields); err != nil {
		return domain.OCRResult{}, fmt.Errorf("results scan fields: %w", err)
	}
	if err := json.Unmarshal(blob, &res.EnhancedImage); err != nil {
		return domain.OCRResult{}, fmt.Errorf("results scan blob ref: %w", err)
	}
	if err := json.Unmarshal(meta, &res.Metadata); err != nil {
		return domain.OCRResult{}, fmt.Errorf("results scan metadata: %w", err)
	}
	return res, nil
}

// Get fetches by record id or job id.
func (r *ResultsRepo) Get(ctx domain.Context, idOrJobID string) (domain.OCRResult, error) {
	ctx, span := otel.Tracer("repo.postgres").Start(ctx, "results.get")
	defer span.End()

	row := r.pool.QueryRow(ctx,
		`SELECT`+selectCols+` FROM ocr_results WHERE id = $1 OR job_id = $1 LIMIT 1`, idOrJobID)
	res, err := scanResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OCRResult{}, fmt.Errorf("results get %s: %w", idOrJobID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.OCRResult{}, fmt.Errorf("results get: %w", err)
	}
	return res, nil
}

// updatableColumns guards Update against arbitrary column injection.
var updatableColumns = map[string]bool{
	"full_text":          true,
	"overall_confidence": true,
	"fields":             true,
	"enhanced_image":     true,
	"metadata":           true,
}

// Update applies a partial patch of column → value. JSON-typed columns
// accept any marshalable value.
func (r *ResultsRepo) Update(ctx domain.Context, id string, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	set := ""
	args := []any{id}
	for col, val := range patch {
		if !updatableColumns[col] {
			return fmt.Errorf("results update column %q: %w", col, domain.ErrInvalidArgument)
		}
		switch col {
		case "fields", "enhanced_image", "metadata":
			b, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("results update marshal %s: %w", col, err)
			}
			val = b
		}
		args = append(args, val)
		if set != "" {
			set += ", "
		}
		set += fmt.Sprintf("%s = $%d", col, len(args))
	}
	tag, err := r.pool.Exec(ctx, `UPDATE ocr_results SET `+set+` WHERE id = $1 OR job_id = $1`, args...)
	if err != nil {
		return fmt.Errorf("results update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("results update %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *ResultsRepo) queryMany(ctx domain.Context, sql string, args ...any) ([]domain.OCRResult, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("results query: %w", err)
	}
	defer rows.Close()
	var out []domain.OCRResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("results query scan: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("results query rows: %w", err)
	}
	return out, nil
}

// QueryBySubmitter lists a user's results, newest first.
func (r *ResultsRepo) QueryBySubmitter(ctx domain.Context, userID string, limit int) ([]domain.OCRResult, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.queryMany(ctx,
		`SELECT`+selectCols+` FROM ocr_results WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
}

// QueryByTimeRange lists results created in [from, to), newest first.
func (r *ResultsRepo) QueryByTimeRange(ctx domain.Context, from, to time.Time, limit int) ([]domain.OCRResult, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.queryMany(ctx,
		`SELECT`+selectCols+` FROM ocr_results WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at DESC LIMIT $3`,
		from, to, limit)
}

// Stats aggregates count, mean confidence and mean processing time.
func (r *ResultsRepo) Stats(ctx domain.Context) (domain.ResultStats, error) {
	var s domain.ResultStats
	row := r.pool.QueryRow(ctx, `
		SELECT count(*),
		       COALESCE(avg(overall_confidence), 0),
		       COALESCE(avg((metadata->>'processing_ms')::bigint), 0)
		FROM ocr_results`)
	if err := row.Scan(&s.Count, &s.AvgConfidence, &s.AvgProcessingMS); err != nil {
		return domain.ResultStats{}, fmt.Errorf("results stats: %w", err)
	}
	return s, nil
}
