package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

const jobColumns = `id, user_id, type, status, template_id, model_id, provider, file_name, file_content,
api_key, progress, current_step, total_steps, retry_count, error, result,
started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var status string
	var result []byte
	err := row.Scan(
		&j.ID, &j.UserID, &j.Type, &status, &j.TemplateID, &j.ModelID, &j.Provider, &j.FileName, &j.FileContent,
		&j.APIKey, &j.Progress, &j.CurrentStep, &j.TotalSteps, &j.RetryCount, &j.Error, &result,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, dbErr("scan job", err)
	}
	j.Status = model.JobStatus(status)
	if result != nil {
		j.Result = json.RawMessage(result)
	}
	return &j, nil
}

func (r *jobRepo) Create(ctx context.Context, j *model.Job) error {
	const q = `
INSERT INTO analysis_jobs (id, user_id, type, status, template_id, model_id, provider, file_name, file_content,
  api_key, progress, current_step, total_steps, retry_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := execSQL(ctx, r.pool, nil, q,
		j.ID, j.UserID, j.Type, string(j.Status), j.TemplateID, j.ModelID, j.Provider, j.FileName, j.FileContent,
		j.APIKey, j.Progress, j.CurrentStep, j.TotalSteps, j.RetryCount, j.CreatedAt, j.UpdatedAt)
	return err
}

func (r *jobRepo) FindByID(ctx context.Context, id string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, nil, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

// FindByIDForOwner filters on the owner so foreign ids look exactly like missing ones.
func (r *jobRepo) FindByIDForOwner(ctx context.Context, id, ownerID string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, nil,
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1 AND user_id = $2`, id, ownerID)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.JobSummary, error) {
	const q = `
SELECT id, status, template_id, model_id, provider, file_name, progress, current_step, error, created_at, completed_at
FROM analysis_jobs
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`
	rows, err := queryRows(ctx, r.pool, nil, q, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.JobSummary
	for rows.Next() {
		var s model.JobSummary
		var status string
		if err := rows.Scan(&s.ID, &status, &s.TemplateID, &s.ModelID, &s.Provider, &s.FileName,
			&s.Progress, &s.CurrentStep, &s.Error, &s.CreatedAt, &s.CompletedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		s.Status = model.JobStatus(status)
		out = append(out, &s)
	}
	return out, dbErr("list jobs", rows.Err())
}

func (r *jobRepo) ListPending(ctx context.Context, excludeIDs []string, limit int) ([]*model.Job, error) {
	if excludeIDs == nil {
		// a NULL array would filter out every row
		excludeIDs = []string{}
	}
	q := `SELECT ` + jobColumns + `
FROM analysis_jobs
WHERE status = 'pending' AND NOT (id = ANY($1))
ORDER BY created_at
LIMIT $2`
	rows, err := queryRows(ctx, r.pool, nil, q, excludeIDs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, dbErr("list pending", rows.Err())
}

func (r *jobRepo) Cancel(ctx context.Context, id, ownerID string) error {
	const q = `
UPDATE analysis_jobs
SET status = 'cancelled', current_step = $3, completed_at = now(), updated_at = now()
WHERE id = $1 AND user_id = $2 AND status IN ('pending', 'processing')`
	tag, err := execSQL(ctx, r.pool, nil, q, id, ownerID, model.StepCancelled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *jobRepo) UpdateProgress(ctx context.Context, id string, progress int, step string) error {
	const q = `
UPDATE analysis_jobs
SET progress = $2, current_step = $3, updated_at = now()
WHERE id = $1 AND status = 'processing' AND progress <= $2`
	_, err := execSQL(ctx, r.pool, nil, q, id, progress, step)
	return err
}

func (r *jobRepo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	const q = `
UPDATE analysis_jobs
SET status = 'processing', started_at = now(), updated_at = now()
WHERE id = $1 AND status = 'pending'`
	tag, err := execSQL(ctx, r.pool, nil, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *jobRepo) MarkCompleted(ctx context.Context, id string, result json.RawMessage) (bool, error) {
	const q = `
UPDATE analysis_jobs
SET status = 'completed', progress = 100, current_step = $3, result = $2, error = NULL,
    completed_at = now(), updated_at = now()
WHERE id = $1 AND status = 'processing'`
	tag, err := execSQL(ctx, r.pool, nil, q, id, []byte(result), model.StepCompleted)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *jobRepo) MarkFailed(ctx context.Context, id, errMsg string) (int, error) {
	const q = `
UPDATE analysis_jobs
SET status = 'failed', current_step = $3, error = $2, retry_count = retry_count + 1,
    completed_at = now(), updated_at = now()
WHERE id = $1 AND status = 'processing'
RETURNING retry_count`
	row, err := pickRow(ctx, r.pool, nil, q, id, errMsg, model.StepFailed)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, dbErr("mark failed", err)
	}
	return n, nil
}

func (r *jobRepo) Requeue(ctx context.Context, id, step string) (bool, error) {
	const q = `
UPDATE analysis_jobs
SET status = 'pending', progress = 0, current_step = $2, started_at = NULL, completed_at = NULL,
    error = NULL, updated_at = now()
WHERE id = $1 AND status = 'failed'`
	tag, err := execSQL(ctx, r.pool, nil, q, id, step)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *jobRepo) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	rows, err := queryRows(ctx, r.pool, nil, `SELECT status, count(*) FROM analysis_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[model.JobStatus(status)] = n
	}
	return out, dbErr("count jobs", rows.Err())
}
