package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/repository"
)

var (
	_ repository.ErrorEventRepository = (*errorEventRepo)(nil)
	_ repository.ActivityRepository   = (*activityRepo)(nil)
)

type errorEventRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewErrorEventRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *errorEventRepo {
	return &errorEventRepo{pool: pool, tm: tm}
}

const errorEventColumns = `id, category, severity, code, message, user_id, endpoint, stack_trace,
request_data, response_data, ai_provider, model_id, occurrence_count, first_occurred, last_occurred,
is_resolved, resolved_at, resolved_by, resolution`

func scanErrorEvent(row pgx.Row) (*model.ErrorEvent, error) {
	var ev model.ErrorEvent
	var category, severity string
	var req, resp []byte
	err := row.Scan(&ev.ID, &category, &severity, &ev.Code, &ev.Message, &ev.UserID, &ev.Endpoint, &ev.StackTrace,
		&req, &resp, &ev.AIProvider, &ev.ModelID, &ev.OccurrenceCount, &ev.FirstOccurred, &ev.LastOccurred,
		&ev.IsResolved, &ev.ResolvedAt, &ev.ResolvedBy, &ev.Resolution)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	ev.Category = model.ErrorCategory(category)
	ev.Severity = model.ErrorSeverity(severity)
	ev.RequestData = req
	ev.ResponseData = resp
	return &ev, nil
}

// Upsert serializes writers of the same dedup key with an advisory lock, then
// merges into a recent row or inserts a new one, all in one transaction.
func (r *errorEventRepo) Upsert(ctx context.Context, ev *model.ErrorEvent) (*model.ErrorEvent, error) {
	var stored *model.ErrorEvent
	key := ev.DedupKey()
	lockKey := fmt.Sprintf("%s|%s|%s|%s|%s", key.Category, key.Message, key.Code, key.AIProvider, key.Endpoint)

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if _, err := execSQL(ctx, r.pool, tx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
			return err
		}

		const find = `
SELECT ` + errorEventColumns + `
FROM error_events
WHERE category = $1 AND message = $2
  AND COALESCE(code, '') = $3 AND COALESCE(ai_provider, '') = $4 AND COALESCE(endpoint, '') = $5
  AND last_occurred >= $6
ORDER BY last_occurred DESC
LIMIT 1
FOR UPDATE`
		row, err := pickRow(ctx, r.pool, tx, find, string(key.Category), key.Message, key.Code, key.AIProvider,
			key.Endpoint, ev.LastOccurred.Add(-model.ErrorDedupWindow))
		if err != nil {
			return err
		}
		cur, err := scanErrorEvent(row)
		switch {
		case err == nil:
			const upd = `
UPDATE error_events
SET occurrence_count = occurrence_count + 1, last_occurred = $2, severity = $3,
    stack_trace = COALESCE($4, stack_trace)
WHERE id = $1`
			if _, err := execSQL(ctx, r.pool, tx, upd, cur.ID, ev.LastOccurred, string(ev.Severity), ev.StackTrace); err != nil {
				return err
			}
			cur.OccurrenceCount++
			cur.LastOccurred = ev.LastOccurred
			cur.Severity = ev.Severity
			stored = cur
			return nil
		case errors.Is(err, domain.ErrNotFound):
		default:
			return err
		}

		const ins = `
INSERT INTO error_events (id, category, severity, code, message, user_id, endpoint, stack_trace,
  request_data, response_data, ai_provider, model_id, occurrence_count, first_occurred, last_occurred)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
		if _, err := execSQL(ctx, r.pool, tx, ins,
			ev.ID, string(ev.Category), string(ev.Severity), ev.Code, ev.Message, ev.UserID, ev.Endpoint, ev.StackTrace,
			[]byte(ev.RequestData), []byte(ev.ResponseData), ev.AIProvider, ev.ModelID, ev.OccurrenceCount,
			ev.FirstOccurred, ev.LastOccurred); err != nil {
			return err
		}
		cp := *ev
		stored = &cp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *errorEventRepo) ListUnresolved(ctx context.Context, limit int) ([]*model.ErrorEvent, error) {
	q := `SELECT ` + errorEventColumns + ` FROM error_events WHERE NOT is_resolved ORDER BY last_occurred DESC LIMIT $1`
	rows, err := queryRows(ctx, r.pool, nil, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.ErrorEvent
	for rows.Next() {
		ev, err := scanErrorEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, dbErr("list error events", rows.Err())
}

func (r *errorEventRepo) Resolve(ctx context.Context, id, resolvedBy, resolution string) error {
	const q = `
UPDATE error_events
SET is_resolved = TRUE, resolved_at = now(), resolved_by = $2, resolution = $3
WHERE id = $1`
	tag, err := execSQL(ctx, r.pool, nil, q, id, resolvedBy, resolution)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type activityRepo struct {
	pool *pgxpool.Pool
}

func NewActivityRepo(pool *pgxpool.Pool) *activityRepo {
	return &activityRepo{pool: pool}
}

func (r *activityRepo) Append(ctx context.Context, ev *model.ActivityEvent) error {
	const q = `
INSERT INTO activity_events (id, user_id, action, category, page, metadata, session_id, ip_address, user_agent, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := execSQL(ctx, r.pool, nil, q,
		ev.ID, ev.UserID, ev.Action, ev.Category, ev.Page, []byte(ev.Metadata), ev.SessionID, ev.IPAddress, ev.UserAgent, ev.Timestamp)
	return err
}
