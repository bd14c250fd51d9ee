package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
)

func (p *Postgres) CreateJob(ctx context.Context, j *JobRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO wsm.job
			(job_id, flight_id, description, operation_type, submitter,
			 workspace_id, request_hash, submitted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		j.JobID, j.FlightID, j.Description, j.OperationType, j.Submitter,
		j.WorkspaceID, j.RequestHash, j.Submitted)
	if isUniqueViolation(err) {
		return core.NewAppErrorf(core.ErrConflictExists, "job %s already exists", j.JobID)
	}
	return err
}

const jobColumns = `job_id, flight_id, description, operation_type, submitter,
	workspace_id, request_hash, submitted`

func scanJob(row pgx.Row) (*JobRecord, error) {
	var j JobRecord
	err := row.Scan(&j.JobID, &j.FlightID, &j.Description, &j.OperationType,
		&j.Submitter, &j.WorkspaceID, &j.RequestHash, &j.Submitted)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (p *Postgres) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	j, err := scanJob(p.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM wsm.job WHERE job_id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NewAppErrorf(core.ErrNotFound, "job %s not found", jobID)
	}
	return j, err
}

func (p *Postgres) ListJobs(ctx context.Context, workspaceID string, limit int) ([]JobRecord, error) {
	q := `SELECT ` + jobColumns + ` FROM wsm.job`
	args := []any{}
	if workspaceID != "" {
		q += ` WHERE workspace_id = $1`
		args = append(args, workspaceID)
	}
	q += ` ORDER BY submitted`
	if limit > 0 {
		args = append(args, limit)
		if len(args) == 1 {
			q += ` LIMIT $1`
		} else {
			q += ` LIMIT $2`
		}
	}
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (p *Postgres) WriteChange(ctx context.Context, workspaceID string, change core.OperationType, ts time.Time) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO wsm.workspace_activity (workspace_id, change_type, changed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, change_type) DO UPDATE SET changed_at = EXCLUDED.changed_at`,
		workspaceID, change, ts)
	return err
}

func (p *Postgres) LastChanged(ctx context.Context, workspaceID string) (map[core.OperationType]time.Time, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT change_type, changed_at FROM wsm.workspace_activity WHERE workspace_id = $1`,
		workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[core.OperationType]time.Time{}
	for rows.Next() {
		var (
			op core.OperationType
			ts time.Time
		)
		if err := rows.Scan(&op, &ts); err != nil {
			return nil, err
		}
		out[op] = ts
	}
	return out, rows.Err()
}
