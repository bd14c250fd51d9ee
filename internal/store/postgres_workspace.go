package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
)

func (p *Postgres) CreateWorkspace(ctx context.Context, ws *core.Workspace) error {
	props, err := json.Marshal(orEmptyMap(ws.Properties))
	if err != nil {
		return fmt.Errorf("marshal properties: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO wsm.workspace
			(workspace_id, user_facing_id, display_name, description, stage,
			 spend_profile_id, properties, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ws.ID, ws.UserFacingID, ws.DisplayName, ws.Description, ws.Stage,
		ws.SpendProfileID, props, ws.CreatedBy, ws.CreatedAt, ws.UpdatedAt)
	if isUniqueViolation(err) {
		return core.NewAppErrorf(core.ErrConflictExists, "workspace %s or user-facing id %s already exists", ws.ID, ws.UserFacingID)
	}
	return err
}

const workspaceColumns = `workspace_id, user_facing_id, display_name, description,
	stage, spend_profile_id, properties, created_by, created_at, updated_at`

func scanWorkspace(row pgx.Row) (*core.Workspace, error) {
	var (
		ws    core.Workspace
		props []byte
	)
	err := row.Scan(&ws.ID, &ws.UserFacingID, &ws.DisplayName, &ws.Description,
		&ws.Stage, &ws.SpendProfileID, &props, &ws.CreatedBy, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(props, &ws.Properties); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}
	return &ws, nil
}

func (p *Postgres) GetWorkspace(ctx context.Context, id string) (*core.Workspace, error) {
	ws, err := scanWorkspace(p.pool.QueryRow(ctx,
		`SELECT `+workspaceColumns+` FROM wsm.workspace WHERE workspace_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NewAppErrorf(core.ErrNotFound, "workspace %s not found", id)
	}
	return ws, err
}

func (p *Postgres) ListWorkspaces(ctx context.Context, limit int, createdAfter *time.Time) ([]core.Workspace, error) {
	q := `SELECT ` + workspaceColumns + ` FROM wsm.workspace`
	args := []any{}
	if createdAfter != nil {
		q += ` WHERE created_at > $1`
		args = append(args, *createdAfter)
	}
	q += ` ORDER BY created_at`
	if limit > 0 {
		q += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ws)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateWorkspaceAttributes(ctx context.Context, id string, displayName, description *string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE wsm.workspace SET
			display_name = COALESCE($2, display_name),
			description = COALESCE($3, description),
			updated_at = now()
		WHERE workspace_id = $1`,
		id, displayName, description)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.NewAppErrorf(core.ErrNotFound, "workspace %s not found", id)
	}
	return nil
}

func (p *Postgres) UpdateWorkspaceProperties(ctx context.Context, id string, set map[string]string, remove []string) (*core.Workspace, error) {
	// Read-modify-write under a transaction so concurrent property updates
	// do not drop each other's keys.
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var props []byte
	err = tx.QueryRow(ctx,
		`SELECT properties FROM wsm.workspace WHERE workspace_id = $1 FOR UPDATE`, id).Scan(&props)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NewAppErrorf(core.ErrNotFound, "workspace %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	properties := map[string]string{}
	if err := json.Unmarshal(props, &properties); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}
	for k, v := range set {
		properties[k] = v
	}
	for _, k := range remove {
		delete(properties, k)
	}
	updated, err := json.Marshal(properties)
	if err != nil {
		return nil, fmt.Errorf("marshal properties: %w", err)
	}
	ws, err := scanWorkspace(tx.QueryRow(ctx, `
		UPDATE wsm.workspace SET properties = $2, updated_at = now()
		WHERE workspace_id = $1
		RETURNING `+workspaceColumns, id, updated))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ws, nil
}

func (p *Postgres) DeleteWorkspace(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM wsm.workspace WHERE workspace_id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.NewAppErrorf(core.ErrNotFound, "workspace %s not found", id)
	}
	return nil
}

func (p *Postgres) CreateCloudContext(ctx context.Context, cc *core.CloudContext) error {
	fields, err := json.Marshal(orEmptyMap(cc.ProviderFields))
	if err != nil {
		return fmt.Errorf("marshal provider fields: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO wsm.cloud_context
			(workspace_id, platform, state, flight_id, error,
			 spend_profile_id, provider_fields, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cc.WorkspaceID, cc.Platform, cc.State, cc.FlightID, cc.Error,
		cc.SpendProfileID, fields, cc.CreatedAt)
	if isUniqueViolation(err) {
		return core.NewAppErrorf(core.ErrConflictExists, "cloud context %s already exists on workspace %s", cc.Platform, cc.WorkspaceID)
	}
	return err
}

const cloudContextColumns = `workspace_id, platform, state, flight_id, error,
	spend_profile_id, provider_fields, created_at`

func scanCloudContext(row pgx.Row) (*core.CloudContext, error) {
	var (
		cc     core.CloudContext
		fields []byte
	)
	err := row.Scan(&cc.WorkspaceID, &cc.Platform, &cc.State, &cc.FlightID,
		&cc.Error, &cc.SpendProfileID, &fields, &cc.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &cc.ProviderFields); err != nil {
		return nil, fmt.Errorf("unmarshal provider fields: %w", err)
	}
	return &cc, nil
}

func (p *Postgres) GetCloudContext(ctx context.Context, workspaceID string, platform core.CloudPlatform) (*core.CloudContext, error) {
	cc, err := scanCloudContext(p.pool.QueryRow(ctx,
		`SELECT `+cloudContextColumns+` FROM wsm.cloud_context WHERE workspace_id = $1 AND platform = $2`,
		workspaceID, platform))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NewAppErrorf(core.ErrNotFound, "no %s context on workspace %s", platform, workspaceID)
	}
	return cc, err
}

func (p *Postgres) ListCloudContexts(ctx context.Context, workspaceID string) ([]core.CloudContext, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+cloudContextColumns+` FROM wsm.cloud_context WHERE workspace_id = $1 ORDER BY platform`,
		workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.CloudContext
	for rows.Next() {
		cc, err := scanCloudContext(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cc)
	}
	return out, rows.Err()
}

func (p *Postgres) ClaimCloudContext(ctx context.Context, workspaceID string, platform core.CloudPlatform, state core.ContextState, flightID string) error {
	// Conditional update enforces the single-writer rule: only an unclaimed
	// row, or one already claimed by this flight, may be taken.
	tag, err := p.pool.Exec(ctx, `
		UPDATE wsm.cloud_context SET flight_id = $4, state = $3
		WHERE workspace_id = $1 AND platform = $2
		  AND (flight_id = '' OR flight_id = $4)`,
		workspaceID, platform, state, flightID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	cc, err := p.GetCloudContext(ctx, workspaceID, platform)
	if err != nil {
		return err
	}
	return core.NewAppErrorf(core.ErrConflictLocked, "%s context on workspace %s is owned by flight %s", platform, workspaceID, cc.FlightID)
}

func (p *Postgres) ReleaseCloudContext(ctx context.Context, workspaceID string, platform core.CloudPlatform, state core.ContextState, flightID string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE wsm.cloud_context SET flight_id = '', state = $3
		WHERE workspace_id = $1 AND platform = $2 AND flight_id = $4`,
		workspaceID, platform, state, flightID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	cc, err := p.GetCloudContext(ctx, workspaceID, platform)
	if err != nil {
		return err
	}
	return core.NewAppErrorf(core.ErrConflictLocked, "%s context on workspace %s is owned by flight %s", platform, workspaceID, cc.FlightID)
}

func (p *Postgres) UpdateCloudContextFields(ctx context.Context, workspaceID string, platform core.CloudPlatform, fields map[string]string) error {
	patch, err := json.Marshal(orEmptyMap(fields))
	if err != nil {
		return fmt.Errorf("marshal provider fields: %w", err)
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE wsm.cloud_context SET provider_fields = provider_fields || $3::jsonb
		WHERE workspace_id = $1 AND platform = $2`,
		workspaceID, platform, patch)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.NewAppErrorf(core.ErrNotFound, "no %s context on workspace %s", platform, workspaceID)
	}
	return nil
}

func (p *Postgres) DeleteCloudContext(ctx context.Context, workspaceID string, platform core.CloudPlatform) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM wsm.cloud_context WHERE workspace_id = $1 AND platform = $2`,
		workspaceID, platform)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.NewAppErrorf(core.ErrNotFound, "no %s context on workspace %s", platform, workspaceID)
	}
	return nil
}

func (p *Postgres) GetPolicies(ctx context.Context, workspaceID string) ([]core.PolicyInput, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `
		SELECT COALESCE(wp.policies, '[]'::jsonb)
		FROM wsm.workspace w
		LEFT JOIN wsm.workspace_policy wp USING (workspace_id)
		WHERE w.workspace_id = $1`, workspaceID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NewAppErrorf(core.ErrNotFound, "workspace %s not found", workspaceID)
	}
	if err != nil {
		return nil, err
	}
	var policies []core.PolicyInput
	if err := json.Unmarshal(raw, &policies); err != nil {
		return nil, fmt.Errorf("unmarshal policies: %w", err)
	}
	return policies, nil
}

func (p *Postgres) ReplacePolicies(ctx context.Context, workspaceID string, policies []core.PolicyInput) error {
	if policies == nil {
		policies = []core.PolicyInput{}
	}
	raw, err := json.Marshal(policies)
	if err != nil {
		return fmt.Errorf("marshal policies: %w", err)
	}
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO wsm.workspace_policy (workspace_id, policies)
		SELECT workspace_id, $2 FROM wsm.workspace WHERE workspace_id = $1
		ON CONFLICT (workspace_id) DO UPDATE SET policies = EXCLUDED.policies`,
		workspaceID, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.NewAppErrorf(core.ErrNotFound, "workspace %s not found", workspaceID)
	}
	return nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
