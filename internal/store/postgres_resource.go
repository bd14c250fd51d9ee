package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
)

func (p *Postgres) CreateResource(ctx context.Context, r *core.Resource) error {
	props, err := json.Marshal(orEmptyMap(r.Properties))
	if err != nil {
		return fmt.Errorf("marshal properties: %w", err)
	}
	lineage, err := json.Marshal(orEmptyLineage(r.Lineage))
	if err != nil {
		return fmt.Errorf("marshal lineage: %w", err)
	}
	attrs := r.Attributes
	if len(attrs) == 0 {
		attrs = json.RawMessage("{}")
	}
	var privateUser []byte
	if r.PrivateUser != nil {
		privateUser, err = json.Marshal(r.PrivateUser)
		if err != nil {
			return fmt.Errorf("marshal private user: %w", err)
		}
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO wsm.resource
			(resource_id, workspace_id, name, description, resource_type,
			 stewardship, cloning_instructions, properties, lineage, attributes,
			 access_scope, managed_by, private_user, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.WorkspaceID, r.Name, r.Description, r.Type,
		r.Stewardship, r.Cloning, props, lineage, []byte(attrs),
		r.AccessScope, r.ManagedBy, privateUser, r.CreatedBy, r.CreatedAt)
	if isUniqueViolation(err) {
		return core.NewAppErrorf(core.ErrConflictExists, "resource id %s or name %q already in use in workspace %s", r.ID, r.Name, r.WorkspaceID)
	}
	return err
}

const resourceColumns = `resource_id, workspace_id, name, description, resource_type,
	stewardship, cloning_instructions, properties, lineage, attributes,
	access_scope, managed_by, private_user, created_by, created_at`

func scanResource(row pgx.Row) (*core.Resource, error) {
	var (
		r                     core.Resource
		props, lineage, attrs []byte
		privateUser           []byte
	)
	err := row.Scan(&r.ID, &r.WorkspaceID, &r.Name, &r.Description, &r.Type,
		&r.Stewardship, &r.Cloning, &props, &lineage, &attrs,
		&r.AccessScope, &r.ManagedBy, &privateUser, &r.CreatedBy, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(props, &r.Properties); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}
	if err := json.Unmarshal(lineage, &r.Lineage); err != nil {
		return nil, fmt.Errorf("unmarshal lineage: %w", err)
	}
	r.Attributes = json.RawMessage(attrs)
	if len(privateUser) > 0 {
		r.PrivateUser = &core.PrivateUser{}
		if err := json.Unmarshal(privateUser, r.PrivateUser); err != nil {
			return nil, fmt.Errorf("unmarshal private user: %w", err)
		}
	}
	return &r, nil
}

func (p *Postgres) GetResource(ctx context.Context, workspaceID, resourceID string) (*core.Resource, error) {
	r, err := scanResource(p.pool.QueryRow(ctx,
		`SELECT `+resourceColumns+` FROM wsm.resource WHERE workspace_id = $1 AND resource_id = $2`,
		workspaceID, resourceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NewAppErrorf(core.ErrNotFound, "resource %s not found in workspace %s", resourceID, workspaceID)
	}
	return r, err
}

func (p *Postgres) GetResourceByName(ctx context.Context, workspaceID, name string) (*core.Resource, error) {
	r, err := scanResource(p.pool.QueryRow(ctx,
		`SELECT `+resourceColumns+` FROM wsm.resource WHERE workspace_id = $1 AND name = $2`,
		workspaceID, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NewAppErrorf(core.ErrNotFound, "resource %q not found in workspace %s", name, workspaceID)
	}
	return r, err
}

func (p *Postgres) ListResources(ctx context.Context, workspaceID string) ([]core.Resource, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+resourceColumns+` FROM wsm.resource WHERE workspace_id = $1 ORDER BY name`,
		workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteResource(ctx context.Context, workspaceID, resourceID string) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM wsm.resource WHERE workspace_id = $1 AND resource_id = $2`,
		workspaceID, resourceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.NewAppErrorf(core.ErrNotFound, "resource %s not found in workspace %s", resourceID, workspaceID)
	}
	return nil
}

func orEmptyLineage(l []core.LineageEntry) []core.LineageEntry {
	if l == nil {
		return []core.LineageEntry{}
	}
	return l
}
