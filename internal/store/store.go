// Package store holds the persistence ports and their postgres and
// in-memory adapters. Domain code depends on these interfaces, not on pgx,
// so tests run against Memory and production against Postgres.
package store

import (
	"context"
	"time"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
)

type WorkspaceStore interface {
	CreateWorkspace(ctx context.Context, ws *core.Workspace) error
	GetWorkspace(ctx context.Context, id string) (*core.Workspace, error)
	ListWorkspaces(ctx context.Context, limit int, createdAfter *time.Time) ([]core.Workspace, error)
	UpdateWorkspaceAttributes(ctx context.Context, id string, displayName, description *string) error
	// UpdateWorkspaceProperties merges `set` into the property map and
	// removes the listed keys, returning the updated workspace.
	UpdateWorkspaceProperties(ctx context.Context, id string, set map[string]string, remove []string) (*core.Workspace, error)
	DeleteWorkspace(ctx context.Context, id string) error

	CreateCloudContext(ctx context.Context, cc *core.CloudContext) error
	GetCloudContext(ctx context.Context, workspaceID string, platform core.CloudPlatform) (*core.CloudContext, error)
	ListCloudContexts(ctx context.Context, workspaceID string) ([]core.CloudContext, error)
	// ClaimCloudContext records flightID as the single writer of the
	// context row and moves it to state. Claiming a row owned by a
	// different in-flight operation fails fast with a conflict.
	ClaimCloudContext(ctx context.Context, workspaceID string, platform core.CloudPlatform, state core.ContextState, flightID string) error
	// ReleaseCloudContext clears the claim and settles the state. Only the
	// claiming flight may release.
	ReleaseCloudContext(ctx context.Context, workspaceID string, platform core.CloudPlatform, state core.ContextState, flightID string) error
	UpdateCloudContextFields(ctx context.Context, workspaceID string, platform core.CloudPlatform, fields map[string]string) error
	DeleteCloudContext(ctx context.Context, workspaceID string, platform core.CloudPlatform) error

	GetPolicies(ctx context.Context, workspaceID string) ([]core.PolicyInput, error)
	// ReplacePolicies swaps the workspace's whole policy set atomically.
	ReplacePolicies(ctx context.Context, workspaceID string, policies []core.PolicyInput) error
}

type ResourceStore interface {
	CreateResource(ctx context.Context, r *core.Resource) error
	GetResource(ctx context.Context, workspaceID, resourceID string) (*core.Resource, error)
	GetResourceByName(ctx context.Context, workspaceID, name string) (*core.Resource, error)
	ListResources(ctx context.Context, workspaceID string) ([]core.Resource, error)
	DeleteResource(ctx context.Context, workspaceID, resourceID string) error
}

// JobRecord is the caller-facing wrapper around a flight, 1:1 while running.
type JobRecord struct {
	JobID         string
	FlightID      string
	Description   string
	OperationType core.OperationType
	Submitter     string
	WorkspaceID   string
	RequestHash   string
	Submitted     time.Time
}

type JobStore interface {
	CreateJob(ctx context.Context, j *JobRecord) error
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)
	ListJobs(ctx context.Context, workspaceID string, limit int) ([]JobRecord, error)
}

type ActivityStore interface {
	// WriteChange upserts the workspace's last-changed timestamp for the
	// given change type.
	WriteChange(ctx context.Context, workspaceID string, change core.OperationType, ts time.Time) error
	LastChanged(ctx context.Context, workspaceID string) (map[core.OperationType]time.Time, error)
}
