package workspace

import (
	"context"
	"fmt"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/cloud"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/flight"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/job"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/resource"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/store"
)

// Flights holds the dependencies for workspace lifecycle steps and registers
// the flight builders.
type Flights struct {
	workspaces store.WorkspaceStore
	resources  store.ResourceStore
	providers  cloud.Providers
}

func NewFlights(workspaces store.WorkspaceStore, resources store.ResourceStore, providers cloud.Providers) *Flights {
	return &Flights{workspaces: workspaces, resources: resources, providers: providers}
}

func (f *Flights) Register(reg *flight.Registry) {
	reg.Register(FlightWorkspaceCreate, f.buildWorkspaceCreate)
	reg.Register(FlightWorkspaceDelete, f.buildWorkspaceDelete)
	reg.Register(FlightWorkspaceClone, f.buildWorkspaceClone)
	reg.Register(FlightContextCreate, f.buildContextCreate)
	reg.Register(FlightContextDelete, f.buildContextDelete)
}

func (f *Flights) buildWorkspaceCreate(inputs flight.FlightMap) ([]flight.Step, error) {
	var ws core.Workspace
	if ok, err := inputs.Get(KeyWorkspace, &ws); !ok || err != nil {
		return nil, fmt.Errorf("workspace create flight requires a %q input: %v", KeyWorkspace, err)
	}
	if ws.ID == "" || ws.UserFacingID == "" {
		return nil, fmt.Errorf("workspace id and user-facing id are required")
	}
	return []flight.Step{
		&writeWorkspaceStep{f: f},
		&applyInitialPoliciesStep{f: f},
	}, nil
}

func (f *Flights) buildWorkspaceDelete(inputs flight.FlightMap) ([]flight.Step, error) {
	if inputs.GetString(job.KeyWorkspaceID) == "" {
		return nil, fmt.Errorf("workspace delete flight requires a %q input", job.KeyWorkspaceID)
	}
	return []flight.Step{
		&snapshotWorkspaceStep{f: f},
		&deleteResourcesStep{f: f},
		&deleteWorkspaceStep{f: f},
	}, nil
}

type writeWorkspaceStep struct {
	f *Flights
}

func (s *writeWorkspaceStep) Name() string { return "write-workspace-record" }

func (s *writeWorkspaceStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	var ws core.Workspace
	if _, err := fc.Inputs.Get(KeyWorkspace, &ws); err != nil {
		return flight.Fatal(err)
	}
	if err := s.f.workspaces.CreateWorkspace(ctx, &ws); err != nil {
		if core.CodeOf(err) != core.ErrConflictExists {
			return flight.Fatal(err)
		}
		if _, getErr := s.f.workspaces.GetWorkspace(ctx, ws.ID); getErr != nil {
			// The user-facing id is taken by a different workspace.
			return flight.Fatal(err)
		}
	}
	if err := fc.Working.Put(job.KeyResponse, ws); err != nil {
		return flight.Fatal(err)
	}
	return flight.Success()
}

func (s *writeWorkspaceStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	var ws core.Workspace
	if _, err := fc.Inputs.Get(KeyWorkspace, &ws); err != nil {
		return flight.Fatal(err)
	}
	err := s.f.workspaces.DeleteWorkspace(ctx, ws.ID)
	if err != nil && core.CodeOf(err) != core.ErrNotFound {
		return flight.Fatal(err)
	}
	return flight.Success()
}

type applyInitialPoliciesStep struct {
	f *Flights
}

func (s *applyInitialPoliciesStep) Name() string { return "apply-initial-policies" }

func (s *applyInitialPoliciesStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	var policies []core.PolicyInput
	ok, err := fc.Inputs.Get(KeyPolicies, &policies)
	if err != nil {
		return flight.Fatal(err)
	}
	if !ok || len(policies) == 0 {
		return flight.Success()
	}
	var ws core.Workspace
	if _, err := fc.Inputs.Get(KeyWorkspace, &ws); err != nil {
		return flight.Fatal(err)
	}
	if err := s.f.workspaces.ReplacePolicies(ctx, ws.ID, policies); err != nil {
		return flight.Fatal(err)
	}
	return flight.Success()
}

func (s *applyInitialPoliciesStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	var ws core.Workspace
	if _, err := fc.Inputs.Get(KeyWorkspace, &ws); err != nil {
		return flight.Fatal(err)
	}
	err := s.f.workspaces.ReplacePolicies(ctx, ws.ID, nil)
	if err != nil && core.CodeOf(err) != core.ErrNotFound {
		return flight.Fatal(err)
	}
	return flight.Success()
}

// snapshotWorkspaceStep stashes the workspace and its resources so the
// delete's undo can restore the records after a downstream failure.
type snapshotWorkspaceStep struct {
	f *Flights
}

func (s *snapshotWorkspaceStep) Name() string { return "snapshot-workspace" }

func (s *snapshotWorkspaceStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	workspaceID := fc.Inputs.GetString(job.KeyWorkspaceID)
	ws, err := s.f.workspaces.GetWorkspace(ctx, workspaceID)
	if err != nil {
		if core.CodeOf(err) == core.ErrNotFound {
			if has, _ := fc.Working.Get(wkWorkspace, &core.Workspace{}); has {
				// Resumed after the final step already removed the row.
				return flight.Success()
			}
		}
		return flight.Fatal(err)
	}
	resources, err := s.f.resources.ListResources(ctx, workspaceID)
	if err != nil {
		return flight.Fatal(err)
	}
	if err := fc.Working.Put(wkWorkspace, ws); err != nil {
		return flight.Fatal(err)
	}
	if err := fc.Working.Put(wkResources, resources); err != nil {
		return flight.Fatal(err)
	}
	return flight.Success()
}

func (s *snapshotWorkspaceStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	return flight.Success()
}

// deleteResourcesStep tears down every resource's cloud artifact. Record
// rows go away with the workspace row's cascade in the next step.
type deleteResourcesStep struct {
	f *Flights
}

func (s *deleteResourcesStep) Name() string { return "delete-workspace-resources" }

func (s *deleteResourcesStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	var resources []core.Resource
	if _, err := fc.Working.Get(wkResources, &resources); err != nil {
		return flight.Fatal(err)
	}
	for i := range resources {
		r := &resources[i]
		res := resource.RemoveArtifact(ctx, s.f.providers, r)
		if res.Status != flight.StepSuccess {
			return res
		}
	}
	return flight.Success()
}

func (s *deleteResourcesStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	var resources []core.Resource
	if _, err := fc.Working.Get(wkResources, &resources); err != nil {
		return flight.Fatal(err)
	}
	for i := range resources {
		r := &resources[i]
		if res := resource.RestoreArtifact(ctx, s.f.providers, r); res.Status != flight.StepSuccess {
			return res
		}
	}
	return flight.Success()
}

type deleteWorkspaceStep struct {
	f *Flights
}

func (s *deleteWorkspaceStep) Name() string { return "delete-workspace-record" }

func (s *deleteWorkspaceStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	workspaceID := fc.Inputs.GetString(job.KeyWorkspaceID)
	err := s.f.workspaces.DeleteWorkspace(ctx, workspaceID)
	if err != nil && core.CodeOf(err) != core.ErrNotFound {
		return flight.Fatal(err)
	}
	return flight.Success()
}

func (s *deleteWorkspaceStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	var ws core.Workspace
	if _, err := fc.Working.Get(wkWorkspace, &ws); err != nil {
		return flight.Fatal(err)
	}
	if err := s.f.workspaces.CreateWorkspace(ctx, &ws); err != nil && core.CodeOf(err) != core.ErrConflictExists {
		return flight.Fatal(err)
	}
	var resources []core.Resource
	if _, err := fc.Working.Get(wkResources, &resources); err != nil {
		return flight.Fatal(err)
	}
	for i := range resources {
		if err := s.f.resources.CreateResource(ctx, &resources[i]); err != nil && core.CodeOf(err) != core.ErrConflictExists {
			return flight.Fatal(err)
		}
	}
	return flight.Success()
}
