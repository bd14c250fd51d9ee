package resource

import (
	"context"
	"fmt"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/cloud"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/flight"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/job"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/store"
)

// Flights bundles the dependencies resource steps need and registers the
// per-operation flight builders.
type Flights struct {
	workspaces store.WorkspaceStore
	resources  store.ResourceStore
	providers  cloud.Providers
}

func NewFlights(workspaces store.WorkspaceStore, resources store.ResourceStore, providers cloud.Providers) *Flights {
	return &Flights{workspaces: workspaces, resources: resources, providers: providers}
}

func (f *Flights) Register(reg *flight.Registry) {
	reg.Register(FlightCreate, f.buildCreate)
	reg.Register(FlightDelete, f.buildDelete)
	reg.Register(FlightClone, f.buildClone)
}

// RemoveArtifact deletes a resource's cloud-side artifact, if it owns one.
// Workspace teardown calls this per resource without running a full delete
// flight, since the record rows cascade with the workspace.
func RemoveArtifact(ctx context.Context, p cloud.Providers, r *core.Resource) flight.StepResult {
	if !hasCloudArtifact(r) {
		return flight.Success()
	}
	ops, err := opsFor(r.Type)
	if err != nil {
		return flight.Fatal(err)
	}
	return providerResult(ops.remove(ctx, p, r))
}

// RestoreArtifact recreates a deleted artifact shell during rollback.
func RestoreArtifact(ctx context.Context, p cloud.Providers, r *core.Resource) flight.StepResult {
	if !hasCloudArtifact(r) {
		return flight.Success()
	}
	ops, err := opsFor(r.Type)
	if err != nil {
		return flight.Fatal(err)
	}
	return providerResult(ops.create(ctx, p, r))
}

// providerResult classifies a provider error: transient failures retry, all
// others are fatal.
func providerResult(err error) flight.StepResult {
	if err == nil {
		return flight.Success()
	}
	if cloud.IsTransient(err) {
		return flight.Retry(err)
	}
	return flight.Fatal(err)
}

func (f *Flights) buildCreate(inputs flight.FlightMap) ([]flight.Step, error) {
	var r core.Resource
	if ok, err := inputs.Get(KeyResource, &r); !ok || err != nil {
		return nil, fmt.Errorf("create flight requires a %q input: %v", KeyResource, err)
	}
	if r.Name == "" {
		return nil, fmt.Errorf("resource name is required")
	}
	if !r.Cloning.Valid() {
		return nil, fmt.Errorf("invalid cloning instructions %q", r.Cloning)
	}
	if _, err := opsFor(r.Type); err != nil {
		return nil, err
	}
	return []flight.Step{
		&createCloudStep{f: f},
		&writeRecordStep{f: f},
	}, nil
}

func (f *Flights) buildDelete(inputs flight.FlightMap) ([]flight.Step, error) {
	if inputs.GetString(KeyResourceID) == "" {
		return nil, fmt.Errorf("delete flight requires a %q input", KeyResourceID)
	}
	return []flight.Step{
		&loadResourceStep{f: f},
		&deleteCloudStep{f: f},
		&deleteRecordStep{f: f},
	}, nil
}

// createCloudStep provisions the cloud-side artifact for a controlled
// resource. Referenced resources own nothing cloud-side and pass through.
type createCloudStep struct {
	f *Flights
}

func (s *createCloudStep) Name() string { return "create-cloud-artifact" }

func (s *createCloudStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	var r core.Resource
	if _, err := fc.Inputs.Get(KeyResource, &r); err != nil {
		return flight.Fatal(err)
	}
	if !hasCloudArtifact(&r) {
		return flight.Success()
	}
	ops, err := opsFor(r.Type)
	if err != nil {
		return flight.Fatal(err)
	}
	return providerResult(ops.create(ctx, s.f.providers, &r))
}

func (s *createCloudStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	var r core.Resource
	if _, err := fc.Inputs.Get(KeyResource, &r); err != nil {
		return flight.Fatal(err)
	}
	if !hasCloudArtifact(&r) {
		return flight.Success()
	}
	ops, err := opsFor(r.Type)
	if err != nil {
		return flight.Fatal(err)
	}
	return providerResult(ops.remove(ctx, s.f.providers, &r))
}

// writeRecordStep inserts the metadata row. A replay that finds its own row
// already present is a success, not a conflict.
type writeRecordStep struct {
	f *Flights
}

func (s *writeRecordStep) Name() string { return "write-resource-record" }

func (s *writeRecordStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	var r core.Resource
	if _, err := fc.Inputs.Get(KeyResource, &r); err != nil {
		return flight.Fatal(err)
	}
	if err := s.f.resources.CreateResource(ctx, &r); err != nil {
		if core.CodeOf(err) != core.ErrConflictExists {
			return flight.Fatal(err)
		}
		if _, getErr := s.f.resources.GetResource(ctx, r.WorkspaceID, r.ID); getErr != nil {
			// The name is taken by a different resource.
			return flight.Fatal(err)
		}
	}
	if err := fc.Working.Put(job.KeyResponse, r); err != nil {
		return flight.Fatal(err)
	}
	return flight.Success()
}

func (s *writeRecordStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	var r core.Resource
	if _, err := fc.Inputs.Get(KeyResource, &r); err != nil {
		return flight.Fatal(err)
	}
	err := s.f.resources.DeleteResource(ctx, r.WorkspaceID, r.ID)
	if err != nil && core.CodeOf(err) != core.ErrNotFound {
		return flight.Fatal(err)
	}
	return flight.Success()
}

// loadResourceStep stashes the record in the working map so later steps (and
// their undos) see the resource even after the row is gone.
type loadResourceStep struct {
	f *Flights
}

func (s *loadResourceStep) Name() string { return "load-resource-record" }

func (s *loadResourceStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	workspaceID := fc.Inputs.GetString(job.KeyWorkspaceID)
	resourceID := fc.Inputs.GetString(KeyResourceID)
	r, err := s.f.resources.GetResource(ctx, workspaceID, resourceID)
	if err != nil {
		if core.CodeOf(err) == core.ErrNotFound {
			// A resumed delete may have removed the row already.
			if has, _ := fc.Working.Get(wkResource, &core.Resource{}); has {
				return flight.Success()
			}
		}
		return flight.Fatal(err)
	}
	if err := fc.Working.Put(wkResource, r); err != nil {
		return flight.Fatal(err)
	}
	return flight.Success()
}

func (s *loadResourceStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	return flight.Success()
}

type deleteCloudStep struct {
	f *Flights
}

func (s *deleteCloudStep) Name() string { return "delete-cloud-artifact" }

func (s *deleteCloudStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	var r core.Resource
	if _, err := fc.Working.Get(wkResource, &r); err != nil {
		return flight.Fatal(err)
	}
	if !hasCloudArtifact(&r) {
		return flight.Success()
	}
	ops, err := opsFor(r.Type)
	if err != nil {
		return flight.Fatal(err)
	}
	return providerResult(ops.remove(ctx, s.f.providers, &r))
}

// Undo recreates the artifact shell. Deleted data is gone; this only
// restores enough for the record row to stay coherent after rollback.
func (s *deleteCloudStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	var r core.Resource
	if _, err := fc.Working.Get(wkResource, &r); err != nil {
		return flight.Fatal(err)
	}
	if !hasCloudArtifact(&r) {
		return flight.Success()
	}
	ops, err := opsFor(r.Type)
	if err != nil {
		return flight.Fatal(err)
	}
	return providerResult(ops.create(ctx, s.f.providers, &r))
}

type deleteRecordStep struct {
	f *Flights
}

func (s *deleteRecordStep) Name() string { return "delete-resource-record" }

func (s *deleteRecordStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	var r core.Resource
	if _, err := fc.Working.Get(wkResource, &r); err != nil {
		return flight.Fatal(err)
	}
	err := s.f.resources.DeleteResource(ctx, r.WorkspaceID, r.ID)
	if err != nil && core.CodeOf(err) != core.ErrNotFound {
		return flight.Fatal(err)
	}
	return flight.Success()
}

func (s *deleteRecordStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	var r core.Resource
	if _, err := fc.Working.Get(wkResource, &r); err != nil {
		return flight.Fatal(err)
	}
	err := s.f.resources.CreateResource(ctx, &r)
	if err != nil && core.CodeOf(err) != core.ErrConflictExists {
		return flight.Fatal(err)
	}
	return flight.Success()
}
