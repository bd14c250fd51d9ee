package workspace

import (
	"context"
	"fmt"
	"time"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/flight"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/job"
)

func (f *Flights) buildContextCreate(inputs flight.FlightMap) ([]flight.Step, error) {
	if inputs.GetString(job.KeyWorkspaceID) == "" {
		return nil, fmt.Errorf("context create flight requires a %q input", job.KeyWorkspaceID)
	}
	switch core.CloudPlatform(inputs.GetString(KeyPlatform)) {
	case core.PlatformAWS, core.PlatformGCP, core.PlatformAzure:
	default:
		return nil, fmt.Errorf("invalid cloud platform %q", inputs.GetString(KeyPlatform))
	}
	return []flight.Step{
		&writeContextRowStep{f: f},
		&provisionContextStep{f: f},
		&readyContextStep{f: f},
	}, nil
}

func (f *Flights) buildContextDelete(inputs flight.FlightMap) ([]flight.Step, error) {
	if inputs.GetString(job.KeyWorkspaceID) == "" {
		return nil, fmt.Errorf("context delete flight requires a %q input", job.KeyWorkspaceID)
	}
	return []flight.Step{
		&claimContextStep{f: f},
		&deleteContextRowStep{f: f},
	}, nil
}

// writeContextRowStep inserts the context row in CREATING state with this
// flight recorded as owner, so no other flight can touch the row until the
// create settles it.
type writeContextRowStep struct {
	f *Flights
}

func (s *writeContextRowStep) Name() string { return "write-context-row" }

func (s *writeContextRowStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	workspaceID := fc.Inputs.GetString(job.KeyWorkspaceID)
	platform := core.CloudPlatform(fc.Inputs.GetString(KeyPlatform))

	if _, err := s.f.workspaces.GetWorkspace(ctx, workspaceID); err != nil {
		return flight.Fatal(err)
	}
	cc := &core.CloudContext{
		WorkspaceID:    workspaceID,
		Platform:       platform,
		State:          core.ContextCreating,
		FlightID:       fc.FlightID,
		SpendProfileID: fc.Inputs.GetString(KeySpendProfileID),
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.f.workspaces.CreateCloudContext(ctx, cc); err != nil {
		if core.CodeOf(err) != core.ErrConflictExists {
			return flight.Fatal(err)
		}
		existing, getErr := s.f.workspaces.GetCloudContext(ctx, workspaceID, platform)
		if getErr != nil {
			return flight.Fatal(getErr)
		}
		if existing.FlightID != fc.FlightID {
			// The row belongs to another context or another in-flight
			// operation; fail fast rather than interleave.
			return flight.Fatal(err)
		}
		// Our own row from a replayed step.
	}
	return flight.Success()
}

func (s *writeContextRowStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	workspaceID := fc.Inputs.GetString(job.KeyWorkspaceID)
	platform := core.CloudPlatform(fc.Inputs.GetString(KeyPlatform))
	err := s.f.workspaces.DeleteCloudContext(ctx, workspaceID, platform)
	if err != nil && core.CodeOf(err) != core.ErrNotFound {
		return flight.Fatal(err)
	}
	return flight.Success()
}

// provisionContextStep stands in for the provider-side account binding. The
// provider call is opaque here; its outputs land in the row's provider
// fields.
type provisionContextStep struct {
	f *Flights
}

func (s *provisionContextStep) Name() string { return "provision-cloud-context" }

func (s *provisionContextStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	workspaceID := fc.Inputs.GetString(job.KeyWorkspaceID)
	platform := core.CloudPlatform(fc.Inputs.GetString(KeyPlatform))
	fields := map[string]string{
		"environment_id": fmt.Sprintf("env-%.8s", fc.FlightID),
	}
	if err := s.f.workspaces.UpdateCloudContextFields(ctx, workspaceID, platform, fields); err != nil {
		return flight.Fatal(err)
	}
	return flight.Success()
}

func (s *provisionContextStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	return flight.Success()
}

// readyContextStep releases the flight's claim and settles the row READY.
type readyContextStep struct {
	f *Flights
}

func (s *readyContextStep) Name() string { return "ready-cloud-context" }

func (s *readyContextStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	workspaceID := fc.Inputs.GetString(job.KeyWorkspaceID)
	platform := core.CloudPlatform(fc.Inputs.GetString(KeyPlatform))
	err := s.f.workspaces.ReleaseCloudContext(ctx, workspaceID, platform, core.ContextReady, fc.FlightID)
	if err != nil {
		if core.CodeOf(err) == core.ErrConflictLocked {
			// Replay after the release already landed.
			cc, getErr := s.f.workspaces.GetCloudContext(ctx, workspaceID, platform)
			if getErr == nil && cc.State == core.ContextReady && cc.FlightID == "" {
				err = nil
			}
		}
		if err != nil {
			return flight.Fatal(err)
		}
	}
	cc, err := s.f.workspaces.GetCloudContext(ctx, workspaceID, platform)
	if err != nil {
		return flight.Fatal(err)
	}
	if putErr := fc.Working.Put(job.KeyResponse, cc); putErr != nil {
		return flight.Fatal(putErr)
	}
	return flight.Success()
}

func (s *readyContextStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	workspaceID := fc.Inputs.GetString(job.KeyWorkspaceID)
	platform := core.CloudPlatform(fc.Inputs.GetString(KeyPlatform))
	err := s.f.workspaces.ClaimCloudContext(ctx, workspaceID, platform, core.ContextCreating, fc.FlightID)
	if err != nil && core.CodeOf(err) != core.ErrNotFound {
		return flight.Fatal(err)
	}
	return flight.Success()
}

// claimContextStep takes single-writer ownership of the row for deletion. A
// row mid-operation under another flight fails this step fast.
type claimContextStep struct {
	f *Flights
}

func (s *claimContextStep) Name() string { return "claim-cloud-context" }

func (s *claimContextStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	workspaceID := fc.Inputs.GetString(job.KeyWorkspaceID)
	platform := core.CloudPlatform(fc.Inputs.GetString(KeyPlatform))

	cc, err := s.f.workspaces.GetCloudContext(ctx, workspaceID, platform)
	if err != nil {
		return flight.Fatal(err)
	}
	if err := fc.Working.Put(wkContext, cc); err != nil {
		return flight.Fatal(err)
	}
	if err := s.f.workspaces.ClaimCloudContext(ctx, workspaceID, platform, core.ContextDeleting, fc.FlightID); err != nil {
		return flight.Fatal(err)
	}
	return flight.Success()
}

func (s *claimContextStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	var cc core.CloudContext
	ok, err := fc.Working.Get(wkContext, &cc)
	if err != nil {
		return flight.Fatal(err)
	}
	if !ok {
		return flight.Success()
	}
	workspaceID := fc.Inputs.GetString(job.KeyWorkspaceID)
	platform := core.CloudPlatform(fc.Inputs.GetString(KeyPlatform))
	err = s.f.workspaces.ReleaseCloudContext(ctx, workspaceID, platform, cc.State, fc.FlightID)
	if err != nil && core.CodeOf(err) != core.ErrNotFound {
		return flight.Fatal(err)
	}
	return flight.Success()
}

type deleteContextRowStep struct {
	f *Flights
}

func (s *deleteContextRowStep) Name() string { return "delete-context-row" }

func (s *deleteContextRowStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	workspaceID := fc.Inputs.GetString(job.KeyWorkspaceID)
	platform := core.CloudPlatform(fc.Inputs.GetString(KeyPlatform))
	err := s.f.workspaces.DeleteCloudContext(ctx, workspaceID, platform)
	if err != nil && core.CodeOf(err) != core.ErrNotFound {
		return flight.Fatal(err)
	}
	return flight.Success()
}

func (s *deleteContextRowStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	var cc core.CloudContext
	ok, err := fc.Working.Get(wkContext, &cc)
	if err != nil {
		return flight.Fatal(err)
	}
	if !ok {
		return flight.Success()
	}
	if err := s.f.workspaces.CreateCloudContext(ctx, &cc); err != nil && core.CodeOf(err) != core.ErrConflictExists {
		return flight.Fatal(err)
	}
	return flight.Success()
}
