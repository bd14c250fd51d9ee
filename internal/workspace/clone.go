package workspace

import (
	"context"
	"fmt"
	"strings"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/flight"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/job"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/policy"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/resource"
)

func (f *Flights) buildWorkspaceClone(inputs flight.FlightMap) ([]flight.Step, error) {
	if inputs.GetString(resource.KeySourceWorkspaceID) == "" {
		return nil, fmt.Errorf("workspace clone flight requires a %q input", resource.KeySourceWorkspaceID)
	}
	var ws core.Workspace
	if ok, err := inputs.Get(KeyWorkspace, &ws); !ok || err != nil {
		return nil, fmt.Errorf("workspace clone flight requires a destination %q input: %v", KeyWorkspace, err)
	}
	if ws.ID == "" || ws.UserFacingID == "" {
		return nil, fmt.Errorf("destination workspace id and user-facing id are required")
	}
	return []flight.Step{
		&writeCloneWorkspaceStep{writeWorkspaceStep{f: f}},
		&mergeClonePoliciesStep{f: f},
		&cloneResourcesStep{f: f},
	}, nil
}

// writeCloneWorkspaceStep writes the destination record like a plain
// create, but its undo leaves the destination in place once any resource
// copy has committed: deleting the workspace then would take the caller's
// cloned data with it.
type writeCloneWorkspaceStep struct {
	writeWorkspaceStep
}

func (s *writeCloneWorkspaceStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	if anyCommittedClones(fc) {
		return flight.Success()
	}
	return s.writeWorkspaceStep.Undo(ctx, fc)
}

// mergeClonePoliciesStep merges the source workspace's policies, plus any
// caller-supplied additional policies, into the fresh destination. A
// conflict here fails the clone before any resource is copied.
type mergeClonePoliciesStep struct {
	f *Flights
}

func (s *mergeClonePoliciesStep) Name() string { return "merge-workspace-policies" }

func (s *mergeClonePoliciesStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	var dest core.Workspace
	if _, err := fc.Inputs.Get(KeyWorkspace, &dest); err != nil {
		return flight.Fatal(err)
	}
	srcWS := fc.Inputs.GetString(resource.KeySourceWorkspaceID)

	srcPolicies, err := s.f.workspaces.GetPolicies(ctx, srcWS)
	if err != nil {
		return flight.Fatal(err)
	}
	var additional []core.PolicyInput
	if _, err := fc.Inputs.Get(KeyAdditionalPolicies, &additional); err != nil {
		return flight.Fatal(err)
	}
	destPolicies, err := s.f.workspaces.GetPolicies(ctx, dest.ID)
	if err != nil {
		return flight.Fatal(err)
	}

	merged, err := policy.Merge(destPolicies, srcPolicies)
	if err != nil {
		return flight.Fatal(err)
	}
	merged, err = policy.Merge(merged, additional)
	if err != nil {
		return flight.Fatal(err)
	}

	if err := fc.Working.Put(wkPrevPolicies, destPolicies); err != nil {
		return flight.Fatal(err)
	}
	if err := s.f.workspaces.ReplacePolicies(ctx, dest.ID, merged); err != nil {
		return flight.Fatal(err)
	}
	return flight.Success()
}

func (s *mergeClonePoliciesStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	if anyCommittedClones(fc) {
		// Committed copies live under the merged policy set; reverting it
		// would misdescribe the data the destination keeps.
		return flight.Success()
	}
	var prev []core.PolicyInput
	ok, err := fc.Working.Get(wkPrevPolicies, &prev)
	if err != nil {
		return flight.Fatal(err)
	}
	if !ok {
		return flight.Success()
	}
	var dest core.Workspace
	if _, err := fc.Inputs.Get(KeyWorkspace, &dest); err != nil {
		return flight.Fatal(err)
	}
	err = s.f.workspaces.ReplacePolicies(ctx, dest.ID, prev)
	if err != nil && core.CodeOf(err) != core.ErrNotFound {
		return flight.Fatal(err)
	}
	return flight.Success()
}

// CloneResult is the per-resource outcome of a workspace clone.
type CloneResult struct {
	SourceResourceID string `json:"source_resource_id"`
	Name             string `json:"name"`
	Status           string `json:"status"`
	DestResourceID   string `json:"dest_resource_id,omitempty"`
	Error            string `json:"error,omitempty"`
}

// cloneResourcesStep runs one nested resource-clone flight per source
// resource, honoring each one's own cloning instruction. Failures are
// recorded and the walk continues: every data copy is isolated in its own
// flight, so one resource's rollback cannot corrupt the others' committed
// copies. A walk with any failed resource fails the whole flight, carrying
// the per-resource errors, while committed copies stay in place.
type cloneResourcesStep struct {
	f *Flights
}

func (s *cloneResourcesStep) Name() string { return "clone-workspace-resources" }

func (s *cloneResourcesStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	var dest core.Workspace
	if _, err := fc.Inputs.Get(KeyWorkspace, &dest); err != nil {
		return flight.Fatal(err)
	}
	srcWS := fc.Inputs.GetString(resource.KeySourceWorkspaceID)

	sources, err := s.f.resources.ListResources(ctx, srcWS)
	if err != nil {
		return flight.Fatal(err)
	}

	results := make([]CloneResult, 0, len(sources))
	for _, src := range sources {
		res := CloneResult{SourceResourceID: src.ID, Name: src.Name}

		subInputs := flight.NewFlightMap()
		fail := firstErr(
			subInputs.Put(resource.KeySourceWorkspaceID, srcWS),
			subInputs.Put(resource.KeySourceResourceID, src.ID),
			subInputs.Put(job.KeyWorkspaceID, dest.ID),
			subInputs.Put(job.KeyOperationType, core.OperationClone),
			subInputs.Put(job.KeySubmitter, fc.Inputs.GetString(job.KeySubmitter)),
		)
		if fail != nil {
			return flight.Fatal(fail)
		}

		// A deterministic subflight id keeps the relaunch idempotent when
		// this step replays after a crash.
		subID := fmt.Sprintf("%s-%s", fc.FlightID, src.ID)
		if err := fc.LaunchSubflight(ctx, subID, resource.FlightClone, subInputs); err != nil {
			return flight.Fatal(err)
		}
		st, waitRes := fc.WaitSubflight(ctx, subID)
		if waitRes.Status != flight.StepSuccess {
			if st == nil {
				// Interrupted wait; fail the parent step, not the record.
				return waitRes
			}
			res.Status = "FAILED"
			res.Error = st.ErrorMessage
		} else {
			res.Status = "SUCCEEDED"
			var cloned core.Resource
			if ok, _ := st.Working.Get(job.KeyResponse, &cloned); ok {
				res.DestResourceID = cloned.ID
			}
		}
		results = append(results, res)
	}

	if err := fc.Working.Put(KeyCloneResults, results); err != nil {
		return flight.Fatal(err)
	}
	if err := fc.Working.Put(job.KeyResponse, map[string]any{
		"workspace":     dest,
		"clone_results": results,
	}); err != nil {
		return flight.Fatal(err)
	}

	var failed []string
	for _, r := range results {
		if r.Status == "FAILED" {
			failed = append(failed, fmt.Sprintf("%s: %s", r.Name, r.Error))
		}
	}
	if len(failed) > 0 {
		return flight.Fatal(fmt.Errorf("cloned %d of %d resources; failed: %s",
			len(results)-len(failed), len(results), strings.Join(failed, "; ")))
	}
	return flight.Success()
}

// anyCommittedClones reports whether at least one resource clone has
// committed under the destination workspace.
func anyCommittedClones(fc *flight.Context) bool {
	var results []CloneResult
	if ok, err := fc.Working.Get(KeyCloneResults, &results); !ok || err != nil {
		return false
	}
	for _, r := range results {
		if r.Status == "SUCCEEDED" {
			return true
		}
	}
	return false
}

// Undo is a no-op: nested flights that failed already rolled themselves
// back, and committed per-resource copies are deliberately left in place.
func (s *cloneResourcesStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	return flight.Success()
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
