package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/flight"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/job"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/observability"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/policy"
)

func (f *Flights) buildClone(inputs flight.FlightMap) ([]flight.Step, error) {
	if inputs.GetString(KeySourceWorkspaceID) == "" || inputs.GetString(KeySourceResourceID) == "" {
		return nil, fmt.Errorf("clone flight requires %q and %q inputs", KeySourceWorkspaceID, KeySourceResourceID)
	}
	if inputs.GetString(job.KeyWorkspaceID) == "" {
		return nil, fmt.Errorf("clone flight requires a destination %q input", job.KeyWorkspaceID)
	}
	if o := inputs.GetString(KeyInstructionOverride); o != "" && !core.CloningInstructions(o).Valid() {
		return nil, fmt.Errorf("invalid cloning instructions override %q", o)
	}
	return []flight.Step{
		&resolveCloneStep{f: f},
		&mergePoliciesStep{f: f},
		&cloneCloudStep{f: f},
		&copyDataStep{f: f},
		&writeCloneRecordStep{f: f},
	}, nil
}

// effectiveInstruction resolves what this clone actually does: the source
// resource's declared instruction, unless overridden per call. For a
// referenced source only REFERENCE is meaningful; everything else degrades
// to a skip, since there is no data or definition to copy.
func effectiveInstruction(src *core.Resource, override core.CloningInstructions) core.CloningInstructions {
	instr := src.Cloning
	if override != "" {
		instr = override
	}
	if src.Stewardship == core.StewardshipReferenced && instr != core.CloneReference {
		return core.CloneNothing
	}
	return instr
}

// resolveCloneStep loads the source, resolves the effective instruction, and
// builds the destination record with its lineage extended by this hop.
type resolveCloneStep struct {
	f *Flights
}

func (s *resolveCloneStep) Name() string { return "resolve-clone" }

func (s *resolveCloneStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	srcWS := fc.Inputs.GetString(KeySourceWorkspaceID)
	srcID := fc.Inputs.GetString(KeySourceResourceID)
	destWS := fc.Inputs.GetString(job.KeyWorkspaceID)

	src, err := s.f.resources.GetResource(ctx, srcWS, srcID)
	if err != nil {
		return flight.Fatal(err)
	}
	if _, err := s.f.workspaces.GetWorkspace(ctx, destWS); err != nil {
		return flight.Fatal(err)
	}

	instr := effectiveInstruction(src, core.CloningInstructions(fc.Inputs.GetString(KeyInstructionOverride)))
	if err := fc.Working.Put(wkEffective, instr); err != nil {
		return flight.Fatal(err)
	}
	if err := fc.Working.Put(wkSourceType, src.Type); err != nil {
		return flight.Fatal(err)
	}
	if instr == core.CloneNothing {
		return flight.Success()
	}

	dest, err := s.destRecord(src, destWS, instr, fc)
	if err != nil {
		return flight.Fatal(err)
	}
	if err := fc.Working.Put(wkDest, dest); err != nil {
		return flight.Fatal(err)
	}
	return flight.Success()
}

func (s *resolveCloneStep) destRecord(src *core.Resource, destWS string, instr core.CloningInstructions, fc *flight.Context) (*core.Resource, error) {
	dest := *src
	dest.ID = core.NewID()
	dest.WorkspaceID = destWS
	dest.CreatedAt = time.Now().UTC()
	if submitter := fc.Inputs.GetString(job.KeySubmitter); submitter != "" {
		dest.CreatedBy = submitter
	}
	if name := fc.Inputs.GetString(KeyDestName); name != "" {
		dest.Name = name
	}
	if desc := fc.Inputs.GetString(KeyDestDescription); desc != "" {
		dest.Description = desc
	}

	// Lineage grows by exactly one entry per hop.
	dest.Lineage = append(append([]core.LineageEntry{}, src.Lineage...),
		core.LineageEntry{SourceWorkspaceID: src.WorkspaceID, SourceResourceID: src.ID})

	switch instr {
	case core.CloneReference:
		// The destination points at the same external object; it owns
		// nothing cloud-side.
		dest.Stewardship = core.StewardshipReferenced
		dest.AccessScope = ""
		dest.ManagedBy = ""
		dest.PrivateUser = nil
	case core.CloneDefinition, core.CloneResource:
		ops, err := opsFor(src.Type)
		if err != nil {
			return nil, err
		}
		if ops.rename != nil {
			name, err := ops.artifactName(src)
			if err != nil {
				return nil, err
			}
			if err := ops.rename(&dest, fmt.Sprintf("%s-%.8s", name, dest.ID)); err != nil {
				return nil, err
			}
		}
	}
	return &dest, nil
}

func (s *resolveCloneStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	return flight.Success()
}

// mergePoliciesStep reconciles the source workspace's policies into the
// destination's. The merge is computed first and applied only if every
// check passes; a policy conflict fails the step before any write, so the
// destination's stored set is untouched.
type mergePoliciesStep struct {
	f *Flights
}

func (s *mergePoliciesStep) Name() string { return "merge-policies" }

func (s *mergePoliciesStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	var instr core.CloningInstructions
	if _, err := fc.Working.Get(wkEffective, &instr); err != nil {
		return flight.Fatal(err)
	}
	if instr == core.CloneNothing {
		return flight.Success()
	}

	srcWS := fc.Inputs.GetString(KeySourceWorkspaceID)
	destWS := fc.Inputs.GetString(job.KeyWorkspaceID)

	srcPolicies, err := s.f.workspaces.GetPolicies(ctx, srcWS)
	if err != nil {
		return flight.Fatal(err)
	}
	destPolicies, err := s.f.workspaces.GetPolicies(ctx, destWS)
	if err != nil {
		return flight.Fatal(err)
	}

	merged, err := policy.Merge(destPolicies, srcPolicies)
	if err != nil {
		return flight.Fatal(err)
	}

	// Resource-level placement check, after the workspace-level merge
	// passes. Reference clones place nothing and are exempt.
	if instr == core.CloneDefinition || instr == core.CloneResource {
		var dest core.Resource
		if _, err := fc.Working.Get(wkDest, &dest); err != nil {
			return flight.Fatal(err)
		}
		if err := policy.ValidateRegion(dest.Region(), merged); err != nil {
			return flight.Fatal(err)
		}
	}

	if err := fc.Working.Put(wkPrevPolicies, destPolicies); err != nil {
		return flight.Fatal(err)
	}
	if err := s.f.workspaces.ReplacePolicies(ctx, destWS, merged); err != nil {
		return flight.Fatal(err)
	}
	return flight.Success()
}

func (s *mergePoliciesStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	var prev []core.PolicyInput
	ok, err := fc.Working.Get(wkPrevPolicies, &prev)
	if err != nil {
		return flight.Fatal(err)
	}
	if !ok {
		// Do never reached the write.
		return flight.Success()
	}
	destWS := fc.Inputs.GetString(job.KeyWorkspaceID)
	if err := s.f.workspaces.ReplacePolicies(ctx, destWS, prev); err != nil {
		return flight.Fatal(err)
	}
	return flight.Success()
}

// cloneCloudStep provisions the destination artifact for DEFINITION and
// RESOURCE clones.
type cloneCloudStep struct {
	f *Flights
}

func (s *cloneCloudStep) Name() string { return "clone-cloud-artifact" }

func (s *cloneCloudStep) placesArtifact(fc *flight.Context) (*core.Resource, bool, error) {
	var instr core.CloningInstructions
	if _, err := fc.Working.Get(wkEffective, &instr); err != nil {
		return nil, false, err
	}
	if instr != core.CloneDefinition && instr != core.CloneResource {
		return nil, false, nil
	}
	var dest core.Resource
	if _, err := fc.Working.Get(wkDest, &dest); err != nil {
		return nil, false, err
	}
	return &dest, hasCloudArtifact(&dest), nil
}

func (s *cloneCloudStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	dest, places, err := s.placesArtifact(fc)
	if err != nil {
		return flight.Fatal(err)
	}
	if !places {
		return flight.Success()
	}
	ops, err := opsFor(dest.Type)
	if err != nil {
		return flight.Fatal(err)
	}
	return providerResult(ops.create(ctx, s.f.providers, dest))
}

func (s *cloneCloudStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	dest, places, err := s.placesArtifact(fc)
	if err != nil {
		return flight.Fatal(err)
	}
	if !places {
		return flight.Success()
	}
	ops, err := opsFor(dest.Type)
	if err != nil {
		return flight.Fatal(err)
	}
	return providerResult(ops.remove(ctx, s.f.providers, dest))
}

// copyDataStep moves the artifact contents for RESOURCE clones. DEFINITION
// clones stop at the empty artifact.
type copyDataStep struct {
	f *Flights
}

func (s *copyDataStep) Name() string { return "copy-resource-data" }

func (s *copyDataStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	var instr core.CloningInstructions
	if _, err := fc.Working.Get(wkEffective, &instr); err != nil {
		return flight.Fatal(err)
	}
	if instr != core.CloneResource {
		return flight.Success()
	}
	var dest core.Resource
	if _, err := fc.Working.Get(wkDest, &dest); err != nil {
		return flight.Fatal(err)
	}
	ops, err := opsFor(dest.Type)
	if err != nil {
		return flight.Fatal(err)
	}
	if ops.copyData == nil {
		return flight.Success()
	}

	src, err := s.f.resources.GetResource(ctx,
		fc.Inputs.GetString(KeySourceWorkspaceID), fc.Inputs.GetString(KeySourceResourceID))
	if err != nil {
		return flight.Fatal(err)
	}
	start := time.Now()
	res := providerResult(ops.copyData(ctx, s.f.providers, src, &dest))
	observability.CloneDuration.WithLabelValues(string(dest.Type)).Observe(time.Since(start).Seconds())
	return res
}

// Undo is a no-op: removing the destination artifact discards the copied
// data along with it.
func (s *copyDataStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	return flight.Success()
}

// writeCloneRecordStep commits the destination row and surfaces the outcome
// through the job result. A NOTHING clone commits nothing at all.
type writeCloneRecordStep struct {
	f *Flights
}

func (s *writeCloneRecordStep) Name() string { return "write-clone-record" }

func (s *writeCloneRecordStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	var instr core.CloningInstructions
	if _, err := fc.Working.Get(wkEffective, &instr); err != nil {
		return flight.Fatal(err)
	}
	if instr == core.CloneNothing {
		if err := fc.Working.Put(job.KeyResponse, map[string]any{"skipped": true}); err != nil {
			return flight.Fatal(err)
		}
		var srcType core.ResourceType
		if _, err := fc.Working.Get(wkSourceType, &srcType); err != nil {
			return flight.Fatal(err)
		}
		observability.CloneResourceTotal.WithLabelValues(string(srcType), string(instr), "skipped").Inc()
		return flight.Success()
	}

	var dest core.Resource
	if _, err := fc.Working.Get(wkDest, &dest); err != nil {
		return flight.Fatal(err)
	}
	if err := s.f.resources.CreateResource(ctx, &dest); err != nil {
		if core.CodeOf(err) != core.ErrConflictExists {
			return flight.Fatal(err)
		}
		if _, getErr := s.f.resources.GetResource(ctx, dest.WorkspaceID, dest.ID); getErr != nil {
			return flight.Fatal(err)
		}
	}
	if err := fc.Working.Put(job.KeyResponse, dest); err != nil {
		return flight.Fatal(err)
	}
	observability.CloneResourceTotal.WithLabelValues(string(dest.Type), string(instr), "success").Inc()
	return flight.Success()
}

func (s *writeCloneRecordStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	var dest core.Resource
	ok, err := fc.Working.Get(wkDest, &dest)
	if err != nil {
		return flight.Fatal(err)
	}
	if !ok {
		return flight.Success()
	}
	err = s.f.resources.DeleteResource(ctx, dest.WorkspaceID, dest.ID)
	if err != nil && core.CodeOf(err) != core.ErrNotFound {
		return flight.Fatal(err)
	}
	return flight.Success()
}
