package resource

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/cloud"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/flight"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/job"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/observability"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/policy"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/store"
)

type harness struct {
	engine *flight.Engine
	mem    *store.Memory
	fake   *cloud.FakeProvider
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := store.NewMemory()
	fake := cloud.NewFakeProvider()

	reg := flight.NewRegistry()
	NewFlights(mem, mem, fake.AllPorts()).Register(reg)

	cfg := flight.DefaultConfig()
	cfg.Workers = 2
	cfg.PollInterval = 5 * time.Millisecond
	cfg.MaxStepAttempts = 3
	cfg.RetryInitialBackoff = time.Millisecond
	cfg.RetryMaxBackoff = 2 * time.Millisecond

	engine := flight.NewEngine(mem, reg, cfg, zaptest.NewLogger(t))
	engine.Start(context.Background())
	t.Cleanup(engine.Stop)

	return &harness{engine: engine, mem: mem, fake: fake}
}

func (h *harness) addWorkspace(t *testing.T, id string, policies ...core.PolicyInput) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.mem.CreateWorkspace(ctx, &core.Workspace{
		ID:           id,
		UserFacingID: "ufid-" + id,
		Stage:        core.StageMC,
		CreatedBy:    "user@example.com",
		CreatedAt:    time.Now().UTC(),
	}))
	if len(policies) > 0 {
		require.NoError(t, h.mem.ReplacePolicies(ctx, id, policies))
	}
}

func (h *harness) run(t *testing.T, flightType string, inputs flight.FlightMap) *flight.State {
	t.Helper()
	ctx := context.Background()
	id := core.NewID()
	require.NoError(t, h.engine.Submit(ctx, id, flightType, inputs))
	st, err := h.engine.Wait(ctx, id, 2*time.Second)
	require.NoError(t, err)
	return st
}

func bucketResource(workspaceID, name, bucketName, region string, instr core.CloningInstructions) core.Resource {
	return core.Resource{
		ID:          core.NewID(),
		WorkspaceID: workspaceID,
		Name:        name,
		Type:        core.ResourceStorageBucket,
		Stewardship: core.StewardshipControlled,
		Cloning:     instr,
		Attributes:  mustAttrs(core.BucketAttributes{BucketName: bucketName, Region: region}),
		AccessScope: core.AccessShared,
		ManagedBy:   core.ManagedByUser,
		CreatedBy:   "user@example.com",
		CreatedAt:   time.Now().UTC(),
	}
}

func mustAttrs(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func createInputs(t *testing.T, r core.Resource) flight.FlightMap {
	t.Helper()
	inputs := flight.NewFlightMap()
	require.NoError(t, inputs.Put(KeyResource, r))
	require.NoError(t, inputs.Put(job.KeyWorkspaceID, r.WorkspaceID))
	return inputs
}

func cloneInputs(t *testing.T, srcWS, srcID, destWS string, override core.CloningInstructions) flight.FlightMap {
	t.Helper()
	inputs := flight.NewFlightMap()
	require.NoError(t, inputs.Put(KeySourceWorkspaceID, srcWS))
	require.NoError(t, inputs.Put(KeySourceResourceID, srcID))
	require.NoError(t, inputs.Put(job.KeyWorkspaceID, destWS))
	if override != "" {
		require.NoError(t, inputs.Put(KeyInstructionOverride, override))
	}
	return inputs
}

func TestCreateBucketResource(t *testing.T) {
	h := newHarness(t)
	h.addWorkspace(t, "ws-1")
	r := bucketResource("ws-1", "my-bucket", "b-1", "us-east-1", core.CloneResource)

	st := h.run(t, FlightCreate, createInputs(t, r))
	require.Equal(t, flight.StatusSuccess, st.Status)

	assert.True(t, h.fake.BucketExists("b-1"))
	got, err := h.mem.GetResource(context.Background(), "ws-1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", got.Name)
	assert.Empty(t, got.Lineage)
}

func TestCreateFailureRollsBackCloudArtifact(t *testing.T) {
	h := newHarness(t)
	h.addWorkspace(t, "ws-1")

	// First a record with the same name so the db write conflicts.
	existing := bucketResource("ws-1", "my-bucket", "b-0", "us-east-1", core.CloneNothing)
	require.NoError(t, h.mem.CreateResource(context.Background(), &existing))

	r := bucketResource("ws-1", "my-bucket", "b-1", "us-east-1", core.CloneResource)
	st := h.run(t, FlightCreate, createInputs(t, r))

	require.Equal(t, flight.StatusError, st.Status)
	assert.False(t, h.fake.BucketExists("b-1"), "undo should remove the orphaned bucket")
}

func TestCreateRetriesTransientProviderFailure(t *testing.T) {
	h := newHarness(t)
	h.addWorkspace(t, "ws-1")
	h.fake.FailOps["CreateBucket:b-1"] = cloud.Transient(errors.New("throttled"))

	r := bucketResource("ws-1", "my-bucket", "b-1", "us-east-1", core.CloneResource)
	st := h.run(t, FlightCreate, createInputs(t, r))

	require.Equal(t, flight.StatusSuccess, st.Status)
	assert.True(t, h.fake.BucketExists("b-1"))
}

func TestDeleteResource(t *testing.T) {
	h := newHarness(t)
	h.addWorkspace(t, "ws-1")
	r := bucketResource("ws-1", "my-bucket", "b-1", "us-east-1", core.CloneResource)
	require.Equal(t, flight.StatusSuccess, h.run(t, FlightCreate, createInputs(t, r)).Status)

	inputs := flight.NewFlightMap()
	require.NoError(t, inputs.Put(job.KeyWorkspaceID, "ws-1"))
	require.NoError(t, inputs.Put(KeyResourceID, r.ID))
	st := h.run(t, FlightDelete, inputs)

	require.Equal(t, flight.StatusSuccess, st.Status)
	assert.False(t, h.fake.BucketExists("b-1"))
	_, err := h.mem.GetResource(context.Background(), "ws-1", r.ID)
	assert.Equal(t, core.ErrNotFound, core.CodeOf(err))
}

func TestCloneNothingCreatesNoRecord(t *testing.T) {
	h := newHarness(t)
	h.addWorkspace(t, "ws-1")
	h.addWorkspace(t, "ws-2")
	r := bucketResource("ws-1", "my-bucket", "b-1", "us-east-1", core.CloneNothing)
	require.Equal(t, flight.StatusSuccess, h.run(t, FlightCreate, createInputs(t, r)).Status)

	skipped := observability.CloneResourceTotal.WithLabelValues(
		string(core.ResourceStorageBucket), string(core.CloneNothing), "skipped")
	before := testutil.ToFloat64(skipped)

	st := h.run(t, FlightClone, cloneInputs(t, "ws-1", r.ID, "ws-2", ""))
	require.Equal(t, flight.StatusSuccess, st.Status)

	list, err := h.mem.ListResources(context.Background(), "ws-2")
	require.NoError(t, err)
	assert.Empty(t, list, "NOTHING clone must leave the destination empty")
	// The skip counts under the source's resource type, not an empty label.
	assert.Equal(t, before+1, testutil.ToFloat64(skipped))
}

func TestCloneResourceCopiesDataAndExtendsLineage(t *testing.T) {
	h := newHarness(t)
	h.addWorkspace(t, "ws-1")
	h.addWorkspace(t, "ws-2")
	r := bucketResource("ws-1", "my-bucket", "b-1", "us-east-1", core.CloneResource)
	require.Equal(t, flight.StatusSuccess, h.run(t, FlightCreate, createInputs(t, r)).Status)
	h.fake.SeedObjects("b-1", "obj/a", "obj/b")

	st := h.run(t, FlightClone, cloneInputs(t, "ws-1", r.ID, "ws-2", ""))
	require.Equal(t, flight.StatusSuccess, st.Status)

	ctx := context.Background()
	list, err := h.mem.ListResources(ctx, "ws-2")
	require.NoError(t, err)
	require.Len(t, list, 1)
	first := list[0]
	require.Equal(t, []core.LineageEntry{{SourceWorkspaceID: "ws-1", SourceResourceID: r.ID}}, first.Lineage)

	destName, err := opsByType[core.ResourceStorageBucket].artifactName(&first)
	require.NoError(t, err)
	assert.Equal(t, 2, h.fake.ObjectCount(destName))

	// Second hop: clone the clone into a third workspace.
	h.addWorkspace(t, "ws-3")
	st = h.run(t, FlightClone, cloneInputs(t, "ws-2", first.ID, "ws-3", ""))
	require.Equal(t, flight.StatusSuccess, st.Status)

	list, err = h.mem.ListResources(ctx, "ws-3")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []core.LineageEntry{
		{SourceWorkspaceID: "ws-1", SourceResourceID: r.ID},
		{SourceWorkspaceID: "ws-2", SourceResourceID: first.ID},
	}, list[0].Lineage)
}

func TestCloneReferenceCreatesNoArtifact(t *testing.T) {
	h := newHarness(t)
	h.addWorkspace(t, "ws-1")
	h.addWorkspace(t, "ws-2")
	r := bucketResource("ws-1", "my-bucket", "b-1", "us-east-1", core.CloneReference)
	require.Equal(t, flight.StatusSuccess, h.run(t, FlightCreate, createInputs(t, r)).Status)

	st := h.run(t, FlightClone, cloneInputs(t, "ws-1", r.ID, "ws-2", ""))
	require.Equal(t, flight.StatusSuccess, st.Status)

	list, err := h.mem.ListResources(context.Background(), "ws-2")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, core.StewardshipReferenced, list[0].Stewardship)

	// Still pointing at the source's bucket; no new artifact provisioned.
	name, err := opsByType[core.ResourceStorageBucket].artifactName(&list[0])
	require.NoError(t, err)
	assert.Equal(t, "b-1", name)
}

func TestCloneRegionConflictLeavesDestinationUnchanged(t *testing.T) {
	h := newHarness(t)
	h.addWorkspace(t, "ws-1", policy.RegionPolicy("us-central1"))
	h.addWorkspace(t, "ws-2", policy.RegionPolicy("us-east1"))
	r := bucketResource("ws-1", "my-bucket", "b-1", "us-central1", core.CloneResource)
	require.Equal(t, flight.StatusSuccess, h.run(t, FlightCreate, createInputs(t, r)).Status)

	before, err := h.mem.GetPolicies(context.Background(), "ws-2")
	require.NoError(t, err)

	st := h.run(t, FlightClone, cloneInputs(t, "ws-1", r.ID, "ws-2", ""))
	require.Equal(t, flight.StatusError, st.Status)
	assert.Equal(t, string(core.ErrPolicyConflict), st.ErrorCode)

	after, err := h.mem.GetPolicies(context.Background(), "ws-2")
	require.NoError(t, err)
	assert.Equal(t, before, after, "conflict must leave the destination policy set untouched")

	list, err := h.mem.ListResources(context.Background(), "ws-2")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCloneAdoptsSourceRegionPolicy(t *testing.T) {
	h := newHarness(t)
	h.addWorkspace(t, "ws-1", policy.RegionPolicy("us-central1"))
	h.addWorkspace(t, "ws-2")
	r := bucketResource("ws-1", "my-bucket", "b-1", "us-central1", core.CloneResource)
	require.Equal(t, flight.StatusSuccess, h.run(t, FlightCreate, createInputs(t, r)).Status)

	st := h.run(t, FlightClone, cloneInputs(t, "ws-1", r.ID, "ws-2", ""))
	require.Equal(t, flight.StatusSuccess, st.Status)

	got, err := h.mem.GetPolicies(context.Background(), "ws-2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"us-central1"}, policy.AllowedRegions(got))
}

func TestCloneResourceRegionOutsideMergedPolicy(t *testing.T) {
	h := newHarness(t)
	// Workspace-level policies are compatible; the resource's own placement
	// is not.
	h.addWorkspace(t, "ws-1", policy.RegionPolicy("us-central1", "us-east1"))
	h.addWorkspace(t, "ws-2", policy.RegionPolicy("us-central1"))
	r := bucketResource("ws-1", "my-bucket", "b-1", "us-east1", core.CloneResource)
	require.Equal(t, flight.StatusSuccess, h.run(t, FlightCreate, createInputs(t, r)).Status)

	st := h.run(t, FlightClone, cloneInputs(t, "ws-1", r.ID, "ws-2", ""))
	require.Equal(t, flight.StatusError, st.Status)
	assert.Equal(t, string(core.ErrPolicyConflict), st.ErrorCode)
}

func TestCloneReferenceExemptFromResourceRegionCheck(t *testing.T) {
	h := newHarness(t)
	h.addWorkspace(t, "ws-1", policy.RegionPolicy("us-central1", "us-east1"))
	h.addWorkspace(t, "ws-2", policy.RegionPolicy("us-central1"))
	r := bucketResource("ws-1", "my-bucket", "b-1", "us-east1", core.CloneResource)
	require.Equal(t, flight.StatusSuccess, h.run(t, FlightCreate, createInputs(t, r)).Status)

	st := h.run(t, FlightClone, cloneInputs(t, "ws-1", r.ID, "ws-2", core.CloneReference))
	require.Equal(t, flight.StatusSuccess, st.Status)
}

func TestCloneFailureRollsBackPoliciesAndArtifact(t *testing.T) {
	h := newHarness(t)
	h.addWorkspace(t, "ws-1", policy.RegionPolicy("us-central1"))
	h.addWorkspace(t, "ws-2")
	r := bucketResource("ws-1", "my-bucket", "b-1", "us-central1", core.CloneResource)
	require.Equal(t, flight.StatusSuccess, h.run(t, FlightCreate, createInputs(t, r)).Status)

	// Fail the data copy so the flight unwinds after policies were applied
	// and the destination bucket was provisioned.
	h.fake.FailOps["CopyBucketObjects:b-1"] = errors.New("copy exploded")

	st := h.run(t, FlightClone, cloneInputs(t, "ws-1", r.ID, "ws-2", ""))
	require.Equal(t, flight.StatusError, st.Status)

	ctx := context.Background()
	got, err := h.mem.GetPolicies(ctx, "ws-2")
	require.NoError(t, err)
	assert.Empty(t, got, "rollback must restore the destination's empty policy set")

	list, err := h.mem.ListResources(ctx, "ws-2")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCloneMissingSourceFails(t *testing.T) {
	h := newHarness(t)
	h.addWorkspace(t, "ws-1")
	h.addWorkspace(t, "ws-2")

	st := h.run(t, FlightClone, cloneInputs(t, "ws-1", "no-such", "ws-2", ""))
	require.Equal(t, flight.StatusError, st.Status)
	assert.Equal(t, string(core.ErrNotFound), st.ErrorCode)
}
