package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/cloud"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/flight"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/job"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/policy"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/resource"
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
	resource.NewFlights(mem, mem, fake.AllPorts()).Register(reg)
	NewFlights(mem, mem, fake.AllPorts()).Register(reg)

	cfg := flight.DefaultConfig()
	cfg.Workers = 4
	cfg.PollInterval = 5 * time.Millisecond
	cfg.MaxStepAttempts = 3
	cfg.RetryInitialBackoff = time.Millisecond
	cfg.RetryMaxBackoff = 2 * time.Millisecond

	engine := flight.NewEngine(mem, reg, cfg, zaptest.NewLogger(t))
	engine.Start(context.Background())
	t.Cleanup(engine.Stop)

	return &harness{engine: engine, mem: mem, fake: fake}
}

func (h *harness) run(t *testing.T, flightType string, inputs flight.FlightMap) *flight.State {
	t.Helper()
	ctx := context.Background()
	id := core.NewID()
	require.NoError(t, h.engine.Submit(ctx, id, flightType, inputs))
	st, err := h.engine.Wait(ctx, id, 5*time.Second)
	require.NoError(t, err)
	return st
}

func testWorkspace(id string) core.Workspace {
	return core.Workspace{
		ID:           id,
		UserFacingID: "ufid-" + id,
		DisplayName:  "Workspace " + id,
		Stage:        core.StageMC,
		CreatedBy:    "user@example.com",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
}

func createWorkspaceInputs(t *testing.T, ws core.Workspace, policies ...core.PolicyInput) flight.FlightMap {
	t.Helper()
	inputs := flight.NewFlightMap()
	require.NoError(t, inputs.Put(KeyWorkspace, ws))
	require.NoError(t, inputs.Put(job.KeyWorkspaceID, ws.ID))
	if len(policies) > 0 {
		require.NoError(t, inputs.Put(KeyPolicies, policies))
	}
	return inputs
}

func (h *harness) addBucket(t *testing.T, workspaceID, name, bucketName string, instr core.CloningInstructions) core.Resource {
	t.Helper()
	attrs, err := json.Marshal(core.BucketAttributes{BucketName: bucketName, Region: "us-central1"})
	require.NoError(t, err)
	r := core.Resource{
		ID:          core.NewID(),
		WorkspaceID: workspaceID,
		Name:        name,
		Type:        core.ResourceStorageBucket,
		Stewardship: core.StewardshipControlled,
		Cloning:     instr,
		Attributes:  attrs,
		CreatedBy:   "user@example.com",
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, h.mem.CreateResource(context.Background(), &r))
	require.NoError(t, h.fake.CreateBucket(context.Background(), bucketName, "us-central1"))
	return r
}

func TestWorkspaceCreateAppliesPolicies(t *testing.T) {
	h := newHarness(t)
	ws := testWorkspace("ws-1")

	st := h.run(t, FlightWorkspaceCreate, createWorkspaceInputs(t, ws, policy.RegionPolicy("us-central1")))
	require.Equal(t, flight.StatusSuccess, st.Status)

	ctx := context.Background()
	got, err := h.mem.GetWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "ufid-ws-1", got.UserFacingID)

	policies, err := h.mem.GetPolicies(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"us-central1"}, policy.AllowedRegions(policies))
}

func TestWorkspaceCreateDuplicateUserFacingIDFails(t *testing.T) {
	h := newHarness(t)
	first := testWorkspace("ws-1")
	require.Equal(t, flight.StatusSuccess, h.run(t, FlightWorkspaceCreate, createWorkspaceInputs(t, first)).Status)

	second := testWorkspace("ws-2")
	second.UserFacingID = first.UserFacingID
	st := h.run(t, FlightWorkspaceCreate, createWorkspaceInputs(t, second))

	require.Equal(t, flight.StatusError, st.Status)
	assert.Equal(t, string(core.ErrConflictExists), st.ErrorCode)
	_, err := h.mem.GetWorkspace(context.Background(), "ws-2")
	assert.Equal(t, core.ErrNotFound, core.CodeOf(err))
}

func TestWorkspaceDeleteTearsDownResources(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, flight.StatusSuccess,
		h.run(t, FlightWorkspaceCreate, createWorkspaceInputs(t, testWorkspace("ws-1"))).Status)
	h.addBucket(t, "ws-1", "bucket-a", "b-a", core.CloneResource)

	inputs := flight.NewFlightMap()
	require.NoError(t, inputs.Put(job.KeyWorkspaceID, "ws-1"))
	st := h.run(t, FlightWorkspaceDelete, inputs)

	require.Equal(t, flight.StatusSuccess, st.Status)
	assert.False(t, h.fake.BucketExists("b-a"))
	_, err := h.mem.GetWorkspace(context.Background(), "ws-1")
	assert.Equal(t, core.ErrNotFound, core.CodeOf(err))
}

func contextInputs(t *testing.T, workspaceID string, platform core.CloudPlatform) flight.FlightMap {
	t.Helper()
	inputs := flight.NewFlightMap()
	require.NoError(t, inputs.Put(job.KeyWorkspaceID, workspaceID))
	require.NoError(t, inputs.Put(KeyPlatform, platform))
	return inputs
}

func TestCloudContextCreate(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, flight.StatusSuccess,
		h.run(t, FlightWorkspaceCreate, createWorkspaceInputs(t, testWorkspace("ws-1"))).Status)

	st := h.run(t, FlightContextCreate, contextInputs(t, "ws-1", core.PlatformAWS))
	require.Equal(t, flight.StatusSuccess, st.Status)

	cc, err := h.mem.GetCloudContext(context.Background(), "ws-1", core.PlatformAWS)
	require.NoError(t, err)
	assert.Equal(t, core.ContextReady, cc.State)
	assert.Empty(t, cc.FlightID, "settled context must carry no claim")
	assert.NotEmpty(t, cc.ProviderFields["environment_id"])
}

func TestCloudContextSingleWriter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.Equal(t, flight.StatusSuccess,
		h.run(t, FlightWorkspaceCreate, createWorkspaceInputs(t, testWorkspace("ws-1"))).Status)

	// A context row mid-operation under another flight.
	require.NoError(t, h.mem.CreateCloudContext(ctx, &core.CloudContext{
		WorkspaceID: "ws-1",
		Platform:    core.PlatformGCP,
		State:       core.ContextCreating,
		FlightID:    "some-other-flight",
		CreatedAt:   time.Now().UTC(),
	}))

	st := h.run(t, FlightContextDelete, contextInputs(t, "ws-1", core.PlatformGCP))
	require.Equal(t, flight.StatusError, st.Status)
	assert.Equal(t, string(core.ErrConflictLocked), st.ErrorCode)

	cc, err := h.mem.GetCloudContext(ctx, "ws-1", core.PlatformGCP)
	require.NoError(t, err)
	assert.Equal(t, "some-other-flight", cc.FlightID, "foreign claim must survive the failed flight")
}

func TestCloudContextDelete(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, flight.StatusSuccess,
		h.run(t, FlightWorkspaceCreate, createWorkspaceInputs(t, testWorkspace("ws-1"))).Status)
	require.Equal(t, flight.StatusSuccess,
		h.run(t, FlightContextCreate, contextInputs(t, "ws-1", core.PlatformAWS)).Status)

	st := h.run(t, FlightContextDelete, contextInputs(t, "ws-1", core.PlatformAWS))
	require.Equal(t, flight.StatusSuccess, st.Status)

	_, err := h.mem.GetCloudContext(context.Background(), "ws-1", core.PlatformAWS)
	assert.Equal(t, core.ErrNotFound, core.CodeOf(err))
}

func cloneWorkspaceInputs(t *testing.T, srcID string, dest core.Workspace, additional ...core.PolicyInput) flight.FlightMap {
	t.Helper()
	inputs := flight.NewFlightMap()
	require.NoError(t, inputs.Put(resource.KeySourceWorkspaceID, srcID))
	require.NoError(t, inputs.Put(KeyWorkspace, dest))
	require.NoError(t, inputs.Put(job.KeyWorkspaceID, dest.ID))
	require.NoError(t, inputs.Put(job.KeySubmitter, "user@example.com"))
	if len(additional) > 0 {
		require.NoError(t, inputs.Put(KeyAdditionalPolicies, additional))
	}
	return inputs
}

func TestWorkspaceCloneHonorsPerResourceInstructions(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, flight.StatusSuccess,
		h.run(t, FlightWorkspaceCreate, createWorkspaceInputs(t, testWorkspace("ws-src"))).Status)
	copied := h.addBucket(t, "ws-src", "bucket-copy", "b-copy", core.CloneResource)
	skipped := h.addBucket(t, "ws-src", "bucket-skip", "b-skip", core.CloneNothing)
	h.fake.SeedObjects("b-copy", "data/1", "data/2")

	st := h.run(t, FlightWorkspaceClone, cloneWorkspaceInputs(t, "ws-src", testWorkspace("ws-dst")))
	require.Equal(t, flight.StatusSuccess, st.Status)

	ctx := context.Background()
	list, err := h.mem.ListResources(ctx, "ws-dst")
	require.NoError(t, err)
	require.Len(t, list, 1, "NOTHING resource must not land in the destination")
	assert.Equal(t, "bucket-copy", list[0].Name)
	assert.Equal(t, []core.LineageEntry{{SourceWorkspaceID: "ws-src", SourceResourceID: copied.ID}}, list[0].Lineage)

	var results []CloneResult
	ok, err := st.Working.Get(KeyCloneResults, &results)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, results, 2)
	byID := map[string]CloneResult{}
	for _, r := range results {
		byID[r.SourceResourceID] = r
	}
	assert.Equal(t, "SUCCEEDED", byID[copied.ID].Status)
	assert.NotEmpty(t, byID[copied.ID].DestResourceID)
	assert.Equal(t, "SUCCEEDED", byID[skipped.ID].Status)
	assert.Empty(t, byID[skipped.ID].DestResourceID)
}

func TestWorkspaceCloneSurfacesPartialFailure(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, flight.StatusSuccess,
		h.run(t, FlightWorkspaceCreate, createWorkspaceInputs(t, testWorkspace("ws-src"))).Status)
	good := h.addBucket(t, "ws-src", "bucket-good", "b-good", core.CloneResource)
	bad := h.addBucket(t, "ws-src", "bucket-bad", "b-bad", core.CloneResource)
	h.fake.FailOps["CopyBucketObjects:b-bad"] = errors.New("copy exploded")

	st := h.run(t, FlightWorkspaceClone, cloneWorkspaceInputs(t, "ws-src", testWorkspace("ws-dst")))
	require.Equal(t, flight.StatusError, st.Status, "a failed resource copy must fail the clone")
	assert.Contains(t, st.ErrorMessage, "bucket-bad")
	assert.Contains(t, st.ErrorMessage, "copy exploded")

	var results []CloneResult
	_, err := st.Working.Get(KeyCloneResults, &results)
	require.NoError(t, err)
	byID := map[string]CloneResult{}
	for _, r := range results {
		byID[r.SourceResourceID] = r
	}
	assert.Equal(t, "SUCCEEDED", byID[good.ID].Status)
	assert.Equal(t, "FAILED", byID[bad.ID].Status)
	assert.NotEmpty(t, byID[bad.ID].Error)

	// The destination and the good copy stay committed; the failed one
	// rolled itself back inside its own flight.
	_, err = h.mem.GetWorkspace(context.Background(), "ws-dst")
	require.NoError(t, err)
	list, err := h.mem.ListResources(context.Background(), "ws-dst")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bucket-good", list[0].Name)
}

func TestWorkspaceCloneAllResourcesFailedRemovesDestination(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, flight.StatusSuccess,
		h.run(t, FlightWorkspaceCreate, createWorkspaceInputs(t, testWorkspace("ws-src"))).Status)
	h.addBucket(t, "ws-src", "bucket-bad", "b-bad", core.CloneResource)
	h.fake.FailOps["CopyBucketObjects:b-bad"] = errors.New("copy exploded")

	st := h.run(t, FlightWorkspaceClone, cloneWorkspaceInputs(t, "ws-src", testWorkspace("ws-dst")))
	require.Equal(t, flight.StatusError, st.Status)

	// With nothing committed the rollback removes the empty destination.
	_, err := h.mem.GetWorkspace(context.Background(), "ws-dst")
	assert.Equal(t, core.ErrNotFound, core.CodeOf(err))
}

func TestWorkspaceClonePolicyConflictRemovesDestination(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, flight.StatusSuccess,
		h.run(t, FlightWorkspaceCreate,
			createWorkspaceInputs(t, testWorkspace("ws-src"), policy.RegionPolicy("us-central1"))).Status)

	st := h.run(t, FlightWorkspaceClone,
		cloneWorkspaceInputs(t, "ws-src", testWorkspace("ws-dst"), policy.RegionPolicy("us-east1")))

	require.Equal(t, flight.StatusError, st.Status)
	assert.Equal(t, string(core.ErrPolicyConflict), st.ErrorCode)
	_, err := h.mem.GetWorkspace(context.Background(), "ws-dst")
	assert.Equal(t, core.ErrNotFound, core.CodeOf(err), "rollback must remove the half-created destination")
}
