package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/flight"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/store"
)

type countingStep struct {
	name string
	runs *int
	do   func(fc *flight.Context) flight.StepResult
}

func (s *countingStep) Name() string { return s.name }

func (s *countingStep) Do(ctx context.Context, fc *flight.Context) flight.StepResult {
	*s.runs++
	return s.do(fc)
}

func (s *countingStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	return flight.Success()
}

func newTestService(t *testing.T) (*Service, *store.Memory, *int) {
	t.Helper()
	mem := store.NewMemory()
	runs := new(int)

	reg := flight.NewRegistry()
	reg.Register("echo", func(inputs flight.FlightMap) ([]flight.Step, error) {
		return []flight.Step{&countingStep{name: "echo", runs: runs, do: func(fc *flight.Context) flight.StepResult {
			if err := fc.Working.Put(KeyResponse, map[string]string{"echo": fc.Inputs.GetString("payload")}); err != nil {
				return flight.Fatal(err)
			}
			return flight.Success()
		}}}, nil
	})
	reg.Register("fail-clean", func(inputs flight.FlightMap) ([]flight.Step, error) {
		return []flight.Step{&countingStep{name: "fail", runs: runs, do: func(fc *flight.Context) flight.StepResult {
			return flight.Fatal(core.NewAppError(core.ErrNotFound, "target missing"))
		}}}, nil
	})
	reg.Register("fail-dirty", func(inputs flight.FlightMap) ([]flight.Step, error) {
		bad := &countingStep{name: "bad-undo", runs: runs, do: func(fc *flight.Context) flight.StepResult {
			return flight.Success()
		}}
		return []flight.Step{
			&brokenUndoStep{countingStep: bad},
			&countingStep{name: "fail", runs: runs, do: func(fc *flight.Context) flight.StepResult {
				return flight.Fatal(errors.New("boom"))
			}},
		}, nil
	})

	cfg := flight.DefaultConfig()
	cfg.Workers = 2
	cfg.PollInterval = 5 * time.Millisecond
	cfg.MaxStepAttempts = 2
	cfg.RetryInitialBackoff = time.Millisecond
	cfg.RetryMaxBackoff = 2 * time.Millisecond

	engine := flight.NewEngine(mem, reg, cfg, zaptest.NewLogger(t))
	engine.Start(context.Background())
	t.Cleanup(engine.Stop)

	return NewService(engine, mem, zaptest.NewLogger(t)), mem, runs
}

type brokenUndoStep struct {
	*countingStep
}

func (s *brokenUndoStep) Undo(ctx context.Context, fc *flight.Context) flight.StepResult {
	return flight.Fatal(errors.New("undo refused"))
}

func TestSubmitAndWaitSuccess(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	inputs := flight.NewFlightMap()
	require.NoError(t, inputs.Put("payload", "hello"))

	rep, err := svc.SubmitAndWait(ctx, Request{
		FlightType:    "echo",
		Description:   "echo a payload",
		OperationType: core.OperationCreate,
		Submitter:     "user@example.com",
		WorkspaceID:   "ws-1",
		RequestHash:   "h1",
		Inputs:        inputs,
	}, time.Second)
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, rep.Status)
	assert.NotEmpty(t, rep.JobID)
	assert.JSONEq(t, `{"echo":"hello"}`, string(rep.Response))
	assert.Nil(t, rep.Error)
	require.NotNil(t, rep.Completed)
}

func TestSubmitIdempotentRetry(t *testing.T) {
	svc, _, runs := newTestService(t)
	ctx := context.Background()

	req := Request{
		JobID:         "job-idem",
		FlightType:    "echo",
		OperationType: core.OperationUpdate,
		WorkspaceID:   "ws-1",
		RequestHash:   "h1",
	}
	id1, err := svc.Submit(ctx, req)
	require.NoError(t, err)
	_, err = svc.engine.Wait(ctx, id1, time.Second)
	require.NoError(t, err)

	// Same request again: same job, no second flight run.
	id2, err := svc.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, *runs)

	// Same id, different body: caller bug, surfaced as a conflict.
	req.RequestHash = "h2"
	_, err = svc.Submit(ctx, req)
	assert.Equal(t, core.ErrConflictIdempotent, core.CodeOf(err))
}

func TestSubmitRejectsUnknownOperation(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Submit(context.Background(), Request{
		FlightType:    "echo",
		OperationType: core.OperationUnknown,
		WorkspaceID:   "ws-1",
	})
	require.Error(t, err)
	assert.Equal(t, core.ErrBadRequest, core.CodeOf(err))
}

func TestFailedJobCarriesErrorReport(t *testing.T) {
	svc, _, _ := newTestService(t)

	rep, err := svc.SubmitAndWait(context.Background(), Request{
		FlightType:    "fail-clean",
		OperationType: core.OperationDelete,
		WorkspaceID:   "ws-1",
		RequestHash:   "h1",
	}, time.Second)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, rep.Status)
	require.NotNil(t, rep.Error)
	assert.Equal(t, 404, rep.Error.StatusCode)
	assert.False(t, rep.Error.Fatal)
	assert.Contains(t, rep.Error.Message, "target missing")
}

func TestFatalJobIsDistinguishable(t *testing.T) {
	svc, _, _ := newTestService(t)

	rep, err := svc.SubmitAndWait(context.Background(), Request{
		FlightType:    "fail-dirty",
		OperationType: core.OperationDelete,
		WorkspaceID:   "ws-1",
		RequestHash:   "h1",
	}, time.Second)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, rep.Status)
	require.NotNil(t, rep.Error)
	assert.True(t, rep.Error.Fatal)
}

func TestListReportsFiltersByWorkspace(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, ws := range []string{"ws-a", "ws-a", "ws-b"} {
		_, err := svc.SubmitAndWait(ctx, Request{
			FlightType:    "echo",
			OperationType: core.OperationCreate,
			WorkspaceID:   ws,
			RequestHash:   core.NewID(),
		}, time.Second)
		require.NoError(t, err)
	}

	reports, err := svc.ListReports(ctx, "ws-a", 0)
	require.NoError(t, err)
	assert.Len(t, reports, 2)
	for _, rep := range reports {
		assert.Equal(t, "ws-a", rep.WorkspaceID)
	}
}
