package activity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/flight"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/job"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/store"
)

func endedState(t *testing.T, status flight.Status, op core.OperationType, workspaceID string) *flight.State {
	t.Helper()
	inputs := flight.NewFlightMap()
	require.NoError(t, inputs.Put(job.KeyOperationType, op))
	require.NoError(t, inputs.Put(job.KeyWorkspaceID, workspaceID))
	done := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &flight.State{
		FlightID:   "flight-1",
		FlightType: "workspace-create",
		Status:     status,
		Inputs:     inputs,
		Working:    flight.NewFlightMap(),
		Completed:  &done,
	}
}

func TestHookRecordsSuccessfulFlight(t *testing.T) {
	mem := store.NewMemory()
	h := NewHook(mem, zaptest.NewLogger(t))
	ctx := context.Background()

	st := endedState(t, flight.StatusSuccess, core.OperationCreate, "ws-1")
	require.NoError(t, h.FlightEnded(ctx, st))

	last, err := mem.LastChanged(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, *st.Completed, last[core.OperationCreate])
}

func TestHookIgnoresFailedFlights(t *testing.T) {
	mem := store.NewMemory()
	h := NewHook(mem, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, h.FlightEnded(ctx, endedState(t, flight.StatusError, core.OperationDelete, "ws-1")))
	require.NoError(t, h.FlightEnded(ctx, endedState(t, flight.StatusFatal, core.OperationDelete, "ws-1")))

	last, err := mem.LastChanged(ctx, "ws-1")
	require.NoError(t, err)
	assert.Empty(t, last)
}

func TestHookRejectsUndeclaredOperation(t *testing.T) {
	mem := store.NewMemory()
	h := NewHook(mem, zaptest.NewLogger(t))

	st := endedState(t, flight.StatusSuccess, core.OperationUnknown, "ws-1")
	err := h.FlightEnded(context.Background(), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not loggable")
}

func TestHookSkipsWorkspacelessFlights(t *testing.T) {
	mem := store.NewMemory()
	h := NewHook(mem, zaptest.NewLogger(t))
	ctx := context.Background()

	st := endedState(t, flight.StatusSuccess, core.OperationSystemCleanup, "")
	require.NoError(t, h.FlightEnded(ctx, st))

	last, err := mem.LastChanged(ctx, "ws-1")
	require.NoError(t, err)
	assert.Empty(t, last)
}
