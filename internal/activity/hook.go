// Package activity records the per-workspace change log. It hangs off the
// flight engine as a completion hook so every successful mutating flight
// stamps its workspace, no matter which API surface launched it.
package activity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/flight"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/job"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/observability"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/store"
)

// Hook writes one activity row per successful flight. Failed and fatal
// flights leave no trace here; rollback restored the previous state.
type Hook struct {
	store store.ActivityStore
	log   *zap.Logger
}

func NewHook(s store.ActivityStore, log *zap.Logger) *Hook {
	return &Hook{store: s, log: log}
}

var _ flight.Hook = (*Hook)(nil)

func (h *Hook) FlightEnded(ctx context.Context, st *flight.State) error {
	if st.Status != flight.StatusSuccess {
		return nil
	}

	var op core.OperationType
	if _, err := st.Inputs.Get(job.KeyOperationType, &op); err != nil {
		return fmt.Errorf("flight %s: read operation type: %w", st.FlightID, err)
	}
	if !op.Valid() {
		// Every mutating flight must declare its operation type. Surfacing
		// this loudly beats silently dropping the audit trail.
		return fmt.Errorf("flight %s (%s): operation type %q is not loggable", st.FlightID, st.FlightType, op)
	}

	workspaceID := st.Inputs.GetString(job.KeyWorkspaceID)
	if workspaceID == "" {
		// Flights outside any workspace (system cleanup runs) have nothing
		// to stamp.
		return nil
	}

	ts := time.Now().UTC()
	if st.Completed != nil {
		ts = *st.Completed
	}
	if err := h.store.WriteChange(ctx, workspaceID, op, ts); err != nil {
		return fmt.Errorf("flight %s: write activity: %w", st.FlightID, err)
	}
	observability.ActivityWriteTotal.WithLabelValues(string(op)).Inc()
	h.log.Debug("activity recorded",
		zap.String("workspace_id", workspaceID),
		zap.String("change_type", string(op)),
		zap.String("flight_id", st.FlightID))
	return nil
}
