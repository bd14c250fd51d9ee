package flight

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/observability"
)

// Context is handed to every step invocation. Working is checkpointed after
// each successful step; mutations made by a failed step are still persisted
// at the next checkpoint, so steps should write results only on success
// paths they can stand behind.
type Context struct {
	FlightID   string
	FlightType string
	Inputs     FlightMap
	Working    FlightMap
	Log        *zap.Logger

	engine *Engine
}

// LaunchSubflight submits a nested flight. Callers choose the subflight id
// so a replayed parent step relaunches idempotently: an already-submitted id
// is not an error.
func (fc *Context) LaunchSubflight(ctx context.Context, flightID, flightType string, inputs FlightMap) error {
	err := fc.engine.Submit(ctx, flightID, flightType, inputs)
	if errors.Is(err, ErrFlightExists) {
		return nil
	}
	return err
}

// WaitSubflight blocks the parent step on the nested flight with a bounded
// polling wait and converts the terminal state into a local step result:
// nested SUCCESS maps to SUCCESS, any nested failure (or an interrupted
// wait) maps to FAILURE_FATAL carrying the nested error.
func (fc *Context) WaitSubflight(ctx context.Context, flightID string) (*State, StepResult) {
	start := time.Now()
	st, err := fc.engine.Wait(ctx, flightID, fc.engine.cfg.SubflightWaitTimeout)
	observability.SubflightWaitSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, Fatal(err)
	}
	if st.Status == StatusSuccess {
		return st, Success()
	}
	code := core.ErrorCode(st.ErrorCode)
	if code == "" {
		code = core.ErrInternal
	}
	return st, Fatal(core.NewAppErrorf(code, "subflight %s %s: %s", flightID, st.Status, st.ErrorMessage))
}
