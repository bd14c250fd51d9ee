package flight

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/observability"
)

type Config struct {
	Workers              int           `envconfig:"WSM_FLIGHT_WORKERS" default:"8"`
	QueueSize            int           `envconfig:"WSM_FLIGHT_QUEUE_SIZE" default:"256"`
	MaxStepAttempts      int           `envconfig:"WSM_STEP_MAX_ATTEMPTS" default:"5"`
	RetryInitialBackoff  time.Duration `envconfig:"WSM_STEP_RETRY_INITIAL_BACKOFF" default:"250ms"`
	RetryMaxBackoff      time.Duration `envconfig:"WSM_STEP_RETRY_MAX_BACKOFF" default:"5s"`
	PollInterval         time.Duration `envconfig:"WSM_FLIGHT_POLL_INTERVAL" default:"100ms"`
	WaitTimeout          time.Duration `envconfig:"WSM_FLIGHT_WAIT_TIMEOUT" default:"5m"`
	SubflightWaitTimeout time.Duration `envconfig:"WSM_SUBFLIGHT_WAIT_TIMEOUT" default:"5m"`
}

// DefaultConfig mirrors the envconfig defaults, for callers that do not go
// through envconfig (tests, wsmctl-less dev runs).
func DefaultConfig() Config {
	return Config{
		Workers:              8,
		QueueSize:            256,
		MaxStepAttempts:      5,
		RetryInitialBackoff:  250 * time.Millisecond,
		RetryMaxBackoff:      5 * time.Second,
		PollInterval:         100 * time.Millisecond,
		WaitTimeout:          5 * time.Minute,
		SubflightWaitTimeout: 5 * time.Minute,
	}
}

// Engine schedules flights onto a bounded worker pool, persists progress
// after every step, and drives the do/undo state machine.
type Engine struct {
	cfg   Config
	store Store
	reg   *Registry
	log   *zap.Logger
	hooks []Hook

	queue  chan string
	wg     sync.WaitGroup
	runCtx context.Context
	cancel context.CancelFunc
}

func NewEngine(store Store, reg *Registry, cfg Config, log *zap.Logger, hooks ...Hook) *Engine {
	return &Engine{
		cfg:   cfg,
		store: store,
		reg:   reg,
		log:   log,
		hooks: hooks,
		queue: make(chan string, cfg.QueueSize),
	}
}

// Start launches the worker pool. Workers inherit ctx; cancelling it (or
// calling Stop) drains the pool after in-progress steps finish.
func (e *Engine) Start(ctx context.Context) {
	e.runCtx, e.cancel = context.WithCancel(ctx)
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	e.log.Info("flight engine started", zap.Int("workers", e.cfg.Workers))
}

func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.log.Info("flight engine stopped")
}

// Submit persists a new flight in QUEUED state and schedules it. The
// caller's diagnostic context is serialized into the input parameters so
// worker-side logs correlate with the submitting request. flightID must be
// unique; resubmitting an existing id returns ErrFlightExists. The engine
// must be started before the first Submit.
func (e *Engine) Submit(ctx context.Context, flightID, flightType string, inputs FlightMap) error {
	if inputs == nil {
		inputs = NewFlightMap()
	}
	// Validate the flight type up front; an unknown type is a caller bug
	// and should fail the submission, not a worker later.
	if _, err := e.reg.Build(flightType, inputs); err != nil {
		return core.NewAppErrorf(core.ErrBadRequest, "submit flight %s: %v", flightID, err)
	}
	if d := DiagFrom(ctx); len(d) > 0 {
		if err := inputs.Put(diagInputKey, d); err != nil {
			return err
		}
	}
	st := &State{
		FlightID:   flightID,
		FlightType: flightType,
		Status:     StatusQueued,
		Direction:  DirectionDo,
		Inputs:     inputs,
		Working:    NewFlightMap(),
		Submitted:  time.Now().UTC(),
	}
	if err := e.store.CreateFlight(ctx, st); err != nil {
		return err
	}
	e.enqueue(flightID)
	return nil
}

// enqueue blocks on a full queue until a worker frees a slot or the engine
// stops. Scheduling is tied to the engine's lifetime, never the submitting
// request's: a persisted flight must run even after its caller disconnects.
// A flight still queued at shutdown is rescheduled by the next Recover.
func (e *Engine) enqueue(flightID string) {
	observability.FlightQueueDepth.Inc()
	select {
	case e.queue <- flightID:
	case <-e.runCtx.Done():
		observability.FlightQueueDepth.Dec()
	}
}

// GetFlight returns the current persisted state of a flight.
func (e *Engine) GetFlight(ctx context.Context, flightID string) (*State, error) {
	return e.store.GetFlight(ctx, flightID)
}

// Wait polls until the flight reaches a terminal state or timeout elapses.
// An interrupted wait (ctx cancelled) returns the context error; the flight
// keeps running server-side.
func (e *Engine) Wait(ctx context.Context, flightID string, timeout time.Duration) (*State, error) {
	if timeout <= 0 {
		timeout = e.cfg.WaitTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		st, err := e.store.GetFlight(ctx, flightID)
		if err != nil {
			return nil, err
		}
		if st.Status.Terminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("flight %s: wait timed out after %s", flightID, timeout)
		case <-ticker.C:
		}
	}
}

// Recover re-enqueues every non-terminal flight. Called once at startup;
// flights resume at their last durable checkpoint without re-running
// completed steps.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	states, err := e.store.ListUnfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unfinished flights: %w", err)
	}
	for _, st := range states {
		e.log.Info("recovering flight",
			zap.String("flight_id", st.FlightID),
			zap.String("flight_type", st.FlightType),
			zap.String("status", string(st.Status)),
			zap.Int("step_index", st.StepIndex),
			zap.String("direction", string(st.Direction)))
		e.enqueue(st.FlightID)
	}
	return len(states), nil
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case flightID := <-e.queue:
			observability.FlightQueueDepth.Dec()
			e.execute(e.runCtx, flightID)
		}
	}
}

func (e *Engine) execute(ctx context.Context, flightID string) {
	st, err := e.store.GetFlight(ctx, flightID)
	if err != nil {
		e.log.Error("flight load failed", zap.String("flight_id", flightID), zap.Error(err))
		return
	}
	if st.Status.Terminal() {
		return
	}
	log := observability.FlightLogger(e.log, st.FlightID, st.FlightType)

	if st.Status == StatusQueued {
		st.Status = StatusReady
		if err := e.checkpoint(ctx, st); err != nil {
			log.Error("ready checkpoint failed", zap.Error(err))
			return
		}
	}

	steps, err := e.reg.Build(st.FlightType, st.Inputs)
	if err != nil {
		// Registered at submit time but not now: a deploy skew or defect.
		st.Direction = DirectionUndo
		e.complete(ctx, st, StatusFatal, err, log)
		return
	}

	var submitted Diag
	if _, err := st.Inputs.Get(diagInputKey, &submitted); err != nil {
		log.Warn("diagnostic context unreadable", zap.Error(err))
	}

	fc := &Context{
		FlightID:   st.FlightID,
		FlightType: st.FlightType,
		Inputs:     st.Inputs,
		Working:    st.Working,
		engine:     e,
	}

	start := time.Now()
	switch st.Direction {
	case DirectionUndo:
		// Resumed mid-rollback; the original error is already recorded.
		e.runUndo(ctx, st, steps, fc, submitted, st.StepIndex, nil, log)
	default:
		e.runDo(ctx, st, steps, fc, submitted, log)
	}
	observability.FlightDuration.WithLabelValues(st.FlightType).Observe(time.Since(start).Seconds())
}

func (e *Engine) runDo(ctx context.Context, st *State, steps []Step, fc *Context, submitted Diag, log *zap.Logger) {
	st.Status = StatusRunning
	for i := st.StepIndex; i < len(steps); i++ {
		step := steps[i]
		fc.Log = log.With(zap.String("step", step.Name()), zap.Int("step_index", i), zap.String("direction", string(DirectionDo)))
		stepCtx := WithDiag(ctx, stepDiag(submitted, st, step.Name(), i, DirectionDo))

		res := e.runStep(stepCtx, st, step, fc, DirectionDo)
		if res.Status != StepSuccess {
			if ctx.Err() != nil {
				// Shutting down; leave the flight at its checkpoint for
				// recovery instead of rolling back on a dead context.
				log.Warn("flight interrupted by shutdown", zap.Int("step_index", i))
				return
			}
			cause := nonNilErr(res.Err, "step failed")
			log.Warn("step failed, rolling back",
				zap.String("step", step.Name()), zap.Int("step_index", i), zap.Error(cause))
			e.runUndo(ctx, st, steps, fc, submitted, i-1, cause, log)
			return
		}

		// Durable checkpoint before the next step runs.
		st.StepIndex = i + 1
		if err := e.checkpoint(ctx, st); err != nil {
			log.Error("checkpoint failed, flight parked for recovery", zap.Error(err))
			return
		}
	}
	e.complete(ctx, st, StatusSuccess, nil, log)
}

// runUndo walks undo actions from step index `from` down to 0. Undo failures
// are recorded but never stop the walk; any failure flips the terminal
// status from ERROR to FATAL.
func (e *Engine) runUndo(ctx context.Context, st *State, steps []Step, fc *Context, submitted Diag, from int, cause error, log *zap.Logger) {
	st.Direction = DirectionUndo
	if cause != nil {
		st.ErrorCode = string(core.CodeOf(cause))
		st.ErrorMessage = cause.Error()
	}

	var undoErrs error
	for i := from; i >= 0; i-- {
		st.StepIndex = i
		if err := e.checkpoint(ctx, st); err != nil {
			log.Error("undo checkpoint failed, flight parked for recovery", zap.Error(err))
			return
		}
		step := steps[i]
		fc.Log = log.With(zap.String("step", step.Name()), zap.Int("step_index", i), zap.String("direction", string(DirectionUndo)))
		stepCtx := WithDiag(ctx, stepDiag(submitted, st, step.Name(), i, DirectionUndo))

		res := e.runStep(stepCtx, st, step, fc, DirectionUndo)
		if res.Status != StepSuccess {
			observability.UndoFailureTotal.WithLabelValues(st.FlightType, step.Name()).Inc()
			err := nonNilErr(res.Err, "undo failed")
			log.Error("undo step failed", zap.String("step", step.Name()), zap.Error(err))
			undoErrs = multierr.Append(undoErrs, fmt.Errorf("undo %s: %w", step.Name(), err))
		}
	}

	if undoErrs != nil {
		st.ErrorMessage = fmt.Sprintf("%s; rollback incomplete: %v", st.ErrorMessage, undoErrs)
		e.complete(ctx, st, StatusFatal, nil, log)
		return
	}
	e.complete(ctx, st, StatusError, nil, log)
}

// runStep executes one step in the given direction, retrying FAILURE_RETRY
// with exponential backoff up to MaxStepAttempts before escalating to fatal.
func (e *Engine) runStep(ctx context.Context, st *State, step Step, fc *Context, dir Direction) StepResult {
	var res StepResult
	attempt := 0
	op := func() error {
		attempt++
		if dir == DirectionDo {
			res = step.Do(ctx, fc)
		} else {
			res = step.Undo(ctx, fc)
		}
		switch res.Status {
		case StepSuccess:
			return nil
		case StepRetry:
			observability.StepRetryTotal.WithLabelValues(st.FlightType, step.Name()).Inc()
			fc.Log.Warn("step requested retry", zap.Int("attempt", attempt), zap.Error(res.Err))
			return nonNilErr(res.Err, "step requested retry")
		default:
			return backoff.Permanent(nonNilErr(res.Err, "step failed"))
		}
	}

	// A misconfigured attempt budget of 0 (or less) must not underflow the
	// unsigned retry count into an unbounded loop.
	attempts := e.cfg.MaxStepAttempts
	if attempts < 1 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryInitialBackoff
	bo.MaxInterval = e.cfg.RetryMaxBackoff
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx))
	if err == nil {
		return res
	}
	if res.Status == StepRetry {
		return Fatal(fmt.Errorf("step %s: retries exhausted after %d attempts: %w",
			step.Name(), attempt, nonNilErr(res.Err, "retry")))
	}
	return res
}

func (e *Engine) checkpoint(ctx context.Context, st *State) error {
	return e.store.UpdateFlight(ctx, st)
}

func (e *Engine) complete(ctx context.Context, st *State, status Status, cause error, log *zap.Logger) {
	st.Status = status
	if cause != nil && st.ErrorMessage == "" {
		st.ErrorCode = string(core.CodeOf(cause))
		st.ErrorMessage = cause.Error()
	}
	now := time.Now().UTC()
	st.Completed = &now
	if err := e.store.UpdateFlight(ctx, st); err != nil {
		log.Error("terminal state persist failed", zap.Error(err))
		return
	}
	observability.FlightTotal.WithLabelValues(st.FlightType, string(status)).Inc()

	switch status {
	case StatusSuccess:
		log.Info("flight succeeded")
	case StatusError:
		log.Warn("flight failed, rolled back cleanly", zap.String("error", st.ErrorMessage))
	case StatusFatal:
		log.Error("flight FATAL, operator intervention required", zap.String("error", st.ErrorMessage))
	}

	for _, h := range e.hooks {
		if err := h.FlightEnded(ctx, st.clone()); err != nil {
			log.Error("flight hook failed", zap.Error(err))
		}
	}
}

func nonNilErr(err error, fallback string) error {
	if err != nil {
		return err
	}
	return errors.New(fallback)
}
