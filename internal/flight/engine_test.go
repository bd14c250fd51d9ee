package flight

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/core"
)

// recorder collects do/undo invocations across worker goroutines.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *recorder) count(call string) int {
	n := 0
	for _, c := range r.snapshot() {
		if c == call {
			n++
		}
	}
	return n
}

type fakeStep struct {
	name string
	rec  *recorder
	do   func(ctx context.Context, fc *Context) StepResult
	undo func(ctx context.Context, fc *Context) StepResult
}

func (s *fakeStep) Name() string { return s.name }

func (s *fakeStep) Do(ctx context.Context, fc *Context) StepResult {
	s.rec.add("do:" + s.name)
	if s.do != nil {
		return s.do(ctx, fc)
	}
	return Success()
}

func (s *fakeStep) Undo(ctx context.Context, fc *Context) StepResult {
	s.rec.add("undo:" + s.name)
	if s.undo != nil {
		return s.undo(ctx, fc)
	}
	return Success()
}

func okStep(rec *recorder, name string) *fakeStep {
	return &fakeStep{name: name, rec: rec}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.PollInterval = 5 * time.Millisecond
	cfg.RetryInitialBackoff = time.Millisecond
	cfg.RetryMaxBackoff = 2 * time.Millisecond
	cfg.MaxStepAttempts = 3
	return cfg
}

func newTestEngine(t *testing.T, store Store, reg *Registry, hooks ...Hook) *Engine {
	t.Helper()
	e := NewEngine(store, reg, testConfig(), zaptest.NewLogger(t), hooks...)
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return e
}

func TestFlightSuccess(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("three-ok", func(inputs FlightMap) ([]Step, error) {
		passthrough := &fakeStep{name: "b", rec: rec, do: func(ctx context.Context, fc *Context) StepResult {
			// Working map is the only channel between steps.
			require.NoError(t, fc.Working.Put("token", fc.Inputs.GetString("seed")+"-b"))
			return Success()
		}}
		return []Step{okStep(rec, "a"), passthrough, okStep(rec, "c")}, nil
	})

	store := NewMemStore()
	e := newTestEngine(t, store, reg)

	inputs := NewFlightMap()
	require.NoError(t, inputs.Put("seed", "s1"))
	require.NoError(t, e.Submit(context.Background(), "f1", "three-ok", inputs))

	st, err := e.Wait(context.Background(), "f1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, st.Status)
	assert.Equal(t, []string{"do:a", "do:b", "do:c"}, rec.snapshot())
	assert.Equal(t, "s1-b", st.Working.GetString("token"))
	require.NotNil(t, st.Completed)
}

func TestFatalTriggersUndoInReverseOrder(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("fatal-at-c", func(inputs FlightMap) ([]Step, error) {
		boom := &fakeStep{name: "c", rec: rec, do: func(ctx context.Context, fc *Context) StepResult {
			return Fatal(core.NewAppError(core.ErrBadRequest, "bad input"))
		}}
		return []Step{okStep(rec, "a"), okStep(rec, "b"), boom, okStep(rec, "d")}, nil
	})

	e := newTestEngine(t, NewMemStore(), reg)
	require.NoError(t, e.Submit(context.Background(), "f1", "fatal-at-c", nil))

	st, err := e.Wait(context.Background(), "f1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, []string{"do:a", "do:b", "do:c", "undo:b", "undo:a"}, rec.snapshot())
	assert.Equal(t, string(core.ErrBadRequest), st.ErrorCode)
	assert.Contains(t, st.ErrorMessage, "bad input")
	// The step that failed is not undone, and d never ran.
	assert.Zero(t, rec.count("undo:c"))
	assert.Zero(t, rec.count("do:d"))
}

func TestRetryThenSuccess(t *testing.T) {
	rec := &recorder{}
	var attempts int32
	var mu sync.Mutex
	reg := NewRegistry()
	reg.Register("flaky", func(inputs FlightMap) ([]Step, error) {
		flaky := &fakeStep{name: "flaky", rec: rec, do: func(ctx context.Context, fc *Context) StepResult {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n < 3 {
				return Retry(errors.New("transient provider error"))
			}
			return Success()
		}}
		return []Step{flaky}, nil
	})

	e := newTestEngine(t, NewMemStore(), reg)
	require.NoError(t, e.Submit(context.Background(), "f1", "flaky", nil))

	st, err := e.Wait(context.Background(), "f1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, st.Status)
	assert.Equal(t, 3, rec.count("do:flaky"))
}

func TestRetriesExhaustedEscalatesToRollback(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("always-retry", func(inputs FlightMap) ([]Step, error) {
		hopeless := &fakeStep{name: "hopeless", rec: rec, do: func(ctx context.Context, fc *Context) StepResult {
			return Retry(errors.New("still down"))
		}}
		return []Step{okStep(rec, "a"), hopeless}, nil
	})

	e := newTestEngine(t, NewMemStore(), reg)
	require.NoError(t, e.Submit(context.Background(), "f1", "always-retry", nil))

	st, err := e.Wait(context.Background(), "f1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, 3, rec.count("do:hopeless")) // MaxStepAttempts
	assert.Equal(t, 1, rec.count("undo:a"))
	assert.Contains(t, st.ErrorMessage, "retries exhausted")
}

func TestMisconfiguredAttemptBudgetClampsToOne(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("always-retry", func(inputs FlightMap) ([]Step, error) {
		hopeless := &fakeStep{name: "hopeless", rec: rec, do: func(ctx context.Context, fc *Context) StepResult {
			return Retry(errors.New("still down"))
		}}
		return []Step{hopeless}, nil
	})

	cfg := testConfig()
	cfg.MaxStepAttempts = 0
	e := NewEngine(NewMemStore(), reg, cfg, zaptest.NewLogger(t))
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	require.NoError(t, e.Submit(context.Background(), "f1", "always-retry", nil))

	st, err := e.Wait(context.Background(), "f1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, 1, rec.count("do:hopeless"))
	assert.Contains(t, st.ErrorMessage, "retries exhausted")
}

func TestSubmitSchedulesFlightAfterCallerDisconnects(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("simple", func(inputs FlightMap) ([]Step, error) {
		return []Step{okStep(rec, "a")}, nil
	})
	e := newTestEngine(t, NewMemStore(), reg)

	// A caller gone by submission time must not strand the flight in
	// QUEUED; scheduling rides the engine's lifetime.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Submit(ctx, "f1", "simple", nil))

	st, err := e.Wait(context.Background(), "f1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, st.Status)
	assert.Equal(t, 1, rec.count("do:a"))
}

func TestUndoFailureFlipsToFatal(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("broken-undo", func(inputs FlightMap) ([]Step, error) {
		a := &fakeStep{name: "a", rec: rec, undo: func(ctx context.Context, fc *Context) StepResult {
			return Fatal(errors.New("cannot restore"))
		}}
		boom := &fakeStep{name: "b", rec: rec, do: func(ctx context.Context, fc *Context) StepResult {
			return Fatal(errors.New("provider rejected"))
		}}
		return []Step{a, boom}, nil
	})

	e := newTestEngine(t, NewMemStore(), reg)
	require.NoError(t, e.Submit(context.Background(), "f1", "broken-undo", nil))

	st, err := e.Wait(context.Background(), "f1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusFatal, st.Status)
	assert.Contains(t, st.ErrorMessage, "provider rejected")
	assert.Contains(t, st.ErrorMessage, "rollback incomplete")
}

func TestUndoWalkContinuesPastFailures(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("partial-undo", func(inputs FlightMap) ([]Step, error) {
		b := &fakeStep{name: "b", rec: rec, undo: func(ctx context.Context, fc *Context) StepResult {
			return Fatal(errors.New("undo b broken"))
		}}
		boom := &fakeStep{name: "d", rec: rec, do: func(ctx context.Context, fc *Context) StepResult {
			return Fatal(errors.New("kaboom"))
		}}
		return []Step{okStep(rec, "a"), b, okStep(rec, "c"), boom}, nil
	})

	e := newTestEngine(t, NewMemStore(), reg)
	require.NoError(t, e.Submit(context.Background(), "f1", "partial-undo", nil))

	st, err := e.Wait(context.Background(), "f1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusFatal, st.Status)
	// The walk covered every completed step despite b's failure.
	assert.Equal(t, 1, rec.count("undo:c"))
	assert.Equal(t, 1, rec.count("undo:b"))
	assert.Equal(t, 1, rec.count("undo:a"))
}

func TestRecoveryResumesAtCheckpoint(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("resumable", func(inputs FlightMap) ([]Step, error) {
		return []Step{okStep(rec, "a"), okStep(rec, "b"), okStep(rec, "c")}, nil
	})

	// Simulate a crash after step a's checkpoint: the flight is RUNNING at
	// step index 1 with a's output already in the working map.
	store := NewMemStore()
	working := NewFlightMap()
	require.NoError(t, working.Put("from-a", "kept"))
	require.NoError(t, store.CreateFlight(context.Background(), &State{
		FlightID:   "f1",
		FlightType: "resumable",
		Status:     StatusRunning,
		StepIndex:  1,
		Direction:  DirectionDo,
		Inputs:     NewFlightMap(),
		Working:    working,
		Submitted:  time.Now().UTC(),
	}))

	e := newTestEngine(t, store, reg)
	n, err := e.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := e.Wait(context.Background(), "f1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, st.Status)
	// a's do was not replayed; its prior working-map entry survived.
	assert.Equal(t, []string{"do:b", "do:c"}, rec.snapshot())
	assert.Equal(t, "kept", st.Working.GetString("from-a"))
}

func TestRecoveryResumesMidUndo(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("undoable", func(inputs FlightMap) ([]Step, error) {
		return []Step{okStep(rec, "a"), okStep(rec, "b"), okStep(rec, "c")}, nil
	})

	store := NewMemStore()
	require.NoError(t, store.CreateFlight(context.Background(), &State{
		FlightID:     "f1",
		FlightType:   "undoable",
		Status:       StatusRunning,
		StepIndex:    1,
		Direction:    DirectionUndo,
		Inputs:       NewFlightMap(),
		Working:      NewFlightMap(),
		ErrorCode:    string(core.ErrConflict),
		ErrorMessage: "original failure",
		Submitted:    time.Now().UTC(),
	}))

	e := newTestEngine(t, store, reg)
	_, err := e.Recover(context.Background())
	require.NoError(t, err)

	st, err := e.Wait(context.Background(), "f1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, []string{"undo:b", "undo:a"}, rec.snapshot())
	// The originally recorded failure survives the resumed rollback.
	assert.Equal(t, string(core.ErrConflict), st.ErrorCode)
	assert.Contains(t, st.ErrorMessage, "original failure")
}

func TestSubflight(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("child", func(inputs FlightMap) ([]Step, error) {
		fail := inputs.GetString("fail") == "yes"
		child := &fakeStep{name: "child", rec: rec, do: func(ctx context.Context, fc *Context) StepResult {
			if fail {
				return Fatal(core.NewAppError(core.ErrPolicyConflict, "child conflict"))
			}
			return Success()
		}}
		return []Step{child}, nil
	})
	reg.Register("parent", func(inputs FlightMap) ([]Step, error) {
		launch := &fakeStep{name: "launch", rec: rec, do: func(ctx context.Context, fc *Context) StepResult {
			childInputs := NewFlightMap()
			_ = childInputs.Put("fail", inputs.GetString("child-fail"))
			subID := fc.FlightID + "-sub"
			if err := fc.LaunchSubflight(ctx, subID, "child", childInputs); err != nil {
				return Fatal(err)
			}
			_, res := fc.WaitSubflight(ctx, subID)
			return res
		}}
		return []Step{okStep(rec, "pre"), launch}, nil
	})

	e := newTestEngine(t, NewMemStore(), reg)

	t.Run("ChildSuccess", func(t *testing.T) {
		require.NoError(t, e.Submit(context.Background(), "p1", "parent", NewFlightMap()))
		st, err := e.Wait(context.Background(), "p1", 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, st.Status)

		child, err := e.GetFlight(context.Background(), "p1-sub")
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, child.Status)
	})

	t.Run("ChildFailureIsFatalLocally", func(t *testing.T) {
		inputs := NewFlightMap()
		require.NoError(t, inputs.Put("child-fail", "yes"))
		require.NoError(t, e.Submit(context.Background(), "p2", "parent", inputs))
		st, err := e.Wait(context.Background(), "p2", 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, StatusError, st.Status)
		assert.Equal(t, string(core.ErrPolicyConflict), st.ErrorCode)
		assert.Contains(t, st.ErrorMessage, "child conflict")
		assert.Equal(t, 1, rec.count("undo:pre"))
	})
}

func TestDiagnosticContextPropagation(t *testing.T) {
	type seen struct {
		mu sync.Mutex
		d  Diag
	}
	observed := &seen{}
	reg := NewRegistry()
	reg.Register("observe-diag", func(inputs FlightMap) ([]Step, error) {
		step := &fakeStep{name: "observe", rec: &recorder{}, do: func(ctx context.Context, fc *Context) StepResult {
			observed.mu.Lock()
			observed.d = DiagFrom(ctx)
			observed.mu.Unlock()
			return Success()
		}}
		return []Step{step}, nil
	})

	e := newTestEngine(t, NewMemStore(), reg)

	t.Run("CallerContextUntouched", func(t *testing.T) {
		caller := Diag{"request_id": "req-42", "caller": "alice"}
		ctx := WithDiag(context.Background(), caller)

		require.NoError(t, e.Submit(ctx, "f1", "observe-diag", nil))
		st, err := e.Wait(ctx, "f1", 5*time.Second)
		require.NoError(t, err)
		require.Equal(t, StatusSuccess, st.Status)

		// Caller-side context is exactly what it was before submission.
		assert.Equal(t, Diag{"request_id": "req-42", "caller": "alice"}, DiagFrom(ctx))

		// Worker-side context carried the submitted ids plus step fields.
		observed.mu.Lock()
		defer observed.mu.Unlock()
		assert.Equal(t, "req-42", observed.d["request_id"])
		assert.Equal(t, "f1", observed.d["flight_id"])
		assert.Equal(t, "observe-diag", observed.d["flight_type"])
		assert.Equal(t, "observe", observed.d["step_name"])
		assert.Equal(t, "0", observed.d["step_index"])
		assert.Equal(t, string(DirectionDo), observed.d["direction"])
	})

	t.Run("NoDiagStaysEmpty", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, e.Submit(ctx, "f2", "observe-diag", nil))
		_, err := e.Wait(ctx, "f2", 5*time.Second)
		require.NoError(t, err)

		assert.Nil(t, DiagFrom(ctx))
		observed.mu.Lock()
		defer observed.mu.Unlock()
		// No garbage leaked from the previous flight on a reused worker.
		assert.Empty(t, observed.d["request_id"])
		assert.Empty(t, observed.d["caller"])
		assert.Equal(t, "f2", observed.d["flight_id"])
	})
}

func TestHookRunsOncePerTerminalFlight(t *testing.T) {
	var mu sync.Mutex
	var ended []string
	hook := hookFunc(func(ctx context.Context, st *State) error {
		mu.Lock()
		defer mu.Unlock()
		ended = append(ended, fmt.Sprintf("%s:%s", st.FlightID, st.Status))
		return nil
	})

	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("ok", func(inputs FlightMap) ([]Step, error) {
		return []Step{okStep(rec, "a")}, nil
	})

	e := newTestEngine(t, NewMemStore(), reg, hook)
	require.NoError(t, e.Submit(context.Background(), "f1", "ok", nil))
	_, err := e.Wait(context.Background(), "f1", 5*time.Second)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"f1:SUCCESS"}, ended)
}

type hookFunc func(ctx context.Context, st *State) error

func (f hookFunc) FlightEnded(ctx context.Context, st *State) error { return f(ctx, st) }

func TestSubmitRejectsUnknownFlightType(t *testing.T) {
	e := newTestEngine(t, NewMemStore(), NewRegistry())
	err := e.Submit(context.Background(), "f1", "no-such-flight", nil)
	require.Error(t, err)
	assert.Equal(t, core.ErrBadRequest, core.CodeOf(err))
}

func TestSubmitRejectsDuplicateFlightID(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register("ok", func(inputs FlightMap) ([]Step, error) {
		return []Step{okStep(rec, "a")}, nil
	})
	e := newTestEngine(t, NewMemStore(), reg)
	require.NoError(t, e.Submit(context.Background(), "f1", "ok", nil))
	err := e.Submit(context.Background(), "f1", "ok", nil)
	assert.ErrorIs(t, err, ErrFlightExists)
}
