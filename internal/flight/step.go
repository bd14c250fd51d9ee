// Package flight implements a durable saga executor. A flight is an ordered
// sequence of reversible steps with a checkpoint persisted after every step,
// so a crashed flight resumes exactly where it left off. A fatal step flips
// the flight into the UNDO direction, which walks the completed steps'
// compensating actions in strict reverse order.
package flight

import "context"

type StepStatus string

const (
	StepSuccess StepStatus = "SUCCESS"
	// StepRetry marks a transient failure; the engine retries the same step
	// with backoff before escalating.
	StepRetry StepStatus = "FAILURE_RETRY"
	// StepFatal triggers the flight-wide undo walk.
	StepFatal StepStatus = "FAILURE_FATAL"
)

// StepResult is the only way a step reports its outcome. Steps never leak
// raw provider errors past their boundary; they resolve to a result with a
// classified error.
type StepResult struct {
	Status StepStatus
	Err    error
}

func Success() StepResult        { return StepResult{Status: StepSuccess} }
func Retry(err error) StepResult { return StepResult{Status: StepRetry, Err: err} }
func Fatal(err error) StepResult { return StepResult{Status: StepFatal, Err: err} }

// Step is a single reversible unit of work. Do must be idempotent on replay:
// a crash can re-deliver a step whose effects already landed, and the step is
// expected to check before acting. Undo compensates for a completed Do.
type Step interface {
	Name() string
	Do(ctx context.Context, fc *Context) StepResult
	Undo(ctx context.Context, fc *Context) StepResult
}
