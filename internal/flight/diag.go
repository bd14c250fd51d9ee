package flight

import (
	"context"
	"strconv"
)

// Diag carries correlation identifiers (request id, caller, trace id) from
// the submitting request into asynchronous flight execution. It rides in the
// flight's input parameters under a reserved key, and the engine derives a
// fresh per-step context from it, so nothing ever leaks between flights
// sharing a pooled worker and the caller's own context is never mutated.
type Diag map[string]string

// diagInputKey is reserved in every flight's input parameters.
const diagInputKey = "wsm_diag_context"

type diagCtxKey struct{}

func WithDiag(ctx context.Context, d Diag) context.Context {
	return context.WithValue(ctx, diagCtxKey{}, d)
}

// DiagFrom returns the diagnostic context attached to ctx, or nil.
func DiagFrom(ctx context.Context) Diag {
	d, _ := ctx.Value(diagCtxKey{}).(Diag)
	return d
}

func (d Diag) clone() Diag {
	if d == nil {
		return nil
	}
	out := make(Diag, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// stepDiag composes the submitted diagnostic context with the engine's
// per-step identifiers.
func stepDiag(submitted Diag, st *State, stepName string, index int, dir Direction) Diag {
	d := submitted.clone()
	if d == nil {
		d = Diag{}
	}
	d["flight_id"] = st.FlightID
	d["flight_type"] = st.FlightType
	d["step_name"] = stepName
	d["step_index"] = strconv.Itoa(index)
	d["direction"] = string(dir)
	return d
}
