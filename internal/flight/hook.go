package flight

import "context"

// Hook observes flight terminal states. Hooks run exactly once per flight,
// after the terminal status is durable. A hook error is logged loudly but
// never changes the flight's outcome.
type Hook interface {
	FlightEnded(ctx context.Context, st *State) error
}
