package flight

import "context"

// Store is the port for flight persistence. The engine depends on this
// abstraction, not on postgres directly, so tests run against MemStore and
// production against the pgx adapter in internal/store.
type Store interface {
	// CreateFlight persists a new flight. It must reject a duplicate id.
	CreateFlight(ctx context.Context, st *State) error
	// UpdateFlight persists a checkpoint: status, step index, direction,
	// working map, and any recorded error. The engine calls it after every
	// step and before running the next one.
	UpdateFlight(ctx context.Context, st *State) error
	GetFlight(ctx context.Context, flightID string) (*State, error)
	// ListUnfinished returns flights in a non-terminal state, for recovery.
	ListUnfinished(ctx context.Context) ([]*State, error)
}

// Plain sentinels so the port has no dependency on the domain error type.
type storeError string

func (e storeError) Error() string { return string(e) }

const (
	ErrFlightNotFound = storeError("flight not found")
	ErrFlightExists   = storeError("flight already exists")
)
