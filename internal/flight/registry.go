package flight

import (
	"fmt"
	"sync"
)

// Builder constructs the ordered step list for one flight type from the
// flight's input parameters. Builders must be deterministic: recovery
// rebuilds the same step list to resume a half-finished flight.
type Builder func(inputs FlightMap) ([]Step, error)

// Registry maps flight type names to builders. Flight types are registered
// at startup; an unknown type at execution time is a programming defect and
// terminates the flight FATAL.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

func NewRegistry() *Registry {
	return &Registry{builders: map[string]Builder{}}
}

func (r *Registry) Register(flightType string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.builders[flightType]; dup {
		panic(fmt.Sprintf("flight type %q registered twice", flightType))
	}
	r.builders[flightType] = b
}

func (r *Registry) Build(flightType string, inputs FlightMap) ([]Step, error) {
	r.mu.RLock()
	b, ok := r.builders[flightType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown flight type %q", flightType)
	}
	return b(inputs)
}
