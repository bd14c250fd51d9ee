package flight

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store used by unit tests and single-process dev
// runs. States are deep-copied on the way in and out so callers never share
// mutable maps with the store.
type MemStore struct {
	mu      sync.RWMutex
	flights map[string]*State
}

func NewMemStore() *MemStore {
	return &MemStore{flights: map[string]*State{}}
}

func (s *MemStore) CreateFlight(ctx context.Context, st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flights[st.FlightID]; ok {
		return ErrFlightExists
	}
	s.flights[st.FlightID] = st.clone()
	return nil
}

func (s *MemStore) UpdateFlight(ctx context.Context, st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flights[st.FlightID]; !ok {
		return ErrFlightNotFound
	}
	s.flights[st.FlightID] = st.clone()
	return nil
}

func (s *MemStore) GetFlight(ctx context.Context, flightID string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.flights[flightID]
	if !ok {
		return nil, ErrFlightNotFound
	}
	return st.clone(), nil
}

func (s *MemStore) ListUnfinished(ctx context.Context) ([]*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*State
	for _, st := range s.flights {
		if !st.Status.Terminal() {
			out = append(out, st.clone())
		}
	}
	return out, nil
}
