package flight

import (
	"encoding/json"
	"fmt"
)

// FlightMap is the durable key-value state a flight accumulates. It is the
// only channel steps use to pass data to later steps, and it is snapshotted
// into the store with every checkpoint.
type FlightMap map[string]json.RawMessage

func NewFlightMap() FlightMap {
	return FlightMap{}
}

func (m FlightMap) Put(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("flight map put %q: %w", key, err)
	}
	m[key] = b
	return nil
}

// Get unmarshals the value at key into dest. The boolean reports presence;
// a missing key is not an error.
func (m FlightMap) Get(key string, dest any) (bool, error) {
	raw, ok := m[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return true, fmt.Errorf("flight map get %q: %w", key, err)
	}
	return true, nil
}

func (m FlightMap) GetString(key string) string {
	var s string
	if _, err := m.Get(key, &s); err != nil {
		return ""
	}
	return s
}

func (m FlightMap) Clone() FlightMap {
	if m == nil {
		return nil
	}
	out := make(FlightMap, len(m))
	for k, v := range m {
		cp := make(json.RawMessage, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
