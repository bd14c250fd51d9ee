package flight

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlightMapMissingKey(t *testing.T) {
	m := NewFlightMap()
	var v string
	found, err := m.Get("absent", &v)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, m.GetString("absent"))
}

func TestFlightMapStructRoundTrip(t *testing.T) {
	type payload struct {
		Name  string   `json:"name"`
		Hops  int      `json:"hops"`
		Items []string `json:"items"`
	}
	m := NewFlightMap()
	require.NoError(t, m.Put("p", payload{Name: "n", Hops: 2, Items: []string{"a", "b"}}))

	var got payload
	found, err := m.Get("p", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, payload{Name: "n", Hops: 2, Items: []string{"a", "b"}}, got)
}

func TestFlightMapCloneIsolation(t *testing.T) {
	m := NewFlightMap()
	require.NoError(t, m.Put("k", "original"))

	cp := m.Clone()
	require.NoError(t, cp.Put("k", "changed"))

	assert.Equal(t, "original", m.GetString("k"))
	assert.Equal(t, "changed", cp.GetString("k"))
}
