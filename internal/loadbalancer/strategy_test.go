package loadbalancer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upstreams = []string{"http://api-1:3001", "http://api-2:3001", "http://api-3:3001"}

func TestNewStrategy(t *testing.T) {
	for name, want := range map[string]string{
		"":                  RoundRobinStrategy,
		"round_robin":       RoundRobinStrategy,
		"random":            RandomStrategy,
		"least_connections": LeastConnectionsStrategy,
	} {
		s, err := NewStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, want, s.Name())
	}

	_, err := NewStrategy("weighted")
	require.Error(t, err)
}

func TestRoundRobinCycles(t *testing.T) {
	rr := NewRoundRobin()

	var got []string
	for i := 0; i < 6; i++ {
		got = append(got, rr.Next(upstreams))
	}
	assert.Equal(t, append(append([]string{}, upstreams...), upstreams...), got)
	assert.Empty(t, rr.Next(nil))
}

func TestRandomStaysInRange(t *testing.T) {
	r := NewRandom()
	for i := 0; i < 50; i++ {
		assert.Contains(t, upstreams, r.Next(upstreams))
	}
	assert.Empty(t, r.Next(nil))
}

func TestLeastConnections(t *testing.T) {
	lc := NewLeastConnections()

	assert.Equal(t, upstreams[0], lc.Next(upstreams))

	lc.Acquire(upstreams[0])
	lc.Acquire(upstreams[1])
	assert.Equal(t, upstreams[2], lc.Next(upstreams))

	lc.Acquire(upstreams[2])
	lc.Acquire(upstreams[2])
	lc.Release(upstreams[0])
	assert.Equal(t, upstreams[0], lc.Next(upstreams))
	assert.Equal(t, 0, lc.InFlight(upstreams[0]))

	lc.Release(upstreams[0])
	assert.Equal(t, 0, lc.InFlight(upstreams[0]))

	var _ ConnectionTracker = lc
}
