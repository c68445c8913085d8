package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cb := New(&Config{
		Name:        "test",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
	})

	fail := func() (interface{}, error) { return nil, errors.New("boom") }
	_, _ = cb.Execute(fail)
	_, _ = cb.Execute(fail)

	assert.Equal(t, StateOpen, cb.State())
	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestRelayCircuitBreakersLazyPerNetwork(t *testing.T) {
	r := NewRelayCircuitBreakers()
	a := r.Network("freenode")
	b := r.Network("freenode")
	c := r.Network("efnet")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, StateClosed, a.State())
}

func TestRelayCircuitBreakersHealthStatus(t *testing.T) {
	r := NewRelayCircuitBreakers()
	status, detail := r.HealthStatus()
	require.Equal(t, "HEALTHY", status)
	assert.Contains(t, detail, "ingress")
}

func TestRelayCircuitBreakersDegradedWhenNetworkOpen(t *testing.T) {
	r := NewRelayCircuitBreakers()
	nb := r.Network("badnet")
	for i := 0; i < 3; i++ {
		_, _ = nb.Execute(func() (interface{}, error) { return nil, errors.New("refused") })
	}
	status, _ := r.HealthStatus()
	assert.Equal(t, "DEGRADED", status)
}
