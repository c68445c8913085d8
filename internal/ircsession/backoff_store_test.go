package ircsession

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgbrelay/kgb/internal/config"
)

func configWithBackoffRange(min, max int) config.NetworkConfig {
	return config.NetworkConfig{ReconnectMinSec: min, ReconnectMaxSec: max}
}

type fakeBackoffStore struct {
	mu     sync.Mutex
	states map[string]BackoffState
}

func newFakeBackoffStore() *fakeBackoffStore {
	return &fakeBackoffStore{states: make(map[string]BackoffState)}
}

func (f *fakeBackoffStore) Save(ctx context.Context, network string, state BackoffState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state.Attempt == 0 && state.NextAllowedAt.IsZero() {
		delete(f.states, network)
		return nil
	}
	f.states[network] = state
	return nil
}

func (f *fakeBackoffStore) Load(ctx context.Context, network string) (BackoffState, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[network]
	return s, ok, nil
}

func TestNextBackoffEscalatesAndCaps(t *testing.T) {
	s := New("freenode", configWithBackoffRange(5, 30), nil, nil, nil, nil, nil)

	d1, a1 := s.nextBackoff()
	d2, a2 := s.nextBackoff()
	d3, a3 := s.nextBackoff()
	d4, a4 := s.nextBackoff()

	assert.Equal(t, 1, a1)
	assert.Equal(t, 2, a2)
	assert.Equal(t, 3, a3)
	assert.Equal(t, 4, a4)

	assert.True(t, d1 >= 5*time.Second && d1 <= 6*time.Second)
	assert.True(t, d2 >= 10*time.Second && d2 <= 12*time.Second)
	assert.True(t, d3 >= 20*time.Second && d3 <= 24*time.Second)
	assert.True(t, d4 == 30*time.Second) // doubled past max, clamped
}

func TestSaveAndRestoreBackoffRoundTrips(t *testing.T) {
	store := newFakeBackoffStore()
	s := New("freenode", configWithBackoffRange(5, 30), nil, nil, nil, nil, nil)
	s.SetBackoffStore(store)

	next := time.Now().Add(50 * time.Millisecond)
	s.saveBackoff(3, next)

	state, ok, err := store.Load(context.Background(), "freenode")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, state.Attempt)

	restored := New("freenode", configWithBackoffRange(5, 30), nil, nil, nil, nil, nil)
	restored.SetBackoffStore(store)

	start := time.Now()
	restored.restoreBackoff()
	assert.True(t, time.Since(start) < time.Second)
	assert.Equal(t, 3, restored.attempt)
}

func TestClearBackoffResetsAttemptAndDeletesState(t *testing.T) {
	store := newFakeBackoffStore()
	s := New("freenode", configWithBackoffRange(5, 30), nil, nil, nil, nil, nil)
	s.SetBackoffStore(store)

	s.saveBackoff(4, time.Now().Add(time.Minute))
	_, ok, _ := store.Load(context.Background(), "freenode")
	require.True(t, ok)

	s.attempt = 4
	s.clearBackoff()

	assert.Equal(t, 0, s.attempt)
	_, ok, _ = store.Load(context.Background(), "freenode")
	assert.False(t, ok)
}
