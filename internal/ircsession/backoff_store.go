package ircsession

import (
	"context"
	"time"
)

// BackoffState is one network's reconnect progress: how many consecutive
// failures it has seen, and the earliest wall-clock time it should try
// again (SPEC_FULL.md §4.9).
type BackoffState struct {
	Attempt       int
	NextAllowedAt time.Time
}

// BackoffStore persists BackoffState across process restarts so a
// forced respawn (supervisor QUIT, or a HUP that changes the RPC bind)
// doesn't make every network forget it was mid-backoff and hammer the
// server with an immediate reconnect. RedisStore is the production
// implementation; a nil BackoffStore makes Session fall back to the
// base spec behaviour of resetting backoff on every process start.
type BackoffStore interface {
	Save(ctx context.Context, network string, state BackoffState) error
	Load(ctx context.Context, network string) (BackoffState, bool, error)
}

// SetBackoffStore wires an optional persistence layer for reconnect
// backoff. Call before Run.
func (s *Session) SetBackoffStore(store BackoffStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backoffStore = store
}

// restoreBackoff loads any persisted backoff state for this network and,
// if its NextAllowedAt is still in the future, sleeps out the remainder
// before the first connection attempt — continuing the curve instead of
// resetting it (SPEC_FULL.md §4.9).
func (s *Session) restoreBackoff() {
	s.mu.RLock()
	store := s.backoffStore
	s.mu.RUnlock()
	if store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	state, ok, err := store.Load(ctx, s.Network)
	cancel()
	if err != nil || !ok {
		return
	}

	s.mu.Lock()
	s.attempt = state.Attempt
	s.mu.Unlock()

	wait := time.Until(state.NextAllowedAt)
	if wait <= 0 {
		return
	}
	select {
	case <-time.After(wait):
	case <-s.stopCh:
	}
}

// saveBackoff persists the current attempt count and next-allowed-at so
// a restart can resume this network's backoff curve.
func (s *Session) saveBackoff(attempt int, nextAllowedAt time.Time) {
	s.mu.RLock()
	store := s.backoffStore
	s.mu.RUnlock()
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = store.Save(ctx, s.Network, BackoffState{Attempt: attempt, NextAllowedAt: nextAllowedAt})
}

// clearBackoff resets persisted state once a network successfully
// registers, so the curve doesn't carry a stale attempt count into the
// next unrelated disconnect.
func (s *Session) clearBackoff() {
	s.mu.Lock()
	s.attempt = 0
	s.mu.Unlock()
	s.saveBackoff(0, time.Time{})
}
