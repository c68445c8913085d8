package ircsession

import (
	"sync"
	"time"

	"github.com/kgbrelay/kgb/internal/circuitbreaker"
	"github.com/kgbrelay/kgb/internal/config"
	"github.com/kgbrelay/kgb/internal/events"
)

// ChannelObserver is invoked with on-channel PRIVMSG traffic from other
// speakers; internal/fanout.Fanout.ObserveChannelTraffic fits this.
type ChannelObserver func(network, channel, text string)

// defaultRespawnDelay spaces out teardown-and-respawn reconnects so a
// config reload touching several networks doesn't hammer every IRC
// server at once (spec.md §4.7 "Dynamic membership").
const defaultRespawnDelay = 3 * time.Second

// Hub owns one Session per configured IRC network and reconciles them
// against config reloads (spec.md §4.7 "Dynamic membership").
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	breakers     *circuitbreaker.RelayCircuitBreakers
	bus          events.EventEmitter
	feed         FeedNotifier
	reset        DedupReset
	observer     ChannelObserver
	backoff      BackoffStore
	respawnDelay time.Duration
}

// NewHub creates an empty Hub. Call Reconcile with the initial config to
// spawn sessions.
func NewHub(breakers *circuitbreaker.RelayCircuitBreakers, bus events.EventEmitter, feed FeedNotifier, reset DedupReset, observer ChannelObserver) *Hub {
	return &Hub{
		sessions:     make(map[string]*Session),
		breakers:     breakers,
		bus:          bus,
		feed:         feed,
		reset:        reset,
		observer:     observer,
		respawnDelay: defaultRespawnDelay,
	}
}

// SetBackoffStore wires an optional reconnect-backoff persistence layer
// (SPEC_FULL.md §4.9) into every session this Hub spawns from now on.
func (h *Hub) SetBackoffStore(store BackoffStore) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.backoff = store
}

// Enqueue implements internal/fanout.Sink: route a delivery to the named
// network/channel's session outbox.
func (h *Hub) Enqueue(network, channel string, lines []string) {
	h.mu.RLock()
	sess, ok := h.sessions[network]
	h.mu.RUnlock()
	if !ok {
		return
	}
	sess.Enqueue(channel, lines)
}

// Reconcile brings the Hub's live sessions in line with cfg: spawning
// sessions for new networks, tearing down and respawning ones whose core
// connection parameters changed, and reconciling channel membership for
// ones that only gained/lost channel subscriptions (spec.md §4.7).
func (h *Hub) Reconcile(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]bool, len(cfg.Networks))
	for name, netCfg := range cfg.Networks {
		seen[name] = true
		existing, ok := h.sessions[name]
		if !ok {
			h.spawn(name, netCfg, cfg)
			continue
		}

		existing.mu.RLock()
		changed := existing.cfg.CoreParams() != netCfg.CoreParams()
		existing.mu.RUnlock()
		if changed {
			existing.Stop("KGB reconfiguring")
			delete(h.sessions, name)
			h.scheduleRespawn(name, netCfg, cfg)
			continue
		}

		existing.UpdateConfig(netCfg, cfg)
		h.reconcileChannels(existing, cfg)
	}

	for name, sess := range h.sessions {
		if !seen[name] {
			sess.Stop("KGB network removed from config")
			delete(h.sessions, name)
		}
	}
}

func (h *Hub) reconcileChannels(sess *Session, cfg *config.Config) {
	wanted := make(map[string]bool)
	for _, ch := range cfg.ChannelsOnNetwork(sess.Network) {
		wanted[ch] = true
	}

	sess.mu.RLock()
	joined := make(map[string]bool, len(sess.joined))
	for ch := range sess.joined {
		joined[ch] = true
	}
	sess.mu.RUnlock()

	if sess.State() != StateJoined && sess.State() != StateRegistered {
		return
	}

	for ch := range wanted {
		if !joined[ch] {
			sess.Join(ch)
		}
	}
	for ch := range joined {
		if !wanted[ch] {
			sess.Part(ch, "KGB: channel removed from config")
		}
	}
}

// scheduleRespawn re-spawns name after h.respawnDelay, unless another
// Reconcile has already spawned or removed it in the meantime.
func (h *Hub) scheduleRespawn(name string, netCfg config.NetworkConfig, full *config.Config) {
	delay := h.respawnDelay
	go func() {
		time.Sleep(delay)
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, exists := h.sessions[name]; exists {
			return
		}
		h.spawn(name, netCfg, full)
	}()
}

func (h *Hub) spawn(name string, netCfg config.NetworkConfig, full *config.Config) {
	var cb *circuitbreaker.CircuitBreaker
	if h.breakers != nil {
		cb = h.breakers.Network(name)
	}
	sess := New(name, netCfg, full, cb, h.bus, h.feed, h.reset)
	if h.observer != nil {
		sess.SetChannelObserver(h.observer)
	}
	if h.backoff != nil {
		sess.SetBackoffStore(h.backoff)
	}
	h.sessions[name] = sess
	go sess.Run()
}

// StopAll tears down every session with the given QUIT reason, used by the
// supervisor on graceful shutdown (spec.md §4.8).
func (h *Hub) StopAll(reason string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sess := range h.sessions {
		sess.Stop(reason)
	}
}

// Sessions returns a snapshot of network -> state, for admin/health reporting.
func (h *Hub) Sessions() map[string]State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]State, len(h.sessions))
	for name, sess := range h.sessions {
		out[name] = sess.State()
	}
	return out
}

// QueueDepth sums the outstanding outbox length across every session, for
// admission control (spec.md §4.3: queue_limit is checked against the
// total pending send backlog).
func (h *Hub) QueueDepth() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, sess := range h.sessions {
		total += sess.outbox.Len()
	}
	return total
}
