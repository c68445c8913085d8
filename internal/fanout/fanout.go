// Package fanout distributes a formatted commit message to its
// configured IRC destinations with per-channel de-duplication
// (spec.md §4.5, §4.6).
package fanout

import (
	"strings"
	"sync"

	"github.com/kgbrelay/kgb/internal/config"
	"github.com/kgbrelay/kgb/internal/metrics"
)

// Sink is how fanout hands a delivered message off to the IRC layer.
// Implemented by internal/ircsession's network Hub.
type Sink interface {
	Enqueue(network, channel string, lines []string)
}

// FeedNotifier is the optional admin-feed hook; internal/adminweb.Hub
// satisfies it.
type FeedNotifier interface {
	Delivery(network, channel, line string)
}

type channelState struct {
	seen *SeenSet
	mru  *MRU
}

// Fanout holds per-channel dedup state and routes accepted commits to
// their configured channels.
type Fanout struct {
	mu       sync.Mutex
	channels map[string]*channelState

	sink Sink
	feed FeedNotifier
}

// New creates a Fanout delivering through sink, optionally mirroring
// deliveries to feed (pass nil to disable the admin feed).
func New(sink Sink, feed FeedNotifier) *Fanout {
	return &Fanout{
		channels: make(map[string]*channelState),
		sink:     sink,
		feed:     feed,
	}
}

func channelKey(network, channel string) string {
	return network + "\x00" + channel
}

func (f *Fanout) stateFor(network, channel string) *channelState {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := channelKey(network, channel)
	st, ok := f.channels[key]
	if !ok {
		st = &channelState{seen: NewSeenSet(), mru: NewMRU()}
		f.channels[key] = st
	}
	return st
}

// Result summarizes one Deliver call across all of a repo's channels.
type Result struct {
	Delivered  int
	Suppressed int
}

// Deliver sends lines to every channel repoID fans out to in cfg,
// suppressing the whole message on a channel where its fingerprint was
// already seen (its own seen-set) or where an identical message was just
// observed from another speaker (the channel's MRU) — spec.md §4.6.
func (f *Fanout) Deliver(cfg *config.Config, repoID string, lines []string) Result {
	var res Result
	if len(lines) == 0 {
		return res
	}

	for _, ref := range cfg.ChannelsFor(repoID) {
		st := f.stateFor(ref.Network, ref.Channel)
		fp := FingerprintOf(ref.Channel, lines[0])

		f.mu.Lock()
		suppress := st.seen.Contains(fp) || st.mru.Contains(fp)
		if !suppress {
			st.seen.Add(fp)
		}
		f.mu.Unlock()

		if suppress {
			res.Suppressed++
			metrics.FanoutDuplicatesSuppressedTotal.WithLabelValues(ref.Network, ref.Channel).Inc()
			continue
		}

		f.sink.Enqueue(ref.Network, ref.Channel, lines)
		res.Delivered++
		metrics.FanoutDeliveriesTotal.WithLabelValues(ref.Network, ref.Channel).Inc()
		if f.feed != nil {
			f.feed.Delivery(ref.Network, ref.Channel, lines[0])
		}
	}
	return res
}

// ObserveChannelTraffic records a message seen on-channel from another
// speaker, so a subsequent identical delivery from us is suppressed as
// an echo (spec.md §4.6).
func (f *Fanout) ObserveChannelTraffic(network, channel, messageFirstLine string) {
	st := f.stateFor(network, channel)
	fp := FingerprintOf(channel, messageFirstLine)
	f.mu.Lock()
	st.mru.Observe(fp)
	f.mu.Unlock()
}

// ResetNetwork discards the seen-set and MRU for every channel on network.
// The seen-set's lifecycle is tied to the IRC session, not the process
// (spec.md §3 "Seen-set ... created when the session starts, discarded on
// disconnect") — internal/ircsession calls this whenever a network session
// drops, so a reconnect starts de-dup state fresh rather than carrying
// fingerprints across a connection it no longer owns.
func (f *Fanout) ResetNetwork(network string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := network + "\x00"
	for key := range f.channels {
		if strings.HasPrefix(key, prefix) {
			delete(f.channels, key)
		}
	}
}
