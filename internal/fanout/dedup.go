package fanout

import (
	"container/list"
	"hash/fnv"
)

// seenSetCapacity is the fixed capacity of both the per-channel seen-set
// and the on-channel MRU (spec.md §3 "Seen-set", §4.6).
const seenSetCapacity = 100

// Fingerprint identifies a message for de-dup purposes: a hash of
// (channel, first 100 bytes of the message's first line). fnv-1a is used
// rather than a cryptographic hash since this is an in-memory dedup
// window with no adversarial requirement, just fast, deterministic
// bucketing.
type Fingerprint uint64

// FingerprintOf computes the fingerprint for a candidate message on channel.
func FingerprintOf(channel, firstLine string) Fingerprint {
	if len(firstLine) > 100 {
		firstLine = firstLine[:100]
	}
	h := fnv.New64a()
	h.Write([]byte(channel))
	h.Write([]byte{0}) // separator so "ab"+"c" != "a"+"bc"
	h.Write([]byte(firstLine))
	return Fingerprint(h.Sum64())
}

// SeenSet is a capacity-bounded, insertion-ordered set of fingerprints
// with oldest-first eviction — the per-channel de-dup window
// (spec.md §4.6, §8 property 6).
type SeenSet struct {
	order *list.List
	index map[Fingerprint]*list.Element
}

// NewSeenSet creates an empty seen-set at the spec-mandated capacity.
func NewSeenSet() *SeenSet {
	return &SeenSet{
		order: list.New(),
		index: make(map[Fingerprint]*list.Element),
	}
}

// Contains reports whether fp is already in the set.
func (s *SeenSet) Contains(fp Fingerprint) bool {
	_, ok := s.index[fp]
	return ok
}

// Add inserts fp, evicting the oldest entry first if at capacity. It is a
// no-op if fp is already present (that case is handled by Contains at the
// call site, which drops the whole message instead of re-adding).
func (s *SeenSet) Add(fp Fingerprint) {
	if s.Contains(fp) {
		return
	}
	if s.order.Len() >= seenSetCapacity {
		oldest := s.order.Front()
		if oldest != nil {
			delete(s.index, oldest.Value.(Fingerprint))
			s.order.Remove(oldest)
		}
	}
	el := s.order.PushBack(fp)
	s.index[fp] = el
}

// Len returns the number of fingerprints currently held.
func (s *SeenSet) Len() int { return s.order.Len() }

// MRU is the parallel most-recently-used cache of fingerprints seen
// on-channel from other speakers (spec.md §4.6): on a hit the entry is
// promoted to the front; on a miss it is appended, evicting the oldest
// at capacity.
type MRU struct {
	order *list.List
	index map[Fingerprint]*list.Element
}

// NewMRU creates an empty MRU at the spec-mandated capacity.
func NewMRU() *MRU {
	return &MRU{
		order: list.New(),
		index: make(map[Fingerprint]*list.Element),
	}
}

// Contains reports whether fp is present, promoting it to MRU-front if so.
func (m *MRU) Contains(fp Fingerprint) bool {
	el, ok := m.index[fp]
	if !ok {
		return false
	}
	m.order.MoveToFront(el)
	return true
}

// Observe records a fingerprint seen on-channel, promoting it if already
// present or inserting it at the front, evicting the least-recently-used
// entry if at capacity.
func (m *MRU) Observe(fp Fingerprint) {
	if el, ok := m.index[fp]; ok {
		m.order.MoveToFront(el)
		return
	}
	if m.order.Len() >= seenSetCapacity {
		oldest := m.order.Back()
		if oldest != nil {
			delete(m.index, oldest.Value.(Fingerprint))
			m.order.Remove(oldest)
		}
	}
	el := m.order.PushFront(fp)
	m.index[fp] = el
}

// Len returns the number of fingerprints currently held.
func (m *MRU) Len() int { return m.order.Len() }
