package fanout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintOfTruncatesTo100Bytes(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	short := string(long[:100])
	assert.Equal(t, FingerprintOf("#c", short), FingerprintOf("#c", string(long)))
}

func TestFingerprintOfDistinguishesChannels(t *testing.T) {
	assert.NotEqual(t, FingerprintOf("#a", "hello"), FingerprintOf("#b", "hello"))
}

func TestSeenSetContainsAfterAdd(t *testing.T) {
	s := NewSeenSet()
	fp := FingerprintOf("#c", "line")
	assert.False(t, s.Contains(fp))
	s.Add(fp)
	assert.True(t, s.Contains(fp))
	assert.Equal(t, 1, s.Len())
}

func TestSeenSetEvictsOldestAtCapacity(t *testing.T) {
	s := NewSeenSet()
	first := FingerprintOf("#c", "first")
	s.Add(first)
	for i := 0; i < seenSetCapacity-1; i++ {
		s.Add(Fingerprint(i + 1000))
	}
	assert.Equal(t, seenSetCapacity, s.Len())
	assert.True(t, s.Contains(first))

	// one more insert should evict "first", the oldest entry
	s.Add(Fingerprint(99999))
	assert.False(t, s.Contains(first))
	assert.Equal(t, seenSetCapacity, s.Len())
}

func TestMRUPromotesOnContainsHit(t *testing.T) {
	m := NewMRU()
	a := FingerprintOf("#c", "a")
	b := FingerprintOf("#c", "b")
	m.Observe(a)
	m.Observe(b)
	// touching a should promote it so it survives eviction ahead of b
	assert.True(t, m.Contains(a))

	for i := 0; i < seenSetCapacity-1; i++ {
		m.Observe(Fingerprint(i + 2000))
	}
	// b was pushed to the back by the fill loop and should now be evicted
	assert.False(t, m.Contains(b))
	assert.True(t, m.Contains(a))
}

func TestMRULen(t *testing.T) {
	m := NewMRU()
	assert.Equal(t, 0, m.Len())
	m.Observe(FingerprintOf("#c", "x"))
	assert.Equal(t, 1, m.Len())
	m.Observe(FingerprintOf("#c", "x"))
	assert.Equal(t, 1, m.Len())
}
