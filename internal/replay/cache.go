// Package replay buffers synthesized audio segments for the active topic so
// the host can rewind and replay without re-synthesizing.
package replay

import (
	"errors"
	"sort"
	"sync"
)

// ErrOverBudget is returned by Put when caching the segment would exceed the
// byte budget. The cache rejects the insert rather than evicting earlier
// segments: a hole in the middle of a topic would silently corrupt
// replay-from-index semantics, so capacity loss happens at the tail.
var ErrOverBudget = errors.New("replay: segment rejected, byte budget exceeded")

// Segment is one synthesized audio piece, immutable once cached.
type Segment struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	Audio []byte `json:"-"`
}

// Cache holds at most one topic's segments at a time, keyed by segment
// index, under a fixed byte budget. It is safe for concurrent use: the TTS
// consumer writes while UI-facing replay requests read.
type Cache struct {
	maxBytes int

	mu        sync.RWMutex
	topicID   string
	segments  map[int]Segment
	byteTotal int
}

const DefaultMaxBytes = 32 << 20 // 32 MiB

func NewCache(maxBytes int) *Cache {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Cache{maxBytes: maxBytes, segments: make(map[int]Segment)}
}

// Put caches one segment for topicID. Switching topics clears the previous
// topic's segments first. If the insert would push the running byte total
// over budget it is rejected with ErrOverBudget and nothing changes.
func (c *Cache) Put(index int, text string, audio []byte, topicID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if topicID != c.topicID {
		c.resetLocked()
		c.topicID = topicID
	}

	existing := len(c.segments[index].Audio)
	next := c.byteTotal - existing + len(audio)
	if next > c.maxBytes {
		return ErrOverBudget
	}

	// Copy so later mutation of the caller's buffer cannot reach the cache.
	stored := make([]byte, len(audio))
	copy(stored, audio)

	c.segments[index] = Segment{Index: index, Text: text, Audio: stored}
	c.byteTotal = next
	return nil
}

// Get returns the segment at index, if cached.
func (c *Cache) Get(index int) (Segment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seg, ok := c.segments[index]
	return seg, ok
}

// All returns every cached segment sorted by ascending index.
func (c *Cache) All() []Segment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedLocked(func(int) bool { return true })
}

// From returns the segments with index >= start, sorted ascending.
func (c *Cache) From(start int) []Segment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedLocked(func(i int) bool { return i >= start })
}

// Clear drops all segments and resets topic tracking and the byte counter.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	c.topicID = ""
}

// Len returns the number of cached segments.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.segments)
}

// ByteTotal returns the summed audio size of all cached segments.
func (c *Cache) ByteTotal() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byteTotal
}

// TopicID returns the topic currently tracked by the cache.
func (c *Cache) TopicID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topicID
}

// IndexRange returns the lowest and highest cached indexes. ok is false when
// the cache is empty.
func (c *Cache) IndexRange() (low, high int, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.segments) == 0 {
		return 0, 0, false
	}

	first := true
	for i := range c.segments {
		if first {
			low, high = i, i
			first = false
			continue
		}
		if i < low {
			low = i
		}
		if i > high {
			high = i
		}
	}
	return low, high, true
}

func (c *Cache) resetLocked() {
	c.segments = make(map[int]Segment)
	c.byteTotal = 0
}

func (c *Cache) sortedLocked(keep func(int) bool) []Segment {
	out := make([]Segment, 0, len(c.segments))
	for i, seg := range c.segments {
		if keep(i) {
			out = append(out, seg)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Index < out[b].Index })
	return out
}
