package core

import (
	"sync"
	"time"
)

// AudioCacheEntry is one buffered realtime audio chunk together with the role
// that produced it and its arrival time.
type AudioCacheEntry struct {
	Role      string    `json:"role"`
	Data      Blob      `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// AudioCache buffers audio chunks for one direction of a live conversation
// until they are flushed to artifact storage. It starts empty and is safe for
// concurrent use; appending is always valid, there is no capacity limit here.
type AudioCache struct {
	mu      sync.Mutex
	entries []AudioCacheEntry
}

// NewAudioCache returns an empty cache ready for appends.
func NewAudioCache() *AudioCache { return &AudioCache{} }

// Append adds one chunk to the end of the cache.
func (c *AudioCache) Append(entry AudioCacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

// Len returns the number of buffered chunks.
func (c *AudioCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TotalBytes returns the summed payload size of all buffered chunks.
func (c *AudioCache) TotalBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		n += len(e.Data.Data)
	}
	return n
}

// Snapshot returns a copy of the buffered entries in append order. Flush I/O
// runs against the copy so the cache lock is never held across store calls
// and concurrent appends proceed undisturbed.
func (c *AudioCache) Snapshot() []AudioCacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AudioCacheEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Discard removes the first n entries. Entries appended after a Snapshot
// survive a Discard of the snapshot length.
func (c *AudioCache) Discard(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 {
		return
	}
	if n >= len(c.entries) {
		c.entries = nil
		return
	}
	c.entries = append([]AudioCacheEntry(nil), c.entries[n:]...)
}

// Clear removes all buffered entries.
func (c *AudioCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}
