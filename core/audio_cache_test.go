package core

import (
	"sync"
	"testing"
	"time"
)

func TestAudioCache_AppendSnapshotDiscard(t *testing.T) {
	c := NewAudioCache()
	if c.Len() != 0 || c.TotalBytes() != 0 {
		t.Fatal("new cache must be empty")
	}

	now := time.Now()
	c.Append(AudioCacheEntry{Role: "user", Data: Blob{MimeType: "audio/pcm", Data: []byte{1, 2}}, Timestamp: now})
	c.Append(AudioCacheEntry{Role: "user", Data: Blob{MimeType: "audio/pcm", Data: []byte{3}}, Timestamp: now.Add(time.Millisecond)})

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if c.TotalBytes() != 3 {
		t.Fatalf("expected 3 bytes, got %d", c.TotalBytes())
	}

	snap := c.Snapshot()
	if len(snap) != 2 || string(snap[0].Data.Data) != string([]byte{1, 2}) {
		t.Fatalf("snapshot mismatch: %+v", snap)
	}

	// Entries appended after a snapshot survive a discard of the snapshot
	// length.
	c.Append(AudioCacheEntry{Role: "user", Data: Blob{MimeType: "audio/pcm", Data: []byte{4}}, Timestamp: now.Add(2 * time.Millisecond)})
	c.Discard(len(snap))

	if c.Len() != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", c.Len())
	}
	if rest := c.Snapshot(); string(rest[0].Data.Data) != string([]byte{4}) {
		t.Fatalf("wrong entry survived: %+v", rest)
	}
}

func TestAudioCache_Clear(t *testing.T) {
	c := NewAudioCache()
	c.Append(AudioCacheEntry{Role: "model", Data: Blob{MimeType: "audio/pcm", Data: []byte{9}}})
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after clear, got %d", c.Len())
	}
}

func TestAudioCache_ConcurrentAppends(t *testing.T) {
	c := NewAudioCache()

	const writers = 10
	const perWriter = 100

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				c.Append(AudioCacheEntry{Role: "user", Data: Blob{MimeType: "audio/pcm", Data: []byte{byte(i)}}})
			}
		}()
	}
	wg.Wait()

	if c.Len() != writers*perWriter {
		t.Fatalf("expected %d entries, got %d", writers*perWriter, c.Len())
	}
	if c.TotalBytes() != writers*perWriter {
		t.Fatalf("expected %d bytes, got %d", writers*perWriter, c.TotalBytes())
	}
}
