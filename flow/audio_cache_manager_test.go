package flow

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/agentstream/core"
)

// failingArtifactStore rejects every operation with a fixed error.
type failingArtifactStore struct{ err error }

func (s *failingArtifactStore) Save(string, string, string, string, core.Blob) (int, error) {
	return 0, s.err
}

func (s *failingArtifactStore) Get(string, string, string, string) (core.Blob, error) {
	return core.Blob{}, s.err
}

func (s *failingArtifactStore) GetVersion(string, string, string, string, int) (core.Blob, error) {
	return core.Blob{}, s.err
}

func (s *failingArtifactStore) List(string, string, string) ([]string, error) { return nil, s.err }

func (s *failingArtifactStore) ListVersions(string, string, string, string) ([]int, error) {
	return nil, s.err
}

func (s *failingArtifactStore) Delete(string, string, string, string) error { return s.err }

func TestAudioCacheManager_FlushInputCache(t *testing.T) {
	f := newFlowFixture(t)
	mgr := NewAudioCacheManager(DefaultAudioCacheConfig())

	chunk := []byte{0x00, 0xFF, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	first := time.UnixMilli(1234567890000).UTC()

	f.invCtx.InputAudioCache.Append(core.AudioCacheEntry{
		Role:      "user",
		Data:      core.Blob{MimeType: "audio/pcm", Data: chunk},
		Timestamp: first,
	})

	before := len(f.sessionEvents(t))

	report := mgr.FlushCaches(f.invCtx, FlushSettings{UserAudio: true})

	if !report.Input.Flushed() {
		t.Fatalf("input flush outcome = %s (err=%v)", report.Input.Outcome, report.Input.Err)
	}
	if report.Input.Filename != "input_audio_1234567890000.pcm" {
		t.Errorf("filename = %q, want input_audio_1234567890000.pcm", report.Input.Filename)
	}
	if report.Input.Revision != 0 {
		t.Errorf("revision = %d, want 0", report.Input.Revision)
	}
	if report.Input.Chunks != 1 || report.Input.Bytes != len(chunk) {
		t.Errorf("report size = %d chunks / %d bytes", report.Input.Chunks, report.Input.Bytes)
	}
	if report.Output.Outcome != FlushOutcomeSkipped || report.Output.Reason != SkipReasonNotRequested {
		t.Errorf("output side must be skipped as not requested, got %+v", report.Output)
	}

	blob, err := f.artifacts.Get("test-app", "test-user", "test-session", "input_audio_1234567890000.pcm")
	if err != nil {
		t.Fatalf("artifact not saved: %v", err)
	}
	if !bytes.Equal(blob.Data, chunk) {
		t.Errorf("artifact bytes = %v, want %v", blob.Data, chunk)
	}
	if blob.MimeType != "audio/pcm" {
		t.Errorf("artifact mime type = %q, want audio/pcm", blob.MimeType)
	}

	events := f.sessionEvents(t)
	if len(events) != before+1 {
		t.Fatalf("expected exactly one new session event, got %d", len(events)-before)
	}

	ev := events[len(events)-1]
	if ev.Author != "user" {
		t.Errorf("flush event author = %q, want user", ev.Author)
	}
	if !ev.Timestamp.Equal(first) {
		t.Errorf("flush event timestamp = %v, want first chunk time %v", ev.Timestamp, first)
	}

	fp, ok := ev.Content.Parts[0].(core.FilePart)
	if !ok {
		t.Fatalf("flush event part is %T, want FilePart", ev.Content.Parts[0])
	}
	wantRef := "artifact://test-app/test-user/test-session/input_audio_1234567890000.pcm#0"
	if fp.File.URI != wantRef {
		t.Errorf("artifact ref = %q, want %q", fp.File.URI, wantRef)
	}
	if fp.File.MimeType == nil || *fp.File.MimeType != "audio/pcm" {
		t.Errorf("file part mime type = %v", fp.File.MimeType)
	}

	if got := f.invCtx.InputAudioCache.Len(); got != 0 {
		t.Errorf("flushed cache must be empty, has %d chunks", got)
	}
}

func TestAudioCacheManager_FirstChunkDrivesMetadata(t *testing.T) {
	f := newFlowFixture(t)
	mgr := NewAudioCacheManager(DefaultAudioCacheConfig())

	first := time.UnixMilli(1700000000000).UTC()

	f.invCtx.OutputAudioCache.Append(core.AudioCacheEntry{
		Role:      "TestAgent",
		Data:      core.Blob{MimeType: "audio/wav", Data: []byte{1, 2}},
		Timestamp: first,
	})
	f.invCtx.OutputAudioCache.Append(core.AudioCacheEntry{
		Role:      "TestAgent",
		Data:      core.Blob{MimeType: "audio/pcm", Data: []byte{3, 4}},
		Timestamp: first.Add(40 * time.Millisecond),
	})

	report := mgr.FlushCaches(f.invCtx, FlushSettings{ModelAudio: true})

	if !report.Output.Flushed() {
		t.Fatalf("output flush outcome = %s (err=%v)", report.Output.Outcome, report.Output.Err)
	}

	// MIME type, extension and timestamp all come from the first chunk; the
	// payload is the concatenation of every chunk.
	if report.Output.Filename != "output_audio_1700000000000.wav" {
		t.Errorf("filename = %q, want output_audio_1700000000000.wav", report.Output.Filename)
	}

	blob, err := f.artifacts.Get("test-app", "test-user", "test-session", report.Output.Filename)
	if err != nil {
		t.Fatalf("artifact not saved: %v", err)
	}
	if blob.MimeType != "audio/wav" {
		t.Errorf("mime type = %q, want audio/wav", blob.MimeType)
	}
	if !bytes.Equal(blob.Data, []byte{1, 2, 3, 4}) {
		t.Errorf("concatenated bytes = %v", blob.Data)
	}

	events := f.sessionEvents(t)
	ev := events[len(events)-1]
	if ev.Author != "TestAgent" {
		t.Errorf("flush event author = %q, want TestAgent", ev.Author)
	}
	if ev.Content.Role != "assistant" {
		t.Errorf("flush event content role = %q, want assistant", ev.Content.Role)
	}
}

func TestAudioCacheManager_DefaultsMimeType(t *testing.T) {
	f := newFlowFixture(t)
	mgr := NewAudioCacheManager(DefaultAudioCacheConfig())

	f.invCtx.InputAudioCache.Append(core.AudioCacheEntry{
		Role:      "user",
		Data:      core.Blob{Data: []byte{9}},
		Timestamp: time.UnixMilli(42).UTC(),
	})

	report := mgr.FlushCaches(f.invCtx, FlushSettings{UserAudio: true})

	if !report.Input.Flushed() {
		t.Fatalf("input flush outcome = %s", report.Input.Outcome)
	}
	if report.Input.Filename != "input_audio_42.pcm" {
		t.Errorf("filename = %q, want input_audio_42.pcm", report.Input.Filename)
	}

	blob, err := f.artifacts.Get("test-app", "test-user", "test-session", report.Input.Filename)
	if err != nil {
		t.Fatalf("artifact not saved: %v", err)
	}
	if blob.MimeType != "audio/pcm" {
		t.Errorf("mime type = %q, want the audio/pcm default", blob.MimeType)
	}
}

func TestAudioCacheManager_EmptyCacheSkips(t *testing.T) {
	f := newFlowFixture(t)
	mgr := NewAudioCacheManager(DefaultAudioCacheConfig())

	before := len(f.sessionEvents(t))

	report := mgr.FlushCaches(f.invCtx, FlushSettings{UserAudio: true, ModelAudio: true})

	if report.Input.Outcome != FlushOutcomeSkipped || report.Input.Reason != SkipReasonEmptyCache {
		t.Errorf("input = %+v, want skipped empty_cache", report.Input)
	}
	if report.Output.Outcome != FlushOutcomeSkipped || report.Output.Reason != SkipReasonEmptyCache {
		t.Errorf("output = %+v, want skipped empty_cache", report.Output)
	}

	names, err := f.artifacts.List("test-app", "test-user", "test-session")
	if err != nil {
		t.Fatalf("list artifacts: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("empty flush must not touch the artifact store, found %v", names)
	}
	if got := len(f.sessionEvents(t)); got != before {
		t.Errorf("empty flush must not append session events, got %d new", got-before)
	}
}

func TestAudioCacheManager_SaveFailureKeepsCache(t *testing.T) {
	f := newFlowFixture(t)
	f.invCtx.ArtifactService = &failingArtifactStore{err: errors.New("store down")}
	mgr := NewAudioCacheManager(DefaultAudioCacheConfig())

	f.invCtx.InputAudioCache.Append(core.AudioCacheEntry{
		Role:      "user",
		Data:      core.Blob{MimeType: "audio/pcm", Data: []byte{1, 2, 3}},
		Timestamp: time.Now().UTC(),
	})

	before := len(f.sessionEvents(t))

	report := mgr.FlushCaches(f.invCtx, FlushSettings{UserAudio: true})

	if report.Input.Outcome != FlushOutcomeFailed {
		t.Fatalf("input outcome = %s, want failed", report.Input.Outcome)
	}
	if report.Input.Err == nil || !strings.Contains(report.Input.Err.Error(), "store down") {
		t.Errorf("report error = %v", report.Input.Err)
	}

	// The failed side keeps its audio for a later retry and records nothing.
	if got := f.invCtx.InputAudioCache.Len(); got != 1 {
		t.Errorf("cache length after failed flush = %d, want 1", got)
	}
	if got := len(f.sessionEvents(t)); got != before {
		t.Errorf("failed flush must not append session events, got %d new", got-before)
	}
}

func TestAudioCacheManager_NoArtifactServiceSkips(t *testing.T) {
	f := newFlowFixture(t)
	f.invCtx.ArtifactService = nil
	mgr := NewAudioCacheManager(DefaultAudioCacheConfig())

	f.invCtx.OutputAudioCache.Append(core.AudioCacheEntry{
		Role:      "TestAgent",
		Data:      core.Blob{MimeType: "audio/pcm", Data: []byte{7}},
		Timestamp: time.Now().UTC(),
	})

	report := mgr.FlushCaches(f.invCtx, FlushSettings{ModelAudio: true})

	if report.Output.Outcome != FlushOutcomeSkipped || report.Output.Reason != SkipReasonNoArtifactService {
		t.Errorf("output = %+v, want skipped no_artifact_service", report.Output)
	}
	if got := f.invCtx.OutputAudioCache.Len(); got != 1 {
		t.Errorf("cache must be kept without an artifact store, has %d", got)
	}
}

func TestAudioCacheManager_CacheAppendsStampArrival(t *testing.T) {
	f := newFlowFixture(t)
	mgr := NewAudioCacheManager(DefaultAudioCacheConfig())

	lower := time.Now().UTC()
	mgr.CacheInputAudio(f.invCtx, core.Blob{MimeType: "audio/pcm", Data: []byte{1}})
	mgr.CacheOutputAudio(f.invCtx, core.Blob{MimeType: "audio/pcm", Data: []byte{2}})
	upper := time.Now().UTC()

	in := f.invCtx.InputAudioCache.Snapshot()
	if len(in) != 1 {
		t.Fatalf("input cache has %d entries", len(in))
	}
	if in[0].Role != "user" {
		t.Errorf("input entry role = %q, want user", in[0].Role)
	}
	if in[0].Timestamp.Before(lower) || in[0].Timestamp.After(upper) {
		t.Errorf("input entry not stamped with arrival time: %v", in[0].Timestamp)
	}

	out := f.invCtx.OutputAudioCache.Snapshot()
	if len(out) != 1 {
		t.Fatalf("output cache has %d entries", len(out))
	}
	if out[0].Role != "TestAgent" {
		t.Errorf("output entry role = %q, want the agent name", out[0].Role)
	}
}

func TestAudioCacheManager_Stats(t *testing.T) {
	f := newFlowFixture(t)
	mgr := NewAudioCacheManager(DefaultAudioCacheConfig())

	mgr.CacheInputAudio(f.invCtx, core.Blob{MimeType: "audio/pcm", Data: []byte{1, 2, 3}})
	mgr.CacheInputAudio(f.invCtx, core.Blob{MimeType: "audio/pcm", Data: []byte{4}})
	mgr.CacheOutputAudio(f.invCtx, core.Blob{MimeType: "audio/pcm", Data: []byte{5, 6}})

	stats := mgr.Stats(f.invCtx)

	if stats.InputChunks != 2 || stats.InputBytes != 4 {
		t.Errorf("input stats = %d chunks / %d bytes", stats.InputChunks, stats.InputBytes)
	}
	if stats.OutputChunks != 1 || stats.OutputBytes != 2 {
		t.Errorf("output stats = %d chunks / %d bytes", stats.OutputChunks, stats.OutputBytes)
	}
	if stats.TotalChunks != 3 || stats.TotalBytes != 6 {
		t.Errorf("totals = %d chunks / %d bytes", stats.TotalChunks, stats.TotalBytes)
	}

	// Stats never consume the caches.
	if f.invCtx.InputAudioCache.Len() != 2 || f.invCtx.OutputAudioCache.Len() != 1 {
		t.Error("stats must not mutate the caches")
	}
}

func TestAudioCacheManager_RepeatedFlushesCreateRevisions(t *testing.T) {
	f := newFlowFixture(t)
	mgr := NewAudioCacheManager(DefaultAudioCacheConfig())

	ts := time.UnixMilli(1000).UTC()

	f.invCtx.InputAudioCache.Append(core.AudioCacheEntry{
		Role: "user", Data: core.Blob{MimeType: "audio/pcm", Data: []byte{1}}, Timestamp: ts,
	})
	first := mgr.FlushCaches(f.invCtx, FlushSettings{UserAudio: true})

	f.invCtx.InputAudioCache.Append(core.AudioCacheEntry{
		Role: "user", Data: core.Blob{MimeType: "audio/pcm", Data: []byte{2}}, Timestamp: ts,
	})
	second := mgr.FlushCaches(f.invCtx, FlushSettings{UserAudio: true})

	// Same first-chunk timestamp yields the same filename, so the store
	// assigns a new revision instead of clobbering the earlier audio.
	if first.Input.Filename != second.Input.Filename {
		t.Fatalf("filenames differ: %q vs %q", first.Input.Filename, second.Input.Filename)
	}
	if first.Input.Revision != 0 || second.Input.Revision != 1 {
		t.Errorf("revisions = %d, %d, want 0, 1", first.Input.Revision, second.Input.Revision)
	}

	versions, err := f.artifacts.ListVersions("test-app", "test-user", "test-session", first.Input.Filename)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 2 {
		t.Errorf("expected 2 stored revisions, got %v", versions)
	}
}
