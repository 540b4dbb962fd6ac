package flow

import (
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentstream/core"
)

// Cache side identifiers, used as artifact filename prefixes.
const (
	inputAudioCacheType  = "input_audio"
	outputAudioCacheType = "output_audio"
)

// defaultAudioMimeType is assumed for chunks that arrive without a MIME type.
const defaultAudioMimeType = "audio/pcm"

// FlushOutcome classifies what happened to one cache side during a flush pass.
type FlushOutcome string

const (
	// FlushOutcomeFlushed means the side was persisted and cleared.
	FlushOutcomeFlushed FlushOutcome = "flushed"
	// FlushOutcomeSkipped means no persistence was attempted; see Reason.
	FlushOutcomeSkipped FlushOutcome = "skipped"
	// FlushOutcomeFailed means persistence was attempted and failed; the
	// cache side is left intact.
	FlushOutcomeFailed FlushOutcome = "failed"
)

// SkipReason explains a FlushOutcomeSkipped result.
type SkipReason string

const (
	// SkipReasonNotRequested means the flush settings excluded this side.
	SkipReasonNotRequested SkipReason = "not_requested"
	// SkipReasonEmptyCache means the side held no audio.
	SkipReasonEmptyCache SkipReason = "empty_cache"
	// SkipReasonNoArtifactService means no artifact store is configured.
	SkipReasonNoArtifactService SkipReason = "no_artifact_service"
)

// FlushResult describes the outcome of flushing one cache side. Outcome is
// always set; Reason is set only for skips and Err only for failures.
type FlushResult struct {
	CacheType string
	Outcome   FlushOutcome
	Reason    SkipReason
	Err       error
	Filename  string
	Revision  int
	Chunks    int
	Bytes     int
}

// Flushed reports whether the side was persisted and cleared.
func (r FlushResult) Flushed() bool { return r.Outcome == FlushOutcomeFlushed }

// FlushReport aggregates the per-side results of one flush pass.
type FlushReport struct {
	Input  FlushResult
	Output FlushResult
}

// CacheStats is a read-only snapshot of both audio cache sides.
type CacheStats struct {
	InputChunks  int
	OutputChunks int
	InputBytes   int
	OutputBytes  int
	TotalChunks  int
	TotalBytes   int
}

// AudioCacheManager accumulates streamed audio chunks per invocation and
// persists them as artifacts when the control-event policy requests a flush.
// The caches themselves live on the InvocationContext; the manager only adds
// policy (naming, persistence, session bookkeeping) on top.
type AudioCacheManager struct {
	config AudioCacheConfig
}

// NewAudioCacheManager creates a manager with the given advisory limits.
func NewAudioCacheManager(config AudioCacheConfig) *AudioCacheManager {
	return &AudioCacheManager{config: config}
}

// CacheInputAudio appends a user audio chunk to the input cache, stamped
// with its arrival time.
func (m *AudioCacheManager) CacheInputAudio(invCtx *core.InvocationContext, data core.Blob) {
	invCtx.InputAudioCache.Append(core.AudioCacheEntry{
		Role:      "user",
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// CacheOutputAudio appends a model audio chunk to the output cache, stamped
// with its arrival time and attributed to the running agent.
func (m *AudioCacheManager) CacheOutputAudio(invCtx *core.InvocationContext, data core.Blob) {
	invCtx.OutputAudioCache.Append(core.AudioCacheEntry{
		Role:      invCtx.GetAgentName(),
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// FlushCaches persists the requested cache sides as artifacts and records one
// session event per flushed side. Failures are captured in the report and
// logged; they are never returned as errors so a failed flush cannot tear
// down a live turn. The failed side keeps its buffered audio for a later
// retry.
func (m *AudioCacheManager) FlushCaches(invCtx *core.InvocationContext, settings FlushSettings) FlushReport {
	report := FlushReport{
		Input:  FlushResult{CacheType: inputAudioCacheType, Outcome: FlushOutcomeSkipped, Reason: SkipReasonNotRequested},
		Output: FlushResult{CacheType: outputAudioCacheType, Outcome: FlushOutcomeSkipped, Reason: SkipReasonNotRequested},
	}

	if settings.UserAudio {
		report.Input = m.flushCache(invCtx, invCtx.InputAudioCache, inputAudioCacheType)
	}

	if settings.ModelAudio {
		report.Output = m.flushCache(invCtx, invCtx.OutputAudioCache, outputAudioCacheType)
	}

	return report
}

// Stats returns a snapshot of both cache sides without mutating them.
func (m *AudioCacheManager) Stats(invCtx *core.InvocationContext) CacheStats {
	stats := CacheStats{
		InputChunks:  invCtx.InputAudioCache.Len(),
		OutputChunks: invCtx.OutputAudioCache.Len(),
		InputBytes:   invCtx.InputAudioCache.TotalBytes(),
		OutputBytes:  invCtx.OutputAudioCache.TotalBytes(),
	}
	stats.TotalChunks = stats.InputChunks + stats.OutputChunks
	stats.TotalBytes = stats.InputBytes + stats.OutputBytes

	return stats
}

// flushCache persists one cache side. The snapshot is taken under the cache
// lock but all artifact and session I/O runs against the copy, so concurrent
// appends during persistence are preserved for the next flush.
func (m *AudioCacheManager) flushCache(invCtx *core.InvocationContext, cache *core.AudioCache, cacheType string) FlushResult {
	result := FlushResult{CacheType: cacheType}

	entries := cache.Snapshot()
	if len(entries) == 0 {
		result.Outcome = FlushOutcomeSkipped
		result.Reason = SkipReasonEmptyCache

		return result
	}

	if invCtx.ArtifactService == nil {
		result.Outcome = FlushOutcomeSkipped
		result.Reason = SkipReasonNoArtifactService
		invCtx.LogWarn("flow.audio_cache.no_artifact_service", "cache_type", cacheType, "chunks", len(entries))

		return result
	}

	first := entries[0]

	var data []byte
	for _, entry := range entries {
		data = append(data, entry.Data.Data...)
	}

	mimeType := first.Data.MimeType
	if mimeType == "" {
		mimeType = defaultAudioMimeType
	}

	subtype := mimeType
	if idx := strings.LastIndex(mimeType, "/"); idx >= 0 {
		subtype = mimeType[idx+1:]
	}

	filename := fmt.Sprintf("%s_%d.%s", cacheType, first.Timestamp.UnixMilli(), subtype)

	result.Chunks = len(entries)
	result.Bytes = len(data)
	result.Filename = filename

	revision, err := invCtx.ArtifactService.Save(
		invCtx.AppName, invCtx.UserID, invCtx.SessionID,
		filename,
		core.Blob{MimeType: mimeType, Data: data},
	)
	if err != nil {
		result.Outcome = FlushOutcomeFailed
		result.Err = err
		invCtx.LogError("flow.audio_cache.save_failed", "cache_type", cacheType, "filename", filename, "error", err.Error())

		return result
	}

	result.Revision = revision

	ref := core.ArtifactRef(invCtx.AppName, invCtx.UserID, invCtx.SessionID, filename, revision)

	ev := core.NewEvent(invCtx.InvocationID, first.Role)
	ev.Timestamp = first.Timestamp
	ev.Content = &core.Content{
		Role: roleForAuthor(first.Role),
		Parts: []core.Part{core.FilePart{File: core.FilePartFile{
			URI:      ref,
			MimeType: &mimeType,
			Name:     &filename,
		}}},
	}

	if invCtx.SessionService != nil {
		if err := invCtx.SessionService.AppendEvent(invCtx.SessionID, ev); err != nil {
			result.Outcome = FlushOutcomeFailed
			result.Err = err
			invCtx.LogError("flow.audio_cache.append_failed", "cache_type", cacheType, "filename", filename, "error", err.Error())

			return result
		}
	}

	cache.Discard(len(entries))

	result.Outcome = FlushOutcomeFlushed

	invCtx.LogInfo(
		"flow.audio_cache.flushed",
		"cache_type", cacheType,
		"filename", filename,
		"revision", revision,
		"chunks", result.Chunks,
		"bytes", result.Bytes,
	)

	return result
}

// roleForAuthor maps an event author to a conversation role.
func roleForAuthor(author string) string {
	if author == "user" {
		return "user"
	}

	return "assistant"
}
