package flow

import (
	"time"

	"github.com/hupe1980/agentstream/model"
)

// AudioCacheConfig carries capacity hints for the in-memory audio caches.
// The values are advisory: they describe expected operating ranges for
// monitoring and tuning but do not trigger eviction or automatic flushes.
type AudioCacheConfig struct {
	// MaxCacheSizeBytes is the advisory upper bound on buffered audio per side.
	MaxCacheSizeBytes int
	// MaxCacheDuration is the advisory upper bound on buffered audio age.
	MaxCacheDuration time.Duration
	// AutoFlushThreshold is the advisory chunk count per side.
	AutoFlushThreshold int
}

// DefaultAudioCacheConfig returns the standard advisory cache limits.
func DefaultAudioCacheConfig() AudioCacheConfig {
	return AudioCacheConfig{
		MaxCacheSizeBytes:  10 * 1024 * 1024,
		MaxCacheDuration:   300 * time.Second,
		AutoFlushThreshold: 100,
	}
}

// LiveFlowConfig tunes the timing behavior of a LiveFlow.
type LiveFlowConfig struct {
	// RequestQueueTimeout bounds each poll of the live request queue so the
	// outbound loop can observe context cancellation between requests.
	RequestQueueTimeout time.Duration
	// TransferAgentDelay is the grace period after a transfer_to_agent
	// function call before the live turn ends.
	TransferAgentDelay time.Duration
	// TaskCompletionDelay is the grace period after a task_completed
	// function call before the live turn ends.
	TaskCompletionDelay time.Duration
	// AudioCache holds advisory limits for the input/output audio caches.
	AudioCache AudioCacheConfig
	// EnableCacheStatistics logs cache statistics after each flush attempt.
	EnableCacheStatistics bool
}

// DefaultLiveFlowConfig returns the standard live flow timings.
func DefaultLiveFlowConfig() LiveFlowConfig {
	return LiveFlowConfig{
		RequestQueueTimeout:   250 * time.Millisecond,
		TransferAgentDelay:    time.Second,
		TaskCompletionDelay:   time.Second,
		AudioCache:            DefaultAudioCacheConfig(),
		EnableCacheStatistics: false,
	}
}

// FlushSettings selects which audio cache sides a flush pass covers.
type FlushSettings struct {
	// UserAudio flushes the input (user speech) cache.
	UserAudio bool
	// ModelAudio flushes the output (model speech) cache.
	ModelAudio bool
}

// Any reports whether at least one side is requested.
func (s FlushSettings) Any() bool { return s.UserAudio || s.ModelAudio }

// ControlEventConfig maps model control signals to cache flush behavior.
type ControlEventConfig struct {
	FlushOnInterrupted        FlushSettings
	FlushOnTurnComplete       FlushSettings
	FlushOnGenerationComplete FlushSettings
}

// DefaultControlEventConfig returns the standard signal-to-flush mapping:
// an interruption or completed generation preserves the user's in-flight
// speech and persists only the model audio, while a completed turn persists
// both sides.
func DefaultControlEventConfig() ControlEventConfig {
	return ControlEventConfig{
		FlushOnInterrupted:        FlushSettings{UserAudio: false, ModelAudio: true},
		FlushOnTurnComplete:       FlushSettings{UserAudio: true, ModelAudio: true},
		FlushOnGenerationComplete: FlushSettings{UserAudio: false, ModelAudio: true},
	}
}

// GetFlushSettings returns the flush behavior for a control signal. It is
// total: unknown or empty signals flush nothing.
func (c ControlEventConfig) GetFlushSettings(signal model.ControlSignal) FlushSettings {
	switch signal {
	case model.ControlSignalInterrupted:
		return c.FlushOnInterrupted
	case model.ControlSignalTurnComplete:
		return c.FlushOnTurnComplete
	case model.ControlSignalGenerationComplete:
		return c.FlushOnGenerationComplete
	default:
		return FlushSettings{}
	}
}
