package flow

import (
	"testing"
	"time"

	"github.com/hupe1980/agentstream/model"
)

func TestDefaultLiveFlowConfig(t *testing.T) {
	cfg := DefaultLiveFlowConfig()

	if cfg.RequestQueueTimeout != 250*time.Millisecond {
		t.Errorf("RequestQueueTimeout = %v, want 250ms", cfg.RequestQueueTimeout)
	}
	if cfg.TransferAgentDelay != time.Second {
		t.Errorf("TransferAgentDelay = %v, want 1s", cfg.TransferAgentDelay)
	}
	if cfg.TaskCompletionDelay != time.Second {
		t.Errorf("TaskCompletionDelay = %v, want 1s", cfg.TaskCompletionDelay)
	}
	if cfg.EnableCacheStatistics {
		t.Error("cache statistics must default off")
	}
}

func TestDefaultAudioCacheConfig(t *testing.T) {
	cfg := DefaultAudioCacheConfig()

	if cfg.MaxCacheSizeBytes != 10*1024*1024 {
		t.Errorf("MaxCacheSizeBytes = %d, want 10MiB", cfg.MaxCacheSizeBytes)
	}
	if cfg.MaxCacheDuration != 300*time.Second {
		t.Errorf("MaxCacheDuration = %v, want 300s", cfg.MaxCacheDuration)
	}
	if cfg.AutoFlushThreshold != 100 {
		t.Errorf("AutoFlushThreshold = %d, want 100", cfg.AutoFlushThreshold)
	}
}

func TestControlEventConfig_GetFlushSettings(t *testing.T) {
	cfg := DefaultControlEventConfig()

	tests := []struct {
		name   string
		signal model.ControlSignal
		want   FlushSettings
	}{
		{"interrupted", model.ControlSignalInterrupted, FlushSettings{UserAudio: false, ModelAudio: true}},
		{"turn_complete", model.ControlSignalTurnComplete, FlushSettings{UserAudio: true, ModelAudio: true}},
		{"generation_complete", model.ControlSignalGenerationComplete, FlushSettings{UserAudio: false, ModelAudio: true}},
		{"none", model.ControlSignalNone, FlushSettings{}},
		{"unrecognized", model.ControlSignal("speech_started"), FlushSettings{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.GetFlushSettings(tt.signal); got != tt.want {
				t.Errorf("GetFlushSettings(%q) = %+v, want %+v", tt.signal, got, tt.want)
			}
		})
	}
}

func TestFlushSettings_Any(t *testing.T) {
	if (FlushSettings{}).Any() {
		t.Error("empty settings must report no sides")
	}
	if !(FlushSettings{UserAudio: true}).Any() {
		t.Error("user side must count")
	}
	if !(FlushSettings{ModelAudio: true}).Any() {
		t.Error("model side must count")
	}
}
