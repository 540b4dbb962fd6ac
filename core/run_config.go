package core

// StreamingMode selects how model output is delivered to the caller.
type StreamingMode string

const (
	// StreamingModeNone delivers complete responses only.
	StreamingModeNone StreamingMode = "none"
	// StreamingModeSSE streams partial responses over a one-way channel.
	StreamingModeSSE StreamingMode = "sse"
	// StreamingModeBidi runs a live bidirectional session over a request
	// queue and a model connection.
	StreamingModeBidi StreamingMode = "bidi"
)

// RunConfig carries per-invocation runtime behavior: streaming mode, response
// modalities, transcription switches and safety limits. A zero value is
// usable; DefaultRunConfig supplies the house defaults.
type RunConfig struct {
	// StreamingMode selects none (request/response), sse or bidi delivery.
	StreamingMode StreamingMode

	// ResponseModalities lists the media kinds the model should produce,
	// e.g. "TEXT", "AUDIO". Empty means model default.
	ResponseModalities []string

	// SaveInputBlobsAsArtifacts persists every client-sent blob to the
	// artifact store before it is forwarded to the model. Useful for
	// debugging and audit.
	SaveInputBlobsAsArtifacts bool

	// InputAudioTranscription requests speech-to-text for user audio.
	InputAudioTranscription bool

	// OutputAudioTranscription requests speech-to-text for model audio.
	OutputAudioTranscription bool

	// MaxModelCalls caps model invocations per run. Zero means unlimited.
	MaxModelCalls int
}

// DefaultRunConfig returns the standard configuration: no streaming, both
// transcription directions enabled for live use, 100 model calls.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		StreamingMode:            StreamingModeNone,
		InputAudioTranscription:  true,
		OutputAudioTranscription: true,
		MaxModelCalls:            100,
	}
}
