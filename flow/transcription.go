package flow

import (
	"github.com/hupe1980/agentstream/core"
)

// TranscriptionManager records speech-to-text results from a live connection
// as session events. Transcriptions are appended directly to the session the
// moment they arrive; they are conversation history, not streaming output,
// so they bypass the engine's emit/resume handshake.
type TranscriptionManager struct{}

// NewTranscriptionManager creates a new transcription manager.
func NewTranscriptionManager() *TranscriptionManager {
	return &TranscriptionManager{}
}

// HandleInput appends a user speech transcription to the session.
func (m *TranscriptionManager) HandleInput(invCtx *core.InvocationContext, tr core.Transcription) error {
	ev := core.NewInputTranscriptionEvent(invCtx.InvocationID, tr)

	if err := invCtx.SessionService.AppendEvent(invCtx.SessionID, ev); err != nil {
		invCtx.LogError("flow.transcription.input_append_failed", "error", err.Error())
		return err
	}

	invCtx.LogDebug("flow.transcription.input", "length", len(tr.Text), "finished", tr.Finished)

	return nil
}

// HandleOutput appends a model speech transcription to the session,
// attributed to the running agent.
func (m *TranscriptionManager) HandleOutput(invCtx *core.InvocationContext, tr core.Transcription) error {
	ev := core.NewOutputTranscriptionEvent(invCtx.InvocationID, invCtx.GetAgentName(), tr)

	if err := invCtx.SessionService.AppendEvent(invCtx.SessionID, ev); err != nil {
		invCtx.LogError("flow.transcription.output_append_failed", "error", err.Error())
		return err
	}

	invCtx.LogDebug("flow.transcription.output", "length", len(tr.Text), "finished", tr.Finished)

	return nil
}
