package core

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentstream/logging"
)

// ToolContext provides a constrained, auditable surface for tool / function
// implementations invoked by an agent. It accumulates EventActions (state
// deltas, transfers, escalation signals, artifact diffs) without directly
// mutating the underlying session until applied.
type ToolContext struct {
	invCtx         *InvocationContext
	functionCallID string
	agentInfo      AgentInfo
	eventActions   EventActions
	valid          bool

	*loggerAdapter
}

// NewToolContext constructs a tool context bound to a parent InvocationContext
// and unique functionCallID.
func NewToolContext(invCtx *InvocationContext, functionCallID string) *ToolContext {
	return &ToolContext{
		invCtx:         invCtx,
		functionCallID: functionCallID,
		agentInfo:      invCtx.Agent,
		eventActions:   EventActions{},
		valid:          true,
		loggerAdapter:  newLoggerAdapter(invCtx.Logger()),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.invCtx.Context }

// SessionID returns the session ID associated with the tool invocation.
func (tc *ToolContext) SessionID() string { return tc.invCtx.SessionID }

// InvocationID returns the invocation ID associated with the tool invocation.
func (tc *ToolContext) InvocationID() string { return tc.invCtx.InvocationID }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.loggerAdapter.Logger() }

// FunctionCallID returns the function call ID associated with the tool invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// AgentName returns the agent name associated with the tool invocation.
func (tc *ToolContext) AgentName() string { return tc.agentInfo.Name }

// AgentType returns the agent type associated with the tool invocation.
func (tc *ToolContext) AgentType() string { return tc.agentInfo.Type }

// GetState retrieves the state associated with the given key.
func (tc *ToolContext) GetState(k string) (any, bool) {
	return tc.invCtx.GetState(k)
}

// SetState records a state mutation both on the underlying invocation context
// (for immediate visibility) and in the local EventActions delta for emission.
func (tc *ToolContext) SetState(k string, v any) {
	tc.invCtx.SetState(k, v)
	if tc.eventActions.StateDelta == nil {
		tc.eventActions.StateDelta = map[string]any{}
	}

	tc.eventActions.StateDelta[k] = v
}

// Actions returns the event actions accumulated in the tool context.
func (tc *ToolContext) Actions() *EventActions { return &tc.eventActions }

// SkipSummarization requests that post-processing summarization be bypassed
// for the originating event.
func (tc *ToolContext) SkipSummarization() {
	b := true
	if tc.eventActions.SkipSummarization == nil {
		tc.eventActions.SkipSummarization = &b
	}
}

// TransferToAgent signals orchestration to handoff control to another agent.
func (tc *ToolContext) TransferToAgent(name string) {
	tc.eventActions.TransferToAgent = &name
	tc.LogInfo("tool.transfer.request", "from_agent", tc.AgentName(), "to_agent", name, "function_call_id", tc.functionCallID)
}

// Escalate requests escalation (e.g., to a higher-skill agent or human).
func (tc *ToolContext) Escalate() {
	b := true
	if tc.eventActions.Escalate == nil {
		tc.eventActions.Escalate = &b
	}

	tc.LogInfo("tool.escalate.request", "agent", tc.AgentName(), "function_call_id", tc.functionCallID)
}

// SaveArtifact persists a blob under the invocation's scope and records the
// resulting revision in the artifact delta for emission.
func (tc *ToolContext) SaveArtifact(filename string, data Blob) (int, error) {
	if tc.invCtx.ArtifactService == nil {
		return 0, fmt.Errorf("artifact service not configured")
	}

	revision, err := tc.invCtx.ArtifactService.Save(tc.invCtx.AppName, tc.invCtx.UserID, tc.SessionID(), filename, data)
	if err != nil {
		return 0, err
	}

	if tc.eventActions.ArtifactDelta == nil {
		tc.eventActions.ArtifactDelta = map[string]int{}
	}

	tc.eventActions.ArtifactDelta[filename] = revision

	return revision, nil
}

// LoadArtifact retrieves the latest revision of a persisted artifact.
func (tc *ToolContext) LoadArtifact(filename string) (Blob, error) {
	if tc.invCtx.ArtifactService == nil {
		return Blob{}, fmt.Errorf("artifact service not configured")
	}

	return tc.invCtx.ArtifactService.Get(tc.invCtx.AppName, tc.invCtx.UserID, tc.SessionID(), filename)
}

// ListArtifacts returns artifact filenames stored for the session scope.
func (tc *ToolContext) ListArtifacts() ([]string, error) {
	if tc.invCtx.ArtifactService == nil {
		return nil, fmt.Errorf("artifact service not configured")
	}

	return tc.invCtx.ArtifactService.List(tc.invCtx.AppName, tc.invCtx.UserID, tc.SessionID())
}

// SearchMemory performs a recall query against the configured MemoryStore.
func (tc *ToolContext) SearchMemory(q string, limit int) ([]SearchResult, error) {
	if tc.invCtx.MemoryService == nil {
		return nil, fmt.Errorf("memory service not configured")
	}

	return tc.invCtx.MemoryService.Search(tc.SessionID(), q, limit)
}

// StoreMemory appends new content to the session's memory store with metadata.
func (tc *ToolContext) StoreMemory(content string, md map[string]any) error {
	if tc.invCtx.MemoryService == nil {
		return fmt.Errorf("memory service not configured")
	}

	return tc.invCtx.MemoryService.Store(tc.SessionID(), content, md)
}

// GetSessionHistory returns conversation history (filtered) for context.
func (tc *ToolContext) GetSessionHistory() []Event {
	if tc.invCtx.Session == nil {
		return nil
	}

	return tc.invCtx.Session.GetConversationHistory()
}

// RefreshSession reloads the underlying session from the SessionStore.
func (tc *ToolContext) RefreshSession() error {
	if tc.invCtx.SessionService == nil {
		return fmt.Errorf("session service not configured")
	}

	s, err := tc.invCtx.SessionService.Get(tc.SessionID())
	if err != nil {
		return err
	}

	tc.invCtx.Session = s

	return nil
}

// EmitEvent sends an event directly without merging accumulated actions.
func (tc *ToolContext) EmitEvent(ev Event) error {
	if tc.invCtx.Emit == nil {
		return fmt.Errorf("emit channel not configured")
	}

	select {
	case <-tc.invCtx.Context.Done():
		return tc.invCtx.Context.Err()
	case tc.invCtx.Emit <- ev:
	}

	return nil
}

// Validate performs a structural sanity check of the context.
func (tc *ToolContext) Validate() error {
	if !tc.valid || tc.invCtx == nil || tc.invCtx.SessionID == "" || tc.functionCallID == "" {
		return fmt.Errorf("invalid ToolContext")
	}

	return nil
}

// IsValid reports whether Validate would succeed (fast path).
func (tc *ToolContext) IsValid() bool {
	return tc.valid && tc.invCtx != nil && tc.invCtx.SessionID != "" && tc.functionCallID != ""
}

// InternalInvocationContext returns the internal invocation context.
func (tc *ToolContext) InternalInvocationContext() *InvocationContext { return tc.invCtx }

// InternalApplyActions merges accumulated EventActions into the provided event.
// (Used internally by the engine when finalizing tool invocation events.)
func (tc *ToolContext) InternalApplyActions(ev *Event) {
	if len(tc.eventActions.StateDelta) > 0 {
		if ev.Actions.StateDelta == nil {
			ev.Actions.StateDelta = map[string]any{}
		}
		for k, v := range tc.eventActions.StateDelta {
			ev.Actions.StateDelta[k] = v
		}
	}

	if len(tc.eventActions.ArtifactDelta) > 0 {
		if ev.Actions.ArtifactDelta == nil {
			ev.Actions.ArtifactDelta = map[string]int{}
		}
		for name, rev := range tc.eventActions.ArtifactDelta {
			ev.Actions.ArtifactDelta[name] = rev
		}
	}

	if tc.eventActions.TransferToAgent != nil {
		ev.Actions.TransferToAgent = tc.eventActions.TransferToAgent

		tc.LogInfo("tool.transfer.applied", "from_agent", tc.AgentName(), "to_agent", *tc.eventActions.TransferToAgent, "function_call_id", tc.functionCallID)
	}

	if tc.eventActions.Escalate != nil {
		ev.Actions.Escalate = tc.eventActions.Escalate

		tc.LogInfo("tool.escalate.applied", "agent", tc.AgentName(), "function_call_id", tc.functionCallID)
	}
}
