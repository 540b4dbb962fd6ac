// Package flow provides execution flow management for AgentStream agents.
//
// Flows orchestrate the execution pipeline of agents, allowing for modular
// and configurable processing of requests and responses. Turn-based flows
// drive a request -> model -> tool loop; LiveFlow drives a bidirectional
// streaming session fed by a LiveRequestQueue with per-direction audio
// caching. This design enables clean separation of concerns and easy
// extensibility.
package flow

import (
	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/model"
	"github.com/hupe1980/agentstream/tool"
)

// Flow defines the interface for agent execution flows.
//
// A flow orchestrates the complete execution pipeline of an agent,
// from processing the initial request to generating the final response.
// Different flow implementations provide different capabilities such as
// turn-based execution or live bidirectional streaming.
type Flow interface {
	// Execute runs the flow with the given invocation context.
	// It returns a channel of events that represent the execution progress.
	Execute(invCtx *core.InvocationContext) (<-chan core.Event, error)
}

// FlowAgent defines the interface that agents must implement to work with flows.
//
// This interface provides flows with access to agent capabilities without
// exposing the full agent implementation details.
type FlowAgent interface {
	// GetName returns the agent's display name.
	GetName() string

	// GetLLM returns the language model instance.
	GetLLM() model.Model

	// ResolveInstructions produces the system instructions for this invocation.
	ResolveInstructions(invCtx *core.InvocationContext) (string, error)

	// GetTools returns the registered tools for function calling.
	GetTools() map[string]tool.Tool

	// IsFunctionCallingEnabled returns whether function calling is enabled.
	IsFunctionCallingEnabled() bool

	// IsStreamingEnabled returns whether streaming responses are enabled.
	IsStreamingEnabled() bool

	// GetOutputKey returns the session state key for saving responses.
	GetOutputKey() string

	// MaxHistoryMessages returns the maximum number of conversation history messages to keep.
	MaxHistoryMessages() int

	// ExecuteTool executes a named tool with the given arguments.
	ExecuteTool(toolCtx *core.ToolContext, toolName string, args string) (interface{}, error)
}

// RequestProcessor processes the request before sending it to the LLM.
type RequestProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessRequest modifies the chat request before LLM execution.
	ProcessRequest(invCtx *core.InvocationContext, req *model.Request, agent FlowAgent) error
}

// ResponseProcessor processes the response after receiving it from the LLM.
type ResponseProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessResponse handles the LLM response and may generate additional events.
	ProcessResponse(invCtx *core.InvocationContext, resp *model.Response, agent FlowAgent) error
}
