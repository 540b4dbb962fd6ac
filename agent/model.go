package agent

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/flow"
	"github.com/hupe1980/agentstream/model"
	"github.com/hupe1980/agentstream/tool"
)

// ModelAgentOptions configures a ModelAgent instance.
//
// Use functional options with NewModelAgent to override defaults.
type ModelAgentOptions struct {
	Instruction           Instruction
	GlobalInstruction     Instruction
	EnableStreaming       bool
	EnableFunctionCalling bool
	OutputKey             string
	MaxHistoryMessages    int
	Tools                 map[string]tool.Tool

	// LiveFlow tunes bidirectional streaming turns started via RunLive.
	LiveFlow flow.LiveFlowConfig
	// ControlEvents maps live control signals to audio cache flushes.
	ControlEvents flow.ControlEventConfig
}

// ModelAgent integrates with language models to provide intelligent text processing capabilities.
//
// This agent implementation supports:
//   - Natural language conversation through system prompts
//   - Function calling with registered tools
//   - Streaming responses for real-time interactions
//   - Bidirectional live streaming with audio caching (RunLive)
//   - Session state management with output keys
//   - Template-based prompt customization
//
// ModelAgent embeds BaseAgent to inherit standard agent lifecycle and hierarchy management.
type ModelAgent struct {
	BaseAgent                                  // Embedded base agent functionality
	llm                   model.Model          // Language model interface
	instruction           Instruction          // Instructions for the LLM
	globalInstruction     Instruction          // Optional instructions prefixed for every run
	tools                 map[string]tool.Tool // Registered tools for function calling
	enableFunctionCalling bool                 // Whether to enable tool usage
	enableStreaming       bool                 // Whether to stream responses
	outputKey             string               // Key for saving responses to session state
	maxHistoryMessages    int                  // Maximum number of conversation history messages to keep
	liveConfig            flow.LiveFlowConfig  // Live streaming timings
	controlEvents         flow.ControlEventConfig
}

// NewModelAgent creates a new model-based agent with sensible defaults.
//
// The agent is initialized with:
//   - Standard agent lifecycle inherited from BaseAgent
//   - Empty tool registry for function calling
//   - Streaming enabled for real-time responses
//   - Function calling enabled for tool usage
//   - 20-message conversation history limit
//   - Default live flow timings and control-event policy
//
// Parameters:
//   - name: Human-readable name used in system prompt
//   - llm: Language model implementation for text generation
//
// Returns a fully configured ModelAgent ready for conversation.
func NewModelAgent(name string, llm model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{
		Instruction:           NewInstructionFromText(fmt.Sprintf("You are %s, a helpful AI assistant.", name)),
		EnableStreaming:       true,
		EnableFunctionCalling: true,
		MaxHistoryMessages:    20,
		Tools:                 make(map[string]tool.Tool),
		LiveFlow:              flow.DefaultLiveFlowConfig(),
		ControlEvents:         flow.DefaultControlEventConfig(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &ModelAgent{
		BaseAgent:             NewBaseAgent(name),
		llm:                   llm,
		instruction:           opts.Instruction,
		globalInstruction:     opts.GlobalInstruction,
		enableStreaming:       opts.EnableStreaming,
		enableFunctionCalling: opts.EnableFunctionCalling,
		outputKey:             opts.OutputKey,
		maxHistoryMessages:    opts.MaxHistoryMessages,
		tools:                 opts.Tools,
		liveConfig:            opts.LiveFlow,
		controlEvents:         opts.ControlEvents,
	}
}

// RegisterTool adds a function tool to the agent's capability set.
//
// Registered tools become available for the language model to call during
// conversations when function calling is enabled. Tools should implement
// the tool.Tool interface with proper JSON schema definitions.
//
// Example:
//
//	weatherTool := NewFunctionTool("get_weather", "Get weather for a location", schema, weatherFunc)
//	agent.RegisterTool(weatherTool)
func (a *ModelAgent) RegisterTool(t tool.Tool) {
	a.tools[t.Name()] = t
}

// RegisterTools adds multiple tools to the agent's capability set.
//
// This is a convenience method for registering multiple tools at once.
//
// Example:
//
//	mathTools := tool.CreateMathTools()
//	agent.RegisterTools(mathTools...)
func (a *ModelAgent) RegisterTools(tools ...tool.Tool) {
	for _, t := range tools {
		a.RegisterTool(t)
	}
}

// UnregisterTool removes a tool from the agent's capability set.
//
// Returns true if the tool was found and removed, false if it wasn't registered.
func (a *ModelAgent) UnregisterTool(name string) bool {
	if _, exists := a.tools[name]; exists {
		delete(a.tools, name)
		return true
	}
	return false
}

// HasTool checks if a tool is registered with the agent.
func (a *ModelAgent) HasTool(name string) bool {
	_, exists := a.tools[name]
	return exists
}

// ListTools returns the names of all registered tools.
func (a *ModelAgent) ListTools() []string {
	names := make([]string, 0, len(a.tools))
	for name := range a.tools {
		names = append(names, name)
	}
	return names
}

// GetTool retrieves a specific tool by name.
//
// Returns the tool and true if found, nil and false if not registered.
func (a *ModelAgent) GetTool(name string) (tool.Tool, bool) {
	tool, exists := a.tools[name]
	return tool, exists
}

// ClearTools removes all registered tools from the agent.
func (a *ModelAgent) ClearTools() {
	a.tools = make(map[string]tool.Tool)
}

// FlowAgent Interface Implementation
//
// The following methods implement the FlowAgent interface, enabling the ModelAgent
// to work with the flows architecture for modular execution pipeline.

// GetName returns the agent's display name.
func (a *ModelAgent) GetName() string {
	return a.Name()
}

// GetLLM returns the language model instance.
func (a *ModelAgent) GetLLM() model.Model {
	return a.llm
}

// GetTools returns the registered tools for function calling.
func (a *ModelAgent) GetTools() map[string]tool.Tool {
	tools := make(map[string]tool.Tool)
	for name, tool := range a.tools {
		tools[name] = tool
	}

	return tools
}

// IsFunctionCallingEnabled returns whether function calling is enabled.
func (a *ModelAgent) IsFunctionCallingEnabled() bool {
	return a.enableFunctionCalling
}

// IsStreamingEnabled returns whether streaming responses are enabled.
func (a *ModelAgent) IsStreamingEnabled() bool {
	return a.enableStreaming
}

// GetOutputKey returns the session state key for saving responses.
func (a *ModelAgent) GetOutputKey() string {
	return a.outputKey
}

// MaxHistoryMessages returns the maximum number of conversation history messages to keep.
func (a *ModelAgent) MaxHistoryMessages() int {
	return a.maxHistoryMessages
}

// ResolveInstructions produces the final instruction string (system prompt)
// by resolving static or dynamic instruction sources. A configured global
// instruction is resolved first and prefixed to the agent instruction.
func (a *ModelAgent) ResolveInstructions(invCtx *core.InvocationContext) (string, error) {
	instructions, err := a.instruction.Resolve(invCtx)
	if err != nil {
		return "", err
	}

	global, err := a.globalInstruction.Resolve(invCtx)
	if err != nil {
		return "", err
	}

	if global == "" {
		return instructions, nil
	}

	return global + "\n\n" + instructions, nil
}

// ExecuteTool deserializes JSON arguments and invokes the named tool returning
// its result or an error if the tool is unknown or validation fails.
func (a *ModelAgent) ExecuteTool(toolCtx *core.ToolContext, toolName string, args string) (interface{}, error) {
	tool, exists := a.tools[toolName]
	if !exists {
		return nil, fmt.Errorf("tool %s not found", toolName)
	}

	argsMap := make(map[string]interface{})
	if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal args: %w", err)
	}

	return tool.Call(toolCtx, argsMap)
}

// Flow-Based Execution Methods
//
// The agent uses the flows architecture for modular execution.

// Run implements core.Agent using the single-agent flow, streaming flow
// events to the parent invocation context.
func (a *ModelAgent) Run(invCtx *core.InvocationContext) error {
	invCtx.LogDebug(
		"agent.run.start",
		"agent", a.Name(),
		"invocation", invCtx.InvocationID,
	)

	fl := flow.NewSingleAgentFlow(a)

	eventChan, err := fl.Execute(invCtx)
	if err != nil {
		invCtx.LogError(
			"agent.flow.execute.error",
			"agent", a.Name(),
			"error", err.Error(),
		)

		return fmt.Errorf("flow execution failed: %w", err)
	}

	return a.forwardEvents(invCtx, eventChan)
}

// RunLive implements core.Agent for bidirectional streaming. It requires a
// LiveRequestQueue on the invocation context and a model that supports live
// connections.
func (a *ModelAgent) RunLive(invCtx *core.InvocationContext) error {
	invCtx.LogDebug(
		"agent.run_live.start",
		"agent", a.Name(),
		"invocation", invCtx.InvocationID,
	)

	liveFlow := flow.NewLiveFlow(a, func(o *flow.LiveFlowOptions) {
		o.Config = a.liveConfig
		o.ControlEvents = a.controlEvents
	})

	eventChan, err := liveFlow.Execute(invCtx)
	if err != nil {
		invCtx.LogError(
			"agent.live_flow.execute.error",
			"agent", a.Name(),
			"error", err.Error(),
		)

		return fmt.Errorf("live flow execution failed: %w", err)
	}

	return a.forwardEvents(invCtx, eventChan)
}

// forwardEvents relays flow events to the invocation's emit channel until the
// flow channel closes or the context ends.
func (a *ModelAgent) forwardEvents(invCtx *core.InvocationContext, eventChan <-chan core.Event) error {
	ctx := invCtx.Context // engine manages Start/Stop lifecycle

	for event := range eventChan {
		select {
		case invCtx.Emit <- event:
			role := ""
			if event.Content != nil {
				role = event.Content.Role
			}

			invCtx.LogDebug(
				"agent.event.forward",
				"agent", a.Name(),
				"event_id", event.ID,
				"role", role,
				"fn_calls", len(event.GetFunctionCalls()),
			)
		case <-ctx.Done():
			invCtx.LogWarn("agent.run.context_done", "agent", a.Name(), "error", ctx.Err())

			return ctx.Err()
		}
	}

	invCtx.LogDebug("agent.flow.execute.complete", "agent", a.Name())

	return nil
}
