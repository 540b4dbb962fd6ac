package agent

import (
	"fmt"

	"github.com/hupe1980/agentstream/core"
)

// SequentialAgent coordinates the execution of multiple child agents in sequence.
//
// This agent type enables complex workflows by executing child agents one after
// another, passing the accumulated session state between them. Each agent's
// output becomes available to subsequent agents in the sequence.
//
// Key features:
//   - Ordered execution with state propagation
//   - Early termination on errors
//   - Session state accumulation across steps
//   - Hierarchical agent management
//   - Lifecycle management for all child agents
//
// SequentialAgent is ideal for:
//   - Multi-step data processing pipelines
//   - Workflows requiring specific execution order
//   - Complex tasks broken into specialized subtasks
//   - Scenarios where agent outputs build upon each other
type SequentialAgent struct {
	BaseAgent              // Embedded base agent functionality
	children  []core.Agent // Child agents to execute in sequence
}

// NewSequentialAgent creates a new sequential execution coordinator.
//
// The agent will execute the provided child agents in the order they are
// specified, passing session state between each execution step.
//
// Parameters:
//   - name: Human-readable name for the coordinator
//   - children: Child agents to execute in sequence
//
// Returns a configured SequentialAgent ready for execution.
func NewSequentialAgent(name string, children ...core.Agent) *SequentialAgent {
	return &SequentialAgent{
		BaseAgent: NewBaseAgent(name),
		children:  children,
	}
}

// Run implements core.Agent. It executes each child agent in the supplied
// context order; errors stop further processing immediately. The same
// invocation context is passed to all child agents, allowing them to share
// session state and build upon each other's results.
func (s *SequentialAgent) Run(invCtx *core.InvocationContext) error {
	// Execute child agents in sequence, propagating state between them
	for _, child := range s.children {
		// Pass the same invocation context to maintain shared state
		if err := child.Run(invCtx); err != nil {
			return fmt.Errorf("sequential execution failed at agent %s: %w", child.Name(), err)
		}
	}

	return nil
}

// RunLive implements core.Agent. Sequential coordination is turn-based; a
// live connection must target a model-backed agent directly.
func (s *SequentialAgent) RunLive(_ *core.InvocationContext) error {
	return fmt.Errorf("agent %s does not support live streaming", s.Name())
}
