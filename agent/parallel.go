// Package agent provides parallel execution coordination for multiple agents.
//
// ParallelAgent executes child agents concurrently with branch isolation,
// enabling efficient processing of independent tasks.

package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentstream/core"
)

// ParallelAgent coordinates the concurrent execution of multiple child agents.
//
// This agent type enables parallel processing by executing child agents
// simultaneously with proper branch isolation. Each child agent receives
// a separate branch context to prevent state conflicts while maintaining
// access to the shared session state.
//
// Key features:
//   - Concurrent execution with goroutines
//   - Branch isolation for state management
//   - Configurable execution timeout
//   - Error aggregation from all branches
//   - Hierarchical naming for branch identification
//
// ParallelAgent is ideal for:
//   - Independent task processing
//   - I/O bound operations that can run concurrently
//   - Data gathering from multiple sources
//   - Scenarios where order doesn't matter
type ParallelAgent struct {
	BaseAgent               // Embedded base agent functionality
	children  []core.Agent  // Child agents to execute in parallel
	timeout   time.Duration // Maximum execution time for all children (0 = unbounded)
}

// NewParallelAgent creates a new parallel execution coordinator.
//
// The agent will execute the provided child agents concurrently, each
// in its own isolated branch context to prevent state conflicts.
//
// Parameters:
//   - name: Human-readable name for the coordinator
//   - timeout: Maximum time allowed for all child agents to complete (0 disables)
//   - children: Child agents to execute in parallel
//
// Returns a configured ParallelAgent ready for concurrent execution.
func NewParallelAgent(name string, timeout time.Duration, children ...core.Agent) *ParallelAgent {
	return &ParallelAgent{
		BaseAgent: NewBaseAgent(name),
		children:  children,
		timeout:   timeout,
	}
}

// createBranchCtxForSubAgent clones the parent context and assigns a branch
// path for the child agent ensuring isolation of pending deltas / artifacts.
//
// The branch naming follows the pattern: "ParentAgent.SubAgent"
// For nested parallel agents, this creates hierarchical branch paths.
func (p *ParallelAgent) createBranchCtxForSubAgent(invCtx *core.InvocationContext, subAgent core.Agent) *core.InvocationContext {
	// Clone the invocation context for branch isolation
	clonedCtx := invCtx.Clone()

	// Create hierarchical branch identifier using helper
	branchSuffix := fmt.Sprintf("%s.%s", p.Name(), subAgent.Name())
	clonedCtx.Branch = buildBranchPath(invCtx.Branch, branchSuffix)

	return clonedCtx
}

// Run implements core.Agent launching all children concurrently. The first
// error encountered (after all complete) is returned; successful children
// continue even if siblings fail. When a timeout is configured all children
// share a deadline-bound context.
func (p *ParallelAgent) Run(invCtx *core.InvocationContext) error {
	runCtx := invCtx

	if p.timeout > 0 {
		ctx, cancel := context.WithTimeout(invCtx.Context, p.timeout)
		defer cancel()

		runCtx = invCtx.Clone()
		runCtx.Context = ctx
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(p.children))

	// Launch all child agents in separate goroutines
	for _, child := range p.children {
		wg.Add(1)
		go func(c core.Agent) {
			defer wg.Done()

			// Create isolated branch context for state separation
			branchCtx := p.createBranchCtxForSubAgent(runCtx, c)

			// Execute child agent with isolated context
			if err := c.Run(branchCtx); err != nil {
				errCh <- fmt.Errorf("parallel execution failed for agent %s: %w", c.Name(), err)
			}
		}(child)
	}

	// Wait for all child agents to complete
	wg.Wait()
	close(errCh)

	// Return first error encountered, if any
	if len(errCh) > 0 {
		return <-errCh
	}

	return nil
}

// RunLive implements core.Agent. Parallel coordination is turn-based; a live
// connection must target a model-backed agent directly.
func (p *ParallelAgent) RunLive(_ *core.InvocationContext) error {
	return fmt.Errorf("agent %s does not support live streaming", p.Name())
}
