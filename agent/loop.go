// Package agent provides loop-based execution coordination for repetitive tasks.
//
// LoopAgent executes a single child agent repeatedly with configurable termination
// controls (max iterations, predicate, interval, escalation monitoring).

package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentstream/core"
)

// ErrEscalated is returned when a child agent signals escalation.
var ErrEscalated = errors.New("child agent escalated")

// LoopAgent coordinates the repeated execution of a child agent.
//
// This agent type enables iterative workflows by executing a child agent
// multiple times with configurable termination conditions. The loop can
// be controlled by maximum iterations, custom predicates, interval timing,
// and error handling strategies.
//
// Key features:
//   - Configurable maximum iteration limits
//   - Custom termination predicates based on output
//   - Interval timing between iterations
//   - Flexible error handling (stop or continue)
//   - Context cancellation support
//   - Shared session state across iterations
//
// LoopAgent is ideal for:
//   - Monitoring and polling scenarios
//   - Iterative data processing workflows
//   - Retry logic with custom conditions
//   - Periodic task execution
//   - Workflows requiring convergence checking
type LoopAgent struct {
	BaseAgent
	child       core.Agent        // Child agent to execute repeatedly
	maxIters    int               // Maximum number of iterations allowed
	interval    time.Duration     // Time delay between iterations
	stopOnError bool              // Whether to stop execution on child agent errors
	predicate   func(string) bool // Custom termination condition based on output
}

// NewLoopAgent constructs a looping coordinator around a child agent.
// Defaults: 100 iterations, no interval, stop on first error.
//
// Parameters:
//   - name: Human-readable name for the coordinator
//   - child: Agent to execute iteratively
//   - opts: Configuration options for loop behavior
//
// Returns a configured LoopAgent ready for iterative execution.
func NewLoopAgent(name string, child core.Agent, opts ...LoopOption) *LoopAgent {
	la := &LoopAgent{
		BaseAgent:   NewBaseAgent(name),
		child:       child,
		maxIters:    100,
		interval:    0,
		stopOnError: true,
	}

	for _, o := range opts {
		o(la)
	}

	return la
}

// LoopOption defines a configuration function for customizing LoopAgent behavior.
type LoopOption func(*LoopAgent)

// WithMaxIters sets the maximum number of iterations for the loop.
//
// The loop will terminate after this many iterations even if other
// termination conditions are not met. Set to a reasonable value to
// prevent infinite loops.
func WithMaxIters(n int) LoopOption {
	return func(l *LoopAgent) { l.maxIters = n }
}

// WithInterval sets the time delay between loop iterations.
//
// This is useful for rate limiting, polling scenarios, or giving
// external systems time to process between iterations. Set to 0
// for no delay between iterations.
func WithInterval(d time.Duration) LoopOption {
	return func(l *LoopAgent) { l.interval = d }
}

// WithPredicate sets a custom termination condition based on output.
//
// The predicate function receives the accumulated final text output of one
// iteration and should return true to terminate the loop early. This enables
// sophisticated termination logic based on agent responses.
//
// Example:
//
//	WithPredicate(func(output string) bool {
//	    return strings.Contains(output, "COMPLETE")
//	})
func WithPredicate(pred func(string) bool) LoopOption {
	return func(l *LoopAgent) { l.predicate = pred }
}

// Run implements core.Agent performing iterative execution with escalation
// detection. It returns early (nil error) on escalation events or when the
// termination predicate matches an iteration's output.
//
// The same InvocationContext is passed to all iterations, allowing the child
// agent to accumulate state across loop executions.
func (l *LoopAgent) Run(invCtx *core.InvocationContext) error {
	for i := 0; i < l.maxIters; i++ {
		// Check for context cancellation
		select {
		case <-invCtx.Done():
			return invCtx.Err()
		default:
		}

		invCtx.LogDebug("agent.loop.iteration", "agent", l.Name(), "iteration", i+1)

		// Execute child agent with monitoring for escalation
		output, childErr := l.runChildWithEscalationMonitoring(invCtx)

		// Handle escalation - if child escalated, stop immediately
		if errors.Is(childErr, ErrEscalated) {
			invCtx.LogDebug("agent.loop.escalated", "agent", l.Name(), "iteration", i+1)
			return nil // Escalation is not an error, just early termination
		}

		// Handle other errors
		if childErr != nil {
			if l.stopOnError {
				return fmt.Errorf("loop iteration %d failed for agent %s: %w", i+1, l.child.Name(), childErr)
			}
			invCtx.LogWarn("agent.loop.iteration_failed", "agent", l.Name(), "iteration", i+1, "error", childErr.Error())
			// Continue loop if configured to ignore errors
		}

		// Check custom termination predicate against this iteration's output
		if l.predicate != nil && l.predicate(output) {
			invCtx.LogDebug("agent.loop.predicate_matched", "agent", l.Name(), "iteration", i+1)
			return nil
		}

		// Apply interval delay between iterations (except after last iteration)
		if l.interval > 0 && i < l.maxIters-1 {
			select {
			case <-invCtx.Done():
				return invCtx.Err()
			case <-time.After(l.interval):
				// Continue to next iteration
			}
		}
	}

	invCtx.LogDebug("agent.loop.complete", "agent", l.Name(), "iterations", l.maxIters)

	return nil
}

// RunLive implements core.Agent. Loop coordination is turn-based; a live
// connection must target a model-backed agent directly.
func (l *LoopAgent) RunLive(_ *core.InvocationContext) error {
	return fmt.Errorf("agent %s does not support live streaming", l.Name())
}

// runChildWithEscalationMonitoring wraps child execution routing its emitted
// events through an intercept channel to inspect for escalation flags before
// forwarding to the parent context. It returns the concatenated final text
// output of the iteration for predicate evaluation.
func (l *LoopAgent) runChildWithEscalationMonitoring(invCtx *core.InvocationContext) (string, error) {
	// Create intercepting channels and derive a child context using helper
	interceptChan := make(chan core.Event, 10)
	resumeChan := make(chan struct{}, 10)
	childCtx := invCtx.NewChildContext(interceptChan, resumeChan, invCtx.Branch)

	// Channel to communicate child execution completion
	done := make(chan error, 1)

	// Run child agent in a separate goroutine
	go func() {
		defer close(done)
		done <- l.child.Run(childCtx)
	}()

	var output strings.Builder

	// Monitor events and forward them, checking for escalation
	for {
		select {
		case event, ok := <-interceptChan:
			if !ok {
				// Child closed the channel, wait for completion
				return output.String(), <-done
			}

			// Forward the event to the parent context
			if err := invCtx.EmitEvent(event); err != nil {
				return output.String(), err
			}

			// Resume the child's flow so it does not stall waiting on the
			// persistence handshake (the parent handshake happens upstream)
			if !event.IsPartial() {
				select {
				case resumeChan <- struct{}{}:
				case <-invCtx.Done():
					return output.String(), invCtx.Err()
				}

				if event.Content != nil {
					for _, p := range event.Content.Parts {
						if tp, ok := p.(core.TextPart); ok {
							output.WriteString(tp.Text)
						}
					}
				}
			}

			// Check for escalation after the child has been resumed
			if event.Actions.Escalate != nil && *event.Actions.Escalate {
				invCtx.LogDebug("agent.loop.escalation_event", "agent", l.Name())
				<-done
				return output.String(), ErrEscalated
			}

		case err := <-done:
			// Child completed; drain events buffered before completion
			for {
				select {
				case event := <-interceptChan:
					if emitErr := invCtx.EmitEvent(event); emitErr != nil {
						return output.String(), emitErr
					}
				default:
					return output.String(), err
				}
			}

		case <-invCtx.Done():
			// Context cancelled
			return output.String(), invCtx.Err()
		}
	}
}

// CreateEscalationEvent creates an event that signals escalation to the parent agent.
//
// This helper creates a properly formatted event with the escalation flag set.
// Agents can use it when they determine that they cannot complete their task
// and need to hand control back to a higher level agent.
//
// Example usage:
//
//	event := CreateEscalationEvent(
//	    invCtx.InvocationID,
//	    "TaskAgent",
//	    &core.Content{
//	        Role: "assistant",
//	        Parts: []core.Part{core.TextPart{Text: "Task complexity exceeds my capabilities"}},
//	    },
//	)
//	return invCtx.EmitEvent(event)
func CreateEscalationEvent(invocationID, author string, content *core.Content) core.Event {
	escalate := true
	ev := core.NewEvent(invocationID, author)
	ev.Actions.Escalate = &escalate
	ev.Content = content
	return ev
}
