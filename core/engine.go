package core

import "context"

// Engine coordinates agent execution and event emission.
//
// A concrete implementation is responsible for:
//   - Registering available agents (by name) via Register
//   - Spawning asynchronous invocations returning event + error channels
//   - Synchronous convenience execution collecting emitted events
//   - Live bidirectional invocations fed by a LiveRequestQueue
//
// Implementations SHOULD:
//   - Guarantee ordering of events per invocation where necessary
//   - Propagate context cancellation to underlying agent Run calls
//   - Close returned channels when an invocation terminates
//   - Surface terminal errors via the error channel (async) or direct return (sync)
type Engine interface {
	// Register makes an agent available for later invocation by name.
	Register(a Agent)

	// Invoke starts an asynchronous agent invocation returning streaming event
	// and terminal error channels. Channels are closed when execution completes
	// or the context is cancelled. This is the primary API; prefer it for
	// streaming / interactive consumption.
	//
	// Returns:
	//   - invocationID: unique identifier for this invocation (for cancellation / tracking)
	//   - eventsCh: streamed events
	//   - errorsCh: terminal error channel (buffered size 1)
	//   - err: immediate error starting invocation
	Invoke(
		ctx context.Context,
		userID, sessionID, agentName string,
		userContent Content,
	) (string, <-chan Event, <-chan error, error)

	// InvokeSync executes an agent to completion, collecting all emitted
	// events into a slice. Convenience wrapper that drains Invoke.
	// InvokeSync returns collected events and the invocationID that produced them.
	InvokeSync(ctx context.Context, userID, sessionID, agentName string, userContent Content) (string, []Event, error)

	// InvokeLive starts a bidirectional streaming invocation. Client traffic
	// arrives through queue; model output streams through the returned event
	// channel. The invocation ends when the queue delivers a close envelope,
	// the model stream terminates, or ctx is cancelled.
	InvokeLive(
		ctx context.Context,
		userID, sessionID, agentName string,
		queue *LiveRequestQueue,
		runConfig RunConfig,
	) (string, <-chan Event, <-chan error, error)
}
