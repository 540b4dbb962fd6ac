// Package engine implements the core orchestration layer for AgentStream.
//
// The Engine serves as the central coordination hub that manages the complete
// lifecycle of agent conversations, both turn-based and live. It bridges the
// gap between high-level AgentStream operations and low-level agent
// implementations.
//
// # Core Responsibilities
//
// Agent Management:
//   - Thread-safe agent registry with name-based lookup
//   - Dynamic agent registration and replacement
//   - Agent lifecycle coordination (Start/Run/RunLive/Stop)
//
// Invocation Orchestration:
//   - Asynchronous (Invoke), synchronous (InvokeSync) and bidirectional
//     streaming (InvokeLive) execution patterns
//   - Context-aware cancellation and timeout handling
//   - Graceful resource cleanup and error propagation
//
// Event Processing:
//   - Real-time event streaming with configurable buffering
//   - Event action processing and service coordination
//   - Session persistence of non-partial events
//   - Resume signaling so agents pace emission against persistence
//
// Service Integration:
//   - Session store coordination for persistence and state
//   - Artifact store integration for binary/blob management
//   - Memory store coordination for searchable recall
//   - Callback system for cross-cutting concerns
//
// # Architecture
//
// The engine follows a layered architecture with clear separation of concerns:
//
//	┌─────────────────────────────────────────────────────────┐
//	│                    Client Layer                         │
//	├─────────────────────────────────────────────────────────┤
//	│                  Engine Interface                       │
//	│  ┌────────────┐ ┌────────────┐ ┌────────────────────┐  │
//	│  │   Invoke   │ │ InvokeSync │ │    InvokeLive      │  │
//	│  └────────────┘ └────────────┘ └────────────────────┘  │
//	├─────────────────────────────────────────────────────────┤
//	│                 Orchestration Layer                     │
//	│  ┌────────────┐ ┌────────────┐ ┌────────────────────┐  │
//	│  │   Events   │ │ Callbacks  │ │    Invocation      │  │
//	│  │ Processing │ │  Manager   │ │     Tracking       │  │
//	│  └────────────┘ └────────────┘ └────────────────────┘  │
//	├─────────────────────────────────────────────────────────┤
//	│                   Service Layer                         │
//	│  ┌────────────┐ ┌────────────┐ ┌────────────────────┐  │
//	│  │  Session   │ │  Artifact  │ │      Memory        │  │
//	│  │   Store    │ │   Store    │ │       Store        │  │
//	│  └────────────┘ └────────────┘ └────────────────────┘  │
//	└─────────────────────────────────────────────────────────┘
//
// # Usage Patterns
//
// Basic Engine Setup:
//
//	eng := engine.New(func(o *engine.Options) {
//	    o.AppName = "voice-assistant"
//	    o.Logger = logger
//	})
//
// Agent Registration:
//
//	modelAgent := agent.NewModelAgent("Assistant", model)
//	eng.Register(modelAgent)
//
// Streaming Execution:
//
//	invocationID, events, errors, err := eng.Invoke(ctx, "user-1", "session-1", "Assistant", userContent)
//	if err != nil {
//	    return err
//	}
//	_ = invocationID // use for cancellation or tracking
//	for event := range events {
//	    handleEvent(event)
//	}
//
// Live Execution:
//
//	queue := core.NewLiveRequestQueue()
//	invocationID, events, errors, err := eng.InvokeLive(ctx, "user-1", "session-1", "Assistant", queue, runConfig)
//	// feed queue.SendRealtime(...) from the client connection,
//	// consume events concurrently, queue.Close() to end the session
//
// # Concurrency Model
//
// The engine is designed for concurrent operation with the following
// guarantees:
//
//   - Thread-safe agent registration and lookup
//   - Per-invocation isolation with independent contexts and channels
//   - Graceful cancellation propagation and resource cleanup
//   - Non-blocking event emission with configurable buffering
//
// # Error Handling
//
//   - Immediate errors: Returned directly for startup failures
//   - Terminal errors: Propagated via dedicated error channels
//   - Context cancellation: Handled gracefully with proper cleanup
//   - Service errors: Treated as terminal to maintain consistency
package engine
