package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hupe1980/agentstream/artifact"
	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/logging"
	"github.com/hupe1980/agentstream/memory"
	"github.com/hupe1980/agentstream/session"
)

// Config defines tuning parameters for the Engine's operational behavior.
//
// This configuration focuses on core performance and behavioral aspects:
//   - Concurrency: How many invocations can run simultaneously
//   - Streaming: Whether to enable real-time event streaming
//   - Buffering: Channel buffer sizes for event processing
//
// Additional concerns such as timeouts, metrics collection, and distributed
// tracing should be configured via functional options rather than expanding
// this struct to maintain simplicity and focused responsibility.
type Config struct {
	// MaxConcurrentInvocations limits the number of agent invocations that
	// can execute simultaneously. This prevents resource exhaustion and
	// provides backpressure. Set to 0 for unlimited (not recommended).
	MaxConcurrentInvocations int

	// EnableStreaming determines whether events are streamed in real-time
	// or buffered until completion. Streaming enables interactive experiences
	// but may increase overhead for simple request-response patterns.
	EnableStreaming bool

	// EventBufferSize sets the channel buffer size for event processing.
	// Larger buffers reduce blocking but increase memory usage. Should be
	// tuned based on expected event volume and processing latency.
	EventBufferSize int
}

// DefaultConfig provides production-ready default configuration values.
//
// Configuration values:
//   - MaxConcurrentInvocations: 10 (safe for most environments)
//   - EnableStreaming: true (enables real-time interactions)
//   - EventBufferSize: 100 (balances memory usage and performance)
var DefaultConfig = Config{
	MaxConcurrentInvocations: 10,
	EnableStreaming:          true,
	EventBufferSize:          100,
}

// Options configures an Engine instance using the functional options pattern.
//
// Default implementations are provided for all services to enable quick setup
// for development and testing scenarios.
//
// Example:
//
//	engine := New(func(o *Options) {
//	    o.AppName = "voice-assistant"
//	    o.SessionStore = mySessionStore
//	    o.Logger = myLogger
//	})
type Options struct {
	// AppName scopes sessions and artifacts created by this engine.
	// Defaults to "agentstream" if empty.
	AppName string

	// Config contains operational parameters for the engine behavior.
	// Defaults to DefaultConfig if not specified.
	Config Config

	// SessionStore manages session persistence and state.
	// Defaults to in-memory implementation if not provided.
	SessionStore core.SessionStore

	// ArtifactStore handles binary/blob artifact storage.
	// Defaults to in-memory implementation if not provided.
	ArtifactStore core.ArtifactStore

	// MemoryStore provides searchable memory and recall capabilities.
	// Defaults to in-memory implementation if not provided.
	MemoryStore core.MemoryStore

	// Logger provides structured logging for debugging and monitoring.
	// Defaults to NoOp logger if nil to ensure no logging dependencies.
	Logger logging.Logger

	// Callbacks hooks into the invocation lifecycle (before/after agent,
	// errors, state changes). Nil disables the callback layer.
	Callbacks *CallbackManager
}

// Engine orchestrates agent execution and manages the complete lifecycle
// of agent conversations within the AgentStream framework.
//
// The Engine serves as the central coordination point that bridges high-level
// AgentStream operations with low-level agent implementations. It provides:
//
// Core Responsibilities:
//   - Agent Registry: Thread-safe registration and lookup of named agents
//   - Invocation Management: Async/sync/live execution with lifecycle management
//   - Event Processing: Real-time event streaming and persistence coordination
//   - Service Integration: Coordination with session, artifact, and memory stores
//
// Event Flow:
//  1. User content is converted to events and persisted (turn-based mode)
//  2. Agent execution produces a stream of events
//  3. Event actions (state changes, artifacts) are applied to services
//  4. Non-partial events are persisted to session history
//  5. Events are streamed to clients; non-partial events release the agent's
//     resume gate so it can continue
//
// Live Mode:
// InvokeLive wires a LiveRequestQueue into the invocation context instead of
// fixed user content. The agent's RunLive method drains the queue, exchanges
// realtime media with the model, and emits the same event stream the
// turn-based path does. Partial events (audio chunks, streaming text deltas)
// are forwarded but never persisted.
//
// Error Handling:
//   - Agent execution errors are propagated via dedicated error channels
//   - Service integration errors terminate the invocation gracefully
//   - Context cancellation provides timeout and cleanup mechanisms
type Engine struct {
	// Core stores - immutable after construction
	appName       string
	sessionStore  core.SessionStore
	artifactStore core.ArtifactStore
	memoryStore   core.MemoryStore
	logger        logging.Logger
	callbacks     *CallbackManager

	// Configuration - immutable after construction
	config Config

	// Agent registry - protected by mutex for thread-safe access
	agents map[string]core.Agent
	mu     sync.RWMutex

	// Active invocation tracking - protected by separate mutex
	activeInvocations map[string]context.CancelFunc
	invocationsMu     sync.RWMutex
}

// New creates a new Engine instance with sensible defaults and optional
// configuration.
//
// Default Services:
//   - SessionStore: In-memory session storage with thread-safe operations
//   - ArtifactStore: In-memory artifact storage with revision tracking
//   - MemoryStore: In-memory searchable storage with simple text matching
//   - Logger: No-op logger that discards all messages
//
// The defaults enable immediate use without external dependencies, making the
// engine suitable for rapid prototyping, testing, and development scenarios.
// Production deployments should typically provide durable service
// implementations such as session/sqlite and artifact/s3.
//
// The returned Engine is immediately ready for use and is safe for concurrent
// access. The Engine does not take ownership of provided services and will not
// manage their lifecycle.
func New(
	optFns ...func(o *Options),
) *Engine {
	opts := Options{
		AppName:       "agentstream",
		Config:        DefaultConfig,
		SessionStore:  session.NewInMemoryStore(),
		ArtifactStore: artifact.NewInMemoryStore(),
		MemoryStore:   memory.NewInMemoryStore(),
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.AppName == "" {
		opts.AppName = "agentstream"
	}

	return &Engine{
		appName:           opts.AppName,
		sessionStore:      opts.SessionStore,
		artifactStore:     opts.ArtifactStore,
		memoryStore:       opts.MemoryStore,
		config:            opts.Config,
		agents:            make(map[string]core.Agent),
		activeInvocations: make(map[string]context.CancelFunc),
		logger:            opts.Logger,
		callbacks:         opts.Callbacks,
	}
}

// Register adds an agent to the engine's registry, making it available for
// invocation by name. If an agent with the same name already exists, it is
// replaced without warning.
//
// Registration is thread-safe, but it's recommended to complete all agent
// registration during initialization before starting invocations. The engine
// does not take ownership of the agent.
func (e *Engine) Register(a core.Agent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agents[a.Name()] = a
}

// GetAgent retrieves a registered agent by name. The boolean return value
// indicates whether an agent with the given name exists.
func (e *Engine) GetAgent(name string) (core.Agent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.agents[name]
	return a, ok
}

// Invoke executes an agent asynchronously and returns channels for real-time
// event streaming.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - userID: Identifier of the end user owning the session
//   - sessionID: Unique identifier for the conversation session; created under
//     this engine's app scope if it does not exist yet
//   - agentName: Name of the registered agent to execute
//   - userContent: User input content to process
//
// Returns the invocation id, a channel that streams events as they are
// generated, a channel that receives any terminal error, and an immediate
// error if the invocation cannot be started.
//
// The events channel is closed when the agent completes or fails. Clients
// should range over it and then drain the errors channel. The invocation can
// be explicitly stopped with StopInvocation.
func (e *Engine) Invoke(
	ctx context.Context,
	userID string,
	sessionID string,
	agentName string,
	userContent core.Content,
) (string, <-chan core.Event, <-chan error, error) {
	return e.invoke(ctx, userID, sessionID, agentName, userContent, core.DefaultRunConfig(), nil)
}

// InvokeLive starts a bidirectional streaming invocation driven by a
// LiveRequestQueue instead of fixed user content.
//
// The queue feeds client traffic (text, audio blobs, activity signals) to the
// agent for as long as the session lasts; closing the queue ends the
// invocation. Unlike Invoke, no user event is persisted up front because live
// input arrives incrementally; audio is cached and flushed to artifact
// storage by the live flow instead.
//
// The runConfig controls transcription, response modalities and blob
// archiving. Its streaming mode is forced to bidi.
func (e *Engine) InvokeLive(
	ctx context.Context,
	userID string,
	sessionID string,
	agentName string,
	queue *core.LiveRequestQueue,
	runConfig core.RunConfig,
) (string, <-chan core.Event, <-chan error, error) {
	if queue == nil {
		return "", nil, nil, fmt.Errorf("live invocation requires a request queue")
	}

	runConfig.StreamingMode = core.StreamingModeBidi

	return e.invoke(ctx, userID, sessionID, agentName, core.Content{}, runConfig, queue)
}

// invoke contains the shared launch sequence for turn-based and live
// invocations. A nil queue selects the turn-based path.
func (e *Engine) invoke(
	ctx context.Context,
	userID string,
	sessionID string,
	agentName string,
	userContent core.Content,
	runConfig core.RunConfig,
	queue *core.LiveRequestQueue,
) (string, <-chan core.Event, <-chan error, error) {
	agent, ok := e.GetAgent(agentName)
	if !ok {
		return "", nil, nil, fmt.Errorf("agent %s not found", agentName)
	}

	sess, err := e.getOrCreateSession(userID, sessionID)
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to get session: %w", err)
	}

	invocationID := uuid.NewString()

	eventsCh := make(chan core.Event, e.config.EventBufferSize)
	errorsCh := make(chan error, 1)
	agentEmit := make(chan core.Event, e.config.EventBufferSize)
	resumeCh := make(chan struct{}, 1)

	invocationCtx, cancel := context.WithCancel(ctx)

	e.invocationsMu.Lock()
	e.activeInvocations[invocationID] = cancel
	e.invocationsMu.Unlock()

	agentInfo := core.AgentInfo{Name: agent.Name(), Type: "unknown"}

	invCtx := core.NewInvocationContext(
		invocationCtx,
		e.appName,
		userID,
		sessionID,
		invocationID,
		agentInfo,
		userContent,
		runConfig,
		agentEmit,
		resumeCh,
		sess,
		e.sessionStore,
		e.artifactStore,
		e.memoryStore,
		e.logger,
	)
	invCtx.LiveRequestQueue = queue

	// Turn-based invocations persist the user input as the opening event.
	// Live invocations have no single opening message; input arrives over
	// the queue and is archived via the audio caches instead.
	if queue == nil {
		userEvent := core.NewUserContentEvent(invocationID, &userContent)

		if err := e.sessionStore.AppendEvent(sessionID, userEvent); err != nil {
			cancel()
			e.invocationsMu.Lock()
			delete(e.activeInvocations, invocationID)
			e.invocationsMu.Unlock()

			return "", nil, nil, fmt.Errorf("failed to append user event: %w", err)
		}
	}

	if err := e.callbacks.ExecuteCallbacks(invocationCtx, CallbackBeforeAgent, &CallbackContext{
		InvocationContext: invCtx,
		AgentID:           agentName,
		CallbackType:      CallbackBeforeAgent,
	}); err != nil {
		cancel()
		e.invocationsMu.Lock()
		delete(e.activeInvocations, invocationID)
		e.invocationsMu.Unlock()

		return "", nil, nil, fmt.Errorf("before agent callback rejected invocation: %w", err)
	}

	e.logger.Debug("engine.invocation.start",
		"invocation_id", invocationID,
		"session_id", sessionID,
		"agent", agentName,
		"live", queue != nil,
	)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer func() {
			close(agentEmit)
			e.invocationsMu.Lock()
			delete(e.activeInvocations, invocationID)
			e.invocationsMu.Unlock()
		}()

		var runErr error
		if queue != nil {
			runErr = e.runAgentLive(invCtx, agent)
		} else {
			runErr = e.runAgent(invCtx, agent)
		}

		if runErr != nil {
			if cbErr := e.callbacks.ExecuteCallbacks(invocationCtx, CallbackOnError, &CallbackContext{
				InvocationContext: invCtx,
				AgentID:           agentName,
				CallbackType:      CallbackOnError,
				Metadata:          map[string]interface{}{"error": runErr.Error()},
			}); cbErr != nil {
				e.logger.Warn("engine.callback.on_error_failed", "agent", agentName, "error", cbErr)
			}
		}

		if cbErr := e.callbacks.ExecuteCallbacks(invocationCtx, CallbackAfterAgent, &CallbackContext{
			InvocationContext: invCtx,
			AgentID:           agentName,
			CallbackType:      CallbackAfterAgent,
		}); cbErr != nil {
			e.logger.Warn("engine.callback.after_agent_failed", "agent", agentName, "error", cbErr)
		}

		if runErr != nil {
			// The one-slot buffer may already hold a terminal error from
			// event processing; one terminal error is enough.
			select {
			case errorsCh <- fmt.Errorf("agent execution failed: %w", runErr):
			default:
			}
		}
	}()

	go func() {
		defer wg.Done()
		defer close(eventsCh)

		e.processEvents(invCtx, agentEmit, resumeCh, eventsCh, errorsCh)
	}()

	// errorsCh has two producers; it is closed only after both have stopped
	// sending.
	go func() {
		wg.Wait()
		close(errorsCh)
	}()

	return invocationID, eventsCh, errorsCh, nil
}

// InvokeSync executes an agent synchronously and returns all generated events.
//
// This is a convenience wrapper around Invoke() that collects all events
// and returns them as a slice. It's useful for simple request-response
// patterns where real-time streaming is not required. The method blocks until
// the agent completes execution or an error occurs.
//
// Events are collected in the order they are generated. Partial events are
// included, allowing clients to see the complete execution trace if needed.
// This method buffers all events in memory; for high-volume scenarios prefer
// the streaming Invoke() method.
func (e *Engine) InvokeSync(
	ctx context.Context,
	userID string,
	sessionID string,
	agentName string,
	userContent core.Content,
) (string, []core.Event, error) {
	invocationID, eventsCh, errorsCh, err := e.Invoke(ctx, userID, sessionID, agentName, userContent)
	if err != nil {
		return "", nil, err
	}

	var events []core.Event
	for {
		select {
		case <-ctx.Done():
			return invocationID, events, ctx.Err()

		case event, ok := <-eventsCh:
			if !ok {
				// Events channel closed - check for terminal error
				select {
				case err := <-errorsCh:
					return invocationID, events, err
				default:
					return invocationID, events, nil
				}
			}

			events = append(events, event)

		case err := <-errorsCh:
			if err != nil {
				return invocationID, events, err
			}
		}
	}
}

// StopInvocation forcibly terminates a specific invocation by its ID.
//
// The invocation's context is cancelled, agent execution is interrupted, and
// the event and error channels are closed. For live invocations this also
// unblocks the request queue poll loop. Returns an error if the invocation ID
// is not found.
func (e *Engine) StopInvocation(invocationID string) error {
	e.invocationsMu.Lock()
	cancel, exists := e.activeInvocations[invocationID]
	e.invocationsMu.Unlock()

	if !exists {
		return fmt.Errorf("invocation %s not found", invocationID)
	}

	cancel()
	return nil
}

// getOrCreateSession resolves the session by id, creating it under this
// engine's app scope when no session exists yet.
func (e *Engine) getOrCreateSession(userID, sessionID string) (*core.Session, error) {
	sess, err := e.sessionStore.Get(sessionID)
	if err == nil {
		return sess, nil
	}

	if errors.Is(err, session.ErrNotFound) {
		e.logger.Debug("engine.session.create",
			"app_name", e.appName,
			"user_id", userID,
			"session_id", sessionID,
		)

		return e.sessionStore.Create(e.appName, userID, sessionID)
	}

	return nil, err
}

func (e *Engine) runAgent(invocationCtx *core.InvocationContext, agent core.Agent) error {
	if err := agent.Start(invocationCtx); err != nil {
		return err
	}
	defer func() {
		if err := agent.Stop(invocationCtx); err != nil {
			e.logger.Warn("engine.agent.stop_failed", "agent", agent.Name(), "error", err)
		}
	}()

	return agent.Run(invocationCtx)
}

func (e *Engine) runAgentLive(invocationCtx *core.InvocationContext, agent core.Agent) error {
	if err := agent.Start(invocationCtx); err != nil {
		return err
	}
	defer func() {
		if err := agent.Stop(invocationCtx); err != nil {
			e.logger.Warn("engine.agent.stop_failed", "agent", agent.Name(), "error", err)
		}
	}()

	return agent.RunLive(invocationCtx)
}

// processEvents orchestrates the core event processing pipeline for an
// invocation. It runs in a dedicated goroutine and handles the complete
// lifecycle of event processing from agent generation to client delivery:
//
//  1. Receive events from the agent execution goroutine
//  2. Apply event actions (state changes, artifacts) to services
//  3. Persist non-partial events to session history
//  4. Forward events to the client via the events channel
//  5. Signal resumption for non-partial events
//
// Service errors during event processing are treated as terminal errors that
// terminate the entire invocation. This ensures data consistency and prevents
// partial state corruption. Context cancellation is respected at every stage.
//
// The method terminates when the agent closes the emit channel (normal
// completion), the context is cancelled, or a terminal error occurs.
func (e *Engine) processEvents(
	invCtx *core.InvocationContext,
	agentEmit <-chan core.Event,
	resumeCh chan<- struct{},
	eventsCh chan<- core.Event,
	errorsCh chan<- error,
) {
	ctx := invCtx.Context
	sessionID := invCtx.SessionID

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-agentEmit:
			if !ok {
				// Agent closed emit channel - normal completion
				return
			}

			if len(ev.Actions.StateDelta) > 0 {
				if err := e.callbacks.ExecuteCallbacks(ctx, CallbackOnStateChange, &CallbackContext{
					InvocationContext: invCtx,
					Event:             &ev,
					AgentID:           invCtx.GetAgentName(),
					CallbackType:      CallbackOnStateChange,
				}); err != nil {
					select {
					case errorsCh <- fmt.Errorf("state change rejected: %w", err):
					default:
					}
					return
				}
			}

			if err := e.applyEventActions(sessionID, ev); err != nil {
				select {
				case errorsCh <- fmt.Errorf("failed to process event actions: %w", err):
				default:
				}
				return
			}

			// Partial events (streaming deltas, realtime audio chunks)
			// are forwarded but never persisted.
			if !ev.IsPartial() {
				if err := e.sessionStore.AppendEvent(sessionID, ev); err != nil {
					select {
					case errorsCh <- fmt.Errorf("failed to append event to session: %w", err):
					default:
					}
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case eventsCh <- ev:
				e.logger.Debug("engine.event.delivered",
					"event_id", ev.ID,
					"session_id", sessionID,
					"author", ev.Author,
					"partial", ev.IsPartial(),
				)
			}

			// Signal resumption for non-partial events. The send is
			// non-blocking; a full channel means the agent has not yet
			// consumed the previous signal.
			if !ev.IsPartial() {
				select {
				case <-ctx.Done():
					return
				case resumeCh <- struct{}{}:
				default:
				}
			}
		}
	}
}

// applyEventActions processes and applies the side-effects encoded in an
// event's Actions field.
func (e *Engine) applyEventActions(sessionID string, ev core.Event) error {
	if len(ev.Actions.StateDelta) > 0 {
		if err := e.sessionStore.ApplyDelta(sessionID, ev.Actions.StateDelta); err != nil {
			return fmt.Errorf("failed to apply state delta: %w", err)
		}
	}

	// Artifact saves already happened at emission time via the invocation
	// context; the delta carries filename -> revision pairs for observers.
	if len(ev.Actions.ArtifactDelta) > 0 {
		e.logger.Debug("engine.event.artifact_delta",
			"session_id", sessionID,
			"artifacts", len(ev.Actions.ArtifactDelta),
		)
	}

	// Transfer execution is delegated to the caller; the engine records the
	// request so operators can trace handoffs.
	if ev.Actions.TransferToAgent != nil && *ev.Actions.TransferToAgent != "" {
		e.logger.Debug("engine.event.transfer_to_agent",
			"target", *ev.Actions.TransferToAgent,
			"session_id", sessionID,
		)
	}

	if ev.Actions.Escalate != nil && *ev.Actions.Escalate {
		e.logger.Debug("engine.event.escalate", "session_id", sessionID)
	}

	return nil
}

// GetSession retrieves the current session by ID.
//
// The returned session represents a point-in-time snapshot. Changes made
// to the session during invocation may not be reflected in this snapshot.
// This method is primarily used for debugging and monitoring.
func (e *Engine) GetSession(sessionID string) (*core.Session, error) {
	return e.sessionStore.Get(sessionID)
}
