// Package agentstream provides a high-level façade over the core Engine and
// service abstractions (sessions, artifacts, memory & logging) enabling rapid
// construction of realtime agent systems. Most applications interact with
// this package by:
//  1. Creating an AgentStream via New() (optionally overriding default in-memory services)
//  2. Registering one or more agents (model, sequential, parallel, loop, custom)
//  3. Invoking agents asynchronously (Invoke), synchronously (InvokeSync) or
//     over a bidirectional stream (InvokeLive)
//
// The façade delegates orchestration to engine.Engine while keeping setup and
// usage ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply durable store
// implementations (session/sqlite, artifact/s3) and a structured logger.
package agentstream

import (
	"context"

	"github.com/hupe1980/agentstream/artifact"
	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/engine"
	"github.com/hupe1980/agentstream/logging"
	"github.com/hupe1980/agentstream/memory"
	"github.com/hupe1980/agentstream/session"
)

// Options configures the AgentStream instance.
type Options struct {
	// AppName scopes sessions and artifacts. Defaults to "agentstream".
	AppName string

	// EngineConfig carries engine tuning (concurrency, streaming, buffers).
	EngineConfig engine.Config

	// Stores (defaults to in-memory implementations if not provided)
	SessionStore    core.SessionStore
	ArtifactService core.ArtifactStore
	MemoryStore     core.MemoryStore

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger

	// Callbacks hooks into the invocation lifecycle (optional).
	Callbacks *engine.CallbackManager
}

// AgentStream is the high-level façade aggregating the underlying engine and services.
type AgentStream struct {
	opts   Options
	engine core.Engine
}

// New creates a new AgentStream instance with optional overrides. Any unset
// service is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *AgentStream {
	opts := Options{
		AppName:         "agentstream",
		EngineConfig:    engine.DefaultConfig,
		SessionStore:    session.NewInMemoryStore(),
		ArtifactService: artifact.NewInMemoryStore(),
		MemoryStore:     memory.NewInMemoryStore(),
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	eng := engine.New(func(o *engine.Options) {
		o.AppName = opts.AppName
		o.Config = opts.EngineConfig
		o.SessionStore = opts.SessionStore
		o.ArtifactStore = opts.ArtifactService
		o.MemoryStore = opts.MemoryStore
		o.Logger = opts.Logger
		o.Callbacks = opts.Callbacks
	})

	return &AgentStream{opts: opts, engine: eng}
}

// RegisterAgent adds an agent to the underlying engine.
func (m *AgentStream) RegisterAgent(a core.Agent) { m.engine.Register(a) }

// Invoke starts an asynchronous invocation returning event & error channels.
func (m *AgentStream) Invoke(
	ctx context.Context,
	userID string,
	sessionID string,
	agentName string,
	userContent core.Content,
) (string, <-chan core.Event, <-chan error, error) {
	return m.engine.Invoke(ctx, userID, sessionID, agentName, userContent)
}

// InvokeSync is a synchronous helper that drains the async channels,
// accumulates events and returns the invocationID.
func (m *AgentStream) InvokeSync(
	ctx context.Context,
	userID string,
	sessionID string,
	agentName string,
	userContent core.Content,
) (string, []core.Event, error) {
	return m.engine.InvokeSync(ctx, userID, sessionID, agentName, userContent)
}

// InvokeLive starts a bidirectional streaming invocation. Client traffic
// (text, audio blobs, activity signals) goes into the queue; model output,
// transcriptions and turn boundaries come back on the event channel. Closing
// the queue ends the invocation.
func (m *AgentStream) InvokeLive(
	ctx context.Context,
	userID string,
	sessionID string,
	agentName string,
	queue *core.LiveRequestQueue,
	runConfig core.RunConfig,
) (string, <-chan core.Event, <-chan error, error) {
	return m.engine.InvokeLive(ctx, userID, sessionID, agentName, queue, runConfig)
}
