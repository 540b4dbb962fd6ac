package runner

import (
	"context"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/engine"
	"github.com/hupe1980/agentstream/logging"
)

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// AppName scopes sessions and artifacts created by this runner.
	// Defaults to "agentstream" if empty.
	AppName string
	// EventBufferSize sets channel buffering for events.
	EventBufferSize int
	// RunConfig is the default runtime behavior for Run / RunSync. Live runs
	// take an explicit config per call.
	RunConfig core.RunConfig
	// Session management services.
	SessionStore core.SessionStore
	// Artifact management services.
	ArtifactStore core.ArtifactStore
	// Memory management services.
	MemoryStore core.MemoryStore
	// Logging services.
	Logger logging.Logger
	// Callbacks hooks into the invocation lifecycle.
	Callbacks *engine.CallbackManager
}

// Runner drives a single root agent: it owns an embedded engine with the
// agent pre-registered and exposes per-user run methods. Use the engine
// package directly when multiple root agents share one registry. Public
// methods are safe for concurrent use.
type Runner struct {
	appName string
	agent   core.Agent
	engine  *engine.Engine
}

// New constructs a Runner for the given root agent with optional overrides.
func New(a core.Agent, optFns ...func(o *Options)) *Runner {
	opts := Options{
		AppName:         "agentstream",
		EventBufferSize: engine.DefaultConfig.EventBufferSize,
		RunConfig:       core.DefaultRunConfig(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	eng := engine.New(func(o *engine.Options) {
		o.AppName = opts.AppName
		o.Config.EventBufferSize = opts.EventBufferSize

		if opts.SessionStore != nil {
			o.SessionStore = opts.SessionStore
		}
		if opts.ArtifactStore != nil {
			o.ArtifactStore = opts.ArtifactStore
		}
		if opts.MemoryStore != nil {
			o.MemoryStore = opts.MemoryStore
		}
		if opts.Logger != nil {
			o.Logger = opts.Logger
		}
		if opts.Callbacks != nil {
			o.Callbacks = opts.Callbacks
		}
	})

	eng.Register(a)

	return &Runner{
		appName: opts.AppName,
		agent:   a,
		engine:  eng,
	}
}

// Run starts an asynchronous invocation of the root agent and returns the run
// id plus streaming event and error channels.
func (r *Runner) Run(
	ctx context.Context,
	userID string,
	sessionID string,
	userContent core.Content,
) (string, <-chan core.Event, <-chan error, error) {
	return r.engine.Invoke(ctx, userID, sessionID, r.agent.Name(), userContent)
}

// RunSync executes the root agent and blocks until completion, returning all
// generated events.
func (r *Runner) RunSync(
	ctx context.Context,
	userID string,
	sessionID string,
	userContent core.Content,
) (string, []core.Event, error) {
	return r.engine.InvokeSync(ctx, userID, sessionID, r.agent.Name(), userContent)
}

// RunLive starts a bidirectional streaming run fed by the request queue.
// Client traffic (text, audio blobs, activity signals) goes into the queue;
// model output, transcriptions and turn boundaries come back on the event
// channel. Closing the queue ends the run.
func (r *Runner) RunLive(
	ctx context.Context,
	userID string,
	sessionID string,
	queue *core.LiveRequestQueue,
	runConfig core.RunConfig,
) (string, <-chan core.Event, <-chan error, error) {
	return r.engine.InvokeLive(ctx, userID, sessionID, r.agent.Name(), queue, runConfig)
}

// Cancel cancels a running run by ID.
func (r *Runner) Cancel(runID string) error {
	return r.engine.StopInvocation(runID)
}

// GetSession retrieves a session snapshot by ID.
func (r *Runner) GetSession(sessionID string) (*core.Session, error) {
	return r.engine.GetSession(sessionID)
}
