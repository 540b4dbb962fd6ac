package core

import (
	"context"
	"fmt"

	"maps"

	"github.com/hupe1980/agentstream/logging"
)

// InvocationContext carries execution state & helpers for an agent invocation.
// It encapsulates the mutable, per-invocation execution scope passed to an
// Agent's Run / RunLive method. It aggregates:
//   - The ambient cancellation Context
//   - Identifiers (AppName, UserID, SessionID, InvocationID, Agent info)
//   - Input user Content (turn-based) or a LiveRequestQueue (live)
//   - Emission / resumption coordination channels
//   - Backing services (session, artifact, memory) for persistence concerns
//   - A working Session snapshot and pending StateDelta / Artifacts to commit
//   - Per-direction audio caches for live streaming
//   - Branch label for hierarchical flows
//
// State mutations performed via SetState accumulate in StateDelta until
// CommitStateDelta or EmitEvent applies them. Cloning produces an isolated
// delta/artifact buffer while keeping references to underlying services.
type InvocationContext struct {
	Context                 context.Context
	AppName, UserID         string
	SessionID, InvocationID string
	Agent                   AgentInfo
	UserContent             Content
	RunConfig               RunConfig
	Emit                    chan<- Event
	Resume                  <-chan struct{}
	SessionService          SessionStore
	ArtifactService         ArtifactStore
	MemoryService           MemoryStore
	Limiter                 *ModelLimiter
	Session                 *Session
	StateDelta              map[string]any
	Artifacts               map[string]int
	Branch                  string

	// LiveRequestQueue feeds client → model traffic during bidi streaming.
	// Nil for turn-based invocations.
	LiveRequestQueue *LiveRequestQueue

	// InputAudioCache / OutputAudioCache buffer realtime audio per direction
	// until a control event flushes them to artifact storage. Always non-nil.
	InputAudioCache  *AudioCache
	OutputAudioCache *AudioCache

	*loggerAdapter
}

// NewInvocationContext constructs an InvocationContext with empty state and
// artifact deltas and fresh audio caches.
func NewInvocationContext(
	ctx context.Context,
	appName, userID string,
	sessionID, invocationID string,
	agent AgentInfo,
	userContent Content,
	runConfig RunConfig,
	emit chan<- Event,
	resume <-chan struct{},
	sess *Session,
	sessionService SessionStore,
	artifactService ArtifactStore,
	memoryService MemoryStore,
	logger logging.Logger,
) *InvocationContext {
	return &InvocationContext{
		Context:          ctx,
		AppName:          appName,
		UserID:           userID,
		SessionID:        sessionID,
		InvocationID:     invocationID,
		Agent:            agent,
		UserContent:      userContent,
		RunConfig:        runConfig,
		Emit:             emit,
		Resume:           resume,
		Session:          sess,
		SessionService:   sessionService,
		ArtifactService:  artifactService,
		MemoryService:    memoryService,
		Limiter:          NewModelLimiter(runConfig.MaxModelCalls),
		StateDelta:       map[string]any{},
		Artifacts:        map[string]int{},
		InputAudioCache:  NewAudioCache(),
		OutputAudioCache: NewAudioCache(),
		loggerAdapter:    newLoggerAdapter(logger),
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (ic *InvocationContext) Done() <-chan struct{} { return ic.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (ic *InvocationContext) Err() error { return ic.Context.Err() }

// GetState returns a staged (delta) value if present, else the persisted session value.
func (ic *InvocationContext) GetState(k string) (any, bool) {
	if v, ok := ic.StateDelta[k]; ok {
		return v, true
	}

	if ic.Session != nil {
		return ic.Session.GetState(k)
	}

	return nil, false
}

// SetState stages a state mutation in the in-memory delta buffer.
func (ic *InvocationContext) SetState(k string, v any) { ic.StateDelta[k] = v }

// ApplyStateDelta merges all pairs from d into the staged StateDelta.
func (ic *InvocationContext) ApplyStateDelta(d map[string]any) {
	maps.Copy(ic.StateDelta, d)
}

// AddArtifact stages an artifact name and revision to be attached to the next
// emitted event's artifact delta.
func (ic *InvocationContext) AddArtifact(name string, revision int) {
	ic.Artifacts[name] = revision
}

// SaveArtifact stores a blob under this invocation's app/user/session scope
// and stages the resulting revision for the next emitted event.
func (ic *InvocationContext) SaveArtifact(filename string, data Blob) (int, error) {
	if ic.ArtifactService == nil {
		return 0, fmt.Errorf("artifact service not configured")
	}

	revision, err := ic.ArtifactService.Save(ic.AppName, ic.UserID, ic.SessionID, filename, data)
	if err != nil {
		return 0, err
	}

	ic.AddArtifact(filename, revision)

	return revision, nil
}

// GetArtifact retrieves the latest revision of a previously saved artifact.
func (ic *InvocationContext) GetArtifact(filename string) (Blob, error) {
	if ic.ArtifactService == nil {
		return Blob{}, fmt.Errorf("artifact service not configured")
	}

	return ic.ArtifactService.Get(ic.AppName, ic.UserID, ic.SessionID, filename)
}

// ListArtifacts returns artifact filenames stored for this scope.
func (ic *InvocationContext) ListArtifacts() ([]string, error) {
	if ic.ArtifactService == nil {
		return []string{}, nil
	}

	return ic.ArtifactService.List(ic.AppName, ic.UserID, ic.SessionID)
}

// SearchMemory queries the MemoryStore for relevant content.
func (ic *InvocationContext) SearchMemory(q string, limit int) ([]SearchResult, error) {
	if ic.MemoryService == nil {
		return []SearchResult{}, nil
	}

	return ic.MemoryService.Search(ic.SessionID, q, limit)
}

// StoreMemory appends content plus metadata to the MemoryStore.
func (ic *InvocationContext) StoreMemory(content string, md map[string]any) error {
	if ic.MemoryService == nil {
		return fmt.Errorf("memory service not configured")
	}
	return ic.MemoryService.Store(ic.SessionID, content, md)
}

// RefreshSession reloads the session snapshot from the SessionStore.
func (ic *InvocationContext) RefreshSession() error {
	if ic.SessionService == nil {
		return fmt.Errorf("session service not configured")
	}

	s, err := ic.SessionService.Get(ic.SessionID)
	if err != nil {
		return err
	}

	ic.Session = s

	return nil
}

// CommitStateDelta persists the accumulated StateDelta then clears the buffer.
func (ic *InvocationContext) CommitStateDelta() error {
	if len(ic.StateDelta) == 0 {
		return nil
	}

	if ic.SessionService == nil {
		return fmt.Errorf("session service not configured")
	}

	if err := ic.SessionService.ApplyDelta(ic.SessionID, ic.StateDelta); err != nil {
		return err
	}

	ic.StateDelta = map[string]any{}

	return nil
}

// GetSessionHistory returns all historical events for the session.
func (ic *InvocationContext) GetSessionHistory() []Event {
	if ic.Session == nil {
		return []Event{}
	}

	return ic.Session.GetEvents()
}

// GetAgentName returns the logical agent name for this invocation.
func (ic *InvocationContext) GetAgentName() string { return ic.Agent.Name }

// GetAgentType returns a categorization label for the agent.
func (ic *InvocationContext) GetAgentType() string { return ic.Agent.Type }

// Clone returns a shallow copy with deep-copied delta & artifact buffers. The
// live queue and audio caches are shared, not copied.
func (ic *InvocationContext) Clone() *InvocationContext {
	c := &InvocationContext{
		Context:          ic.Context,
		AppName:          ic.AppName,
		UserID:           ic.UserID,
		SessionID:        ic.SessionID,
		InvocationID:     ic.InvocationID,
		Agent:            ic.Agent,
		UserContent:      ic.UserContent,
		RunConfig:        ic.RunConfig,
		Emit:             ic.Emit,
		Resume:           ic.Resume,
		SessionService:   ic.SessionService,
		ArtifactService:  ic.ArtifactService,
		MemoryService:    ic.MemoryService,
		Limiter:          ic.Limiter,
		Session:          ic.Session,
		StateDelta:       map[string]any{},
		Artifacts:        map[string]int{},
		Branch:           ic.Branch,
		LiveRequestQueue: ic.LiveRequestQueue,
		InputAudioCache:  ic.InputAudioCache,
		OutputAudioCache: ic.OutputAudioCache,
		loggerAdapter:    ic.loggerAdapter,
	}

	maps.Copy(c.StateDelta, ic.StateDelta)

	for name, rev := range ic.Artifacts {
		c.Artifacts[name] = rev
	}

	return c
}

// WithBranch clones the context and sets the Branch label.
func (ic *InvocationContext) WithBranch(b string) *InvocationContext {
	c := ic.Clone()
	c.Branch = b
	return c
}

// NewChildContext derives a context for a nested / child execution path. It
// replaces the Emit & Resume channels, resets pending StateDelta & Artifacts
// buffers, and optionally sets a branch label if non-empty. Composite agents
// use it to intercept or isolate child output without mutating the parent's
// transient buffers.
func (ic *InvocationContext) NewChildContext(emit chan<- Event, resume <-chan struct{}, branch string) *InvocationContext {
	finalBranch := ic.Branch
	if branch != "" {
		finalBranch = branch
	}

	return &InvocationContext{
		Context:          ic.Context,
		AppName:          ic.AppName,
		UserID:           ic.UserID,
		SessionID:        ic.SessionID,
		InvocationID:     ic.InvocationID,
		Agent:            ic.Agent,
		UserContent:      ic.UserContent,
		RunConfig:        ic.RunConfig,
		Emit:             emit,
		Resume:           resume,
		SessionService:   ic.SessionService,
		ArtifactService:  ic.ArtifactService,
		MemoryService:    ic.MemoryService,
		Limiter:          ic.Limiter,
		Session:          ic.Session,
		StateDelta:       map[string]any{}, // fresh buffers
		Artifacts:        map[string]int{},
		Branch:           finalBranch,
		LiveRequestQueue: ic.LiveRequestQueue,
		InputAudioCache:  ic.InputAudioCache,
		OutputAudioCache: ic.OutputAudioCache,
		loggerAdapter:    ic.loggerAdapter,
	}
}

// EmitEvent merges pending StateDelta / Artifacts into the event and emits it.
// If the context is cancelled before emission the cancellation error is
// returned and the buffers stay staged.
func (ic *InvocationContext) EmitEvent(ev Event) error {
	if len(ic.StateDelta) > 0 {
		if ev.Actions.StateDelta == nil {
			ev.Actions.StateDelta = map[string]any{}
		}
		maps.Copy(ev.Actions.StateDelta, ic.StateDelta)
	}

	if len(ic.Artifacts) > 0 {
		if ev.Actions.ArtifactDelta == nil {
			ev.Actions.ArtifactDelta = map[string]int{}
		}
		for name, rev := range ic.Artifacts {
			ev.Actions.ArtifactDelta[name] = rev
		}
	}

	select {
	case <-ic.Context.Done():
		return ic.Context.Err()
	case ic.Emit <- ev:
	}

	ic.StateDelta = map[string]any{}
	ic.Artifacts = map[string]int{}

	return nil
}

// WaitForResume blocks until Resume signals or context cancellation.
func (ic *InvocationContext) WaitForResume() error {
	if ic.Resume == nil {
		return nil
	}

	select {
	case <-ic.Resume:
		return nil
	case <-ic.Context.Done():
		return ic.Context.Err()
	}
}
