package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstream/agent"
	"github.com/hupe1980/agentstream/artifact"
	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/model"
	"github.com/hupe1980/agentstream/session"
)

// scriptedAgent runs caller-provided functions as its turn, emitting events
// through the invocation context the way real agents do.
type scriptedAgent struct {
	agent.BaseAgent

	mu     sync.Mutex
	runs   int
	runFn  func(invCtx *core.InvocationContext) error
	liveFn func(invCtx *core.InvocationContext) error
}

func newScriptedAgent(name string, runFn func(invCtx *core.InvocationContext) error) *scriptedAgent {
	return &scriptedAgent{BaseAgent: agent.NewBaseAgent(name), runFn: runFn}
}

func (a *scriptedAgent) Run(invCtx *core.InvocationContext) error {
	a.mu.Lock()
	a.runs++
	a.mu.Unlock()

	if a.runFn == nil {
		return nil
	}

	return a.runFn(invCtx)
}

func (a *scriptedAgent) RunLive(invCtx *core.InvocationContext) error {
	a.mu.Lock()
	a.runs++
	a.mu.Unlock()

	if a.liveFn == nil {
		return fmt.Errorf("agent %s does not support live streaming", a.Name())
	}

	return a.liveFn(invCtx)
}

func (a *scriptedAgent) runCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runs
}

// twoPhaseAgent emits a streaming fragment followed by a final response and
// then waits for the engine's resume signal.
func twoPhaseAgent(name, fragment, final string) *scriptedAgent {
	return newScriptedAgent(name, func(invCtx *core.InvocationContext) error {
		partialFlag := true
		partial := core.NewEvent(invCtx.InvocationID, name)
		partial.Partial = &partialFlag
		partial.Content = &core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: fragment}}}

		if err := invCtx.EmitEvent(partial); err != nil {
			return err
		}

		turnDone := true
		finalEv := core.NewEvent(invCtx.InvocationID, name)
		finalEv.TurnComplete = &turnDone
		finalEv.Content = &core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: final}}}

		if err := invCtx.EmitEvent(finalEv); err != nil {
			return err
		}

		return invCtx.WaitForResume()
	})
}

func userText(text string) core.Content {
	return core.Content{Role: "user", Parts: []core.Part{core.TextPart{Text: text}}}
}

// textOf concatenates the text parts of an event's content.
func textOf(ev core.Event) string {
	if ev.Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, p := range ev.Content.Parts {
		if tp, ok := p.(core.TextPart); ok {
			sb.WriteString(tp.Text)
		}
	}

	return sb.String()
}

// collect drains the events channel until it closes, then reads the terminal
// error (nil once the errors channel closes empty).
func collect(t *testing.T, eventsCh <-chan core.Event, errorsCh <-chan error) ([]core.Event, error) {
	t.Helper()

	var events []core.Event
	deadline := time.After(5 * time.Second)

	for {
		select {
		case ev, ok := <-eventsCh:
			if !ok {
				select {
				case err := <-errorsCh:
					return events, err
				case <-deadline:
					t.Fatal("timed out waiting for the errors channel")
					return events, nil
				}
			}
			events = append(events, ev)

		case <-deadline:
			t.Fatalf("timed out draining events (got %d)", len(events))
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	e := New()

	assert.Equal(t, "agentstream", e.appName)
	assert.Equal(t, DefaultConfig, e.config)
	assert.NotNil(t, e.sessionStore)
	assert.NotNil(t, e.artifactStore)
	assert.NotNil(t, e.memoryStore)
	assert.Nil(t, e.callbacks)

	// A blank app name falls back to the default scope.
	scoped := New(func(o *Options) { o.AppName = "" })
	assert.Equal(t, "agentstream", scoped.appName)
}

func TestEngine_RegisterAndLookup(t *testing.T) {
	e := New()

	_, ok := e.GetAgent("ghost")
	assert.False(t, ok)

	first := newScriptedAgent("Echo", nil)
	e.Register(first)

	got, ok := e.GetAgent("Echo")
	require.True(t, ok)
	assert.Same(t, first, got)

	// Re-registering the same name replaces the agent.
	second := newScriptedAgent("Echo", nil)
	second.SetDescription("replacement")
	e.Register(second)

	got, ok = e.GetAgent("Echo")
	require.True(t, ok)
	assert.Equal(t, "replacement", got.Description())
}

func TestEngine_Invoke_UnknownAgent(t *testing.T) {
	e := New()

	_, eventsCh, errorsCh, err := e.Invoke(context.Background(), "user-1", "sess-x", "ghost", userText("hi"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "agent ghost not found")
	assert.Nil(t, eventsCh)
	assert.Nil(t, errorsCh)

	// The agent lookup fails before any session is created.
	_, err = e.GetSession("sess-x")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestEngine_Invoke_StreamsAndPersists(t *testing.T) {
	e := New(func(o *Options) { o.AppName = "engine-test" })

	reporter := twoPhaseAgent("Reporter", "The weather", "The weather is sunny.")
	reporter.runFn = func(invCtx *core.InvocationContext) error {
		invCtx.SetState("mood", "sunny")
		return twoPhaseAgent("Reporter", "The weather", "The weather is sunny.").runFn(invCtx)
	}
	e.Register(reporter)

	_, err := e.GetSession("sess-1")
	assert.ErrorIs(t, err, session.ErrNotFound)

	id, eventsCh, errorsCh, err := e.Invoke(context.Background(), "user-1", "sess-1", "Reporter", userText("what's the weather?"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	events, runErr := collect(t, eventsCh, errorsCh)
	require.NoError(t, runErr)
	require.Len(t, events, 2)

	assert.True(t, events[0].IsPartial())
	assert.Equal(t, "The weather", textOf(events[0]))
	assert.False(t, events[1].IsPartial())
	assert.Equal(t, "The weather is sunny.", textOf(events[1]))

	sess, err := e.GetSession("sess-1")
	require.NoError(t, err)

	// The user event opens the history; the partial fragment is forwarded
	// but never persisted.
	history := sess.GetEvents()
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Author)
	assert.Equal(t, "what's the weather?", textOf(history[0]))
	assert.Equal(t, "Reporter", history[1].Author)
	assert.Equal(t, id, history[1].InvocationID)

	mood, ok := sess.GetState("mood")
	require.True(t, ok)
	assert.Equal(t, "sunny", mood)
}

func TestEngine_Invoke_ReusesExistingSession(t *testing.T) {
	e := New()

	greeter := newScriptedAgent("Greeter", func(invCtx *core.InvocationContext) error {
		turnDone := true
		ev := core.NewEvent(invCtx.InvocationID, "Greeter")
		ev.TurnComplete = &turnDone
		ev.Content = &core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: "hello"}}}
		return invCtx.EmitEvent(ev)
	})
	e.Register(greeter)

	for _, msg := range []string{"first turn", "second turn"} {
		_, eventsCh, errorsCh, err := e.Invoke(context.Background(), "user-1", "sess-reuse", "Greeter", userText(msg))
		require.NoError(t, err)

		_, runErr := collect(t, eventsCh, errorsCh)
		require.NoError(t, runErr)
	}

	sess, err := e.GetSession("sess-reuse")
	require.NoError(t, err)

	history := sess.GetEvents()
	require.Len(t, history, 4)
	assert.Equal(t, "first turn", textOf(history[0]))
	assert.Equal(t, "second turn", textOf(history[2]))
}

func TestEngine_Invoke_AgentFailure(t *testing.T) {
	boom := errors.New("model exploded")

	e := New()
	e.Register(newScriptedAgent("Faulty", func(*core.InvocationContext) error { return boom }))

	_, eventsCh, errorsCh, err := e.Invoke(context.Background(), "user-1", "sess-fail", "Faulty", userText("go"))
	require.NoError(t, err)

	events, runErr := collect(t, eventsCh, errorsCh)
	assert.Empty(t, events)
	require.Error(t, runErr)
	assert.ErrorIs(t, runErr, boom)
	assert.ErrorContains(t, runErr, "agent execution failed")
}

func TestEngine_InvokeSync(t *testing.T) {
	e := New()
	e.Register(twoPhaseAgent("Echo", "po", "pong"))

	id, events, err := e.InvokeSync(context.Background(), "user-1", "sess-sync", "Echo", userText("ping"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Synchronous collection includes partial events.
	require.Len(t, events, 2)
	assert.True(t, events[0].IsPartial())
	assert.Equal(t, "pong", textOf(events[1]))
}

func TestEngine_InvokeSync_PropagatesAgentError(t *testing.T) {
	boom := errors.New("model exploded")

	e := New()
	e.Register(newScriptedAgent("Faulty", func(*core.InvocationContext) error { return boom }))

	_, events, err := e.InvokeSync(context.Background(), "user-1", "sess-sync-fail", "Faulty", userText("go"))
	assert.Empty(t, events)
	assert.ErrorIs(t, err, boom)
}

func TestEngine_InvokeLive_RequiresQueue(t *testing.T) {
	e := New()
	e.Register(newScriptedAgent("Live", nil))

	_, _, _, err := e.InvokeLive(context.Background(), "user-1", "live-x", "Live", nil, core.DefaultRunConfig())
	require.Error(t, err)
	assert.ErrorContains(t, err, "live invocation requires a request queue")
}

func TestEngine_InvokeLive_WiresLiveContext(t *testing.T) {
	queue := core.NewLiveRequestQueue()

	var gotMode core.StreamingMode
	var gotQueue *core.LiveRequestQueue
	var upfrontEvents int

	probe := newScriptedAgent("Probe", nil)
	probe.liveFn = func(invCtx *core.InvocationContext) error {
		gotMode = invCtx.RunConfig.StreamingMode
		gotQueue = invCtx.LiveRequestQueue
		upfrontEvents = len(invCtx.GetSessionHistory())
		return nil
	}

	e := New()
	e.Register(probe)

	// The run config's streaming mode is forced to bidi regardless of input.
	id, eventsCh, errorsCh, err := e.InvokeLive(context.Background(), "user-1", "live-wire", "Probe", queue, core.DefaultRunConfig())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	events, runErr := collect(t, eventsCh, errorsCh)
	require.NoError(t, runErr)
	assert.Empty(t, events)

	assert.Equal(t, core.StreamingModeBidi, gotMode)
	assert.Same(t, queue, gotQueue)

	// Live invocations persist no opening user event.
	assert.Zero(t, upfrontEvents)

	sess, err := e.GetSession("live-wire")
	require.NoError(t, err)
	assert.Empty(t, sess.GetEvents())
}

func TestEngine_InvokeLive_ModelAudioTurn(t *testing.T) {
	turnDone := true

	live := model.NewMockLiveModel("live", "mock")
	live.ScriptResponse(
		model.LiveResponse{OutputTranscription: &core.Transcription{Text: "Good evening!", Finished: true}},
		model.LiveResponse{Partial: true, Content: &core.Content{
			Role:  "assistant",
			Parts: []core.Part{core.BlobPart{Blob: core.Blob{MimeType: "audio/pcm", Data: []byte{0x0A, 0x0B}}}},
		}},
		model.LiveResponse{TurnComplete: &turnDone},
	)
	live.CloseAfterScript()

	narrator := agent.NewModelAgent("Narrator", live, func(o *agent.ModelAgentOptions) {
		o.LiveFlow.RequestQueueTimeout = 20 * time.Millisecond
		o.LiveFlow.TaskCompletionDelay = 10 * time.Millisecond
		o.LiveFlow.TransferAgentDelay = 10 * time.Millisecond
	})

	artifacts := artifact.NewInMemoryStore()
	e := New(func(o *Options) {
		o.AppName = "engine-test"
		o.ArtifactStore = artifacts
	})
	e.Register(narrator)

	queue := core.NewLiveRequestQueue()
	_, eventsCh, errorsCh, err := e.InvokeLive(context.Background(), "user-1", "live-1", "Narrator", queue, core.DefaultRunConfig())
	require.NoError(t, err)

	events, runErr := collect(t, eventsCh, errorsCh)
	require.NoError(t, runErr)

	var audioPartials, boundaries int
	for _, ev := range events {
		if ev.ErrorMessage != nil {
			t.Errorf("unexpected error event: %s", *ev.ErrorMessage)
		}
		if len(ev.GetAudioBlobs()) > 0 && ev.IsPartial() {
			audioPartials++
		}
		if ev.TurnComplete != nil && *ev.TurnComplete && !ev.IsPartial() {
			boundaries++
		}
	}
	assert.Equal(t, 1, audioPartials)
	assert.Equal(t, 1, boundaries)

	// No opening user event in live mode; everything persisted belongs to
	// the agent side of the conversation.
	sess, err := e.GetSession("live-1")
	require.NoError(t, err)

	history := sess.GetEvents()
	require.NotEmpty(t, history)
	for _, ev := range history {
		assert.NotEqual(t, "user", ev.Author)
	}

	// The turn boundary flushed the cached model audio to artifact storage.
	names, err := artifacts.List("engine-test", "user-1", "live-1")
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.True(t, strings.HasPrefix(names[0], "output_audio_"), "artifact name %q", names[0])
	assert.True(t, strings.HasSuffix(names[0], ".pcm"), "artifact name %q", names[0])

	conn := live.LastConnection()
	require.NotNil(t, conn)
	assert.True(t, conn.IsClosed())
}

func TestEngine_StopInvocation_UnknownID(t *testing.T) {
	e := New()

	err := e.StopInvocation("ghost")
	require.Error(t, err)
	assert.ErrorContains(t, err, "not found")
}

func TestEngine_StopInvocation_CancelsRunningAgent(t *testing.T) {
	started := make(chan struct{})

	blocker := newScriptedAgent("Blocker", func(invCtx *core.InvocationContext) error {
		close(started)
		<-invCtx.Done()
		return invCtx.Err()
	})

	e := New()
	e.Register(blocker)

	id, eventsCh, errorsCh, err := e.Invoke(context.Background(), "user-1", "sess-stop", "Blocker", userText("wait"))
	require.NoError(t, err)

	<-started
	require.NoError(t, e.StopInvocation(id))

	events, runErr := collect(t, eventsCh, errorsCh)
	assert.Empty(t, events)
	assert.ErrorIs(t, runErr, context.Canceled)

	// Once the agent goroutine unwinds, the invocation is gone.
	assert.Eventually(t, func() bool {
		return e.StopInvocation(id) != nil
	}, time.Second, 10*time.Millisecond)
}

func TestEngine_BeforeAgentCallbackRejects(t *testing.T) {
	manager := NewCallbackManager()
	manager.RegisterCallback(NewFunctionCallback(CallbackBeforeAgent, func(context.Context, *CallbackContext) error {
		return errors.New("blocked by policy")
	}))

	e := New(func(o *Options) { o.Callbacks = manager })

	guarded := newScriptedAgent("Guarded", nil)
	e.Register(guarded)

	_, eventsCh, errorsCh, err := e.Invoke(context.Background(), "user-1", "sess-guard", "Guarded", userText("hi"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "before agent callback rejected invocation")
	assert.ErrorContains(t, err, "blocked by policy")
	assert.Nil(t, eventsCh)
	assert.Nil(t, errorsCh)

	assert.Zero(t, guarded.runCount())
}

func TestEngine_StateChangeCallbackRejects(t *testing.T) {
	manager := NewCallbackManager()
	manager.RegisterCallback(NewStateValidationCallback(func(delta map[string]interface{}) error {
		if _, ok := delta["forbidden"]; ok {
			return errors.New("forbidden key")
		}
		return nil
	}))

	e := New(func(o *Options) { o.Callbacks = manager })

	writer := newScriptedAgent("Writer", func(invCtx *core.InvocationContext) error {
		invCtx.SetState("forbidden", true)

		turnDone := true
		ev := core.NewEvent(invCtx.InvocationID, "Writer")
		ev.TurnComplete = &turnDone
		return invCtx.EmitEvent(ev)
	})
	e.Register(writer)

	_, eventsCh, errorsCh, err := e.Invoke(context.Background(), "user-1", "sess-veto", "Writer", userText("write"))
	require.NoError(t, err)

	events, runErr := collect(t, eventsCh, errorsCh)
	assert.Empty(t, events)
	require.Error(t, runErr)
	assert.ErrorContains(t, runErr, "state change rejected")

	// The rejected event is neither persisted nor applied.
	sess, err := e.GetSession("sess-veto")
	require.NoError(t, err)
	assert.Len(t, sess.GetEvents(), 1)

	_, ok := sess.GetState("forbidden")
	assert.False(t, ok)
}

// callbackRecorder registers for multiple lifecycle points and records the
// order they fire in.
type callbackRecorder struct {
	mu   sync.Mutex
	seen []CallbackType
	meta []map[string]interface{}
}

func (r *callbackRecorder) hook(ct CallbackType) *FunctionCallback {
	return NewFunctionCallback(ct, func(_ context.Context, cc *CallbackContext) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.seen = append(r.seen, cc.CallbackType)
		r.meta = append(r.meta, cc.Metadata)
		return nil
	})
}

func (r *callbackRecorder) sequence() []CallbackType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CallbackType(nil), r.seen...)
}

func TestEngine_LifecycleCallbacksFire(t *testing.T) {
	t.Run("agent failure", func(t *testing.T) {
		rec := &callbackRecorder{}

		manager := NewCallbackManager()
		manager.RegisterCallback(rec.hook(CallbackBeforeAgent))
		manager.RegisterCallback(rec.hook(CallbackOnError))
		manager.RegisterCallback(rec.hook(CallbackAfterAgent))

		e := New(func(o *Options) { o.Callbacks = manager })
		e.Register(newScriptedAgent("Faulty", func(*core.InvocationContext) error {
			return errors.New("model exploded")
		}))

		_, eventsCh, errorsCh, err := e.Invoke(context.Background(), "user-1", "sess-cb-fail", "Faulty", userText("go"))
		require.NoError(t, err)

		_, runErr := collect(t, eventsCh, errorsCh)
		require.Error(t, runErr)

		require.Equal(t, []CallbackType{CallbackBeforeAgent, CallbackOnError, CallbackAfterAgent}, rec.sequence())

		// The failure reason rides along in the on_error metadata.
		msg, _ := rec.meta[1]["error"].(string)
		assert.Contains(t, msg, "model exploded")
	})

	t.Run("agent success", func(t *testing.T) {
		rec := &callbackRecorder{}

		manager := NewCallbackManager()
		manager.RegisterCallback(rec.hook(CallbackBeforeAgent))
		manager.RegisterCallback(rec.hook(CallbackOnError))
		manager.RegisterCallback(rec.hook(CallbackAfterAgent))

		e := New(func(o *Options) { o.Callbacks = manager })
		e.Register(newScriptedAgent("Quiet", nil))

		_, eventsCh, errorsCh, err := e.Invoke(context.Background(), "user-1", "sess-cb-ok", "Quiet", userText("go"))
		require.NoError(t, err)

		_, runErr := collect(t, eventsCh, errorsCh)
		require.NoError(t, runErr)

		assert.Equal(t, []CallbackType{CallbackBeforeAgent, CallbackAfterAgent}, rec.sequence())
	})
}
