package model

import (
	"context"
	"sync"

	"github.com/hupe1980/agentstream/core"
)

// ControlSignal classifies the turn-control flags a live response can carry.
// The empty value means the response carries no control flag.
type ControlSignal string

const (
	// ControlSignalNone marks a response without control flags.
	ControlSignalNone ControlSignal = ""
	// ControlSignalInterrupted reports the user barged in over model output.
	ControlSignalInterrupted ControlSignal = "interrupted"
	// ControlSignalTurnComplete reports the model finished its whole turn.
	ControlSignalTurnComplete ControlSignal = "turn_complete"
	// ControlSignalGenerationComplete reports one generation finished while
	// the turn may continue.
	ControlSignalGenerationComplete ControlSignal = "generation_complete"
)

// LiveResponse is one frame of model → client traffic during a live session.
// All fields are optional; a frame may carry content, transcriptions, control
// flags, usage, or an error, in any combination the provider produces.
type LiveResponse struct {
	// Content holds text, audio blobs or function calls for this frame.
	Content *core.Content `json:"content,omitempty"`

	// Partial marks streaming fragments that later frames supersede.
	Partial bool `json:"partial,omitempty"`

	// InputTranscription / OutputTranscription carry speech-to-text of user
	// and model audio respectively.
	InputTranscription  *core.Transcription `json:"input_transcription,omitempty"`
	OutputTranscription *core.Transcription `json:"output_transcription,omitempty"`

	// Control flags. At most one is acted on per frame; see ControlSignal.
	Interrupted        *bool `json:"interrupted,omitempty"`
	TurnComplete       *bool `json:"turn_complete,omitempty"`
	GenerationComplete *bool `json:"generation_complete,omitempty"`

	// Usage reports token accounting when the provider includes it.
	Usage *TokenUsage `json:"usage,omitempty"`

	// ErrorCode / ErrorMessage surface provider-reported frame errors.
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ControlSignal maps the response's control flags to a single signal using a
// fixed priority: interrupted beats turn_complete beats generation_complete.
// Frames without flags map to ControlSignalNone.
func (r LiveResponse) ControlSignal() ControlSignal {
	switch {
	case r.Interrupted != nil && *r.Interrupted:
		return ControlSignalInterrupted
	case r.TurnComplete != nil && *r.TurnComplete:
		return ControlSignalTurnComplete
	case r.GenerationComplete != nil && *r.GenerationComplete:
		return ControlSignalGenerationComplete
	default:
		return ControlSignalNone
	}
}

// Connection is an open live session with a model provider. Implementations
// wrap the provider's realtime wire protocol; this package only defines the
// transport-agnostic surface the flow layer drives.
//
// Close must be safe to call more than once and from a different goroutine
// than the senders.
type Connection interface {
	// SendContent forwards structured conversation content mid-session.
	SendContent(ctx context.Context, c core.Content) error

	// SendRealtime forwards a raw realtime blob (e.g. microphone audio).
	SendRealtime(ctx context.Context, b core.Blob) error

	// SendActivityStart / SendActivityEnd forward explicit activity signals
	// for providers with manual (non-VAD) activity detection.
	SendActivityStart(ctx context.Context) error
	SendActivityEnd(ctx context.Context) error

	// Receive returns the model's response stream plus a terminal error
	// channel. The response channel closes when the session ends.
	Receive(ctx context.Context) (<-chan LiveResponse, <-chan error)

	// Close terminates the session.
	Close() error
}

// LiveModel is a Model that can additionally hold bidirectional streaming
// sessions. The setup Request carries instructions, history and tools.
type LiveModel interface {
	Model

	// Connect opens a live session configured by req.
	Connect(ctx context.Context, req Request) (Connection, error)
}

// MockLiveModel is an in-memory LiveModel for tests & examples. Scripted
// responses are replayed to every connection in order.
type MockLiveModel struct {
	*MockModel

	mu               sync.Mutex
	scripted         []LiveResponse
	scriptErr        error
	closeAfterScript bool
	conns            []*MockConnection
}

// NewMockLiveModel constructs a MockLiveModel.
func NewMockLiveModel(name, provider string) *MockLiveModel {
	return &MockLiveModel{MockModel: NewMockModel(name, provider)}
}

// ScriptResponse appends frames replayed to each future connection.
func (m *MockLiveModel) ScriptResponse(rs ...LiveResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted = append(m.scripted, rs...)
}

// ScriptError makes connections fail with err after the scripted frames.
func (m *MockLiveModel) ScriptError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scriptErr = err
}

// CloseAfterScript makes connections end their response stream once all
// scripted frames are delivered, modelling a server-side session end.
func (m *MockLiveModel) CloseAfterScript() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeAfterScript = true
}

// Connect implements LiveModel.
func (m *MockLiveModel) Connect(ctx context.Context, req Request) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn := &MockConnection{
		SetupRequest:     req,
		scripted:         append([]LiveResponse(nil), m.scripted...),
		scriptErr:        m.scriptErr,
		closeAfterScript: m.closeAfterScript,
		closed:           make(chan struct{}),
	}
	m.conns = append(m.conns, conn)
	return conn, nil
}

// LastConnection returns the most recently opened connection, or nil.
func (m *MockLiveModel) LastConnection() *MockConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.conns) == 0 {
		return nil
	}
	return m.conns[len(m.conns)-1]
}

// MockConnection records everything sent through it and replays scripted
// frames on Receive.
type MockConnection struct {
	SetupRequest Request

	mu             sync.Mutex
	sentContents   []core.Content
	sentRealtime   []core.Blob
	activityStarts int
	activityEnds   int

	scripted         []LiveResponse
	scriptErr        error
	closeAfterScript bool

	closeOnce sync.Once
	closed    chan struct{}
}

// SendContent implements Connection.
func (c *MockConnection) SendContent(ctx context.Context, content core.Content) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentContents = append(c.sentContents, content)
	return nil
}

// SendRealtime implements Connection.
func (c *MockConnection) SendRealtime(ctx context.Context, b core.Blob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentRealtime = append(c.sentRealtime, b)
	return nil
}

// SendActivityStart implements Connection.
func (c *MockConnection) SendActivityStart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activityStarts++
	return nil
}

// SendActivityEnd implements Connection.
func (c *MockConnection) SendActivityEnd(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activityEnds++
	return nil
}

// Receive implements Connection. Scripted frames are emitted in order; the
// stream then ends (closeAfterScript), fails (scriptErr) or stays open until
// Close or ctx cancellation.
func (c *MockConnection) Receive(ctx context.Context) (<-chan LiveResponse, <-chan error) {
	respCh := make(chan LiveResponse)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)
		for _, r := range c.scripted {
			select {
			case <-ctx.Done():
				return
			case <-c.closed:
				return
			case respCh <- r:
			}
		}
		if c.scriptErr != nil {
			errCh <- c.scriptErr
			return
		}
		if c.closeAfterScript {
			return
		}
		select {
		case <-ctx.Done():
		case <-c.closed:
		}
	}()

	return respCh, errCh
}

// Close implements Connection; it is idempotent.
func (c *MockConnection) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// IsClosed reports whether Close has been called.
func (c *MockConnection) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// SentContents returns a copy of the structured contents sent so far.
func (c *MockConnection) SentContents() []core.Content {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Content(nil), c.sentContents...)
}

// SentRealtime returns a copy of the realtime blobs sent so far.
func (c *MockConnection) SentRealtime() []core.Blob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Blob(nil), c.sentRealtime...)
}

// ActivityCounts returns how many start / end activity signals were sent.
func (c *MockConnection) ActivityCounts() (starts, ends int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activityStarts, c.activityEnds
}
