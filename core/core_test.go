package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type testLogger struct{}

func (l testLogger) Debug(string, ...interface{}) {}
func (l testLogger) Info(string, ...interface{})  {}
func (l testLogger) Warn(string, ...interface{})  {}
func (l testLogger) Error(string, ...interface{}) {}
func (l testLogger) Fatal(string, ...interface{}) {}

type icMockSessionService struct {
	mu       sync.Mutex
	sessions map[string]*Session
	applied  map[string]map[string]interface{}
}

func newICMockSessionService() *icMockSessionService {
	return &icMockSessionService{sessions: map[string]*Session{}}
}

func (s *icMockSessionService) Create(appName, userID, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := NewSession(appName, userID, id)
	s.sessions[id] = sess
	return sess.Clone(), nil
}

func (s *icMockSessionService) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	return sess.Clone(), nil
}

func (s *icMockSessionService) AppendEvent(id string, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	sess.AddEvent(ev)
	return nil
}

func (s *icMockSessionService) ApplyDelta(id string, delta map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applied == nil {
		s.applied = map[string]map[string]interface{}{}
	}
	cp := map[string]interface{}{}
	for k, v := range delta {
		cp[k] = v
	}
	s.applied[id] = cp
	if sess, ok := s.sessions[id]; ok {
		sess.ApplyStateDelta(delta)
	}
	return nil
}

type icMockArtifactService struct {
	mu    sync.Mutex
	saved map[string]map[string][]Blob
}

func (a *icMockArtifactService) key(app, user, session string) string {
	return app + "/" + user + "/" + session
}

func (a *icMockArtifactService) Save(app, user, session, filename string, data Blob) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.saved == nil {
		a.saved = map[string]map[string][]Blob{}
	}
	k := a.key(app, user, session)
	if _, ok := a.saved[k]; !ok {
		a.saved[k] = map[string][]Blob{}
	}
	a.saved[k][filename] = append(a.saved[k][filename], data)
	return len(a.saved[k][filename]) - 1, nil
}

func (a *icMockArtifactService) Get(app, user, session, filename string) (Blob, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	revs := a.saved[a.key(app, user, session)][filename]
	if len(revs) == 0 {
		return Blob{}, fmt.Errorf("artifact not found: %s", filename)
	}
	return revs[len(revs)-1], nil
}

func (a *icMockArtifactService) GetVersion(app, user, session, filename string, version int) (Blob, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	revs := a.saved[a.key(app, user, session)][filename]
	if version < 0 || version >= len(revs) {
		return Blob{}, fmt.Errorf("artifact revision not found: %s#%d", filename, version)
	}
	return revs[version], nil
}

func (a *icMockArtifactService) List(app, user, session string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := []string{}
	for name := range a.saved[a.key(app, user, session)] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (a *icMockArtifactService) ListVersions(app, user, session, filename string) ([]int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	revs := a.saved[a.key(app, user, session)][filename]
	out := make([]int, len(revs))
	for i := range revs {
		out[i] = i
	}
	return out, nil
}

func (a *icMockArtifactService) Delete(app, user, session, filename string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.saved[a.key(app, user, session)]; ok {
		delete(m, filename)
	}
	return nil
}

type icMockMemoryService struct{}

func (m *icMockMemoryService) Get(sessionID string) (map[string]any, error) {
	return map[string]any{}, nil
}
func (m *icMockMemoryService) Put(sessionID string, delta map[string]any) error { return nil }
func (m *icMockMemoryService) Search(sid, q string, limit int) ([]SearchResult, error) {
	return []SearchResult{{ID: "test-memory", Content: "Test memory content", Score: 0.9, Metadata: map[string]any{"test": true}}}, nil
}
func (m *icMockMemoryService) Store(sid, content string, metadata map[string]interface{}) error {
	return nil
}
func (m *icMockMemoryService) Delete(sid, memoryID string) error { return nil }

func newInvocationContextForTest() (*InvocationContext, chan Event) {
	emit := make(chan Event, 5)
	resume := make(chan struct{}, 5)
	sSvc := newICMockSessionService()
	aSvc := &icMockArtifactService{}
	mSvc := &icMockMemoryService{}
	sess, _ := sSvc.Create("test-app", "test-user", "sess-x")
	ic := NewInvocationContext(
		context.Background(),
		"test-app", "test-user",
		"sess-x", "inv-x",
		AgentInfo{Name: "Agent1", Type: "test"},
		Content{},
		DefaultRunConfig(),
		emit, resume,
		sess,
		sSvc, aSvc, mSvc,
		testLogger{},
	)
	return ic, emit
}
