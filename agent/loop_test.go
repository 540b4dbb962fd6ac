package agent

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hupe1980/agentstream/core"
)

// chattyChild emits one assistant event per run and escalates on a configured
// iteration (0 disables escalation).
type chattyChild struct {
	BaseAgent
	runs       int
	escalateOn int
}

func newChattyChild(name string, escalateOn int) *chattyChild {
	return &chattyChild{BaseAgent: NewBaseAgent(name), escalateOn: escalateOn}
}

func (a *chattyChild) Run(invCtx *core.InvocationContext) error {
	a.runs++

	ev := core.NewEvent(invCtx.InvocationID, a.Name())
	ev.Content = &core.Content{
		Role:  "assistant",
		Parts: []core.Part{core.TextPart{Text: fmt.Sprintf("iteration %d", a.runs)}},
	}

	if a.escalateOn > 0 && a.runs >= a.escalateOn {
		escalate := true
		ev.Actions.Escalate = &escalate
	}

	if err := invCtx.EmitEvent(ev); err != nil {
		return err
	}

	return invCtx.WaitForResume()
}

func (a *chattyChild) RunLive(_ *core.InvocationContext) error {
	return fmt.Errorf("agent %s does not support live streaming", a.Name())
}

func TestLoopAgent_EscalationHandling(t *testing.T) {
	tests := []struct {
		name           string
		escalateOn     int
		maxIters       int
		expectedRuns   int
		shouldEscalate bool
	}{
		{
			name:           "escalates on iteration 2",
			escalateOn:     2,
			maxIters:       5,
			expectedRuns:   2,
			shouldEscalate: true,
		},
		{
			name:         "never escalates, completes all iterations",
			escalateOn:   0,
			maxIters:     3,
			expectedRuns: 3,
		},
		{
			name:           "escalates immediately",
			escalateOn:     1,
			maxIters:       5,
			expectedRuns:   1,
			shouldEscalate: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			child := newChattyChild("worker", tt.escalateOn)
			loop := NewLoopAgent("looper", child, WithMaxIters(tt.maxIters))

			f := newAgentFixture(t, core.AgentInfo{Name: "looper", Type: "loop"})

			if err := loop.Run(f.invCtx); err != nil {
				t.Fatalf("loop run: %v", err)
			}

			if child.runs != tt.expectedRuns {
				t.Errorf("child ran %d times, want %d", child.runs, tt.expectedRuns)
			}

			events := f.emitted()
			if len(events) != tt.expectedRuns {
				t.Fatalf("forwarded %d events, want %d", len(events), tt.expectedRuns)
			}

			if tt.shouldEscalate {
				last := events[len(events)-1]
				if last.Actions.Escalate == nil || !*last.Actions.Escalate {
					t.Error("last forwarded event must carry the escalation flag")
				}
			}
		})
	}
}

func TestLoopAgent_PredicateStopsLoop(t *testing.T) {
	child := newChattyChild("worker", 0)
	loop := NewLoopAgent("looper", child,
		WithMaxIters(10),
		WithPredicate(func(output string) bool {
			return strings.Contains(output, "iteration 2")
		}),
	)

	f := newAgentFixture(t, core.AgentInfo{Name: "looper", Type: "loop"})

	if err := loop.Run(f.invCtx); err != nil {
		t.Fatalf("loop run: %v", err)
	}

	if child.runs != 2 {
		t.Errorf("child ran %d times, want 2", child.runs)
	}
}

func TestLoopAgent_StopsOnChildError(t *testing.T) {
	boom := errors.New("boom")
	child := newTestChildAgent("worker", func(invCtx *core.InvocationContext) error {
		return boom
	})

	loop := NewLoopAgent("looper", child, WithMaxIters(5))
	f := newAgentFixture(t, core.AgentInfo{Name: "looper", Type: "loop"})

	err := loop.Run(f.invCtx)
	if err == nil {
		t.Fatal("expected the loop to stop on the child error")
	}
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped boom", err)
	}
	if got := child.runCount(); got != 1 {
		t.Errorf("child ran %d times, want 1", got)
	}
}

func TestLoopAgent_RunLiveUnsupported(t *testing.T) {
	loop := NewLoopAgent("looper", newChattyChild("worker", 0))
	f := newAgentFixture(t, core.AgentInfo{Name: "looper", Type: "loop"})

	if err := loop.RunLive(f.invCtx); err == nil {
		t.Fatal("expected live streaming to be unsupported")
	}
}

func TestCreateEscalationEvent(t *testing.T) {
	content := &core.Content{
		Role:  "assistant",
		Parts: []core.Part{core.TextPart{Text: "Cannot complete task, escalating"}},
	}

	event := CreateEscalationEvent("inv-123", "worker", content)

	if event.InvocationID != "inv-123" {
		t.Errorf("invocation ID = %q", event.InvocationID)
	}
	if event.Author != "worker" {
		t.Errorf("author = %q", event.Author)
	}
	if event.Actions.Escalate == nil || !*event.Actions.Escalate {
		t.Error("escalation flag must be set")
	}
	if event.Content != content {
		t.Error("content must be attached unchanged")
	}
	if event.ID == "" {
		t.Error("event must have a generated ID")
	}
	if event.Timestamp.IsZero() {
		t.Error("event must have a timestamp")
	}
}
