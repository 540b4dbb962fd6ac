package agent

import (
	"errors"
	"testing"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/internal/testutil"
)

type mockProvider struct {
	text string
	err  error
}

func (m mockProvider) Instruction(*core.InvocationContext) (string, error) { return m.text, m.err }

func TestInstruction_Static(t *testing.T) {
	f := newAgentFixture(t, core.AgentInfo{Name: "TestAgent", Type: "test"})

	inst := NewInstructionFromText("static instruction")
	if !inst.IsStatic() {
		t.Fatalf("expected static instruction")
	}

	got, err := inst.Resolve(f.invCtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "static instruction" {
		t.Fatalf("expected 'static instruction', got %q", got)
	}
}

func TestInstruction_ZeroValue(t *testing.T) {
	f := newAgentFixture(t, core.AgentInfo{Name: "TestAgent", Type: "test"})

	var inst Instruction
	if !inst.IsStatic() {
		t.Fatalf("zero value must be static")
	}

	got, err := inst.Resolve(f.invCtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty instruction, got %q", got)
	}
}

func TestInstruction_NewInstructionFromFunc(t *testing.T) {
	f := newAgentFixture(t, core.AgentInfo{Name: "TestAgent", Type: "test"})

	inst := NewInstructionFromFunc(func(_ *core.InvocationContext) (string, error) { return "dynamic via func", nil })
	if inst.IsStatic() {
		t.Fatalf("expected dynamic instruction")
	}

	got, err := inst.Resolve(f.invCtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "dynamic via func" {
		t.Fatalf("expected 'dynamic via func', got %q", got)
	}
}

func TestInstruction_NewInstructionFromProvider(t *testing.T) {
	f := newAgentFixture(t, core.AgentInfo{Name: "TestAgent", Type: "test"})

	inst := NewInstructionFromProvider(mockProvider{text: "provider text"})
	if inst.IsStatic() {
		t.Fatalf("expected dynamic instruction")
	}

	got, err := inst.Resolve(f.invCtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "provider text" {
		t.Fatalf("expected 'provider text', got %q", got)
	}
}

func TestInstruction_StateAwareProvider(t *testing.T) {
	f := newAgentFixture(t, core.AgentInfo{Name: "TestAgent", Type: "test"})
	f.invCtx.Session = testutil.NewSessionBuilder("test-session").
		State("persona", "pirate").
		Build()

	inst := NewInstructionFromFunc(func(invCtx *core.InvocationContext) (string, error) {
		persona, _ := invCtx.GetState("persona")
		return "Speak like a " + persona.(string) + ".", nil
	})

	got, err := inst.Resolve(f.invCtx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Speak like a pirate." {
		t.Fatalf("expected persona instruction, got %q", got)
	}
}

func TestInstruction_ErrorPropagation(t *testing.T) {
	f := newAgentFixture(t, core.AgentInfo{Name: "TestAgent", Type: "test"})

	expectedErr := errors.New("boom")
	inst := NewInstructionFromProvider(mockProvider{err: expectedErr})

	_, err := inst.Resolve(f.invCtx)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !errors.Is(err, expectedErr) {
		t.Fatalf("expected error %v, got %v", expectedErr, err)
	}
}
