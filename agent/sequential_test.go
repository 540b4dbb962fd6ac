package agent

import (
	"testing"

	"github.com/hupe1980/agentstream/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestNewSequentialAgent(t *testing.T) {
	child1 := NewMockAgent("Child 1")
	child2 := NewMockAgent("Child 2")

	agent := NewSequentialAgent("Sequential Agent", child1, child2)

	assert.NotNil(t, agent)
	assert.Equal(t, "Sequential Agent", agent.Name())
	assert.Len(t, agent.children, 2)
	assert.Equal(t, child1, agent.children[0])
	assert.Equal(t, child2, agent.children[1])
}

func TestSequentialAgent_Run_Success(t *testing.T) {
	child1 := NewMockAgent("Child 1")
	child2 := NewMockAgent("Child 2")
	child3 := NewMockAgent("Child 3")

	agent := NewSequentialAgent("Sequential Agent", child1, child2, child3)
	f := newAgentFixture(t, core.AgentInfo{Name: "Sequential Agent", Type: "sequential"})

	child1.On("Run", f.invCtx).Return(nil)
	child2.On("Run", f.invCtx).Return(nil)
	child3.On("Run", f.invCtx).Return(nil)

	err := agent.Run(f.invCtx)

	assert.NoError(t, err)
	child1.AssertExpectations(t)
	child2.AssertExpectations(t)
	child3.AssertExpectations(t)
}

func TestSequentialAgent_Run_FirstChildError(t *testing.T) {
	child1 := NewMockAgent("Child 1")
	child2 := NewMockAgent("Child 2")

	agent := NewSequentialAgent("Sequential Agent", child1, child2)
	f := newAgentFixture(t, core.AgentInfo{Name: "Sequential Agent", Type: "sequential"})

	expectedErr := assert.AnError
	child1.On("Run", f.invCtx).Return(expectedErr)

	err := agent.Run(f.invCtx)

	assert.Error(t, err)
	assert.ErrorIs(t, err, expectedErr)
	assert.Contains(t, err.Error(), "Child 1")
	child1.AssertExpectations(t)
	child2.AssertNotCalled(t, "Run", mock.Anything)
}

func TestSequentialAgent_Run_NoChildren(t *testing.T) {
	agent := NewSequentialAgent("Sequential Agent")
	f := newAgentFixture(t, core.AgentInfo{Name: "Sequential Agent", Type: "sequential"})

	assert.NoError(t, agent.Run(f.invCtx))
}

func TestSequentialAgent_ContextPropagation(t *testing.T) {
	child1 := NewMockAgent("Child 1")
	child2 := NewMockAgent("Child 2")

	agent := NewSequentialAgent("Sequential Agent", child1, child2)
	f := newAgentFixture(t, core.AgentInfo{Name: "Sequential Agent", Type: "sequential"})

	// Both children must receive the exact same context so session state
	// accumulates across steps.
	child1.On("Run", mock.MatchedBy(func(ctx *core.InvocationContext) bool {
		return ctx == f.invCtx
	})).Return(nil)

	child2.On("Run", mock.MatchedBy(func(ctx *core.InvocationContext) bool {
		return ctx == f.invCtx
	})).Return(nil)

	err := agent.Run(f.invCtx)

	assert.NoError(t, err)
	child1.AssertExpectations(t)
	child2.AssertExpectations(t)
}

func TestSequentialAgent_RunLiveUnsupported(t *testing.T) {
	agent := NewSequentialAgent("Sequential Agent")
	f := newAgentFixture(t, core.AgentInfo{Name: "Sequential Agent", Type: "sequential"})

	assert.Error(t, agent.RunLive(f.invCtx))
}

func TestSequentialAgent_StatePropagation(t *testing.T) {
	first := newTestChildAgent("Writer", func(ctx *core.InvocationContext) error {
		ctx.SetState("handoff", "from writer")
		return nil
	})

	var observed any
	second := newTestChildAgent("Reader", func(ctx *core.InvocationContext) error {
		observed, _ = ctx.GetState("handoff")
		return nil
	})

	agent := NewSequentialAgent("Sequential Agent", first, second)
	f := newAgentFixture(t, core.AgentInfo{Name: "Sequential Agent", Type: "sequential"})

	assert.NoError(t, agent.Run(f.invCtx))
	assert.Equal(t, "from writer", observed)
}
