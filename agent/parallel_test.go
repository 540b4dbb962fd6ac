package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/agentstream/core"
	"github.com/stretchr/testify/assert"
)

func TestNewParallelAgent(t *testing.T) {
	c1 := newTestChildAgent("Child1", nil)
	c2 := newTestChildAgent("Child2", nil)

	p := NewParallelAgent("ParallelAgent", 0, c1, c2)
	assert.Equal(t, "ParallelAgent", p.Name())
	assert.Len(t, p.children, 2)
	assert.Same(t, c1, p.children[0])
	assert.Same(t, c2, p.children[1])
}

func TestParallelAgent_Run_Success(t *testing.T) {
	var mu sync.Mutex
	branches := map[string]string{}

	mkChild := func(name string) *testChildAgent {
		return newTestChildAgent(name, func(ctx *core.InvocationContext) error {
			mu.Lock()
			branches[name] = ctx.Branch
			mu.Unlock()
			return nil
		})
	}

	c1 := mkChild("Child1")
	c2 := mkChild("Child2")
	c3 := mkChild("Child3")

	p := NewParallelAgent("ParallelAgent", 0, c1, c2, c3)
	f := newAgentFixture(t, core.AgentInfo{Name: "ParallelAgent", Type: "parallel"})

	err := p.Run(f.invCtx)
	assert.NoError(t, err)

	// All children executed with isolated cloned contexts.
	assert.Len(t, branches, 3)

	// Each branch carries the hierarchical naming pattern Parent.Child.
	for _, child := range []*testChildAgent{c1, c2, c3} {
		got := child.lastCtx()
		assert.NotNil(t, got)
		assert.Truef(t, strings.HasSuffix(got.Branch, "ParallelAgent."+child.Name()), "branch %s has correct suffix", got.Branch)
	}

	// The parent context branch stays untouched.
	assert.Equal(t, "", f.invCtx.Branch)
}

func TestParallelAgent_Run_ErrorAggregation(t *testing.T) {
	sentinel := errors.New("boom")

	c1 := newTestChildAgent("Child1", nil)
	c2 := newTestChildAgent("Child2", func(_ *core.InvocationContext) error { return sentinel })
	c3 := newTestChildAgent("Child3", nil)

	p := NewParallelAgent("ParallelAgent", 0, c1, c2, c3)
	f := newAgentFixture(t, core.AgentInfo{Name: "ParallelAgent", Type: "parallel"})

	err := p.Run(f.invCtx)
	assert.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "agent Child2")

	// Siblings keep running even when one fails; the error surfaces after all
	// complete.
	assert.NotNil(t, c1.lastCtx())
	assert.NotNil(t, c2.lastCtx())
	assert.NotNil(t, c3.lastCtx())
}

func TestParallelAgent_Run_Timeout(t *testing.T) {
	slow := newTestChildAgent("Slow", func(ctx *core.InvocationContext) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})

	p := NewParallelAgent("ParallelAgent", 30*time.Millisecond, slow)
	f := newAgentFixture(t, core.AgentInfo{Name: "ParallelAgent", Type: "parallel"})

	err := p.Run(f.invCtx)
	assert.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParallelAgent_Run_NoChildren(t *testing.T) {
	p := NewParallelAgent("ParallelAgent", 0)
	f := newAgentFixture(t, core.AgentInfo{Name: "ParallelAgent", Type: "parallel"})

	assert.NoError(t, p.Run(f.invCtx))
}

func TestParallelAgent_RunLiveUnsupported(t *testing.T) {
	p := NewParallelAgent("ParallelAgent", 0)
	f := newAgentFixture(t, core.AgentInfo{Name: "ParallelAgent", Type: "parallel"})

	assert.Error(t, p.RunLive(f.invCtx))
}

func TestBaseAgent_SetSubAgentsAndFind(t *testing.T) {
	root := newTestChildAgent("Root", nil)
	c1 := newTestChildAgent("Child1", nil)
	c2 := newTestChildAgent("Child2", nil)

	err := root.SetSubAgents(c1, c2)
	assert.NoError(t, err)
	assert.Len(t, root.SubAgents(), 2)

	assert.NotNil(t, c1.Parent())
	assert.Equal(t, root.Name(), c1.Parent().Name())
	assert.NotNil(t, c2.Parent())

	foundChild := root.FindAgent("Child1")
	assert.NotNil(t, foundChild)
	assert.Equal(t, c1.Name(), foundChild.Name())

	foundRoot := root.FindAgent("Root")
	assert.NotNil(t, foundRoot)
	assert.Equal(t, root.Name(), foundRoot.Name())

	assert.Nil(t, root.FindAgent("Missing"))
}

func TestBaseAgent_SetSubAgents_ReassignClearsOldParents(t *testing.T) {
	root := newTestChildAgent("Root", nil)
	c1 := newTestChildAgent("Child1", nil)
	c2 := newTestChildAgent("Child2", nil)
	c3 := newTestChildAgent("Child3", nil)

	assert.NoError(t, root.SetSubAgents(c1, c2))
	assert.NoError(t, root.SetSubAgents(c3)) // reassign

	assert.Nil(t, c1.Parent())
	assert.Nil(t, c2.Parent())

	assert.Equal(t, root.Name(), c3.Parent().Name())

	assert.Nil(t, root.FindAgent("Child1"))
	assert.NotNil(t, root.FindAgent("Child3"))
}
