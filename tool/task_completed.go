package tool

import (
	"github.com/hupe1980/agentstream/core"
)

// taskCompletedTool marks the current live task as finished. Live flows watch
// for this function call and end the turn after a short grace period.
type taskCompletedTool struct{}

// NewTaskCompletedTool constructs the task completion marker tool.
func NewTaskCompletedTool() Tool { return &taskCompletedTool{} }

func (t *taskCompletedTool) Name() string { return "task_completed" }

func (t *taskCompletedTool) Description() string {
	return "Signal that the requested task is complete. Call this exactly once when no further work remains."
}

func (t *taskCompletedTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *taskCompletedTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	tc.Logger().Info("tool.task_completed", "agent", tc.AgentName(), "fc_id", tc.FunctionCallID())
	return map[string]any{"completed": true}, nil
}
