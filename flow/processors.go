package flow

import (
	"fmt"

	"github.com/hupe1980/agentstream/core"
	internalutil "github.com/hupe1980/agentstream/internal/util"
	"github.com/hupe1980/agentstream/model"
)

// InstructionsProcessor handles system prompt and instruction processing.
type InstructionsProcessor struct{}

// NewInstructionsProcessor creates a new instructions processor.
func NewInstructionsProcessor() *InstructionsProcessor { return &InstructionsProcessor{} }

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest adds system instructions to the chat request.
func (p *InstructionsProcessor) ProcessRequest(invCtx *core.InvocationContext, req *model.Request, agent FlowAgent) error {
	instructions, err := agent.ResolveInstructions(invCtx)
	if err != nil {
		return fmt.Errorf("failed to resolve instruction: %w", err)
	}

	invCtx.LogDebug("agent.instruction.resolved", "agent", agent.GetName(), "length", len(instructions))

	if invCtx.Session != nil && invCtx.Session.State != nil {
		var tplErr error
		// Apply template substitution to system prompt using session state
		req.Instructions, tplErr = internalutil.RenderTemplate(instructions, invCtx.Session.State)
		if tplErr != nil {
			return fmt.Errorf("failed to render template: %w", tplErr)
		}
	} else {
		req.Instructions = instructions
	}

	return nil
}

type ContentsProcessor struct{}

// NewContentsProcessor creates a new contents processor.
func NewContentsProcessor() *ContentsProcessor { return &ContentsProcessor{} }

// Name returns the processor's identifier.
func (p *ContentsProcessor) Name() string { return "contents" }

// ProcessRequest adds the system prompt and bounded conversation history to the chat request.
func (p *ContentsProcessor) ProcessRequest(invCtx *core.InvocationContext, req *model.Request, agent FlowAgent) error {
	contents := []core.Content{{
		Role:  "system",
		Parts: []core.Part{core.TextPart{Text: req.Instructions}},
	}}

	// Add conversation history if available
	if invCtx.Session != nil {
		events := invCtx.Session.GetConversationHistory()
		if max := agent.MaxHistoryMessages(); max > 0 && len(events) > max {
			events = events[len(events)-max:]
		}

		for _, ev := range events {
			if ev.Content != nil && len(ev.Content.Parts) > 0 {
				contents = append(contents, *ev.Content)
			}
		}
	}

	req.Contents = contents
	return nil
}
