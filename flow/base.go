package flow

import (
	"fmt"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/model"
)

// BaseFlow is a minimal single‑agent flow implementation that supports a
// request -> LLM -> (optional tool loop) cycle with pluggable pre/post processors.
type BaseFlow struct {
	agent              FlowAgent
	requestProcessors  []RequestProcessor
	responseProcessors []ResponseProcessor
	executor           FunctionExecutor
}

// NewBaseFlow creates a new basic single-agent flow.
func NewBaseFlow(agent FlowAgent) *BaseFlow {
	return &BaseFlow{
		agent:              agent,
		requestProcessors:  []RequestProcessor{},
		responseProcessors: []ResponseProcessor{},
		executor:           NewParallelFunctionExecutor(FunctionExecutorConfig{PreserveOrder: true}),
	}
}

// AddRequestProcessor appends a request processor; order of registration defines execution order.
func (f *BaseFlow) AddRequestProcessor(processor RequestProcessor) {
	f.requestProcessors = append(f.requestProcessors, processor)
}

// AddResponseProcessor appends a response processor executed after each model chunk.
func (f *BaseFlow) AddResponseProcessor(processor ResponseProcessor) {
	f.responseProcessors = append(f.responseProcessors, processor)
}

// SetFunctionExecutor replaces the executor used for tool call batches.
func (f *BaseFlow) SetFunctionExecutor(executor FunctionExecutor) {
	if executor != nil {
		f.executor = executor
	}
}

// Execute launches the flow asynchronously and returns a channel of Events.
// The channel is closed when a final response is emitted or an unrecoverable
// error occurs. Callers should range over the returned channel.
func (f *BaseFlow) Execute(invCtx *core.InvocationContext) (<-chan core.Event, error) {
	eventChan := make(chan core.Event, 100)

	go func() {
		defer close(eventChan)

		for {
			last := f.runOnce(invCtx, eventChan)
			if last == nil {
				break
			}
			// A function response means the model gets another turn
			if len(last.GetFunctionResponses()) > 0 {
				continue
			}
			if last.IsPartial() {
				invCtx.LogWarn("flow.turn.trailing_partial", "agent", f.agent.GetName())
				break
			}
			if last.IsFinalResponse() {
				break
			}
		}
	}()

	return eventChan, nil
}

// emitError converts an internal error to a system Event.
func (f *BaseFlow) emitError(invCtx *core.InvocationContext, eventChan chan<- core.Event, err error) {
	ev := core.NewEvent(invCtx.InvocationID, "system")
	msg := err.Error()
	ev.ErrorMessage = &msg
	eventChan <- ev
}

// runOnce performs one model turn (including any tool executions) and returns
// the last emitted Event (final or intermediate). A nil return signals termination.
func (f *BaseFlow) runOnce(invCtx *core.InvocationContext, eventChan chan<- core.Event) *core.Event {
	// Refresh session snapshot so request processors see the latest
	// conversation, including freshly persisted tool responses
	if invCtx.SessionService != nil {
		if latest, err := invCtx.SessionService.Get(invCtx.SessionID); err == nil && latest != nil {
			invCtx.Session = latest
		}
	}

	req := new(model.Request)
	req.Stream = f.agent.IsStreamingEnabled()

	for _, processor := range f.requestProcessors {
		if err := processor.ProcessRequest(invCtx, req, f.agent); err != nil {
			f.emitError(invCtx, eventChan, fmt.Errorf("request processor %s failed: %w", processor.Name(), err))
			return nil
		}
	}

	// Build tool definitions
	tools := f.agent.GetTools()
	if f.agent.IsFunctionCallingEnabled() && len(tools) > 0 {
		toolDefinitions := make([]model.ToolDefinition, 0, len(tools))
		for _, t := range tools {
			toolDefinitions = append(toolDefinitions, model.ToolDefinition{
				Type: "function",
				Function: model.FunctionDefinition{
					Name:        t.Name(),
					Description: t.Description(),
					Parameters:  t.Parameters(),
				},
			})
		}

		req.Tools = toolDefinitions
	}

	if invCtx.Limiter != nil {
		if err := invCtx.Limiter.Increment(); err != nil {
			f.emitError(invCtx, eventChan, err)
			return nil
		}
	}

	llm := f.agent.GetLLM()

	respCh, errCh := llm.Generate(invCtx.Context, *req)

	emit := func(ev core.Event) error {
		select {
		case <-invCtx.Context.Done():
			return invCtx.Context.Err()
		case eventChan <- ev:
		}
		// Wait for session persistence (engine sends resume after append)
		if !ev.IsPartial() && invCtx.Resume != nil {
			select {
			case <-invCtx.Context.Done():
				return invCtx.Context.Err()
			case <-invCtx.Resume:
			}
		}
		return nil
	}

	var lastEvent *core.Event

loop:
	for {
		select {
		case resp, ok := <-respCh:
			if !ok {
				// The stream can close with a terminal error still buffered.
				select {
				case err, eok := <-errCh:
					if eok && err != nil {
						f.emitError(invCtx, eventChan, fmt.Errorf("model generation failed: %w", err))
						return nil
					}
				default:
				}

				break loop
			}

			for _, processor := range f.responseProcessors {
				if err := processor.ProcessResponse(invCtx, &resp, f.agent); err != nil {
					f.emitError(invCtx, eventChan, fmt.Errorf("response processor %s failed: %w", processor.Name(), err))
					return nil
				}
			}

			ev := core.NewEvent(invCtx.InvocationID, f.agent.GetName())
			ev.Content = &resp.Content
			ev.Partial = &resp.Partial

			// Mark turn complete on a final assistant response with no pending tool calls
			if !resp.Partial && len(ev.GetFunctionCalls()) == 0 {
				complete := true
				ev.TurnComplete = &complete

				if key := f.agent.GetOutputKey(); key != "" {
					if text := contentText(resp.Content); text != "" {
						invCtx.SetState(key, text)
					}
				}
			}

			lastEvent = &ev

			if err := emit(ev); err != nil {
				return lastEvent
			}

			if fnCalls := ev.GetFunctionCalls(); len(fnCalls) > 0 {
				f.executor.Execute(invCtx, f.agent, tools, fnCalls, func(respEv core.Event) error {
					lastEvent = &respEv
					return emit(respEv)
				})
			}
		case err, ok := <-errCh:
			if ok && err != nil {
				f.emitError(invCtx, eventChan, fmt.Errorf("model generation failed: %w", err))
				return nil
			}
			// A closed error channel only signals that no error is coming;
			// responses may still be buffered, so keep draining respCh.
			errCh = nil
		}
	}

	return lastEvent
}

// contentText concatenates the text parts of a content value.
func contentText(c core.Content) string {
	var text string
	for _, p := range c.Parts {
		if tp, ok := p.(core.TextPart); ok {
			text += tp.Text
		}
	}
	return text
}
