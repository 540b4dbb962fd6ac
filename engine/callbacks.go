package engine

import (
	"context"

	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/logging"
)

// CallbackType defines the lifecycle points where callbacks can be executed.
//
// Callbacks provide a mechanism for hooking into the engine's execution
// pipeline without modifying core logic. They are executed synchronously and
// can veto an operation by returning an error.
type CallbackType string

const (
	// CallbackBeforeAgent is triggered before an agent begins execution.
	// Use for setup, validation, or instrumentation. An error aborts the
	// invocation before the agent starts.
	CallbackBeforeAgent CallbackType = "before_agent"

	// CallbackAfterAgent is triggered after an agent completes execution,
	// successfully or not. Use for cleanup or metrics collection. Errors
	// are logged, not propagated.
	CallbackAfterAgent CallbackType = "after_agent"

	// CallbackOnError is triggered when agent execution fails. The failure
	// is available under the "error" metadata key.
	CallbackOnError CallbackType = "on_error"

	// CallbackOnStateChange is triggered when an event carries a state
	// delta, before the delta is applied. An error rejects the change and
	// terminates the invocation.
	CallbackOnStateChange CallbackType = "on_state_change"
)

// CallbackContext carries the information a callback needs to inspect the
// execution state: the full invocation context, the current event (nil for
// callbacks that don't operate on specific events), the agent name, the
// triggering callback type and extensible metadata.
type CallbackContext struct {
	InvocationContext *core.InvocationContext
	Event             *core.Event
	AgentID           string
	CallbackType      CallbackType
	Metadata          map[string]interface{}
}

// Callback defines the interface for execution lifecycle hooks.
//
// Implementations should be fast (callbacks run synchronously on the event
// path), safe (no panics) and stateless between invocations. A callback
// returning an error terminates the associated operation.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a plain function as a callback implementation.
//
// Example:
//
//	cb := NewFunctionCallback(CallbackBeforeAgent,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        if cc.AgentID == "restricted" {
//	            return fmt.Errorf("agent not allowed")
//	        }
//	        return nil
//	    })
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback for the given
// lifecycle point.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager routes lifecycle notifications to registered callbacks.
//
// Callbacks are executed in registration order; the first error stops the
// chain and is returned to the caller. Registration is not thread-safe and
// should complete before the engine starts serving invocations; execution
// is safe for concurrent use afterwards.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback for its declared type. Multiple callbacks
// can be registered for the same type and run in registration order.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks executes all registered callbacks for the specified type.
// A nil manager is a no-op, so the engine can run without a callback layer.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	if cm == nil {
		return nil
	}

	callbacks, exists := cm.callbacks[callbackType]
	if !exists {
		return nil
	}

	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}

// LoggingCallback emits a structured log line for each lifecycle event it is
// registered for. Useful for debugging and audit trails.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a logging callback for the given lifecycle point.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the lifecycle event with agent and event identifiers.
func (c *LoggingCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}

	eventID := ""
	if callbackCtx.Event != nil {
		eventID = callbackCtx.Event.ID
	}

	c.logger.Info("engine.callback",
		"type", string(c.callbackType),
		"agent", callbackCtx.AgentID,
		"event_id", eventID,
	)

	return nil
}

// StateValidationCallback validates session state changes before they are
// applied. The validator receives only the delta (the changed keys) and can
// reject the modification by returning an error, which terminates the
// invocation.
//
// Example:
//
//	cb := NewStateValidationCallback(func(delta map[string]interface{}) error {
//	    if v, ok := delta["user_id"]; ok && v == nil {
//	        return errors.New("user_id cannot be nil")
//	    }
//	    return nil
//	})
type StateValidationCallback struct {
	validator func(stateDelta map[string]interface{}) error
}

// NewStateValidationCallback creates a state validation callback.
func NewStateValidationCallback(validator func(stateDelta map[string]interface{}) error) *StateValidationCallback {
	return &StateValidationCallback{
		validator: validator,
	}
}

// Type returns CallbackOnStateChange.
func (c *StateValidationCallback) Type() CallbackType {
	return CallbackOnStateChange
}

// Execute validates the state delta carried by the event, if any.
func (c *StateValidationCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	if c.validator != nil && callbackCtx.Event != nil {
		if callbackCtx.Event.Actions.StateDelta != nil {
			return c.validator(callbackCtx.Event.Actions.StateDelta)
		}
	}
	return nil
}
