package engine

import (
	"context"

	"github.com/flowmesh/flowmesh/core"
)

// CallbackType defines the lifecycle points where callbacks execute.
// Callbacks hook into the scheduler without modifying core logic; they run
// synchronously on the worker executing the run, so keep them fast.
type CallbackType string

const (
	// CallbackBeforeRun is triggered before an agent run begins. Use for
	// setup, validation, or instrumentation.
	CallbackBeforeRun CallbackType = "before_run"

	// CallbackAfterRun is triggered after an agent run completes, with the
	// completion signal populated. Use for metrics or post-processing.
	CallbackAfterRun CallbackType = "after_run"
)

// CallbackContext carries the information callbacks receive: the agent and
// run identity, and (for after-run) the completion signal.
type CallbackContext struct {
	Agent  string
	RunID  string
	Signal *core.Signal

	// Metadata provides extensible storage for custom callback data.
	Metadata map[string]any
}

// Callback is an execution lifecycle hook. Implementations should be fast,
// avoid panics, and not rely on mutable state between invocations. A
// callback error is logged by the engine; it does not affect scheduling.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, cbCtx *CallbackContext) error
}

// FunctionCallback wraps a plain function as a Callback.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, cbCtx *CallbackContext) error
}

// NewFunctionCallback creates a function-based callback for the given
// lifecycle point.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, cbCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{callbackType: callbackType, fn: fn}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute calls the wrapped function.
func (c *FunctionCallback) Execute(ctx context.Context, cbCtx *CallbackContext) error {
	return c.fn(ctx, cbCtx)
}

// CallbackManager routes lifecycle events to registered callbacks in
// registration order. Register before Start; execution is then safe for
// concurrent use.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
}

// Register adds a callback for its declared type. Multiple callbacks per
// type execute in registration order.
func (cm *CallbackManager) Register(cb Callback) {
	cm.callbacks[cb.Type()] = append(cm.callbacks[cb.Type()], cb)
}

// Execute runs all callbacks of the given type, stopping at the first
// error.
func (cm *CallbackManager) Execute(ctx context.Context, t CallbackType, cbCtx *CallbackContext) error {
	for _, cb := range cm.callbacks[t] {
		if err := cb.Execute(ctx, cbCtx); err != nil {
			return err
		}
	}
	return nil
}
