package functions

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/daniil-berg/callbot/internal/call"
	"github.com/daniil-berg/callbot/internal/protocol/realtime"
)

// ResumeFunc asks the AI to continue its turn.
type ResumeFunc func(ctx context.Context) error

// Dispatcher runs the functions the AI calls.
type Dispatcher struct {
	registry *Registry
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Registry returns the functions known to the dispatcher.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// HandleResponse runs the first known function called in resp. The
// handler and resume run concurrently. Only end-call conditions raised by
// the handler are returned; other failures are logged.
func (d *Dispatcher) HandleResponse(ctx context.Context, m *call.Manager, resp realtime.Response, resume ResumeFunc) error {
	logger := m.Logger()
	fc, fn, ok := d.find(resp, logger)
	if !ok {
		return nil
	}
	logger = logger.With(zap.String("function", fc.Name), zap.String("call_id", fc.CallID))

	invocation, err := fn.Prepare(fc.Arguments)
	if err != nil {
		logger.Error("Invalid function arguments",
			zap.String("arguments", fc.Arguments),
			zap.Error(err))
		m.Metrics().RecordFunctionCall(fc.Name, "invalid_arguments")
		return nil
	}

	m.Hooks().BeforeFunctionCall(ctx, m, fc)

	var handlerErr, resumeErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				handlerErr = fmt.Errorf("function panicked: %v", r)
			}
		}()
		handlerErr = invocation(ctx, m)
	}()
	go func() {
		defer wg.Done()
		resumeErr = resume(ctx)
	}()
	wg.Wait()

	m.Hooks().AfterFunctionCall(ctx, m, fc, handlerErr)

	if resumeErr != nil {
		logger.Warn("Failed to resume response", zap.Error(resumeErr))
	}
	if handlerErr == nil {
		m.Metrics().RecordFunctionCall(fc.Name, "ok")
		return nil
	}
	if endCall, ok := call.AsEndCall(handlerErr); ok {
		m.Metrics().RecordFunctionCall(fc.Name, "end_call")
		if endCall.Function != "" {
			return endCall
		}
		return call.FunctionEndCall(fc.Name, endCall)
	}
	m.Metrics().RecordFunctionCall(fc.Name, "error")
	logger.Warn("Function failed", zap.Error(handlerErr))
	return nil
}

func (d *Dispatcher) find(resp realtime.Response, logger *zap.Logger) (call.FunctionCall, Function, bool) {
	for _, item := range resp.Output {
		if item.Type != realtime.ItemTypeFunctionCall || item.Name == "" {
			continue
		}
		logger.Debug("Function call detected", zap.String("function", item.Name))
		fn, ok := d.registry.Get(item.Name)
		if !ok {
			logger.Warn("Unknown function called", zap.String("function", item.Name))
			continue
		}
		return call.FunctionCall{Name: item.Name, CallID: item.CallID, Arguments: item.Arguments}, fn, true
	}
	return call.FunctionCall{}, nil, false
}
