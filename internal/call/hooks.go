package call

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// FunctionCall identifies a function invocation requested by the AI.
type FunctionCall struct {
	Name      string
	CallID    string
	Arguments string
}

type (
	// CallStartFunc runs once the stream is authenticated.
	CallStartFunc func(ctx context.Context, m *Manager) error
	// ConversationStartFunc runs before the bot is prompted to speak first.
	ConversationStartFunc func(ctx context.Context, m *Manager) error
	// BeforeFunctionFunc runs before a function handler.
	BeforeFunctionFunc func(ctx context.Context, m *Manager, fc FunctionCall) error
	// AfterFunctionFunc runs after a function handler with its result.
	AfterFunctionFunc func(ctx context.Context, m *Manager, fc FunctionCall, result error) error
	// CallEndFunc runs after both sockets are closed.
	CallEndFunc func(ctx context.Context, m *Manager, outcome *Outcome) error
)

type callback[F any] struct {
	name string
	fn   F
}

// Hooks holds the lifecycle callbacks of all calls. Callbacks are registered
// at startup; dispatching never modifies the set. A nil *Hooks has no
// callbacks.
type Hooks struct {
	afterCallStart          []callback[CallStartFunc]
	beforeConversationStart []callback[ConversationStartFunc]
	beforeFunctionCall      []callback[BeforeFunctionFunc]
	afterFunctionCall       []callback[AfterFunctionFunc]
	afterCallEnd            []callback[CallEndFunc]
}

func NewHooks() *Hooks {
	return &Hooks{}
}

func (h *Hooks) OnAfterCallStart(name string, fn CallStartFunc) {
	h.afterCallStart = append(h.afterCallStart, callback[CallStartFunc]{name, fn})
}

func (h *Hooks) OnBeforeConversationStart(name string, fn ConversationStartFunc) {
	h.beforeConversationStart = append(h.beforeConversationStart, callback[ConversationStartFunc]{name, fn})
}

func (h *Hooks) OnBeforeFunctionCall(name string, fn BeforeFunctionFunc) {
	h.beforeFunctionCall = append(h.beforeFunctionCall, callback[BeforeFunctionFunc]{name, fn})
}

func (h *Hooks) OnAfterFunctionCall(name string, fn AfterFunctionFunc) {
	h.afterFunctionCall = append(h.afterFunctionCall, callback[AfterFunctionFunc]{name, fn})
}

func (h *Hooks) OnAfterCallEnd(name string, fn CallEndFunc) {
	h.afterCallEnd = append(h.afterCallEnd, callback[CallEndFunc]{name, fn})
}

func (h *Hooks) AfterCallStart(ctx context.Context, m *Manager) {
	if h == nil {
		return
	}
	dispatch(m.Logger(), "AfterCallStart", h.afterCallStart, func(fn CallStartFunc) error {
		return fn(ctx, m)
	})
}

func (h *Hooks) BeforeConversationStart(ctx context.Context, m *Manager) {
	if h == nil {
		return
	}
	dispatch(m.Logger(), "BeforeConversationStart", h.beforeConversationStart, func(fn ConversationStartFunc) error {
		return fn(ctx, m)
	})
}

func (h *Hooks) BeforeFunctionCall(ctx context.Context, m *Manager, fc FunctionCall) {
	if h == nil {
		return
	}
	dispatch(m.Logger(), "BeforeFunctionCall", h.beforeFunctionCall, func(fn BeforeFunctionFunc) error {
		return fn(ctx, m, fc)
	})
}

func (h *Hooks) AfterFunctionCall(ctx context.Context, m *Manager, fc FunctionCall, result error) {
	if h == nil {
		return
	}
	dispatch(m.Logger(), "AfterFunctionCall", h.afterFunctionCall, func(fn AfterFunctionFunc) error {
		return fn(ctx, m, fc, result)
	})
}

func (h *Hooks) AfterCallEnd(ctx context.Context, m *Manager, outcome *Outcome) {
	if h == nil {
		return
	}
	dispatch(m.Logger(), "AfterCallEnd", h.afterCallEnd, func(fn CallEndFunc) error {
		return fn(ctx, m, outcome)
	})
}

// dispatch runs all callbacks concurrently and waits for them. Failures are
// logged with the callback name.
func dispatch[F any](logger *zap.Logger, hook string, callbacks []callback[F], call func(F) error) {
	if len(callbacks) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, cb := range callbacks {
		wg.Add(1)
		go func(cb callback[F]) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Hook callback panicked",
						zap.String("hook", hook),
						zap.String("callback", cb.name),
						zap.String("panic", fmt.Sprint(r)))
				}
			}()
			if err := call(cb.fn); err != nil {
				logger.Error("Hook callback failed",
					zap.String("hook", hook),
					zap.String("callback", cb.name),
					zap.Error(err))
			}
		}(cb)
	}
	wg.Wait()
}
