package functions

import (
	"fmt"

	"github.com/daniil-berg/callbot/internal/protocol/realtime"
)

// Registry maps function names to functions. It is filled at startup and
// only read during calls.
type Registry struct {
	functions map[string]Function
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{functions: make(map[string]Function)}
}

// Register adds functions. Names must be unique.
func (r *Registry) Register(fns ...Function) error {
	for _, fn := range fns {
		name := fn.Tool().Name
		if name == "" {
			return fmt.Errorf("function without name")
		}
		if _, ok := r.functions[name]; ok {
			return fmt.Errorf("function %q already registered", name)
		}
		r.functions[name] = fn
		r.order = append(r.order, name)
	}
	return nil
}

// Get looks up a function by its exact name.
func (r *Registry) Get(name string) (Function, bool) {
	fn, ok := r.functions[name]
	return fn, ok
}

// Tools describes all functions in registration order.
func (r *Registry) Tools() []realtime.Tool {
	tools := make([]realtime.Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.functions[name].Tool())
	}
	return tools
}

// Names lists the registered function names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}
