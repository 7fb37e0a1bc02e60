package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/daniil-berg/callbot/internal/call"
	"github.com/daniil-berg/callbot/internal/protocol/realtime"
)

// ErrInvalidArguments is returned when the AI passed arguments that do not
// match the declared shape of a function.
var ErrInvalidArguments = errors.New("invalid function arguments")

// Function is a tool the AI can call during a call.
type Function interface {
	// Tool describes the function to the AI.
	Tool() realtime.Tool
	// Prepare decodes the raw JSON arguments of an invocation.
	Prepare(arguments string) (Invocation, error)
}

// Invocation runs a prepared function call.
type Invocation func(ctx context.Context, m *call.Manager) error

// Validator is implemented by argument types with constraints beyond their
// JSON shape.
type Validator interface {
	Validate() error
}

// Handler handles decoded arguments of type A.
type Handler[A any] func(ctx context.Context, m *call.Manager, args A) error

type typedFunction[A any] struct {
	tool    realtime.Tool
	handler Handler[A]
}

// New defines a function whose arguments decode into A. Unknown argument
// fields are rejected. If *A implements Validator it is checked as well.
func New[A any](name, description string, parameters map[string]any, handler Handler[A]) Function {
	return &typedFunction[A]{
		tool: realtime.Tool{
			Type:        "function",
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
		handler: handler,
	}
}

func (f *typedFunction[A]) Tool() realtime.Tool {
	return f.tool
}

func (f *typedFunction[A]) Prepare(arguments string) (Invocation, error) {
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}
	var args A
	dec := json.NewDecoder(strings.NewReader(arguments))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrInvalidArguments, f.tool.Name, err)
	}
	if v, ok := any(&args).(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("%w for %s: %v", ErrInvalidArguments, f.tool.Name, err)
		}
	}
	return func(ctx context.Context, m *call.Manager) error {
		return f.handler(ctx, m, args)
	}, nil
}
