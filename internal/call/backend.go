package call

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Backend is the conversational AI side of a call.
type Backend interface {
	// InitSession configures the AI session. It is the first thing a call
	// does after connecting.
	InitSession(ctx context.Context) error
	// Listen handles AI events until the connection closes or ctx is done.
	Listen(ctx context.Context, m *Manager) error
	// SendAudio forwards a base64 encoded chunk of caller audio.
	SendAudio(ctx context.Context, payload string) error
	// SendText adds a user text message to the conversation.
	SendText(ctx context.Context, text string) error
	// Transcript returns the conversation so far.
	Transcript() string
	// Close closes all backend connections. It may be called more than once.
	Close() error
}

// BackendFactory connects a new backend for one call.
type BackendFactory func(ctx context.Context, logger *zap.Logger) (Backend, error)

// Backends is the set of available backends by name.
type Backends map[string]BackendFactory

// Get returns the factory registered under name.
func (b Backends) Get(name string) (BackendFactory, error) {
	factory, ok := b[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (available: %v)", name, b.Names())
	}
	return factory, nil
}

// Names lists the registered backends.
func (b Backends) Names() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
