package call

import "sync"

// Flag is a boolean that can be waited on.
type Flag struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

// NewFlag creates a cleared flag.
func NewFlag() *Flag {
	return &Flag{ch: make(chan struct{})}
}

// Set sets the flag and wakes all waiters.
func (f *Flag) Set() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.set {
		f.set = true
		close(f.ch)
	}
}

// Clear clears the flag.
func (f *Flag) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set {
		f.set = false
		f.ch = make(chan struct{})
	}
}

// IsSet reports whether the flag is set.
func (f *Flag) IsSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// Wait returns a channel that is closed once the flag is set. If the flag
// is already set the channel is closed.
func (f *Flag) Wait() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ch
}
