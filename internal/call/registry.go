package call

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry maps the call SIDs of live calls to their managers so that
// out-of-band signals like AMD callbacks can reach them.
type Registry struct {
	calls map[string]*Manager

	// Mutex for thread-safe access to calls map
	mu sync.RWMutex

	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		calls:  make(map[string]*Manager),
		logger: logger,
	}
}

// Register adds a live call. A call SID registered twice keeps the newer
// manager.
func (r *Registry) Register(callSid string, m *Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[callSid]; ok {
		r.logger.Warn("Call already registered, replacing", zap.String("call_sid", callSid))
	}
	r.calls[callSid] = m
	r.logger.Debug("Call registered", zap.String("call_sid", callSid))
}

// Unregister removes the call if it is still mapped to m.
func (r *Registry) Unregister(callSid string, m *Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.calls[callSid]; ok && current == m {
		delete(r.calls, callSid)
		r.logger.Debug("Call unregistered", zap.String("call_sid", callSid))
	}
}

// Get looks up a live call.
func (r *Registry) Get(callSid string) (*Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.calls[callSid]
	return m, ok
}

// CallSids lists the SIDs of all live calls in sorted order.
func (r *Registry) CallSids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sids := make([]string, 0, len(r.calls))
	for sid := range r.calls {
		sids = append(sids, sid)
	}
	sort.Strings(sids)
	return sids
}

// Len returns the number of live calls.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}
