package client

import (
	"context"
	"encoding/json"
	"sync"
)

// HandlerFunc executes one invoked method. The returned payload is the raw
// JSON result, or nil for methods with nothing to say; a returned error is
// reported to the server as an Error reply.
type HandlerFunc func(ctx context.Context, parameter json.RawMessage) (json.RawMessage, error)

// HandlerRegistry is the explicit method-name → handler table. It is built at
// startup; duplicate registration is a programming error and panics, matching
// the behavior of unnamed-collision registries elsewhere in the codebase.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]HandlerFunc),
	}
}

func (r *HandlerRegistry) Register(method string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[method]; exists {
		panic("method handler already registered: " + method)
	}
	r.handlers[method] = fn
}

func (r *HandlerRegistry) Get(method string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[method]
	return fn, ok
}

// Methods returns all registered method names, for startup logging.
func (r *HandlerRegistry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
