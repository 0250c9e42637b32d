package invoke

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/teranos/mise/errors"
)

// HandlerFunc handles one (target type, method) pair.
type HandlerFunc func(ctx context.Context, target Target) error

type routeKey struct {
	targetType string
	method     string
}

// Registry routes targets to handlers by (Type, Method).
// Thread-safe for concurrent registration and lookup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[routeKey]HandlerFunc
	fallback HandlerFunc
}

// NewRegistry creates an empty registry. fallback handles targets with no
// registered handler and may be nil, in which case they fail.
func NewRegistry(fallback HandlerFunc) *Registry {
	return &Registry{
		handlers: make(map[routeKey]HandlerFunc),
		fallback: fallback,
	}
}

// Register adds a handler for targetType and method.
// Panics if one is already registered for the pair.
func (r *Registry) Register(targetType, method string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := routeKey{targetType: targetType, method: method}
	if _, exists := r.handlers[key]; exists {
		panic(fmt.Sprintf("handler already registered for %s.%s", targetType, method))
	}
	r.handlers[key] = handler
}

// Has checks if a handler is registered for the pair.
func (r *Registry) Has(targetType, method string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[routeKey{targetType: targetType, method: method}]
	return exists
}

// Routes returns the registered pairs as "type.method", sorted.
func (r *Registry) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make([]string, 0, len(r.handlers))
	for key := range r.handlers {
		routes = append(routes, key.targetType+"."+key.method)
	}
	sort.Strings(routes)
	return routes
}

// Invoke implements Invoker. Handler panics are returned as errors.
func (r *Registry) Invoke(ctx context.Context, target Target) (err error) {
	if target.Type == "" || target.Method == "" {
		return errors.NewInvalidRequestError("target %q missing type or method", target.String())
	}

	r.mu.RLock()
	handler, ok := r.handlers[routeKey{targetType: target.Type, method: target.Method}]
	fallback := r.fallback
	r.mu.RUnlock()

	if !ok {
		if fallback == nil {
			return errors.Newf("no handler registered for %s.%s", target.Type, target.Method)
		}
		handler = fallback
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Newf("target %s panicked: %v", target.String(), rec)
		}
	}()
	return handler(ctx, target)
}
