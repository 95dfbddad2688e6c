// internal/delivery/registry.go
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/user/conserje/internal/types"
)

// ErrNoHandler is returned when no handler matches a destination.
var ErrNoHandler = errors.New("no delivery handler")

// Handler delivers a message to a destination such as "telegram:-1001234".
type Handler func(ctx context.Context, destination string, msg types.OutboundMessage) error

// Registry routes messages to the appropriate delivery handler based on
// destination prefix (e.g. "telegram:", "sns:", "email:").
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	prefixes []string
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for destinations starting with prefix.
// Longer prefixes win when several match.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[prefix]; !ok {
		r.prefixes = append(r.prefixes, prefix)
		sort.Slice(r.prefixes, func(i, j int) bool { return len(r.prefixes[i]) > len(r.prefixes[j]) })
	}
	r.handlers[prefix] = handler
}

// Supports reports whether some handler accepts destination.
func (r *Registry) Supports(destination string) bool {
	_, ok := r.lookup(destination)
	return ok
}

func (r *Registry) lookup(destination string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, prefix := range r.prefixes {
		if strings.HasPrefix(destination, prefix) {
			return r.handlers[prefix], true
		}
	}
	return nil, false
}

// Deliver finds the handler matching the destination prefix and calls it.
func (r *Registry) Deliver(ctx context.Context, destination string, msg types.OutboundMessage) error {
	handler, ok := r.lookup(destination)
	if !ok {
		return fmt.Errorf("%w for destination: %s", ErrNoHandler, destination)
	}
	return handler(ctx, destination, msg)
}
