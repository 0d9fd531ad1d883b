package item

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/workpool/codec"
	"github.com/xraph/workpool/retry"
)

// HandlerFunc is a type-erased work function over encoded arguments and
// results. Definition[In, Out] is converted to a HandlerFunc at
// registration time by closing over the codec and the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

type entry struct {
	handler HandlerFunc
	opts    Options
}

// Registry maps handler names to type-erased work functions.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	codec    codec.Codec
	handlers map[string]entry
}

// NewRegistry creates an empty registry that encodes with c. A nil codec
// selects JSON.
func NewRegistry(c codec.Codec) *Registry {
	if c == nil {
		c = codec.Default()
	}
	return &Registry{
		codec:    c,
		handlers: make(map[string]entry),
	}
}

// Codec returns the registry's codec.
func (r *Registry) Codec() codec.Codec {
	return r.codec
}

// Register adds a raw handler. A later registration under the same name
// replaces the earlier one.
func (r *Registry) Register(name string, h HandlerFunc, opts ...Option) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = entry{handler: h, opts: Resolve(DefaultOptions(), opts...)}
}

// RegisterDefinition registers a typed definition. The generic handler is
// wrapped in a closure that decodes the payload into In and encodes Out.
// A payload that does not decode fails permanently, since retrying the
// same bytes cannot succeed.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[In, Out any](r *Registry, def *Definition[In, Out]) {
	c := r.codec
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		var in In
		if len(payload) > 0 {
			if err := c.Unmarshal(payload, &in); err != nil {
				return nil, retry.Permanent(fmt.Errorf("decode payload for %q: %w", def.Name, err))
			}
		}
		out, err := def.Handler(ctx, in)
		if err != nil {
			return nil, err
		}
		res, err := c.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("encode result for %q: %w", def.Name, err)
		}
		return res, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Name] = entry{handler: handler, opts: def.Opts}
}

// Get returns the handler for the given name.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.handlers[name]
	return e.handler, ok
}

// Options returns the enqueue defaults registered for name, or
// DefaultOptions when name is unknown.
func (r *Registry) Options(name string) Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.handlers[name]; ok {
		return e.opts
	}
	return DefaultOptions()
}

// Names returns all registered handler names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
