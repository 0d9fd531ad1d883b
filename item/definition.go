package item

import "context"

// Definition is a typed work definition. In is the argument type and Out
// the result type; both must be serializable by the registry's codec.
type Definition[In, Out any] struct {
	// Name is the unique handler name recorded on each item.
	Name string

	// Handler processes the arguments and returns the result.
	Handler func(ctx context.Context, in In) (Out, error)

	// Opts are the enqueue defaults for this definition.
	Opts Options
}

// NewDefinition creates a typed work definition.
func NewDefinition[In, Out any](name string, handler func(ctx context.Context, in In) (Out, error), opts ...Option) *Definition[In, Out] {
	return &Definition[In, Out]{
		Name:    name,
		Handler: handler,
		Opts:    Resolve(DefaultOptions(), opts...),
	}
}

// NewTask creates a definition for work that produces no result.
func NewTask[In any](name string, handler func(ctx context.Context, in In) error, opts ...Option) *Definition[In, struct{}] {
	return NewDefinition(name, func(ctx context.Context, in In) (struct{}, error) {
		return struct{}{}, handler(ctx, in)
	}, opts...)
}
