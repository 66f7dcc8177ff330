package job

import "context"

// Definition is a typed function definition with a handler.
// T is the request payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Name is the unique identifier for this function.
	Name string

	// Handler processes the decoded payload. It must observe ctx
	// cancellation: lease loss and shutdown are signalled through it.
	Handler func(ctx context.Context, payload T) error

	// Opts declares the function's default priority, retry policy, and
	// timeout. Individual jobs may override them at scheduling time.
	Opts Options
}

// NewDefinition creates a typed function definition.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
