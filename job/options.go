package job

import "time"

// Options declares per-function defaults: priority, retry policy, and
// execution timeout.
type Options struct {
	// Priority is the default dispatch priority for jobs of this function.
	Priority Priority

	// Retry is the default retry policy for jobs of this function.
	Retry RetryPolicy

	// Timeout is the maximum duration a handler may run before its
	// context is cancelled. Zero disables the per-function deadline.
	Timeout time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Priority: PriorityNormal,
		Retry:    DefaultRetryPolicy(),
		Timeout:  5 * time.Minute,
	}
}

// Option is a functional option for configuring a function definition.
type Option func(*Options)

// WithPriority sets the function's default priority.
func WithPriority(p Priority) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithRetryPolicy sets the function's default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Options) {
		o.Retry = p
	}
}

// WithTimeout sets the maximum execution duration for the function.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}
