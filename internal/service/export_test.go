package service

import "time"

// WithMaxDegradedDuration overrides how long the service may stay degraded
// before giving up on teardown.
func WithMaxDegradedDuration(d time.Duration) Option {
	return func(o *options) {
		o.maxDegradedDuration = d
	}
}
