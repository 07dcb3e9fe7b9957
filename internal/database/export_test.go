package database

import "context"

// DBPool exposes the pool interface for tests.
type DBPool = dbPool

// WithNewPool overrides the pool constructor.
func WithNewPool(newPool func(ctx context.Context, dsn string) (DBPool, error)) Options {
	return func(o *options) {
		o.newPool = newPool
	}
}
