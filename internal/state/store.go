package state

import "context"

// Store is a small durable key/value store used for cycle bookkeeping that
// must survive a process restart.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
