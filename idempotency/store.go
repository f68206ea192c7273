package idempotency

import "context"

// Store holds key reservations. ReserveKey fails with an already-exists
// error if the key is present in any state. ReleaseKey removes only
// in-flight keys so that a failed call can be retried.
type Store interface {
	ReserveKey(ctx context.Context, k *Key) error
	GetKey(ctx context.Context, key string) (*Key, error)
	CompleteKey(ctx context.Context, key, resourceID string) error
	ReleaseKey(ctx context.Context, key string) error
}
