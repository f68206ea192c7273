package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/escrow/idempotency"
)

// finish settles a key reservation once the guarded call returns.
type finish func(ctx context.Context, resourceID string, err error)

func noFinish(context.Context, string, error) {}

// reserve claims key for op. When the key already completed, replay holds
// the resource the first call produced and the caller must return it
// instead of repeating the work. An empty key disables deduplication.
func (e *Engine) reserve(ctx context.Context, key string, op idempotency.Operation) (replay string, done finish, err error) {
	if key == "" {
		return "", noFinish, nil
	}

	now := e.now().UTC()
	err = e.store.ReserveKey(ctx, &idempotency.Key{
		Key:       key,
		Operation: op,
		State:     idempotency.StateInFlight,
		CreatedAt: now,
		UpdatedAt: now,
	})
	switch {
	case err == nil:
		return "", e.finisher(key), nil
	case !errors.Is(err, ErrAlreadyExists):
		return "", nil, fmt.Errorf("escrow: reserve idempotency key: %w", err)
	}

	existing, err := e.store.GetKey(ctx, key)
	if err != nil {
		// Released between our reserve and read; the caller may retry.
		if errors.Is(err, ErrNotFound) {
			return "", nil, fmt.Errorf("%w: key %q", ErrIdempotencyInFlight, key)
		}
		return "", nil, err
	}
	if existing.Operation != op {
		return "", nil, fmt.Errorf("%w: key %q belongs to %s", ErrIdempotencyConflict, key, existing.Operation)
	}
	if existing.State != idempotency.StateCompleted {
		return "", nil, fmt.Errorf("%w: key %q", ErrIdempotencyInFlight, key)
	}
	return existing.ResourceID, noFinish, nil
}

func (e *Engine) finisher(key string) finish {
	return func(ctx context.Context, resourceID string, err error) {
		// Settle the key even when the caller's context is gone.
		ctx = context.WithoutCancel(ctx)
		if err != nil {
			if relErr := e.store.ReleaseKey(ctx, key); relErr != nil {
				e.logger.Warn("idempotency key not released", "key", key, "error", relErr)
			}
			return
		}
		if cErr := e.store.CompleteKey(ctx, key, resourceID); cErr != nil {
			e.logger.Warn("idempotency key not completed", "key", key, "error", cErr)
		}
	}
}
