// Package ttlset provides small expiring key sets used to coordinate
// concurrent work on orders:
//
//   - the interaction dedup set (interaction id → accepted at), which makes
//     "accept" a single atomic insert so a platform retry is processed once;
//   - the recently-touched set (message id → protected until), which tells
//     the reconciliation sweeper to keep its hands off a message that a live
//     interaction has just edited.
//
// Two implementations share the Set contract. Memory is process-local and
// guarded by a mutex with lazy expiry. Redis keeps the keys in a shared
// store so several relay instances never double-process one interaction.
package ttlset

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the backing store cannot be reached.
var ErrUnavailable = errors.New("ttl set unavailable")

// Set is an expiring set of string keys.
//
// InsertIfAbsent is the only way to add a key; it returns false when the key
// is already present and unexpired. A ttl <= 0 means "until deleted or
// purged".
type Set interface {
	InsertIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Contains(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	// PurgeOlderThan drops entries inserted more than maxAge ago and returns
	// how many were removed. Stores with native expiry may return 0.
	PurgeOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
}
