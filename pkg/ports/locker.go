package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a lock obtained from a DistributedLocker.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker serializes turns on one thread across replicas that
// share a StateStore. Keys are thread IDs.
type DistributedLocker interface {
	// Lock blocks until key is held or ctx is done. The lock expires after
	// ttl even if the holder never unlocks, so a crashed replica cannot
	// wedge a thread.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
