package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"splitride/internal/service"
)

const (
	rideLockPrefix   = "lock:ride:"
	lockPollInterval = 25 * time.Millisecond
)

// releaseScript deletes the lock only if it still carries our token, so an
// expired holder cannot release a lock that someone else has since taken.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore handles per-ride distributed locking in Redis.
type LockStore struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewLockStore creates a new LockStore. ttl bounds how long a crashed holder
// can block a ride; wait bounds how long Lock polls for a busy ride.
func NewLockStore(client *redis.Client, ttl, wait time.Duration) *LockStore {
	return &LockStore{client: client, ttl: ttl, wait: wait}
}

// Ensure LockStore implements service.Locker.
var _ service.Locker = (*LockStore)(nil)

// Lock acquires the ride lock, polling until the wait expires. It returns
// service.ErrRideBusy if another holder keeps it for the whole wait.
func (s *LockStore) Lock(ctx context.Context, rideID string) (func(), error) {
	key := rideLockKey(rideID)
	token := uuid.New().String()

	deadline := time.Now().Add(s.wait)
	for {
		ok, err := s.client.SetNX(ctx, key, token, s.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire ride lock: %w", err)
		}
		if ok {
			return func() { s.release(key, token) }, nil
		}

		if time.Now().After(deadline) {
			return nil, service.ErrRideBusy
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (s *LockStore) release(key, token string) {
	// The request context may already be done; release on a short fresh one.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_ = releaseScript.Run(ctx, s.client, []string{key}, token).Err()
}

func rideLockKey(rideID string) string {
	return rideLockPrefix + rideID
}
