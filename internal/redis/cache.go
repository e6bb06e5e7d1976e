package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"splitride/internal/domain"
	"splitride/internal/service"
)

// RideCacheTTL bounds staleness if an invalidation is lost.
const RideCacheTTL = 10 * time.Second

const rideCachePrefix = "cache:ride:"

// CacheStore caches ride documents in Redis.
type CacheStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client, ttl: RideCacheTTL}
}

// Ensure CacheStore implements service.RideCache.
var _ service.RideCache = (*CacheStore)(nil)

// GetRide retrieves a ride from cache. It returns nil on a miss.
func (s *CacheStore) GetRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	data, err := s.client.Get(ctx, rideCachePrefix+rideID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var ride domain.Ride
	if err := json.Unmarshal(data, &ride); err != nil {
		return nil, err
	}
	return &ride, nil
}

// SetRide stores a ride in cache.
func (s *CacheStore) SetRide(ctx context.Context, ride *domain.Ride) error {
	data, err := json.Marshal(ride)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, rideCachePrefix+ride.ID, data, s.ttl).Err()
}

// InvalidateRide removes a ride from cache.
func (s *CacheStore) InvalidateRide(ctx context.Context, rideID string) error {
	return s.client.Del(ctx, rideCachePrefix+rideID).Err()
}
