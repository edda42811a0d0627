package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"bizsim/internal/sim"
)

const citiesKey = "bizsim:cities"

// CachedStore wraps a primary Store with a Redis read-through cache for
// city reference data. Every other call goes straight to the primary.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: primary, rdb: rdb, ttl: ttl}
}

func (s *CachedStore) Cities(ctx context.Context) ([]sim.City, error) {
	data, err := s.rdb.Get(ctx, citiesKey).Bytes()
	if err == nil {
		var cities []sim.City
		if json.Unmarshal(data, &cities) == nil {
			return cities, nil
		}
	}

	cities, err := s.Store.Cities(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(cities); err == nil {
		s.rdb.Set(ctx, citiesKey, data, s.ttl)
	}
	return cities, nil
}

func (s *CachedStore) SeedCities(ctx context.Context, cities []sim.City) (int, error) {
	n, err := s.Store.SeedCities(ctx, cities)
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.rdb.Del(ctx, citiesKey)
	}
	return n, nil
}
