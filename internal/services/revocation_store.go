package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationStore remembers refresh token ids that may not be used again.
type RevocationStore interface {
	// Revoke marks jti for ttl. It returns false when jti was already revoked.
	Revoke(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}

type redisRevocationStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisRevocationStore(rdb *redis.Client) RevocationStore {
	return &redisRevocationStore{rdb: rdb, prefix: "revoked_refresh:"}
}

func (s *redisRevocationStore) Revoke(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := s.rdb.SetNX(ctx, s.prefix+jti, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("revoke refresh: %w", err)
	}
	return ok, nil
}

type memoryRevocationStore struct {
	mu  sync.Mutex
	ids map[string]time.Time
	now func() time.Time
}

func NewMemoryRevocationStore() RevocationStore {
	return &memoryRevocationStore{ids: make(map[string]time.Time), now: time.Now}
}

func (s *memoryRevocationStore) Revoke(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, exp := range s.ids {
		if !now.Before(exp) {
			delete(s.ids, id)
		}
	}
	if _, ok := s.ids[jti]; ok {
		return false, nil
	}
	s.ids[jti] = now.Add(ttl)
	return true, nil
}
