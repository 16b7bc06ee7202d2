package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "meridian:challenge"

// RedisStore implements Store on Redis, for deployments where login round
// trips may land on different nodes. Expiry rides on the Redis TTL; Take
// uses GETDEL so consumption is atomic.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(sessionID string, kind Kind) string {
	return redisKeyPrefix + ":" + string(kind) + ":" + sessionID
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, sessionID string, kind Kind, payload []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(sessionID, kind), payload, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Take implements Store.
func (s *RedisStore) Take(ctx context.Context, sessionID string, kind Kind) ([]byte, error) {
	payload, err := s.client.GetDel(ctx, s.key(sessionID, kind)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return payload, nil
}
