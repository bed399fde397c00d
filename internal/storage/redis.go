package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisNonceRegistry enforces nonce single use across replicas of one
// key-share service. SETNX gives first-use-wins semantics; the TTL bounds the
// retention of consumed digests (an aborted session's nonce simply ages out,
// it can never be consumed again while a replay is still plausible).
type RedisNonceRegistry struct {
	client *redis.Client
	prefix string
}

func NewRedisNonceRegistry(client *redis.Client, prefix string) *RedisNonceRegistry {
	if prefix == "" {
		prefix = "mpc:nonce:"
	}
	return &RedisNonceRegistry{client: client, prefix: prefix}
}

func (r *RedisNonceRegistry) Consume(ctx context.Context, digest string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+digest, "1", ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "consume nonce")
	}
	return ok, nil
}
