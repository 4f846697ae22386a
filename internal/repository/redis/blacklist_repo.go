// Package redis contains Redis implementations of repository interfaces.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "homestock:blacklist:"

// BlacklistRepo keeps revoked tokens as keys expiring after ttl, so eviction
// is done by Redis itself.
type BlacklistRepo struct {
	rc  goredis.Cmdable
	ttl time.Duration
}

// NewBlacklistRepo constructs a Redis-backed blacklist.
func NewBlacklistRepo(rc goredis.Cmdable, ttl time.Duration) *BlacklistRepo {
	return &BlacklistRepo{rc: rc, ttl: ttl}
}

// Key returns the Redis key for token. Tokens are hashed to keep keys short.
func Key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Add stores the token unless already present; the first record's TTL wins.
func (r *BlacklistRepo) Add(ctx context.Context, token string) error {
	return r.rc.SetNX(ctx, Key(token), 1, r.ttl).Err()
}

// IsBlacklisted reports whether a non-expired key exists for token.
func (r *BlacklistRepo) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	n, err := r.rc.Exists(ctx, Key(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Purge is a no-op: Redis expires keys on its own.
func (r *BlacklistRepo) Purge(context.Context, time.Time) (int64, error) { return 0, nil }
