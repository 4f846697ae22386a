package repository

import (
	"context"
	"time"
)

// BlacklistRepository stores revoked session tokens for a bounded TTL.
type BlacklistRepository interface {
	// Add revokes a token; adding the same token again is not an error.
	Add(ctx context.Context, token string) error
	// IsBlacklisted reports whether token was revoked within the TTL.
	IsBlacklisted(ctx context.Context, token string) (bool, error)
	// Purge physically removes records created before the cutoff.
	Purge(ctx context.Context, before time.Time) (int64, error)
}
