package postgres

import (
	"context"
	"time"
)

// BlacklistRepo implements BlacklistRepository using PostgreSQL.
// Rows older than ttl are ignored on read and removed by Purge.
type BlacklistRepo struct {
	db  *DB
	ttl time.Duration
	now func() time.Time
}

// NewBlacklistRepo constructs a blacklist repository with the given record TTL.
func NewBlacklistRepo(db *DB, ttl time.Duration) *BlacklistRepo {
	return &BlacklistRepo{db: db, ttl: ttl, now: time.Now}
}

// Add inserts the token; a duplicate keeps the original record.
func (r *BlacklistRepo) Add(ctx context.Context, token string) error {
	const q = `
INSERT INTO blacklisted_tokens (token, created_at)
VALUES ($1, $2)
ON CONFLICT (token) DO NOTHING`
	_, err := r.db.Pool.Exec(ctx, q, token, r.now())
	return err
}

// IsBlacklisted reports whether a live record exists for token.
func (r *BlacklistRepo) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM blacklisted_tokens WHERE token=$1 AND created_at > $2)`
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q, token, r.now().Add(-r.ttl)).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Purge deletes records created before the cutoff.
func (r *BlacklistRepo) Purge(ctx context.Context, before time.Time) (int64, error) {
	const q = `DELETE FROM blacklisted_tokens WHERE created_at <= $1`
	tag, err := r.db.Pool.Exec(ctx, q, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
