package memory

import (
	"context"
	"sync"
	"time"
)

// BlacklistRepo is an in-memory BlacklistRepository with TTL semantics.
type BlacklistRepo struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	created map[string]time.Time
}

// NewBlacklistRepo constructs an empty blacklist whose records live for ttl.
func NewBlacklistRepo(ttl time.Duration) *BlacklistRepo {
	return &BlacklistRepo{ttl: ttl, now: time.Now, created: map[string]time.Time{}}
}

// WithClock overrides the time source (tests).
func (r *BlacklistRepo) WithClock(now func() time.Time) *BlacklistRepo {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
	return r
}

func (r *BlacklistRepo) Add(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if at, ok := r.created[token]; ok && at.After(r.now().Add(-r.ttl)) {
		return nil
	}
	r.created[token] = r.now()
	return nil
}

func (r *BlacklistRepo) IsBlacklisted(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.created[token]
	return ok && at.After(r.now().Add(-r.ttl)), nil
}

func (r *BlacklistRepo) Purge(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for tok, at := range r.created {
		if !at.After(before) {
			delete(r.created, tok)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records, expired or not.
func (r *BlacklistRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.created)
}
