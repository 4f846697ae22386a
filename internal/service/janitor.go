package service

import (
	"context"
	"time"

	"github.com/and161185/homestock/internal/repository"
	"go.uber.org/zap"
)

// RunBlacklistJanitor purges blacklist records older than ttl every interval
// until ctx is done. Expired records are already ignored by IsBlacklisted;
// this only reclaims storage.
func RunBlacklistJanitor(ctx context.Context, bl repository.BlacklistRepository, ttl, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := bl.Purge(ctx, now.Add(-ttl))
			if err != nil {
				log.Warn("blacklist purge", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Debug("blacklist purged", zap.Int64("removed", n))
			}
		}
	}
}
