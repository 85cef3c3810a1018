package cleanup

import (
	"context"
	"time"

	"github.com/shortkit/shortkit/pkg/shortkit/models"
	"github.com/shortkit/shortkit/pkg/shortkit/resolver"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Scheduler periodically removes expired and unused links. Removals go
// through the resolver's remove path so the store delete and the cache
// invalidation never diverge.
type Scheduler struct {
	db          *gorm.DB
	resolver    *resolver.Resolver
	log         *zap.Logger
	interval    time.Duration
	unusedAfter time.Duration
}

// NewScheduler creates a cleanup scheduler. A non-positive unusedAfter
// disables the unused-link sweep; only expiry is enforced then.
func NewScheduler(db *gorm.DB, r *resolver.Resolver, log *zap.Logger, interval, unusedAfter time.Duration) *Scheduler {
	return &Scheduler{
		db:          db,
		resolver:    r,
		log:         log,
		interval:    interval,
		unusedAfter: unusedAfter,
	}
}

// Start launches the sweep loop in its own goroutine. The first sweep
// runs immediately, then one per interval until the context is
// cancelled. A failed sweep never stops future cycles.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		s.Sweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Sweep runs one cleanup cycle and returns the number of expired and
// unused links removed
func (s *Scheduler) Sweep(ctx context.Context) (expired, unused int) {
	s.log.Info("starting link cleanup sweep")

	expired = s.sweepExpired(ctx)
	s.log.Info("expired links removed", zap.Int("count", expired))

	if s.unusedAfter > 0 {
		unused = s.sweepUnused(ctx)
		s.log.Info("unused links removed", zap.Int("count", unused))
	}

	return expired, unused
}

// removeAll deletes each candidate individually, counting and logging
// failures without aborting the batch
func (s *Scheduler) removeAll(ctx context.Context, candidates []models.Link) int {
	removed := 0
	for i := range candidates {
		if err := s.resolver.Remove(ctx, &candidates[i]); err != nil {
			s.log.Warn("cleanup removal failed",
				zap.String("short_code", candidates[i].ShortCode),
				zap.Error(err))
			continue
		}
		removed++
	}
	return removed
}

func (s *Scheduler) sweepExpired(ctx context.Context) int {
	var candidates []models.Link
	err := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", time.Now()).
		Find(&candidates).Error
	if err != nil {
		s.log.Error("expired link query failed", zap.Error(err))
		return 0
	}
	return s.removeAll(ctx, candidates)
}

func (s *Scheduler) sweepUnused(ctx context.Context) int {
	cutoff := time.Now().Add(-s.unusedAfter)

	var candidates []models.Link
	err := s.db.WithContext(ctx).
		Where("last_accessed_at < ? OR (last_accessed_at IS NULL AND created_at < ?)", cutoff, cutoff).
		Find(&candidates).Error
	if err != nil {
		s.log.Error("unused link query failed", zap.Error(err))
		return 0
	}
	return s.removeAll(ctx, candidates)
}
