package app

import (
	"context"
	"fmt"
	"time"
)

// SweepLock keeps concurrent replicas from sweeping at the same time.
type SweepLock interface {
	Acquire(ctx context.Context, ttl time.Duration) (release func(), acquired bool, err error)
}

// RunExpirySweep expires every assigned lease whose deadline has passed and returns its slot.
// Each lease is expired in its own transaction. It returns the number of leases reclaimed.
func (s *Service) RunExpirySweep(ctx context.Context) (int, error) {
	reclaimed := 0
	failed := 0
	for {
		cutoff := s.clock()
		batch, err := s.repo.FindExpiredLeases(ctx, cutoff, s.rules.SweepBatchSize)
		if err != nil {
			sweepRunsTotal.WithLabelValues("error").Inc()
			return reclaimed, fmt.Errorf("find expired leases: %w", err)
		}

		expiredInBatch := 0
		for _, lease := range batch {
			if err := ctx.Err(); err != nil {
				reclaimed += expiredInBatch
				sweepReclaimedTotal.Add(float64(reclaimed))
				sweepRunsTotal.WithLabelValues("cancelled").Inc()
				return reclaimed, err
			}
			expired, err := s.expireLease(ctx, lease)
			if err != nil {
				failed++
				s.logger.Error("failed to expire lease", "lease_id", lease.ID, "task_id", lease.TaskID, "error", err)
				continue
			}
			if expired {
				expiredInBatch++
				s.logger.Info("lease expired", "lease_id", lease.ID, "user_id", lease.UserID, "task_id", lease.TaskID, "expires_at", lease.ExpiresAt)
			}
		}
		reclaimed += expiredInBatch

		// A short batch is the last one. A batch with no progress would select the same rows again.
		if len(batch) < s.rules.SweepBatchSize || expiredInBatch == 0 {
			break
		}
	}

	sweepReclaimedTotal.Add(float64(reclaimed))
	if failed > 0 {
		sweepRunsTotal.WithLabelValues("partial").Inc()
	} else {
		sweepRunsTotal.WithLabelValues("ok").Inc()
	}
	return reclaimed, nil
}
