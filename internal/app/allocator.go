package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/domain"
	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/store"
)

// RateLimitedError is returned when a user exceeded the claim limit for the window.
type RateLimitedError struct {
	Attempts          int
	Limit             int
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: %d of %d claims used, retry after %ds", domain.ErrRateLimited, e.Attempts, e.Limit, e.RetryAfterSeconds)
}

func (e *RateLimitedError) Unwrap() error {
	return domain.ErrRateLimited
}

// ClaimTask reserves one slot of the task for the user and issues an assigned lease.
// The slot counter is taken with a guarded update; the lease insert shares its transaction.
func (s *Service) ClaimTask(ctx context.Context, userID, taskID int64) (*domain.Lease, error) {
	if err := s.consumeClaimRateLimit(ctx, userID, taskID); err != nil {
		claimsTotal.WithLabelValues("rate_limited").Inc()
		return nil, err
	}

	now := s.clock()
	var lease *domain.Lease
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		if _, err := q.FindUserForUpdate(ctx, userID); err != nil {
			return err
		}

		open, err := q.FindOpenLeaseByUser(ctx, userID)
		if err == nil && open != nil {
			return domain.ErrActiveLeaseExists
		}
		if err != nil && !errors.Is(err, store.ErrLeaseNotFound) {
			return err
		}

		if _, err := q.FindTaskByID(ctx, taskID); err != nil {
			return err
		}

		reserved, err := q.ReserveTaskSlot(ctx, taskID)
		if err != nil {
			return err
		}
		if !reserved {
			return domain.ErrSlotExhausted
		}

		lease = &domain.Lease{
			UserID:     userID,
			TaskID:     taskID,
			Status:     domain.LeaseAssigned,
			AssignedAt: now,
			ExpiresAt:  now.Add(s.rules.LeaseTTL),
		}
		return q.CreateLease(ctx, lease)
	})
	if err != nil {
		claimsTotal.WithLabelValues(claimOutcome(err)).Inc()
		s.logger.Info("task claim refused", "user_id", userID, "task_id", taskID, "error", err)
		return nil, fmt.Errorf("claim task %d: %w", taskID, err)
	}

	claimsTotal.WithLabelValues("claimed").Inc()
	s.logger.Info("task claimed", "user_id", userID, "task_id", taskID, "lease_id", lease.ID, "expires_at", lease.ExpiresAt)
	return lease, nil
}

func (s *Service) consumeClaimRateLimit(ctx context.Context, userID, taskID int64) error {
	if s.limiter == nil || s.rules.ClaimRateLimit <= 0 || s.rules.ClaimRateWindow <= 0 {
		return nil
	}
	throttle, err := s.limiter.ConsumeClaim(ctx, ClaimAttempt{
		UserID: userID,
		TaskID: taskID,
		At:     s.clock(),
		Limit:  s.rules.ClaimRateLimit,
		Window: s.rules.ClaimRateWindow,
	})
	if err != nil {
		// Fail open.
		s.logger.Warn("claim rate limiter unavailable", "user_id", userID, "task_id", taskID, "error", err)
		return nil
	}
	if throttle.Limited {
		return &RateLimitedError{
			Attempts:          throttle.Attempts,
			Limit:             s.rules.ClaimRateLimit,
			RetryAfterSeconds: throttle.RetryAfterSeconds,
		}
	}
	return nil
}

func claimOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrSlotExhausted):
		return "slot_exhausted"
	case errors.Is(err, domain.ErrActiveLeaseExists):
		return "active_lease_exists"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// ListAvailableTasks returns the tasks the user could claim right now.
func (s *Service) ListAvailableTasks(ctx context.Context, userID int64) ([]domain.Task, error) {
	tasks, err := s.repo.ListAvailableTasks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list available tasks: %w", err)
	}
	return tasks, nil
}
