package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/domain"
	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/store"
)

// SubmitEvidence moves the user's assigned lease to submitted. The slot count is unchanged.
func (s *Service) SubmitEvidence(ctx context.Context, userID, leaseID int64, evidenceRef string) (*domain.Lease, error) {
	evidenceRef = strings.TrimSpace(evidenceRef)
	if evidenceRef == "" {
		return nil, fmt.Errorf("evidence reference is required: %w", domain.ErrInvalidInput)
	}

	now := s.clock()
	var lease *domain.Lease
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		current, err := q.FindLeaseByID(ctx, leaseID)
		if err != nil {
			return err
		}
		if current.UserID != userID {
			return store.ErrLeaseNotFound
		}

		ok, err := q.TransitionLease(ctx, leaseID, domain.LeaseAssigned, domain.LeaseSubmitted, domain.LeaseTransition{
			At:          now,
			EvidenceRef: &evidenceRef,
		})
		if err != nil {
			return err
		}
		if !ok {
			return invalidLeaseTransition(current, domain.LeaseSubmitted)
		}

		lease, err = q.FindLeaseByID(ctx, leaseID)
		return err
	})
	if err != nil {
		s.logTransitionFailure("submit", leaseID, err)
		return nil, fmt.Errorf("submit lease %d: %w", leaseID, err)
	}

	leaseTransitionsTotal.WithLabelValues(string(domain.LeaseSubmitted)).Inc()
	s.logger.Info("lease submitted", "lease_id", leaseID, "user_id", userID, "task_id", lease.TaskID)
	return lease, nil
}

// ApproveLease finalises a submitted lease and credits the task price to the user in the
// same transaction. current_completions is not touched; the slot was taken at claim time.
func (s *Service) ApproveLease(ctx context.Context, leaseID int64) (*domain.Lease, error) {
	now := s.clock()
	var (
		lease *domain.Lease
		task  *domain.Task
	)
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		current, err := q.FindLeaseByID(ctx, leaseID)
		if err != nil {
			return err
		}
		task, err = q.FindTaskByID(ctx, current.TaskID)
		if err != nil {
			return err
		}

		ok, err := q.TransitionLease(ctx, leaseID, domain.LeaseSubmitted, domain.LeaseApproved, domain.LeaseTransition{At: now})
		if err != nil {
			return err
		}
		if !ok {
			return invalidLeaseTransition(current, domain.LeaseApproved)
		}

		if err := s.creditApproval(ctx, q, current.UserID, task.Price); err != nil {
			return err
		}
		if _, err := q.DeactivateTaskIfFull(ctx, task.ID); err != nil {
			return err
		}

		lease, err = q.FindLeaseByID(ctx, leaseID)
		return err
	})
	if err != nil {
		s.logTransitionFailure("approve", leaseID, err)
		return nil, fmt.Errorf("approve lease %d: %w", leaseID, err)
	}

	leaseTransitionsTotal.WithLabelValues(string(domain.LeaseApproved)).Inc()
	s.logger.Info("lease approved", "lease_id", leaseID, "user_id", lease.UserID, "task_id", task.ID, "amount", task.Price)
	s.notify(domain.LedgerEvent{
		Type:      domain.EventLeaseApproved,
		UserID:    lease.UserID,
		LeaseID:   &lease.ID,
		TaskID:    &task.ID,
		TaskTitle: task.Title,
		Amount:    task.Price,
	})
	return lease, nil
}

// RejectLease rejects a submitted lease and gives its slot back to the task.
func (s *Service) RejectLease(ctx context.Context, leaseID int64, reason string) (*domain.Lease, error) {
	reason = strings.TrimSpace(reason)
	now := s.clock()
	var (
		lease *domain.Lease
		task  *domain.Task
	)
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		current, err := q.FindLeaseByID(ctx, leaseID)
		if err != nil {
			return err
		}

		ok, err := q.TransitionLease(ctx, leaseID, domain.LeaseSubmitted, domain.LeaseRejected, domain.LeaseTransition{
			At:           now,
			RejectReason: &reason,
		})
		if err != nil {
			return err
		}
		if !ok {
			return invalidLeaseTransition(current, domain.LeaseRejected)
		}

		if err := q.ReleaseTaskSlot(ctx, current.TaskID); err != nil {
			return err
		}
		if task, err = q.FindTaskByID(ctx, current.TaskID); err != nil {
			return err
		}

		lease, err = q.FindLeaseByID(ctx, leaseID)
		return err
	})
	if err != nil {
		s.logTransitionFailure("reject", leaseID, err)
		return nil, fmt.Errorf("reject lease %d: %w", leaseID, err)
	}

	leaseTransitionsTotal.WithLabelValues(string(domain.LeaseRejected)).Inc()
	s.logger.Info("lease rejected", "lease_id", leaseID, "user_id", lease.UserID, "task_id", task.ID, "reason", reason)
	s.notify(domain.LedgerEvent{
		Type:      domain.EventLeaseRejected,
		UserID:    lease.UserID,
		LeaseID:   &lease.ID,
		TaskID:    &task.ID,
		TaskTitle: task.Title,
		Reason:    reason,
	})
	return lease, nil
}

// expireLease is the sweeper's transition. It matches only an assigned lease whose deadline
// has passed, so a submission that committed first turns it into a no-op.
func (s *Service) expireLease(ctx context.Context, lease domain.Lease) (bool, error) {
	now := s.clock()
	expired := false
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		ok, err := q.TransitionLease(ctx, lease.ID, domain.LeaseAssigned, domain.LeaseExpired, domain.LeaseTransition{
			At:                   now,
			RequireExpiredBefore: &now,
		})
		if err != nil || !ok {
			return err
		}
		if err := q.ReleaseTaskSlot(ctx, lease.TaskID); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("expire lease %d: %w", lease.ID, err)
	}
	if expired {
		leaseTransitionsTotal.WithLabelValues(string(domain.LeaseExpired)).Inc()
		s.notify(domain.LedgerEvent{
			Type:    domain.EventLeaseExpired,
			UserID:  lease.UserID,
			LeaseID: &lease.ID,
			TaskID:  &lease.TaskID,
		})
	}
	return expired, nil
}

func invalidLeaseTransition(current *domain.Lease, to domain.LeaseStatus) error {
	return fmt.Errorf("lease %d is %s, cannot become %s: %w", current.ID, current.Status, to, domain.ErrInvalidTransition)
}

func (s *Service) logTransitionFailure(action string, leaseID int64, err error) {
	if isExpectedOutcome(err) {
		s.logger.Warn("lease transition refused", "action", action, "lease_id", leaseID, "error", err)
		return
	}
	s.logger.Error("lease transition failed", "action", action, "lease_id", leaseID, "error", err)
}

// ListSubmittedLeases returns the operator review queue, oldest submission first.
func (s *Service) ListSubmittedLeases(ctx context.Context) ([]domain.Lease, error) {
	leases, err := s.repo.ListSubmittedLeases(ctx, defaultListLimit)
	if err != nil {
		return nil, fmt.Errorf("list submitted leases: %w", err)
	}
	return leases, nil
}

// GetLease returns a lease by id.
func (s *Service) GetLease(ctx context.Context, leaseID int64) (*domain.Lease, error) {
	lease, err := s.repo.FindLeaseByID(ctx, leaseID)
	if err != nil {
		return nil, fmt.Errorf("get lease %d: %w", leaseID, err)
	}
	return lease, nil
}

// CreateTask registers a task with all of its slots free.
func (s *Service) CreateTask(ctx context.Context, input domain.NewTask) (*domain.Task, error) {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return nil, fmt.Errorf("task title is required: %w", domain.ErrInvalidInput)
	}
	if input.Price <= 0 {
		return nil, fmt.Errorf("task price must be positive: %w", domain.ErrInvalidInput)
	}
	if input.MaxCompletions < 1 {
		return nil, fmt.Errorf("max completions must be at least 1: %w", domain.ErrInvalidInput)
	}

	task := &domain.Task{
		Title:          input.Title,
		Description:    strings.TrimSpace(input.Description),
		Instruction:    strings.TrimSpace(input.Instruction),
		Link:           strings.TrimSpace(input.Link),
		Price:          input.Price,
		MaxCompletions: input.MaxCompletions,
		CreatedAt:      s.clock(),
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.logger.Info("task created", "task_id", task.ID, "price", task.Price, "max_completions", task.MaxCompletions)
	return task, nil
}

// DeleteTask removes a task together with all of its leases.
func (s *Service) DeleteTask(ctx context.Context, taskID int64) error {
	deleted, err := s.repo.DeleteTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("delete task %d: %w", taskID, err)
	}
	if !deleted {
		return fmt.Errorf("delete task %d: %w", taskID, store.ErrTaskNotFound)
	}
	s.logger.Info("task deleted", "task_id", taskID)
	return nil
}

// ListTasks returns every task, newest first.
func (s *Service) ListTasks(ctx context.Context) ([]domain.Task, error) {
	tasks, err := s.repo.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// GetTask returns a task by id.
func (s *Service) GetTask(ctx context.Context, taskID int64) (*domain.Task, error) {
	task, err := s.repo.FindTaskByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", taskID, err)
	}
	return task, nil
}
