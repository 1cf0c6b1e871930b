/**
 * @description
 * This file defines the `Repository` and `Queries` interfaces of the ledger store.
 * `Queries` lists the individual statements the service composes into operations;
 * every guarded update reports whether its WHERE clause matched a row. `Repository`
 * runs a group of statements atomically through WithTx.
 *
 * @dependencies
 * - context, fmt, time: Standard Go libraries.
 * - internal/domain: For the ledger models and error kinds.
 */

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/domain"
)

// Not-found errors. Each wraps domain.ErrNotFound.
var (
	ErrUserNotFound       = fmt.Errorf("user %w", domain.ErrNotFound)
	ErrTaskNotFound       = fmt.Errorf("task %w", domain.ErrNotFound)
	ErrLeaseNotFound      = fmt.Errorf("lease %w", domain.ErrNotFound)
	ErrWithdrawalNotFound = fmt.Errorf("withdrawal %w", domain.ErrNotFound)
)

// Queries are the statements available inside and outside a transaction.
type Queries interface {
	// User methods
	CreateUser(ctx context.Context, user *domain.User) (bool, error)
	UpdateUsername(ctx context.Context, userID int64, username string) error
	FindUserByID(ctx context.Context, userID int64) (*domain.User, error)
	// FindUserForUpdate locks the user row until the transaction ends.
	FindUserForUpdate(ctx context.Context, userID int64) (*domain.User, error)
	CreditEarnings(ctx context.Context, userID int64, amount int64) error
	RefundBalance(ctx context.Context, userID int64, amount int64) error
	CreditReferralBonus(ctx context.Context, inviterID int64, amount int64) error
	DebitBalance(ctx context.Context, userID int64, amount int64) (bool, error)

	// Referral methods
	SetInvitedBy(ctx context.Context, userID, inviterID int64) (bool, error)
	ClearInvitedBy(ctx context.Context, userID int64) error
	IncrementRefCount(ctx context.Context, inviterID int64) error
	RecountReferrals(ctx context.Context, inviterID int64) (int, error)
	BlockReferral(ctx context.Context, referrerID, referralID int64, at time.Time) error
	IsReferralBlocked(ctx context.Context, referrerID, referralID int64) (bool, error)
	ListReferrals(ctx context.Context, inviterID int64) ([]domain.User, error)

	// Task methods
	CreateTask(ctx context.Context, task *domain.Task) error
	FindTaskByID(ctx context.Context, taskID int64) (*domain.Task, error)
	ListTasks(ctx context.Context) ([]domain.Task, error)
	ListAvailableTasks(ctx context.Context, userID int64) ([]domain.Task, error)
	ReserveTaskSlot(ctx context.Context, taskID int64) (bool, error)
	ReleaseTaskSlot(ctx context.Context, taskID int64) error
	DeactivateTaskIfFull(ctx context.Context, taskID int64) (bool, error)
	DeleteTask(ctx context.Context, taskID int64) (bool, error)

	// Lease methods
	CreateLease(ctx context.Context, lease *domain.Lease) error
	FindLeaseByID(ctx context.Context, leaseID int64) (*domain.Lease, error)
	FindOpenLeaseByUser(ctx context.Context, userID int64) (*domain.Lease, error)
	TransitionLease(ctx context.Context, leaseID int64, from, to domain.LeaseStatus, change domain.LeaseTransition) (bool, error)
	FindExpiredLeases(ctx context.Context, now time.Time, limit int) ([]domain.Lease, error)
	ListSubmittedLeases(ctx context.Context, limit int) ([]domain.Lease, error)

	// Withdrawal methods
	CreateWithdrawal(ctx context.Context, w *domain.Withdrawal) error
	FindWithdrawalByID(ctx context.Context, withdrawalID int64) (*domain.Withdrawal, error)
	TransitionWithdrawal(ctx context.Context, withdrawalID int64, from, to domain.WithdrawalStatus, reason *string, at time.Time) (bool, error)
	ListPendingWithdrawals(ctx context.Context) ([]domain.Withdrawal, error)
	ListUserWithdrawals(ctx context.Context, userID int64, limit int) ([]domain.Withdrawal, error)

	// Stats methods
	GetUserStats(ctx context.Context, userID int64) (*domain.UserStats, error)
	GetLedgerStats(ctx context.Context) (*domain.LedgerStats, error)
}

// Repository is the ledger store. Statements called on it directly run outside a
// transaction; WithTx commits fn's statements together or not at all.
type Repository interface {
	Queries
	WithTx(ctx context.Context, fn func(q Queries) error) error
}
