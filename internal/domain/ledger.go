/**
 * @description
 * This file defines the core domain models for the task ledger: users, tasks,
 * leases, withdrawals and blocked referral pairs, plus the request and
 * statistics shapes shared by the service and API layers.
 *
 * @dependencies
 * - time: Standard Go library.
 */

package domain

import "time"

// LeaseTTL is the default lifetime of an assigned lease.
const LeaseTTL = 15 * time.Minute

// LeaseStatus is the lifecycle state of a lease.
type LeaseStatus string

const (
	LeaseAssigned  LeaseStatus = "assigned"
	LeaseSubmitted LeaseStatus = "submitted"
	LeaseApproved  LeaseStatus = "approved"
	LeaseRejected  LeaseStatus = "rejected"
	LeaseExpired   LeaseStatus = "expired"
)

// IsOpen reports whether the lease still holds the user's single active slot.
func (s LeaseStatus) IsOpen() bool {
	return s == LeaseAssigned || s == LeaseSubmitted
}

// WithdrawalStatus is the review state of a withdrawal.
type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

// User is a participant identified by the chat platform id.
// Monetary fields are minor units (kopecks).
type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Balance      int64     `json:"balance" db:"balance"`
	TotalEarned  int64     `json:"total_earned" db:"total_earned"`
	RefCount     int       `json:"ref_count" db:"ref_count"`
	RefEarned    int64     `json:"ref_earned" db:"ref_earned"`
	InvitedBy    *int64    `json:"invited_by,omitempty" db:"invited_by"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`
}

// Task is an operator-created unit of work with a fixed number of slots.
type Task struct {
	ID                 int64     `json:"id" db:"id"`
	Title              string    `json:"title" db:"title"`
	Description        string    `json:"description" db:"description"`
	Instruction        string    `json:"instruction" db:"instruction"`
	Link               string    `json:"link" db:"link"`
	Price              int64     `json:"price" db:"price"`
	MaxCompletions     int       `json:"max_completions" db:"max_completions"`
	CurrentCompletions int       `json:"current_completions" db:"current_completions"`
	IsActive           bool      `json:"is_active" db:"is_active"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// RemainingSlots returns the capacity still available for new leases.
func (t Task) RemainingSlots() int {
	if t.CurrentCompletions >= t.MaxCompletions {
		return 0
	}
	return t.MaxCompletions - t.CurrentCompletions
}

// Lease is one user's time-bounded claim on one slot of a task.
type Lease struct {
	ID           int64       `json:"id" db:"id"`
	UserID       int64       `json:"user_id" db:"user_id"`
	TaskID       int64       `json:"task_id" db:"task_id"`
	Status       LeaseStatus `json:"status" db:"status"`
	AssignedAt   time.Time   `json:"assigned_at" db:"assigned_at"`
	ExpiresAt    time.Time   `json:"expires_at" db:"expires_at"`
	SubmittedAt  *time.Time  `json:"submitted_at,omitempty" db:"submitted_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
	EvidenceRef  *string     `json:"evidence_ref,omitempty" db:"evidence_ref"`
	RejectReason *string     `json:"reject_reason,omitempty" db:"reject_reason"`
}

// LeaseTransition carries the fields written alongside a lease status change.
type LeaseTransition struct {
	At           time.Time
	EvidenceRef  *string
	RejectReason *string

	// RequireExpiredBefore guards expiry: the row only matches when expires_at < this instant.
	RequireExpiredBefore *time.Time
}

// Withdrawal is a payout request. The amount is debited from the balance at request time.
type Withdrawal struct {
	ID           int64            `json:"id" db:"id"`
	UserID       int64            `json:"user_id" db:"user_id"`
	Username     string           `json:"username" db:"username"`
	Amount       int64            `json:"amount" db:"amount"`
	Status       WithdrawalStatus `json:"status" db:"status"`
	BankDetails  string           `json:"bank_details" db:"bank_details"`
	RejectReason *string          `json:"reject_reason,omitempty" db:"reject_reason"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	ProcessedAt  *time.Time       `json:"processed_at,omitempty" db:"processed_at"`
}

// BlockedReferral prevents the pair from being linked again.
type BlockedReferral struct {
	ReferrerID int64     `json:"referrer_id" db:"referrer_id"`
	ReferralID int64     `json:"referral_id" db:"referral_id"`
	BlockedAt  time.Time `json:"blocked_at" db:"blocked_at"`
}

// NewTask is the operator input for creating a task.
type NewTask struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	Instruction    string `json:"instruction"`
	Link           string `json:"link"`
	Price          int64  `json:"price"`
	MaxCompletions int    `json:"max_completions"`
}

// LinkOutcome describes what LinkReferral did.
type LinkOutcome string

const (
	LinkLinked         LinkOutcome = "linked"
	LinkSelf           LinkOutcome = "self"
	LinkInviterMissing LinkOutcome = "inviter_missing"
	LinkBlocked        LinkOutcome = "blocked"
	LinkAlreadyLinked  LinkOutcome = "already_linked"
)

// WithdrawalApproval is the result of approving a withdrawal.
type WithdrawalApproval struct {
	Withdrawal *Withdrawal `json:"withdrawal"`
	InviterID  *int64      `json:"inviter_id,omitempty"`
	Bonus      int64       `json:"bonus"`
}

// UserStats summarises one user's activity.
type UserStats struct {
	UserID          int64 `json:"user_id"`
	Balance         int64 `json:"balance"`
	TotalEarned     int64 `json:"total_earned"`
	RefCount        int   `json:"ref_count"`
	RefEarned       int64 `json:"ref_earned"`
	CompletedLeases int   `json:"completed_leases"`
	RejectedLeases  int   `json:"rejected_leases"`
	ActiveLeases    int   `json:"active_leases"`
	ApprovedEarning int64 `json:"approved_earning"`
}

// LedgerStats is the operator dashboard summary.
type LedgerStats struct {
	TotalUsers         int   `json:"total_users"`
	ActiveTasks        int   `json:"active_tasks"`
	SubmittedLeases    int   `json:"submitted_leases"`
	PendingWithdrawals int   `json:"pending_withdrawals"`
	PendingAmount      int64 `json:"pending_amount"`
	TotalBalance       int64 `json:"total_balance"`
	TotalEarned        int64 `json:"total_earned"`
}
