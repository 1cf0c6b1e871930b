package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys for ledger events.
const (
	EventLeaseApproved      = "lease.approved"
	EventLeaseRejected      = "lease.rejected"
	EventLeaseExpired       = "lease.expired"
	EventWithdrawalApproved = "withdrawal.approved"
	EventWithdrawalRejected = "withdrawal.rejected"
	EventReferralBonus      = "referral.bonus_credited"
	EventUserStarted        = "user.started"
)

// LedgerEvent is the envelope published for every outbound notification.
type LedgerEvent struct {
	ID           uuid.UUID `json:"id"`
	Type         string    `json:"type"`
	UserID       int64     `json:"user_id"`
	LeaseID      *int64    `json:"lease_id,omitempty"`
	TaskID       *int64    `json:"task_id,omitempty"`
	TaskTitle    string    `json:"task_title,omitempty"`
	WithdrawalID *int64    `json:"withdrawal_id,omitempty"`
	Amount       int64     `json:"amount,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	FromUserID   *int64    `json:"from_user_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// UserStartedEvent is published by the chat layer when a user first contacts the bot.
type UserStartedEvent struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	InviterID *int64 `json:"inviter_id,omitempty"`
}
