package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/domain"
	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/store"
)

var hundred = decimal.NewFromInt(100)

// creditApproval pays the task price to the user. It runs only inside the approve transaction.
func (s *Service) creditApproval(ctx context.Context, q store.Queries, userID int64, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if err := q.CreditEarnings(ctx, userID, amount); err != nil {
		return fmt.Errorf("credit approval: %w", err)
	}
	return nil
}

// ReferralBonus returns amount * percent / 100, truncated to whole minor units.
func ReferralBonus(amount int64, percent decimal.Decimal) int64 {
	if amount <= 0 || !percent.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(percent).Div(hundred).Floor().IntPart()
}

// FormatBankDetails renders payout details in the layout operators read in the review queue.
func FormatBankDetails(bank, cardOrPhone, recipient string) string {
	return fmt.Sprintf("%s | Карта/Телефон: %s | %s",
		strings.TrimSpace(bank), strings.TrimSpace(cardOrPhone), strings.TrimSpace(recipient))
}

// RequestWithdrawal debits the amount immediately and records a pending withdrawal, so the
// same balance cannot be requested twice.
func (s *Service) RequestWithdrawal(ctx context.Context, userID int64, amount int64, bankDetails string) (*domain.Withdrawal, error) {
	bankDetails = strings.TrimSpace(bankDetails)
	if bankDetails == "" {
		return nil, fmt.Errorf("bank details are required: %w", domain.ErrInvalidInput)
	}
	if amount < s.rules.MinWithdrawal {
		return nil, fmt.Errorf("minimum is %d: %w", s.rules.MinWithdrawal, domain.ErrBelowMinimumWithdrawal)
	}

	now := s.clock()
	var withdrawal *domain.Withdrawal
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		user, err := q.FindUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		debited, err := q.DebitBalance(ctx, userID, amount)
		if err != nil {
			return err
		}
		if !debited {
			return fmt.Errorf("balance %d, requested %d: %w", user.Balance, amount, domain.ErrInsufficientBalance)
		}

		withdrawal = &domain.Withdrawal{
			UserID:      userID,
			Username:    user.Username,
			Amount:      amount,
			Status:      domain.WithdrawalPending,
			BankDetails: bankDetails,
			CreatedAt:   now,
		}
		return q.CreateWithdrawal(ctx, withdrawal)
	})
	if err != nil {
		s.logger.Info("withdrawal request refused", "user_id", userID, "amount", amount, "error", err)
		return nil, fmt.Errorf("request withdrawal: %w", err)
	}

	withdrawalsTotal.WithLabelValues(string(domain.WithdrawalPending)).Inc()
	s.logger.Info("withdrawal requested", "withdrawal_id", withdrawal.ID, "user_id", userID, "amount", amount)
	return withdrawal, nil
}

// ApproveWithdrawal marks a pending withdrawal approved and pays the one-hop referral bonus in
// the same transaction. A second call finds the row no longer pending and pays nothing.
func (s *Service) ApproveWithdrawal(ctx context.Context, withdrawalID int64) (*domain.WithdrawalApproval, error) {
	now := s.clock()
	result := &domain.WithdrawalApproval{}
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		current, err := q.FindWithdrawalByID(ctx, withdrawalID)
		if err != nil {
			return err
		}

		ok, err := q.TransitionWithdrawal(ctx, withdrawalID, domain.WithdrawalPending, domain.WithdrawalApproved, nil, now)
		if err != nil {
			return err
		}
		if !ok {
			return invalidWithdrawalTransition(current, domain.WithdrawalApproved)
		}

		inviterID, bonus, err := s.payReferralBonus(ctx, q, current)
		if err != nil {
			return err
		}
		result.InviterID = inviterID
		result.Bonus = bonus

		result.Withdrawal, err = q.FindWithdrawalByID(ctx, withdrawalID)
		return err
	})
	if err != nil {
		s.logWithdrawalFailure("approve", withdrawalID, err)
		return nil, fmt.Errorf("approve withdrawal %d: %w", withdrawalID, err)
	}

	w := result.Withdrawal
	withdrawalsTotal.WithLabelValues(string(domain.WithdrawalApproved)).Inc()
	s.logger.Info("withdrawal approved", "withdrawal_id", w.ID, "user_id", w.UserID, "amount", w.Amount, "bonus", result.Bonus)
	s.notify(domain.LedgerEvent{
		Type:         domain.EventWithdrawalApproved,
		UserID:       w.UserID,
		WithdrawalID: &w.ID,
		Amount:       w.Amount,
	})
	if result.InviterID != nil && result.Bonus > 0 {
		referralBonusTotal.Add(float64(result.Bonus))
		s.notify(domain.LedgerEvent{
			Type:         domain.EventReferralBonus,
			UserID:       *result.InviterID,
			WithdrawalID: &w.ID,
			Amount:       result.Bonus,
			FromUserID:   &w.UserID,
		})
	}
	return result, nil
}

// payReferralBonus credits the withdrawing user's current inviter, if there still is one.
func (s *Service) payReferralBonus(ctx context.Context, q store.Queries, w *domain.Withdrawal) (*int64, int64, error) {
	bonus := ReferralBonus(w.Amount, s.rules.ReferralPercent)
	if bonus <= 0 {
		return nil, 0, nil
	}

	user, err := q.FindUserByID(ctx, w.UserID)
	if err != nil {
		return nil, 0, err
	}
	if user.InvitedBy == nil || *user.InvitedBy == user.ID {
		return nil, 0, nil
	}

	inviterID := *user.InvitedBy
	if err := q.CreditReferralBonus(ctx, inviterID, bonus); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	return &inviterID, bonus, nil
}

// RejectWithdrawal marks a pending withdrawal rejected and returns the debited amount.
func (s *Service) RejectWithdrawal(ctx context.Context, withdrawalID int64, reason string) (*domain.Withdrawal, error) {
	reason = strings.TrimSpace(reason)
	now := s.clock()
	var withdrawal *domain.Withdrawal
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		current, err := q.FindWithdrawalByID(ctx, withdrawalID)
		if err != nil {
			return err
		}

		ok, err := q.TransitionWithdrawal(ctx, withdrawalID, domain.WithdrawalPending, domain.WithdrawalRejected, &reason, now)
		if err != nil {
			return err
		}
		if !ok {
			return invalidWithdrawalTransition(current, domain.WithdrawalRejected)
		}

		if err := q.RefundBalance(ctx, current.UserID, current.Amount); err != nil {
			return err
		}

		withdrawal, err = q.FindWithdrawalByID(ctx, withdrawalID)
		return err
	})
	if err != nil {
		s.logWithdrawalFailure("reject", withdrawalID, err)
		return nil, fmt.Errorf("reject withdrawal %d: %w", withdrawalID, err)
	}

	withdrawalsTotal.WithLabelValues(string(domain.WithdrawalRejected)).Inc()
	s.logger.Info("withdrawal rejected", "withdrawal_id", withdrawal.ID, "user_id", withdrawal.UserID, "amount", withdrawal.Amount, "reason", reason)
	s.notify(domain.LedgerEvent{
		Type:         domain.EventWithdrawalRejected,
		UserID:       withdrawal.UserID,
		WithdrawalID: &withdrawal.ID,
		Amount:       withdrawal.Amount,
		Reason:       reason,
	})
	return withdrawal, nil
}

func invalidWithdrawalTransition(current *domain.Withdrawal, to domain.WithdrawalStatus) error {
	return fmt.Errorf("withdrawal %d is %s, cannot become %s: %w", current.ID, current.Status, to, domain.ErrInvalidTransition)
}

func (s *Service) logWithdrawalFailure(action string, withdrawalID int64, err error) {
	if isExpectedOutcome(err) {
		s.logger.Warn("withdrawal transition refused", "action", action, "withdrawal_id", withdrawalID, "error", err)
		return
	}
	s.logger.Error("withdrawal transition failed", "action", action, "withdrawal_id", withdrawalID, "error", err)
}

// ListPendingWithdrawals returns the payout review queue, oldest first.
func (s *Service) ListPendingWithdrawals(ctx context.Context) ([]domain.Withdrawal, error) {
	items, err := s.repo.ListPendingWithdrawals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending withdrawals: %w", err)
	}
	return items, nil
}

// ListUserWithdrawals returns the user's most recent withdrawals.
func (s *Service) ListUserWithdrawals(ctx context.Context, userID int64) ([]domain.Withdrawal, error) {
	if _, err := s.repo.FindUserByID(ctx, userID); err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	items, err := s.repo.ListUserWithdrawals(ctx, userID, defaultListLimit)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	return items, nil
}

// isExpectedOutcome reports whether err is a domain outcome rather than a failure.
func isExpectedOutcome(err error) bool {
	for _, kind := range []error{
		domain.ErrInvalidTransition,
		domain.ErrNotFound,
		domain.ErrSlotExhausted,
		domain.ErrActiveLeaseExists,
		domain.ErrInsufficientBalance,
		domain.ErrBelowMinimumWithdrawal,
		domain.ErrInvalidInput,
		domain.ErrRateLimited,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
