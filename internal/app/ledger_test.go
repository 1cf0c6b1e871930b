package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/domain"
)

func TestWithdrawal_ApprovePaysInviterBonus(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, testRules())
	l.register(t, 1, nil)
	l.register(t, 2, int64Ptr(1))
	l.earn(t, 2, 500)

	withdrawal, err := l.svc.RequestWithdrawal(ctx, 2, 300, FormatBankDetails("Sber", "2202 0000 0000 0000", "Ivan"))
	if err != nil {
		t.Fatalf("RequestWithdrawal returned error: %v", err)
	}
	if withdrawal.Status != domain.WithdrawalPending || withdrawal.Amount != 300 {
		t.Fatalf("unexpected withdrawal %#v", withdrawal)
	}
	if got := l.user(t, 2).Balance; got != 200 {
		t.Fatalf("expected balance 200 after request, got %d", got)
	}

	approval, err := l.svc.ApproveWithdrawal(ctx, withdrawal.ID)
	if err != nil {
		t.Fatalf("ApproveWithdrawal returned error: %v", err)
	}
	if approval.Withdrawal.Status != domain.WithdrawalApproved || approval.Withdrawal.ProcessedAt == nil {
		t.Fatalf("expected approved withdrawal with processed time, got %#v", approval.Withdrawal)
	}
	if approval.Bonus != 30 || approval.InviterID == nil || *approval.InviterID != 1 {
		t.Fatalf("expected bonus 30 to inviter 1, got %d to %v", approval.Bonus, approval.InviterID)
	}

	inviter := l.user(t, 1)
	if inviter.Balance != 30 || inviter.RefEarned != 30 {
		t.Fatalf("expected inviter balance and ref_earned 30, got %d and %d", inviter.Balance, inviter.RefEarned)
	}
	if got := l.user(t, 2).Balance; got != 200 {
		t.Fatalf("expected withdrawing user balance to stay 200, got %d", got)
	}

	bonusEvents := l.notifier.waitFor(t, domain.EventReferralBonus, 1)
	if bonusEvents[0].UserID != 1 || bonusEvents[0].Amount != 30 || bonusEvents[0].FromUserID == nil || *bonusEvents[0].FromUserID != 2 {
		t.Fatalf("unexpected bonus event %#v", bonusEvents[0])
	}
	l.notifier.waitFor(t, domain.EventWithdrawalApproved, 1)

	// Approving twice pays nothing more.
	if _, err := l.svc.ApproveWithdrawal(ctx, withdrawal.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second approve, got %v", err)
	}
	if _, err := l.svc.RejectWithdrawal(ctx, withdrawal.ID, "late"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on reject after approve, got %v", err)
	}
	if got := l.user(t, 1).Balance; got != 30 {
		t.Fatalf("expected inviter balance to stay 30, got %d", got)
	}
	if got := l.user(t, 2).Balance; got != 200 {
		t.Fatalf("expected balance to stay 200, got %d", got)
	}
}

func TestWithdrawal_ApproveWithoutInviterPaysNoBonus(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, testRules())
	l.register(t, 2, nil)
	l.earn(t, 2, 500)

	withdrawal, err := l.svc.RequestWithdrawal(ctx, 2, 500, "card 1234")
	if err != nil {
		t.Fatalf("RequestWithdrawal returned error: %v", err)
	}
	approval, err := l.svc.ApproveWithdrawal(ctx, withdrawal.ID)
	if err != nil {
		t.Fatalf("ApproveWithdrawal returned error: %v", err)
	}
	if approval.Bonus != 0 || approval.InviterID != nil {
		t.Fatalf("expected no bonus, got %d to %v", approval.Bonus, approval.InviterID)
	}
}

func TestWithdrawal_RejectRefundsBalance(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, testRules())
	l.register(t, 1, nil)
	l.register(t, 2, int64Ptr(1))
	l.earn(t, 2, 500)

	withdrawal, err := l.svc.RequestWithdrawal(ctx, 2, 300, "card 1234")
	if err != nil {
		t.Fatalf("RequestWithdrawal returned error: %v", err)
	}
	rejected, err := l.svc.RejectWithdrawal(ctx, withdrawal.ID, "wrong card")
	if err != nil {
		t.Fatalf("RejectWithdrawal returned error: %v", err)
	}
	if rejected.Status != domain.WithdrawalRejected || rejected.RejectReason == nil || *rejected.RejectReason != "wrong card" {
		t.Fatalf("unexpected rejected withdrawal %#v", rejected)
	}

	user := l.user(t, 2)
	if user.Balance != 500 {
		t.Fatalf("expected balance restored to 500, got %d", user.Balance)
	}
	if user.TotalEarned != 500 {
		t.Fatalf("expected total earned unchanged at 500, got %d", user.TotalEarned)
	}
	if got := l.user(t, 1).Balance; got != 0 {
		t.Fatalf("expected no bonus on rejection, got %d", got)
	}
	l.notifier.waitFor(t, domain.EventWithdrawalRejected, 1)

	if _, err := l.svc.RejectWithdrawal(ctx, withdrawal.ID, "again"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if got := l.user(t, 2).Balance; got != 500 {
		t.Fatalf("expected a single refund, got balance %d", got)
	}
}

func TestRequestWithdrawal_Refusals(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, testRules())
	l.register(t, 1, nil)
	l.earn(t, 1, 250)

	tests := []struct {
		name    string
		userID  int64
		amount  int64
		details string
		want    error
	}{
		{name: "below minimum", userID: 1, amount: 199, details: "card", want: domain.ErrBelowMinimumWithdrawal},
		{name: "more than balance", userID: 1, amount: 251, details: "card", want: domain.ErrInsufficientBalance},
		{name: "missing bank details", userID: 1, amount: 200, details: " ", want: domain.ErrInvalidInput},
		{name: "unknown user", userID: 99, amount: 200, details: "card", want: domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := l.svc.RequestWithdrawal(ctx, tt.userID, tt.amount, tt.details); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if got := l.user(t, 1).Balance; got != 250 {
		t.Fatalf("expected refused requests to leave balance at 250, got %d", got)
	}

	// The full balance can be withdrawn, after which nothing is left.
	if _, err := l.svc.RequestWithdrawal(ctx, 1, 250, "card"); err != nil {
		t.Fatalf("RequestWithdrawal returned error: %v", err)
	}
	if _, err := l.svc.RequestWithdrawal(ctx, 1, 200, "card"); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance once drained, got %v", err)
	}

	pending, err := l.svc.ListPendingWithdrawals(ctx)
	if err != nil {
		t.Fatalf("ListPendingWithdrawals returned error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending withdrawal, got %d", len(pending))
	}
	mine, err := l.svc.ListUserWithdrawals(ctx, 1)
	if err != nil {
		t.Fatalf("ListUserWithdrawals returned error: %v", err)
	}
	if len(mine) != 1 || mine[0].BankDetails != "card" {
		t.Fatalf("unexpected user withdrawals %#v", mine)
	}
}

func TestReferralBonus(t *testing.T) {
	tests := []struct {
		name    string
		amount  int64
		percent decimal.Decimal
		want    int64
	}{
		{name: "ten percent", amount: 300, percent: decimal.NewFromInt(10), want: 30},
		{name: "rounds down", amount: 299, percent: decimal.NewFromInt(10), want: 29},
		{name: "fractional percent", amount: 20000, percent: decimal.RequireFromString("2.5"), want: 500},
		{name: "zero percent", amount: 300, percent: decimal.Zero, want: 0},
		{name: "zero amount", amount: 0, percent: decimal.NewFromInt(10), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReferralBonus(tt.amount, tt.percent); got != tt.want {
				t.Fatalf("ReferralBonus(%d, %s) = %d, want %d", tt.amount, tt.percent, got, tt.want)
			}
		})
	}
}

func TestFormatBankDetails(t *testing.T) {
	got := FormatBankDetails(" Tinkoff ", "+7 999 000 00 00", "Anna K. ")
	want := "Tinkoff | Карта/Телефон: +7 999 000 00 00 | Anna K."
	if got != want {
		t.Fatalf("FormatBankDetails() = %q, want %q", got, want)
	}
}

func TestRequestWithdrawal_ConcurrentRequestsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, testRules())
	l.register(t, 1, nil)
	l.earn(t, 1, 500)

	const racers = 10
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		accepted     int
		insufficient int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.svc.RequestWithdrawal(ctx, 1, 300, "card")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domain.ErrInsufficientBalance):
				insufficient++
			default:
				t.Errorf("unexpected RequestWithdrawal error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 1 || insufficient != racers-1 {
		t.Fatalf("expected 1 accepted and %d refused, got %d and %d", racers-1, accepted, insufficient)
	}
	if got := l.user(t, 1).Balance; got != 200 {
		t.Fatalf("expected balance 200, got %d", got)
	}
	pending, err := l.svc.ListPendingWithdrawals(ctx)
	if err != nil {
		t.Fatalf("ListPendingWithdrawals returned error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending withdrawal, got %d", len(pending))
	}
}

func TestWithdrawal_ConcurrentApproveAndRejectSettleOnce(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, testRules())
	l.register(t, 1, nil)
	l.register(t, 2, int64Ptr(1))
	l.earn(t, 2, 500)

	withdrawal, err := l.svc.RequestWithdrawal(ctx, 2, 500, "card")
	if err != nil {
		t.Fatalf("RequestWithdrawal returned error: %v", err)
	}

	const racers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
		rejected int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(approve bool) {
			defer wg.Done()
			var err error
			if approve {
				_, err = l.svc.ApproveWithdrawal(ctx, withdrawal.ID)
			} else {
				_, err = l.svc.RejectWithdrawal(ctx, withdrawal.ID, "duplicate")
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && approve:
				approved++
			case err == nil:
				rejected++
			case !errors.Is(err, domain.ErrInvalidTransition):
				t.Errorf("unexpected settle error: %v", err)
			}
		}(i%2 == 0)
	}
	wg.Wait()

	if approved+rejected != 1 {
		t.Fatalf("expected exactly one settlement, got %d approvals and %d rejections", approved, rejected)
	}

	stored, err := l.repo.FindWithdrawalByID(ctx, withdrawal.ID)
	if err != nil {
		t.Fatalf("FindWithdrawalByID returned error: %v", err)
	}
	user, inviter := l.user(t, 2), l.user(t, 1)
	if approved == 1 {
		if stored.Status != domain.WithdrawalApproved || user.Balance != 0 || inviter.Balance != 50 {
			t.Fatalf("approval settled inconsistently: status=%s balance=%d bonus=%d", stored.Status, user.Balance, inviter.Balance)
		}
		return
	}
	if stored.Status != domain.WithdrawalRejected || user.Balance != 500 || inviter.Balance != 0 {
		t.Fatalf("rejection settled inconsistently: status=%s balance=%d bonus=%d", stored.Status, user.Balance, inviter.Balance)
	}
}
