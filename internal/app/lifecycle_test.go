package app

import (
	"context"
	"errors"
	"testing"

	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/domain"
)

func TestLeaseLifecycle_ApproveCreditsPriceAndKeepsSlotCount(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, testRules())
	task := l.createTask(t, 750, 3)
	l.register(t, 1, nil)

	lease, err := l.svc.ClaimTask(ctx, 1, task.ID)
	if err != nil {
		t.Fatalf("ClaimTask returned error: %v", err)
	}
	// The slot is reserved at claim time.
	if got := l.task(t, task.ID).CurrentCompletions; got != 1 {
		t.Fatalf("expected current_completions 1 after claim, got %d", got)
	}

	submitted, err := l.svc.SubmitEvidence(ctx, 1, lease.ID, "  photo:abc  ")
	if err != nil {
		t.Fatalf("SubmitEvidence returned error: %v", err)
	}
	if submitted.Status != domain.LeaseSubmitted || submitted.SubmittedAt == nil {
		t.Fatalf("expected submitted lease with timestamp, got %#v", submitted)
	}
	if submitted.EvidenceRef == nil || *submitted.EvidenceRef != "photo:abc" {
		t.Fatalf("expected trimmed evidence ref, got %v", submitted.EvidenceRef)
	}
	if got := l.task(t, task.ID).CurrentCompletions; got != 1 {
		t.Fatalf("expected current_completions 1 after submit, got %d", got)
	}

	approved, err := l.svc.ApproveLease(ctx, lease.ID)
	if err != nil {
		t.Fatalf("ApproveLease returned error: %v", err)
	}
	if approved.Status != domain.LeaseApproved || approved.CompletedAt == nil {
		t.Fatalf("expected approved lease with completion time, got %#v", approved)
	}
	// Approval does not count the slot a second time.
	if got := l.task(t, task.ID).CurrentCompletions; got != 1 {
		t.Fatalf("expected current_completions 1 after approve, got %d", got)
	}

	user := l.user(t, 1)
	if user.Balance != 750 || user.TotalEarned != 750 {
		t.Fatalf("expected balance and total 750, got %d and %d", user.Balance, user.TotalEarned)
	}

	events := l.notifier.waitFor(t, domain.EventLeaseApproved, 1)
	if events[0].UserID != 1 || events[0].Amount != 750 || events[0].TaskTitle != task.Title {
		t.Fatalf("unexpected approval event %#v", events[0])
	}
}

func TestLeaseLifecycle_ApproveFillsAndDeactivatesTask(t *testing.T) {
	l := newTestLedger(t, testRules())
	l.register(t, 1, nil)
	l.earn(t, 1, 100)

	tasks, err := l.svc.ListTasks(context.Background())
	if err != nil {
		t.Fatalf("ListTasks returned error: %v", err)
	}
	if len(tasks) != 1 || tasks[0].IsActive {
		t.Fatalf("expected the full task to be inactive, got %#v", tasks)
	}
}

func TestLeaseLifecycle_RejectRestoresOneSlot(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, testRules())
	task := l.createTask(t, 300, 2)
	l.register(t, 1, nil)

	lease, err := l.svc.ClaimTask(ctx, 1, task.ID)
	if err != nil {
		t.Fatalf("ClaimTask returned error: %v", err)
	}
	if _, err := l.svc.SubmitEvidence(ctx, 1, lease.ID, "photo:1"); err != nil {
		t.Fatalf("SubmitEvidence returned error: %v", err)
	}

	rejected, err := l.svc.RejectLease(ctx, lease.ID, "blurry screenshot")
	if err != nil {
		t.Fatalf("RejectLease returned error: %v", err)
	}
	if rejected.Status != domain.LeaseRejected || rejected.RejectReason == nil || *rejected.RejectReason != "blurry screenshot" {
		t.Fatalf("unexpected rejected lease %#v", rejected)
	}
	if got := l.task(t, task.ID).CurrentCompletions; got != 0 {
		t.Fatalf("expected current_completions 0 after reject, got %d", got)
	}
	if got := l.user(t, 1).Balance; got != 0 {
		t.Fatalf("expected no credit after reject, got %d", got)
	}

	events := l.notifier.waitFor(t, domain.EventLeaseRejected, 1)
	if events[0].Reason != "blurry screenshot" {
		t.Fatalf("expected reason in event, got %q", events[0].Reason)
	}

	// A second review is refused and does not release another slot.
	if _, err := l.svc.RejectLease(ctx, lease.ID, "again"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if got := l.task(t, task.ID).CurrentCompletions; got != 0 {
		t.Fatalf("expected current_completions to stay 0, got %d", got)
	}
}

func TestLeaseLifecycle_DoubleApproveCreditsOnce(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, testRules())
	task := l.createTask(t, 400, 1)
	l.register(t, 1, nil)

	lease, _ := l.svc.ClaimTask(ctx, 1, task.ID)
	if _, err := l.svc.SubmitEvidence(ctx, 1, lease.ID, "photo:1"); err != nil {
		t.Fatalf("SubmitEvidence returned error: %v", err)
	}
	if _, err := l.svc.ApproveLease(ctx, lease.ID); err != nil {
		t.Fatalf("ApproveLease returned error: %v", err)
	}
	if _, err := l.svc.ApproveLease(ctx, lease.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second approve, got %v", err)
	}
	if _, err := l.svc.RejectLease(ctx, lease.ID, "late"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on reject after approve, got %v", err)
	}
	if got := l.user(t, 1).Balance; got != 400 {
		t.Fatalf("expected balance 400, got %d", got)
	}
}

func TestSubmitEvidence_Refusals(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, testRules())
	task := l.createTask(t, 100, 2)
	l.register(t, 1, nil)
	l.register(t, 2, nil)
	lease, err := l.svc.ClaimTask(ctx, 1, task.ID)
	if err != nil {
		t.Fatalf("ClaimTask returned error: %v", err)
	}

	tests := []struct {
		name     string
		userID   int64
		leaseID  int64
		evidence string
		want     error
	}{
		{name: "empty evidence", userID: 1, leaseID: lease.ID, evidence: "  ", want: domain.ErrInvalidInput},
		{name: "other user's lease", userID: 2, leaseID: lease.ID, evidence: "photo", want: domain.ErrNotFound},
		{name: "unknown lease", userID: 1, leaseID: 999, evidence: "photo", want: domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := l.svc.SubmitEvidence(ctx, tt.userID, tt.leaseID, tt.evidence); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := l.svc.ApproveLease(ctx, lease.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected approving an assigned lease to fail, got %v", err)
	}
	if _, err := l.svc.SubmitEvidence(ctx, 1, lease.ID, "photo"); err != nil {
		t.Fatalf("SubmitEvidence returned error: %v", err)
	}
	if _, err := l.svc.SubmitEvidence(ctx, 1, lease.ID, "photo"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected second submit to fail, got %v", err)
	}
}

func TestCreateTask_Validation(t *testing.T) {
	l := newTestLedger(t, testRules())

	tests := []struct {
		name  string
		input domain.NewTask
	}{
		{name: "missing title", input: domain.NewTask{Price: 100, MaxCompletions: 1}},
		{name: "zero price", input: domain.NewTask{Title: "x", MaxCompletions: 1}},
		{name: "zero slots", input: domain.NewTask{Title: "x", Price: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := l.svc.CreateTask(context.Background(), tt.input); !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestDeleteTask_RemovesLeases(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, testRules())
	task := l.createTask(t, 100, 1)
	l.register(t, 1, nil)
	lease, err := l.svc.ClaimTask(ctx, 1, task.ID)
	if err != nil {
		t.Fatalf("ClaimTask returned error: %v", err)
	}

	if err := l.svc.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("DeleteTask returned error: %v", err)
	}
	if _, err := l.svc.GetLease(ctx, lease.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected lease to be gone, got %v", err)
	}
	if err := l.svc.DeleteTask(ctx, task.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}

	// The user holds no open lease any more.
	other := l.createTask(t, 100, 1)
	if _, err := l.svc.ClaimTask(ctx, 1, other.ID); err != nil {
		t.Fatalf("expected claim after delete to succeed, got %v", err)
	}
}
