package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/domain"
	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/store"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.LedgerEvent
	err    error
}

func (n *recordingNotifier) Notify(ctx context.Context, event domain.LedgerEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

// waitFor polls until an event of the given type was delivered count times.
func (n *recordingNotifier) waitFor(t *testing.T, eventType string, count int) []domain.LedgerEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		matched := n.ofType(eventType)
		if len(matched) >= count {
			return matched
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d %s events, got %d", count, eventType, len(matched))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (n *recordingNotifier) ofType(eventType string) []domain.LedgerEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.LedgerEvent
	for _, e := range n.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testLedger struct {
	svc      *Service
	repo     *store.MemoryRepository
	notifier *recordingNotifier
	clock    *fakeClock
}

func newTestLedger(t *testing.T, rules LedgerRules) *testLedger {
	t.Helper()
	repo := store.NewMemoryRepository()
	notifier := &recordingNotifier{}
	clock := newFakeClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, notifier, rules, logger)
	svc.SetClock(clock.Now)
	return &testLedger{svc: svc, repo: repo, notifier: notifier, clock: clock}
}

func testRules() LedgerRules {
	rules := DefaultLedgerRules()
	rules.MinWithdrawal = 200
	rules.ReferralPercent = decimal.NewFromInt(10)
	return rules
}

func (l *testLedger) user(t *testing.T, id int64) *domain.User {
	t.Helper()
	u, err := l.svc.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("GetUser(%d) returned error: %v", id, err)
	}
	return u
}

func (l *testLedger) task(t *testing.T, id int64) *domain.Task {
	t.Helper()
	task, err := l.svc.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTask(%d) returned error: %v", id, err)
	}
	return task
}

func (l *testLedger) register(t *testing.T, id int64, inviterID *int64) {
	t.Helper()
	if _, _, err := l.svc.RegisterUser(context.Background(), id, "user", inviterID); err != nil {
		t.Fatalf("RegisterUser(%d) returned error: %v", id, err)
	}
}

func (l *testLedger) createTask(t *testing.T, price int64, maxCompletions int) *domain.Task {
	t.Helper()
	task, err := l.svc.CreateTask(context.Background(), domain.NewTask{
		Title:          "Join the channel",
		Price:          price,
		MaxCompletions: maxCompletions,
	})
	if err != nil {
		t.Fatalf("CreateTask returned error: %v", err)
	}
	return task
}

// earn runs a full claim, submit and approve cycle for userID on a fresh task.
func (l *testLedger) earn(t *testing.T, userID int64, amount int64) {
	t.Helper()
	ctx := context.Background()
	task := l.createTask(t, amount, 1)
	lease, err := l.svc.ClaimTask(ctx, userID, task.ID)
	if err != nil {
		t.Fatalf("ClaimTask returned error: %v", err)
	}
	if _, err := l.svc.SubmitEvidence(ctx, userID, lease.ID, "photo:proof"); err != nil {
		t.Fatalf("SubmitEvidence returned error: %v", err)
	}
	if _, err := l.svc.ApproveLease(ctx, lease.ID); err != nil {
		t.Fatalf("ApproveLease returned error: %v", err)
	}
}

func int64Ptr(v int64) *int64 {
	return &v
}

func TestLedgerRulesNormalized(t *testing.T) {
	rules := LedgerRules{ReferralPercent: decimal.NewFromInt(-5)}.normalized()
	if rules.MinWithdrawal != defaultMinWithdrawal {
		t.Fatalf("expected default minimum withdrawal, got %d", rules.MinWithdrawal)
	}
	if !rules.ReferralPercent.IsZero() {
		t.Fatalf("expected negative percent to become zero, got %s", rules.ReferralPercent)
	}
	if rules.LeaseTTL != domain.LeaseTTL {
		t.Fatalf("expected default lease ttl, got %s", rules.LeaseTTL)
	}
	if rules.SweepBatchSize != defaultSweepBatchSize {
		t.Fatalf("expected default sweep batch size, got %d", rules.SweepBatchSize)
	}
}
