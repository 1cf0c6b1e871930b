package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/domain"
)

type referralPair struct {
	referrerID int64
	referralID int64
}

type memoryState struct {
	users       map[int64]domain.User
	tasks       map[int64]domain.Task
	leases      map[int64]domain.Lease
	withdrawals map[int64]domain.Withdrawal
	blocked     map[referralPair]time.Time

	nextTaskID       int64
	nextLeaseID      int64
	nextWithdrawalID int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		users:       make(map[int64]domain.User),
		tasks:       make(map[int64]domain.Task),
		leases:      make(map[int64]domain.Lease),
		withdrawals: make(map[int64]domain.Withdrawal),
		blocked:     make(map[referralPair]time.Time),
	}
}

// clone copies the maps. Pointer fields inside rows are replaced on write, never mutated.
func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		users:            make(map[int64]domain.User, len(s.users)),
		tasks:            make(map[int64]domain.Task, len(s.tasks)),
		leases:           make(map[int64]domain.Lease, len(s.leases)),
		withdrawals:      make(map[int64]domain.Withdrawal, len(s.withdrawals)),
		blocked:          make(map[referralPair]time.Time, len(s.blocked)),
		nextTaskID:       s.nextTaskID,
		nextLeaseID:      s.nextLeaseID,
		nextWithdrawalID: s.nextWithdrawalID,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.tasks {
		c.tasks[k] = v
	}
	for k, v := range s.leases {
		c.leases[k] = v
	}
	for k, v := range s.withdrawals {
		c.withdrawals[k] = v
	}
	for k, v := range s.blocked {
		c.blocked[k] = v
	}
	return c
}

// MemoryRepository is an in-process Repository. A single mutex serializes every
// transaction; a failed transaction restores the state it started from.
type MemoryRepository struct {
	*memoryQueries
	mu    sync.Mutex
	state *memoryState
}

// NewMemoryRepository returns an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	r := &MemoryRepository{state: newMemoryState()}
	r.memoryQueries = &memoryQueries{repo: r}
	return r
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(q Queries) error) error {
	if err := ctx.Err(); err != nil {
		return storageError("begin transaction", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.state.clone()
	if err := fn(&memoryQueries{repo: r, inTx: true}); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

type memoryQueries struct {
	repo *MemoryRepository
	inTx bool
}

// lock takes the repository mutex for a standalone statement. Inside WithTx it is already held.
func (q *memoryQueries) lock() func() {
	if q.inTx {
		return func() {}
	}
	q.repo.mu.Lock()
	return q.repo.mu.Unlock
}

func (q *memoryQueries) s() *memoryState {
	return q.repo.state
}

func (q *memoryQueries) CreateUser(ctx context.Context, user *domain.User) (bool, error) {
	defer q.lock()()
	if _, ok := q.s().users[user.ID]; ok {
		return false, nil
	}
	q.s().users[user.ID] = domain.User{ID: user.ID, Username: user.Username, RegisteredAt: user.RegisteredAt}
	return true, nil
}

func (q *memoryQueries) UpdateUsername(ctx context.Context, userID int64, username string) error {
	defer q.lock()()
	return q.updateUser(userID, func(u *domain.User) { u.Username = username })
}

func (q *memoryQueries) updateUser(userID int64, fn func(u *domain.User)) error {
	u, ok := q.s().users[userID]
	if !ok {
		return ErrUserNotFound
	}
	fn(&u)
	q.s().users[userID] = u
	return nil
}

func (q *memoryQueries) FindUserByID(ctx context.Context, userID int64) (*domain.User, error) {
	defer q.lock()()
	u, ok := q.s().users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (q *memoryQueries) FindUserForUpdate(ctx context.Context, userID int64) (*domain.User, error) {
	return q.FindUserByID(ctx, userID)
}

func (q *memoryQueries) CreditEarnings(ctx context.Context, userID int64, amount int64) error {
	defer q.lock()()
	return q.updateUser(userID, func(u *domain.User) {
		u.Balance += amount
		u.TotalEarned += amount
	})
}

func (q *memoryQueries) RefundBalance(ctx context.Context, userID int64, amount int64) error {
	defer q.lock()()
	return q.updateUser(userID, func(u *domain.User) { u.Balance += amount })
}

func (q *memoryQueries) CreditReferralBonus(ctx context.Context, inviterID int64, amount int64) error {
	defer q.lock()()
	return q.updateUser(inviterID, func(u *domain.User) {
		u.Balance += amount
		u.RefEarned += amount
		u.TotalEarned += amount
	})
}

func (q *memoryQueries) DebitBalance(ctx context.Context, userID int64, amount int64) (bool, error) {
	defer q.lock()()
	u, ok := q.s().users[userID]
	if !ok || u.Balance < amount {
		return false, nil
	}
	u.Balance -= amount
	q.s().users[userID] = u
	return true, nil
}

func (q *memoryQueries) SetInvitedBy(ctx context.Context, userID, inviterID int64) (bool, error) {
	defer q.lock()()
	u, ok := q.s().users[userID]
	if !ok || u.InvitedBy != nil {
		return false, nil
	}
	inviter := inviterID
	u.InvitedBy = &inviter
	q.s().users[userID] = u
	return true, nil
}

func (q *memoryQueries) ClearInvitedBy(ctx context.Context, userID int64) error {
	defer q.lock()()
	return q.updateUser(userID, func(u *domain.User) { u.InvitedBy = nil })
}

func (q *memoryQueries) IncrementRefCount(ctx context.Context, inviterID int64) error {
	defer q.lock()()
	return q.updateUser(inviterID, func(u *domain.User) { u.RefCount++ })
}

func (q *memoryQueries) RecountReferrals(ctx context.Context, inviterID int64) (int, error) {
	defer q.lock()()
	count := 0
	for _, u := range q.s().users {
		if u.InvitedBy != nil && *u.InvitedBy == inviterID {
			count++
		}
	}
	if err := q.updateUser(inviterID, func(u *domain.User) { u.RefCount = count }); err != nil {
		return 0, err
	}
	return count, nil
}

func (q *memoryQueries) BlockReferral(ctx context.Context, referrerID, referralID int64, at time.Time) error {
	defer q.lock()()
	key := referralPair{referrerID: referrerID, referralID: referralID}
	if _, ok := q.s().blocked[key]; !ok {
		q.s().blocked[key] = at
	}
	return nil
}

func (q *memoryQueries) IsReferralBlocked(ctx context.Context, referrerID, referralID int64) (bool, error) {
	defer q.lock()()
	_, ok := q.s().blocked[referralPair{referrerID: referrerID, referralID: referralID}]
	return ok, nil
}

func (q *memoryQueries) ListReferrals(ctx context.Context, inviterID int64) ([]domain.User, error) {
	defer q.lock()()
	var users []domain.User
	for _, u := range q.s().users {
		if u.InvitedBy != nil && *u.InvitedBy == inviterID {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].RegisteredAt.After(users[j].RegisteredAt) })
	return users, nil
}

func (q *memoryQueries) CreateTask(ctx context.Context, task *domain.Task) error {
	defer q.lock()()
	q.s().nextTaskID++
	task.ID = q.s().nextTaskID
	task.CurrentCompletions = 0
	task.IsActive = true
	q.s().tasks[task.ID] = *task
	return nil
}

func (q *memoryQueries) FindTaskByID(ctx context.Context, taskID int64) (*domain.Task, error) {
	defer q.lock()()
	t, ok := q.s().tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return &t, nil
}

func (q *memoryQueries) ListTasks(ctx context.Context) ([]domain.Task, error) {
	defer q.lock()()
	tasks := make([]domain.Task, 0, len(q.s().tasks))
	for _, t := range q.s().tasks {
		tasks = append(tasks, t)
	}
	sortTasksNewestFirst(tasks)
	return tasks, nil
}

func (q *memoryQueries) ListAvailableTasks(ctx context.Context, userID int64) ([]domain.Task, error) {
	defer q.lock()()
	held := make(map[int64]bool)
	for _, l := range q.s().leases {
		if l.UserID == userID && l.Status.IsOpen() {
			held[l.TaskID] = true
		}
	}
	var tasks []domain.Task
	for _, t := range q.s().tasks {
		if t.IsActive && t.CurrentCompletions < t.MaxCompletions && !held[t.ID] {
			tasks = append(tasks, t)
		}
	}
	sortTasksNewestFirst(tasks)
	return tasks, nil
}

func sortTasksNewestFirst(tasks []domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID > tasks[j].ID
	})
}

func (q *memoryQueries) ReserveTaskSlot(ctx context.Context, taskID int64) (bool, error) {
	defer q.lock()()
	t, ok := q.s().tasks[taskID]
	if !ok || !t.IsActive || t.CurrentCompletions >= t.MaxCompletions {
		return false, nil
	}
	t.CurrentCompletions++
	q.s().tasks[taskID] = t
	return true, nil
}

func (q *memoryQueries) ReleaseTaskSlot(ctx context.Context, taskID int64) error {
	defer q.lock()()
	t, ok := q.s().tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.CurrentCompletions > 0 {
		t.CurrentCompletions--
	}
	q.s().tasks[taskID] = t
	return nil
}

func (q *memoryQueries) DeactivateTaskIfFull(ctx context.Context, taskID int64) (bool, error) {
	defer q.lock()()
	t, ok := q.s().tasks[taskID]
	if !ok || !t.IsActive || t.CurrentCompletions < t.MaxCompletions {
		return false, nil
	}
	t.IsActive = false
	q.s().tasks[taskID] = t
	return true, nil
}

func (q *memoryQueries) DeleteTask(ctx context.Context, taskID int64) (bool, error) {
	defer q.lock()()
	if _, ok := q.s().tasks[taskID]; !ok {
		return false, nil
	}
	delete(q.s().tasks, taskID)
	for id, l := range q.s().leases {
		if l.TaskID == taskID {
			delete(q.s().leases, id)
		}
	}
	return true, nil
}

func (q *memoryQueries) CreateLease(ctx context.Context, lease *domain.Lease) error {
	defer q.lock()()
	if lease.Status.IsOpen() {
		for _, l := range q.s().leases {
			if l.UserID == lease.UserID && l.Status.IsOpen() {
				return domain.ErrActiveLeaseExists
			}
		}
	}
	q.s().nextLeaseID++
	lease.ID = q.s().nextLeaseID
	q.s().leases[lease.ID] = *lease
	return nil
}

func (q *memoryQueries) FindLeaseByID(ctx context.Context, leaseID int64) (*domain.Lease, error) {
	defer q.lock()()
	l, ok := q.s().leases[leaseID]
	if !ok {
		return nil, ErrLeaseNotFound
	}
	return &l, nil
}

func (q *memoryQueries) FindOpenLeaseByUser(ctx context.Context, userID int64) (*domain.Lease, error) {
	defer q.lock()()
	for _, l := range q.s().leases {
		if l.UserID == userID && l.Status.IsOpen() {
			return &l, nil
		}
	}
	return nil, ErrLeaseNotFound
}

func (q *memoryQueries) TransitionLease(ctx context.Context, leaseID int64, from, to domain.LeaseStatus, change domain.LeaseTransition) (bool, error) {
	defer q.lock()()
	l, ok := q.s().leases[leaseID]
	if !ok || l.Status != from {
		return false, nil
	}
	if change.RequireExpiredBefore != nil && !l.ExpiresAt.Before(*change.RequireExpiredBefore) {
		return false, nil
	}

	at := change.At
	l.Status = to
	switch to {
	case domain.LeaseSubmitted:
		l.SubmittedAt = &at
	case domain.LeaseApproved, domain.LeaseRejected, domain.LeaseExpired:
		l.CompletedAt = &at
	}
	if change.EvidenceRef != nil {
		l.EvidenceRef = change.EvidenceRef
	}
	if change.RejectReason != nil {
		l.RejectReason = change.RejectReason
	}
	q.s().leases[leaseID] = l
	return true, nil
}

func (q *memoryQueries) FindExpiredLeases(ctx context.Context, now time.Time, limit int) ([]domain.Lease, error) {
	defer q.lock()()
	var leases []domain.Lease
	for _, l := range q.s().leases {
		if l.Status == domain.LeaseAssigned && l.ExpiresAt.Before(now) {
			leases = append(leases, l)
		}
	}
	sort.Slice(leases, func(i, j int) bool { return leases[i].ExpiresAt.Before(leases[j].ExpiresAt) })
	if limit > 0 && len(leases) > limit {
		leases = leases[:limit]
	}
	return leases, nil
}

func (q *memoryQueries) ListSubmittedLeases(ctx context.Context, limit int) ([]domain.Lease, error) {
	defer q.lock()()
	var leases []domain.Lease
	for _, l := range q.s().leases {
		if l.Status == domain.LeaseSubmitted {
			leases = append(leases, l)
		}
	}
	sort.Slice(leases, func(i, j int) bool {
		a, b := leases[i].SubmittedAt, leases[j].SubmittedAt
		if a != nil && b != nil && !a.Equal(*b) {
			return a.Before(*b)
		}
		return leases[i].ID < leases[j].ID
	})
	if limit > 0 && len(leases) > limit {
		leases = leases[:limit]
	}
	return leases, nil
}

func (q *memoryQueries) CreateWithdrawal(ctx context.Context, w *domain.Withdrawal) error {
	defer q.lock()()
	q.s().nextWithdrawalID++
	w.ID = q.s().nextWithdrawalID
	q.s().withdrawals[w.ID] = *w
	return nil
}

func (q *memoryQueries) FindWithdrawalByID(ctx context.Context, withdrawalID int64) (*domain.Withdrawal, error) {
	defer q.lock()()
	w, ok := q.s().withdrawals[withdrawalID]
	if !ok {
		return nil, ErrWithdrawalNotFound
	}
	return &w, nil
}

func (q *memoryQueries) TransitionWithdrawal(ctx context.Context, withdrawalID int64, from, to domain.WithdrawalStatus, reason *string, at time.Time) (bool, error) {
	defer q.lock()()
	w, ok := q.s().withdrawals[withdrawalID]
	if !ok || w.Status != from {
		return false, nil
	}
	processed := at
	w.Status = to
	w.ProcessedAt = &processed
	if reason != nil {
		w.RejectReason = reason
	}
	q.s().withdrawals[withdrawalID] = w
	return true, nil
}

func (q *memoryQueries) ListPendingWithdrawals(ctx context.Context) ([]domain.Withdrawal, error) {
	defer q.lock()()
	var items []domain.Withdrawal
	for _, w := range q.s().withdrawals {
		if w.Status == domain.WithdrawalPending {
			items = append(items, w)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (q *memoryQueries) ListUserWithdrawals(ctx context.Context, userID int64, limit int) ([]domain.Withdrawal, error) {
	defer q.lock()()
	var items []domain.Withdrawal
	for _, w := range q.s().withdrawals {
		if w.UserID == userID {
			items = append(items, w)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (q *memoryQueries) GetUserStats(ctx context.Context, userID int64) (*domain.UserStats, error) {
	defer q.lock()()
	u, ok := q.s().users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	stats := &domain.UserStats{
		UserID:      u.ID,
		Balance:     u.Balance,
		TotalEarned: u.TotalEarned,
		RefCount:    u.RefCount,
		RefEarned:   u.RefEarned,
	}
	for _, l := range q.s().leases {
		if l.UserID != userID {
			continue
		}
		switch {
		case l.Status == domain.LeaseApproved:
			stats.CompletedLeases++
			if t, ok := q.s().tasks[l.TaskID]; ok {
				stats.ApprovedEarning += t.Price
			}
		case l.Status == domain.LeaseRejected:
			stats.RejectedLeases++
		case l.Status.IsOpen():
			stats.ActiveLeases++
		}
	}
	return stats, nil
}

func (q *memoryQueries) GetLedgerStats(ctx context.Context) (*domain.LedgerStats, error) {
	defer q.lock()()
	stats := &domain.LedgerStats{TotalUsers: len(q.s().users)}
	for _, u := range q.s().users {
		stats.TotalBalance += u.Balance
		stats.TotalEarned += u.TotalEarned
	}
	for _, t := range q.s().tasks {
		if t.IsActive {
			stats.ActiveTasks++
		}
	}
	for _, l := range q.s().leases {
		if l.Status == domain.LeaseSubmitted {
			stats.SubmittedLeases++
		}
	}
	for _, w := range q.s().withdrawals {
		if w.Status == domain.WithdrawalPending {
			stats.PendingWithdrawals++
			stats.PendingAmount += w.Amount
		}
	}
	return stats, nil
}
