/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Every statement runs either against the pool or against the open transaction
 * handed to WithTx, so the same query code serves both paths.
 *
 * @dependencies
 * - context, errors, fmt, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/domain"
)

const openLeaseIndex = "leases_one_open_per_user"

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type postgresQueries struct {
	db dbtx
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	*postgresQueries
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{
		postgresQueries: &postgresQueries{db: pool},
		pool:            pool,
	}
}

// WithTx runs fn inside a single database transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storageError("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&postgresQueries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return storageError("commit transaction", err)
	}
	return nil
}

func storageError(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, domain.ErrStorageUnavailable, err)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}

func notFoundOr(err error, notFound error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	return storageError(op, err)
}

const userColumns = `id, username, balance, total_earned, ref_count, ref_earned, invited_by, registered_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Balance, &u.TotalEarned, &u.RefCount, &u.RefEarned, &u.InvitedBy, &u.RegisteredAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts the user unless the id already exists. It reports whether a row was created.
func (q *postgresQueries) CreateUser(ctx context.Context, user *domain.User) (bool, error) {
	query := `
		INSERT INTO users (id, username, registered_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := q.db.Exec(ctx, query, user.ID, user.Username, user.RegisteredAt)
	if err != nil {
		return false, storageError("create user", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *postgresQueries) UpdateUsername(ctx context.Context, userID int64, username string) error {
	tag, err := q.db.Exec(ctx, `UPDATE users SET username = $2 WHERE id = $1`, userID, username)
	if err != nil {
		return storageError("update username", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (q *postgresQueries) FindUserByID(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		return nil, notFoundOr(err, ErrUserNotFound, "find user")
	}
	return user, nil
}

func (q *postgresQueries) FindUserForUpdate(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, notFoundOr(err, ErrUserNotFound, "lock user")
	}
	return user, nil
}

func (q *postgresQueries) CreditEarnings(ctx context.Context, userID int64, amount int64) error {
	query := `
		UPDATE users
		SET balance = balance + $2, total_earned = total_earned + $2
		WHERE id = $1
	`
	return q.execUserUpdate(ctx, "credit earnings", query, userID, amount)
}

func (q *postgresQueries) RefundBalance(ctx context.Context, userID int64, amount int64) error {
	return q.execUserUpdate(ctx, "refund balance", `UPDATE users SET balance = balance + $2 WHERE id = $1`, userID, amount)
}

func (q *postgresQueries) CreditReferralBonus(ctx context.Context, inviterID int64, amount int64) error {
	query := `
		UPDATE users
		SET balance = balance + $2, ref_earned = ref_earned + $2, total_earned = total_earned + $2
		WHERE id = $1
	`
	return q.execUserUpdate(ctx, "credit referral bonus", query, inviterID, amount)
}

func (q *postgresQueries) execUserUpdate(ctx context.Context, op, query string, args ...any) error {
	tag, err := q.db.Exec(ctx, query, args...)
	if err != nil {
		return storageError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DebitBalance subtracts amount only when the balance covers it.
func (q *postgresQueries) DebitBalance(ctx context.Context, userID int64, amount int64) (bool, error) {
	query := `
		UPDATE users
		SET balance = balance - $2
		WHERE id = $1 AND balance >= $2
	`
	tag, err := q.db.Exec(ctx, query, userID, amount)
	if err != nil {
		return false, storageError("debit balance", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *postgresQueries) SetInvitedBy(ctx context.Context, userID, inviterID int64) (bool, error) {
	tag, err := q.db.Exec(ctx, `UPDATE users SET invited_by = $2 WHERE id = $1 AND invited_by IS NULL`, userID, inviterID)
	if err != nil {
		return false, storageError("set inviter", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *postgresQueries) ClearInvitedBy(ctx context.Context, userID int64) error {
	return q.execUserUpdate(ctx, "clear inviter", `UPDATE users SET invited_by = NULL WHERE id = $1`, userID)
}

func (q *postgresQueries) IncrementRefCount(ctx context.Context, inviterID int64) error {
	return q.execUserUpdate(ctx, "increment ref count", `UPDATE users SET ref_count = ref_count + 1 WHERE id = $1`, inviterID)
}

// RecountReferrals rewrites ref_count from the invited_by edges and returns the new value.
func (q *postgresQueries) RecountReferrals(ctx context.Context, inviterID int64) (int, error) {
	query := `
		UPDATE users
		SET ref_count = (SELECT COUNT(*) FROM users r WHERE r.invited_by = $1)
		WHERE id = $1
		RETURNING ref_count
	`
	var count int
	if err := q.db.QueryRow(ctx, query, inviterID).Scan(&count); err != nil {
		return 0, notFoundOr(err, ErrUserNotFound, "recount referrals")
	}
	return count, nil
}

func (q *postgresQueries) BlockReferral(ctx context.Context, referrerID, referralID int64, at time.Time) error {
	query := `
		INSERT INTO blocked_referrals (referrer_id, referral_id, blocked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (referrer_id, referral_id) DO NOTHING
	`
	if _, err := q.db.Exec(ctx, query, referrerID, referralID, at); err != nil {
		return storageError("block referral", err)
	}
	return nil
}

func (q *postgresQueries) IsReferralBlocked(ctx context.Context, referrerID, referralID int64) (bool, error) {
	var blocked bool
	query := `SELECT EXISTS (SELECT 1 FROM blocked_referrals WHERE referrer_id = $1 AND referral_id = $2)`
	if err := q.db.QueryRow(ctx, query, referrerID, referralID).Scan(&blocked); err != nil {
		return false, storageError("check blocked referral", err)
	}
	return blocked, nil
}

func (q *postgresQueries) ListReferrals(ctx context.Context, inviterID int64) ([]domain.User, error) {
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE invited_by = $1 ORDER BY registered_at DESC`, inviterID)
	if err != nil {
		return nil, storageError("list referrals", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, storageError("scan referral", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list referrals", err)
	}
	return users, nil
}

const taskColumns = `id, title, description, instruction, link, price, max_completions, current_completions, is_active, created_at`

func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Instruction, &t.Link, &t.Price,
		&t.MaxCompletions, &t.CurrentCompletions, &t.IsActive, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (q *postgresQueries) collectTasks(ctx context.Context, op, query string, args ...any) ([]domain.Task, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError(op, err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, storageError(op, err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(op, err)
	}
	return tasks, nil
}

func (q *postgresQueries) CreateTask(ctx context.Context, task *domain.Task) error {
	query := `
		INSERT INTO tasks (title, description, instruction, link, price, max_completions, current_completions, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, TRUE, $7)
		RETURNING id
	`
	err := q.db.QueryRow(ctx, query, task.Title, task.Description, task.Instruction, task.Link,
		task.Price, task.MaxCompletions, task.CreatedAt).Scan(&task.ID)
	if err != nil {
		return storageError("create task", err)
	}
	task.CurrentCompletions = 0
	task.IsActive = true
	return nil
}

func (q *postgresQueries) FindTaskByID(ctx context.Context, taskID int64) (*domain.Task, error) {
	task, err := scanTask(q.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID))
	if err != nil {
		return nil, notFoundOr(err, ErrTaskNotFound, "find task")
	}
	return task, nil
}

func (q *postgresQueries) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return q.collectTasks(ctx, "list tasks", `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC, id DESC`)
}

// ListAvailableTasks returns active tasks with free slots that the user has no open lease on.
func (q *postgresQueries) ListAvailableTasks(ctx context.Context, userID int64) ([]domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks t
		WHERE t.is_active
		  AND t.current_completions < t.max_completions
		  AND NOT EXISTS (
			SELECT 1 FROM leases l
			WHERE l.task_id = t.id AND l.user_id = $1 AND l.status IN ('assigned', 'submitted')
		  )
		ORDER BY t.created_at DESC, t.id DESC
	`
	return q.collectTasks(ctx, "list available tasks", query, userID)
}

// ReserveTaskSlot takes one slot only while the task is active and below capacity.
func (q *postgresQueries) ReserveTaskSlot(ctx context.Context, taskID int64) (bool, error) {
	query := `
		UPDATE tasks
		SET current_completions = current_completions + 1
		WHERE id = $1 AND is_active AND current_completions < max_completions
	`
	tag, err := q.db.Exec(ctx, query, taskID)
	if err != nil {
		return false, storageError("reserve task slot", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *postgresQueries) ReleaseTaskSlot(ctx context.Context, taskID int64) error {
	query := `
		UPDATE tasks
		SET current_completions = GREATEST(0, current_completions - 1)
		WHERE id = $1
	`
	tag, err := q.db.Exec(ctx, query, taskID)
	if err != nil {
		return storageError("release task slot", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (q *postgresQueries) DeactivateTaskIfFull(ctx context.Context, taskID int64) (bool, error) {
	query := `
		UPDATE tasks
		SET is_active = FALSE
		WHERE id = $1 AND is_active AND current_completions >= max_completions
	`
	tag, err := q.db.Exec(ctx, query, taskID)
	if err != nil {
		return false, storageError("deactivate task", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteTask removes the task; its leases go with it through ON DELETE CASCADE.
func (q *postgresQueries) DeleteTask(ctx context.Context, taskID int64) (bool, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return false, storageError("delete task", err)
	}
	return tag.RowsAffected() == 1, nil
}

const leaseColumns = `id, user_id, task_id, status, assigned_at, expires_at, submitted_at, completed_at, evidence_ref, reject_reason`

func scanLease(row pgx.Row) (*domain.Lease, error) {
	var l domain.Lease
	var status string
	err := row.Scan(&l.ID, &l.UserID, &l.TaskID, &status, &l.AssignedAt, &l.ExpiresAt,
		&l.SubmittedAt, &l.CompletedAt, &l.EvidenceRef, &l.RejectReason)
	if err != nil {
		return nil, err
	}
	l.Status = domain.LeaseStatus(status)
	return &l, nil
}

func (q *postgresQueries) collectLeases(ctx context.Context, op, query string, args ...any) ([]domain.Lease, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError(op, err)
	}
	defer rows.Close()

	var leases []domain.Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, storageError(op, err)
		}
		leases = append(leases, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(op, err)
	}
	return leases, nil
}

// CreateLease inserts the lease. The partial unique index rejects a second open lease for the user.
func (q *postgresQueries) CreateLease(ctx context.Context, lease *domain.Lease) error {
	query := `
		INSERT INTO leases (user_id, task_id, status, assigned_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := q.db.QueryRow(ctx, query, lease.UserID, lease.TaskID, string(lease.Status), lease.AssignedAt, lease.ExpiresAt).Scan(&lease.ID)
	if err != nil {
		if isUniqueViolation(err, openLeaseIndex) {
			return domain.ErrActiveLeaseExists
		}
		return storageError("create lease", err)
	}
	return nil
}

func (q *postgresQueries) FindLeaseByID(ctx context.Context, leaseID int64) (*domain.Lease, error) {
	lease, err := scanLease(q.db.QueryRow(ctx, `SELECT `+leaseColumns+` FROM leases WHERE id = $1`, leaseID))
	if err != nil {
		return nil, notFoundOr(err, ErrLeaseNotFound, "find lease")
	}
	return lease, nil
}

func (q *postgresQueries) FindOpenLeaseByUser(ctx context.Context, userID int64) (*domain.Lease, error) {
	query := `SELECT ` + leaseColumns + ` FROM leases WHERE user_id = $1 AND status IN ('assigned', 'submitted') LIMIT 1`
	lease, err := scanLease(q.db.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, notFoundOr(err, ErrLeaseNotFound, "find open lease")
	}
	return lease, nil
}

// TransitionLease moves the lease from one status to another only while it is still in from.
func (q *postgresQueries) TransitionLease(ctx context.Context, leaseID int64, from, to domain.LeaseStatus, change domain.LeaseTransition) (bool, error) {
	query := `
		UPDATE leases
		SET status = $3,
		    submitted_at = CASE WHEN $3 = 'submitted' THEN $4 ELSE submitted_at END,
		    completed_at = CASE WHEN $3 IN ('approved', 'rejected', 'expired') THEN $4 ELSE completed_at END,
		    evidence_ref = COALESCE($5, evidence_ref),
		    reject_reason = COALESCE($6, reject_reason)
		WHERE id = $1 AND status = $2
		  AND ($7::timestamptz IS NULL OR expires_at < $7)
	`
	tag, err := q.db.Exec(ctx, query, leaseID, string(from), string(to), change.At,
		change.EvidenceRef, change.RejectReason, change.RequireExpiredBefore)
	if err != nil {
		return false, storageError("transition lease", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *postgresQueries) FindExpiredLeases(ctx context.Context, now time.Time, limit int) ([]domain.Lease, error) {
	query := `
		SELECT ` + leaseColumns + `
		FROM leases
		WHERE status = 'assigned' AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2
	`
	return q.collectLeases(ctx, "find expired leases", query, now, limit)
}

func (q *postgresQueries) ListSubmittedLeases(ctx context.Context, limit int) ([]domain.Lease, error) {
	query := `
		SELECT ` + leaseColumns + `
		FROM leases
		WHERE status = 'submitted'
		ORDER BY submitted_at ASC
		LIMIT $1
	`
	return q.collectLeases(ctx, "list submitted leases", query, limit)
}

const withdrawalColumns = `id, user_id, username, amount, status, bank_details, reject_reason, created_at, processed_at`

func scanWithdrawal(row pgx.Row) (*domain.Withdrawal, error) {
	var w domain.Withdrawal
	var status string
	err := row.Scan(&w.ID, &w.UserID, &w.Username, &w.Amount, &status, &w.BankDetails,
		&w.RejectReason, &w.CreatedAt, &w.ProcessedAt)
	if err != nil {
		return nil, err
	}
	w.Status = domain.WithdrawalStatus(status)
	return &w, nil
}

func (q *postgresQueries) collectWithdrawals(ctx context.Context, op, query string, args ...any) ([]domain.Withdrawal, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError(op, err)
	}
	defer rows.Close()

	var items []domain.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, storageError(op, err)
		}
		items = append(items, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(op, err)
	}
	return items, nil
}

func (q *postgresQueries) CreateWithdrawal(ctx context.Context, w *domain.Withdrawal) error {
	query := `
		INSERT INTO withdrawals (user_id, username, amount, status, bank_details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := q.db.QueryRow(ctx, query, w.UserID, w.Username, w.Amount, string(w.Status), w.BankDetails, w.CreatedAt).Scan(&w.ID)
	if err != nil {
		return storageError("create withdrawal", err)
	}
	return nil
}

func (q *postgresQueries) FindWithdrawalByID(ctx context.Context, withdrawalID int64) (*domain.Withdrawal, error) {
	w, err := scanWithdrawal(q.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, withdrawalID))
	if err != nil {
		return nil, notFoundOr(err, ErrWithdrawalNotFound, "find withdrawal")
	}
	return w, nil
}

func (q *postgresQueries) TransitionWithdrawal(ctx context.Context, withdrawalID int64, from, to domain.WithdrawalStatus, reason *string, at time.Time) (bool, error) {
	query := `
		UPDATE withdrawals
		SET status = $3, reject_reason = COALESCE($4, reject_reason), processed_at = $5
		WHERE id = $1 AND status = $2
	`
	tag, err := q.db.Exec(ctx, query, withdrawalID, string(from), string(to), reason, at)
	if err != nil {
		return false, storageError("transition withdrawal", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *postgresQueries) ListPendingWithdrawals(ctx context.Context) ([]domain.Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE status = 'pending' ORDER BY created_at ASC, id ASC`
	return q.collectWithdrawals(ctx, "list pending withdrawals", query)
}

func (q *postgresQueries) ListUserWithdrawals(ctx context.Context, userID int64, limit int) ([]domain.Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	return q.collectWithdrawals(ctx, "list user withdrawals", query, userID, limit)
}

func (q *postgresQueries) GetUserStats(ctx context.Context, userID int64) (*domain.UserStats, error) {
	query := `
		SELECT u.id, u.balance, u.total_earned, u.ref_count, u.ref_earned,
		       COUNT(l.id) FILTER (WHERE l.status = 'approved'),
		       COUNT(l.id) FILTER (WHERE l.status = 'rejected'),
		       COUNT(l.id) FILTER (WHERE l.status IN ('assigned', 'submitted')),
		       COALESCE(SUM(t.price) FILTER (WHERE l.status = 'approved'), 0)::BIGINT
		FROM users u
		LEFT JOIN leases l ON l.user_id = u.id
		LEFT JOIN tasks t ON t.id = l.task_id
		WHERE u.id = $1
		GROUP BY u.id
	`
	var s domain.UserStats
	err := q.db.QueryRow(ctx, query, userID).Scan(&s.UserID, &s.Balance, &s.TotalEarned, &s.RefCount, &s.RefEarned,
		&s.CompletedLeases, &s.RejectedLeases, &s.ActiveLeases, &s.ApprovedEarning)
	if err != nil {
		return nil, notFoundOr(err, ErrUserNotFound, "get user stats")
	}
	return &s, nil
}

func (q *postgresQueries) GetLedgerStats(ctx context.Context) (*domain.LedgerStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM tasks WHERE is_active),
			(SELECT COUNT(*) FROM leases WHERE status = 'submitted'),
			(SELECT COUNT(*) FROM withdrawals WHERE status = 'pending'),
			(SELECT COALESCE(SUM(amount), 0)::BIGINT FROM withdrawals WHERE status = 'pending'),
			(SELECT COALESCE(SUM(balance), 0)::BIGINT FROM users),
			(SELECT COALESCE(SUM(total_earned), 0)::BIGINT FROM users)
	`
	var s domain.LedgerStats
	err := q.db.QueryRow(ctx, query).Scan(&s.TotalUsers, &s.ActiveTasks, &s.SubmittedLeases,
		&s.PendingWithdrawals, &s.PendingAmount, &s.TotalBalance, &s.TotalEarned)
	if err != nil {
		return nil, storageError("get ledger stats", err)
	}
	return &s, nil
}
