/**
 * @description
 * This file contains the core business logic of the ledger. The Service composes
 * store statements into the allocator, lifecycle, reward ledger, referral graph
 * and sweeper operations, each inside one store transaction.
 *
 * @dependencies
 * - context, log/slog, time: Standard Go libraries.
 * - github.com/shopspring/decimal: Exact referral bonus arithmetic.
 * - golang.org/x/sync/semaphore: Bounds in-flight notification publishes.
 * - internal/domain, internal/store: Models, error kinds and persistence.
 */

package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/domain"
	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/store"
)

const (
	defaultMinWithdrawal   int64 = 20000
	defaultReferralPercent       = 10
	defaultSweepBatchSize        = 100
	defaultListLimit             = 100
)

// LedgerRules are the tunable business constants.
type LedgerRules struct {
	MinWithdrawal   int64
	ReferralPercent decimal.Decimal
	LeaseTTL        time.Duration
	SweepBatchSize  int
	ClaimRateLimit  int
	ClaimRateWindow time.Duration
}

// DefaultLedgerRules returns the production defaults.
func DefaultLedgerRules() LedgerRules {
	return LedgerRules{
		MinWithdrawal:   defaultMinWithdrawal,
		ReferralPercent: decimal.NewFromInt(defaultReferralPercent),
		LeaseTTL:        domain.LeaseTTL,
		SweepBatchSize:  defaultSweepBatchSize,
	}
}

func (r LedgerRules) normalized() LedgerRules {
	if r.MinWithdrawal <= 0 {
		r.MinWithdrawal = defaultMinWithdrawal
	}
	if r.ReferralPercent.IsNegative() {
		r.ReferralPercent = decimal.Zero
	}
	if r.LeaseTTL <= 0 {
		r.LeaseTTL = domain.LeaseTTL
	}
	if r.SweepBatchSize <= 0 {
		r.SweepBatchSize = defaultSweepBatchSize
	}
	return r
}

// ClaimAttempt is one ClaimTask call presented to the rate limiter.
type ClaimAttempt struct {
	UserID int64
	TaskID int64
	At     time.Time
	Limit  int
	Window time.Duration
}

// ClaimThrottle is the limiter's verdict. Attempts counts accepted claims in the window,
// including this one when it was not limited.
type ClaimThrottle struct {
	Attempts          int
	Limited           bool
	RetryAfterSeconds int
}

// ClaimRateLimiter throttles claim attempts per user.
type ClaimRateLimiter interface {
	ConsumeClaim(ctx context.Context, attempt ClaimAttempt) (ClaimThrottle, error)
}

// Service implements the ledger operations.
type Service struct {
	repo     store.Repository
	notifier Notifier
	limiter  ClaimRateLimiter
	rules    LedgerRules

	notifySlots *semaphore.Weighted
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository, notifier Notifier, rules LedgerRules, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		rules:    rules.normalized(),
		logger:   logger,
		now:      time.Now,

		notifySlots: newNotifySlots(),
	}
}

// SetClaimRateLimiter enables per-user throttling of ClaimTask.
func (s *Service) SetClaimRateLimiter(limiter ClaimRateLimiter) {
	s.limiter = limiter
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Rules returns the effective ledger rules.
func (s *Service) Rules() LedgerRules {
	return s.rules
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
