package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/domain"
	"github.com/lianamurzabaeva86-hue/ma-money-bot/internal/store"
)

// RegisterUser creates the user on first contact and links the inviter when the user is new.
// For a known user only the username is refreshed. It reports whether the user was created.
func (s *Service) RegisterUser(ctx context.Context, userID int64, username string, inviterID *int64) (*domain.User, bool, error) {
	if userID == 0 {
		return nil, false, fmt.Errorf("user id is required: %w", domain.ErrInvalidInput)
	}
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")

	now := s.clock()
	var (
		user    *domain.User
		created bool
		outcome domain.LinkOutcome
	)
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		var err error
		created, err = q.CreateUser(ctx, &domain.User{ID: userID, Username: username, RegisteredAt: now})
		if err != nil {
			return err
		}
		if !created && username != "" {
			if err := q.UpdateUsername(ctx, userID, username); err != nil {
				return err
			}
		}
		if created && inviterID != nil {
			if outcome, err = s.linkReferral(ctx, q, userID, *inviterID); err != nil {
				return err
			}
		}
		user, err = q.FindUserByID(ctx, userID)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("register user %d: %w", userID, err)
	}

	if created {
		s.logger.Info("user registered", "user_id", userID, "referral", string(outcome))
	}
	return user, created, nil
}

// LinkReferral sets the inviter of newUserID. Self-invites, unknown inviters, blocked pairs and
// users that already have an inviter are no-ops reported through the outcome.
func (s *Service) LinkReferral(ctx context.Context, newUserID, inviterID int64) (domain.LinkOutcome, error) {
	var outcome domain.LinkOutcome
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		var err error
		outcome, err = s.linkReferral(ctx, q, newUserID, inviterID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("link referral %d -> %d: %w", inviterID, newUserID, err)
	}
	s.logger.Info("referral link processed", "user_id", newUserID, "inviter_id", inviterID, "outcome", string(outcome))
	return outcome, nil
}

func (s *Service) linkReferral(ctx context.Context, q store.Queries, newUserID, inviterID int64) (domain.LinkOutcome, error) {
	if inviterID == newUserID {
		return domain.LinkSelf, nil
	}

	user, err := q.FindUserForUpdate(ctx, newUserID)
	if err != nil {
		return "", err
	}
	if user.InvitedBy != nil {
		return domain.LinkAlreadyLinked, nil
	}

	if _, err := q.FindUserByID(ctx, inviterID); err != nil {
		if isNotFound(err) {
			return domain.LinkInviterMissing, nil
		}
		return "", err
	}

	blocked, err := q.IsReferralBlocked(ctx, inviterID, newUserID)
	if err != nil {
		return "", err
	}
	if blocked {
		return domain.LinkBlocked, nil
	}

	linked, err := q.SetInvitedBy(ctx, newUserID, inviterID)
	if err != nil {
		return "", err
	}
	if !linked {
		return domain.LinkAlreadyLinked, nil
	}
	if err := q.IncrementRefCount(ctx, inviterID); err != nil {
		return "", err
	}
	return domain.LinkLinked, nil
}

// UnlinkReferral detaches the user from the inviter and blocks the pair from linking again.
// The inviter's ref_count is recomputed from the remaining edges. It reports whether a link existed.
func (s *Service) UnlinkReferral(ctx context.Context, userID int64) (bool, error) {
	now := s.clock()
	var (
		oldInviter int64
		unlinked   bool
		refCount   int
	)
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		user, err := q.FindUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if user.InvitedBy == nil {
			return nil
		}
		oldInviter = *user.InvitedBy

		if err := q.BlockReferral(ctx, oldInviter, userID, now); err != nil {
			return err
		}
		if err := q.ClearInvitedBy(ctx, userID); err != nil {
			return err
		}
		unlinked = true

		// The recount must see links committed while waiting for the inviter row,
		// so the lock is taken in its own statement first.
		if _, err := q.FindUserForUpdate(ctx, oldInviter); err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		refCount, err = q.RecountReferrals(ctx, oldInviter)
		if err != nil && !isNotFound(err) {
			return err
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("unlink referral for user %d: %w", userID, err)
	}

	if unlinked {
		s.logger.Info("referral unlinked", "user_id", userID, "inviter_id", oldInviter, "inviter_ref_count", refCount)
	}
	return unlinked, nil
}

// ListReferrals returns the users invited by inviterID.
func (s *Service) ListReferrals(ctx context.Context, inviterID int64) ([]domain.User, error) {
	if _, err := s.repo.FindUserByID(ctx, inviterID); err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	users, err := s.repo.ListReferrals(ctx, inviterID)
	if err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	return users, nil
}

// GetUser returns a user by id.
func (s *Service) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", userID, err)
	}
	return user, nil
}

// GetUserStats returns the lease and earning summary of a user.
func (s *Service) GetUserStats(ctx context.Context, userID int64) (*domain.UserStats, error) {
	stats, err := s.repo.GetUserStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user stats %d: %w", userID, err)
	}
	return stats, nil
}

// GetLedgerStats returns the operator summary.
func (s *Service) GetLedgerStats(ctx context.Context) (*domain.LedgerStats, error) {
	stats, err := s.repo.GetLedgerStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get ledger stats: %w", err)
	}
	return stats, nil
}
