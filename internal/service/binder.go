package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
	"github.com/kekeling/kekeling/services/distribution/internal/logging"
	"github.com/kekeling/kekeling/services/distribution/internal/metrics"
	"github.com/kekeling/kekeling/services/distribution/internal/ratelimit"
	"github.com/kekeling/kekeling/services/distribution/internal/repository"
	"github.com/kekeling/kekeling/services/distribution/pkg/config"
)

// Binder attaches recruits to recruiters through invite codes
type Binder struct {
	log          *logging.Logger
	store        repository.Store
	limiter      ratelimit.Limiter
	stats        *StatsAggregator
	clock        Clock
	metrics      *metrics.Metrics
	depth        int
	maxChainWalk int
}

func NewBinder(log *logging.Logger, store repository.Store, limiter ratelimit.Limiter, stats *StatsAggregator, clock Clock, m *metrics.Metrics, cfg config.ServiceConfig) *Binder {
	return &Binder{
		log:          log.Named("binder"),
		store:        store,
		limiter:      limiter,
		stats:        stats,
		clock:        clock,
		metrics:      m,
		depth:        cfg.HierarchyDepth,
		maxChainWalk: cfg.MaxChainWalk,
	}
}

// Bind makes the owner of inviteCode the recruiter of recruitID. Team
// statistics are refreshed in the background after the bind commits.
func (b *Binder) Bind(ctx context.Context, recruitID, inviteCode string) (*domain.Agent, error) {
	recruitID = strings.TrimSpace(recruitID)
	inviteCode = strings.ToUpper(strings.TrimSpace(inviteCode))
	if recruitID == "" {
		return nil, domain.Validationf("recruit id is required")
	}
	if inviteCode == "" {
		return nil, domain.Validationf("invite code is required")
	}

	if !b.limiter.Allow(ctx, recruitID) {
		b.metrics.BindAttempt(metrics.OutcomeRejected)
		return nil, domain.ErrBindThrottled(recruitID)
	}

	now := b.clock.GetTimeNow()
	var (
		recruit   *domain.Agent
		recruiter *domain.Agent
		rebased   int
	)
	err := b.store.WriteTx(ctx, func(tx repository.Tx) error {
		owner, err := tx.GetAgentByInviteCode(ctx, inviteCode)
		if err != nil {
			return err
		}
		recruit, recruiter, err = lockPair(ctx, tx, recruitID, owner.ID)
		if err != nil {
			return err
		}
		if !recruiter.IsActive() || recruiter.InviteCode != inviteCode {
			return domain.ErrInviteCodeNotFound(inviteCode)
		}
		if recruit.ID == recruiter.ID {
			return domain.ErrSelfBinding(recruit.ID)
		}
		if recruit.IsBound() {
			return domain.ErrAlreadyBound(recruit.ID)
		}
		if err := b.checkCycle(ctx, tx, recruiter, recruit.ID); err != nil {
			return err
		}

		path := domain.BuildAncestorPath(recruiter.AncestorPath, recruiter.ID, b.depth)
		if err := tx.BindParent(ctx, recruit.ID, recruiter.ID, path, now); err != nil {
			return err
		}
		parentID := recruiter.ID
		recruit.ParentID = &parentID
		recruit.AncestorPath = path
		recruit.BoundAt = &now

		rebased, err = b.rebaseDescendants(ctx, tx, recruit.ID, path)
		if err != nil {
			return err
		}

		return tx.CreateInvitation(ctx, &domain.Invitation{
			ID:          uuid.NewString(),
			RecruiterID: recruiter.ID,
			RecruitID:   recruit.ID,
			Code:        inviteCode,
			CreatedAt:   now,
		})
	})
	if err != nil {
		outcome := metrics.OutcomeFailed
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			outcome = metrics.OutcomeRejected
		}
		b.metrics.BindAttempt(outcome)
		return nil, fmt.Errorf("failed to bind %q: %w", recruitID, err)
	}

	b.metrics.BindAttempt(metrics.OutcomeOK)
	b.log.Info("agent bound",
		logging.String("recruit_id", recruit.ID),
		logging.String("recruiter_id", recruiter.ID),
		logging.Strings("path", recruit.AncestorPath),
		logging.Int("rebased", rebased))

	b.stats.Enqueue(ctx, recruiter.ID)
	return recruit, nil
}

// lockPair locks the recruit and the recruiter in id order and returns their
// state as of the lock
func lockPair(ctx context.Context, tx repository.Tx, recruitID, recruiterID string) (recruit, recruiter *domain.Agent, err error) {
	if recruitID == recruiterID {
		recruit, err = tx.LockAgent(ctx, recruitID)
		return recruit, recruit, err
	}
	first, second := recruitID, recruiterID
	if second < first {
		first, second = second, first
	}
	locked := make(map[string]*domain.Agent, 2)
	for _, id := range []string{first, second} {
		a, err := tx.LockAgent(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		locked[id] = a
	}
	return locked[recruitID], locked[recruiterID], nil
}

// checkCycle rejects a recruiter that already sits below the recruit. The
// stored path only covers the nearest ancestors, so the parent chain is
// walked as well. Every ancestor on the walk is locked: a concurrent bind
// of one of them would otherwise go unseen and could close a loop.
func (b *Binder) checkCycle(ctx context.Context, tx repository.Tx, recruiter *domain.Agent, recruitID string) error {
	if domain.PathContains(recruiter.AncestorPath, recruitID) {
		return domain.ErrBindingCycle(recruiter.ID, recruitID)
	}

	current := recruiter
	for i := 0; i < b.maxChainWalk && current.IsBound(); i++ {
		parentID := *current.ParentID
		if parentID == recruitID {
			return domain.ErrBindingCycle(recruiter.ID, recruitID)
		}
		parent, err := tx.LockAgent(ctx, parentID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		current = parent
	}
	if current.IsBound() {
		b.log.Warn("parent chain longer than the walk limit, cycle check truncated",
			logging.String("recruiter_id", recruiter.ID),
			logging.Int("limit", b.maxChainWalk))
	}
	return nil
}

// rebaseDescendants rewrites the paths of a recruit's existing team so they
// include the recruit's new ancestors
func (b *Binder) rebaseDescendants(ctx context.Context, tx repository.Tx, recruitID string, recruitPath []string) (int, error) {
	descendants, err := tx.FindDescendants(ctx, recruitID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range descendants {
		path := domain.RebasePath(d.AncestorPath, recruitID, recruitPath, b.depth)
		if domain.PathsEqual(path, d.AncestorPath) {
			continue
		}
		if err := tx.SetAncestorPath(ctx, d.ID, path); err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// Invitations lists the binds a recruiter made, oldest first
func (b *Binder) Invitations(ctx context.Context, recruiterID string) ([]*domain.Invitation, error) {
	var out []*domain.Invitation
	err := b.store.ReadTx(ctx, func(tx repository.Tx) (err error) {
		out, err = tx.ListInvitations(ctx, recruiterID)
		return err
	})
	return out, err
}
