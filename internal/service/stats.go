package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
	"github.com/kekeling/kekeling/services/distribution/internal/logging"
	"github.com/kekeling/kekeling/services/distribution/internal/metrics"
	"github.com/kekeling/kekeling/services/distribution/internal/repository"
	"github.com/kekeling/kekeling/services/distribution/pkg/config"
)

// StatsAggregator keeps teamSize and totalTeamSize eventually consistent
type StatsAggregator struct {
	log              *logging.Logger
	store            repository.Store
	scheduler        Scheduler
	metrics          *metrics.Metrics
	hierarchyDepth   int
	propagationDepth int
	maxChainWalk     int
	maxRetries       uint64
	backoffBase      time.Duration
}

func NewStatsAggregator(log *logging.Logger, store repository.Store, scheduler Scheduler, m *metrics.Metrics, cfg config.ServiceConfig) *StatsAggregator {
	return &StatsAggregator{
		log:              log.Named("stats"),
		store:            store,
		scheduler:        scheduler,
		metrics:          m,
		hierarchyDepth:   cfg.HierarchyDepth,
		propagationDepth: cfg.StatsPropagationDepth,
		maxChainWalk:     cfg.MaxChainWalk,
		maxRetries:       cfg.StatsMaxRetries,
		backoffBase:      cfg.StatsBackoffBase,
	}
}

// Enqueue schedules a refresh starting at agentID. It never blocks; when the
// queue is full the job is dropped and left to reconciliation. Without a
// scheduler the job runs on the caller's goroutine.
func (s *StatsAggregator) Enqueue(ctx context.Context, agentID string) bool {
	job := func(ctx context.Context) {
		if err := s.Propagate(ctx, agentID); err != nil {
			s.log.Error("team statistics update abandoned",
				logging.String("agent_id", agentID), logging.Error(err))
		}
	}
	if s.scheduler == nil {
		job(ctx)
		return true
	}
	if !s.scheduler.Submit(job) {
		s.metrics.StatsJob(metrics.OutcomeDropped, 0)
		s.log.Warn("statistics queue full, job dropped", logging.String("agent_id", agentID))
		return false
	}
	return true
}

func (s *StatsAggregator) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.backoffBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = s.backoffBase << s.maxRetries
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, s.maxRetries), ctx)
}

// Propagate refreshes agentID and its ancestors, retrying the whole chain
// with exponential backoff. Missing agents are not retried.
func (s *StatsAggregator) Propagate(ctx context.Context, agentID string) error {
	start := time.Now()
	attempt := 0
	op := func() error {
		attempt++
		err := s.propagateOnce(ctx, agentID)
		if errors.Is(err, domain.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn("team statistics update failed, retrying",
			logging.String("agent_id", agentID),
			logging.Int("attempt", attempt),
			logging.Duration("wait", wait),
			logging.Error(err))
	}

	if err := backoff.RetryNotify(op, s.newBackOff(ctx), notify); err != nil {
		s.metrics.StatsJob(metrics.OutcomeFailed, time.Since(start))
		return fmt.Errorf("statistics for %q after %d attempts: %w", agentID, attempt, err)
	}
	s.metrics.StatsJob(metrics.OutcomeOK, time.Since(start))
	return nil
}

// propagateOnce walks up at most propagationDepth nodes in one transaction
func (s *StatsAggregator) propagateOnce(ctx context.Context, agentID string) error {
	return s.store.WriteTx(ctx, func(tx repository.Tx) error {
		visited := map[string]struct{}{}
		current := agentID
		for hop := 0; hop < s.propagationDepth && current != ""; hop++ {
			if _, seen := visited[current]; seen {
				break
			}
			visited[current] = struct{}{}

			agent, err := tx.GetAgent(ctx, current)
			if err != nil {
				return err
			}
			teamSize, err := tx.CountChildren(ctx, current)
			if err != nil {
				return err
			}
			descendants, err := descendantsWithin(ctx, tx, current, s.hierarchyDepth)
			if err != nil {
				return err
			}
			if agent.TeamSize != teamSize || agent.TotalTeamSize != len(descendants) {
				if err := tx.UpdateTeamStats(ctx, current, teamSize, len(descendants)); err != nil {
					return err
				}
			}

			current = ""
			if agent.IsBound() {
				current = *agent.ParentID
			}
		}
		return nil
	})
}

// Reconcile recomputes every node's path and statistics from the parentId
// links and fixes the nodes that drifted. It returns how many were fixed;
// a second run returns 0.
func (s *StatsAggregator) Reconcile(ctx context.Context) (int, error) {
	corrected := 0
	err := s.store.WriteTx(ctx, func(tx repository.Tx) error {
		corrected = 0
		agents, err := tx.ListAgents(ctx)
		if err != nil {
			return err
		}

		byID := make(map[string]*domain.Agent, len(agents))
		children := map[string][]string{}
		for _, a := range agents {
			byID[a.ID] = a
		}
		for _, a := range agents {
			if a.IsBound() {
				if _, ok := byID[*a.ParentID]; ok {
					children[*a.ParentID] = append(children[*a.ParentID], a.ID)
				}
			}
		}
		for _, ids := range children {
			sort.Strings(ids)
		}

		for _, a := range agents {
			path := s.pathFromParents(a, byID)
			teamSize := len(children[a.ID])
			total := countWithin(a.ID, children, s.hierarchyDepth)

			changed := false
			if !domain.PathsEqual(a.AncestorPath, path) {
				if err := tx.SetAncestorPath(ctx, a.ID, path); err != nil {
					return err
				}
				changed = true
			}
			if a.TeamSize != teamSize || a.TotalTeamSize != total {
				if err := tx.UpdateTeamStats(ctx, a.ID, teamSize, total); err != nil {
					return err
				}
				changed = true
			}
			if changed {
				corrected++
				s.log.Debug("reconciled agent",
					logging.String("agent_id", a.ID),
					logging.Strings("path", path),
					logging.Int("team_size", teamSize),
					logging.Int("total_team_size", total))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile team statistics: %w", err)
	}

	s.metrics.Reconciled(corrected)
	s.log.Info("reconciliation finished", logging.Int("corrected", corrected))
	return corrected, nil
}

// pathFromParents rebuilds the truncated ancestor path by walking parentId
func (s *StatsAggregator) pathFromParents(a *domain.Agent, byID map[string]*domain.Agent) []string {
	chain := []string{}
	current := a
	for i := 0; i < s.maxChainWalk && len(chain) < s.hierarchyDepth && current.IsBound(); i++ {
		parent, ok := byID[*current.ParentID]
		if !ok || parent.ID == a.ID {
			break
		}
		chain = append(chain, parent.ID)
		current = parent
	}
	return domain.ReversePath(chain)
}

// countWithin counts the nodes at most depth levels below id, breadth first
func countWithin(id string, children map[string][]string, depth int) int {
	total := 0
	visited := map[string]struct{}{id: {}}
	level := []string{id}
	for d := 0; d < depth && len(level) > 0; d++ {
		var next []string
		for _, parent := range level {
			for _, child := range children[parent] {
				if _, seen := visited[child]; seen {
					continue
				}
				visited[child] = struct{}{}
				next = append(next, child)
			}
		}
		total += len(next)
		level = next
	}
	return total
}
