package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
	"github.com/kekeling/kekeling/services/distribution/internal/logging"
	"github.com/kekeling/kekeling/services/distribution/internal/metrics"
	"github.com/kekeling/kekeling/services/distribution/internal/repository"
)

// CheckOutcome is what a promotion check did
type CheckOutcome string

const (
	OutcomeNone           CheckOutcome = "none"
	OutcomePromoted       CheckOutcome = "promoted"
	OutcomeApplied        CheckOutcome = "applied"
	OutcomeAlreadyApplied CheckOutcome = "already_applied"
)

// CheckResult reports the outcome of a promotion check
type CheckResult struct {
	AgentID     string
	Outcome     CheckOutcome
	FromLevel   domain.Level
	ToLevel     domain.Level
	Unmet       []string
	Application *domain.PromotionApplication
}

// Decision is a reviewer's verdict on an application
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ReviewRequest closes a pending application. Rejections need a note.
type ReviewRequest struct {
	ApplicationID string   `validate:"required"`
	Decision      Decision `validate:"oneof=approve reject"`
	ReviewerID    string   `validate:"required"`
	Note          string   `validate:"required_if=Decision reject"`
}

// PromotionEngine evaluates tier upgrades. Base to mid is automatic, mid to
// top goes through a reviewed application.
type PromotionEngine struct {
	log      *logging.Logger
	store    repository.Store
	source   AgentMetricsSource
	notify   *dispatcher
	clock    Clock
	metrics  *metrics.Metrics
	validate *validator.Validate
}

func NewPromotionEngine(log *logging.Logger, store repository.Store, source AgentMetricsSource, notify *dispatcher, clock Clock, m *metrics.Metrics, validate *validator.Validate) *PromotionEngine {
	return &PromotionEngine{
		log:      log.Named("promotion"),
		store:    store,
		source:   source,
		notify:   notify,
		clock:    clock,
		metrics:  m,
		validate: validate,
	}
}

func (p *PromotionEngine) load(ctx context.Context, agentID string) (*domain.Agent, *domain.DistributionConfig, error) {
	var (
		agent *domain.Agent
		cfg   *domain.DistributionConfig
	)
	err := p.store.ReadTx(ctx, func(tx repository.Tx) error {
		var err error
		if agent, err = tx.GetAgent(ctx, agentID); err != nil {
			return err
		}
		cfg, err = tx.GetActiveConfig(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			cfg = nil
			return nil
		}
		return err
	})
	return agent, cfg, err
}

func (p *PromotionEngine) agentMetrics(ctx context.Context, agentID string) (*domain.AgentMetrics, error) {
	m, err := p.source.AgentMetrics(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics of agent %q: %w", agentID, err)
	}
	if m == nil {
		m = &domain.AgentMetrics{}
	}
	return m, nil
}

// Check evaluates the agent against its next tier and acts on the result
func (p *PromotionEngine) Check(ctx context.Context, agentID string) (*CheckResult, error) {
	agent, cfg, err := p.load(ctx, agentID)
	if err != nil {
		return nil, err
	}
	result := &CheckResult{AgentID: agentID, Outcome: OutcomeNone, FromLevel: agent.Level, ToLevel: agent.Level}
	if cfg == nil || !agent.IsActive() {
		return result, nil
	}

	switch agent.Level {
	case domain.LevelBase:
		m, err := p.agentMetrics(ctx, agentID)
		if err != nil {
			return nil, err
		}
		result.Unmet = baseToMidUnmet(cfg.BaseToMid, agent, m, p.clock.GetTimeNow())
		if len(result.Unmet) > 0 {
			return result, nil
		}
		return p.promote(ctx, result)

	case domain.LevelMid:
		m, err := p.agentMetrics(ctx, agentID)
		if err != nil {
			return nil, err
		}
		result.Unmet = midToTopUnmet(cfg.MidToTop, agent, m)
		if len(result.Unmet) > 0 {
			return result, nil
		}
		app, err := p.openApplication(ctx, agent, m)
		if errors.Is(err, domain.ErrConflict) {
			result.Outcome = OutcomeAlreadyApplied
			return result, nil
		}
		if err != nil {
			return nil, err
		}
		result.Outcome = OutcomeApplied
		result.ToLevel = domain.LevelTop
		result.Application = app
		return result, nil

	default:
		return result, nil
	}
}

func (p *PromotionEngine) promote(ctx context.Context, result *CheckResult) (*CheckResult, error) {
	promoted := false
	err := p.store.WriteTx(ctx, func(tx repository.Tx) error {
		agent, err := tx.GetAgent(ctx, result.AgentID)
		if err != nil {
			return err
		}
		if agent.Level != domain.LevelBase {
			return nil
		}
		promoted = true
		return tx.UpdateLevel(ctx, agent.ID, domain.LevelMid)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to promote agent %q: %w", result.AgentID, err)
	}
	if !promoted {
		return result, nil
	}

	result.Outcome = OutcomePromoted
	result.ToLevel = domain.LevelMid
	p.metrics.Promotion(string(OutcomePromoted))
	p.log.Info("agent promoted",
		logging.String("agent_id", result.AgentID),
		logging.String("from", result.FromLevel.String()),
		logging.String("to", result.ToLevel.String()))
	p.notify.send(ctx, EventPromoted, result.AgentID, map[string]any{
		"from_level": result.FromLevel.String(),
		"to_level":   result.ToLevel.String(),
	})
	return result, nil
}

// openApplication stores a pending application and sets the agent marker.
// It fails with a conflict when one is already pending.
func (p *PromotionEngine) openApplication(ctx context.Context, agent *domain.Agent, m *domain.AgentMetrics) (*domain.PromotionApplication, error) {
	app := &domain.PromotionApplication{
		ID:        uuid.NewString(),
		AgentID:   agent.ID,
		FromLevel: domain.LevelMid,
		ToLevel:   domain.LevelTop,
		Snapshot:  snapshotOf(agent, m),
		Status:    domain.ApplicationStatusPending,
		CreatedAt: p.clock.GetTimeNow(),
	}
	err := p.store.WriteTx(ctx, func(tx repository.Tx) error {
		current, err := tx.LockAgent(ctx, agent.ID)
		if err != nil {
			return err
		}
		if current.Level != domain.LevelMid {
			return domain.ErrNotEligibleForApplication(agent.ID, current.Level)
		}
		if _, err := tx.FindPendingApplication(ctx, agent.ID); err == nil {
			return domain.ErrPendingApplicationExists(agent.ID)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := tx.CreateApplication(ctx, app); err != nil {
			return err
		}
		return tx.SetPromotionApplied(ctx, agent.ID, true)
	})
	if err != nil {
		return nil, err
	}

	p.metrics.Promotion(string(OutcomeApplied))
	p.log.Info("promotion application opened",
		logging.String("agent_id", agent.ID), logging.String("application_id", app.ID))
	p.notify.send(ctx, EventApplicationOpened, agent.ID, map[string]any{
		"application_id": app.ID,
		"to_level":       app.ToLevel.String(),
	})
	return app, nil
}

// Apply opens an application on the agent's request. The agent must be mid
// tier, have nothing pending and meet the mid to top criteria.
func (p *PromotionEngine) Apply(ctx context.Context, agentID string) (*domain.PromotionApplication, error) {
	agent, cfg, err := p.load(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Level != domain.LevelMid || !agent.IsActive() {
		return nil, domain.ErrNotEligibleForApplication(agentID, agent.Level)
	}
	if cfg == nil {
		return nil, domain.ErrConfigNotFound
	}
	m, err := p.agentMetrics(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if unmet := midToTopUnmet(cfg.MidToTop, agent, m); len(unmet) > 0 {
		return nil, domain.Validationf("agent %q does not meet %s", agentID, strings.Join(unmet, ", "))
	}
	return p.openApplication(ctx, agent, m)
}

// Review approves or rejects a pending application
func (p *PromotionEngine) Review(ctx context.Context, req ReviewRequest) (*domain.PromotionApplication, error) {
	if err := p.validate.Struct(req); err != nil {
		return nil, domain.Validationf("invalid review: %v", err)
	}
	now := p.clock.GetTimeNow()

	var app *domain.PromotionApplication
	err := p.store.WriteTx(ctx, func(tx repository.Tx) error {
		var err error
		app, err = tx.GetApplication(ctx, req.ApplicationID)
		if err != nil {
			return err
		}
		if app.Status != domain.ApplicationStatusPending {
			return domain.ErrApplicationClosed(app.ID, app.Status)
		}

		app.Status = domain.ApplicationStatusRejected
		if req.Decision == DecisionApprove {
			// the agent may have changed since applying
			agent, err := tx.LockAgent(ctx, app.AgentID)
			if err != nil {
				return err
			}
			if !agent.IsActive() || agent.Level != app.FromLevel {
				return domain.ErrNotEligibleForApplication(agent.ID, agent.Level)
			}
			app.Status = domain.ApplicationStatusApproved
			if err := tx.UpdateLevel(ctx, app.AgentID, app.ToLevel); err != nil {
				return err
			}
		}
		app.ReviewerID = req.ReviewerID
		app.ReviewNote = req.Note
		app.ReviewedAt = &now
		if err := tx.UpdateApplication(ctx, app); err != nil {
			return err
		}
		return tx.SetPromotionApplied(ctx, app.AgentID, false)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to review application %q: %w", req.ApplicationID, err)
	}

	event := EventApplicationRejected
	if app.Status == domain.ApplicationStatusApproved {
		event = EventApplicationApproved
	}
	p.metrics.Promotion(string(app.Status))
	p.log.Info("promotion application reviewed",
		logging.String("application_id", app.ID),
		logging.String("agent_id", app.AgentID),
		logging.String("status", string(app.Status)),
		logging.String("reviewer_id", app.ReviewerID))
	p.notify.send(ctx, event, app.AgentID, map[string]any{
		"application_id": app.ID,
		"note":           app.ReviewNote,
	})
	return app, nil
}

func (p *PromotionEngine) Application(ctx context.Context, id string) (*domain.PromotionApplication, error) {
	var app *domain.PromotionApplication
	err := p.store.ReadTx(ctx, func(tx repository.Tx) (err error) {
		app, err = tx.GetApplication(ctx, id)
		return err
	})
	return app, err
}

func baseToMidUnmet(th domain.BaseToMidThresholds, agent *domain.Agent, m *domain.AgentMetrics, now time.Time) []string {
	var unmet []string
	if m.OrderCount < th.MinOrders {
		unmet = append(unmet, "min_orders")
	}
	if m.Rating < th.MinRating {
		unmet = append(unmet, "min_rating")
	}
	if agent.TeamSize < th.MinDirectInvites {
		unmet = append(unmet, "min_direct_invites")
	}
	if agent.TenureMonths(now) < th.MinTenureMonths {
		unmet = append(unmet, "min_tenure_months")
	}
	if m.UnresolvedComplaints > 0 {
		unmet = append(unmet, "unresolved_complaints")
	}
	return unmet
}

func midToTopUnmet(th domain.MidToTopThresholds, agent *domain.Agent, m *domain.AgentMetrics) []string {
	var unmet []string
	if agent.TotalTeamSize < th.MinTeamSize {
		unmet = append(unmet, "min_team_size")
	}
	if m.TeamMonthlyOrders < th.MinTeamMonthlyOrders {
		unmet = append(unmet, "min_team_monthly_orders")
	}
	if m.MonthlyOrders < th.MinPersonalMonthlyOrders {
		unmet = append(unmet, "min_personal_monthly_orders")
	}
	return unmet
}

func snapshotOf(agent *domain.Agent, m *domain.AgentMetrics) domain.PromotionSnapshot {
	return domain.PromotionSnapshot{
		OrderCount:        m.OrderCount,
		Rating:            m.Rating,
		TeamSize:          agent.TeamSize,
		TotalTeamSize:     agent.TotalTeamSize,
		MonthlyOrders:     m.MonthlyOrders,
		TeamMonthlyOrders: m.TeamMonthlyOrders,
	}
}
