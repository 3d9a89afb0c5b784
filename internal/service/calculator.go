package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
	"github.com/kekeling/kekeling/services/distribution/internal/logging"
	"github.com/kekeling/kekeling/services/distribution/internal/repository"
)

// Entry is the commission one ancestor earns on an order
type Entry struct {
	BeneficiaryID    string
	BeneficiaryLevel domain.Level
	Depth            int
	Rate             decimal.Decimal
	AmountMinor      int64
}

// Calculation is the commission split of one order
type Calculation struct {
	OrderID          string
	SourceAgentID    string
	OrderAmountMinor int64
	Entries          []Entry
	TotalMinor       int64
}

// Calculator computes commissions without persisting anything
type Calculator struct {
	log   *logging.Logger
	store repository.Store
	depth int
}

func NewCalculator(log *logging.Logger, store repository.Store, depth int) *Calculator {
	return &Calculator{log: log.Named("calculator"), store: store, depth: depth}
}

// Calculate splits an order amount among the executing agent's ancestors.
// Without an active configuration the result is empty.
func (c *Calculator) Calculate(ctx context.Context, orderID, agentID string, orderAmountMinor int64) (*Calculation, error) {
	orderID, agentID = strings.TrimSpace(orderID), strings.TrimSpace(agentID)
	if orderID == "" {
		return nil, domain.Validationf("order id is required")
	}
	if agentID == "" {
		return nil, domain.Validationf("agent id is required")
	}
	if orderAmountMinor < 0 {
		return nil, domain.Validationf("order amount must not be negative, got %d", orderAmountMinor)
	}

	calc := &Calculation{
		OrderID:          orderID,
		SourceAgentID:    agentID,
		OrderAmountMinor: orderAmountMinor,
		Entries:          []Entry{},
	}

	err := c.store.ReadTx(ctx, func(tx repository.Tx) error {
		cfg, err := tx.GetActiveConfig(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			c.log.Warn("no active distribution configuration, skipping commission",
				logging.String("order_id", orderID))
			return nil
		}
		if err != nil {
			return err
		}

		agent, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}

		for i, ancestorID := range agent.Ancestors() {
			depth := i + 1
			if depth > c.depth {
				break
			}
			ancestor, err := tx.GetAgent(ctx, ancestorID)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			entry, ok := entryFor(cfg, ancestor, depth, orderAmountMinor)
			if !ok {
				continue
			}
			calc.Entries = append(calc.Entries, entry)
			calc.TotalMinor += entry.AmountMinor
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return calc, nil
}

// entryFor applies the level rules to one ancestor. Base tier earns only on
// direct recruits.
func entryFor(cfg *domain.DistributionConfig, ancestor *domain.Agent, depth int, orderAmountMinor int64) (Entry, bool) {
	if !ancestor.IsActive() || !ancestor.DistributionActive {
		return Entry{}, false
	}
	if ancestor.Level == domain.LevelBase && depth != 1 {
		return Entry{}, false
	}
	rate := cfg.Rates.ForLevel(ancestor.Level)
	if !rate.IsPositive() {
		return Entry{}, false
	}
	amount := domain.PercentOf(orderAmountMinor, rate)
	if amount <= 0 {
		return Entry{}, false
	}
	return Entry{
		BeneficiaryID:    ancestor.ID,
		BeneficiaryLevel: ancestor.Level,
		Depth:            depth,
		Rate:             rate,
		AmountMinor:      amount,
	}, true
}
