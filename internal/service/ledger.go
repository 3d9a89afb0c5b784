package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
	"github.com/kekeling/kekeling/services/distribution/internal/logging"
	"github.com/kekeling/kekeling/services/distribution/internal/metrics"
	"github.com/kekeling/kekeling/services/distribution/internal/repository"
)

// Ledger owns the distribution record lifecycle and the wallet movements
// that go with it
type Ledger struct {
	log        *logging.Logger
	store      repository.Store
	clock      Clock
	metrics    *metrics.Metrics
	notify     *dispatcher
	coolingOff time.Duration
}

func NewLedger(log *logging.Logger, store repository.Store, clock Clock, m *metrics.Metrics, notify *dispatcher, coolingOff time.Duration) *Ledger {
	return &Ledger{
		log:        log.Named("ledger"),
		store:      store,
		clock:      clock,
		metrics:    m,
		notify:     notify,
		coolingOff: coolingOff,
	}
}

// CreateRecords writes one pending commission per entry. Entries already on
// the ledger are skipped so a replayed order completion is harmless.
func (l *Ledger) CreateRecords(ctx context.Context, calc *Calculation) ([]*domain.DistributionRecord, error) {
	if calc == nil {
		return nil, domain.Validationf("calculation is required")
	}
	now := l.clock.GetTimeNow()
	created := []*domain.DistributionRecord{}

	err := l.store.WriteTx(ctx, func(tx repository.Tx) error {
		created = created[:0]
		for _, e := range calc.Entries {
			rec := &domain.DistributionRecord{
				ID:               uuid.NewString(),
				OrderID:          calc.OrderID,
				SourceAgentID:    calc.SourceAgentID,
				BeneficiaryID:    e.BeneficiaryID,
				BeneficiaryLevel: e.BeneficiaryLevel,
				RelationDepth:    e.Depth,
				Rate:             e.Rate,
				OrderAmount:      domain.FromMinor(calc.OrderAmountMinor),
				Amount:           domain.FromMinor(e.AmountMinor),
				Type:             domain.RecordTypeCommission,
				Status:           domain.RecordStatusPending,
				CreatedAt:        now,
			}
			_, err := tx.GetRecordByKey(ctx, rec.DedupeKey())
			if err == nil {
				continue
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if err := tx.CreateRecord(ctx, rec); err != nil {
				return err
			}
			created = append(created, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create records for order %q: %w", calc.OrderID, err)
	}

	for range created {
		l.metrics.RecordTransition(string(domain.RecordTypeCommission), string(domain.RecordStatusPending))
	}
	if skipped := len(calc.Entries) - len(created); skipped > 0 {
		l.log.Info("skipped commissions already on the ledger",
			logging.String("order_id", calc.OrderID), logging.Int("skipped", skipped))
	}
	return created, nil
}

// GrantDirectInviteBonus pays the flat bonus a recruiter earns for a
// recruit's first order. It returns the bonus record and whether this call
// granted it; a bonus already on the ledger is returned unchanged. Nothing
// is granted without an active configuration or with a zero bonus.
func (l *Ledger) GrantDirectInviteBonus(ctx context.Context, recruiterID, recruitID, firstOrderID string) (*domain.DistributionRecord, bool, error) {
	if recruiterID == "" || recruitID == "" {
		return nil, false, domain.Validationf("recruiter and recruit ids are required")
	}
	now := l.clock.GetTimeNow()
	key := domain.InviteBonusKey(recruiterID, recruitID)

	var (
		rec     *domain.DistributionRecord
		granted bool
		line    *domain.WalletLine
	)
	err := l.store.WriteTx(ctx, func(tx repository.Tx) error {
		rec, granted, line = nil, false, nil

		existing, err := tx.GetRecordByKey(ctx, key)
		if err == nil {
			rec = existing
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		cfg, err := tx.GetActiveConfig(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		amountMinor := domain.ToMinor(cfg.InviteBonus)
		if amountMinor <= 0 {
			return nil
		}

		recruiter, err := tx.GetAgent(ctx, recruiterID)
		if err != nil {
			return err
		}
		recruit, err := tx.GetAgent(ctx, recruitID)
		if err != nil {
			return err
		}
		if !recruit.IsBound() || *recruit.ParentID != recruiterID {
			return domain.Validationf("agent %q was not recruited by %q", recruitID, recruiterID)
		}

		rec = &domain.DistributionRecord{
			ID:               uuid.NewString(),
			OrderID:          firstOrderID,
			SourceAgentID:    recruitID,
			BeneficiaryID:    recruiterID,
			BeneficiaryLevel: recruiter.Level,
			RelationDepth:    1,
			Rate:             decimal.Zero,
			OrderAmount:      decimal.Zero,
			Amount:           domain.FromMinor(amountMinor),
			Type:             domain.RecordTypeInviteBonus,
			Status:           domain.RecordStatusPending,
			CreatedAt:        now,
		}
		if err := rec.Transition(domain.RecordStatusSettled, now); err != nil {
			return err
		}
		if err := tx.CreateRecord(ctx, rec); err != nil {
			return err
		}
		line, err = l.credit(ctx, tx, rec, domain.WalletLineInviteBonus, amountMinor, now)
		if err != nil {
			return err
		}
		granted = true
		return nil
	})
	if errors.Is(err, domain.ErrConflict) {
		// a concurrent grant committed first
		return l.recordByKey(ctx, key)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to grant invite bonus: %w", err)
	}

	if granted {
		l.metrics.RecordTransition(string(domain.RecordTypeInviteBonus), string(domain.RecordStatusSettled))
		l.metrics.WalletMovement(string(line.Kind), line.AmountMinor)
		l.notify.send(ctx, EventInviteBonusGranted, recruiterID, map[string]any{
			"recruit_id": recruitID,
			"amount":     rec.Amount.StringFixed(domain.MinorUnitExponent),
		})
	}
	return rec, granted, nil
}

func (l *Ledger) recordByKey(ctx context.Context, key string) (*domain.DistributionRecord, bool, error) {
	var rec *domain.DistributionRecord
	err := l.store.ReadTx(ctx, func(tx repository.Tx) (err error) {
		rec, err = tx.GetRecordByKey(ctx, key)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

// Settle credits every pending commission of the order. An order without
// pending commissions is left alone.
func (l *Ledger) Settle(ctx context.Context, orderID string) (int, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return 0, domain.Validationf("order id is required")
	}
	now := l.clock.GetTimeNow()

	var lines []*domain.WalletLine
	err := l.store.WriteTx(ctx, func(tx repository.Tx) error {
		lines = lines[:0]
		records, err := tx.FindRecordsByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if rec.Type != domain.RecordTypeCommission || rec.Status != domain.RecordStatusPending {
				continue
			}
			if err := rec.Transition(domain.RecordStatusSettled, now); err != nil {
				return err
			}
			if err := tx.UpdateRecord(ctx, rec); err != nil {
				return err
			}
			line, err := l.credit(ctx, tx, rec, domain.WalletLineCommissionSettle, rec.AmountMinor(), now)
			if err != nil {
				return err
			}
			lines = append(lines, line)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to settle order %q: %w", orderID, err)
	}

	for _, line := range lines {
		l.metrics.RecordTransition(string(domain.RecordTypeCommission), string(domain.RecordStatusSettled))
		l.metrics.WalletMovement(string(line.Kind), line.AmountMinor)
	}
	if len(lines) > 0 {
		l.log.Info("order settled", logging.String("order_id", orderID), logging.Int("records", len(lines)))
	}
	return len(lines), nil
}

// SettleSummary reports what a settlement run did
type SettleSummary struct {
	Orders  int
	Records int
	Failed  []string
}

// SettleDue settles every order whose pending commissions are older than
// the cooling-off period. A failing order does not stop the run.
func (l *Ledger) SettleDue(ctx context.Context, now time.Time) (*SettleSummary, error) {
	cutoff := now.Add(-l.coolingOff)

	var orders []string
	err := l.store.ReadTx(ctx, func(tx repository.Tx) (err error) {
		orders, err = tx.OrdersWithPendingBefore(ctx, cutoff)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list due orders: %w", err)
	}

	summary := &SettleSummary{Failed: []string{}}
	var errs []error
	for _, orderID := range orders {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := l.Settle(ctx, orderID)
		if err != nil {
			l.log.Error("failed to settle due order", logging.String("order_id", orderID), logging.Error(err))
			summary.Failed = append(summary.Failed, orderID)
			errs = append(errs, err)
			continue
		}
		summary.Orders++
		summary.Records += n
	}
	return summary, errors.Join(errs...)
}

// Cancel voids the commissions of an order. Pending records are cancelled,
// settled ones are reversed out of the wallet first, cancelled ones stay.
func (l *Ledger) Cancel(ctx context.Context, orderID, reason string) (int, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return 0, domain.Validationf("order id is required")
	}
	now := l.clock.GetTimeNow()

	var (
		cancelled int
		lines     []*domain.WalletLine
	)
	err := l.store.WriteTx(ctx, func(tx repository.Tx) error {
		cancelled, lines = 0, lines[:0]
		records, err := tx.FindRecordsByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if rec.Type != domain.RecordTypeCommission || rec.Status == domain.RecordStatusCancelled {
				continue
			}
			wasSettled := rec.Status == domain.RecordStatusSettled
			if err := rec.Transition(domain.RecordStatusCancelled, now); err != nil {
				return err
			}
			rec.CancelReason = reason
			if err := tx.UpdateRecord(ctx, rec); err != nil {
				return err
			}
			if wasSettled {
				line, err := l.credit(ctx, tx, rec, domain.WalletLineCommissionReversal, -rec.AmountMinor(), now)
				if err != nil {
					return err
				}
				lines = append(lines, line)
			}
			cancelled++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to cancel order %q: %w", orderID, err)
	}

	for i := 0; i < cancelled; i++ {
		l.metrics.RecordTransition(string(domain.RecordTypeCommission), string(domain.RecordStatusCancelled))
	}
	for _, line := range lines {
		l.metrics.WalletMovement(string(line.Kind), line.AmountMinor)
	}
	if cancelled > 0 {
		l.log.Info("order commissions cancelled",
			logging.String("order_id", orderID),
			logging.Int("records", cancelled),
			logging.Int("reversed", len(lines)),
			logging.String("reason", reason))
	}
	return cancelled, nil
}

// credit moves a wallet by amountMinor and appends the matching line
func (l *Ledger) credit(ctx context.Context, tx repository.Tx, rec *domain.DistributionRecord, kind domain.WalletLineKind, amountMinor int64, at time.Time) (*domain.WalletLine, error) {
	balance, err := tx.AdjustWallet(ctx, rec.BeneficiaryID, amountMinor, at)
	if err != nil {
		return nil, err
	}
	line := &domain.WalletLine{
		ID:           uuid.NewString(),
		AgentID:      rec.BeneficiaryID,
		RecordID:     rec.ID,
		OrderID:      rec.OrderID,
		Kind:         kind,
		AmountMinor:  amountMinor,
		BalanceAfter: balance,
		CreatedAt:    at,
	}
	if err := tx.AppendWalletLine(ctx, line); err != nil {
		return nil, err
	}
	return line, nil
}

func (l *Ledger) Records(ctx context.Context, orderID string) ([]*domain.DistributionRecord, error) {
	var out []*domain.DistributionRecord
	err := l.store.ReadTx(ctx, func(tx repository.Tx) (err error) {
		out, err = tx.FindRecordsByOrder(ctx, orderID)
		return err
	})
	return out, err
}

func (l *Ledger) Wallet(ctx context.Context, agentID string) (*domain.Wallet, error) {
	var w *domain.Wallet
	err := l.store.ReadTx(ctx, func(tx repository.Tx) (err error) {
		w, err = tx.GetWallet(ctx, agentID)
		return err
	})
	return w, err
}

func (l *Ledger) WalletLines(ctx context.Context, agentID string) ([]*domain.WalletLine, error) {
	var out []*domain.WalletLine
	err := l.store.ReadTx(ctx, func(tx repository.Tx) (err error) {
		out, err = tx.ListWalletLines(ctx, agentID)
		return err
	})
	return out, err
}
