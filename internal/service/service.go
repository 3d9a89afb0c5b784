// Package service implements the referral hierarchy, commission ledger and
// promotion workflow on top of a transactional store
package service

import (
	"context"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
	"github.com/kekeling/kekeling/services/distribution/internal/logging"
	"github.com/kekeling/kekeling/services/distribution/internal/metrics"
	"github.com/kekeling/kekeling/services/distribution/internal/ratelimit"
	"github.com/kekeling/kekeling/services/distribution/internal/repository"
	"github.com/kekeling/kekeling/services/distribution/internal/worker"
	"github.com/kekeling/kekeling/services/distribution/pkg/config"
)

//go:generate go run github.com/golang/mock/mockgen -destination mocks/mocks.go -package mocks github.com/kekeling/kekeling/services/distribution/internal/service Clock,Notifier,AgentMetricsSource

// Clock is the source of the current time
type Clock interface {
	GetTimeNow() time.Time
}

type systemClock struct{}

func (systemClock) GetTimeNow() time.Time {
	return time.Now().UTC()
}

// SystemClock returns the wall clock in UTC
func SystemClock() Clock {
	return systemClock{}
}

// Notification events sent to agents
const (
	EventPromoted            = "distribution.promoted"
	EventApplicationOpened   = "distribution.application_opened"
	EventApplicationApproved = "distribution.application_approved"
	EventApplicationRejected = "distribution.application_rejected"
	EventInviteBonusGranted  = "distribution.invite_bonus_granted"
)

// Notifier delivers events to agents. Delivery is best effort.
type Notifier interface {
	Send(ctx context.Context, event, recipientID string, data map[string]any) error
}

// NopNotifier drops every event
type NopNotifier struct{}

func (NopNotifier) Send(context.Context, string, string, map[string]any) error {
	return nil
}

// AgentMetricsSource provides the order-side figures owned by the order subsystem
type AgentMetricsSource interface {
	AgentMetrics(ctx context.Context, agentID string) (*domain.AgentMetrics, error)
}

// noMetrics reports zero for everything; without an order subsystem no
// agent qualifies for promotion.
type noMetrics struct{}

func (noMetrics) AgentMetrics(context.Context, string) (*domain.AgentMetrics, error) {
	return &domain.AgentMetrics{}, nil
}

// Scheduler runs background jobs. *worker.Pool satisfies it.
type Scheduler interface {
	Submit(job worker.Job) bool
}

// Options carries the collaborators of the service. Zero values get defaults.
type Options struct {
	Config    config.ServiceConfig
	Log       *logging.Logger
	Clock     Clock
	Notifier  Notifier
	Source    AgentMetricsSource
	Limiter   ratelimit.Limiter
	Scheduler Scheduler
	Metrics   *metrics.Metrics
}

func (o *Options) defaults() {
	if o.Config.HierarchyDepth == 0 {
		o.Config = config.DefaultServiceConfig()
	}
	if o.Log == nil {
		o.Log = logging.NewTestLogger()
	}
	if o.Clock == nil {
		o.Clock = systemClock{}
	}
	if o.Notifier == nil {
		o.Notifier = NopNotifier{}
	}
	if o.Source == nil {
		o.Source = noMetrics{}
	}
	if o.Limiter == nil {
		o.Limiter = ratelimit.NewLocalLimiter(o.Config.BindAttemptLimit, o.Config.BindAttemptWindow)
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
}

// Service bundles the distribution components over one store
type Service struct {
	Tree       *Tree
	Codes      *InviteCodes
	Binder     *Binder
	Calculator *Calculator
	Ledger     *Ledger
	Stats      *StatsAggregator
	Promotions *PromotionEngine
	Configs    *ConfigManager
}

func New(store repository.Store, opts Options) *Service {
	opts.defaults()
	validate := newValidator()
	notify := newDispatcher(opts.Log, opts.Notifier, opts.Scheduler, opts.Metrics)

	codes := NewInviteCodes(opts.Log, store, opts.Config.InviteCodeAttempts)
	stats := NewStatsAggregator(opts.Log, store, opts.Scheduler, opts.Metrics, opts.Config)
	s := &Service{
		Tree:       NewTree(store, opts.Clock, codes, opts.Config.HierarchyDepth),
		Codes:      codes,
		Stats:      stats,
		Binder:     NewBinder(opts.Log, store, opts.Limiter, stats, opts.Clock, opts.Metrics, opts.Config),
		Calculator: NewCalculator(opts.Log, store, opts.Config.HierarchyDepth),
		Ledger:     NewLedger(opts.Log, store, opts.Clock, opts.Metrics, notify, opts.Config.SettlementCoolingOff),
		Configs:    NewConfigManager(opts.Log, store, opts.Clock, validate),
	}
	s.Promotions = NewPromotionEngine(opts.Log, store, opts.Source, notify, opts.Clock, opts.Metrics, validate)
	return s
}

// newValidator teaches the validator to compare decimals as numbers
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// dispatcher sends notifications after the triggering transaction committed
type dispatcher struct {
	log       *logging.Logger
	notifier  Notifier
	scheduler Scheduler
	metrics   *metrics.Metrics
}

func newDispatcher(log *logging.Logger, n Notifier, s Scheduler, m *metrics.Metrics) *dispatcher {
	return &dispatcher{log: log.Named("notify"), notifier: n, scheduler: s, metrics: m}
}

func (d *dispatcher) send(ctx context.Context, event, recipientID string, data map[string]any) {
	deliver := func(ctx context.Context) {
		if err := d.notifier.Send(ctx, event, recipientID, data); err != nil {
			d.metrics.NotificationFailed()
			d.log.Warn("notification failed",
				logging.String("event", event),
				logging.String("recipient", recipientID),
				logging.Error(err))
		}
	}
	if d.scheduler == nil {
		deliver(ctx)
		return
	}
	if !d.scheduler.Submit(deliver) {
		d.metrics.NotificationFailed()
		d.log.Warn("notification queue full, event dropped",
			logging.String("event", event),
			logging.String("recipient", recipientID))
	}
}

// RecordOrder computes the commissions of a completed order and books them
// as pending records
func (s *Service) RecordOrder(ctx context.Context, orderID, agentID string, orderAmountMinor int64) (*Calculation, []*domain.DistributionRecord, error) {
	calc, err := s.Calculator.Calculate(ctx, orderID, agentID, orderAmountMinor)
	if err != nil {
		return nil, nil, err
	}
	records, err := s.Ledger.CreateRecords(ctx, calc)
	if err != nil {
		return nil, nil, err
	}
	return calc, records, nil
}
