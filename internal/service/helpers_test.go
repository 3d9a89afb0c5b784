package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
	"github.com/kekeling/kekeling/services/distribution/internal/logging"
	"github.com/kekeling/kekeling/services/distribution/internal/repository"
	"github.com/kekeling/kekeling/services/distribution/internal/service"
	"github.com/kekeling/kekeling/services/distribution/internal/service/mocks"
	"github.com/kekeling/kekeling/services/distribution/pkg/config"
)

type testService struct {
	*service.Service
	ctx   context.Context
	store *repository.MemoryStore
	ctrl  *gomock.Controller
	clock *mocks.MockClock
	now   time.Time
}

func getTestService(t *testing.T, opts ...func(*service.Options)) *testService {
	t.Helper()
	ctrl := gomock.NewController(t)

	ts := &testService{
		ctx:   context.Background(),
		store: repository.NewMemoryStore(),
		ctrl:  ctrl,
		clock: mocks.NewMockClock(ctrl),
		now:   time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	ts.clock.EXPECT().GetTimeNow().DoAndReturn(func() time.Time { return ts.now }).AnyTimes()

	cfg := config.DefaultServiceConfig()
	cfg.StatsBackoffBase = time.Millisecond
	o := service.Options{
		Config: cfg,
		Log:    logging.NewTestLogger(),
		Clock:  ts.clock,
	}
	for _, opt := range opts {
		opt(&o)
	}
	ts.Service = service.New(ts.store, o)
	return ts
}

func (ts *testService) advance(d time.Duration) {
	ts.now = ts.now.Add(d)
}

// register adds an agent and binds it under parent when parent is not empty
func (ts *testService) register(t *testing.T, id string, level domain.Level, parent string) *domain.Agent {
	t.Helper()
	_, err := ts.Tree.Register(ts.ctx, service.NewAgent{ID: id, Level: level, DistributionActive: true})
	require.NoError(t, err)
	if parent != "" {
		ts.bind(t, id, parent)
	}
	return ts.agent(t, id)
}

func (ts *testService) bind(t *testing.T, recruit, recruiter string) {
	t.Helper()
	_, err := ts.Binder.Bind(ts.ctx, recruit, ts.agent(t, recruiter).InviteCode)
	require.NoError(t, err)
}

func (ts *testService) agent(t *testing.T, id string) *domain.Agent {
	t.Helper()
	agent, err := ts.Tree.Agent(ts.ctx, id)
	require.NoError(t, err)
	return agent
}

// chain registers ids so that each one recruits the next
func (ts *testService) chain(t *testing.T, level domain.Level, ids ...string) {
	t.Helper()
	parent := ""
	for _, id := range ids {
		ts.register(t, id, level, parent)
		parent = id
	}
}

func (ts *testService) saveRates(t *testing.T, top, mid, base, bonus string) *domain.DistributionConfig {
	t.Helper()
	cfg, err := ts.Configs.SaveConfig(ts.ctx, &domain.DistributionConfig{
		Status: domain.ConfigStatusActive,
		Rates: domain.LevelRates{
			Top:  decimal.RequireFromString(top),
			Mid:  decimal.RequireFromString(mid),
			Base: decimal.RequireFromString(base),
		},
		InviteBonus: decimal.RequireFromString(bonus),
		BaseToMid: domain.BaseToMidThresholds{
			MinOrders:        10,
			MinRating:        4.5,
			MinDirectInvites: 2,
			MinTenureMonths:  3,
		},
		MidToTop: domain.MidToTopThresholds{
			MinTeamSize:              5,
			MinTeamMonthlyOrders:     100,
			MinPersonalMonthlyOrders: 20,
		},
	})
	require.NoError(t, err)
	return cfg
}

// writeAgent stores an agent directly, bypassing registration rules
func (ts *testService) writeAgent(t *testing.T, agent *domain.Agent) {
	t.Helper()
	require.NoError(t, ts.store.WriteTx(ts.ctx, func(tx repository.Tx) error {
		return tx.CreateAgent(ts.ctx, agent)
	}))
}

func (ts *testService) balance(t *testing.T, agentID string) int64 {
	t.Helper()
	w, err := ts.Ledger.Wallet(ts.ctx, agentID)
	require.NoError(t, err)
	return w.Balance
}

func newAgent(id string, level domain.Level, distributionActive bool) service.NewAgent {
	return service.NewAgent{ID: id, Level: level, DistributionActive: distributionActive}
}
