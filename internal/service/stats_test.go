package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
	"github.com/kekeling/kekeling/services/distribution/internal/logging"
	"github.com/kekeling/kekeling/services/distribution/internal/metrics"
	"github.com/kekeling/kekeling/services/distribution/internal/repository"
	"github.com/kekeling/kekeling/services/distribution/internal/service"
	"github.com/kekeling/kekeling/services/distribution/internal/worker"
	"github.com/kekeling/kekeling/services/distribution/pkg/config"
)

var errFlaky = errors.New("connection reset")

// flakyStore fails the first failures write transactions
type flakyStore struct {
	repository.Store
	failures int64
	writes   int64
}

func (s *flakyStore) WriteTx(ctx context.Context, fn func(repository.Tx) error) error {
	n := atomic.AddInt64(&s.writes, 1)
	if n <= atomic.LoadInt64(&s.failures) {
		return errFlaky
	}
	return s.Store.WriteTx(ctx, fn)
}

func newStatsAggregator(store repository.Store, scheduler service.Scheduler, tweak func(*config.ServiceConfig)) *service.StatsAggregator {
	cfg := config.DefaultServiceConfig()
	cfg.StatsBackoffBase = time.Millisecond
	if tweak != nil {
		tweak(&cfg)
	}
	return service.NewStatsAggregator(logging.NewTestLogger(), store, scheduler, metrics.New(), cfg)
}

func TestStatsPropagation(t *testing.T) {
	t.Run("retries transient failures", testPropagateRetries)
	t.Run("gives up after the retry budget", testPropagateGivesUp)
	t.Run("missing agents are not retried", testPropagateMissingAgent)
	t.Run("stops after the propagation depth", testPropagateDepth)
	t.Run("drops jobs when the queue is full", testEnqueueQueueFull)
	t.Run("runs queued jobs on the worker pool", testEnqueueOnPool)
}

func testPropagateRetries(t *testing.T) {
	ts := getTestService(t)
	ts.chain(t, domain.LevelBase, "root", "child")
	resetStats(t, ts, "root")

	flaky := &flakyStore{Store: ts.store, failures: 2}
	stats := newStatsAggregator(flaky, nil, nil)

	require.NoError(t, stats.Propagate(ts.ctx, "root"))
	assert.Equal(t, int64(3), atomic.LoadInt64(&flaky.writes))
	assert.Equal(t, 1, ts.agent(t, "root").TeamSize)
}

func testPropagateGivesUp(t *testing.T) {
	ts := getTestService(t)
	ts.register(t, "root", domain.LevelBase, "")

	flaky := &flakyStore{Store: ts.store, failures: 100}
	stats := newStatsAggregator(flaky, nil, nil)

	err := stats.Propagate(ts.ctx, "root")
	assert.True(t, errors.Is(err, errFlaky))
	// first attempt plus three retries
	assert.Equal(t, int64(4), atomic.LoadInt64(&flaky.writes))
}

func testPropagateMissingAgent(t *testing.T) {
	ts := getTestService(t)
	flaky := &flakyStore{Store: ts.store}
	stats := newStatsAggregator(flaky, nil, nil)

	err := stats.Propagate(ts.ctx, "ghost")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Equal(t, int64(1), atomic.LoadInt64(&flaky.writes))
}

func testPropagateDepth(t *testing.T) {
	ts := getTestService(t)
	ts.chain(t, domain.LevelBase, "a", "b", "c", "d")
	resetStats(t, ts, "a", "b", "c", "d")

	stats := newStatsAggregator(ts.store, nil, func(c *config.ServiceConfig) {
		c.StatsPropagationDepth = 2
	})
	require.NoError(t, stats.Propagate(ts.ctx, "c"))

	assert.Equal(t, 1, ts.agent(t, "c").TeamSize)
	assert.Equal(t, 1, ts.agent(t, "b").TeamSize)
	assert.Equal(t, 2, ts.agent(t, "b").TotalTeamSize)
	// beyond the propagation depth
	assert.Equal(t, 0, ts.agent(t, "a").TeamSize)
}

func testEnqueueQueueFull(t *testing.T) {
	ts := getTestService(t)
	pool := worker.NewPool(logging.NewTestLogger(), 1, 1)
	defer pool.Stop(ts.ctx)

	stats := newStatsAggregator(ts.store, pool, nil)
	assert.True(t, stats.Enqueue(ts.ctx, "a"))
	assert.False(t, stats.Enqueue(ts.ctx, "b"))
}

func testEnqueueOnPool(t *testing.T) {
	pool := worker.NewPool(logging.NewTestLogger(), 2, 16)
	ts := getTestService(t, func(o *service.Options) {
		o.Scheduler = pool
	})
	pool.Start(context.Background())

	ts.chain(t, domain.LevelBase, "root", "child")
	ts.register(t, "grandchild", domain.LevelBase, "child")
	pool.Stop(context.Background())

	root := ts.agent(t, "root")
	assert.Equal(t, 1, root.TeamSize)
	assert.Equal(t, 2, root.TotalTeamSize)
}

func TestReconcile(t *testing.T) {
	ts := getTestService(t)
	ts.chain(t, domain.LevelBase, "a", "b", "c", "d", "e")
	ts.register(t, "b2", domain.LevelBase, "a")

	// drift the statistics and one path behind the aggregator's back
	require.NoError(t, ts.store.WriteTx(ts.ctx, func(tx repository.Tx) error {
		if err := tx.UpdateTeamStats(ts.ctx, "a", 7, 7); err != nil {
			return err
		}
		if err := tx.UpdateTeamStats(ts.ctx, "c", 0, 0); err != nil {
			return err
		}
		return tx.SetAncestorPath(ts.ctx, "e", []string{"x", "y"})
	}))

	corrected, err := ts.Stats.Reconcile(ts.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, corrected)

	a := ts.agent(t, "a")
	assert.Equal(t, 2, a.TeamSize)
	assert.Equal(t, 4, a.TotalTeamSize)
	c := ts.agent(t, "c")
	assert.Equal(t, 1, c.TeamSize)
	assert.Equal(t, 2, c.TotalTeamSize)
	assert.Equal(t, []string{"b", "c", "d"}, ts.agent(t, "e").AncestorPath)

	again, err := ts.Stats.Reconcile(ts.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again)
}

func resetStats(t *testing.T, ts *testService, ids ...string) {
	t.Helper()
	require.NoError(t, ts.store.WriteTx(ts.ctx, func(tx repository.Tx) error {
		for _, id := range ids {
			if err := tx.UpdateTeamStats(ts.ctx, id, 0, 0); err != nil {
				return err
			}
		}
		return nil
	}))
}
