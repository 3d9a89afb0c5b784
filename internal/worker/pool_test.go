package worker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kekeling/kekeling/services/distribution/internal/logging"
	"github.com/kekeling/kekeling/services/distribution/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	t.Run("runs every submitted job before stop returns", testRunsSubmittedJobs)
	t.Run("rejects jobs when the queue is full", testRejectsWhenFull)
	t.Run("rejects jobs after stop", testRejectsAfterStop)
	t.Run("survives a panicking job", testSurvivesPanic)
}

func testRunsSubmittedJobs(t *testing.T) {
	pool := worker.NewPool(logging.NewTestLogger(), 4, 100)
	pool.Start(context.Background())

	var ran int64
	for i := 0; i < 50; i++ {
		require.True(t, pool.Submit(func(context.Context) {
			atomic.AddInt64(&ran, 1)
		}))
	}

	pool.Stop(context.Background())
	assert.Equal(t, int64(50), atomic.LoadInt64(&ran))
}

func testRejectsWhenFull(t *testing.T) {
	// not started: nothing drains the queue
	pool := worker.NewPool(logging.NewTestLogger(), 1, 2)

	assert.True(t, pool.Submit(func(context.Context) {}))
	assert.True(t, pool.Submit(func(context.Context) {}))
	assert.False(t, pool.Submit(func(context.Context) {}))
	assert.Equal(t, 2, pool.Pending())
	pool.Stop(context.Background())
}

func testRejectsAfterStop(t *testing.T) {
	pool := worker.NewPool(logging.NewTestLogger(), 2, 10)
	pool.Start(context.Background())
	pool.Stop(context.Background())

	assert.False(t, pool.Submit(func(context.Context) {}))
	// stopping twice is harmless
	pool.Stop(context.Background())
}

func testSurvivesPanic(t *testing.T) {
	pool := worker.NewPool(logging.NewTestLogger(), 1, 10)
	pool.Start(context.Background())

	done := make(chan struct{})
	require.True(t, pool.Submit(func(context.Context) { panic("boom") }))
	require.True(t, pool.Submit(func(context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job after a panic never ran")
	}
	pool.Stop(context.Background())
}
