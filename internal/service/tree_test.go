package service_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
)

func TestTreeRegister(t *testing.T) {
	ts := getTestService(t)

	agent, err := ts.Tree.Register(ts.ctx, newAgent(" fresh ", domain.LevelUnspecified, true))
	require.NoError(t, err)
	assert.Equal(t, "fresh", agent.ID)
	assert.Equal(t, domain.LevelBase, agent.Level)
	assert.Equal(t, domain.AgentStatusActive, agent.Status)
	assert.False(t, agent.IsBound())
	assert.Empty(t, agent.AncestorPath)
	assert.NotEmpty(t, agent.InviteCode)
	assert.Equal(t, ts.now, agent.CreatedAt)

	wallet, err := ts.Ledger.Wallet(ts.ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(0), wallet.Balance)

	_, err = ts.Tree.Register(ts.ctx, newAgent("fresh", domain.LevelTop, true))
	assert.True(t, errors.Is(err, domain.ErrConflict))

	_, err = ts.Tree.Register(ts.ctx, newAgent("  ", domain.LevelTop, true))
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = ts.Tree.Register(ts.ctx, newAgent("odd", domain.Level(9), true))
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestTreeRegisterRetry(t *testing.T) {
	t.Run("an agent left without a code is completed", testRegisterCompletesCodelessAgent)
	t.Run("a different level is still a conflict", testRegisterCodelessLevelMismatch)
}

// codeless stores an agent the way an interrupted registration leaves it
func codeless(t *testing.T, ts *testService, id string, level domain.Level) {
	t.Helper()
	ts.writeAgent(t, &domain.Agent{
		ID:                 id,
		AncestorPath:       []string{},
		Level:              level,
		DistributionActive: true,
		Status:             domain.AgentStatusActive,
		CreatedAt:          ts.now,
	})
}

func testRegisterCompletesCodelessAgent(t *testing.T) {
	ts := getTestService(t)
	codeless(t, ts, "half", domain.LevelMid)

	agent, err := ts.Tree.Register(ts.ctx, newAgent("half", domain.LevelMid, true))
	require.NoError(t, err)
	assert.Equal(t, domain.LevelMid, agent.Level)
	assert.NotEmpty(t, agent.InviteCode)
	assert.Equal(t, agent.InviteCode, ts.agent(t, "half").InviteCode)

	_, err = ts.Tree.Register(ts.ctx, newAgent("half", domain.LevelMid, true))
	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.Equal(t, agent.InviteCode, ts.agent(t, "half").InviteCode)
}

func testRegisterCodelessLevelMismatch(t *testing.T) {
	ts := getTestService(t)
	codeless(t, ts, "half", domain.LevelBase)

	_, err := ts.Tree.Register(ts.ctx, newAgent("half", domain.LevelTop, true))
	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.Empty(t, ts.agent(t, "half").InviteCode)
}

func TestTreeQueries(t *testing.T) {
	ts := getTestService(t)
	ts.chain(t, domain.LevelBase, "a", "b", "c", "d", "e")
	ts.register(t, "b2", domain.LevelBase, "a")

	ancestors, err := ts.Tree.Ancestors(ts.ctx, "e")
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "b"}, ancestors)

	descendants, err := ts.Tree.Descendants(ts.ctx, "a")
	require.NoError(t, err)
	depths := map[string]int{}
	for _, d := range descendants {
		depths[d.Agent.ID] = d.Depth
	}
	// e is four levels down and outside the hierarchy
	assert.Equal(t, map[string]int{"b": 1, "b2": 1, "c": 2, "d": 3}, depths)

	_, err = ts.Tree.Descendants(ts.ctx, "ghost")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = ts.Tree.Ancestors(ts.ctx, "ghost")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
