package service

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
	"github.com/kekeling/kekeling/services/distribution/internal/logging"
	"github.com/kekeling/kekeling/services/distribution/internal/repository"
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func newCodesWithAgents(t *testing.T, agents ...*domain.Agent) (*InviteCodes, repository.Store) {
	t.Helper()
	store := repository.NewMemoryStore()
	require.NoError(t, store.WriteTx(context.Background(), func(tx repository.Tx) error {
		for _, a := range agents {
			if err := tx.CreateAgent(context.Background(), a); err != nil {
				return err
			}
		}
		return nil
	}))
	codes := NewInviteCodes(logging.NewTestLogger(), store, 3)
	codes.random = zeroReader{}
	return codes, store
}

func unboundAgent(id, code string) *domain.Agent {
	return &domain.Agent{
		ID:           id,
		AncestorPath: []string{},
		Level:        domain.LevelBase,
		InviteCode:   code,
		Status:       domain.AgentStatusActive,
		CreatedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestInviteCodeEnsure(t *testing.T) {
	ctx := context.Background()
	codes, _ := newCodesWithAgents(t, unboundAgent("agent-1", ""))

	code, err := codes.Ensure(ctx, "agent-1")
	require.NoError(t, err)
	assert.Len(t, code, inviteCodePrefixLen+inviteCodeRandomLen)
	assert.Equal(t, codePrefix("agent-1")+"AA", code)
	for _, r := range code {
		assert.True(t, strings.ContainsRune(inviteAlphabet, r), "unexpected character %q", r)
	}

	// codes never change once assigned
	codes.random = bytes.NewReader([]byte{5, 6, 7, 8})
	again, err := codes.Ensure(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, code, again)

	_, err = codes.Ensure(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInviteCodeFallback(t *testing.T) {
	ctx := context.Background()
	squatter := unboundAgent("squatter", codePrefix("agent-1")+"AA")
	codes, store := newCodesWithAgents(t, squatter, unboundAgent("agent-1", ""))

	code, err := codes.Ensure(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("A", inviteCodeFallbackLen), code)

	require.NoError(t, store.ReadTx(ctx, func(tx repository.Tx) error {
		agent, err := tx.GetAgentByInviteCode(ctx, code)
		require.NoError(t, err)
		assert.Equal(t, "agent-1", agent.ID)
		return nil
	}))
}

func TestInviteCodeExhausted(t *testing.T) {
	codes, _ := newCodesWithAgents(t,
		unboundAgent("squatter-1", codePrefix("agent-1")+"AA"),
		unboundAgent("squatter-2", strings.Repeat("A", inviteCodeFallbackLen)),
		unboundAgent("agent-1", ""),
	)

	_, err := codes.Ensure(context.Background(), "agent-1")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestCodePrefixIsStable(t *testing.T) {
	assert.Equal(t, codePrefix("agent-42"), codePrefix("agent-42"))
	assert.Len(t, codePrefix("agent-42"), inviteCodePrefixLen)
}

func TestRandomCodeRejectsBiasedBytes(t *testing.T) {
	codes := &InviteCodes{random: bytes.NewReader([]byte{255, 250, 1, 2})}

	code, err := codes.randomCode(2)
	require.NoError(t, err)
	assert.Equal(t, "BC", code)

	_, err = codes.randomCode(1)
	assert.Error(t, err)
}
