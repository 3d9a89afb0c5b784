package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
	"github.com/kekeling/kekeling/services/distribution/internal/logging"
	"github.com/kekeling/kekeling/services/distribution/internal/repository"
)

// No 0/O or 1/I/L, they are misread when codes are typed in by hand.
const inviteAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	inviteCodePrefixLen   = 4
	inviteCodeRandomLen   = 2
	inviteCodeFallbackLen = 8
)

// InviteCodes assigns each agent one immutable invite code
type InviteCodes struct {
	log      *logging.Logger
	store    repository.Store
	attempts int
	random   io.Reader
}

func NewInviteCodes(log *logging.Logger, store repository.Store, attempts int) *InviteCodes {
	if attempts < 1 {
		attempts = 1
	}
	return &InviteCodes{
		log:      log.Named("invitecode"),
		store:    store,
		attempts: attempts,
		random:   rand.Reader,
	}
}

// Ensure returns the agent's code, generating one on first use. The first
// attempts share a prefix derived from the agent id; after that fully random
// codes are tried.
func (c *InviteCodes) Ensure(ctx context.Context, agentID string) (string, error) {
	prefix := codePrefix(agentID)

	for i := 0; i < 2*c.attempts; i++ {
		var candidate string
		var err error
		if i < c.attempts {
			candidate, err = c.randomCode(inviteCodeRandomLen)
			candidate = prefix + candidate
		} else {
			candidate, err = c.randomCode(inviteCodeFallbackLen)
		}
		if err != nil {
			return "", err
		}

		code, assigned, err := c.tryAssign(ctx, agentID, candidate)
		if err != nil {
			return "", err
		}
		if assigned {
			return code, nil
		}
		if i == c.attempts-1 {
			c.log.Warn("invite code prefix exhausted, falling back to random codes",
				logging.String("agent_id", agentID))
		}
	}
	return "", fmt.Errorf("could not find a free invite code for agent %q: %w", agentID, domain.ErrConflict)
}

// tryAssign returns the agent's code and true once it has one
func (c *InviteCodes) tryAssign(ctx context.Context, agentID, candidate string) (string, bool, error) {
	var code string
	err := c.store.WriteTx(ctx, func(tx repository.Tx) error {
		agent, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}
		if agent.InviteCode != "" {
			code = agent.InviteCode
			return nil
		}
		taken, err := tx.InviteCodeExists(ctx, candidate)
		if err != nil || taken {
			return err
		}
		if err := tx.SetInviteCode(ctx, agentID, candidate); err != nil {
			return err
		}
		code = candidate
		return nil
	})
	switch {
	case err == nil:
		return code, code != "", nil
	case errors.Is(err, domain.ErrConflict):
		// lost a race for the candidate or for the agent itself; retry
		return "", false, nil
	default:
		return "", false, fmt.Errorf("failed to assign invite code: %w", err)
	}
}

func codePrefix(agentID string) string {
	sum := sha256.Sum256([]byte(agentID))
	out := make([]byte, inviteCodePrefixLen)
	for i := range out {
		out[i] = inviteAlphabet[int(sum[i])%len(inviteAlphabet)]
	}
	return string(out)
}

// randomCode draws n characters, rejecting bytes that would bias the alphabet
func (c *InviteCodes) randomCode(n int) (string, error) {
	limit := 256 - 256%len(inviteAlphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, 1)
	for len(out) < n {
		if _, err := io.ReadFull(c.random, buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		if int(buf[0]) >= limit {
			continue
		}
		out = append(out, inviteAlphabet[int(buf[0])%len(inviteAlphabet)])
	}
	return string(out), nil
}
