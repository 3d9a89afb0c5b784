package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
	"github.com/kekeling/kekeling/services/distribution/internal/repository"
)

// Descendant is an agent below another one, depth hops down
type Descendant struct {
	Agent *domain.Agent
	Depth int
}

// Tree answers hierarchy queries from the materialized ancestor paths
type Tree struct {
	store repository.Store
	clock Clock
	codes *InviteCodes
	depth int
}

func NewTree(store repository.Store, clock Clock, codes *InviteCodes, depth int) *Tree {
	return &Tree{store: store, clock: clock, codes: codes, depth: depth}
}

// NewAgent describes an agent joining the distribution program
type NewAgent struct {
	ID                 string
	Level              domain.Level
	DistributionActive bool
}

// Register creates an unbound agent and gives it an invite code. Calling it
// again for an agent still without a code finishes the earlier registration.
func (t *Tree) Register(ctx context.Context, in NewAgent) (*domain.Agent, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return nil, domain.Validationf("agent id is required")
	}
	level := in.Level
	if level == domain.LevelUnspecified {
		level = domain.LevelBase
	}
	if !level.Valid() {
		return nil, domain.Validationf("unknown level %d", level)
	}

	agent := &domain.Agent{
		ID:                 id,
		AncestorPath:       []string{},
		Level:              level,
		DistributionActive: in.DistributionActive,
		Status:             domain.AgentStatusActive,
		CreatedAt:          t.clock.GetTimeNow(),
	}
	err := t.store.WriteTx(ctx, func(tx repository.Tx) error {
		return tx.CreateAgent(ctx, agent)
	})
	if errors.Is(err, domain.ErrConflict) {
		// a registration that stopped before its code was assigned is resumed
		existing, getErr := t.Agent(ctx, id)
		if getErr != nil || existing.InviteCode != "" || existing.Level != level {
			return nil, fmt.Errorf("failed to register agent: %w", err)
		}
		agent = existing
	} else if err != nil {
		return nil, fmt.Errorf("failed to register agent: %w", err)
	}

	code, err := t.codes.Ensure(ctx, id)
	if err != nil {
		return nil, err
	}
	agent.InviteCode = code
	return agent, nil
}

func (t *Tree) Agent(ctx context.Context, id string) (*domain.Agent, error) {
	var agent *domain.Agent
	err := t.store.ReadTx(ctx, func(tx repository.Tx) (err error) {
		agent, err = tx.GetAgent(ctx, id)
		return err
	})
	return agent, err
}

// Ancestors returns the stored ancestors of an agent, nearest first
func (t *Tree) Ancestors(ctx context.Context, id string) ([]string, error) {
	agent, err := t.Agent(ctx, id)
	if err != nil {
		return nil, err
	}
	return agent.Ancestors(), nil
}

// Descendants returns the agents within the depth cap below id
func (t *Tree) Descendants(ctx context.Context, id string) ([]Descendant, error) {
	var out []Descendant
	err := t.store.ReadTx(ctx, func(tx repository.Tx) (err error) {
		if _, err := tx.GetAgent(ctx, id); err != nil {
			return err
		}
		out, err = descendantsWithin(ctx, tx, id, t.depth)
		return err
	})
	return out, err
}

func descendantsWithin(ctx context.Context, tx repository.Tx, id string, depth int) ([]Descendant, error) {
	agents, err := tx.FindDescendants(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]Descendant, 0, len(agents))
	for _, a := range agents {
		d := domain.DepthInPath(a.AncestorPath, id)
		if d > 0 && d <= depth {
			out = append(out, Descendant{Agent: a, Depth: d})
		}
	}
	return out, nil
}
