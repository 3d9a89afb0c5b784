package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
)

var errReadOnly = errors.New("write attempted in a read transaction")

// MemoryStore keeps all state in process. Writers are serialized and work
// on a copy of the state that replaces the original only when fn succeeds.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (s *MemoryStore) ReadTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{state: s.state, readOnly: true})
}

func (s *MemoryStore) WriteTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{state: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) Close(context.Context) error {
	return nil
}

type memState struct {
	agents       map[string]*domain.Agent
	wallets      map[string]*domain.Wallet
	configs      map[string]*domain.DistributionConfig
	records      []*domain.DistributionRecord
	applications map[string]*domain.PromotionApplication
	invitations  []*domain.Invitation
	walletLines  []*domain.WalletLine
}

func newMemState() *memState {
	return &memState{
		agents:       map[string]*domain.Agent{},
		wallets:      map[string]*domain.Wallet{},
		configs:      map[string]*domain.DistributionConfig{},
		applications: map[string]*domain.PromotionApplication{},
	}
}

func (m *memState) clone() *memState {
	c := newMemState()
	for id, a := range m.agents {
		c.agents[id] = a.Clone()
	}
	for id, w := range m.wallets {
		wc := *w
		c.wallets[id] = &wc
	}
	for id, cfg := range m.configs {
		cc := *cfg
		c.configs[id] = &cc
	}
	c.records = make([]*domain.DistributionRecord, 0, len(m.records))
	for _, r := range m.records {
		c.records = append(c.records, r.Clone())
	}
	for id, app := range m.applications {
		c.applications[id] = app.Clone()
	}
	c.invitations = make([]*domain.Invitation, 0, len(m.invitations))
	for _, inv := range m.invitations {
		ic := *inv
		c.invitations = append(c.invitations, &ic)
	}
	c.walletLines = make([]*domain.WalletLine, 0, len(m.walletLines))
	for _, l := range m.walletLines {
		lc := *l
		c.walletLines = append(c.walletLines, &lc)
	}
	return c
}

type memTx struct {
	state    *memState
	readOnly bool
}

func (t *memTx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *memTx) agent(id string) (*domain.Agent, error) {
	a, ok := t.state.agents[id]
	if !ok {
		return nil, domain.ErrAgentNotFound(id)
	}
	return a, nil
}

// CreateAgent stores a new node together with its empty wallet
func (t *memTx) CreateAgent(_ context.Context, agent *domain.Agent) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, exists := t.state.agents[agent.ID]; exists {
		return domain.ErrAgentExists(agent.ID)
	}
	if agent.InviteCode != "" {
		for _, other := range t.state.agents {
			if other.InviteCode == agent.InviteCode {
				return domain.ErrInviteCodeTaken(agent.InviteCode)
			}
		}
	}
	t.state.agents[agent.ID] = agent.Clone()
	t.state.wallets[agent.ID] = &domain.Wallet{AgentID: agent.ID, Version: 1, UpdatedAt: agent.CreatedAt}
	return nil
}

func (t *memTx) GetAgent(_ context.Context, id string) (*domain.Agent, error) {
	a, err := t.agent(id)
	if err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// LockAgent needs no lock of its own since writers are serialized
func (t *memTx) LockAgent(ctx context.Context, id string) (*domain.Agent, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	return t.GetAgent(ctx, id)
}

func (t *memTx) GetAgentByInviteCode(_ context.Context, code string) (*domain.Agent, error) {
	for _, a := range t.state.agents {
		if a.InviteCode == code {
			return a.Clone(), nil
		}
	}
	return nil, domain.ErrInviteCodeNotFound(code)
}

func (t *memTx) ListAgents(_ context.Context) ([]*domain.Agent, error) {
	out := make([]*domain.Agent, 0, len(t.state.agents))
	for _, a := range t.state.agents {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) InviteCodeExists(_ context.Context, code string) (bool, error) {
	for _, a := range t.state.agents {
		if a.InviteCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) SetInviteCode(_ context.Context, id, code string) error {
	if err := t.writable(); err != nil {
		return err
	}
	a, err := t.agent(id)
	if err != nil {
		return err
	}
	if a.InviteCode != "" {
		return domain.ErrInviteCodeTaken(a.InviteCode)
	}
	for _, other := range t.state.agents {
		if other.InviteCode == code {
			return domain.ErrInviteCodeTaken(code)
		}
	}
	a.InviteCode = code
	return nil
}

func (t *memTx) BindParent(_ context.Context, id, parentID string, path []string, at time.Time) error {
	if err := t.writable(); err != nil {
		return err
	}
	a, err := t.agent(id)
	if err != nil {
		return err
	}
	if a.IsBound() {
		return domain.ErrAlreadyBound(id)
	}
	p := parentID
	a.ParentID = &p
	a.AncestorPath = append([]string{}, path...)
	a.BoundAt = &at
	return nil
}

func (t *memTx) SetAncestorPath(_ context.Context, id string, path []string) error {
	if err := t.writable(); err != nil {
		return err
	}
	a, err := t.agent(id)
	if err != nil {
		return err
	}
	a.AncestorPath = append([]string{}, path...)
	return nil
}

func (t *memTx) FindDescendants(_ context.Context, id string) ([]*domain.Agent, error) {
	var out []*domain.Agent
	for _, a := range t.state.agents {
		if domain.PathContains(a.AncestorPath, id) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) CountChildren(_ context.Context, id string) (int, error) {
	n := 0
	for _, a := range t.state.agents {
		if a.ParentID != nil && *a.ParentID == id {
			n++
		}
	}
	return n, nil
}

func (t *memTx) UpdateTeamStats(_ context.Context, id string, teamSize, totalTeamSize int) error {
	if err := t.writable(); err != nil {
		return err
	}
	a, err := t.agent(id)
	if err != nil {
		return err
	}
	a.TeamSize = teamSize
	a.TotalTeamSize = totalTeamSize
	return nil
}

func (t *memTx) UpdateLevel(_ context.Context, id string, level domain.Level) error {
	if err := t.writable(); err != nil {
		return err
	}
	a, err := t.agent(id)
	if err != nil {
		return err
	}
	a.Level = level
	return nil
}

func (t *memTx) SetPromotionApplied(_ context.Context, id string, applied bool) error {
	if err := t.writable(); err != nil {
		return err
	}
	a, err := t.agent(id)
	if err != nil {
		return err
	}
	a.PromotionApplied = applied
	return nil
}

func (t *memTx) GetActiveConfig(_ context.Context) (*domain.DistributionConfig, error) {
	for _, cfg := range t.state.configs {
		if cfg.Status == domain.ConfigStatusActive {
			c := *cfg
			return &c, nil
		}
	}
	return nil, domain.ErrConfigNotFound
}

func (t *memTx) SaveConfig(_ context.Context, cfg *domain.DistributionConfig) error {
	if err := t.writable(); err != nil {
		return err
	}
	c := *cfg
	t.state.configs[cfg.ID] = &c
	return nil
}

func (t *memTx) DeactivateOtherConfigs(_ context.Context, keepID string) error {
	if err := t.writable(); err != nil {
		return err
	}
	for id, cfg := range t.state.configs {
		if id != keepID {
			cfg.Status = domain.ConfigStatusInactive
		}
	}
	return nil
}

func (t *memTx) CreateRecord(_ context.Context, rec *domain.DistributionRecord) error {
	if err := t.writable(); err != nil {
		return err
	}
	key := rec.DedupeKey()
	for _, r := range t.state.records {
		if r.DedupeKey() == key {
			return domain.ErrDuplicateRecord(key)
		}
	}
	t.state.records = append(t.state.records, rec.Clone())
	return nil
}

func (t *memTx) GetRecordByKey(_ context.Context, key string) (*domain.DistributionRecord, error) {
	for _, r := range t.state.records {
		if r.DedupeKey() == key {
			return r.Clone(), nil
		}
	}
	return nil, domain.ErrRecordNotFound(key)
}

func (t *memTx) FindRecordsByOrder(_ context.Context, orderID string) ([]*domain.DistributionRecord, error) {
	var out []*domain.DistributionRecord
	for _, r := range t.state.records {
		if r.OrderID == orderID {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (t *memTx) UpdateRecord(_ context.Context, rec *domain.DistributionRecord) error {
	if err := t.writable(); err != nil {
		return err
	}
	for i, r := range t.state.records {
		if r.ID == rec.ID {
			t.state.records[i] = rec.Clone()
			return nil
		}
	}
	return domain.ErrRecordNotFound(rec.ID)
}

func (t *memTx) OrdersWithPendingBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	for _, r := range t.state.records {
		if r.Type != domain.RecordTypeCommission || r.Status != domain.RecordStatusPending || r.CreatedAt.After(cutoff) {
			continue
		}
		if _, ok := seen[r.OrderID]; ok {
			continue
		}
		seen[r.OrderID] = struct{}{}
		out = append(out, r.OrderID)
	}
	sort.Strings(out)
	return out, nil
}

func (t *memTx) CreateApplication(_ context.Context, app *domain.PromotionApplication) error {
	if err := t.writable(); err != nil {
		return err
	}
	if app.Status == domain.ApplicationStatusPending {
		for _, other := range t.state.applications {
			if other.AgentID == app.AgentID && other.Status == domain.ApplicationStatusPending {
				return domain.ErrPendingApplicationExists(app.AgentID)
			}
		}
	}
	t.state.applications[app.ID] = app.Clone()
	return nil
}

func (t *memTx) GetApplication(_ context.Context, id string) (*domain.PromotionApplication, error) {
	app, ok := t.state.applications[id]
	if !ok {
		return nil, domain.ErrApplicationNotFound(id)
	}
	return app.Clone(), nil
}

func (t *memTx) FindPendingApplication(_ context.Context, agentID string) (*domain.PromotionApplication, error) {
	for _, app := range t.state.applications {
		if app.AgentID == agentID && app.Status == domain.ApplicationStatusPending {
			return app.Clone(), nil
		}
	}
	return nil, domain.ErrNoPendingApplication(agentID)
}

func (t *memTx) UpdateApplication(_ context.Context, app *domain.PromotionApplication) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.applications[app.ID]; !ok {
		return domain.ErrApplicationNotFound(app.ID)
	}
	t.state.applications[app.ID] = app.Clone()
	return nil
}

func (t *memTx) CreateInvitation(_ context.Context, inv *domain.Invitation) error {
	if err := t.writable(); err != nil {
		return err
	}
	c := *inv
	t.state.invitations = append(t.state.invitations, &c)
	return nil
}

func (t *memTx) ListInvitations(_ context.Context, recruiterID string) ([]*domain.Invitation, error) {
	var out []*domain.Invitation
	for _, inv := range t.state.invitations {
		if inv.RecruiterID == recruiterID {
			c := *inv
			out = append(out, &c)
		}
	}
	return out, nil
}

func (t *memTx) GetWallet(_ context.Context, agentID string) (*domain.Wallet, error) {
	w, ok := t.state.wallets[agentID]
	if !ok {
		return nil, domain.ErrWalletNotFound(agentID)
	}
	c := *w
	return &c, nil
}

func (t *memTx) AdjustWallet(_ context.Context, agentID string, delta int64, at time.Time) (int64, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	w, ok := t.state.wallets[agentID]
	if !ok {
		return 0, domain.ErrWalletNotFound(agentID)
	}
	w.Balance += delta
	w.Version++
	w.UpdatedAt = at
	return w.Balance, nil
}

func (t *memTx) AppendWalletLine(_ context.Context, line *domain.WalletLine) error {
	if err := t.writable(); err != nil {
		return err
	}
	c := *line
	t.state.walletLines = append(t.state.walletLines, &c)
	return nil
}

func (t *memTx) ListWalletLines(_ context.Context, agentID string) ([]*domain.WalletLine, error) {
	var out []*domain.WalletLine
	for _, l := range t.state.walletLines {
		if l.AgentID == agentID {
			c := *l
			out = append(out, &c)
		}
	}
	return out, nil
}
