// Package repository provides transactional storage for the distribution service
package repository

import (
	"context"
	"time"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
)

// Store runs units of work. Everything fn does through the Tx commits
// together or not at all.
type Store interface {
	ReadTx(ctx context.Context, fn func(Tx) error) error
	WriteTx(ctx context.Context, fn func(Tx) error) error
	Close(ctx context.Context) error
}

// Tx is the view of the store inside a single transaction
type Tx interface {
	AgentRepository
	ConfigRepository
	RecordRepository
	ApplicationRepository
	InvitationRepository
	WalletRepository
}

// AgentRepository stores hierarchy nodes
type AgentRepository interface {
	// CreateAgent stores a new node together with its empty wallet
	CreateAgent(ctx context.Context, agent *domain.Agent) error
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	// LockAgent takes a write lock on an agent for the rest of the
	// transaction and returns its current state
	LockAgent(ctx context.Context, id string) (*domain.Agent, error)
	GetAgentByInviteCode(ctx context.Context, code string) (*domain.Agent, error)
	ListAgents(ctx context.Context) ([]*domain.Agent, error)
	InviteCodeExists(ctx context.Context, code string) (bool, error)
	// SetInviteCode assigns a code to an agent that has none
	SetInviteCode(ctx context.Context, id, code string) error
	BindParent(ctx context.Context, id, parentID string, path []string, at time.Time) error
	SetAncestorPath(ctx context.Context, id string, path []string) error
	// FindDescendants returns every agent whose ancestor path contains id
	FindDescendants(ctx context.Context, id string) ([]*domain.Agent, error)
	CountChildren(ctx context.Context, id string) (int, error)
	UpdateTeamStats(ctx context.Context, id string, teamSize, totalTeamSize int) error
	UpdateLevel(ctx context.Context, id string, level domain.Level) error
	SetPromotionApplied(ctx context.Context, id string, applied bool) error
}

// ConfigRepository stores distribution configurations
type ConfigRepository interface {
	GetActiveConfig(ctx context.Context) (*domain.DistributionConfig, error)
	SaveConfig(ctx context.Context, cfg *domain.DistributionConfig) error
	DeactivateOtherConfigs(ctx context.Context, keepID string) error
}

// RecordRepository stores the commission ledger
type RecordRepository interface {
	// CreateRecord fails with a conflict when the dedupe key already exists
	CreateRecord(ctx context.Context, rec *domain.DistributionRecord) error
	GetRecordByKey(ctx context.Context, key string) (*domain.DistributionRecord, error)
	FindRecordsByOrder(ctx context.Context, orderID string) ([]*domain.DistributionRecord, error)
	UpdateRecord(ctx context.Context, rec *domain.DistributionRecord) error
	// OrdersWithPendingBefore lists orders holding pending commissions created at or before cutoff
	OrdersWithPendingBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// ApplicationRepository stores promotion applications
type ApplicationRepository interface {
	CreateApplication(ctx context.Context, app *domain.PromotionApplication) error
	GetApplication(ctx context.Context, id string) (*domain.PromotionApplication, error)
	FindPendingApplication(ctx context.Context, agentID string) (*domain.PromotionApplication, error)
	UpdateApplication(ctx context.Context, app *domain.PromotionApplication) error
}

// InvitationRepository stores binding history
type InvitationRepository interface {
	CreateInvitation(ctx context.Context, inv *domain.Invitation) error
	ListInvitations(ctx context.Context, recruiterID string) ([]*domain.Invitation, error)
}

// WalletRepository mutates balances inside ledger transactions
type WalletRepository interface {
	GetWallet(ctx context.Context, agentID string) (*domain.Wallet, error)
	// AdjustWallet adds delta (may be negative) and returns the new balance
	AdjustWallet(ctx context.Context, agentID string, delta int64, at time.Time) (int64, error)
	AppendWalletLine(ctx context.Context, line *domain.WalletLine) error
	ListWalletLines(ctx context.Context, agentID string) ([]*domain.WalletLine, error)
}
