// Package domain contains the core domain models for the distribution service
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Level is an agent's distribution rank. A lower value is a higher rank.
type Level int

const (
	LevelUnspecified Level = iota
	LevelTop
	LevelMid
	LevelBase
)

func (l Level) String() string {
	switch l {
	case LevelTop:
		return "top"
	case LevelMid:
		return "mid"
	case LevelBase:
		return "base"
	default:
		return "unspecified"
	}
}

// ParseLevel reads a tier name as written by String. The empty string is
// LevelUnspecified.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "":
		return LevelUnspecified, nil
	case "top":
		return LevelTop, nil
	case "mid":
		return LevelMid, nil
	case "base":
		return LevelBase, nil
	}
	return LevelUnspecified, Validationf("unknown level %q", s)
}

// Valid reports whether l is one of the three known tiers.
func (l Level) Valid() bool {
	return l >= LevelTop && l <= LevelBase
}

// AgentStatus is independent of the distribution level
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusInactive AgentStatus = "inactive"
)

// Agent is a service provider node in the referral hierarchy
type Agent struct {
	ID                 string      `json:"id"`
	ParentID           *string     `json:"parent_id,omitempty"`
	AncestorPath       []string    `json:"ancestor_path"` // root to direct parent, at most MaxHierarchyDepth entries
	Level              Level       `json:"level"`
	DistributionActive bool        `json:"distribution_active"`
	TeamSize           int         `json:"team_size"`
	TotalTeamSize      int         `json:"total_team_size"`
	InviteCode         string      `json:"invite_code,omitempty"`
	Status             AgentStatus `json:"status"`
	PromotionApplied   bool        `json:"promotion_applied"`
	CreatedAt          time.Time   `json:"created_at"`
	BoundAt            *time.Time  `json:"bound_at,omitempty"`
}

// IsActive returns true if the agent may take part in the hierarchy
func (a *Agent) IsActive() bool {
	return a.Status == AgentStatusActive
}

// IsBound returns true once the agent has a recruiter
func (a *Agent) IsBound() bool {
	return a.ParentID != nil && *a.ParentID != ""
}

// Ancestors returns the agent's ancestors nearest first.
func (a *Agent) Ancestors() []string {
	return ReversePath(a.AncestorPath)
}

// TenureMonths returns the number of whole months between creation and now
func (a *Agent) TenureMonths(now time.Time) int {
	if now.Before(a.CreatedAt) {
		return 0
	}
	months := (now.Year()-a.CreatedAt.Year())*12 + int(now.Month()-a.CreatedAt.Month())
	if now.Day() < a.CreatedAt.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// Clone returns a deep copy of the agent
func (a *Agent) Clone() *Agent {
	c := *a
	c.AncestorPath = append([]string(nil), a.AncestorPath...)
	if a.ParentID != nil {
		p := *a.ParentID
		c.ParentID = &p
	}
	if a.BoundAt != nil {
		b := *a.BoundAt
		c.BoundAt = &b
	}
	return &c
}

// ConfigStatus marks the single active configuration
type ConfigStatus string

const (
	ConfigStatusActive   ConfigStatus = "active"
	ConfigStatusInactive ConfigStatus = "inactive"
)

// LevelRates holds commission percentages per tier
type LevelRates struct {
	Top  decimal.Decimal `json:"top" validate:"gte=0,lte=100"`
	Mid  decimal.Decimal `json:"mid" validate:"gte=0,lte=100"`
	Base decimal.Decimal `json:"base" validate:"gte=0,lte=100"`
}

// ForLevel returns the configured percentage for a tier
func (r LevelRates) ForLevel(l Level) decimal.Decimal {
	switch l {
	case LevelTop:
		return r.Top
	case LevelMid:
		return r.Mid
	case LevelBase:
		return r.Base
	default:
		return decimal.Zero
	}
}

// BaseToMidThresholds are objective criteria, promotion is automatic
type BaseToMidThresholds struct {
	MinOrders        int     `json:"min_orders" validate:"gte=0"`
	MinRating        float64 `json:"min_rating" validate:"gte=0,lte=5"`
	MinDirectInvites int     `json:"min_direct_invites" validate:"gte=0"`
	MinTenureMonths  int     `json:"min_tenure_months" validate:"gte=0"`
}

// MidToTopThresholds open a reviewable application once met
type MidToTopThresholds struct {
	MinTeamSize              int `json:"min_team_size" validate:"gte=0"`
	MinTeamMonthlyOrders     int `json:"min_team_monthly_orders" validate:"gte=0"`
	MinPersonalMonthlyOrders int `json:"min_personal_monthly_orders" validate:"gte=0"`
}

// DistributionConfig holds rates, the invite bonus and promotion thresholds
type DistributionConfig struct {
	ID          string              `json:"id"`
	Status      ConfigStatus        `json:"status" validate:"oneof=active inactive"`
	Rates       LevelRates          `json:"rates"`
	InviteBonus decimal.Decimal     `json:"invite_bonus" validate:"gte=0"`
	BaseToMid   BaseToMidThresholds `json:"base_to_mid"`
	MidToTop    MidToTopThresholds  `json:"mid_to_top"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// RecordType separates ordinary commissions from the one-time invite bonus
type RecordType string

const (
	RecordTypeCommission  RecordType = "commission"
	RecordTypeInviteBonus RecordType = "invite_bonus"
)

// RecordStatus is the ledger lifecycle of a distribution record
type RecordStatus string

const (
	RecordStatusPending   RecordStatus = "pending"
	RecordStatusSettled   RecordStatus = "settled"
	RecordStatusCancelled RecordStatus = "cancelled"
)

// CanTransitionTo reports whether the ledger allows moving from s to next.
// Records only move forward and never leave cancelled.
func (s RecordStatus) CanTransitionTo(next RecordStatus) bool {
	switch s {
	case RecordStatusPending:
		return next == RecordStatusSettled || next == RecordStatusCancelled
	case RecordStatusSettled:
		return next == RecordStatusCancelled
	default:
		return false
	}
}

// DistributionRecord is a ledger entry, immutable once settled except for cancellation
type DistributionRecord struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	SourceAgentID    string          `json:"source_agent_id"`
	BeneficiaryID    string          `json:"beneficiary_id"`
	BeneficiaryLevel Level           `json:"beneficiary_level"`
	RelationDepth    int             `json:"relation_depth"`
	Rate             decimal.Decimal `json:"rate"`
	OrderAmount      decimal.Decimal `json:"order_amount"`
	Amount           decimal.Decimal `json:"amount"`
	Type             RecordType      `json:"type"`
	Status           RecordStatus    `json:"status"`
	CancelReason     string          `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	SettledAt        *time.Time      `json:"settled_at,omitempty"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
}

// DedupeKey identifies the record for the uniqueness constraint. Invite
// bonuses are unique per recruiter and recruit, commissions per order,
// beneficiary and type.
func (r *DistributionRecord) DedupeKey() string {
	if r.Type == RecordTypeInviteBonus {
		return InviteBonusKey(r.BeneficiaryID, r.SourceAgentID)
	}
	return string(r.Type) + "|" + r.OrderID + "|" + r.BeneficiaryID
}

// InviteBonusKey is the dedupe key of the bonus a recruiter earns for a recruit
func InviteBonusKey(recruiterID, recruitID string) string {
	return string(RecordTypeInviteBonus) + "|" + recruiterID + "|" + recruitID
}

// AmountMinor returns the record amount in minor currency units
func (r *DistributionRecord) AmountMinor() int64 {
	return ToMinor(r.Amount)
}

// Transition moves the record to next, stamping the matching timestamp
func (r *DistributionRecord) Transition(next RecordStatus, at time.Time) error {
	if !r.Status.CanTransitionTo(next) {
		return ErrIllegalTransition(r.ID, r.Status, next)
	}
	r.Status = next
	switch next {
	case RecordStatusSettled:
		r.SettledAt = &at
	case RecordStatusCancelled:
		r.CancelledAt = &at
	}
	return nil
}

// Clone returns a deep copy of the record
func (r *DistributionRecord) Clone() *DistributionRecord {
	c := *r
	if r.SettledAt != nil {
		t := *r.SettledAt
		c.SettledAt = &t
	}
	if r.CancelledAt != nil {
		t := *r.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}

// ApplicationStatus is the review lifecycle of a promotion application
type ApplicationStatus string

const (
	ApplicationStatusPending  ApplicationStatus = "pending"
	ApplicationStatusApproved ApplicationStatus = "approved"
	ApplicationStatusRejected ApplicationStatus = "rejected"
)

// PromotionSnapshot captures metrics at submission time for audit
type PromotionSnapshot struct {
	OrderCount        int     `json:"order_count"`
	Rating            float64 `json:"rating"`
	TeamSize          int     `json:"team_size"`
	TotalTeamSize     int     `json:"total_team_size"`
	MonthlyOrders     int     `json:"monthly_orders"`
	TeamMonthlyOrders int     `json:"team_monthly_orders"`
}

// PromotionApplication is a reviewable request to move up a tier
type PromotionApplication struct {
	ID         string            `json:"id"`
	AgentID    string            `json:"agent_id"`
	FromLevel  Level             `json:"from_level"`
	ToLevel    Level             `json:"to_level"`
	Snapshot   PromotionSnapshot `json:"snapshot"`
	Status     ApplicationStatus `json:"status"`
	ReviewerID string            `json:"reviewer_id,omitempty"`
	ReviewNote string            `json:"review_note,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ReviewedAt *time.Time        `json:"reviewed_at,omitempty"`
}

// Clone returns a deep copy of the application
func (p *PromotionApplication) Clone() *PromotionApplication {
	c := *p
	if p.ReviewedAt != nil {
		t := *p.ReviewedAt
		c.ReviewedAt = &t
	}
	return &c
}

// Invitation records a binding between recruiter and recruit
type Invitation struct {
	ID          string    `json:"id"`
	RecruiterID string    `json:"recruiter_id"`
	RecruitID   string    `json:"recruit_id"`
	Code        string    `json:"code"`
	CreatedAt   time.Time `json:"created_at"`
}

// Wallet is the balance the ledger credits, held in minor units
type Wallet struct {
	AgentID   string    `json:"agent_id"`
	Balance   int64     `json:"balance"`
	Version   uint64    `json:"version"` // For optimistic concurrency
	UpdatedAt time.Time `json:"updated_at"`
}

// BalanceDecimal returns the balance in display units
func (w *Wallet) BalanceDecimal() decimal.Decimal {
	return FromMinor(w.Balance)
}

// WalletLineKind describes why a wallet moved
type WalletLineKind string

const (
	WalletLineCommissionSettle   WalletLineKind = "commission_settle"
	WalletLineCommissionReversal WalletLineKind = "commission_reversal"
	WalletLineInviteBonus        WalletLineKind = "invite_bonus"
)

// WalletLine is an append-only wallet transaction entry
type WalletLine struct {
	ID           string         `json:"id"`
	AgentID      string         `json:"agent_id"`
	RecordID     string         `json:"record_id"`
	OrderID      string         `json:"order_id,omitempty"`
	Kind         WalletLineKind `json:"kind"`
	AmountMinor  int64          `json:"amount_minor"` // signed
	BalanceAfter int64          `json:"balance_after"`
	CreatedAt    time.Time      `json:"created_at"`
}

// AgentMetrics are the order-side figures the promotion engine evaluates
type AgentMetrics struct {
	OrderCount           int     `json:"order_count"`
	Rating               float64 `json:"rating"`
	UnresolvedComplaints int     `json:"unresolved_complaints"`
	MonthlyOrders        int     `json:"monthly_orders"`
	TeamMonthlyOrders    int     `json:"team_monthly_orders"`
}
