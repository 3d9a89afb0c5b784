// Package grpc provides the admin gRPC surface of the distribution service
package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
	"github.com/kekeling/kekeling/services/distribution/internal/logging"
	"github.com/kekeling/kekeling/services/distribution/internal/service"
)

// AdminServer implements the DistributionAdmin service on top of the
// distribution components. Every message is a google.protobuf.Struct.
type AdminServer struct {
	svc   *service.Service
	log   *logging.Logger
	clock service.Clock
}

// NewAdminServer creates a new AdminServer
func NewAdminServer(log *logging.Logger, svc *service.Service, clock service.Clock) *AdminServer {
	return &AdminServer{svc: svc, log: log.Named("admin"), clock: clock}
}

// GetConfig returns the active distribution configuration
func (s *AdminServer) GetConfig(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	cfg, err := s.svc.Configs.ActiveConfig(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(cfg)
}

// SaveConfig stores a configuration; an active one replaces the current one
func (s *AdminServer) SaveConfig(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var cfg domain.DistributionConfig
	if err := decode(req, &cfg); err != nil {
		return nil, err
	}
	saved, err := s.svc.Configs.SaveConfig(ctx, &cfg)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(saved)
}

type reviewRequest struct {
	ApplicationID string `json:"application_id"`
	Decision      string `json:"decision"`
	ReviewerID    string `json:"reviewer_id"`
	Note          string `json:"note"`
}

// ReviewApplication approves or rejects a pending promotion application
func (s *AdminServer) ReviewApplication(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in reviewRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	app, err := s.svc.Promotions.Review(ctx, service.ReviewRequest{
		ApplicationID: in.ApplicationID,
		Decision:      service.Decision(in.Decision),
		ReviewerID:    in.ReviewerID,
		Note:          in.Note,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(app)
}

type orderRequest struct {
	OrderID     string `json:"order_id"`
	AgentID     string `json:"agent_id"`
	AmountMinor int64  `json:"amount_minor"`
	Reason      string `json:"reason"`
}

// RecordOrder books the commissions of a completed order as pending records
func (s *AdminServer) RecordOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in orderRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	calc, records, err := s.svc.RecordOrder(ctx, in.OrderID, in.AgentID, in.AmountMinor)
	if err != nil {
		return nil, toStatus(err)
	}
	if records == nil {
		records = []*domain.DistributionRecord{}
	}
	return toStruct(map[string]any{
		"order_id":    calc.OrderID,
		"total_minor": calc.TotalMinor,
		"records":     records,
	})
}

// SettleOrder settles the pending commissions of an order
func (s *AdminServer) SettleOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in orderRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	n, err := s.svc.Ledger.Settle(ctx, in.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"order_id": in.OrderID, "settled": n})
}

// CancelOrder voids the commissions of an order, reversing settled ones
func (s *AdminServer) CancelOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in orderRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	n, err := s.svc.Ledger.Cancel(ctx, in.OrderID, in.Reason)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"order_id": in.OrderID, "cancelled": n})
}

type settleDueRequest struct {
	Now string `json:"now"`
}

// SettleDue settles every order past the cooling-off period. Partial
// failures are reported in the response, not as an error.
func (s *AdminServer) SettleDue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in settleDueRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	now := s.clock.GetTimeNow()
	if in.Now != "" {
		t, err := time.Parse(time.RFC3339, in.Now)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid now: %v", err)
		}
		now = t
	}
	summary, err := s.svc.Ledger.SettleDue(ctx, now)
	if summary == nil {
		return nil, toStatus(err)
	}
	if err != nil {
		s.log.Warn("settle due finished with failures", logging.Strings("failed", summary.Failed), logging.Error(err))
	}
	return toStruct(map[string]any{
		"orders":  summary.Orders,
		"records": summary.Records,
		"failed":  summary.Failed,
	})
}

// Reconcile recomputes paths and team statistics from the parent links
func (s *AdminServer) Reconcile(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	n, err := s.svc.Stats.Reconcile(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"corrected": n})
}

type agentRequest struct {
	AgentID    string `json:"agent_id"`
	RecruitID  string `json:"recruit_id"`
	InviteCode string `json:"invite_code"`
}

// CheckPromotion evaluates an agent against its next tier
func (s *AdminServer) CheckPromotion(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in agentRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	if in.AgentID == "" {
		return nil, status.Error(codes.InvalidArgument, "agent_id is required")
	}
	result, err := s.svc.Promotions.Check(ctx, in.AgentID)
	if err != nil {
		return nil, toStatus(err)
	}
	out := map[string]any{
		"agent_id":   result.AgentID,
		"outcome":    string(result.Outcome),
		"from_level": result.FromLevel.String(),
		"to_level":   result.ToLevel.String(),
		"unmet":      append([]string{}, result.Unmet...),
	}
	if result.Application != nil {
		out["application_id"] = result.Application.ID
	}
	return toStruct(out)
}

// BindAgent binds a recruit under the owner of an invite code
func (s *AdminServer) BindAgent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in agentRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	agent, err := s.svc.Binder.Bind(ctx, in.RecruitID, in.InviteCode)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(agent)
}

type registerRequest struct {
	AgentID            string `json:"agent_id"`
	Level              string `json:"level"`
	DistributionActive bool   `json:"distribution_active"`
}

// RegisterAgent adds an unbound agent and returns it with its invite code
func (s *AdminServer) RegisterAgent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in registerRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	level, err := domain.ParseLevel(in.Level)
	if err != nil {
		return nil, toStatus(err)
	}
	agent, err := s.svc.Tree.Register(ctx, service.NewAgent{
		ID:                 in.AgentID,
		Level:              level,
		DistributionActive: in.DistributionActive,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(agent)
}

type bonusRequest struct {
	RecruiterID string `json:"recruiter_id"`
	RecruitID   string `json:"recruit_id"`
	OrderID     string `json:"order_id"`
}

// GrantInviteBonus pays the recruiter's bonus for a recruit's first order.
// granted is false when the bonus was already paid or none is configured.
func (s *AdminServer) GrantInviteBonus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in bonusRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	rec, granted, err := s.svc.Ledger.GrantDirectInviteBonus(ctx, in.RecruiterID, in.RecruitID, in.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	out := map[string]any{"granted": granted}
	if rec != nil {
		out["record"] = rec
	}
	return toStruct(out)
}

// ApplyPromotion opens a mid to top application for review
func (s *AdminServer) ApplyPromotion(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in agentRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	if in.AgentID == "" {
		return nil, status.Error(codes.InvalidArgument, "agent_id is required")
	}
	app, err := s.svc.Promotions.Apply(ctx, in.AgentID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(app)
}

// toStatus maps the domain error classes onto gRPC codes
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrConflict):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrTooManyAttempts):
		code = codes.ResourceExhausted
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// decode unpacks a Struct into v through its JSON form
func decode(req *structpb.Struct, v any) error {
	if req == nil {
		req = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(req)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}
