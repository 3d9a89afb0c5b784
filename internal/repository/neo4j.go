package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/shopspring/decimal"
)

const constraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

// Neo4jStore keeps the hierarchy, ledger and wallets in one Neo4j database so
// ledger and wallet mutations share a transaction.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore creates a new Neo4j store
func NewNeo4jStore(ctx context.Context, uri, username, password, database string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	// Verify connectivity with timeout
	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		return nil, fmt.Errorf("failed to verify neo4j connectivity: %w", err)
	}

	return &Neo4jStore{driver: driver, database: database}, nil
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

func (s *Neo4jStore) ReadTx(ctx context.Context, fn func(Tx) error) error {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&neo4jTx{tx: tx})
	})
	return err
}

func (s *Neo4jStore) WriteTx(ctx context.Context, fn func(Tx) error) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&neo4jTx{tx: tx})
	})
	return err
}

// Close closes the Neo4j driver
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// EnsureSchema creates the constraints the ledger relies on for uniqueness
func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	statements := []string{
		"CREATE CONSTRAINT agent_id IF NOT EXISTS FOR (a:Agent) REQUIRE a.id IS UNIQUE",
		"CREATE CONSTRAINT agent_invite_code IF NOT EXISTS FOR (a:Agent) REQUIRE a.invite_code IS UNIQUE",
		"CREATE CONSTRAINT wallet_agent IF NOT EXISTS FOR (w:Wallet) REQUIRE w.agent_id IS UNIQUE",
		"CREATE CONSTRAINT record_id IF NOT EXISTS FOR (r:DistributionRecord) REQUIRE r.id IS UNIQUE",
		"CREATE CONSTRAINT record_dedupe_key IF NOT EXISTS FOR (r:DistributionRecord) REQUIRE r.dedupe_key IS UNIQUE",
		"CREATE CONSTRAINT application_id IF NOT EXISTS FOR (p:PromotionApplication) REQUIRE p.id IS UNIQUE",
		"CREATE CONSTRAINT config_id IF NOT EXISTS FOR (c:DistributionConfig) REQUIRE c.id IS UNIQUE",
		"CREATE INDEX agent_parent IF NOT EXISTS FOR (a:Agent) ON (a.parent_id)",
		"CREATE INDEX record_order IF NOT EXISTS FOR (r:DistributionRecord) ON (r.order_id)",
		"CREATE INDEX record_status IF NOT EXISTS FOR (r:DistributionRecord) ON (r.status, r.created_at)",
		"CREATE INDEX application_agent IF NOT EXISTS FOR (p:PromotionApplication) ON (p.agent_id, p.status)",
		"CREATE INDEX wallet_line_agent IF NOT EXISTS FOR (l:WalletLine) ON (l.agent_id)",
	}

	for _, stmt := range statements {
		result, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return fmt.Errorf("failed to apply %q: %w", stmt, err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("failed to apply %q: %w", stmt, err)
		}
	}
	return nil
}

type neo4jTx struct {
	tx neo4j.ManagedTransaction
}

func (t *neo4jTx) collect(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := t.tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

func isConstraintViolation(err error) bool {
	var neoErr *neo4j.Neo4jError
	return errors.As(err, &neoErr) && neoErr.Code == constraintViolation
}

// CreateAgent stores a new node together with its empty wallet
func (t *neo4jTx) CreateAgent(ctx context.Context, agent *domain.Agent) error {
	query := `
		CREATE (a:Agent {
			id: $id,
			parent_id: $parent_id,
			ancestor_path: $ancestor_path,
			level: $level,
			distribution_active: $distribution_active,
			team_size: $team_size,
			total_team_size: $total_team_size,
			invite_code: $invite_code,
			status: $status,
			promotion_applied: $promotion_applied,
			created_at: $created_at,
			bound_at: $bound_at
		})
		CREATE (a)-[:OWNS_WALLET]->(:Wallet {
			agent_id: $id,
			balance: 0,
			version: 1,
			updated_at: $created_at
		})
		WITH a
		// Keep the graph edge in step with parent_id for ad-hoc traversal
		OPTIONAL MATCH (parent:Agent {id: $parent_id})
		FOREACH (p IN CASE WHEN parent IS NOT NULL THEN [parent] ELSE [] END |
			CREATE (p)-[:RECRUITED]->(a)
		)
		RETURN a.id
	`
	params := agentParams(agent)
	if _, err := t.collect(ctx, query, params); err != nil {
		if isConstraintViolation(err) {
			return domain.ErrAgentExists(agent.ID)
		}
		return err
	}
	return nil
}

func agentParams(a *domain.Agent) map[string]any {
	params := map[string]any{
		"id":                  a.ID,
		"parent_id":           nil,
		"ancestor_path":       append([]string{}, a.AncestorPath...),
		"level":               int64(a.Level),
		"distribution_active": a.DistributionActive,
		"team_size":           int64(a.TeamSize),
		"total_team_size":     int64(a.TotalTeamSize),
		"invite_code":         nil,
		"status":              string(a.Status),
		"promotion_applied":   a.PromotionApplied,
		"created_at":          a.CreatedAt,
		"bound_at":            nil,
	}
	if a.ParentID != nil {
		params["parent_id"] = *a.ParentID
	}
	if a.InviteCode != "" {
		params["invite_code"] = a.InviteCode
	}
	if a.BoundAt != nil {
		params["bound_at"] = *a.BoundAt
	}
	return params
}

func (t *neo4jTx) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	records, err := t.collect(ctx, `MATCH (a:Agent {id: $id}) RETURN a`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrAgentNotFound(id)
	}
	return agentFromRecord(records[0]), nil
}

// LockAgent writes to the node so that concurrent writers touching the same
// agent are serialized until this transaction ends
func (t *neo4jTx) LockAgent(ctx context.Context, id string) (*domain.Agent, error) {
	records, err := t.collect(ctx, `
		MATCH (a:Agent {id: $id})
		SET a.lock_seq = coalesce(a.lock_seq, 0) + 1
		RETURN a`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrAgentNotFound(id)
	}
	return agentFromRecord(records[0]), nil
}

func (t *neo4jTx) GetAgentByInviteCode(ctx context.Context, code string) (*domain.Agent, error) {
	records, err := t.collect(ctx, `MATCH (a:Agent {invite_code: $code}) RETURN a`, map[string]any{"code": code})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrInviteCodeNotFound(code)
	}
	return agentFromRecord(records[0]), nil
}

func (t *neo4jTx) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	records, err := t.collect(ctx, `MATCH (a:Agent) RETURN a ORDER BY a.id`, nil)
	if err != nil {
		return nil, err
	}
	return agentsFromRecords(records), nil
}

func (t *neo4jTx) InviteCodeExists(ctx context.Context, code string) (bool, error) {
	records, err := t.collect(ctx, `MATCH (a:Agent {invite_code: $code}) RETURN count(a) AS n`, map[string]any{"code": code})
	if err != nil {
		return false, err
	}
	return len(records) > 0 && asInt(records[0].Values[0]) > 0, nil
}

func (t *neo4jTx) SetInviteCode(ctx context.Context, id, code string) error {
	query := `
		MATCH (a:Agent {id: $id})
		WITH a, a.invite_code AS previous
		SET a.invite_code = coalesce(previous, $code)
		RETURN previous
	`
	records, err := t.collect(ctx, query, map[string]any{"id": id, "code": code})
	if err != nil {
		if isConstraintViolation(err) {
			return domain.ErrInviteCodeTaken(code)
		}
		return err
	}
	if len(records) == 0 {
		return domain.ErrAgentNotFound(id)
	}
	if previous, ok := records[0].Values[0].(string); ok && previous != "" {
		return domain.ErrInviteCodeTaken(previous)
	}
	return nil
}

func (t *neo4jTx) BindParent(ctx context.Context, id, parentID string, path []string, at time.Time) error {
	query := `
		MATCH (a:Agent {id: $id})
		WHERE a.parent_id IS NULL
		MATCH (p:Agent {id: $parent_id})
		SET a.parent_id = $parent_id,
			a.ancestor_path = $path,
			a.bound_at = $at
		MERGE (p)-[:RECRUITED]->(a)
		RETURN a.id
	`
	records, err := t.collect(ctx, query, map[string]any{
		"id":        id,
		"parent_id": parentID,
		"path":      append([]string{}, path...),
		"at":        at,
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return domain.ErrAlreadyBound(id)
	}
	return nil
}

func (t *neo4jTx) SetAncestorPath(ctx context.Context, id string, path []string) error {
	return t.updateAgent(ctx, id, `SET a.ancestor_path = $path`, map[string]any{"path": append([]string{}, path...)})
}

func (t *neo4jTx) FindDescendants(ctx context.Context, id string) ([]*domain.Agent, error) {
	records, err := t.collect(ctx, `MATCH (a:Agent) WHERE $id IN a.ancestor_path RETURN a ORDER BY a.id`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	return agentsFromRecords(records), nil
}

func (t *neo4jTx) CountChildren(ctx context.Context, id string) (int, error) {
	records, err := t.collect(ctx, `MATCH (a:Agent {parent_id: $id}) RETURN count(a) AS n`, map[string]any{"id": id})
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	return asInt(records[0].Values[0]), nil
}

func (t *neo4jTx) UpdateTeamStats(ctx context.Context, id string, teamSize, totalTeamSize int) error {
	return t.updateAgent(ctx, id, `SET a.team_size = $team_size, a.total_team_size = $total_team_size`, map[string]any{
		"team_size":       int64(teamSize),
		"total_team_size": int64(totalTeamSize),
	})
}

func (t *neo4jTx) UpdateLevel(ctx context.Context, id string, level domain.Level) error {
	return t.updateAgent(ctx, id, `SET a.level = $level`, map[string]any{"level": int64(level)})
}

func (t *neo4jTx) SetPromotionApplied(ctx context.Context, id string, applied bool) error {
	return t.updateAgent(ctx, id, `SET a.promotion_applied = $applied`, map[string]any{"applied": applied})
}

func (t *neo4jTx) updateAgent(ctx context.Context, id, set string, params map[string]any) error {
	params["id"] = id
	records, err := t.collect(ctx, "MATCH (a:Agent {id: $id}) "+set+" RETURN a.id", params)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return domain.ErrAgentNotFound(id)
	}
	return nil
}

func (t *neo4jTx) GetActiveConfig(ctx context.Context) (*domain.DistributionConfig, error) {
	query := `
		MATCH (c:DistributionConfig {status: 'active'})
		RETURN c
		ORDER BY c.updated_at DESC
		LIMIT 1
	`
	records, err := t.collect(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrConfigNotFound
	}
	return configFromRecord(records[0]), nil
}

func (t *neo4jTx) SaveConfig(ctx context.Context, cfg *domain.DistributionConfig) error {
	query := `
		MERGE (c:DistributionConfig {id: $id})
		SET c.status = $status,
			c.rate_top = $rate_top,
			c.rate_mid = $rate_mid,
			c.rate_base = $rate_base,
			c.invite_bonus = $invite_bonus,
			c.b2m_min_orders = $b2m_min_orders,
			c.b2m_min_rating = $b2m_min_rating,
			c.b2m_min_direct_invites = $b2m_min_direct_invites,
			c.b2m_min_tenure_months = $b2m_min_tenure_months,
			c.m2t_min_team_size = $m2t_min_team_size,
			c.m2t_min_team_monthly_orders = $m2t_min_team_monthly_orders,
			c.m2t_min_personal_monthly_orders = $m2t_min_personal_monthly_orders,
			c.updated_at = $updated_at
	`
	_, err := t.collect(ctx, query, map[string]any{
		"id":                              cfg.ID,
		"status":                          string(cfg.Status),
		"rate_top":                        cfg.Rates.Top.String(),
		"rate_mid":                        cfg.Rates.Mid.String(),
		"rate_base":                       cfg.Rates.Base.String(),
		"invite_bonus":                    cfg.InviteBonus.String(),
		"b2m_min_orders":                  int64(cfg.BaseToMid.MinOrders),
		"b2m_min_rating":                  cfg.BaseToMid.MinRating,
		"b2m_min_direct_invites":          int64(cfg.BaseToMid.MinDirectInvites),
		"b2m_min_tenure_months":           int64(cfg.BaseToMid.MinTenureMonths),
		"m2t_min_team_size":               int64(cfg.MidToTop.MinTeamSize),
		"m2t_min_team_monthly_orders":     int64(cfg.MidToTop.MinTeamMonthlyOrders),
		"m2t_min_personal_monthly_orders": int64(cfg.MidToTop.MinPersonalMonthlyOrders),
		"updated_at":                      cfg.UpdatedAt,
	})
	return err
}

func (t *neo4jTx) DeactivateOtherConfigs(ctx context.Context, keepID string) error {
	_, err := t.collect(ctx, `MATCH (c:DistributionConfig) WHERE c.id <> $id SET c.status = 'inactive'`, map[string]any{"id": keepID})
	return err
}

func (t *neo4jTx) CreateRecord(ctx context.Context, rec *domain.DistributionRecord) error {
	query := `
		OPTIONAL MATCH (existing:DistributionRecord {dedupe_key: $dedupe_key})
		WITH existing
		WHERE existing IS NULL
		CREATE (r:DistributionRecord {
			id: $id,
			dedupe_key: $dedupe_key,
			order_id: $order_id,
			source_agent_id: $source_agent_id,
			beneficiary_id: $beneficiary_id,
			beneficiary_level: $beneficiary_level,
			relation_depth: $relation_depth,
			rate: $rate,
			order_amount: $order_amount,
			amount: $amount,
			type: $type,
			status: $status,
			cancel_reason: $cancel_reason,
			created_at: $created_at,
			settled_at: $settled_at,
			cancelled_at: $cancelled_at
		})
		RETURN r.id
	`
	params := map[string]any{
		"id":                rec.ID,
		"dedupe_key":        rec.DedupeKey(),
		"order_id":          rec.OrderID,
		"source_agent_id":   rec.SourceAgentID,
		"beneficiary_id":    rec.BeneficiaryID,
		"beneficiary_level": int64(rec.BeneficiaryLevel),
		"relation_depth":    int64(rec.RelationDepth),
		"rate":              rec.Rate.String(),
		"order_amount":      rec.OrderAmount.String(),
		"amount":            rec.Amount.String(),
		"type":              string(rec.Type),
		"status":            string(rec.Status),
		"cancel_reason":     rec.CancelReason,
		"created_at":        rec.CreatedAt,
		"settled_at":        timeParam(rec.SettledAt),
		"cancelled_at":      timeParam(rec.CancelledAt),
	}
	records, err := t.collect(ctx, query, params)
	if err != nil {
		if isConstraintViolation(err) {
			return domain.ErrDuplicateRecord(rec.DedupeKey())
		}
		return err
	}
	if len(records) == 0 {
		return domain.ErrDuplicateRecord(rec.DedupeKey())
	}
	return nil
}

func (t *neo4jTx) GetRecordByKey(ctx context.Context, key string) (*domain.DistributionRecord, error) {
	records, err := t.collect(ctx, `MATCH (r:DistributionRecord {dedupe_key: $key}) RETURN r`, map[string]any{"key": key})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrRecordNotFound(key)
	}
	return recordFromRecord(records[0]), nil
}

func (t *neo4jTx) FindRecordsByOrder(ctx context.Context, orderID string) ([]*domain.DistributionRecord, error) {
	query := `
		MATCH (r:DistributionRecord {order_id: $order_id})
		RETURN r
		ORDER BY r.created_at, r.relation_depth, r.id
	`
	records, err := t.collect(ctx, query, map[string]any{"order_id": orderID})
	if err != nil {
		return nil, err
	}
	out := make([]*domain.DistributionRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, recordFromRecord(rec))
	}
	return out, nil
}

func (t *neo4jTx) UpdateRecord(ctx context.Context, rec *domain.DistributionRecord) error {
	query := `
		MATCH (r:DistributionRecord {id: $id})
		SET r.status = $status,
			r.cancel_reason = $cancel_reason,
			r.settled_at = $settled_at,
			r.cancelled_at = $cancelled_at
		RETURN r.id
	`
	records, err := t.collect(ctx, query, map[string]any{
		"id":            rec.ID,
		"status":        string(rec.Status),
		"cancel_reason": rec.CancelReason,
		"settled_at":    timeParam(rec.SettledAt),
		"cancelled_at":  timeParam(rec.CancelledAt),
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return domain.ErrRecordNotFound(rec.ID)
	}
	return nil
}

func (t *neo4jTx) OrdersWithPendingBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `
		MATCH (r:DistributionRecord {status: 'pending', type: 'commission'})
		WHERE r.created_at <= $cutoff
		RETURN DISTINCT r.order_id AS order_id
		ORDER BY order_id
	`
	records, err := t.collect(ctx, query, map[string]any{"cutoff": cutoff})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, asString(rec.Values[0]))
	}
	return out, nil
}

func (t *neo4jTx) CreateApplication(ctx context.Context, app *domain.PromotionApplication) error {
	query := `
		OPTIONAL MATCH (existing:PromotionApplication {agent_id: $agent_id, status: 'pending'})
		WITH existing
		WHERE existing IS NULL OR $status <> 'pending'
		CREATE (p:PromotionApplication {
			id: $id,
			agent_id: $agent_id,
			from_level: $from_level,
			to_level: $to_level,
			status: $status,
			snapshot_order_count: $snapshot_order_count,
			snapshot_rating: $snapshot_rating,
			snapshot_team_size: $snapshot_team_size,
			snapshot_total_team_size: $snapshot_total_team_size,
			snapshot_monthly_orders: $snapshot_monthly_orders,
			snapshot_team_monthly_orders: $snapshot_team_monthly_orders,
			reviewer_id: $reviewer_id,
			review_note: $review_note,
			created_at: $created_at,
			reviewed_at: $reviewed_at
		})
		RETURN p.id
	`
	records, err := t.collect(ctx, query, map[string]any{
		"id":                           app.ID,
		"agent_id":                     app.AgentID,
		"from_level":                   int64(app.FromLevel),
		"to_level":                     int64(app.ToLevel),
		"status":                       string(app.Status),
		"snapshot_order_count":         int64(app.Snapshot.OrderCount),
		"snapshot_rating":              app.Snapshot.Rating,
		"snapshot_team_size":           int64(app.Snapshot.TeamSize),
		"snapshot_total_team_size":     int64(app.Snapshot.TotalTeamSize),
		"snapshot_monthly_orders":      int64(app.Snapshot.MonthlyOrders),
		"snapshot_team_monthly_orders": int64(app.Snapshot.TeamMonthlyOrders),
		"reviewer_id":                  app.ReviewerID,
		"review_note":                  app.ReviewNote,
		"created_at":                   app.CreatedAt,
		"reviewed_at":                  timeParam(app.ReviewedAt),
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return domain.ErrPendingApplicationExists(app.AgentID)
	}
	return nil
}

func (t *neo4jTx) GetApplication(ctx context.Context, id string) (*domain.PromotionApplication, error) {
	records, err := t.collect(ctx, `MATCH (p:PromotionApplication {id: $id}) RETURN p`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrApplicationNotFound(id)
	}
	return applicationFromRecord(records[0]), nil
}

func (t *neo4jTx) FindPendingApplication(ctx context.Context, agentID string) (*domain.PromotionApplication, error) {
	query := `
		MATCH (p:PromotionApplication {agent_id: $agent_id, status: 'pending'})
		RETURN p
		ORDER BY p.created_at DESC
		LIMIT 1
	`
	records, err := t.collect(ctx, query, map[string]any{"agent_id": agentID})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrNoPendingApplication(agentID)
	}
	return applicationFromRecord(records[0]), nil
}

func (t *neo4jTx) UpdateApplication(ctx context.Context, app *domain.PromotionApplication) error {
	query := `
		MATCH (p:PromotionApplication {id: $id})
		SET p.status = $status,
			p.reviewer_id = $reviewer_id,
			p.review_note = $review_note,
			p.reviewed_at = $reviewed_at
		RETURN p.id
	`
	records, err := t.collect(ctx, query, map[string]any{
		"id":          app.ID,
		"status":      string(app.Status),
		"reviewer_id": app.ReviewerID,
		"review_note": app.ReviewNote,
		"reviewed_at": timeParam(app.ReviewedAt),
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return domain.ErrApplicationNotFound(app.ID)
	}
	return nil
}

func (t *neo4jTx) CreateInvitation(ctx context.Context, inv *domain.Invitation) error {
	query := `
		CREATE (:Invitation {
			id: $id,
			recruiter_id: $recruiter_id,
			recruit_id: $recruit_id,
			code: $code,
			created_at: $created_at
		})
	`
	_, err := t.collect(ctx, query, map[string]any{
		"id":           inv.ID,
		"recruiter_id": inv.RecruiterID,
		"recruit_id":   inv.RecruitID,
		"code":         inv.Code,
		"created_at":   inv.CreatedAt,
	})
	return err
}

func (t *neo4jTx) ListInvitations(ctx context.Context, recruiterID string) ([]*domain.Invitation, error) {
	query := `
		MATCH (i:Invitation {recruiter_id: $recruiter_id})
		RETURN i
		ORDER BY i.created_at, i.id
	`
	records, err := t.collect(ctx, query, map[string]any{"recruiter_id": recruiterID})
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Invitation, 0, len(records))
	for _, rec := range records {
		p := nodeProps(rec)
		out = append(out, &domain.Invitation{
			ID:          asString(p["id"]),
			RecruiterID: asString(p["recruiter_id"]),
			RecruitID:   asString(p["recruit_id"]),
			Code:        asString(p["code"]),
			CreatedAt:   asTime(p["created_at"]),
		})
	}
	return out, nil
}

func (t *neo4jTx) GetWallet(ctx context.Context, agentID string) (*domain.Wallet, error) {
	records, err := t.collect(ctx, `MATCH (w:Wallet {agent_id: $agent_id}) RETURN w`, map[string]any{"agent_id": agentID})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrWalletNotFound(agentID)
	}
	p := nodeProps(records[0])
	return &domain.Wallet{
		AgentID:   agentID,
		Balance:   asInt64(p["balance"]),
		Version:   uint64(asInt64(p["version"])),
		UpdatedAt: asTime(p["updated_at"]),
	}, nil
}

// AdjustWallet increments in a single statement; the SET holds the node's
// write lock until commit, serializing concurrent ledger transactions.
func (t *neo4jTx) AdjustWallet(ctx context.Context, agentID string, delta int64, at time.Time) (int64, error) {
	query := `
		MATCH (w:Wallet {agent_id: $agent_id})
		SET w.balance = w.balance + $delta,
			w.version = w.version + 1,
			w.updated_at = $at
		RETURN w.balance
	`
	records, err := t.collect(ctx, query, map[string]any{
		"agent_id": agentID,
		"delta":    delta,
		"at":       at,
	})
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, domain.ErrWalletNotFound(agentID)
	}
	return asInt64(records[0].Values[0]), nil
}

func (t *neo4jTx) AppendWalletLine(ctx context.Context, line *domain.WalletLine) error {
	query := `
		CREATE (:WalletLine {
			id: $id,
			agent_id: $agent_id,
			record_id: $record_id,
			order_id: $order_id,
			kind: $kind,
			amount_minor: $amount_minor,
			balance_after: $balance_after,
			created_at: $created_at
		})
	`
	_, err := t.collect(ctx, query, map[string]any{
		"id":            line.ID,
		"agent_id":      line.AgentID,
		"record_id":     line.RecordID,
		"order_id":      line.OrderID,
		"kind":          string(line.Kind),
		"amount_minor":  line.AmountMinor,
		"balance_after": line.BalanceAfter,
		"created_at":    line.CreatedAt,
	})
	return err
}

func (t *neo4jTx) ListWalletLines(ctx context.Context, agentID string) ([]*domain.WalletLine, error) {
	query := `
		MATCH (l:WalletLine {agent_id: $agent_id})
		RETURN l
		ORDER BY l.created_at, l.id
	`
	records, err := t.collect(ctx, query, map[string]any{"agent_id": agentID})
	if err != nil {
		return nil, err
	}
	out := make([]*domain.WalletLine, 0, len(records))
	for _, rec := range records {
		p := nodeProps(rec)
		out = append(out, &domain.WalletLine{
			ID:           asString(p["id"]),
			AgentID:      asString(p["agent_id"]),
			RecordID:     asString(p["record_id"]),
			OrderID:      asString(p["order_id"]),
			Kind:         domain.WalletLineKind(asString(p["kind"])),
			AmountMinor:  asInt64(p["amount_minor"]),
			BalanceAfter: asInt64(p["balance_after"]),
			CreatedAt:    asTime(p["created_at"]),
		})
	}
	return out, nil
}

func nodeProps(rec *neo4j.Record) map[string]any {
	if len(rec.Values) == 0 {
		return map[string]any{}
	}
	if node, ok := rec.Values[0].(neo4j.Node); ok {
		return node.Props
	}
	return map[string]any{}
}

func agentsFromRecords(records []*neo4j.Record) []*domain.Agent {
	out := make([]*domain.Agent, 0, len(records))
	for _, rec := range records {
		out = append(out, agentFromRecord(rec))
	}
	return out
}

func agentFromRecord(rec *neo4j.Record) *domain.Agent {
	p := nodeProps(rec)
	agent := &domain.Agent{
		ID:                 asString(p["id"]),
		AncestorPath:       asStrings(p["ancestor_path"]),
		Level:              domain.Level(asInt(p["level"])),
		DistributionActive: asBool(p["distribution_active"]),
		TeamSize:           asInt(p["team_size"]),
		TotalTeamSize:      asInt(p["total_team_size"]),
		InviteCode:         asString(p["invite_code"]),
		Status:             domain.AgentStatus(asString(p["status"])),
		PromotionApplied:   asBool(p["promotion_applied"]),
		CreatedAt:          asTime(p["created_at"]),
		BoundAt:            asTimePtr(p["bound_at"]),
	}
	if parentID, ok := p["parent_id"].(string); ok && parentID != "" {
		agent.ParentID = &parentID
	}
	return agent
}

func configFromRecord(rec *neo4j.Record) *domain.DistributionConfig {
	p := nodeProps(rec)
	return &domain.DistributionConfig{
		ID:     asString(p["id"]),
		Status: domain.ConfigStatus(asString(p["status"])),
		Rates: domain.LevelRates{
			Top:  asDecimal(p["rate_top"]),
			Mid:  asDecimal(p["rate_mid"]),
			Base: asDecimal(p["rate_base"]),
		},
		InviteBonus: asDecimal(p["invite_bonus"]),
		BaseToMid: domain.BaseToMidThresholds{
			MinOrders:        asInt(p["b2m_min_orders"]),
			MinRating:        asFloat(p["b2m_min_rating"]),
			MinDirectInvites: asInt(p["b2m_min_direct_invites"]),
			MinTenureMonths:  asInt(p["b2m_min_tenure_months"]),
		},
		MidToTop: domain.MidToTopThresholds{
			MinTeamSize:              asInt(p["m2t_min_team_size"]),
			MinTeamMonthlyOrders:     asInt(p["m2t_min_team_monthly_orders"]),
			MinPersonalMonthlyOrders: asInt(p["m2t_min_personal_monthly_orders"]),
		},
		UpdatedAt: asTime(p["updated_at"]),
	}
}

func recordFromRecord(rec *neo4j.Record) *domain.DistributionRecord {
	p := nodeProps(rec)
	return &domain.DistributionRecord{
		ID:               asString(p["id"]),
		OrderID:          asString(p["order_id"]),
		SourceAgentID:    asString(p["source_agent_id"]),
		BeneficiaryID:    asString(p["beneficiary_id"]),
		BeneficiaryLevel: domain.Level(asInt(p["beneficiary_level"])),
		RelationDepth:    asInt(p["relation_depth"]),
		Rate:             asDecimal(p["rate"]),
		OrderAmount:      asDecimal(p["order_amount"]),
		Amount:           asDecimal(p["amount"]),
		Type:             domain.RecordType(asString(p["type"])),
		Status:           domain.RecordStatus(asString(p["status"])),
		CancelReason:     asString(p["cancel_reason"]),
		CreatedAt:        asTime(p["created_at"]),
		SettledAt:        asTimePtr(p["settled_at"]),
		CancelledAt:      asTimePtr(p["cancelled_at"]),
	}
}

func applicationFromRecord(rec *neo4j.Record) *domain.PromotionApplication {
	p := nodeProps(rec)
	return &domain.PromotionApplication{
		ID:        asString(p["id"]),
		AgentID:   asString(p["agent_id"]),
		FromLevel: domain.Level(asInt(p["from_level"])),
		ToLevel:   domain.Level(asInt(p["to_level"])),
		Status:    domain.ApplicationStatus(asString(p["status"])),
		Snapshot: domain.PromotionSnapshot{
			OrderCount:        asInt(p["snapshot_order_count"]),
			Rating:            asFloat(p["snapshot_rating"]),
			TeamSize:          asInt(p["snapshot_team_size"]),
			TotalTeamSize:     asInt(p["snapshot_total_team_size"]),
			MonthlyOrders:     asInt(p["snapshot_monthly_orders"]),
			TeamMonthlyOrders: asInt(p["snapshot_team_monthly_orders"]),
		},
		ReviewerID: asString(p["reviewer_id"]),
		ReviewNote: asString(p["review_note"]),
		CreatedAt:  asTime(p["created_at"]),
		ReviewedAt: asTimePtr(p["reviewed_at"]),
	}
}

func timeParam(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func asInt(v any) int {
	return int(asInt64(v))
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case neo4j.LocalDateTime:
		return t.Time()
	default:
		return time.Time{}
	}
}

func asTimePtr(v any) *time.Time {
	if v == nil {
		return nil
	}
	t := asTime(v)
	if t.IsZero() {
		return nil
	}
	return &t
}

func asStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asDecimal(v any) decimal.Decimal {
	s, ok := v.(string)
	if !ok || s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
