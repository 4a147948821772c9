package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
	ledgerdomain "github.com/credgate/credgate/internal/ledger/domain"
	"github.com/credgate/credgate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) hierarchydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("hierarchy.service"),
		genID: p.GenID,
	}
}

func (s *Service) CreateOrg(ctx context.Context, req hierarchydomain.CreateOrgRequest) (*hierarchydomain.Organization, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, hierarchydomain.ErrInvalidName
	}
	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	if slug == "" {
		return nil, hierarchydomain.ErrInvalidSlug
	}
	creditsPerUSD := req.CreditsPerUSD
	if creditsPerUSD <= 0 {
		creditsPerUSD = 100
	}

	now := time.Now().UTC()
	account := ledgerdomain.Account{
		ID:        s.genID.Generate(),
		Name:      name + " billing",
		CreatedAt: now,
	}
	org := hierarchydomain.Organization{
		ID:               s.genID.Generate(),
		Name:             name,
		Slug:             slug,
		BillingAccountID: account.ID,
		CreditsPerUSD:    creditsPerUSD,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&account).Error; err != nil {
			return err
		}
		return tx.Create(&org).Error
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, hierarchydomain.ErrSlugTaken
		}
		return nil, err
	}

	s.log.Info("organization created",
		zap.String("org_id", org.ID.String()),
		zap.String("billing_account_id", account.ID.String()),
	)
	return &org, nil
}

func (s *Service) CreateWorkspace(ctx context.Context, req hierarchydomain.CreateWorkspaceRequest) (*hierarchydomain.Workspace, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, hierarchydomain.ErrInvalidName
	}
	orgID, err := snowflake.ParseString(strings.TrimSpace(req.OrgID))
	if err != nil || orgID == 0 {
		return nil, hierarchydomain.ErrInvalidParent
	}

	var org hierarchydomain.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, hierarchydomain.ErrNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	ws := hierarchydomain.Workspace{
		ID:        s.genID.Generate(),
		OrgID:     org.ID,
		Name:      name,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&ws).Error; err != nil {
		return nil, err
	}
	return &ws, nil
}

func (s *Service) CreateAgentGroup(ctx context.Context, req hierarchydomain.CreateAgentGroupRequest) (*hierarchydomain.AgentGroup, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, hierarchydomain.ErrInvalidName
	}
	workspaceID, err := snowflake.ParseString(strings.TrimSpace(req.WorkspaceID))
	if err != nil || workspaceID == 0 {
		return nil, hierarchydomain.ErrInvalidParent
	}

	var ws hierarchydomain.Workspace
	if err := s.db.WithContext(ctx).First(&ws, "id = ?", workspaceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, hierarchydomain.ErrNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	group := hierarchydomain.AgentGroup{
		ID:          s.genID.Generate(),
		WorkspaceID: ws.ID,
		Name:        name,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&group).Error; err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *Service) CreateAgent(ctx context.Context, req hierarchydomain.CreateAgentRequest) (*hierarchydomain.Agent, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, hierarchydomain.ErrInvalidName
	}
	groupID, err := snowflake.ParseString(strings.TrimSpace(req.AgentGroupID))
	if err != nil || groupID == 0 {
		return nil, hierarchydomain.ErrInvalidParent
	}

	var group hierarchydomain.AgentGroup
	if err := s.db.WithContext(ctx).First(&group, "id = ?", groupID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, hierarchydomain.ErrNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	agent := hierarchydomain.Agent{
		ID:           s.genID.Generate(),
		AgentGroupID: group.ID,
		Name:         name,
		Status:       hierarchydomain.AgentStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&agent).Error; err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *Service) GetOrg(ctx context.Context, id snowflake.ID) (*hierarchydomain.Organization, error) {
	var org hierarchydomain.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, hierarchydomain.ErrNotFound
		}
		return nil, err
	}
	return &org, nil
}

func (s *Service) GetAgent(ctx context.Context, id snowflake.ID) (*hierarchydomain.Agent, error) {
	var agent hierarchydomain.Agent
	if err := s.db.WithContext(ctx).First(&agent, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, hierarchydomain.ErrNotFound
		}
		return nil, err
	}
	return &agent, nil
}

func (s *Service) ListOrgs(ctx context.Context) ([]hierarchydomain.Organization, error) {
	var orgs []hierarchydomain.Organization
	if err := s.db.WithContext(ctx).Order("created_at").Find(&orgs).Error; err != nil {
		return nil, err
	}
	return orgs, nil
}

// Chain walks the parent pointers up from the agent. Every hop that fails
// to resolve returns ErrNotFound so a malformed chain denies the request
// instead of partially authorizing it.
func (s *Service) Chain(ctx context.Context, agentID snowflake.ID) (hierarchydomain.Chain, error) {
	var chain hierarchydomain.Chain

	if err := s.db.WithContext(ctx).First(&chain.Agent, "id = ?", agentID).Error; err != nil {
		return chain, asNotFound(err)
	}
	if err := s.db.WithContext(ctx).First(&chain.AgentGroup, "id = ?", chain.Agent.AgentGroupID).Error; err != nil {
		return chain, asNotFound(err)
	}
	if err := s.db.WithContext(ctx).First(&chain.Workspace, "id = ?", chain.AgentGroup.WorkspaceID).Error; err != nil {
		return chain, asNotFound(err)
	}
	if err := s.db.WithContext(ctx).First(&chain.Org, "id = ?", chain.Workspace.OrgID).Error; err != nil {
		return chain, asNotFound(err)
	}
	return chain, nil
}

func (s *Service) AgentIDsUnder(ctx context.Context, target hierarchydomain.Target) ([]snowflake.ID, error) {
	if !target.Valid() {
		return nil, hierarchydomain.ErrInvalidTarget
	}

	var ids []snowflake.ID
	query := s.db.WithContext(ctx).Model(&hierarchydomain.Agent{})

	switch target.Level {
	case hierarchydomain.LevelAgent:
		return []snowflake.ID{target.ID}, nil
	case hierarchydomain.LevelAgentGroup:
		query = query.Where("agent_group_id = ?", target.ID)
	case hierarchydomain.LevelWorkspace:
		query = query.Where(
			"agent_group_id IN (?)",
			s.db.Model(&hierarchydomain.AgentGroup{}).Select("id").Where("workspace_id = ?", target.ID),
		)
	case hierarchydomain.LevelOrg:
		query = query.Where(
			"agent_group_id IN (?)",
			s.db.Model(&hierarchydomain.AgentGroup{}).Select("id").Where(
				"workspace_id IN (?)",
				s.db.Model(&hierarchydomain.Workspace{}).Select("id").Where("org_id = ?", target.ID),
			),
		)
	}

	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Service) SetAgentStatus(ctx context.Context, agentID snowflake.ID, status hierarchydomain.AgentStatus) error {
	switch status {
	case hierarchydomain.AgentStatusActive,
		hierarchydomain.AgentStatusDisabled,
		hierarchydomain.AgentStatusBudgetExhausted:
	default:
		return hierarchydomain.ErrInvalidStatus
	}

	result := s.db.WithContext(ctx).Model(&hierarchydomain.Agent{}).
		Where("id = ?", agentID).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return hierarchydomain.ErrNotFound
	}
	return nil
}

func (s *Service) Disable(ctx context.Context, target hierarchydomain.Target) error {
	if !target.Valid() {
		return hierarchydomain.ErrInvalidTarget
	}

	now := time.Now().UTC()
	var result *gorm.DB
	switch target.Level {
	case hierarchydomain.LevelAgent:
		result = s.db.WithContext(ctx).Model(&hierarchydomain.Agent{}).
			Where("id = ?", target.ID).
			Updates(map[string]any{"status": hierarchydomain.AgentStatusBudgetExhausted, "updated_at": now})
	case hierarchydomain.LevelAgentGroup:
		result = s.db.WithContext(ctx).Model(&hierarchydomain.AgentGroup{}).
			Where("id = ?", target.ID).
			Updates(map[string]any{"is_active": false, "updated_at": now})
	case hierarchydomain.LevelWorkspace:
		result = s.db.WithContext(ctx).Model(&hierarchydomain.Workspace{}).
			Where("id = ?", target.ID).
			Updates(map[string]any{"is_active": false, "updated_at": now})
	case hierarchydomain.LevelOrg:
		result = s.db.WithContext(ctx).Model(&hierarchydomain.Organization{}).
			Where("id = ?", target.ID).
			Updates(map[string]any{"is_active": false, "updated_at": now})
	}
	if result.Error != nil {
		return result.Error
	}

	s.log.Warn("hierarchy node disabled",
		zap.String("level", string(target.Level)),
		zap.String("node_id", target.ID.String()),
	)
	return nil
}

func asNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return hierarchydomain.ErrNotFound
	}
	return err
}
