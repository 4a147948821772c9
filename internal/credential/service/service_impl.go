package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	credentialdomain "github.com/credgate/credgate/internal/credential/domain"
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

func NewService(p Params) credentialdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("credential.service"),
		genID: p.GenID,
	}
}

func (s *Service) Upsert(ctx context.Context, req credentialdomain.UpsertRequest) (*credentialdomain.Response, error) {
	if req.OrgID == 0 {
		return nil, credentialdomain.ErrInvalidOrganization
	}
	provider := strings.TrimSpace(strings.ToLower(req.Provider))
	if provider == "" {
		return nil, credentialdomain.ErrInvalidProvider
	}
	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		return nil, credentialdomain.ErrInvalidKey
	}

	now := time.Now().UTC()
	credential := credentialdomain.ProviderCredential{
		ID:        s.genID.Generate(),
		OrgID:     req.OrgID,
		Provider:  provider,
		APIKey:    apiKey,
		BaseURL:   strings.TrimSpace(req.BaseURL),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "org_id"}, {Name: "provider"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"api_key", "base_url", "is_active", "updated_at",
			}),
		}).
		Create(&credential).Error
	if err != nil {
		return nil, err
	}

	stored, err := s.ActiveFor(ctx, req.OrgID, provider)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, credentialdomain.ErrNotFound
	}

	s.log.Info("stored provider credential",
		zap.String("org_id", req.OrgID.String()),
		zap.String("provider", provider),
	)

	resp := toResponse(stored)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, orgID snowflake.ID) ([]credentialdomain.Response, error) {
	if orgID == 0 {
		return nil, credentialdomain.ErrInvalidOrganization
	}

	var credentials []credentialdomain.ProviderCredential
	if err := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("provider ASC").
		Find(&credentials).Error; err != nil {
		return nil, err
	}

	resp := make([]credentialdomain.Response, 0, len(credentials))
	for i := range credentials {
		resp = append(resp, toResponse(&credentials[i]))
	}

	return resp, nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	result := s.db.WithContext(ctx).Delete(&credentialdomain.ProviderCredential{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return credentialdomain.ErrNotFound
	}
	return nil
}

func (s *Service) ActiveFor(ctx context.Context, orgID snowflake.ID, provider string) (*credentialdomain.ProviderCredential, error) {
	var credential credentialdomain.ProviderCredential
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND provider = ? AND is_active = ?", orgID, strings.ToLower(provider), true).
		First(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &credential, nil
}

func toResponse(c *credentialdomain.ProviderCredential) credentialdomain.Response {
	return credentialdomain.Response{
		ID:        c.ID,
		OrgID:     c.OrgID,
		Provider:  c.Provider,
		MaskedKey: c.MaskedKey(),
		BaseURL:   c.BaseURL,
		IsActive:  c.IsActive,
		CreatedAt: c.CreatedAt,
	}
}
