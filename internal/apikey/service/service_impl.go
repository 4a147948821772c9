package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apikeydomain "github.com/credgate/credgate/internal/apikey/domain"
	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
)

const (
	apiKeyPrefix      = "cgk_"
	apiKeySecretBytes = 32
	apiKeySuffixLen   = 8
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Hierarchy hierarchydomain.Service
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	hierarchy hierarchydomain.Service
}

func NewService(p Params) apikeydomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("apikey.service"),
		genID:     p.GenID,
		hierarchy: p.Hierarchy,
	}
}

func (s *Service) Issue(ctx context.Context, req apikeydomain.IssueRequest) (*apikeydomain.SecretResponse, error) {
	if req.AgentID == 0 {
		return nil, apikeydomain.ErrInvalidAgent
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}

	if _, err := s.hierarchy.GetAgent(ctx, req.AgentID); err != nil {
		if errors.Is(err, hierarchydomain.ErrNotFound) {
			return nil, apikeydomain.ErrInvalidAgent
		}
		return nil, err
	}

	plain, err := generateKey()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	key := apikeydomain.APIKey{
		ID:        s.genID.Generate(),
		AgentID:   req.AgentID,
		Name:      name,
		KeyHash:   apikeydomain.HashKey(plain),
		KeySuffix: plain[len(plain)-apiKeySuffixLen:],
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.db.WithContext(ctx).Create(&key).Error; err != nil {
		return nil, err
	}

	s.log.Info("issued api key",
		zap.String("key_id", key.ID.String()),
		zap.String("agent_id", key.AgentID.String()),
	)

	return &apikeydomain.SecretResponse{ID: key.ID, APIKey: plain}, nil
}

func (s *Service) Resolve(ctx context.Context, rawKey string) (*apikeydomain.APIKey, error) {
	rawKey = strings.TrimSpace(rawKey)
	if !strings.HasPrefix(rawKey, apiKeyPrefix) {
		return nil, apikeydomain.ErrInvalidKey
	}

	var key apikeydomain.APIKey
	err := s.db.WithContext(ctx).
		Where("key_hash = ? AND is_active = ?", apikeydomain.HashKey(rawKey), true).
		First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apikeydomain.ErrInvalidKey
	}
	if err != nil {
		return nil, err
	}

	// A failed last_used_at update must not reject an otherwise valid key.
	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).
		Model(&apikeydomain.APIKey{}).
		Where("id = ?", key.ID).
		Update("last_used_at", now).Error; err != nil {
		s.log.Warn("failed to update api key last_used_at", zap.Error(err))
	}
	key.LastUsedAt = &now

	return &key, nil
}

func (s *Service) List(ctx context.Context, agentID snowflake.ID) ([]apikeydomain.Response, error) {
	if agentID == 0 {
		return nil, apikeydomain.ErrInvalidAgent
	}

	var keys []apikeydomain.APIKey
	if err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("created_at DESC").
		Find(&keys).Error; err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(keys))
	for i := range keys {
		resp = append(resp, toResponse(&keys[i]))
	}

	return resp, nil
}

func (s *Service) Revoke(ctx context.Context, keyID snowflake.ID) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&apikeydomain.APIKey{}).
		Where("id = ? AND is_active = ?", keyID, true).
		Updates(map[string]any{
			"is_active":  false,
			"revoked_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apikeydomain.ErrNotFound
	}
	return nil
}

func toResponse(key *apikeydomain.APIKey) apikeydomain.Response {
	return apikeydomain.Response{
		ID:         key.ID,
		AgentID:    key.AgentID,
		Name:       key.Name,
		KeySuffix:  key.KeySuffix,
		IsActive:   key.IsActive,
		CreatedAt:  key.CreatedAt,
		LastUsedAt: key.LastUsedAt,
		RevokedAt:  key.RevokedAt,
	}
}

func generateKey() (string, error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	return apiKeyPrefix + base64.RawURLEncoding.EncodeToString(secret), nil
}
