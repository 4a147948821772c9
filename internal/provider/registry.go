package provider

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/credgate/credgate/internal/config"
	credentialdomain "github.com/credgate/credgate/internal/credential/domain"
)

type RegistryParams struct {
	fx.In

	Config      *config.Config
	Log         *zap.Logger
	Credentials credentialdomain.Service
}

// Registry resolves a model name to a Provider, preferring the org's own
// upstream credential over the platform key when one is configured.
type Registry struct {
	cfg         *config.Config
	log         *zap.Logger
	credentials credentialdomain.Service
	timeout     time.Duration

	platform map[string]Provider
}

func NewRegistry(p RegistryParams) *Registry {
	timeout := time.Duration(p.Config.Providers.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Registry{
		cfg:         p.Config,
		log:         p.Log.Named("provider.registry"),
		credentials: p.Credentials,
		timeout:     timeout,
		platform: map[string]Provider{
			openAIName:    NewOpenAI(p.Config.Providers.OpenAIAPIKey, p.Config.Providers.OpenAIBaseURL, timeout),
			anthropicName: NewAnthropic(p.Config.Providers.AnthropicAPIKey, p.Config.Providers.AnthropicBaseURL, timeout),
			mockName:      NewMock(),
		},
	}
}

// NameForModel infers the upstream provider from the model identifier.
func NameForModel(model string) (string, error) {
	model = strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(model, "gpt-"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"):
		return openAIName, nil
	case strings.HasPrefix(model, "claude-"):
		return anthropicName, nil
	case strings.HasPrefix(model, "mock"):
		return mockName, nil
	default:
		return "", ErrUnknownModel
	}
}

// ForModel returns the provider serving model on behalf of org. A stored
// org credential swaps in the tenant's key and base URL.
func (r *Registry) ForModel(ctx context.Context, orgID snowflake.ID, model string) (Provider, error) {
	name, err := NameForModel(model)
	if err != nil {
		return nil, err
	}
	if name == mockName {
		return r.platform[mockName], nil
	}

	credential, err := r.credentials.ActiveFor(ctx, orgID, name)
	if err != nil {
		return nil, err
	}
	if credential != nil {
		return r.byok(name, credential), nil
	}

	return r.platform[name], nil
}

func (r *Registry) byok(name string, credential *credentialdomain.ProviderCredential) Provider {
	baseURL := credential.BaseURL
	switch name {
	case anthropicName:
		if baseURL == "" {
			baseURL = r.cfg.Providers.AnthropicBaseURL
		}
		return NewAnthropic(credential.APIKey, baseURL, r.timeout)
	default:
		if baseURL == "" {
			baseURL = r.cfg.Providers.OpenAIBaseURL
		}
		return NewOpenAI(credential.APIKey, baseURL, r.timeout)
	}
}
