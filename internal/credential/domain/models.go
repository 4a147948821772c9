package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ProviderCredential is a tenant-supplied upstream API key. When an org has
// an active credential for a provider, gateway calls for that org go out
// under the tenant's own key instead of the platform key.
type ProviderCredential struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"column:org_id;not null;uniqueIndex:ux_provider_credentials_org_provider,priority:1"`
	Provider  string       `gorm:"type:text;not null;uniqueIndex:ux_provider_credentials_org_provider,priority:2"`
	APIKey    string       `gorm:"column:api_key;type:text;not null"`
	BaseURL   string       `gorm:"column:base_url;type:text"`
	IsActive  bool         `gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ProviderCredential) TableName() string { return "provider_credentials" }

// MaskedKey returns the key with everything but the last four characters
// elided. Read paths never expose the full secret.
func (c *ProviderCredential) MaskedKey() string {
	const visible = 4
	if len(c.APIKey) <= visible {
		return "****"
	}
	return "****" + c.APIKey[len(c.APIKey)-visible:]
}
