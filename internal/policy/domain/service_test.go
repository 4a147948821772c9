package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func intPtr(v int) *int { return &v }

func modelPolicy(models ...string) Policy {
	return Policy{AllowedModels: datatypes.NewJSONSlice(models)}
}

func TestMergeIntersectsAllowLists(t *testing.T) {
	orgPolicy := modelPolicy("gpt-4o", "gpt-4o-mini")
	groupPolicy := modelPolicy("gpt-4o-mini", "claude-3-haiku")

	effective := Merge([]Policy{orgPolicy, groupPolicy})

	require.Equal(t, []string{"gpt-4o-mini"}, effective.AllowedModels)
	require.True(t, effective.ModelAllowed("gpt-4o-mini"))
	require.False(t, effective.ModelAllowed("gpt-4o"))
	require.False(t, effective.ModelAllowed("claude-3-haiku"))
}

func TestMergeIsOrderIndependent(t *testing.T) {
	policies := []Policy{
		modelPolicy("gpt-4o", "gpt-4o-mini", "claude-3-haiku"),
		{MaxOutputTokens: intPtr(2048), RPMLimit: intPtr(60)},
		modelPolicy("gpt-4o-mini", "claude-3-haiku"),
		{MaxOutputTokens: intPtr(512), MaxInputTokens: intPtr(8000)},
	}

	forward := Merge(policies)

	reversed := make([]Policy, len(policies))
	for i := range policies {
		reversed[len(policies)-1-i] = policies[i]
	}
	backward := Merge(reversed)

	require.ElementsMatch(t, forward.AllowedModels, backward.AllowedModels)
	require.Equal(t, forward.MaxInputTokens, backward.MaxInputTokens)
	require.Equal(t, forward.MaxOutputTokens, backward.MaxOutputTokens)
	require.Equal(t, forward.RPMLimit, backward.RPMLimit)
	require.Equal(t, 512, *forward.MaxOutputTokens)
	require.Equal(t, 8000, *forward.MaxInputTokens)
	require.Equal(t, 60, *forward.RPMLimit)
}

func TestMergeUnrestrictedIsIdentity(t *testing.T) {
	effective := Merge([]Policy{
		{MaxOutputTokens: intPtr(1024)},
		{RPMLimit: intPtr(30)},
	})

	require.Nil(t, effective.AllowedModels)
	require.True(t, effective.ModelAllowed("anything-at-all"))
}

func TestMergeEmptyIntersectionAllowsNothing(t *testing.T) {
	effective := Merge([]Policy{
		modelPolicy("gpt-4o"),
		modelPolicy("claude-3-haiku"),
	})

	require.NotNil(t, effective.AllowedModels)
	require.Empty(t, effective.AllowedModels)
	require.False(t, effective.ModelAllowed("gpt-4o"))
	require.False(t, effective.ModelAllowed("claude-3-haiku"))
}

func TestMergeTakesMinimumLimits(t *testing.T) {
	effective := Merge([]Policy{
		{MaxInputTokens: intPtr(16000), MaxOutputTokens: intPtr(4096)},
		{MaxInputTokens: intPtr(4000)},
		{MaxOutputTokens: intPtr(1024), RPMLimit: intPtr(120)},
	})

	require.Equal(t, 4000, *effective.MaxInputTokens)
	require.Equal(t, 1024, *effective.MaxOutputTokens)
	require.Equal(t, 120, *effective.RPMLimit)
}

func TestEnforceRejectsDisallowedModel(t *testing.T) {
	effective := Merge([]Policy{modelPolicy("gpt-4o-mini")})

	_, err := Enforce(effective, "gpt-4o", 256)
	require.Error(t, err)
	require.True(t, IsViolation(err))
}

func TestEnforceClampsOutputTokens(t *testing.T) {
	effective := EffectivePolicy{MaxOutputTokens: intPtr(512)}

	clamped, err := Enforce(effective, "gpt-4o", 4096)
	require.NoError(t, err)
	require.Equal(t, 512, clamped)

	untouched, err := Enforce(effective, "gpt-4o", 128)
	require.NoError(t, err)
	require.Equal(t, 128, untouched)
}

func TestEnforceUnboundedOutputPassesThrough(t *testing.T) {
	clamped, err := Enforce(EffectivePolicy{}, "gpt-4o", 9999)
	require.NoError(t, err)
	require.Equal(t, 9999, clamped)
}
