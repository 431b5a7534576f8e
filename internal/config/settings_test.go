package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettingsAreValid(t *testing.T) {
	require.NoError(t, DefaultSettings().Validate())
}

func TestValidate(t *testing.T) {
	t.Run("overall weights summing to 0.9 are rejected", func(t *testing.T) {
		s := DefaultSettings()
		s.ContentQualityWeight = 0.1
		err := s.Validate()
		require.ErrorIs(t, err, ErrInvalidSettings)
		assert.Contains(t, err.Error(), "overall score weights must sum to 1.0 (currently 0.90)")
	})

	t.Run("seo ratios must sum to one", func(t *testing.T) {
		s := DefaultSettings()
		s.SEOAIRatio = 0.5
		err := s.Validate()
		require.ErrorIs(t, err, ErrInvalidSettings)
		assert.Contains(t, err.Error(), "SEO score ratios")
	})

	t.Run("drift within tolerance is accepted", func(t *testing.T) {
		s := DefaultSettings()
		s.SEOWeight = 0.505
		assert.NoError(t, s.Validate())
	})

	t.Run("chain entries need ids", func(t *testing.T) {
		s := DefaultSettings()
		s.ProviderChain = []ChainEntry{{ProviderID: "openai"}}
		assert.ErrorIs(t, s.Validate(), ErrInvalidSettings)
	})

	t.Run("negative retries rejected", func(t *testing.T) {
		s := DefaultSettings()
		s.RateLimitMaxRetries = -1
		assert.ErrorIs(t, s.Validate(), ErrInvalidSettings)
	})
}

func TestParseSettings(t *testing.T) {
	raw := []byte(`
ai_enabled: true
seo_weight: 0.4
accessibility_weight: 0.4
content_quality_weight: 0.2
default_providers:
  chat_with_complex_json:
    provider_id: openai
    model_id: gpt-4o-mini
provider_fallback_chain:
  - provider_id: anthropic
    model_id: claude
    weight: 10
  - provider_id: openai
    model_id: gpt-4o
    weight: 0
    enabled: false
`)
	s, err := ParseSettings(raw)
	require.NoError(t, err)
	assert.True(t, s.AIEnabled)
	assert.Equal(t, 0.4, s.SEOWeight)
	// untouched keys keep their defaults
	assert.Equal(t, 0.7, s.SEODeterministicRatio)
	assert.Equal(t, 2, s.RateLimitMaxRetries)

	chain := s.Chain()
	require.Len(t, chain, 2)
	assert.True(t, chain[0].Enabled)
	assert.False(t, chain[1].Enabled)

	ref, ok := s.DefaultProvider(OperationChatJSON)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", ref.ModelID)
	_, ok = s.DefaultProvider("embeddings")
	assert.False(t, ok)
}

func TestParseSettingsRejectsInvalidWeights(t *testing.T) {
	_, err := ParseSettings([]byte("seo_weight: 0.4\n"))
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	st := NewStore(DefaultSettings(), path)

	t.Run("invalid update leaves snapshot unchanged", func(t *testing.T) {
		bad := DefaultSettings()
		bad.ContentQualityWeight = 0.1
		require.ErrorIs(t, st.Update(bad), ErrInvalidSettings)
		assert.Equal(t, 0.2, st.Get().ContentQualityWeight)
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("valid update is persisted and reloadable", func(t *testing.T) {
		s := DefaultSettings()
		s.AIEnabled = true
		s.ProviderChain = []ChainEntry{{ProviderID: "openai", ModelID: "gpt-4o", Weight: 1}}
		require.NoError(t, st.Update(s))
		assert.True(t, st.Get().AIEnabled)

		loaded, err := LoadSettings(path)
		require.NoError(t, err)
		assert.True(t, loaded.AIEnabled)
		require.Len(t, loaded.Chain(), 1)
		assert.True(t, loaded.Chain()[0].Enabled)
	})

	t.Run("snapshots are copies", func(t *testing.T) {
		snap := st.Get()
		snap.ProviderChain[0].ModelID = "mutated"
		assert.Equal(t, "gpt-4o", st.Get().ProviderChain[0].ModelID)
	})
}

func TestParseProviders(t *testing.T) {
	got, err := parseProviders("openai=https://api.openai.com/v1|sk-1, local=http://localhost:1234/v1")
	require.NoError(t, err)
	assert.Equal(t, ProviderEndpoint{BaseURL: "https://api.openai.com/v1", APIKey: "sk-1"}, got["openai"])
	assert.Equal(t, "", got["local"].APIKey)

	_, err = parseProviders("broken")
	assert.Error(t, err)
}
