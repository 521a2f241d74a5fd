package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/torii/pkg/config/provider"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func loadConfig(t *testing.T, content string) (*Config, error) {
	t.Helper()
	p, err := provider.NewFileProvider(writeConfig(t, content))
	require.NoError(t, err)
	return NewLoader(p).Load(context.Background())
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := loadConfig(t, `
providers:
  openai:
    api_key: sk-test
`)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Agent.MaxIterations)
	assert.Equal(t, 120, cfg.Agent.MaxWallTimeSeconds)
	assert.Equal(t, 60, cfg.Agent.EventIdleSeconds)
	assert.Equal(t, "gpt-4.1", cfg.Enhancement.Model)
	assert.Equal(t, DefaultModels("openai"), cfg.Providers["openai"].Models)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_TORII_KEY", "sk-from-env")

	cfg, err := loadConfig(t, `
providers:
  openai:
    api_key: ${TEST_TORII_KEY}
  anthropic:
    api_key: ${TEST_TORII_MISSING:-sk-default}
`)
	require.NoError(t, err)

	assert.Equal(t, "sk-from-env", cfg.Providers["openai"].APIKey)
	assert.Equal(t, "sk-default", cfg.Providers["anthropic"].APIKey)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	_, err := loadConfig(t, `
providers:
  cohere:
    api_key: key
`)
	assert.ErrorContains(t, err, "unknown provider")
}

func TestLoadRejectsMissingAPIKey(t *testing.T) {
	_, err := loadConfig(t, `
providers:
  openai:
    host: https://example.com
`)
	assert.ErrorContains(t, err, "api_key")
}

func TestLoadRejectsBadEnvironment(t *testing.T) {
	_, err := loadConfig(t, `
environment: staging
`)
	assert.ErrorContains(t, err, "environment")
}

func TestLoadRejectsBadRateLimitWindow(t *testing.T) {
	_, err := loadConfig(t, `
rate_limit:
  enabled: true
  rules:
    - window: fortnight
      limit: 5
`)
	assert.ErrorContains(t, err, "window")
}

func TestLoadParsesJSON(t *testing.T) {
	cfg, err := loadConfig(t, `{"server": {"port": 9090}}`)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestFromEnvPicksUpProviderKeys(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-abc")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("TORII_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := FromEnv()

	assert.True(t, cfg.HasProvider("openai"))
	assert.False(t, cfg.HasProvider("anthropic"))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestOllamaNeedsNoAPIKey(t *testing.T) {
	cfg, err := loadConfig(t, `
providers:
  ollama:
    host: http://localhost:11434
    models: [llama3]
`)
	require.NoError(t, err)
	assert.True(t, cfg.HasProvider("ollama"))

	// With no explicit enhancement provider the only configured provider
	// serves prompt enhancement too.
	assert.Equal(t, "ollama", cfg.Enhancement.Provider)
	assert.Equal(t, "llama3", cfg.Enhancement.Model)
}

func TestLoadRejectsUnconfiguredEnhancementProvider(t *testing.T) {
	_, err := loadConfig(t, `
providers:
  ollama:
    host: http://localhost:11434
    models: [llama3]
enhancement:
  provider: openai
`)
	assert.ErrorContains(t, err, "enhancement provider")
}
