package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rudder.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.Providers.Primary)
	assert.True(t, cfg.Fallback.Enabled)
	assert.Equal(t, 8, cfg.Executor.MaxIterations)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"providers": {"primary": "openai"},
		"executor": {"max_iterations": 3, "emit_plan": true},
		"loop": {"warning": 2, "critical": 3, "global": 4}
	}`)

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Providers.Primary)
	assert.Equal(t, 3, cfg.Executor.MaxIterations)
	assert.True(t, cfg.Executor.EmitPlan)
	assert.Equal(t, 2, cfg.Loop.Warning)
	assert.Equal(t, 4, cfg.Loop.Global)
	// Untouched sections keep defaults
	assert.Equal(t, "openai", cfg.Fallback.Provider)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("RUDDER_PROVIDERS_OPENAI_API_KEY", "sk-test")
	t.Setenv("RUDDER_FALLBACK_PROVIDER", "groq")

	path := filepath.Join(t.TempDir(), "missing.json")
	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "groq", cfg.Fallback.Provider)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `{"providers": {"primary": "nonsense"}}`)

	_, err := NewLoader(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown primary provider")
}

func TestValidateLoopThresholdOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Loop.Warning = 10
	cfg.Loop.Critical = 3

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warning threshold")
}

func TestValidateRoleBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Roles.Planner.Temperature = 3.5

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temperature")
}

func TestCredentialFor(t *testing.T) {
	p := ProvidersConfig{
		OpenAI: ProviderConfig{APIKey: "sk"},
	}

	assert.True(t, p.CredentialFor("openai"))
	assert.False(t, p.CredentialFor("gemini"))
	assert.False(t, p.CredentialFor("unknown"))
}
