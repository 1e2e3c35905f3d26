package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// DefaultPath returns the default config file location
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".rudder", "rudder.json"), nil
}

// Load loads the configuration from file and environment
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	// Environment overrides, e.g. RUDDER_PROVIDERS_OPENAI_API_KEY
	v.SetEnvPrefix("RUDDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// bindEnvKeys registers the recognized environment keys so AutomaticEnv can
// resolve them even when no config file sets a value for the key.
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"providers.primary",
		"providers.gemini.api_key",
		"providers.gemini.default_model",
		"providers.openai.api_key",
		"providers.openai.default_model",
		"providers.groq.api_key",
		"providers.groq.default_model",
		"providers.anthropic.api_key",
		"providers.anthropic.default_model",
		"fallback.enabled",
		"fallback.provider",
		"executor.max_iterations",
		"executor.strict_mutation",
		"executor.emit_plan",
		"loop.warning",
		"loop.critical",
		"loop.global",
		"roles.router.feature_level",
		"roles.planner.feature_level",
		"roles.responder.feature_level",
		"logging.level",
		"metrics.enabled",
		"metrics.addr",
	}
	for _, key := range keys {
		// BindEnv only fails on an empty key
		_ = v.BindEnv(key)
	}
}
