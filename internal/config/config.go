package config

import (
	"fmt"
	"time"
)

// Config represents the main Rudder configuration
type Config struct {
	// Providers
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	// Roles
	Roles RolesConfig `json:"roles" mapstructure:"roles"`

	// Fallback
	Fallback FallbackConfig `json:"fallback" mapstructure:"fallback"`

	// Executor
	Executor ExecutorConfig `json:"executor" mapstructure:"executor"`

	// Loop detection
	Loop LoopConfig `json:"loop" mapstructure:"loop"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
}

// ProvidersConfig holds upstream provider credentials and model names
type ProvidersConfig struct {
	Primary   string         `json:"primary" mapstructure:"primary"` // gemini, openai, groq, anthropic
	Gemini    ProviderConfig `json:"gemini" mapstructure:"gemini"`
	OpenAI    ProviderConfig `json:"openai" mapstructure:"openai"`
	Groq      ProviderConfig `json:"groq" mapstructure:"groq"`
	Anthropic ProviderConfig `json:"anthropic" mapstructure:"anthropic"`
}

// ProviderConfig holds per-provider settings
type ProviderConfig struct {
	APIKey       string `json:"api_key" mapstructure:"api_key"`
	DefaultModel string `json:"default_model" mapstructure:"default_model"`
}

// RolesConfig binds each model role to its invocation settings
type RolesConfig struct {
	Router    RoleConfig `json:"router" mapstructure:"router"`
	Planner   RoleConfig `json:"planner" mapstructure:"planner"`
	Responder RoleConfig `json:"responder" mapstructure:"responder"`
}

// RoleConfig holds per-role model settings
type RoleConfig struct {
	Model        string        `json:"model" mapstructure:"model"`
	Temperature  float64       `json:"temperature" mapstructure:"temperature"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries   int           `json:"max_retries" mapstructure:"max_retries"`
	FeatureLevel string        `json:"feature_level" mapstructure:"feature_level"` // safe, balanced, full
}

// FallbackConfig controls fallback-provider selection
type FallbackConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Provider string `json:"provider" mapstructure:"provider"`
}

// ExecutorConfig holds plan-execute loop settings
type ExecutorConfig struct {
	MaxIterations  int  `json:"max_iterations" mapstructure:"max_iterations"`
	StrictMutation bool `json:"strict_mutation" mapstructure:"strict_mutation"`
	EmitPlan       bool `json:"emit_plan" mapstructure:"emit_plan"`
}

// LoopConfig holds loop-detection thresholds
type LoopConfig struct {
	Warning  int `json:"warning" mapstructure:"warning"`
	Critical int `json:"critical" mapstructure:"critical"`
	Global   int `json:"global" mapstructure:"global"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// MetricsConfig holds the metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Providers: ProvidersConfig{
			Primary:   "gemini",
			Gemini:    ProviderConfig{DefaultModel: "gemini-2.0-flash"},
			OpenAI:    ProviderConfig{DefaultModel: "gpt-4o-mini"},
			Groq:      ProviderConfig{DefaultModel: "llama-3.3-70b-versatile"},
			Anthropic: ProviderConfig{DefaultModel: "claude-3-5-haiku-latest"},
		},
		Roles: RolesConfig{
			Router:    RoleConfig{Temperature: 0.0, Timeout: 20 * time.Second, MaxRetries: 2, FeatureLevel: "safe"},
			Planner:   RoleConfig{Temperature: 0.1, Timeout: 45 * time.Second, MaxRetries: 2, FeatureLevel: "balanced"},
			Responder: RoleConfig{Temperature: 0.7, Timeout: 60 * time.Second, MaxRetries: 2, FeatureLevel: "balanced"},
		},
		Fallback: FallbackConfig{
			Enabled:  true,
			Provider: "openai",
		},
		Executor: ExecutorConfig{
			MaxIterations:  8,
			StrictMutation: true,
			EmitPlan:       false,
		},
		Loop: LoopConfig{
			Warning:  3,
			Critical: 5,
			Global:   12,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9091",
		},
	}
}

// CredentialFor reports whether credentials are present for the named provider
func (p ProvidersConfig) CredentialFor(provider string) bool {
	switch provider {
	case "gemini":
		return p.Gemini.APIKey != ""
	case "openai":
		return p.OpenAI.APIKey != ""
	case "groq":
		return p.Groq.APIKey != ""
	case "anthropic":
		return p.Anthropic.APIKey != ""
	default:
		return false
	}
}

// ModelFor returns the configured default model for the named provider
func (p ProvidersConfig) ModelFor(provider string) (string, error) {
	switch provider {
	case "gemini":
		return p.Gemini.DefaultModel, nil
	case "openai":
		return p.OpenAI.DefaultModel, nil
	case "groq":
		return p.Groq.DefaultModel, nil
	case "anthropic":
		return p.Anthropic.DefaultModel, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}
}
