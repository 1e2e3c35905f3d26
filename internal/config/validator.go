package config

import (
	"fmt"
)

var knownProviders = map[string]bool{
	"gemini":    true,
	"openai":    true,
	"groq":      true,
	"anthropic": true,
}

var knownFeatureLevels = map[string]bool{
	"safe":     true,
	"balanced": true,
	"full":     true,
}

// Validate checks a configuration for structural errors
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if !knownProviders[cfg.Providers.Primary] {
		return fmt.Errorf("unknown primary provider: %q", cfg.Providers.Primary)
	}
	if cfg.Fallback.Enabled && !knownProviders[cfg.Fallback.Provider] {
		return fmt.Errorf("unknown fallback provider: %q", cfg.Fallback.Provider)
	}

	roles := map[string]RoleConfig{
		"router":    cfg.Roles.Router,
		"planner":   cfg.Roles.Planner,
		"responder": cfg.Roles.Responder,
	}
	for name, rc := range roles {
		if rc.Temperature < 0 || rc.Temperature > 2 {
			return fmt.Errorf("role %s: temperature must be between 0 and 2", name)
		}
		if rc.Timeout < 0 {
			return fmt.Errorf("role %s: timeout cannot be negative", name)
		}
		if rc.MaxRetries < 0 {
			return fmt.Errorf("role %s: max retries cannot be negative", name)
		}
		if rc.FeatureLevel != "" && !knownFeatureLevels[rc.FeatureLevel] {
			return fmt.Errorf("role %s: unknown feature level %q", name, rc.FeatureLevel)
		}
	}

	if cfg.Executor.MaxIterations <= 0 {
		return fmt.Errorf("executor max_iterations must be positive")
	}

	if cfg.Loop.Warning <= 0 || cfg.Loop.Critical <= 0 || cfg.Loop.Global <= 0 {
		return fmt.Errorf("loop thresholds must be positive")
	}
	if cfg.Loop.Warning > cfg.Loop.Critical {
		return fmt.Errorf("loop warning threshold cannot exceed critical threshold")
	}
	if cfg.Loop.Critical > cfg.Loop.Global {
		return fmt.Errorf("loop critical threshold cannot exceed global threshold")
	}

	return nil
}
