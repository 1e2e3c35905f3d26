package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/fathoni/rudder/internal/config"
	"github.com/fathoni/rudder/internal/logger"
	"github.com/fathoni/rudder/internal/observability"
	"github.com/fathoni/rudder/pkg/commandqueue"
	"github.com/fathoni/rudder/pkg/coretools"
	"github.com/fathoni/rudder/pkg/executor"
	"github.com/fathoni/rudder/pkg/fallback"
	"github.com/fathoni/rudder/pkg/provider"
	"github.com/fathoni/rudder/pkg/quota"
	"github.com/fathoni/rudder/pkg/tools"
)

// app holds the wired runtime shared by the chat and status commands
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	registry *quota.Registry
	sweeper  *quota.Sweeper
	tools    *tools.Registry
	exec     *executor.Executor
	queue    *commandqueue.CommandQueue
	watcher  *config.Watcher

	metricsServer *http.Server
}

// buildApp assembles the full runtime from configuration: quota registry,
// fallback-resolved provider bindings per role, the core toolset, the
// executor, and the per-conversation command queue.
func buildApp() (*app, error) {
	cfg, cfgPath, err := loadConfigWithPath()
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	registry := quota.NewRegistry(quota.WithLogger(log.Component("quota")))
	sweeper := quota.NewSweeper(registry, "@every 1m", log.Component("sweeper"))
	if err := sweeper.Start(); err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to start quota sweeper: %w", err)
	}

	planner, responder, router, err := buildRoleCallers(cfg, registry, log.Component("provider"))
	if err != nil {
		sweeper.Stop()
		log.Close()
		return nil, err
	}

	toolRegistry := tools.NewRegistry()
	if err := coretools.RegisterCoreTools(toolRegistry, coretools.Options{}); err != nil {
		sweeper.Stop()
		log.Close()
		return nil, err
	}

	emitPlan := cfg.Executor.EmitPlan || showPlan
	opts := []executor.Option{}
	if router != nil {
		opts = append(opts, executor.WithRouter(router))
	}
	if emitPlan {
		opts = append(opts, executor.WithEventSink(printPlan))
	}
	exec, err := executor.New(executor.Config{
		MaxIterations:  cfg.Executor.MaxIterations,
		StrictMutation: cfg.Executor.StrictMutation,
		EmitPlan:       emitPlan,
		LoopWarning:    cfg.Loop.Warning,
		LoopCritical:   cfg.Loop.Critical,
		LoopGlobal:     cfg.Loop.Global,
	}, planner, responder, toolRegistry, log.Zerolog(), opts...)
	if err != nil {
		sweeper.Stop()
		log.Close()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		registry: registry,
		sweeper:  sweeper,
		tools:    toolRegistry,
		exec:     exec,
		queue:    commandqueue.New(),
	}

	if cfg.Metrics.Enabled {
		a.startMetricsServer(cfg.Metrics.Addr, log.Component("metrics"))
	}

	a.watchThresholds(cfgPath, log.Component("config"))

	return a, nil
}

func loadConfig() (*config.Config, error) {
	cfg, _, err := loadConfigWithPath()
	return cfg, err
}

func loadConfigWithPath() (*config.Config, string, error) {
	path := cfgFile
	if path == "" {
		defaultPath, err := config.DefaultPath()
		if err != nil {
			return nil, "", err
		}
		path = defaultPath
	}

	cfg, err := config.NewLoader(path).Load()
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	return cfg, path, nil
}

// watchThresholds hot-reloads the loop-detection thresholds when the config
// file changes. Watcher setup failure is logged, never fatal.
func (a *app) watchThresholds(cfgPath string, log zerolog.Logger) {
	watcher, err := config.NewWatcher(cfgPath, func(newCfg *config.Config) {
		if err := config.Validate(newCfg); err != nil {
			log.Warn().Err(err).Msg("Ignoring invalid config reload")
			return
		}
		a.exec.UpdateLoopThresholds(newCfg.Loop.Warning, newCfg.Loop.Critical, newCfg.Loop.Global)
		log.Info().
			Int("warning", newCfg.Loop.Warning).
			Int("critical", newCfg.Loop.Critical).
			Int("global", newCfg.Loop.Global).
			Msg("Loop thresholds reloaded")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable")
		return
	}
	if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Config watcher failed to start")
		return
	}
	a.watcher = watcher
}

// buildRoleCallers resolves which provider serves each role, builds one
// binding per provider, and pairs primary bindings with the fallback.
func buildRoleCallers(cfg *config.Config, registry *quota.Registry, log zerolog.Logger) (planner, responder, router provider.RoleCaller, err error) {
	creds := credentialFlags(cfg.Providers)

	roles := fallback.ResolveFallbackRoleProviders(cfg.Providers.Primary, creds)
	if roles == nil {
		return nil, nil, nil, fmt.Errorf("no credentials for primary provider %s", cfg.Providers.Primary)
	}

	fallbackProvider, reason := fallback.ResolveFallbackProvider(
		cfg.Fallback.Enabled, cfg.Fallback.Provider, cfg.Providers.Primary, creds)
	if reason != "" {
		log.Warn().Str("reason", reason).Str("provider", fallbackProvider).Msg("Fallback provider substituted")
	}

	factory := &provider.Factory{Registry: registry}
	bindings := map[string]*provider.Binding{}

	binding := func(name string) (*provider.Binding, error) {
		if name == "" {
			return nil, nil
		}
		if b, ok := bindings[name]; ok {
			return b, nil
		}
		adapter, err := factory.New(name, provider.Credentials{APIKey: apiKeyFor(cfg.Providers, name)})
		if err != nil {
			return nil, err
		}
		configs, err := roleConfigs(cfg, name)
		if err != nil {
			return nil, err
		}
		b, err := provider.NewBinding(adapter, configs)
		if err != nil {
			return nil, err
		}
		bindings[name] = b
		return b, nil
	}

	fallbackBinding, err := binding(fallbackProvider)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fallback provider %s: %w", fallbackProvider, err)
	}

	caller := func(primaryName string) (provider.RoleCaller, error) {
		primary, err := binding(primaryName)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", primaryName, err)
		}
		fb := fallbackBinding
		if fallbackProvider == primaryName {
			fb = nil
		}
		return provider.NewFailoverCaller(primary, fb, registry, log), nil
	}

	if planner, err = caller(roles.Planner); err != nil {
		return nil, nil, nil, err
	}
	if responder, err = caller(roles.Responder); err != nil {
		return nil, nil, nil, err
	}
	if router, err = caller(roles.Router); err != nil {
		return nil, nil, nil, err
	}
	return planner, responder, router, nil
}

// roleConfigs builds the per-role model bindings for one provider. A role
// without an explicit model uses the provider's default model.
func roleConfigs(cfg *config.Config, providerName string) (map[provider.Role]provider.RoleModelConfig, error) {
	defaultModel, err := cfg.Providers.ModelFor(providerName)
	if err != nil {
		return nil, err
	}

	build := func(rc config.RoleConfig, schema map[string]interface{}) provider.RoleModelConfig {
		model := rc.Model
		if model == "" {
			model = defaultModel
		}
		return provider.RoleModelConfig{
			Model:        model,
			Temperature:  rc.Temperature,
			Timeout:      rc.Timeout,
			MaxRetries:   rc.MaxRetries,
			FeatureLevel: provider.FeatureLevel(rc.FeatureLevel),
			Schema:       schema,
		}
	}

	return map[provider.Role]provider.RoleModelConfig{
		provider.RoleRouter:    build(cfg.Roles.Router, executor.IntentSchema()),
		provider.RolePlanner:   build(cfg.Roles.Planner, executor.PlanSchema()),
		provider.RoleResponder: build(cfg.Roles.Responder, nil),
	}, nil
}

func credentialFlags(p config.ProvidersConfig) fallback.CredentialFlags {
	return fallback.CredentialFlags{
		Gemini:    p.CredentialFor("gemini"),
		OpenAI:    p.CredentialFor("openai"),
		Groq:      p.CredentialFor("groq"),
		Anthropic: p.CredentialFor("anthropic"),
	}
}

func apiKeyFor(p config.ProvidersConfig, name string) string {
	switch name {
	case "gemini":
		return p.Gemini.APIKey
	case "openai":
		return p.OpenAI.APIKey
	case "groq":
		return p.Groq.APIKey
	case "anthropic":
		return p.Anthropic.APIKey
	default:
		return ""
	}
}

// printPlan echoes each emitted plan to stdout for the --show-plan flag
func printPlan(ev executor.Event) {
	if ev.Type != "plan" || ev.Plan == nil {
		return
	}
	fmt.Printf("plan (intent=%s, confidence=%s):\n", ev.Plan.DetectedIntent, ev.Plan.IntentConfidence)
	for i, step := range ev.Plan.Steps {
		if step.Kind == executor.StepTool {
			fmt.Printf("  %d. %s %v\n", i+1, step.Tool, step.Args)
		} else {
			fmt.Printf("  %d. respond\n", i+1)
		}
	}
}

func (a *app) startMetricsServer(addr string, log zerolog.Logger) {
	observability.EnsureRegistered()
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())

	a.metricsServer = &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Info().Str("addr", addr).Msg("Metrics server listening")
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
}

// Close shuts the runtime down in reverse dependency order
func (a *app) Close() {
	if a.watcher != nil {
		_ = a.watcher.Stop()
	}
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.metricsServer.Shutdown(ctx)
		cancel()
	}
	if a.queue != nil {
		a.queue.WaitForActive(10 * time.Second)
		_ = a.queue.Close()
	}
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.log != nil {
		_ = a.log.Close()
	}
}
