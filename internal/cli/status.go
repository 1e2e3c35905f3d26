package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fathoni/rudder/pkg/fallback"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show provider resolution",
	Long: `Show which provider serves each model role under the current
configuration and which fallback applies.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	creds := credentialFlags(cfg.Providers)

	fmt.Printf("Primary provider: %s\n", cfg.Providers.Primary)
	for _, name := range []string{"gemini", "openai", "groq", "anthropic"} {
		state := "no key"
		if creds.Has(name) {
			state = "configured"
		}
		fmt.Printf("  %-10s %s\n", name, state)
	}

	roles := fallback.ResolveFallbackRoleProviders(cfg.Providers.Primary, creds)
	if roles == nil {
		fmt.Println("Roles: unresolved (primary provider has no credentials)")
		return nil
	}
	fmt.Printf("Roles: router=%s planner=%s responder=%s\n", roles.Router, roles.Planner, roles.Responder)

	fallbackProvider, reason := fallback.ResolveFallbackProvider(
		cfg.Fallback.Enabled, cfg.Fallback.Provider, cfg.Providers.Primary, creds)
	switch {
	case fallbackProvider == "" && reason == "":
		fmt.Println("Fallback: disabled")
	case fallbackProvider == "":
		fmt.Printf("Fallback: none available (%s)\n", reason)
	case reason != "":
		fmt.Printf("Fallback: %s (substituted, %s)\n", fallbackProvider, reason)
	default:
		fmt.Printf("Fallback: %s\n", fallbackProvider)
	}

	return nil
}
