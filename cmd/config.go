package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MohMaya/claude-glm-wrapper/internal/config"
	"github.com/MohMaya/claude-glm-wrapper/internal/providers"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the ccx gateway configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an example configuration",
	Long:  `Write a commented config.yaml template to the configuration directory.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration with secrets masked.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configInitCmd.Flags().BoolP("force", "f", false, "overwrite an existing configuration")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	force, _ := cmd.Flags().GetBool("force")

	if cfgMgr.Exists() && !force {
		color.Yellow("Configuration already exists at %s (use --force to overwrite)", cfgMgr.GetPath())
		return nil
	}

	if err := cfgMgr.CreateExampleYAML(); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}

	color.Green("Example configuration written to: %s", cfgMgr.GetPath())
	color.Cyan("API keys can also go in %s, e.g. ZAI_API_KEY=...", cfgMgr.EnvPath())
	color.Cyan("Start the gateway with: %s start", AppName)

	return nil
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found, using defaults. Run '%s config init' to create one.", AppName)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-15s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-15s: %s\n", "Plugin Dir", cfgMgr.PluginDir(cfg))

	if target := cfg.DefaultTarget(); target != nil {
		fmt.Printf("  %-15s: %s\n", "Default Model", target)
	}

	if cfg.RateLimit.Disabled {
		fmt.Printf("  %-15s: disabled\n", "Rate Limit")
	} else {
		fmt.Printf("  %-15s: %d/min (burst %d)\n", "Rate Limit", cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	}

	fmt.Printf("  %-15s: %d failures, %s cooldown\n", "Circuit", cfg.Circuit.Threshold, cfg.Circuit.CooldownDuration())

	fmt.Println("\nProviders:")

	for _, p := range providers.BuiltinKeys {
		creds, err := cfg.Credentials(p)

		key := "(not set)"
		if err == nil {
			key = maskString(creds.APIKey)
		} else {
			creds.BaseURL = config.DefaultProviderURLs[p]
		}

		fmt.Printf("  - %s\n", p)
		fmt.Printf("    Base URL: %s\n", creds.BaseURL)
		fmt.Printf("    API Key: %s\n", key)

		if entry, ok := cfg.Provider(string(p)); ok && len(entry.ModelWhitelist) > 0 {
			fmt.Printf("    Models: %v\n", entry.ModelWhitelist)
		}
	}

	return nil
}

func runConfigValidate(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			color.Red("Configuration validation failed:")

			for _, p := range verr.Problems {
				fmt.Printf("  - %s\n", p)
			}

			return errors.New("configuration validation failed")
		}

		return err
	}

	for _, warning := range configWarnings(cfg) {
		color.Yellow("Warning: %s", warning)
	}

	color.Green("Configuration is valid!")

	return nil
}

// configWarnings reports settings that are valid but probably not intended.
func configWarnings(cfg *config.Config) []string {
	var warnings []string

	for _, p := range cfg.Providers {
		key := providers.ProviderKey(strings.ToLower(p.Name))

		if p.APIBase != "" && key.IsBuiltin() {
			if detected, err := providers.DetectProvider(p.APIBase); err == nil && detected != key {
				warnings = append(warnings, fmt.Sprintf("provider %s points at a %s endpoint (%s)", p.Name, detected, p.APIBase))
			}
		}

		if key.IsBuiltin() {
			if _, err := cfg.Credentials(key); err != nil {
				warnings = append(warnings, err.Error())
			}
		}
	}

	if target := cfg.DefaultTarget(); target != nil && !target.Provider.IsBuiltin() {
		warnings = append(warnings, fmt.Sprintf("default provider %s is not builtin and must come from a plugin", target.Provider))
	}

	return warnings
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}

	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}

	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
