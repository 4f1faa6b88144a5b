package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MohMaya/claude-glm-wrapper/internal/config"
)

const (
	AppName = "ccx"
	Version = "0.3.0"

	// HomeEnv overrides the configuration directory.
	HomeEnv = "CCX_HOME"
)

var (
	logger  *slog.Logger
	baseDir string
	cfgMgr  *config.Manager
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	baseDir = os.Getenv(HomeEnv)
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Error("Failed to get home directory", "error", err)
			os.Exit(1)
		}

		baseDir = filepath.Join(homeDir, "."+AppName)
	}

	cfgMgr = config.NewManager(baseDir)
}

var rootCmd = &cobra.Command{
	Use:   AppName,
	Short: "ccx - multi-provider gateway for Claude Code",
	Long: `ccx accepts Anthropic Messages requests and streams them from GLM, Minimax,
OpenAI, Gemini, OpenRouter or Anthropic, with circuit breaking and fallback
between providers.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		setupLogging(verbose, jsonLogs)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().Bool("json-logs", false, "write logs as JSON")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(codeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(circuitsCmd)
}

func setupLogging(verbose, jsonLogs bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if jsonLogs {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// loadConfig loads the config file, falling back to defaults plus the
// environment when none exists.
func loadConfig() (*config.Config, error) {
	cfg, err := cfgMgr.LoadOrDefault()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	return cfg, nil
}

func gatewayURL(cfg *config.Config) string {
	return fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
}
