package cmd

import (
	"context"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MohMaya/claude-glm-wrapper/internal/process"
	"github.com/MohMaya/claude-glm-wrapper/internal/server"
	"github.com/MohMaya/claude-glm-wrapper/internal/tracing"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long:  `Start the ccx gateway in the foreground.`,
	RunE:  runStart,
}

func init() {
	startCmd.Flags().IntP("port", "p", 0, "listen port (overrides config and CCX_PORT)")
	startCmd.Flags().Bool("trace", false, "write OpenTelemetry spans to stderr")
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if trace, _ := cmd.Flags().GetBool("trace"); trace {
		shutdown, err := tracing.Init(AppName, os.Stderr, logger)
		if err != nil {
			return err
		}

		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("Tracer shutdown failed", "error", err)
			}
		}()
	}

	procMgr := process.NewManager(baseDir, logger)
	if procMgr.IsRunning() {
		color.Yellow("%s is already running (PID %d)", AppName, procMgr.ReadPID())
		return nil
	}

	color.Green("Starting %s v%s on %s", AppName, Version, gatewayURL(cfg))
	logger.Info("Starting gateway",
		"host", cfg.Host,
		"port", cfg.Port,
		"configured_providers", len(cfg.Providers),
		"config", cfgMgr.GetPath(),
	)

	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	srv := server.New(cfgMgr, logger)

	return srv.Start()
}
