package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MohMaya/claude-glm-wrapper/internal/process"
	"github.com/MohMaya/claude-glm-wrapper/internal/providers"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	Long:  `Display the state of the ccx gateway and the model it is currently routing to.`,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	procMgr := process.NewManager(baseDir, logger)

	running := procMgr.IsRunning()

	color.Blue("Status for %s:", AppName)
	fmt.Printf("  %-15s: %v\n", "Running", running)
	fmt.Printf("  %-15s: %d\n", "PID", procMgr.ReadPID())
	fmt.Printf("  %-15s: %s\n", "Endpoint", gatewayURL(cfg))
	fmt.Printf("  %-15s: %d\n", "Providers", len(cfg.Providers))
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-15s: %d\n", "Sessions", procMgr.ReadRef())
	fmt.Printf("  %-15s: v%s\n", "Version", Version)

	if !running {
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), adminTimeout)
	defer cancel()

	var active providers.ProviderModel
	if err := newAdminClient(cfg).get(ctx, "/_status", &active); err != nil {
		color.Yellow("  Could not query gateway: %v", err)
		return nil
	}

	fmt.Printf("  %-15s: %s\n", "Active Model", active)

	return nil
}
