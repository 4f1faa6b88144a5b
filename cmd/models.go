package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MohMaya/claude-glm-wrapper/internal/circuit"
	"github.com/MohMaya/claude-glm-wrapper/internal/providers"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List providers and models",
	Long: `List every provider and model the gateway can route to. When the gateway is
running its live view is shown, including plugins, availability and circuit state.`,
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().Bool("json", false, "print JSON")
}

// providerView mirrors the gateway's /_providers response.
type providerView struct {
	providers.ProviderInfo
	Available bool          `json:"available"`
	Circuit   circuit.State `json:"circuit"`
}

func runModels(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), adminTimeout)
	defer cancel()

	live := true

	var list []providerView
	if err := newAdminClient(cfg).get(ctx, "/_providers", &list); err != nil {
		logger.Debug("Gateway not reachable, listing builtin catalogue", "error", err)

		live = false
		list = staticProviders(func(p providers.ProviderKey) bool {
			_, err := cfg.Credentials(p)
			return err == nil
		})
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(list)
	}

	if !live {
		color.Yellow("Gateway not running; showing builtin providers only.")
	}

	for _, p := range list {
		status := color.GreenString("available")
		if !p.Available {
			status = color.RedString("no credentials")
		}

		if live && p.Circuit != circuit.StateClosed {
			status += color.YellowString(" (circuit %s)", p.Circuit)
		}

		fmt.Printf("%s [%s] %s\n", color.New(color.Bold).Sprint(p.DisplayName), p.ID, status)

		for _, m := range p.Models {
			marker := " "
			if m.Default {
				marker = "*"
			}

			fmt.Printf("  %s %s:%s", marker, p.ID, m.ID)

			if m.ContextWindow > 0 {
				fmt.Printf("  (%dk context)", m.ContextWindow/1000)
			}

			fmt.Println()
		}
	}

	return nil
}

func staticProviders(available func(providers.ProviderKey) bool) []providerView {
	registry := providers.NewRegistry(http.DefaultClient, logger)

	infos := registry.List()
	out := make([]providerView, 0, len(infos))

	for _, info := range infos {
		out = append(out, providerView{
			ProviderInfo: info,
			Available:    info.IsNative || available(info.ID),
			Circuit:      circuit.StateClosed,
		})
	}

	return out
}
