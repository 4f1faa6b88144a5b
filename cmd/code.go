package cmd

import (
	"os"
	"os/exec"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MohMaya/claude-glm-wrapper/internal/process"
)

var codeCmd = &cobra.Command{
	Use:   "code [args...]",
	Short: "Run Claude Code through the gateway",
	Long:  `Start the gateway if needed and run Claude Code with the gateway as its API endpoint.`,
	Args:  cobra.ArbitraryArgs,
	RunE:  runCode,
	// Everything after `code` belongs to claude.
	DisableFlagParsing: true,
}

func runCode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	procMgr := process.NewManager(baseDir, logger)

	startedByUs, err := procMgr.StartServiceIfNeeded(cmd.Context(), gatewayURL(cfg)+"/healthz")
	if err != nil {
		return err
	}

	env := filterEnv(os.Environ(), "ANTHROPIC_AUTH_TOKEN", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL")

	if cfg.APIKey != "" {
		env = append(env, "ANTHROPIC_API_KEY="+cfg.APIKey)
	} else {
		env = append(env, "ANTHROPIC_AUTH_TOKEN=ccx")
	}

	env = append(env,
		"ANTHROPIC_BASE_URL="+gatewayURL(cfg),
		"API_TIMEOUT_MS=600000",
	)

	procMgr.IncrementRef()
	defer func() {
		procMgr.DecrementRef()

		if startedByUs && procMgr.ReadRef() == 0 {
			color.Yellow("No more active sessions, stopping auto-started gateway...")

			if err := procMgr.Stop(); err != nil {
				logger.Warn("Failed to stop gateway", "error", err)
			}
		}
	}()

	claudeCmd := exec.Command("claude", args...)
	claudeCmd.Env = env
	claudeCmd.Stdin = os.Stdin
	claudeCmd.Stdout = os.Stdout
	claudeCmd.Stderr = os.Stderr

	return claudeCmd.Run()
}

func filterEnv(env []string, keys ...string) []string {
	filtered := make([]string, 0, len(env))

outer:
	for _, e := range env {
		for _, key := range keys {
			if strings.HasPrefix(e, key+"=") {
				continue outer
			}
		}

		filtered = append(filtered, e)
	}

	return filtered
}
