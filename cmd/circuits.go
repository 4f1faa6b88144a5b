package cmd

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MohMaya/claude-glm-wrapper/internal/circuit"
)

var circuitsCmd = &cobra.Command{
	Use:   "circuits",
	Short: "Show circuit breaker state",
	Long:  `Show the circuit breaker state of every provider of the running gateway.`,
	RunE:  runCircuits,
}

var circuitsResetCmd = &cobra.Command{
	Use:   "reset [provider]",
	Short: "Close circuits",
	Long:  `Close the circuit of one provider, or of every provider when none is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCircuitsReset,
}

func init() {
	circuitsCmd.AddCommand(circuitsResetCmd)
}

func runCircuits(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), adminTimeout)
	defer cancel()

	var states []circuit.Snapshot
	if err := newAdminClient(cfg).get(ctx, "/_circuits", &states); err != nil {
		return err
	}

	printCircuits(states)

	return nil
}

func runCircuitsReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), adminTimeout)
	defer cancel()

	path := "/_circuits/reset"
	if len(args) == 1 {
		path += "?provider=" + url.QueryEscape(args[0])
	}

	if err := newAdminClient(cfg).post(ctx, path, nil); err != nil {
		return err
	}

	if len(args) == 1 {
		color.Green("Circuit for %s closed", args[0])
	} else {
		color.Green("All circuits closed")
	}

	return nil
}

func printCircuits(states []circuit.Snapshot) {
	fmt.Printf("%-12s %-10s %-9s %s\n", "PROVIDER", "STATE", "FAILURES", "LAST FAILURE")

	for _, s := range states {
		state := string(s.State)

		switch s.State {
		case circuit.StateOpen:
			state = color.RedString("%-10s", state)
		case circuit.StateHalfOpen:
			state = color.YellowString("%-10s", state)
		default:
			state = color.GreenString("%-10s", state)
		}

		last := "-"
		if s.LastFailureAt != nil {
			last = s.LastFailureAt.Local().Format(time.DateTime)
		}

		fmt.Printf("%-12s %s %-9d %s\n", s.Provider, state, s.ConsecutiveFailures, last)
	}
}
