package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vyperlens",
	Short: "A Vyper compilation, tracing and coverage toolkit",
	Long: "vyperlens resolves, selects compiler versions for and compiles Vyper projects, and maps execution traces " +
		"back to source",
}

// Execute runs the root command. An interrupt cancels the context of the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
