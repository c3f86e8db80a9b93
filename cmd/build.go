package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Compile the project into its output directory",
	Long: `Run the build tool's production build for the project.

Examples:
  devbridge build                      # Build the project in the current directory
  devbridge build --work-dir ./web     # Build another project`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	b, _, err := loadBridge(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	start := time.Now()
	if err := b.TriggerBuild(cmd.Context()); err != nil {
		return err
	}

	resolved, err := b.BuildConfig(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Built %s in %s\n", resolved.OutDir, time.Since(start).Round(time.Millisecond))
	return nil
}
