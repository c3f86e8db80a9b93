package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/devbridge/internal/buildtool"
	"github.com/conneroisu/devbridge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration",
	Long: `Print the configuration a bind would use as YAML: the run mode and
the build configuration resolved from the build tool, its config file or the
defaults, with overrides from .devbridge.yml applied.

Examples:
  devbridge config
  devbridge config --mode production`,
	RunE: runConfig,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
}

type resolvedOutput struct {
	Mode      config.Mode              `yaml:"mode"`
	WorkDir   string                   `yaml:"work_dir"`
	Verbosity string                   `yaml:"verbosity"`
	Build     buildtool.ResolvedConfig `yaml:"build"`
}

func runConfig(cmd *cobra.Command, args []string) error {
	b, _, err := loadBridge(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	resolved, err := b.BuildConfig(cmd.Context())
	if err != nil {
		return err
	}

	cfg := b.Config()
	workDir, err := cfg.ResolveWorkDir()
	if err != nil {
		return err
	}

	out := resolvedOutput{
		Mode:      cfg.Mode,
		WorkDir:   workDir,
		Verbosity: cfg.Verbosity.String(),
		Build:     resolved,
	}

	encoder := yaml.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent(2)
	if err := encoder.Encode(out); err != nil {
		return err
	}
	return encoder.Close()
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := config.DefaultFileName + ".yml"
	if len(args) > 0 {
		path = args[0]
	}

	fileConfig, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	if _, err := fileConfig.Options(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", path)
	return nil
}
