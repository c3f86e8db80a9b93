// Package cmd provides the devbridge command-line interface.
//
// Configuration is read, highest priority first, from command-line flags,
// DEVBRIDGE_ environment variables (DEVBRIDGE_SERVER_PORT, DEVBRIDGE_MODE,
// ...) and a .devbridge.yml file. The file is looked up in the current
// directory unless --config or DEVBRIDGE_CONFIG_FILE names another one.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/devbridge/internal/config"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "devbridge",
	Short: "Serve a Vite front-end from a Go application",
	Long: `devbridge serves a Vite project behind a Go host application.

In development it runs the Vite dev server, forwards asset requests to it and
relays hot-reload traffic over the host's port. In production it serves the
compiled output directory. Unmatched routes fall back to the closest
index.html so client-side routing works in both modes.

Quick Start:
  devbridge serve                 Serve the project in the current directory
  devbridge serve --mode production
  devbridge build                 Compile the project
  devbridge config                Show the resolved build configuration`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .devbridge.yml, can also use DEVBRIDGE_CONFIG_FILE env var)")
	flags.String("mode", "", "run mode (development, production); defaults to production when NODE_ENV=production")
	flags.String("work-dir", "", "project directory (default is the current directory)")
	flags.String("verbosity", "", "log verbosity (silent, errors-only, normal)")
	flags.String("log-format", "text", "log format (text, json)")
	addFlagValidation(flags, "mode", validateMode)
	addFlagValidation(flags, "verbosity", validateVerbosity)

	_ = viper.BindPFlag("mode", flags.Lookup("mode"))
	_ = viper.BindPFlag("work_dir", flags.Lookup("work-dir"))
	_ = viper.BindPFlag("verbosity", flags.Lookup("verbosity"))
	_ = viper.BindPFlag("log_format", flags.Lookup("log-format"))
}

// initConfig points Viper at the config file and the environment.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(config.EnvPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(config.DefaultFileName)
	}

	config.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	// A missing or unreadable file leaves flags, environment and defaults.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
