package cmd

import (
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/devbridge/internal/buildtool"
	"github.com/conneroisu/devbridge/internal/config"
	"github.com/conneroisu/devbridge/internal/document"
	"github.com/conneroisu/devbridge/internal/logging"
	"github.com/conneroisu/devbridge/pkg/bridge"
)

// newTool builds the tool commands drive. Nil selects Vite.
var newTool func() buildtool.Tool

// loadBridge creates a bridge configured from flags, environment and the
// config file. Logs are written to logOutput.
func loadBridge(logOutput io.Writer) (*bridge.Bridge, *config.FileConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	opts, err := cfg.Options()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.InjectHead != "" {
		opts.Transformer = config.Set(document.HeadInjector(cfg.InjectHead))
	}

	bridgeOpts := []bridge.Option{
		bridge.WithLogFormat(viper.GetString("log_format")),
		bridge.WithLogOutput(logOutput),
	}
	if newTool != nil {
		bridgeOpts = append(bridgeOpts, bridge.WithTool(newTool()))
	}

	b := bridge.New(bridgeOpts...)
	b.Configure(opts)
	return b, cfg, nil
}

// addFlagValidation rejects values validator refuses at parse time.
func addFlagValidation(flags *pflag.FlagSet, name string, validator func(string) error) {
	flag := flags.Lookup(name)
	if flag == nil {
		return
	}
	flag.Value = &validatingValue{Value: flag.Value, validator: validator}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if err := v.validator(val); err != nil {
		return err
	}
	return v.Value.Set(val)
}

func validatePort(s string) error {
	port, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", s)
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}
	return nil
}

func validateMode(s string) error {
	_, err := config.ParseMode(s)
	return err
}

func validateVerbosity(s string) error {
	_, err := logging.ParseVerbosity(s)
	return err
}

func validatePattern(s string) error {
	if s == "" {
		return nil
	}
	_, err := regexp.Compile(s)
	return err
}
