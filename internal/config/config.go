// Package config holds the run configuration of a bridge and the file-based
// configuration of the devbridge CLI.
//
// Programmatic callers build partial updates with Options and Field; the CLI
// loads a .devbridge.yml through Viper, with DEVBRIDGE_ environment overrides,
// and converts it into the same Options.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/devbridge/internal/logging"
)

// EnvPrefix is the prefix of environment variables read by the CLI.
const EnvPrefix = "DEVBRIDGE"

// DefaultFileName is the config file looked up in the working directory.
const DefaultFileName = ".devbridge"

type FileConfig struct {
	Server     ServerConfig `yaml:"server" mapstructure:"server"`
	Build      BuildConfig  `yaml:"build" mapstructure:"build"`
	Mode       string       `yaml:"mode" mapstructure:"mode"`
	WorkDir    string       `yaml:"work_dir" mapstructure:"work_dir"`
	Verbosity  string       `yaml:"verbosity" mapstructure:"verbosity"`
	Ignore     string       `yaml:"ignore" mapstructure:"ignore"`
	InjectHead string       `yaml:"inject_head" mapstructure:"inject_head"`
	DevTimeout string       `yaml:"dev_server_timeout" mapstructure:"dev_server_timeout"`
}

type ServerConfig struct {
	Port int    `yaml:"port" mapstructure:"port"`
	Host string `yaml:"host" mapstructure:"host"`
}

type BuildConfig struct {
	ConfigFile string `yaml:"config_file" mapstructure:"config_file"`
	Root       string `yaml:"root" mapstructure:"root"`
	Base       string `yaml:"base" mapstructure:"base"`
	OutDir     string `yaml:"out_dir" mapstructure:"out_dir"`
}

// SetDefaults registers the defaults of every file setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("verbosity", logging.VerbosityNormal.String())
	v.SetDefault("dev_server_timeout", DefaultDevServerTimeout.String())
}

// Load unmarshals the settings held by the global Viper instance.
func Load() (*FileConfig, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFile reads a single config file with environment overrides applied.
func LoadFile(path string) (*FileConfig, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return LoadFrom(v)
}

// LoadFrom unmarshals and validates the settings held by v.
func LoadFrom(v *viper.Viper) (*FileConfig, error) {
	var config FileConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// AutomaticEnv values are only visible through Get, not Unmarshal.
	if v.IsSet("mode") {
		config.Mode = v.GetString("mode")
	}
	if v.IsSet("server.port") {
		config.Server.Port = v.GetInt("server.port")
	}
	if v.IsSet("verbosity") {
		config.Verbosity = v.GetString("verbosity")
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Options converts the file settings into a partial RunConfig update. Only
// settings present in the file are set.
func (c *FileConfig) Options() (Options, error) {
	var opts Options

	if c.Mode != "" {
		mode, err := ParseMode(c.Mode)
		if err != nil {
			return opts, err
		}
		opts.Mode = Set(mode)
	}
	if c.WorkDir != "" {
		opts.WorkDir = Set(c.WorkDir)
	}
	if c.Build.ConfigFile != "" {
		opts.BuildConfigFile = Set(c.Build.ConfigFile)
	}
	if c.Build.Root != "" || c.Build.Base != "" || c.Build.OutDir != "" {
		opts.InlineBuildConfig = Set(&InlineBuildConfig{
			Root:   c.Build.Root,
			Base:   c.Build.Base,
			OutDir: c.Build.OutDir,
		})
	}
	if c.Verbosity != "" {
		verbosity, err := logging.ParseVerbosity(c.Verbosity)
		if err != nil {
			return opts, err
		}
		opts.Verbosity = Set(verbosity)
	}
	if c.Ignore != "" {
		rule, err := IgnorePattern(c.Ignore)
		if err != nil {
			return opts, err
		}
		opts.Ignore = Set[IgnoreRule](rule)
	}
	if c.DevTimeout != "" {
		d, err := time.ParseDuration(c.DevTimeout)
		if err != nil {
			return opts, fmt.Errorf("dev_server_timeout: %w", err)
		}
		opts.DevServerTimeout = Set(d)
	}

	return opts, nil
}

// validateConfig validates configuration values for correctness
func validateConfig(config *FileConfig) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateBuildConfig(&config.Build); err != nil {
		return fmt.Errorf("build config: %w", err)
	}

	if config.Mode != "" {
		if _, err := ParseMode(config.Mode); err != nil {
			return err
		}
	}

	if _, err := logging.ParseVerbosity(config.Verbosity); err != nil {
		return err
	}

	if config.DevTimeout != "" {
		d, err := time.ParseDuration(config.DevTimeout)
		if err != nil {
			return fmt.Errorf("dev_server_timeout: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("dev_server_timeout must not be negative: %s", config.DevTimeout)
		}
	}

	if config.Ignore != "" {
		if _, err := IgnorePattern(config.Ignore); err != nil {
			return err
		}
	}

	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if strings.ContainsAny(config.Host, " /;&|$`\"'\\") {
		return fmt.Errorf("host contains invalid characters: %q", config.Host)
	}

	return nil
}

// validateBuildConfig validates build configuration values
func validateBuildConfig(config *BuildConfig) error {
	if config.Base != "" && !strings.HasPrefix(config.Base, "/") {
		return fmt.Errorf("base must start with '/': %s", config.Base)
	}

	if config.OutDir != "" && strings.ContainsRune(filepath.Clean(config.OutDir), 0) {
		return fmt.Errorf("out_dir contains a NUL byte")
	}

	return nil
}
