package config

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"

	"github.com/conneroisu/devbridge/internal/logging"
)

// Mode is the run mode of the bridge.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDevelopment, ModeProduction:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q (supported: development, production)", s)
	}
}

// ModeEnvVar is the environment variable whose value "production" selects
// production mode by default.
const ModeEnvVar = "NODE_ENV"

// DefaultDevServerTimeout bounds a single exchange with the dev server.
const DefaultDevServerTimeout = 30 * time.Second

// DefaultMode reads the production signal from the environment. A .env file in
// the working directory is consulted when the variable is unset; it is read,
// never loaded into the process environment.
func DefaultMode() Mode {
	value, ok := os.LookupEnv(ModeEnvVar)
	if !ok {
		if dotenv, err := godotenv.Read(); err == nil {
			value = dotenv[ModeEnvVar]
		}
	}
	if value == string(ModeProduction) {
		return ModeProduction
	}
	return ModeDevelopment
}

// InlineBuildConfig overrides values resolved from the build tool config.
// Empty fields are not applied.
type InlineBuildConfig struct {
	Root   string `yaml:"root" mapstructure:"root"`
	Base   string `yaml:"base" mapstructure:"base"`
	OutDir string `yaml:"out_dir" mapstructure:"out_dir"`
}

// Transformer rewrites a served HTML document. It runs for every document
// response in both modes, and never for other assets.
type Transformer func(ctx context.Context, html string, r *http.Request) (string, error)

// IgnoreRule decides whether a document request must skip straight to the
// next handler. It is implemented by Pattern and Predicate.
type IgnoreRule interface {
	Ignores(path string, r *http.Request) bool
}

// Pattern ignores every path the expression matches.
type Pattern struct {
	Expr *regexp.Regexp
}

// Ignores implements IgnoreRule.
func (p Pattern) Ignores(path string, _ *http.Request) bool {
	return p.Expr != nil && p.Expr.MatchString(path)
}

// Predicate ignores every path for which the function reports true.
type Predicate func(path string, r *http.Request) bool

// Ignores implements IgnoreRule.
func (p Predicate) Ignores(path string, r *http.Request) bool {
	return p != nil && p(path, r)
}

// IgnorePattern compiles expr into a Pattern rule.
func IgnorePattern(expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("invalid ignore pattern %q: %w", expr, err)
	}
	return Pattern{Expr: re}, nil
}

// RunConfig is the resolved configuration a bridge serves requests with.
type RunConfig struct {
	Mode              Mode
	WorkDir           string
	InlineBuildConfig *InlineBuildConfig
	BuildConfigFile   string
	Ignore            IgnoreRule
	Transformer       Transformer
	Verbosity         logging.Verbosity
	DevServerTimeout  time.Duration
}

// Default returns the configuration a new bridge starts from.
func Default() RunConfig {
	return RunConfig{
		Mode:             DefaultMode(),
		Verbosity:        logging.VerbosityNormal,
		DevServerTimeout: DefaultDevServerTimeout,
	}
}

// Field is one independently updatable option. The zero Field leaves the
// target untouched; Set replaces it; Clear resets it to the zero value.
type Field[T any] struct {
	set   bool
	value T
}

// Set returns a field that replaces the target with v.
func Set[T any](v T) Field[T] {
	return Field[T]{set: true, value: v}
}

// Clear returns a field that resets the target to its zero value.
func Clear[T any]() Field[T] {
	return Field[T]{set: true}
}

// IsSet reports whether the field carries an update.
func (f Field[T]) IsSet() bool {
	return f.set
}

// Value returns the carried value.
func (f Field[T]) Value() T {
	return f.value
}

func (f Field[T]) apply(dst *T) {
	if f.set {
		*dst = f.value
	}
}

// Options is a partial update of a RunConfig.
type Options struct {
	Mode              Field[Mode]
	WorkDir           Field[string]
	InlineBuildConfig Field[*InlineBuildConfig]
	BuildConfigFile   Field[string]
	Ignore            Field[IgnoreRule]
	Transformer       Field[Transformer]
	Verbosity         Field[logging.Verbosity]
	DevServerTimeout  Field[time.Duration]
}

// Merge returns cfg with every set field of opts applied.
func (cfg RunConfig) Merge(opts Options) RunConfig {
	opts.Mode.apply(&cfg.Mode)
	opts.WorkDir.apply(&cfg.WorkDir)
	opts.InlineBuildConfig.apply(&cfg.InlineBuildConfig)
	opts.BuildConfigFile.apply(&cfg.BuildConfigFile)
	opts.Ignore.apply(&cfg.Ignore)
	opts.Transformer.apply(&cfg.Transformer)
	opts.Verbosity.apply(&cfg.Verbosity)
	opts.DevServerTimeout.apply(&cfg.DevServerTimeout)
	return cfg
}

// IsProduction reports whether cfg runs in production mode.
func (cfg RunConfig) IsProduction() bool {
	return cfg.Mode == ModeProduction
}

// ResolveWorkDir returns the configured working directory, or the process
// working directory when none is set.
func (cfg RunConfig) ResolveWorkDir() (string, error) {
	if cfg.WorkDir != "" {
		return cfg.WorkDir, nil
	}
	return os.Getwd()
}
