package buildtool

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/conneroisu/devbridge/internal/config"
	"github.com/conneroisu/devbridge/internal/errors"
	"github.com/conneroisu/devbridge/internal/logging"
)

// Source records how a ResolvedConfig was obtained.
type Source string

const (
	SourceTool     Source = "tool"
	SourceScraped  Source = "scraped"
	SourceDefaults Source = "defaults"
)

// Defaults used when neither the tool nor its config file yield a value.
const (
	DefaultRoot   = "."
	DefaultBase   = "/"
	DefaultOutDir = "dist"
)

// ResolvedConfig is the build configuration a bind serves from.
type ResolvedConfig struct {
	Root   string `yaml:"root"`
	Base   string `yaml:"base"`
	OutDir string `yaml:"out_dir"`
	Source Source `yaml:"source"`
}

// Resolve derives the build configuration for req. The tool is asked first;
// on failure the config file is scraped, and when that fails too the defaults
// apply. Each fallback logs a warning. Inline overrides always win. Root and
// OutDir of the result are absolute.
func Resolve(ctx context.Context, tool Tool, req Request, inline *config.InlineBuildConfig, logger logging.Logger) ResolvedConfig {
	resolved, err := resolveWithTool(ctx, tool, req)
	if err != nil {
		logger.Warn(ctx, err, "Unable to use the build tool to resolve its config, scraping the config file instead")

		resolved, err = Scrape(req)
		if err != nil {
			logger.Warn(ctx, err, "Unable to scrape the build config file, using defaults")
			resolved = ResolvedConfig{Source: SourceDefaults}
		}
	}

	if inline != nil {
		if inline.Root != "" {
			resolved.Root = inline.Root
		}
		if inline.Base != "" {
			resolved.Base = inline.Base
		}
		if inline.OutDir != "" {
			resolved.OutDir = inline.OutDir
		}
	}

	return finalize(resolved, req.WorkDir)
}

func resolveWithTool(ctx context.Context, tool Tool, req Request) (ResolvedConfig, error) {
	if tool == nil {
		return ResolvedConfig{}, errors.NewConfigError(errors.CodeToolUnavailable, "no build tool configured", ErrUnavailable)
	}

	resolved, err := tool.ResolveConfig(ctx, req)
	if err != nil {
		return ResolvedConfig{}, errors.NewConfigError(errors.CodeConfigUnresolved, tool.Name()+" config resolution failed", err)
	}

	resolved.Source = SourceTool
	return resolved, nil
}

// finalize fills defaults and makes the directories absolute.
func finalize(resolved ResolvedConfig, workDir string) ResolvedConfig {
	if resolved.Root == "" {
		resolved.Root = DefaultRoot
	}
	if resolved.OutDir == "" {
		resolved.OutDir = DefaultOutDir
	}
	resolved.Base = NormalizeBase(resolved.Base)

	if !filepath.IsAbs(resolved.Root) {
		resolved.Root = filepath.Join(workDir, resolved.Root)
	}
	if !filepath.IsAbs(resolved.OutDir) {
		resolved.OutDir = filepath.Join(resolved.Root, resolved.OutDir)
	}
	resolved.Root = filepath.Clean(resolved.Root)
	resolved.OutDir = filepath.Clean(resolved.OutDir)

	return resolved
}

// NormalizeBase turns a public base into the URL path prefix routes are
// mounted under. Relative and empty bases mean the root; absolute URLs
// contribute their path.
func NormalizeBase(base string) string {
	if u, err := url.Parse(base); err == nil && u.Scheme != "" {
		base = u.Path
	}

	base = strings.TrimPrefix(base, ".")
	if base == "" {
		return DefaultBase
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}

	return base
}
