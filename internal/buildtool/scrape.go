package buildtool

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/conneroisu/devbridge/internal/errors"
)

// ConfigFileNames are the build tool config files looked up in a work dir,
// in order.
var ConfigFileNames = []string{
	"vite.config.ts",
	"vite.config.js",
	"vite.config.mjs",
	"vite.config.mts",
	"vite.config.cjs",
}

var scrapePatterns = map[string]*regexp.Regexp{
	"root":   regexp.MustCompile("\\broot\\s*:\\s*[\"'`]([^\"'`]*)[\"'`]"),
	"base":   regexp.MustCompile("\\bbase\\s*:\\s*[\"'`]([^\"'`]*)[\"'`]"),
	"outDir": regexp.MustCompile("\\boutDir\\s*:\\s*[\"'`]([^\"'`]*)[\"'`]"),
}

// FindConfigFile returns the config file for req: the explicit ConfigFile
// when set, otherwise the first of ConfigFileNames present in WorkDir.
func FindConfigFile(req Request) (string, error) {
	if req.ConfigFile != "" {
		path := req.ConfigFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(req.WorkDir, path)
		}
		if _, err := os.Stat(path); err != nil {
			return "", err
		}
		return path, nil
	}

	for _, name := range ConfigFileNames {
		path := filepath.Join(req.WorkDir, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}

	return "", fmt.Errorf("no build config file in %s", req.WorkDir)
}

// Scrape extracts root, base and outDir string literals from the build config
// file without evaluating it. Values it cannot find are left empty.
func Scrape(req Request) (ResolvedConfig, error) {
	path, err := FindConfigFile(req)
	if err != nil {
		return ResolvedConfig{}, errors.NewConfigError(errors.CodeConfigScrape, "build config file not found", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ResolvedConfig{}, errors.NewConfigError(errors.CodeConfigScrape, "reading build config file", err).WithPath(path)
	}

	resolved := ResolvedConfig{Source: SourceScraped}
	if m := scrapePatterns["root"].FindSubmatch(content); m != nil {
		resolved.Root = string(m[1])
	}
	if m := scrapePatterns["base"].FindSubmatch(content); m != nil {
		resolved.Base = string(m[1])
	}
	if m := scrapePatterns["outDir"].FindSubmatch(content); m != nil {
		resolved.OutDir = string(m[1])
	}

	if root := resolved.Root; root != "" && !filepath.IsAbs(root) {
		resolved.Root = filepath.Join(filepath.Dir(path), root)
	}

	return resolved, nil
}
