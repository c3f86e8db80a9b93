// Package document serves the HTML entry documents of a project. Production
// serves compiled templates from the output directory; development reads the
// source template and runs it through the dev server's HTML pipeline. A
// configured Transformer runs last in both modes.
package document

import (
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	"github.com/conneroisu/devbridge/internal/buildtool"
	"github.com/conneroisu/devbridge/internal/classify"
	"github.com/conneroisu/devbridge/internal/config"
	"github.com/conneroisu/devbridge/internal/errors"
	"github.com/conneroisu/devbridge/internal/logging"
	"github.com/conneroisu/devbridge/internal/resolve"
	"github.com/conneroisu/devbridge/pkg/app"
)

// ContentType is the Content-Type of every document response.
const ContentType = "text/html; charset=utf-8"

// Config configures a Server.
type Config struct {
	// FS is the content root templates are resolved against: the output
	// directory in production, the project root in development.
	FS fs.FS
	// DevServer transforms templates in development. Nil serves them as read.
	DevServer buildtool.DevServer
	// Settings supplies the ignore rule and transformer for each request, so
	// reconfiguring a bound bridge takes effect immediately.
	Settings func() config.RunConfig
	// Cache holds templates between requests. Nil reads them every time.
	Cache  *TemplateCache
	Logger logging.Logger
}

// Server is the catch-all document handler.
type Server struct {
	fs        fs.FS
	devServer buildtool.DevServer
	settings  func() config.RunConfig
	cache     *TemplateCache
	logger    logging.Logger
}

// New creates a document server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	settings := cfg.Settings
	if settings == nil {
		settings = func() config.RunConfig { return config.RunConfig{} }
	}

	return &Server{
		fs:        cfg.FS,
		devServer: cfg.DevServer,
		settings:  settings,
		cache:     cfg.Cache,
		logger:    logger.WithComponent("document"),
	}
}

// Handle implements app.HandlerFunc.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request, next app.Next) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		next(nil)
		return
	}

	settings := s.settings()
	originalURL := app.OriginalURL(r)
	originalPath, _, _ := strings.Cut(originalURL, "?")

	if s.ignored(settings.Ignore, originalPath, r) {
		next(nil)
		return
	}

	if classify.IsAssetPath(r.URL.Path) {
		next(nil)
		return
	}

	match, ok := resolve.Closest(s.fs, r.URL.Path)
	if !ok {
		next(nil)
		return
	}

	content, err := s.read(match.FilePath)
	if err != nil {
		err = errors.NewIOError(errors.CodeTemplateRead, "reading template", err).WithPath(match.FilePath)
		s.logger.Error(r.Context(), err, "Unable to read template", "path", r.URL.Path)
		next(err)
		return
	}
	document := string(content)

	if s.devServer != nil {
		document, err = s.devServer.TransformHTML(r.Context(), originalURL, document)
		if err != nil {
			err = errors.NewUpstreamError(errors.CodeUpstreamFailed, "dev server HTML transform failed", err).WithPath(r.URL.Path)
			s.logger.Error(r.Context(), err, "Unable to transform template", "template", match.FilePath)
			next(err)
			return
		}
	}

	if settings.Transformer != nil {
		document, err = transform(settings.Transformer, document, r)
		if err != nil {
			s.logger.Error(r.Context(), err, "Transformer failed", "path", r.URL.Path)
			next(err)
			return
		}
	}

	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte(document))
	}
}

func (s *Server) read(name string) ([]byte, error) {
	if s.cache != nil {
		return s.cache.Read(s.fs, name)
	}
	return fs.ReadFile(s.fs, name)
}

// ignored evaluates the ignore rule. A panicking rule counts as not ignored.
func (s *Server) ignored(rule config.IgnoreRule, path string, r *http.Request) (ignore bool) {
	if rule == nil {
		return false
	}

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error(r.Context(), fmt.Errorf("panic: %v", p), "Ignore rule panicked", "path", path)
			ignore = false
		}
	}()

	return rule.Ignores(path, r)
}

func transform(transformer config.Transformer, document string, r *http.Request) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.NewTransformError("transformer panicked", fmt.Errorf("%v", p))
		}
	}()

	out, err = transformer(r.Context(), document, r)
	if err != nil {
		return "", errors.NewTransformError("transformer failed", err)
	}
	return out, nil
}
