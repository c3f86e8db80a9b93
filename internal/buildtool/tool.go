// Package buildtool defines the contract between the bridge and the external
// front-end build tool, and resolves the build configuration the bridge serves
// from.
package buildtool

import (
	"context"
	"errors"
	"net/url"

	"github.com/conneroisu/devbridge/internal/logging"
)

// ErrUnavailable reports that the build tool is not installed for a project.
// Development mode then serves source files directly.
var ErrUnavailable = errors.New("build tool unavailable")

// Tool is an external build tool driven as an opaque subprocess.
type Tool interface {
	// Name identifies the tool in logs.
	Name() string

	// ResolveConfig asks the tool for its effective configuration.
	ResolveConfig(ctx context.Context, req Request) (ResolvedConfig, error)

	// StartDevServer starts a dev server for the project. The server lives
	// until Close is called on the returned handle, independent of ctx.
	StartDevServer(ctx context.Context, opts DevServerOptions) (DevServer, error)

	// Build compiles the project into its output directory.
	Build(ctx context.Context, req Request) error
}

// DevServer is a running dev server owned by exactly one bridge.
type DevServer interface {
	// URL is the base URL asset requests are forwarded to.
	URL() *url.URL

	// TransformHTML runs the dev server's HTML pipeline for a document
	// served at requestURL.
	TransformHTML(ctx context.Context, requestURL, html string) (string, error)

	// Close stops the dev server. It is safe to call more than once.
	Close() error
}

// Request locates a project for the build tool.
type Request struct {
	WorkDir    string
	ConfigFile string
}

// DevServerOptions configures a dev server start.
type DevServerOptions struct {
	Request
	Root   string
	Base   string
	Logger logging.Logger
}
