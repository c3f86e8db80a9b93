// Package docs provides documentation for devbridge.
//
// devbridge attaches a frontend build tool to a Go HTTP application so one
// server handles the application's own routes, the frontend's assets and its
// HTML documents. In development the bridge runs the build tool's dev server
// next to the application and forwards assets and hot-module updates to it.
// In production it serves the compiled output directory and builds it first
// when it is missing.
//
// # Architecture
//
//   - Application (pkg/app/): Ordered layer stack with named placeholders and mounts
//   - Bridge (pkg/bridge/): Lifecycle, mode selection and layer splicing
//   - Build tool (internal/buildtool/, internal/vite/): Config resolution, builds and dev servers
//   - Static assets (internal/static/): Output directory and dev-server asset handlers
//   - Documents (internal/document/): Closest index.html lookup, transforms and caching
//   - HMR relay (internal/hmr/): WebSocket forwarding to the dev server
//   - Watcher (internal/watcher/): Output directory monitoring for template invalidation
//   - Configuration (internal/config/): Run options, file config and environment
//
// # Request Flow
//
// A bound application answers a request by walking its layers in order:
//
//  1. Layers the host registered before the static placeholder
//  2. The static placeholder, which passes through
//  3. The HMR relay (development only) and the asset handler under the base path
//  4. Layers the host registered after the placeholder
//  5. The document handler, which serves the closest index.html
//
// Paths matched by the configured ignore rule skip the document handler, so
// API routes registered after the bridge still answer 404 when unmatched.
//
// # Configuration
//
// Options come from code, a .devbridge.yml file and DEVBRIDGE_* environment
// variables. NODE_ENV selects the mode when none is set:
//
//	mode: development
//	work_dir: ./web
//	verbosity: normal
//	dev_server_timeout: 30s
//	ignore: "^/api/"
//	inject_head: '<meta name="served-by" content="devbridge">'
//	server:
//	  host: localhost
//	  port: 3000
//
// # Usage
//
//	b := bridge.New()
//	a := app.New()
//	a.UseLayer(b.Static())
//	a.Get("/api/hello", hello)
//	err := b.Listen(ctx, a, ":3000", nil)
package docs
