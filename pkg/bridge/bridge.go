// Package bridge attaches a front-end build tool to a pkg/app host
// application. In development it proxies assets to the tool's dev server and
// serves documents through its HTML pipeline; in production it serves the
// compiled output directory. Either way every unmatched route falls back to
// the closest index.html, so client-side routing works.
package bridge

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/conneroisu/devbridge/internal/buildtool"
	"github.com/conneroisu/devbridge/internal/config"
	"github.com/conneroisu/devbridge/internal/document"
	"github.com/conneroisu/devbridge/internal/errors"
	"github.com/conneroisu/devbridge/internal/hmr"
	"github.com/conneroisu/devbridge/internal/logging"
	"github.com/conneroisu/devbridge/internal/static"
	"github.com/conneroisu/devbridge/internal/vite"
	"github.com/conneroisu/devbridge/internal/watcher"
	"github.com/conneroisu/devbridge/pkg/app"
)

// Layer names used in the host chain.
const (
	StaticLayerName   = "devbridge:static"
	AssetsLayerName   = "devbridge:assets"
	HMRLayerName      = "devbridge:hmr"
	DocumentLayerName = "devbridge:documents"
)

// ShutdownTimeout bounds the graceful shutdown performed by Listen.
const ShutdownTimeout = 5 * time.Second

// State is the lifecycle state of a Bridge.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Option configures a Bridge at construction.
type Option func(*Bridge)

// WithTool replaces the Vite tool.
func WithTool(tool buildtool.Tool) Option {
	return func(b *Bridge) { b.tool = tool }
}

// WithLogOutput sets where log records are written. Defaults to stdout.
func WithLogOutput(w io.Writer) Option {
	return func(b *Bridge) { b.output = w }
}

// WithLogFormat selects the "text" or "json" log handler.
func WithLogFormat(format string) Option {
	return func(b *Bridge) { b.format = format }
}

// Bridge owns the configuration and the resources of its binds.
type Bridge struct {
	mu       sync.Mutex
	cfg      config.RunConfig
	state    State
	bindings []*binding
	addr     net.Addr

	tool    buildtool.Tool
	output  io.Writer
	format  string
	log     *logging.Switchable
	configs *buildtool.Cache
	builds  singleflight.Group
}

// binding holds what one Bind started.
type binding struct {
	devServer buildtool.DevServer
	watcher   *watcher.Watcher
	once      sync.Once
}

// New creates a bridge configured from config.Default.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		cfg:    config.Default(),
		output: os.Stdout,
		format: "text",
	}
	for _, opt := range opts {
		opt(b)
	}

	b.log = logging.NewSwitchable(b.newLogger(b.cfg.Verbosity))
	if b.tool == nil {
		b.tool = vite.New(vite.WithLogger(b.log))
	}
	b.configs = buildtool.NewCache(b.tool, b.log)
	return b
}

func (b *Bridge) newLogger(verbosity logging.Verbosity) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.LevelInfo,
		Verbosity: verbosity,
		Format:    b.format,
		Output:    b.output,
		Component: "devbridge",
	})
}

// Configure applies every set field of opts. Unset fields keep their value.
// The ignore rule and transformer of a bound bridge change immediately;
// everything else takes effect on the next Bind.
func (b *Bridge) Configure(opts config.Options) {
	b.mu.Lock()
	defer b.mu.Unlock()

	previous := b.cfg.Verbosity
	b.cfg = b.cfg.Merge(opts)
	if b.cfg.Verbosity != previous {
		b.log.Set(b.newLogger(b.cfg.Verbosity))
	}
}

// Config returns a copy of the current configuration.
func (b *Bridge) Config() config.RunConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// State returns the lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Logger returns the bridge's logger. It follows verbosity changes made
// through Configure.
func (b *Bridge) Logger() logging.Logger {
	return b.log
}

// Addr returns the address Listen is serving on, or nil.
func (b *Bridge) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addr
}

// Static returns a placeholder layer. Registering it before the host's
// routes makes Bind serve assets at that position instead of at the end of
// the chain.
func (b *Bridge) Static() app.Layer {
	return app.Layer{
		Name: StaticLayerName,
		Handler: func(w http.ResponseWriter, r *http.Request, next app.Next) {
			next(nil)
		},
	}
}

// BuildConfig returns the resolved build configuration, resolving it on
// first use.
func (b *Bridge) BuildConfig(ctx context.Context) (buildtool.ResolvedConfig, error) {
	cfg := b.Config()
	req, err := request(cfg)
	if err != nil {
		return buildtool.ResolvedConfig{}, err
	}
	return b.configs.Get(ctx, req, cfg.InlineBuildConfig), nil
}

// TriggerBuild compiles the project into its output directory. Concurrent
// calls share one build.
func (b *Bridge) TriggerBuild(ctx context.Context) error {
	cfg := b.Config()
	req, err := request(cfg)
	if err != nil {
		return err
	}

	_, err, _ = b.builds.Do("build", func() (interface{}, error) {
		b.log.Info(ctx, "Build starting...")
		if err := b.tool.Build(ctx, req); err != nil {
			return nil, errors.NewBuildError(errors.CodeBuildFailed, b.tool.Name()+" build failed", err)
		}
		b.log.Info(ctx, "Build completed!")
		return nil, nil
	})
	return err
}

// Bind installs the bridge into a. Host routes registered before Bind keep
// precedence over documents. When srv is non-nil the resources started here
// are released on its shutdown; otherwise call Close. onReady, if set, runs
// once the layers are installed.
func (b *Bridge) Bind(ctx context.Context, a *app.App, srv *http.Server, onReady func()) error {
	b.mu.Lock()
	if b.state == StateStarting {
		b.mu.Unlock()
		return errors.NewInternalError("bind already in progress", nil)
	}
	b.state = StateStarting
	cfg := b.cfg
	b.mu.Unlock()

	if err := b.bind(ctx, a, srv, cfg); err != nil {
		b.mu.Lock()
		b.state = StateIdle
		b.mu.Unlock()
		return err
	}

	b.mu.Lock()
	b.state = StateBound
	b.mu.Unlock()

	if onReady != nil {
		onReady()
	}
	return nil
}

func (b *Bridge) bind(ctx context.Context, a *app.App, srv *http.Server, cfg config.RunConfig) error {
	b.log.Info(ctx, fmt.Sprintf("Running in %s mode", cfg.Mode))

	req, err := request(cfg)
	if err != nil {
		return err
	}

	b.configs.Reset()
	resolved := b.configs.Get(ctx, req, cfg.InlineBuildConfig)
	b.log.Debug(ctx, "Resolved build config",
		"root", resolved.Root, "base", resolved.Base, "out_dir", resolved.OutDir, "source", resolved.Source)

	bd := &binding{}
	var layers []app.Layer
	var documents *document.Server

	if cfg.IsProduction() {
		assets, docs := b.bindProduction(ctx, bd, resolved)
		layers = append(layers, app.Layer{Name: AssetsLayerName, Path: resolved.Base, Handler: assets})
		documents = docs
	} else {
		devServer, err := b.tool.StartDevServer(ctx, buildtool.DevServerOptions{
			Request: req,
			Root:    resolved.Root,
			Base:    resolved.Base,
			Logger:  b.log,
		})
		if err != nil {
			if errors.Is(err, buildtool.ErrUnavailable) {
				b.log.Warn(ctx, err, b.tool.Name()+" is not installed, serving source files directly")
			} else {
				b.log.Warn(ctx, err, "Unable to start the dev server, serving source files directly")
			}
			devServer = nil
		}

		docConfig := document.Config{
			FS:       os.DirFS(resolved.Root),
			Settings: b.Config,
			Logger:   b.log,
		}

		if devServer != nil {
			bd.devServer = devServer
			docConfig.DevServer = devServer
			proxy := static.NewDevProxy(static.DevProxyConfig{
				Server:  devServer,
				Timeout: cfg.DevServerTimeout,
				Logger:  b.log,
			})
			layers = append(layers,
				app.Layer{Name: HMRLayerName, Handler: hmr.NewRelay(devServer, b.log).Handle},
				app.Layer{Name: AssetsLayerName, Path: resolved.Base, Handler: proxy.Handle},
			)
		} else {
			files := static.NewFileHandler(os.DirFS(resolved.Root))
			layers = append(layers, app.Layer{Name: AssetsLayerName, Path: resolved.Base, Handler: files.Handle})
		}
		documents = document.New(docConfig)
	}

	b.mu.Lock()
	b.bindings = append(b.bindings, bd)
	b.mu.Unlock()
	if srv != nil {
		srv.RegisterOnShutdown(func() { b.release(bd) })
	}

	previous := StaticLayerName
	for _, l := range layers {
		a.InsertAfter(previous, l)
		previous = l.Name
	}
	a.UseLayer(app.Layer{Name: DocumentLayerName, Path: resolved.Base, Handler: documents.Handle})

	return nil
}

// bindProduction prepares serving from the output directory, building it
// first when it is missing.
func (b *Bridge) bindProduction(ctx context.Context, bd *binding, resolved buildtool.ResolvedConfig) (app.HandlerFunc, *document.Server) {
	if _, err := os.Stat(resolved.OutDir); err != nil {
		b.log.Warn(ctx, err, "Static files not found, building", "path", resolved.OutDir)
		if err := b.TriggerBuild(ctx); err != nil {
			b.log.Warn(ctx, err, "Build failed, serving whatever the output directory holds", "path", resolved.OutDir)
		}
	}

	fsys := os.DirFS(resolved.OutDir)
	cfg := document.Config{FS: fsys, Settings: b.Config, Logger: b.log}

	cache, err := document.NewTemplateCache(resolved.OutDir, document.DefaultCacheSize)
	if err != nil {
		b.log.Warn(ctx, err, "Unable to create the template cache, reading templates on every request")
	} else if w := b.watchOutput(ctx, resolved.OutDir, cache); w != nil {
		// Without a watcher stale templates could never be evicted.
		cfg.Cache = cache
		bd.watcher = w
	}

	return static.NewFileHandler(fsys).Handle, document.New(cfg)
}

// watchOutput evicts cached templates as the output directory changes. It
// returns nil when the directory cannot be watched.
func (b *Bridge) watchOutput(ctx context.Context, outDir string, cache *document.TemplateCache) *watcher.Watcher {
	w, err := watcher.New(func(changes []watcher.Change) {
		for _, change := range changes {
			cache.Invalidate(change.Path)
		}
	}, watcher.WithFilter(watcher.NoHiddenFilter), watcher.WithLogger(b.log))
	if err != nil {
		b.log.Warn(ctx, err, "Unable to watch the output directory", "path", outDir)
		return nil
	}

	if err := w.Add(outDir); err != nil {
		b.log.Warn(ctx, err, "Unable to watch the output directory", "path", outDir)
		_ = w.Stop()
		return nil
	}
	w.Start(context.Background())
	return w
}

// Listen binds a to a new server on addr and serves until ctx is done, then
// shuts the server down gracefully.
func (b *Bridge) Listen(ctx context.Context, a *app.App, addr string, onReady func()) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           a,
		ReadHeaderTimeout: 10 * time.Second,
	}

	b.mu.Lock()
	b.addr = ln.Addr()
	b.mu.Unlock()

	if err := b.Bind(ctx, a, srv, onReady); err != nil {
		_ = ln.Close()
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		_ = b.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		_ = b.Close()
		return err
	}
}

// Close releases every resource started by Bind.
func (b *Bridge) Close() error {
	b.mu.Lock()
	bindings := append([]*binding(nil), b.bindings...)
	b.mu.Unlock()

	var firstErr error
	for _, bd := range bindings {
		if err := b.release(bd); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *Bridge) release(bd *binding) error {
	var err error
	bd.once.Do(func() {
		if bd.devServer != nil {
			err = bd.devServer.Close()
		}
		if bd.watcher != nil {
			_ = bd.watcher.Stop()
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		for i, existing := range b.bindings {
			if existing == bd {
				b.bindings = append(b.bindings[:i], b.bindings[i+1:]...)
				break
			}
		}
		if len(b.bindings) == 0 && b.state == StateBound {
			b.state = StateClosed
		}
	})
	return err
}

func request(cfg config.RunConfig) (buildtool.Request, error) {
	workDir, err := cfg.ResolveWorkDir()
	if err != nil {
		return buildtool.Request{}, errors.NewConfigError(errors.CodeConfigUnresolved, "resolving working directory", err)
	}
	workDir, err = filepath.Abs(workDir)
	if err != nil {
		return buildtool.Request{}, errors.NewConfigError(errors.CodeConfigUnresolved, "resolving working directory", err)
	}
	return buildtool.Request{WorkDir: workDir, ConfigFile: cfg.BuildConfigFile}, nil
}
