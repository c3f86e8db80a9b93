package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/devbridge/internal/buildtool"
	"github.com/conneroisu/devbridge/internal/config"
	"github.com/conneroisu/devbridge/internal/document"
	"github.com/conneroisu/devbridge/internal/logging"
	"github.com/conneroisu/devbridge/internal/testutils"
	"github.com/conneroisu/devbridge/pkg/app"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

var modes = []config.Mode{config.ModeDevelopment, config.ModeProduction}

func newBridge(t *testing.T, tool *testutils.FakeTool, mode config.Mode, dir string) (*Bridge, *syncBuffer) {
	t.Helper()
	logs := &syncBuffer{}
	b := New(WithTool(tool), WithLogOutput(logs))
	b.Configure(config.Options{
		Mode:    config.Set(mode),
		WorkDir: config.Set(dir),
	})
	t.Cleanup(func() { _ = b.Close() })
	return b, logs
}

// serve binds b to a and exposes it through a test server.
func serve(t *testing.T, b *Bridge, a *app.App) *httptest.Server {
	t.Helper()
	require.NoError(t, b.Bind(context.Background(), a, nil, nil))
	srv := httptest.NewServer(a)
	t.Cleanup(srv.Close)
	return srv
}

func fetch(t *testing.T, srv *httptest.Server, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func projectFor(t *testing.T, mode config.Mode) string {
	if mode == config.ModeProduction {
		return testutils.CreateBuiltProject(t)
	}
	return testutils.CreateTempProject(t)
}

func TestClosestDocument(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			b, _ := newBridge(t, &testutils.FakeTool{}, mode, projectFor(t, mode))
			srv := serve(t, b, app.New())

			tests := map[string]string{
				"/":                "index",
				"/main.html":       "main",
				"/subpath/route":   "subpath",
				"/some/path/route": "index",
			}
			for path, want := range tests {
				resp, body := fetch(t, srv, path)
				assert.Equal(t, http.StatusOK, resp.StatusCode, path)
				assert.Equal(t, document.ContentType, resp.Header.Get("Content-Type"), path)
				assert.Contains(t, body, "<body>"+want+"</body>", path)
			}
			assert.Equal(t, StateBound, b.State())
		})
	}
}

func TestHostRoutesKeepPrecedence(t *testing.T) {
	b, _ := newBridge(t, &testutils.FakeTool{}, config.ModeProduction, testutils.CreateBuiltProject(t))

	a := app.New()
	a.Get("/api/hello", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	})
	srv := serve(t, b, a)

	_, body := fetch(t, srv, "/api/hello")
	assert.Equal(t, "hello", body)
}

func TestIgnorePaths(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			b, _ := newBridge(t, &testutils.FakeTool{}, mode, projectFor(t, mode))
			b.Configure(config.Options{Ignore: config.Set[config.IgnoreRule](config.Pattern{Expr: regexp.MustCompile(`^/ignored$`)})})
			srv := serve(t, b, app.New())

			resp, body := fetch(t, srv, "/ignored")
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			assert.Contains(t, body, "Cannot GET /ignored")

			resp, body = fetch(t, srv, "/ignoredbutnot/route")
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, body, "index")

			b.Configure(config.Options{Ignore: config.Set[config.IgnoreRule](config.Predicate(func(path string, _ *http.Request) bool {
				return path == "/fnignored"
			}))})

			resp, _ = fetch(t, srv, "/fnignored")
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)

			resp, _ = fetch(t, srv, "/ignored")
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			b.Configure(config.Options{Ignore: config.Clear[config.IgnoreRule]()})
			resp, _ = fetch(t, srv, "/fnignored")
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		})
	}
}

func TestTransformer(t *testing.T) {
	meta := `<meta name="injected" content="yes">`

	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			b, _ := newBridge(t, &testutils.FakeTool{}, mode, projectFor(t, mode))
			b.Configure(config.Options{Transformer: config.Set[config.Transformer](document.HeadInjector(meta))})
			srv := serve(t, b, app.New())

			for _, path := range []string{"/", "/main.html", "/subpath/route"} {
				_, body := fetch(t, srv, path)
				assert.Contains(t, body, meta, path)
			}

			b.Configure(config.Options{Transformer: config.Set[config.Transformer](func(context.Context, string, *http.Request) (string, error) {
				return "", errors.New("transform failed")
			})})
			resp, _ := fetch(t, srv, "/")
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		})
	}
}

func TestStaticPlaceholderOrdering(t *testing.T) {
	tool := &testutils.FakeTool{Assets: map[string]string{"/src/main.js": "console.log('dev');"}}

	tests := []struct {
		mode  config.Mode
		asset string
	}{
		{config.ModeProduction, "/assets/app.js"},
		{config.ModeDevelopment, "/src/main.js"},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			b, _ := newBridge(t, tool, tt.mode, projectFor(t, tt.mode))

			a := app.New()
			a.Use(func(w http.ResponseWriter, r *http.Request, next app.Next) {
				w.Header().Set("X-Before", "1")
				next(nil)
			})
			a.UseLayer(b.Static())
			a.Use(func(w http.ResponseWriter, r *http.Request, next app.Next) {
				w.Header().Set("X-After", "1")
				next(nil)
			})
			srv := serve(t, b, a)

			resp, body := fetch(t, srv, tt.asset)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, body, "console.log")
			assert.Equal(t, "1", resp.Header.Get("X-Before"))
			assert.Empty(t, resp.Header.Get("X-After"))

			resp, _ = fetch(t, srv, "/")
			assert.Equal(t, "1", resp.Header.Get("X-After"))

			names := a.Names()
			assert.Equal(t, StaticLayerName, names[1])
			assert.Equal(t, DocumentLayerName, names[len(names)-1])
		})
	}
}

func TestDevTransformReceivesRequestURL(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	tool := &testutils.FakeTool{}
	b, _ := newBridge(t, tool, config.ModeDevelopment, dir)
	srv := serve(t, b, app.New())

	_, body := fetch(t, srv, "/subpath/route?tab=2")
	assert.Contains(t, body, `<script type="module" src="/@vite/client"></script>`)
	assert.Contains(t, body, "<!-- url:/subpath/route?tab=2 -->")

	testutils.WriteFile(t, dir, "subpath/index.html", testutils.Document("edited"))
	_, body = fetch(t, srv, "/subpath/other")
	assert.Contains(t, body, "edited")

	assert.Equal(t, []string{"/subpath/route?tab=2", "/subpath/other"}, tool.Server().TransformURLs())
}

func TestDevClientScriptPort(t *testing.T) {
	b, _ := newBridge(t, &testutils.FakeTool{}, config.ModeDevelopment, testutils.CreateTempProject(t))
	srv := serve(t, b, app.New())

	resp, body := fetch(t, srv, "/@vite/client")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, body, testutils.HMRPortToken)
	port := srv.URL[strings.LastIndex(srv.URL, ":")+1:]
	assert.Contains(t, body, "const hmrPort = "+port+";")
}

func TestDevWithoutBuildTool(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	b, logs := newBridge(t, &testutils.FakeTool{StartErr: buildtool.ErrUnavailable}, config.ModeDevelopment, dir)
	srv := serve(t, b, app.New())

	resp, body := fetch(t, srv, "/src/main.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "console.log('main')")

	_, body = fetch(t, srv, "/")
	assert.Contains(t, body, "<body>index</body>")
	assert.NotContains(t, body, "/@vite/client")

	assert.Contains(t, logs.String(), "fake is not installed")
}

func TestProductionBuildsMissingOutput(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	tool := &testutils.FakeTool{}
	b, logs := newBridge(t, tool, config.ModeProduction, dir)
	srv := serve(t, b, app.New())

	assert.Equal(t, 1, tool.BuildCalls())
	assert.Contains(t, logs.String(), "Build starting...")
	assert.Contains(t, logs.String(), "Build completed!")

	_, body := fetch(t, srv, "/subpath/route")
	assert.Contains(t, body, "subpath")
}

func TestProductionBuildFailureIsNotFatal(t *testing.T) {
	tool := &testutils.FakeTool{BuildErr: errors.New("compiler crashed")}
	b, logs := newBridge(t, tool, config.ModeProduction, testutils.CreateTempProject(t))
	srv := serve(t, b, app.New())

	resp, _ := fetch(t, srv, "/")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, logs.String(), "compiler crashed")
}

func TestProductionServesRebuiltTemplates(t *testing.T) {
	dir := testutils.CreateBuiltProject(t)
	b, _ := newBridge(t, &testutils.FakeTool{}, config.ModeProduction, dir)
	srv := serve(t, b, app.New())

	_, body := fetch(t, srv, "/")
	require.Contains(t, body, "<body>index</body>")

	testutils.WriteFile(t, dir, "dist/index.html", testutils.Document("rebuilt"))
	assert.Eventually(t, func() bool {
		_, body := fetch(t, srv, "/")
		return strings.Contains(body, "rebuilt")
	}, 5*time.Second, 50*time.Millisecond)
}

func TestProductionServesRecreatedOutput(t *testing.T) {
	dir := testutils.CreateBuiltProject(t)
	b, _ := newBridge(t, &testutils.FakeTool{}, config.ModeProduction, dir)
	srv := serve(t, b, app.New())

	_, body := fetch(t, srv, "/")
	require.Contains(t, body, "<body>index</body>")

	dist := filepath.Join(dir, "dist")
	require.NoError(t, os.RemoveAll(dist))
	testutils.WriteFile(t, dir, "dist/index.html", testutils.Document("v2"))
	assert.Eventually(t, func() bool {
		_, body := fetch(t, srv, "/")
		return strings.Contains(body, "<body>v2</body>")
	}, 3*time.Second, 20*time.Millisecond)

	for _, version := range []string{"v3", "v4"} {
		testutils.WriteFile(t, dir, "dist/index.html", testutils.Document(version))
		assert.Eventually(t, func() bool {
			_, body := fetch(t, srv, "/")
			return strings.Contains(body, "<body>"+version+"</body>")
		}, 3*time.Second, 20*time.Millisecond, version)
	}
}

func TestHiddenFilesAreNotServed(t *testing.T) {
	t.Run("development without build tool", func(t *testing.T) {
		dir := testutils.CreateTempProject(t)
		testutils.WriteFile(t, dir, ".env", "SECRET=hunter2")
		b, _ := newBridge(t, &testutils.FakeTool{StartErr: buildtool.ErrUnavailable}, config.ModeDevelopment, dir)
		srv := serve(t, b, app.New())

		resp, body := fetch(t, srv, "/.env")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.NotContains(t, body, "hunter2")
	})

	t.Run("production", func(t *testing.T) {
		dir := testutils.CreateBuiltProject(t)
		testutils.WriteFile(t, dir, "dist/.secret", "TOKEN=abc")
		b, _ := newBridge(t, &testutils.FakeTool{}, config.ModeProduction, dir)
		srv := serve(t, b, app.New())

		resp, body := fetch(t, srv, "/.secret")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.NotContains(t, body, "TOKEN")
	})
}

func TestBaseMount(t *testing.T) {
	tool := &testutils.FakeTool{Config: buildtool.ResolvedConfig{Base: "/app/"}}
	b, _ := newBridge(t, tool, config.ModeProduction, testutils.CreateBuiltProject(t))
	srv := serve(t, b, app.New())

	resp, body := fetch(t, srv, "/app/nested/route")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "index")

	resp, _ = fetch(t, srv, "/app/assets/app.css")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = fetch(t, srv, "/elsewhere")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cfg, err := b.BuildConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/app/", cfg.Base)
}

func TestVerbosity(t *testing.T) {
	tests := []struct {
		verbosity logging.Verbosity
		wantInfo  bool
	}{
		{logging.VerbositySilent, false},
		{logging.VerbosityErrorsOnly, false},
		{logging.VerbosityNormal, true},
	}

	for _, tt := range tests {
		t.Run(tt.verbosity.String(), func(t *testing.T) {
			b, logs := newBridge(t, &testutils.FakeTool{}, config.ModeDevelopment, testutils.CreateTempProject(t))
			b.Configure(config.Options{Verbosity: config.Set(tt.verbosity)})
			serve(t, b, app.New())

			assert.Equal(t, tt.wantInfo, strings.Contains(logs.String(), "Running in development mode"))
			if tt.verbosity == logging.VerbositySilent {
				assert.Empty(t, logs.String())
			}
		})
	}
}

func TestShutdownClosesDevServer(t *testing.T) {
	tool := &testutils.FakeTool{}
	b, _ := newBridge(t, tool, config.ModeDevelopment, testutils.CreateTempProject(t))

	a := app.New()
	srv := &http.Server{Handler: a}
	ready := false
	require.NoError(t, b.Bind(context.Background(), a, srv, func() { ready = true }))
	assert.True(t, ready)
	require.NotNil(t, tool.Server())
	assert.False(t, tool.Server().Closed())

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Eventually(t, func() bool {
		return tool.Server().Closed() && b.State() == StateClosed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRebindResetsBuildConfig(t *testing.T) {
	first := testutils.CreateBuiltProject(t)
	second := testutils.CreateBuiltProject(t)
	testutils.WriteFile(t, second, "dist/index.html", testutils.Document("second"))

	tool := &testutils.FakeTool{}
	b, _ := newBridge(t, tool, config.ModeProduction, first)
	serve(t, b, app.New())

	b.Configure(config.Options{WorkDir: config.Set(second)})
	srv := serve(t, b, app.New())

	_, body := fetch(t, srv, "/")
	assert.Contains(t, body, "second")
	assert.Equal(t, 2, tool.ResolveCalls())

	cfg, err := b.BuildConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(second, "dist"), cfg.OutDir)
}

func TestListen(t *testing.T) {
	tool := &testutils.FakeTool{}
	b, _ := newBridge(t, tool, config.ModeDevelopment, testutils.CreateTempProject(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := app.New()
	addr := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- b.Listen(ctx, a, "127.0.0.1:0", func() { addr <- b.Addr().String() })
	}()

	var host string
	select {
	case host = <-addr:
	case err := <-done:
		t.Fatalf("Listen returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge never became ready")
	}

	resp, err := http.Get("http://" + host + "/route")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after cancellation")
	}
	assert.True(t, tool.Server().Closed())
}

func TestTriggerBuild(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	tool := &testutils.FakeTool{}
	b, _ := newBridge(t, tool, config.ModeProduction, dir)

	require.NoError(t, b.TriggerBuild(context.Background()))
	_, err := os.Stat(filepath.Join(dir, "dist", "index.html"))
	assert.NoError(t, err)

	tool.BuildErr = errors.New("boom")
	err = b.TriggerBuild(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
