package testutils

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/devbridge/internal/buildtool"
)

// HMRPortToken is the placeholder the fake dev server embeds in its client
// script.
const HMRPortToken = "__DEVBRIDGE_HMR_PORT__"

// ClientScript is the body of the fake dev server's /@vite/client.
const ClientScript = "const hmrPort = " + HMRPortToken + ";\nconnect(hmrPort);\n"

// CreateTempProject creates a project with the nested entry documents used by
// the routing scenarios: index.html, main.html and subpath/index.html, each
// containing its own name inside <head>.
func CreateTempProject(t *testing.T) string {
	t.Helper()
	projectDir := t.TempDir()

	WriteFile(t, projectDir, "index.html", Document("index"))
	WriteFile(t, projectDir, "main.html", Document("main"))
	WriteFile(t, projectDir, "subpath/index.html", Document("subpath"))
	WriteFile(t, projectDir, "src/main.js", "console.log('main');\n")

	return projectDir
}

// CreateBuiltProject creates a project whose dist directory already holds the
// build output of CreateTempProject.
func CreateBuiltProject(t *testing.T) string {
	t.Helper()
	projectDir := CreateTempProject(t)

	WriteFile(t, projectDir, "dist/index.html", Document("index"))
	WriteFile(t, projectDir, "dist/main.html", Document("main"))
	WriteFile(t, projectDir, "dist/subpath/index.html", Document("subpath"))
	WriteFile(t, projectDir, "dist/assets/app.js", "console.log('built');\n")
	WriteFile(t, projectDir, "dist/assets/app.css", "body{margin:0}\n")

	return projectDir
}

// Document returns a minimal HTML document whose body is name.
func Document(name string) string {
	return "<!doctype html><html><head><title>" + name + "</title></head><body>" + name + "</body></html>"
}

// WriteFile writes content to dir/name, creating parent directories.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// FakeTool is an in-process build tool.
type FakeTool struct {
	// Config is returned by ResolveConfig unless ResolveErr is set.
	Config     buildtool.ResolvedConfig
	ResolveErr error
	// StartErr makes StartDevServer fail, e.g. with buildtool.ErrUnavailable.
	StartErr error
	// BuildErr makes Build fail. A successful Build copies the root's
	// documents into OutDir.
	BuildErr error
	// Assets are served by the dev server in addition to the client script.
	Assets map[string]string

	resolveCalls atomic.Int32
	buildCalls   atomic.Int32

	mu      sync.Mutex
	servers []*FakeDevServer
}

var _ buildtool.Tool = (*FakeTool)(nil)

func (f *FakeTool) Name() string { return "fake" }

func (f *FakeTool) ResolveConfig(_ context.Context, _ buildtool.Request) (buildtool.ResolvedConfig, error) {
	f.resolveCalls.Add(1)
	if f.ResolveErr != nil {
		return buildtool.ResolvedConfig{}, f.ResolveErr
	}
	return f.Config, nil
}

func (f *FakeTool) StartDevServer(_ context.Context, opts buildtool.DevServerOptions) (buildtool.DevServer, error) {
	if f.StartErr != nil {
		return nil, f.StartErr
	}

	srv := NewFakeDevServer(f.Assets)
	f.mu.Lock()
	f.servers = append(f.servers, srv)
	f.mu.Unlock()
	return srv, nil
}

func (f *FakeTool) Build(_ context.Context, req buildtool.Request) error {
	f.buildCalls.Add(1)
	if f.BuildErr != nil {
		return f.BuildErr
	}

	outDir := f.Config.OutDir
	if outDir == "" {
		outDir = buildtool.DefaultOutDir
	}
	if !filepath.IsAbs(outDir) {
		outDir = filepath.Join(req.WorkDir, outDir)
	}
	for _, name := range []string{"index.html", "main.html", "subpath/index.html"} {
		content, err := os.ReadFile(filepath.Join(req.WorkDir, filepath.FromSlash(name)))
		if err != nil {
			continue
		}
		dst := filepath.Join(outDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, content, 0644); err != nil {
			return err
		}
	}
	return nil
}

// ResolveCalls returns how many times ResolveConfig ran.
func (f *FakeTool) ResolveCalls() int { return int(f.resolveCalls.Load()) }

// BuildCalls returns how many times Build ran.
func (f *FakeTool) BuildCalls() int { return int(f.buildCalls.Load()) }

// Server returns the most recently started dev server.
func (f *FakeTool) Server() *FakeDevServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.servers) == 0 {
		return nil
	}
	return f.servers[len(f.servers)-1]
}

// FakeDevServer is an httptest-backed dev server. TransformHTML injects the
// client script tag and a comment naming the request URL.
type FakeDevServer struct {
	server *httptest.Server

	// TransformErr makes TransformHTML fail.
	TransformErr error

	mu            sync.Mutex
	transformURLs []string
	closed        bool
}

// NewFakeDevServer starts a dev server serving assets and the client script.
// Any other path answers 404.
func NewFakeDevServer(assets map[string]string) *FakeDevServer {
	f := &FakeDevServer{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/@vite/client" {
			w.Header().Set("Content-Type", "text/javascript")
			w.Header().Set("Content-Length", fmt.Sprint(len(ClientScript)))
			_, _ = w.Write([]byte(ClientScript))
			return
		}
		body, ok := assets[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/javascript")
		w.Header().Set("X-Dev-Server", "fake")
		if r.URL.RawQuery != "" {
			w.Header().Set("X-Query", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(body))
	}))
	return f
}

func (f *FakeDevServer) URL() *url.URL {
	u, _ := url.Parse(f.server.URL)
	return u
}

func (f *FakeDevServer) TransformHTML(_ context.Context, requestURL, html string) (string, error) {
	f.mu.Lock()
	f.transformURLs = append(f.transformURLs, requestURL)
	f.mu.Unlock()

	if f.TransformErr != nil {
		return "", f.TransformErr
	}
	tag := `<script type="module" src="/@vite/client"></script><!-- url:` + requestURL + ` -->`
	return strings.Replace(html, "<head>", "<head>"+tag, 1), nil
}

func (f *FakeDevServer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.server.Close()
	}
	return nil
}

// Closed reports whether Close was called.
func (f *FakeDevServer) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// TransformURLs returns the request URLs passed to TransformHTML.
func (f *FakeDevServer) TransformURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.transformURLs...)
}
