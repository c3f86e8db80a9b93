package static

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/devbridge/internal/logging"
	"github.com/conneroisu/devbridge/internal/testutils"
	"github.com/conneroisu/devbridge/pkg/app"
)

func newProxyApp(proxy *DevProxy) *app.App {
	a := app.New()
	a.Use(proxy.Handle)
	a.Use(func(w http.ResponseWriter, r *http.Request, next app.Next) {
		w.Header().Set("X-Fallthrough", "1")
		next(nil)
	})
	return a
}

func TestDevProxyForwardsAssets(t *testing.T) {
	srv := testutils.NewFakeDevServer(map[string]string{"/src/main.js": "export default 1"})
	defer srv.Close()
	a := newProxyApp(NewDevProxy(DevProxyConfig{Server: srv, Timeout: time.Second}))

	w := httptest.NewRecorder()
	a.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/src/main.js?t=123", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "export default 1", w.Body.String())
	assert.Equal(t, "fake", w.Header().Get("X-Dev-Server"))
	assert.Equal(t, "t=123", w.Header().Get("X-Query"))
	assert.Empty(t, w.Header().Get("X-Fallthrough"))
}

func TestDevProxyFallsThroughOnNotFound(t *testing.T) {
	srv := testutils.NewFakeDevServer(nil)
	defer srv.Close()
	a := newProxyApp(NewDevProxy(DevProxyConfig{Server: srv}))

	w := httptest.NewRecorder()
	a.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing.js", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Fallthrough"))
	assert.Contains(t, w.Body.String(), "Cannot GET /missing.js")
}

func TestDevProxySkipsDocuments(t *testing.T) {
	srv := testutils.NewFakeDevServer(nil)
	defer srv.Close()
	a := newProxyApp(NewDevProxy(DevProxyConfig{Server: srv}))

	for _, path := range []string{"/", "/about", "/index.html"} {
		w := httptest.NewRecorder()
		a.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, "1", w.Header().Get("X-Fallthrough"), path)
	}
}

func TestDevProxyRewritesClientScript(t *testing.T) {
	srv := testutils.NewFakeDevServer(nil)
	defer srv.Close()
	a := newProxyApp(NewDevProxy(DevProxyConfig{Server: srv}))

	req := httptest.NewRequest(http.MethodGet, "/@vite/client", nil)
	req.Host = "localhost:4321"
	w := httptest.NewRecorder()
	a.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "const hmrPort = 4321;")
	assert.NotContains(t, w.Body.String(), HMRPortToken)
	assert.Empty(t, w.Header().Get("Content-Length"))
}

type unreachableServer struct{}

func (unreachableServer) URL() *url.URL {
	u, _ := url.Parse("http://127.0.0.1:1")
	return u
}

func (unreachableServer) TransformHTML(context.Context, string, string) (string, error) {
	return "", nil
}

func (unreachableServer) Close() error { return nil }

func TestDevProxyUnreachable(t *testing.T) {
	proxy := NewDevProxy(DevProxyConfig{Server: unreachableServer{}, Timeout: time.Second, Logger: logging.Discard()})
	a := newProxyApp(proxy)

	w := httptest.NewRecorder()
	a.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/src/main.js", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Fallthrough"))
}

func TestDevProxyTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	target, _ := url.Parse(slow.URL)
	proxy := NewDevProxy(DevProxyConfig{Server: staticURL{target}, Timeout: 50 * time.Millisecond})
	a := newProxyApp(proxy)

	start := time.Now()
	w := httptest.NewRecorder()
	a.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow.js", nil))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "1", w.Header().Get("X-Fallthrough"))
}

type staticURL struct{ u *url.URL }

func (s staticURL) URL() *url.URL { return s.u }

func (staticURL) TransformHTML(context.Context, string, string) (string, error) { return "", nil }

func (staticURL) Close() error { return nil }

func TestHostPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	req.Host = "example.com:8080"
	assert.Equal(t, "8080", HostPort(req))

	req.Host = "example.com"
	assert.Equal(t, "80", HostPort(req))
}
