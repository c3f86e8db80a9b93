package static

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/conneroisu/devbridge/internal/buildtool"
	"github.com/conneroisu/devbridge/internal/classify"
	"github.com/conneroisu/devbridge/internal/errors"
	"github.com/conneroisu/devbridge/internal/logging"
	"github.com/conneroisu/devbridge/pkg/app"
)

// HMRPortToken is the placeholder the dev server's client script carries in
// place of the port its hot-reload socket connects to.
const HMRPortToken = "__DEVBRIDGE_HMR_PORT__"

// forwardedHeaders are the request headers passed on to the dev server.
// Conditional and encoding headers are left out so every answer is a full,
// uncompressed 200.
var forwardedHeaders = []string{
	"Accept",
	"Accept-Language",
	"Referer",
	"Sec-Fetch-Dest",
	"User-Agent",
}

// DevProxyConfig configures a DevProxy.
type DevProxyConfig struct {
	Server buildtool.DevServer
	// Timeout bounds one exchange with the dev server. Zero disables it.
	Timeout time.Duration
	Logger  logging.Logger
	Client  *http.Client
}

// DevProxy forwards asset requests to a running dev server and relays the
// response. Requests the dev server cannot answer fall through.
type DevProxy struct {
	server  buildtool.DevServer
	timeout time.Duration
	logger  logging.Logger
	client  *http.Client

	failures rate.Sometimes
}

// NewDevProxy creates a proxy for cfg.Server.
func NewDevProxy(cfg DevProxyConfig) *DevProxy {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &DevProxy{
		server:   cfg.Server,
		timeout:  cfg.Timeout,
		logger:   logger.WithComponent("dev-proxy"),
		client:   client,
		failures: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// Forward performs the upstream exchange for r: same path and query as the
// request originally received by the host. A non-2xx answer is returned as
// an upstream error with the response already closed. On success the caller
// owns the response body.
func (p *DevProxy) Forward(ctx context.Context, r *http.Request) (*http.Response, error) {
	target := strings.TrimSuffix(p.server.URL().String(), "/") + app.OriginalURL(r)

	req, err := http.NewRequestWithContext(ctx, r.Method, target, nil)
	if err != nil {
		return nil, errors.NewInternalError("building dev server request", err)
	}
	for _, name := range forwardedHeaders {
		if v := r.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.NewUpstreamError(errors.CodeUpstreamFailed, "dev server request failed", err).WithPath(r.URL.Path)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, errors.NewUpstreamError(errors.CodeUpstreamStatus, "dev server answered "+resp.Status, nil).WithPath(r.URL.Path)
	}

	return resp, nil
}

// Handle implements app.HandlerFunc.
func (p *DevProxy) Handle(w http.ResponseWriter, r *http.Request, next app.Next) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		next(nil)
		return
	}
	if !classify.IsAssetPath(r.URL.Path) {
		next(nil)
		return
	}

	ctx := r.Context()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	resp, err := p.Forward(ctx, r)
	if err != nil {
		if errors.HasCode(err, errors.CodeUpstreamFailed) {
			p.failures.Do(func() {
				p.logger.Warn(ctx, err, "Dev server unreachable, passing request on", "path", r.URL.Path)
			})
		}
		next(nil)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for name, values := range resp.Header {
		header[name] = append([]string(nil), values...)
	}

	if !classify.IsClientScript(r.URL.Path) {
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		header.Del("Content-Length")
		next(errors.NewUpstreamError(errors.CodeUpstreamFailed, "reading client script", err).WithPath(r.URL.Path))
		return
	}

	patched := strings.ReplaceAll(string(body), HMRPortToken, HostPort(r))
	header.Del("Content-Length")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, patched)
}

// HostPort returns the port the client used to reach the host server.
func HostPort(r *http.Request) string {
	if _, port, err := net.SplitHostPort(r.Host); err == nil && port != "" {
		return port
	}
	if r.TLS != nil {
		return "443"
	}
	return "80"
}
