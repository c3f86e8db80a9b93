package hmr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/devbridge/pkg/app"
)

type upstreamServer struct {
	server *httptest.Server
}

func (u upstreamServer) URL() *url.URL {
	parsed, _ := url.Parse(u.server.URL)
	return parsed
}

func (upstreamServer) TransformHTML(_ context.Context, _, html string) (string, error) {
	return html, nil
}

func (u upstreamServer) Close() error {
	u.server.Close()
	return nil
}

// newEchoUpstream answers hot-reload sockets with a connected message and
// echoes everything back prefixed with the request path.
func newEchoUpstream(t *testing.T) upstreamServer {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{Subprotocol}})
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"connected"}`))
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if err := conn.Write(ctx, typ, append([]byte(r.URL.Path+":"), data...)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return upstreamServer{server: srv}
}

func TestIsHMRUpgrade(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, IsHMRUpgrade(req))

	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Protocol", "chat")
	assert.False(t, IsHMRUpgrade(req))

	req.Header.Set("Sec-WebSocket-Protocol", "chat, vite-hmr")
	assert.True(t, IsHMRUpgrade(req))
}

func TestRelay(t *testing.T) {
	upstream := newEchoUpstream(t)

	a := app.New()
	a.Use(NewRelay(upstream, nil).Handle)
	a.Get("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("page"))
	})
	host := httptest.NewServer(a)
	defer host.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(host.URL, "http") + "/app/"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{Subprotocols: []string{Subprotocol}})
	require.NoError(t, err)
	defer conn.CloseNow()

	assert.Equal(t, Subprotocol, conn.Subprotocol())

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"connected"}`, string(data))

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("ping")))
	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/app/:ping", string(data))

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	resp, err := http.Get(host.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRelayUpstreamDown(t *testing.T) {
	upstream := newEchoUpstream(t)
	upstream.server.Close()

	a := app.New()
	a.Use(NewRelay(upstream, nil).Handle)
	host := httptest.NewServer(a)
	defer host.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(host.URL, "http") + "/"
	_, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{Subprotocols: []string{Subprotocol}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
