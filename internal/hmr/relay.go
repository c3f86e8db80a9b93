// Package hmr relays the dev server's hot-module-reload websocket through the
// host server, so the browser only ever talks to the host's port.
package hmr

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/conneroisu/devbridge/internal/buildtool"
	"github.com/conneroisu/devbridge/internal/logging"
	"github.com/conneroisu/devbridge/pkg/app"
)

// Subprotocol is the websocket subprotocol of hot-reload connections.
const Subprotocol = "vite-hmr"

// readLimit bounds a single relayed message.
const readLimit = 32 << 20

// Relay claims hot-reload upgrade requests and pipes their frames to the dev
// server. Every other request passes through.
type Relay struct {
	server buildtool.DevServer
	logger logging.Logger
}

// NewRelay creates a relay to server.
func NewRelay(server buildtool.DevServer, logger logging.Logger) *Relay {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Relay{server: server, logger: logger.WithComponent("hmr")}
}

// IsHMRUpgrade reports whether r asks for a hot-reload websocket.
func IsHMRUpgrade(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, value := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, proto := range strings.Split(value, ",") {
			if strings.TrimSpace(proto) == Subprotocol {
				return true
			}
		}
	}
	return false
}

// Handle implements app.HandlerFunc.
func (rl *Relay) Handle(w http.ResponseWriter, r *http.Request, next app.Next) {
	if !IsHMRUpgrade(r) {
		next(nil)
		return
	}

	ctx := r.Context()
	target := *rl.server.URL()
	if target.Scheme == "https" {
		target.Scheme = "wss"
	} else {
		target.Scheme = "ws"
	}
	target.Path = ""
	upstreamURL := strings.TrimSuffix(target.String(), "/") + app.OriginalURL(r)

	upstream, _, err := websocket.Dial(ctx, upstreamURL, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		rl.logger.Warn(ctx, err, "Unable to reach the dev server's hot-reload socket")
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer upstream.CloseNow()

	client, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:    []string{Subprotocol},
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		rl.logger.Warn(ctx, err, "Hot-reload upgrade failed")
		_ = upstream.Close(websocket.StatusGoingAway, "client upgrade failed")
		return
	}
	defer client.CloseNow()

	upstream.SetReadLimit(readLimit)
	client.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- pipe(ctx, upstream, client) }()
	go func() { errs <- pipe(ctx, client, upstream) }()

	err = <-errs
	cancel()

	status := websocket.CloseStatus(err)
	if status == -1 {
		status = websocket.StatusGoingAway
	}
	_ = client.Close(status, "")
	_ = upstream.Close(status, "")

	if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
		rl.logger.Debug(ctx, "Hot-reload relay closed", "status", status.String())
	}
}

// pipe copies messages from src to dst until either side fails.
func pipe(ctx context.Context, dst, src *websocket.Conn) error {
	for {
		typ, data, err := src.Read(ctx)
		if err != nil {
			return err
		}
		if err := dst.Write(ctx, typ, data); err != nil {
			return err
		}
	}
}
