// Package app is a minimal ordered-handler host application on net/http.
//
// Handlers run in registration order. Each one either writes a response or
// calls next to pass control on; next(err) skips the remaining handlers and
// runs the error handler. When every handler has passed, the request ends in
// a 404 "Cannot <METHOD> <path>" response.
//
// Invariants:
//   - the layer list is only modified through Use, Mount, UseLayer, Handle,
//     Get, Wrap and InsertAfter
//   - a request observes a snapshot of the layers taken when it arrived
//   - calling next more than once from the same handler has no effect
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/conneroisu/devbridge/internal/errors"
)

// Next passes control to the next matching layer. A non-nil error skips the
// remaining layers and runs the error handler.
type Next func(err error)

// HandlerFunc handles a request or passes it on.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, next Next)

// ErrorHandler reports an error passed to Next.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Layer is one named entry of the chain.
type Layer struct {
	// Name identifies the layer for InsertAfter. Names need not be unique.
	Name string
	// Path scopes the layer to a URL prefix. Requests outside it skip the
	// layer; matching requests see the prefix stripped from URL.Path.
	Path string
	// Handler runs for matching requests.
	Handler HandlerFunc
}

// App is an ordered chain of layers.
type App struct {
	mu           sync.RWMutex
	layers       []Layer
	errorHandler ErrorHandler
}

// New creates an empty application.
func New() *App {
	return &App{}
}

// Use appends a handler matching every request.
func (a *App) Use(h HandlerFunc) {
	a.UseLayer(Layer{Name: handlerName(h), Handler: h})
}

// Mount appends a handler scoped to the path prefix.
func (a *App) Mount(path string, h HandlerFunc) {
	a.UseLayer(Layer{Name: handlerName(h), Path: path, Handler: h})
}

// UseLayer appends a layer.
func (a *App) UseLayer(l Layer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.layers = append(a.layers, l)
}

// InsertAfter places l immediately after the first layer named marker and
// reports whether the marker was found. Without a marker l is appended.
func (a *App) InsertAfter(marker string, l Layer) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, existing := range a.layers {
		if existing.Name != marker {
			continue
		}
		a.layers = append(a.layers[:i+1], append([]Layer{l}, a.layers[i+1:]...)...)
		return true
	}

	a.layers = append(a.layers, l)
	return false
}

// Handle appends a route answering requests for exactly pattern. An empty
// method matches every method; GET routes also answer HEAD.
func (a *App) Handle(method, pattern string, h http.Handler) {
	a.UseLayer(Layer{
		Name: strings.TrimSpace(method + " " + pattern),
		Handler: func(w http.ResponseWriter, r *http.Request, next Next) {
			if !methodMatches(method, r.Method) || r.URL.Path != pattern {
				next(nil)
				return
			}
			h.ServeHTTP(w, r)
		},
	})
}

// Get appends a GET route.
func (a *App) Get(pattern string, h http.HandlerFunc) {
	a.Handle(http.MethodGet, pattern, h)
}

// Wrap appends a standard net/http middleware. Layers after it see the
// request and writer the middleware passes to its inner handler.
func (a *App) Wrap(mw func(http.Handler) http.Handler) {
	a.UseLayer(Layer{
		Name: fmt.Sprintf("wrap:%p", mw),
		Handler: func(w http.ResponseWriter, r *http.Request, next Next) {
			mw(http.HandlerFunc(func(w2 http.ResponseWriter, r2 *http.Request) {
				if d, ok := r2.Context().Value(dispatchKey{}).(*dispatch); ok {
					d.replace(w2, r2)
				}
				next(nil)
			})).ServeHTTP(w, r)
		},
	})
}

// SetErrorHandler replaces the handler for errors passed to Next.
func (a *App) SetErrorHandler(h ErrorHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errorHandler = h
}

// Names returns the layer names in chain order.
func (a *App) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, len(a.layers))
	for i, l := range a.layers {
		names[i] = l.Name
	}
	return names
}

// ServeHTTP runs the chain.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	layers := make([]Layer, len(a.layers))
	copy(layers, a.layers)
	onError := a.errorHandler
	a.mu.RUnlock()

	if onError == nil {
		onError = DefaultErrorHandler
	}

	d := &dispatch{layers: layers, onError: onError, w: w}
	ctx := r.Context()
	if _, ok := ctx.Value(originalURLKey{}).(string); !ok {
		ctx = context.WithValue(ctx, originalURLKey{}, r.URL.RequestURI())
	}
	d.r = r.WithContext(context.WithValue(ctx, dispatchKey{}, d))

	d.next(nil)
}

// DefaultErrorHandler writes the status text of the status errors.StatusCode
// maps err to.
func DefaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	status := errors.StatusCode(err)
	http.Error(w, http.StatusText(status), status)
}

// NotFound writes the response for requests no layer handled.
func NotFound(w http.ResponseWriter, r *http.Request) {
	http.Error(w, fmt.Sprintf("Cannot %s %s", r.Method, r.URL.Path), http.StatusNotFound)
}

// OriginalURL returns the request URI as received by the application, before
// any mount prefix was stripped.
func OriginalURL(r *http.Request) string {
	if u, ok := r.Context().Value(originalURLKey{}).(string); ok {
		return u
	}
	return r.URL.RequestURI()
}

type (
	originalURLKey struct{}
	dispatchKey    struct{}
)

// dispatch is the state of one request walking the chain.
type dispatch struct {
	mu      sync.Mutex
	layers  []Layer
	index   int
	onError ErrorHandler
	w       http.ResponseWriter
	r       *http.Request
}

func (d *dispatch) replace(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Keep the unstripped URL for the layers that follow.
	r2 := r.WithContext(r.Context())
	r2.URL = d.r.URL
	d.w, d.r = w, r2
}

func (d *dispatch) next(err error) {
	d.mu.Lock()
	w, r := d.w, d.r
	if err != nil {
		d.index = len(d.layers)
		d.mu.Unlock()
		d.onError(w, r, err)
		return
	}

	for d.index < len(d.layers) {
		l := d.layers[d.index]
		d.index++

		req, ok := matchPath(l.Path, r)
		if !ok || l.Handler == nil {
			continue
		}
		d.mu.Unlock()

		var once sync.Once
		l.Handler(w, req, func(err error) {
			once.Do(func() { d.next(err) })
		})
		return
	}
	d.mu.Unlock()

	NotFound(w, r)
}

// matchPath reports whether r falls under prefix and returns the request the
// layer sees, with the prefix stripped.
func matchPath(prefix string, r *http.Request) (*http.Request, bool) {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return r, true
	}

	path := r.URL.Path
	if path != prefix && !strings.HasPrefix(path, prefix+"/") {
		return nil, false
	}

	stripped := new(http.Request)
	*stripped = *r
	u := *r.URL
	u.Path = strings.TrimPrefix(path, prefix)
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawPath = ""
	stripped.URL = &u

	return stripped, true
}

func methodMatches(route, method string) bool {
	return route == "" || route == method || (route == http.MethodGet && method == http.MethodHead)
}

func handlerName(h HandlerFunc) string {
	return fmt.Sprintf("handler:%p", h)
}
