// Package vite drives a project's Vite installation as a node subprocess.
// It implements buildtool.Tool.
package vite

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/devbridge/internal/buildtool"
	"github.com/conneroisu/devbridge/internal/errors"
	"github.com/conneroisu/devbridge/internal/logging"
	"github.com/conneroisu/devbridge/internal/static"
)

const (
	// DefaultNode is the node binary looked up on PATH.
	DefaultNode = "node"
	// DefaultReadyTimeout bounds the wait for a dev server to start listening.
	DefaultReadyTimeout = 30 * time.Second
	// DefaultShutdownGrace is how long a dev server may take to exit after
	// its stdin is closed before it is killed.
	DefaultShutdownGrace = 5 * time.Second

	transformPath = "/__devbridge/transform"
)

// Tool runs Vite through node.
type Tool struct {
	node          string
	logger        logging.Logger
	readyTimeout  time.Duration
	shutdownGrace time.Duration
	client        *http.Client
}

// Option configures a Tool.
type Option func(*Tool)

// WithNode sets the node binary.
func WithNode(path string) Option {
	return func(t *Tool) { t.node = path }
}

// WithLogger sets the logger subprocess output is written to.
func WithLogger(logger logging.Logger) Option {
	return func(t *Tool) { t.logger = logger }
}

// WithReadyTimeout bounds the dev server start.
func WithReadyTimeout(d time.Duration) Option {
	return func(t *Tool) { t.readyTimeout = d }
}

// WithShutdownGrace sets how long Close waits before killing a dev server.
func WithShutdownGrace(d time.Duration) Option {
	return func(t *Tool) { t.shutdownGrace = d }
}

// New creates a Vite tool.
func New(opts ...Option) *Tool {
	t := &Tool{
		node:          DefaultNode,
		logger:        logging.Discard(),
		readyTimeout:  DefaultReadyTimeout,
		shutdownGrace: DefaultShutdownGrace,
		client:        &http.Client{},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.WithComponent("vite")
	return t
}

// Name implements buildtool.Tool.
func (t *Tool) Name() string { return "vite" }

// ResolveConfig implements buildtool.Tool.
func (t *Tool) ResolveConfig(ctx context.Context, req buildtool.Request) (buildtool.ResolvedConfig, error) {
	if err := t.available(req.WorkDir); err != nil {
		return buildtool.ResolvedConfig{}, err
	}

	cmd := t.command(ctx, req, resolveScript)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return buildtool.ResolvedConfig{}, fmt.Errorf("vite config resolution timed out: %w", ctx.Err())
		}
		return buildtool.ResolvedConfig{}, fmt.Errorf("vite config resolution failed: %w%s", err, stderrOf(err))
	}

	return parseResolved(output)
}

// Build implements buildtool.Tool.
func (t *Tool) Build(ctx context.Context, req buildtool.Request) error {
	if err := t.available(req.WorkDir); err != nil {
		return err
	}

	cmd := t.command(ctx, req, buildScript)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("vite build timed out: %w", ctx.Err())
		}
		return fmt.Errorf("vite build failed: %w\n%s", err, strings.TrimSpace(string(output)))
	}

	t.logLines(ctx, output)
	return nil
}

// StartDevServer implements buildtool.Tool. The returned server is not tied
// to ctx; ctx only bounds the start.
func (t *Tool) StartDevServer(ctx context.Context, opts buildtool.DevServerOptions) (buildtool.DevServer, error) {
	if err := t.available(opts.WorkDir); err != nil {
		return nil, err
	}

	logger := t.logger
	if opts.Logger != nil {
		logger = opts.Logger.WithComponent("vite")
	}

	cmd := exec.Command(t.node, "--input-type=module", "-e", devScript)
	cmd.Dir = opts.WorkDir
	cmd.Env = append(t.env(opts.Request),
		"DEVBRIDGE_ROOT="+opts.Root,
		"DEVBRIDGE_BASE="+opts.Base,
		"DEVBRIDGE_HMR_PORT="+static.HMRPortToken,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.NewBuildError(errors.CodeDevServerStart, "opening dev server stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.NewBuildError(errors.CodeDevServerStart, "opening dev server stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.NewBuildError(errors.CodeDevServerStart, "opening dev server stderr", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.NewBuildError(errors.CodeDevServerStart, "starting dev server", err)
	}

	ds := &devServer{
		cmd:    cmd,
		stdin:  stdin,
		client: t.client,
		grace:  t.shutdownGrace,
		done:   make(chan struct{}),
	}

	ready := make(chan int, 1)
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		scanOutput(stdout, ready, logger)
	}()
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Warn(context.Background(), nil, scanner.Text())
		}
	}()
	go func() {
		readers.Wait()
		ds.waitErr = cmd.Wait()
		close(ds.done)
	}()

	timer := time.NewTimer(t.readyTimeout)
	defer timer.Stop()

	select {
	case port := <-ready:
		ds.url = &url.URL{Scheme: "http", Host: "127.0.0.1:" + strconv.Itoa(port)}
		logger.Info(ctx, "Vite dev server is listening", "url", ds.url.String())
		return ds, nil
	case <-ds.done:
		return nil, errors.NewBuildError(errors.CodeDevServerStart, "dev server exited before listening", ds.waitErr)
	case <-timer.C:
		_ = ds.Close()
		return nil, errors.NewBuildError(errors.CodeDevServerStart, "dev server did not start listening in time", nil).
			WithContext("timeout", t.readyTimeout.String())
	case <-ctx.Done():
		_ = ds.Close()
		return nil, errors.NewBuildError(errors.CodeDevServerStart, "dev server start cancelled", ctx.Err())
	}
}

// available reports buildtool.ErrUnavailable unless node is on PATH and
// vite is installed for workDir.
func (t *Tool) available(workDir string) error {
	if _, err := exec.LookPath(t.node); err != nil {
		return fmt.Errorf("%w: %w", buildtool.ErrUnavailable, err)
	}
	if _, ok := FindPackage(workDir); !ok {
		return fmt.Errorf("%w: vite is not installed for %s", buildtool.ErrUnavailable, workDir)
	}
	return nil
}

func (t *Tool) command(ctx context.Context, req buildtool.Request, script string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, t.node, "--input-type=module", "-e", script)
	cmd.Dir = req.WorkDir
	cmd.Env = t.env(req)
	return cmd
}

func (t *Tool) env(req buildtool.Request) []string {
	env := os.Environ()
	if req.ConfigFile != "" {
		env = append(env, "DEVBRIDGE_CONFIG_FILE="+req.ConfigFile)
	}
	return env
}

func (t *Tool) logLines(ctx context.Context, output []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			t.logger.Debug(ctx, line)
		}
	}
}

// FindPackage walks up from dir looking for node_modules/vite and returns the
// package directory.
func FindPackage(dir string) (string, bool) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}

	for {
		candidate := filepath.Join(dir, "node_modules", "vite")
		if info, err := os.Stat(filepath.Join(candidate, "package.json")); err == nil && info.Mode().IsRegular() {
			return candidate, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// scanOutput hands the port of the ready line to ready and logs every other
// line.
func scanOutput(r io.Reader, ready chan<- int, logger logging.Logger) {
	scanner := bufio.NewScanner(r)
	announced := false
	for scanner.Scan() {
		line := scanner.Text()
		if !announced {
			if port, ok := parseReady(line); ok {
				announced = true
				ready <- port
				continue
			}
		}
		if strings.TrimSpace(line) != "" {
			logger.Debug(context.Background(), line)
		}
	}
}

func parseReady(line string) (int, bool) {
	var msg struct {
		Ready bool `json:"ready"`
		Port  int  `json:"port"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &msg); err != nil {
		return 0, false
	}
	if !msg.Ready || msg.Port <= 0 || msg.Port > 65535 {
		return 0, false
	}
	return msg.Port, true
}

// parseResolved reads the configuration from the last non-empty line of the
// resolve script's output. Vite plugins may print before it.
func parseResolved(output []byte) (buildtool.ResolvedConfig, error) {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])

	var raw struct {
		Root   string `json:"root"`
		Base   string `json:"base"`
		OutDir string `json:"outDir"`
	}
	if err := json.Unmarshal([]byte(last), &raw); err != nil {
		return buildtool.ResolvedConfig{}, fmt.Errorf("unexpected vite config output %q: %w", last, err)
	}

	return buildtool.ResolvedConfig{Root: raw.Root, Base: raw.Base, OutDir: raw.OutDir}, nil
}

func stderrOf(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return "\n" + strings.TrimSpace(string(exitErr.Stderr))
	}
	return ""
}

type devServer struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	url    *url.URL
	client *http.Client
	grace  time.Duration

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
}

func (d *devServer) URL() *url.URL {
	u := *d.url
	return &u
}

func (d *devServer) TransformHTML(ctx context.Context, requestURL, html string) (string, error) {
	target := d.url.String() + transformPath + "?url=" + url.QueryEscape(requestURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(html))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/html; charset=utf-8")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vite transformIndexHtml answered %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

// Close asks the sidecar to exit by closing its stdin and kills it when it
// does not within the grace period.
func (d *devServer) Close() error {
	d.closeOnce.Do(func() {
		_ = d.stdin.Close()

		timer := time.NewTimer(d.grace)
		defer timer.Stop()

		select {
		case <-d.done:
		case <-timer.C:
			_ = d.cmd.Process.Kill()
			<-d.done
		}
	})
	return nil
}
