package cmd

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/devbridge/internal/middleware"
	"github.com/conneroisu/devbridge/internal/version"
	"github.com/conneroisu/devbridge/pkg/app"
	"github.com/conneroisu/devbridge/pkg/bridge"
)

// HealthPath answers with the bridge state as JSON.
const HealthPath = "/__devbridge/health"

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Serve the project behind a host application",
	Long: `Serve the project behind a minimal host application.

Examples:
  devbridge serve                              # Development mode on port 3000
  devbridge serve --mode production -p 8080    # Serve the compiled output
  devbridge serve --ignore '^/api/'            # Leave /api/ routes to the host
  devbridge serve --inject-head '<base href="/">'`,
	RunE: runServe,
}

var (
	serveCORSOrigins  []string
	serveNoRequestLog bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 3000, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().String("ignore", "", "Regular expression of paths never answered with a document")
	serveCmd.Flags().String("inject-head", "", "Markup inserted at the start of every document's <head>")
	serveCmd.Flags().String("dev-server-timeout", "", "Bound on one exchange with the dev server (0 disables)")
	serveCmd.Flags().StringSliceVar(&serveCORSOrigins, "cors-origin", nil, "Allowed cross-origin callers (default allows any)")
	serveCmd.Flags().BoolVar(&serveNoRequestLog, "no-request-log", false, "Don't log every request")
	addFlagValidation(serveCmd.Flags(), "port", validatePort)
	addFlagValidation(serveCmd.Flags(), "ignore", validatePattern)

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("ignore", serveCmd.Flags().Lookup("ignore"))
	_ = viper.BindPFlag("inject_head", serveCmd.Flags().Lookup("inject-head"))
	_ = viper.BindPFlag("dev_server_timeout", serveCmd.Flags().Lookup("dev-server-timeout"))
}

func runServe(cmd *cobra.Command, args []string) error {
	b, cfg, err := loadBridge(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newHostApp(b)
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))

	return b.Listen(ctx, a, addr, func() {
		fmt.Fprintf(cmd.OutOrStdout(), "Server is listening on http://%s\n", b.Addr())
	})
}

// newHostApp builds the host application serve binds the bridge to.
func newHostApp(b *bridge.Bridge) *app.App {
	chain := middleware.NewChain()
	if !serveNoRequestLog {
		chain.Add(middleware.RequestLogging(b.Logger()))
	}
	chain.Add(middleware.CORS(serveCORSOrigins))

	a := app.New()
	a.Wrap(chain.Apply)
	a.Get(HealthPath, func(w http.ResponseWriter, r *http.Request) {
		cfg := b.Config()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"state":   b.State().String(),
			"mode":    string(cfg.Mode),
			"version": version.Get().Version,
		})
	})
	a.UseLayer(b.Static())
	return a
}
