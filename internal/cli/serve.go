package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/phrazzld/hearth/internal/api"
	"github.com/phrazzld/hearth/internal/config"
	"github.com/phrazzld/hearth/internal/engine"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds graceful shutdown of the HTTP server.
const ShutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Port int

	// ready, when set, receives the listener address once serving.
	ready func(addr net.Addr)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine and its HTTP API",
		Long: `Start the sync engine and serve the HTTP API until interrupted.

Local state and the sync queue are restored from the cache on start. On
SIGINT or SIGTERM the server stops accepting requests, in-flight remote writes
settle and the queue is persisted.

Example:
  hearth serve --port 8080
  HEARTH_REMOTE_DRIVER=postgres HEARTH_REMOTE_URL=postgres://... hearth serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Port, "port", "p", 0, "port to listen on, 0 for any free port (overrides server.port)")
	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	cfg, log, err := opts.load(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = opts.Port
	}

	e, closeEngine, err := engine.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open engine: %w", err)
	}
	defer func() {
		if err := closeEngine(); err != nil {
			log.Error("failed to close engine resources", "error", err)
		}
	}()

	if err := e.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer e.Stop()

	stream := api.NewEventStream(e.Bus)
	server := &http.Server{
		Handler: api.NewRouter(e, stream, api.RouterOptions{
			Logger:      log,
			DefaultUser: cfg.Session.UserID,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.Server.Port)))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	logStart(log, cfg, ln.Addr())
	if opts.ready != nil {
		opts.ready(ln.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		stream.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server shutdown completed")
	return nil
}

func logStart(log *slog.Logger, cfg *config.Config, addr net.Addr) {
	log.Info("server listening",
		"addr", addr.String(),
		"log_level", cfg.Server.LogLevel,
		"remote_driver", cfg.Remote.Driver,
		"cache", cacheDescription(cfg.Cache),
		"default_user_set", cfg.Session.UserID != "")
	if cfg.Remote.URL != "" {
		log.Debug("remote configuration", "url_present", true)
	}
}

func cacheDescription(c config.CacheConfig) string {
	if c.Path == "" {
		return "memory"
	}
	return "sqlite"
}
