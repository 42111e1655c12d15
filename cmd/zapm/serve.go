package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/zapm/internal/config"
	"github.com/loykin/zapm/internal/metrics"
	"github.com/loykin/zapm/internal/monitor"
	"github.com/loykin/zapm/internal/server"
	"github.com/loykin/zapm/internal/store/yamlfile"
	"github.com/loykin/zapm/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

func createServerCommand(global *GlobalFlags) *cobra.Command {
	flags := &ServerFlags{}
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the HTTP API server and the process monitor",
		Long: `Run the zapm server in the foreground. It serves the HTTP API, checks
every running process on an interval and restarts dead auto_restart ones.

Examples:
  zapm server
  zapm server --host 0.0.0.0 --port 2400`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, global.ConfigDir, *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Host, "host", "", "listen host (default server.host)")
	cmd.Flags().IntVarP(&flags.Port, "port", "p", 0, "listen port (default server.port)")
	return cmd
}

func runServer(ctx context.Context, dir string, f ServerFlags) error {
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	if f.Host != "" {
		cfg.Server.Host = f.Host
	}
	if f.Port > 0 {
		cfg.Server.Port = f.Port
	}
	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Addr(), err)
	}
	a, err := openAppWith(ctx, cfg, appOptions{console: os.Stderr})
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() { _ = a.Close() }()
	return serve(ctx, a, ln)
}

// serve runs the API on ln together with the monitor and, for a YAML store,
// the file watcher. It returns after ctx is cancelled and everything stopped.
func serve(ctx context.Context, a *app, ln net.Listener) error {
	log := a.logger.With("component", "server")
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := []server.Option{server.WithLogger(a.logger)}
	if a.cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			log.Warn("failed to register metrics", "error", err)
		}
		resources := prometheus.NewRegistry()
		resources.MustRegister(metrics.NewResourceCollector(a.sup.Samples))
		opts = append(opts, server.WithMetrics(metrics.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, resources})))
	}

	mon := monitor.New(a.sup, a.cfg.Monitor, a.logger)
	mon.Start(ctx)
	defer mon.Stop()

	watchDone := make(chan struct{})
	if ys, ok := a.store.(*yamlfile.Store); ok {
		go func() {
			defer close(watchDone)
			if err := watcher.Watch(ctx, ys, a.reg, a.logger); err != nil {
				log.Warn("store watcher stopped", "error", err)
			}
		}()
	} else {
		close(watchDone)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := server.NewServer(ln.Addr().String(), server.NewRouter(a.sup, opts...).Handler())
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	log.Info("zapm server listening", "addr", ln.Addr().String(), "store", a.cfg.Store.DSN, "metrics", a.cfg.Metrics.Enabled)
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug("sd_notify failed", "error", err)
	} else if ok {
		log.Debug("notified systemd")
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("shutting down")
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	<-watchDone
	return serveErr
}
