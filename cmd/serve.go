package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ruscigno/vprism/pkg/config"
	"github.com/Ruscigno/vprism/pkg/endpoint"
	"github.com/Ruscigno/vprism/pkg/logging"
	"github.com/Ruscigno/vprism/pkg/metrics"
	"github.com/Ruscigno/vprism/pkg/service"
	httptransport "github.com/Ruscigno/vprism/pkg/transport/http"
)

var (
	serveHost string
	servePort int
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  `Starts a http server and serves the versioned market data API`,
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides := map[string]any{}
		if cmd.Flags().Changed("host") {
			overrides["host"] = serveHost
		}
		if cmd.Flags().Changed("port") {
			overrides["port"] = servePort
		}
		if len(overrides) > 0 {
			cfg, err := rt.manager.Update(map[string]any{"server": overrides})
			if err != nil {
				return err
			}
			rt.cfg = cfg
		}
		return serve(cmd.Context(), rt.cfg, rt.logger)
	},
}

func serve(parent context.Context, cfg config.Config, logger *zap.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, logger)
	health := service.NewHealthService(a.registry, rt.manager.Current, metrics.NewHealthMetrics(a.metrics), logger, appVersion(cfg))
	endpoints := endpoint.MakeEndpoints(a.service, health, a.metrics, logger)

	handler := httptransport.NewHTTPHandler(endpoints, httptransport.HTTPConfig{
		MaxBodySize:    cfg.Server.MaxBodySize,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
		Metrics:        a.metrics,
		Prometheus:     a.prometheus.Handler(),
	})

	if cfg.Server.Reload {
		rt.manager.Watch(func(c config.Config) {
			a.service.UpdateConfig(c.Providers)
			rt.level.SetLevel(logging.ParseLevel(c.Logging.Level))
		})
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Providers.TimeoutDuration()*time.Duration(cfg.Providers.MaxRetries+1) + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server",
			zap.String("addr", srv.Addr),
			zap.String("version", appVersion(cfg)),
			zap.Bool("reload", cfg.Server.Reload))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

func init() {
	RootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
}
