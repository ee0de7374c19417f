package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/pagecut/internal/adapters/http"
	"github.com/kirillkom/pagecut/internal/bootstrap"
	"github.com/kirillkom/pagecut/internal/config"
	"github.com/kirillkom/pagecut/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/pagecut/internal/observability/logging"
	"github.com/kirillkom/pagecut/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, "api", cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	pipeline := metrics.NewPipelineMetrics("api", httpMetrics.Registerer())

	app, err := bootstrap.New(ctx, cfg, logger, pipeline, bootstrap.WithOutboundObserver(pipeline))
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	files := http.StripPrefix(localfs.FilesPrefix, http.FileServer(http.Dir(app.Storage.Root())))
	router := httpadapter.NewRouter(cfg, httpadapter.Dependencies{
		Ingest:   app.IngestUC,
		Docs:     app.Repo,
		Sessions: app.Sessions,
		PageLogs: app.PageLogs,
		Thumbs:   app.Cropper,
		Files:    files,
		Metrics:  httpMetrics,
		Logger:   logger,
	}).Handler()

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "raster_mode", cfg.RasterMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_failed", "error", err)
	}
}
