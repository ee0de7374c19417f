package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/pagecut/internal/config"
	"github.com/kirillkom/pagecut/internal/core/ports"
	"github.com/kirillkom/pagecut/internal/core/usecase"
	cacheredis "github.com/kirillkom/pagecut/internal/infrastructure/cache/redis"
	"github.com/kirillkom/pagecut/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/pagecut/internal/infrastructure/imaging"
	"github.com/kirillkom/pagecut/internal/infrastructure/inference/sam"
	"github.com/kirillkom/pagecut/internal/infrastructure/inference/yolo"
	"github.com/kirillkom/pagecut/internal/infrastructure/queue/nats"
	"github.com/kirillkom/pagecut/internal/infrastructure/raster/poppler"
	"github.com/kirillkom/pagecut/internal/infrastructure/raster/remote"
	"github.com/kirillkom/pagecut/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/pagecut/internal/infrastructure/resilience"
	"github.com/kirillkom/pagecut/internal/infrastructure/storage/localfs"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue    ports.MessageQueue
	Repo     ports.DocumentRepository
	PageLogs ports.PageLogRepository
	Storage  *localfs.Storage
	Cropper  *imaging.Cropper

	Images    *usecase.PageImageCache
	Sessions  *usecase.SessionRegistry
	IngestUC  *usecase.IngestDocumentUseCase
	ProcessUC ports.DocumentProcessor

	closeFn func()
}

type Option func(*options)

type options struct {
	queueLag func(time.Duration)
	outbound  resilience.Observer
	prerender usecase.PrerenderObserver
}

// WithQueueLagObserver reports how long each upload event waited in the queue.
func WithQueueLagObserver(fn func(time.Duration)) Option {
	return func(o *options) { o.queueLag = fn }
}

// WithOutboundObserver reports retries and breaker transitions of every outbound collaborator.
func WithOutboundObserver(observer resilience.Observer) Option {
	return func(o *options) { o.outbound = observer }
}

// WithPrerenderObserver reports how the worker made each leading page available.
func WithPrerenderObserver(observer usecase.PrerenderObserver) Option {
	return func(o *options) { o.prerender = observer }
}

// New wires every adapter. observer receives pipeline events and may be nil.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, observer usecase.PipelineObserver, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath, cfg.PublicBaseURL)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	kv, err := openCache(ctx, cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache: %w", err)
	}

	outbound := resilienceConfig(cfg)
	outbound.Logger = logger
	outbound.Observer = o.outbound
	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: resilience.NewExecutor(outbound),
		Logger:             logger,
		OnQueueLag:         o.queueLag,
	})
	if err != nil {
		_ = kv.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	raster := newRasterizer(cfg, storage, outbound, logger)
	pageLogs := postgres.NewPageLogRepository(db)
	cropper := imaging.NewCropper()
	segmenter := sam.New(cfg.SAMURL, storage, outbound)

	images := usecase.NewPageImageCache(raster, storage, cacheredis.NewPageIndex(kv, cfg.PageIndexTTL), logger, observer)
	registry := usecase.NewSessionRegistry(ctx, usecase.RegistryConfig{
		Documents:  repo,
		Images:     images,
		Blobs:      storage,
		Points:     segmenter,
		Everything: yolo.New(cfg.YOLOURL, cfg.YOLOSharedRoot, outbound),
		Categories: segmenter,
		Objects:    segmenter,
		MaskCache:  cacheredis.NewMaskCache(kv, cfg.MaskCacheTTL),
		Results:    cacheredis.NewResultStore(kv),
		PageLogs:   pageLogs,
		Cutouts:    postgres.NewCutoutRepository(db),
		Cropper:    cropper,
		Export:     usecase.NewExportUseCase(storage, xlsx.NewManifestWriter(), logger),
		Scheduler: usecase.SchedulerOptions{
			BatchSize:    cfg.BatchSize,
			PageDelay:    cfg.SweepPageDelay,
			PollInterval: cfg.SweepPollInterval,
		},
		GridSize:       cfg.ClickGridSize,
		CollectResults: cfg.CollectResults,
		SweepOnOpen:    cfg.SweepOnUpload,
		Model:          cfg.SegmentModel,
		Logger:         logger,
		Observer:       observer,
	})

	ingestUC := usecase.NewIngestDocumentUseCase(repo, storage, raster, queue, registry, logger)
	processUC := usecase.NewProcessDocumentUseCase(repo, images, cfg.WorkerPrerenderPages, cfg.WorkerPrerenderConcurrency, logger).
		WithObserver(o.prerender)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Queue:    queue,
		Repo:     repo,
		PageLogs: pageLogs,
		Storage:  storage,
		Cropper:  cropper,

		Images:    images,
		Sessions:  registry,
		IngestUC:  ingestUC,
		ProcessUC: processUC,

		closeFn: func() {
			registry.CloseAll()
			queue.Close()
			_ = kv.Close()
			closeDB(db, logger)
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func openCache(ctx context.Context, cfg config.Config, logger *slog.Logger) (cacheredis.KV, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("redis_disabled", "reason", "REDIS_ADDR is empty, page index and mask cache are process-local")
		return cacheredis.NewMemoryClient(), nil
	}
	return cacheredis.New(ctx, cacheredis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   cfg.RedisPrefix,
	})
}

func newRasterizer(cfg config.Config, storage *localfs.Storage, outbound resilience.Config, logger *slog.Logger) ports.Rasterizer {
	if cfg.RasterMode == "remote" {
		return remote.New(cfg.RasterURL, storage, outbound)
	}
	return poppler.New(storage, cfg.RasterDPI, logger, poppler.WithBinary(cfg.RasterBin))
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.RetryMaxAttempts
	out.RetryInitialBackoff = cfg.RetryInitialBackoff
	out.RetryMaxBackoff = cfg.RetryMaxBackoff
	out.BreakerEnabled = cfg.BreakerEnabled
	out.BreakerOpenTimeout = cfg.BreakerOpenTimeout
	out.RateLimit = cfg.OutboundRateLimit
	out.RateBurst = cfg.OutboundRateBurst
	return out
}

func closeDB(db *sql.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("postgres_close_failed", "error", err)
	}
}
