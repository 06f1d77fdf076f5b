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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mediavault/internal/config"
	"mediavault/internal/database"
	"mediavault/internal/domain/upload"
	"mediavault/internal/middleware"
	"mediavault/internal/optimizer"
	"mediavault/internal/pkg/logger"
	"mediavault/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", logger.Error(err))
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	log := logger.New(logger.FormatFor(cfg.IsProdLike()), level, os.Stdout, slog.String("service", "mediavault"))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

type app struct {
	router     *gin.Engine
	reconciler *upload.Reconciler
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	if stopReconcile := a.reconciler.Schedule(ctx); stopReconcile != nil {
		defer close(stopReconcile)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", slog.String("addr", cfg.HTTPAddr), slog.String("ledger", cfg.LedgerBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", slog.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	store, err := storage.NewLocal(cfg.UploadDir, storage.WithLogger(log))
	if err != nil {
		return nil, err
	}

	repo, err := openLedger(ctx, cfg, store, log)
	if err != nil {
		return nil, err
	}

	var transcoder optimizer.Transcoder
	if cfg.VideoTranscode == config.TranscodeAuto {
		ff := optimizer.NewFFmpeg(cfg.FFmpegPath, cfg.TranscodeTimeout, "", log)
		if ff.Probe(ctx) {
			transcoder = ff
		}
	}
	opt := optimizer.New(optimizer.Config{
		Workers:        cfg.OptimizerWorkers,
		MaxOutputBytes: cfg.MaxFileSizeBytes(),
		MaxPixels:      cfg.MaxImagePixels,
	}, transcoder, log)
	log.Info("optimizer ready", slog.Bool("transcoding", opt.TranscodingAvailable()))

	validator := upload.NewValidator(cfg.MaxFileSizeBytes(), cfg.AllowedTypes)
	service := upload.NewService(repo, store, opt, validator, log)

	reconciler := upload.NewReconciler(repo, store, upload.ReconcileConfig{
		Interval:      cfg.ReconcileInterval,
		RemoveOrphans: cfg.ReconcileRemoveOrphans,
		OrphanGrace:   cfg.ReconcileOrphanGrace,
		TempMaxAge:    cfg.TempFileMaxAge,
	}, log)

	return &app{
		router:     newRouter(cfg, upload.NewHandler(service, log), log),
		reconciler: reconciler,
	}, nil
}

func newRouter(cfg *config.Config, handler *upload.Handler, log *slog.Logger) *gin.Engine {
	if cfg.IsProdLike() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.RequestLogger(log),
		middleware.Metrics(),
		middleware.CORS(cfg.CORSAllowedOrigins),
	)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := r.Group("/")
	protected := r.Group("/")
	protected.Use(
		middleware.APIKeyAuth(cfg.APIKey, log),
		middleware.BodyLimit(cfg.MaxFileSizeBytes()),
	)
	upload.RegisterRoutes(public, protected, handler)
	return r
}

func openLedger(ctx context.Context, cfg *config.Config, store *storage.Local, log *slog.Logger) (upload.Repository, error) {
	if cfg.LedgerBackend == config.LedgerMemory {
		repo := upload.NewMemoryRepository()
		if _, err := upload.RebuildLedger(ctx, repo, store, log); err != nil {
			return nil, err
		}
		return repo, nil
	}

	db, err := database.Connect(cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	if err := upload.AutoMigrate(db); err != nil {
		return nil, err
	}
	return upload.NewRepository(db), nil
}
