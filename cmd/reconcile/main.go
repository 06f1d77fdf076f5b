package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"mediavault/internal/config"
	"mediavault/internal/database"
	"mediavault/internal/domain/upload"
	"mediavault/internal/pkg/logger"
	"mediavault/internal/storage"
)

func main() {
	removeOrphans := flag.Bool("remove-orphans", false, "delete files that have no record (after the grace period)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", logger.Error(err))
		os.Exit(1)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	log := logger.New(logger.FormatFor(cfg.IsProdLike()), level, os.Stderr)

	if cfg.LedgerBackend != config.LedgerDatabase {
		log.Error("reconcile needs a persistent ledger; set DATABASE_URL")
		os.Exit(2)
	}

	db, err := database.Connect(cfg.DatabaseURL, log)
	if err != nil {
		log.Error("db connect failed", logger.Error(err))
		os.Exit(1)
	}
	if err := upload.AutoMigrate(db); err != nil {
		log.Error("migrate failed", logger.Error(err))
		os.Exit(1)
	}

	store, err := storage.NewLocal(cfg.UploadDir, storage.WithLogger(log))
	if err != nil {
		log.Error("open storage failed", logger.Error(err))
		os.Exit(1)
	}

	reconciler := upload.NewReconciler(upload.NewRepository(db), store, upload.ReconcileConfig{
		RemoveOrphans: *removeOrphans || cfg.ReconcileRemoveOrphans,
		OrphanGrace:   cfg.ReconcileOrphanGrace,
		TempMaxAge:    cfg.TempFileMaxAge,
	}, log)

	report, err := reconciler.Run(context.Background())
	if err != nil {
		log.Error("reconcile failed", logger.Error(err))
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)

	if !report.Clean() {
		os.Exit(3)
	}
}
