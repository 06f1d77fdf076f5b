package upload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mediavault/internal/pkg/logger"
	"mediavault/internal/pkg/mediatype"
	"mediavault/internal/storage"
)

const (
	faultMissingFile  = "missing_file"
	faultOrphanedFile = "orphaned_file"
)

var reconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediavault_reconcile_runs_total",
	Help: "Reconciler passes by outcome",
}, []string{"outcome"})

// Fault is one disagreement between the ledger and storage.
type Fault struct {
	Kind       string             `json:"kind"`
	Category   mediatype.Category `json:"category"`
	StoredName string             `json:"stored_name"`
	RecordID   string             `json:"record_id,omitempty"`
}

// ReconcileReport is the outcome of one pass.
type ReconcileReport struct {
	Records        int           `json:"records"`
	Files          int           `json:"files"`
	Faults         []Fault       `json:"faults"`
	RemovedOrphans int           `json:"removed_orphans"`
	SweptTemp      int           `json:"swept_temp"`
	Duration       time.Duration `json:"duration"`
}

// Clean reports whether the pass found no faults.
func (r *ReconcileReport) Clean() bool { return len(r.Faults) == 0 }

// ReconcileConfig controls the reconciler.
type ReconcileConfig struct {
	Interval      time.Duration // 0 disables the background loop
	RemoveOrphans bool
	OrphanGrace   time.Duration // orphans younger than this may be mid-ingest
	TempMaxAge    time.Duration
}

// DefaultReconcileConfig returns the defaults.
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		Interval:    10 * time.Minute,
		OrphanGrace: 15 * time.Minute,
		TempMaxAge:  time.Hour,
	}
}

// Reconciler compares the ledger with the storage partitions.
type Reconciler struct {
	repo   Repository
	store  Storage
	cfg    ReconcileConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewReconciler(repo Repository, store Storage, cfg ReconcileConfig, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		repo:   repo,
		store:  store,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "reconciler")),
		now:    time.Now,
	}
}

// Run performs one pass. Faults are reported, never repaired, except that
// old orphans are removed when RemoveOrphans is set.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	start := time.Now()
	report := &ReconcileReport{Faults: []Fault{}}

	if r.cfg.TempMaxAge > 0 {
		report.SweptTemp = r.store.SweepTemp(ctx, r.cfg.TempMaxAge)
	}

	records, err := r.repo.ListAll(ctx)
	if err != nil {
		reconcileRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("list records: %w", err)
	}
	report.Records = len(records)

	known := make(map[string]*FileRecord, len(records))
	for _, rec := range records {
		known[key(rec.Category, rec.StoredName)] = rec
	}

	onDisk := make(map[string]struct{})
	for _, category := range mediatype.Categories {
		entries, err := r.store.List(ctx, category)
		if err != nil {
			reconcileRuns.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("list %s partition: %w", category, err)
		}
		for _, e := range entries {
			report.Files++
			k := key(e.Category, e.Name)
			onDisk[k] = struct{}{}
			if _, ok := known[k]; ok {
				continue
			}
			r.orphan(ctx, e, report)
		}
	}

	for k, rec := range known {
		if _, ok := onDisk[k]; ok {
			continue
		}
		report.Faults = append(report.Faults, Fault{
			Kind:       faultMissingFile,
			Category:   rec.Category,
			StoredName: rec.StoredName,
			RecordID:   rec.ID,
		})
		consistencyFaults.WithLabelValues(faultMissingFile).Inc()
		r.logger.Error("consistency fault: record without file",
			slog.String("fault", faultMissingFile),
			slog.String("id", rec.ID),
			slog.String("category", string(rec.Category)),
			slog.String("stored_name", rec.StoredName),
		)
	}

	report.Duration = time.Since(start)
	if report.Clean() {
		reconcileRuns.WithLabelValues("clean").Inc()
	} else {
		reconcileRuns.WithLabelValues("faults").Inc()
	}
	r.logger.Info("reconcile finished",
		slog.Int("records", report.Records),
		slog.Int("files", report.Files),
		slog.Int("faults", len(report.Faults)),
		slog.Int("removed_orphans", report.RemovedOrphans),
		slog.Int("swept_temp", report.SweptTemp),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

func (r *Reconciler) orphan(ctx context.Context, e storage.Entry, report *ReconcileReport) {
	// a fresh file may belong to an ingest that has not recorded it yet
	if r.now().Sub(e.ModTime) < r.cfg.OrphanGrace {
		return
	}

	if r.cfg.RemoveOrphans {
		err := r.store.Delete(ctx, e.Category, e.Name)
		if err == nil {
			report.RemovedOrphans++
			r.logger.Warn("removed orphaned file",
				slog.String("category", string(e.Category)),
				slog.String("stored_name", e.Name),
			)
			return
		}
		r.logger.Error("remove orphaned file", slog.String("stored_name", e.Name), logger.Error(err))
	}

	report.Faults = append(report.Faults, Fault{
		Kind:       faultOrphanedFile,
		Category:   e.Category,
		StoredName: e.Name,
	})
	consistencyFaults.WithLabelValues(faultOrphanedFile).Inc()
	r.logger.Error("consistency fault: file without record",
		slog.String("fault", faultOrphanedFile),
		slog.String("category", string(e.Category)),
		slog.String("stored_name", e.Name),
		slog.Int64("size", e.Size),
	)
}

// Schedule runs Run every Interval until ctx is done or the returned
// channel is closed. It returns nil when the loop is disabled.
func (r *Reconciler) Schedule(ctx context.Context) chan struct{} {
	if r.cfg.Interval <= 0 {
		r.logger.Info("background reconcile disabled")
		return nil
	}

	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := r.Run(ctx); err != nil {
					r.logger.Error("scheduled reconcile failed", logger.Error(err))
				}
			case <-stopCh:
				r.logger.Info("background reconcile stopped")
				return
			case <-ctx.Done():
				r.logger.Info("background reconcile stopped", slog.String("reason", "context done"))
				return
			}
		}
	}()

	r.logger.Info("background reconcile started", slog.Duration("interval", r.cfg.Interval))
	return stopCh
}

// RebuildLedger records every stored file the ledger does not know about.
// It is used at startup with the in-process ledger. Ids are derived from
// the file location so repeated rebuilds agree.
func RebuildLedger(ctx context.Context, repo Repository, store Storage, log *slog.Logger) (int, error) {
	if log == nil {
		log = slog.Default()
	}
	added := 0
	for _, category := range mediatype.Categories {
		entries, err := store.List(ctx, category)
		if err != nil {
			return added, fmt.Errorf("list %s partition: %w", category, err)
		}
		for _, e := range entries {
			if _, err := repo.GetByStoredName(ctx, e.Name); err == nil {
				continue
			}
			data, err := store.Get(ctx, e.Category, e.Name)
			if err != nil {
				log.Warn("skip unreadable file during rebuild", slog.String("stored_name", e.Name), logger.Error(err))
				continue
			}
			rec := &FileRecord{
				ID:           uuid.NewSHA1(uuid.NameSpaceURL, []byte(key(e.Category, e.Name))).String(),
				OriginalName: e.Name,
				StoredName:   e.Name,
				Category:     e.Category,
				SizeBytes:    e.Size,
				ContentType:  mediatype.Resolve(data, e.Name, ""),
				CreatedAt:    e.ModTime.UTC(),
			}
			if err := repo.Create(ctx, rec); err != nil {
				return added, fmt.Errorf("record %s: %w", e.Name, err)
			}
			added++
		}
	}
	log.Info("ledger rebuilt from storage", slog.String("component", "reconciler"), slog.Int("added", added))
	return added, nil
}

func key(category mediatype.Category, name string) string {
	return string(category) + "/" + name
}
