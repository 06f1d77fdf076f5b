package upload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediavault/internal/pkg/mediatype"
)

func newTestReconciler(env *testEnv, cfg ReconcileConfig) *Reconciler {
	return NewReconciler(env.repo, env.store, cfg, quietLogger())
}

func TestReconcile_CleanState(t *testing.T) {
	env := newTestEnv(t, NewMemoryRepository(), 1<<20)
	ctx := context.Background()
	_, err := env.svc.Ingest(ctx, plain(pngData, "a.png"))
	require.NoError(t, err)

	report, err := newTestReconciler(env, DefaultReconcileConfig()).Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, 1, report.Records)
	assert.Equal(t, 1, report.Files)
}

func TestReconcile_ReportsMissingAndOrphaned(t *testing.T) {
	env := newTestEnv(t, NewMemoryRepository(), 1<<20)
	ctx := context.Background()

	missing, err := env.svc.Ingest(ctx, plain(pngData, "a.png"))
	require.NoError(t, err)
	require.NoError(t, env.store.Delete(ctx, missing.Category, missing.StoredName))

	orphan, err := env.store.Put(ctx, mediatype.Other, "stray.bin", []byte("stray"))
	require.NoError(t, err)

	cfg := DefaultReconcileConfig()
	cfg.OrphanGrace = 0
	report, err := newTestReconciler(env, cfg).Run(ctx)
	require.NoError(t, err)
	require.Len(t, report.Faults, 2)

	kinds := map[string]Fault{}
	for _, f := range report.Faults {
		kinds[f.Kind] = f
	}
	assert.Equal(t, missing.ID, kinds[faultMissingFile].RecordID)
	assert.Equal(t, orphan, kinds[faultOrphanedFile].StoredName)
	assert.Equal(t, mediatype.Other, kinds[faultOrphanedFile].Category)

	// reporting never repairs
	ok, err := env.store.Exists(ctx, mediatype.Other, orphan)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReconcile_OrphanGraceAndRemoval(t *testing.T) {
	env := newTestEnv(t, NewMemoryRepository(), 1<<20)
	ctx := context.Background()
	orphan, err := env.store.Put(ctx, mediatype.Document, "stray.txt", []byte("stray"))
	require.NoError(t, err)

	cfg := DefaultReconcileConfig()
	cfg.RemoveOrphans = true
	rec := newTestReconciler(env, cfg)

	// still inside the grace period
	report, err := rec.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, 0, report.RemovedOrphans)

	rec.now = func() time.Time { return time.Now().Add(cfg.OrphanGrace + time.Minute) }
	report, err = rec.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, 1, report.RemovedOrphans)

	ok, err := env.store.Exists(ctx, mediatype.Document, orphan)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReconcile_SweepsStaleTempFiles(t *testing.T) {
	env := newTestEnv(t, NewMemoryRepository(), 1<<20)
	stale := filepath.Join(env.store.Root(), string(mediatype.Image), ".upload-stale.tmp")
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	report, err := newTestReconciler(env, DefaultReconcileConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SweptTemp)
	assert.NoFileExists(t, stale)
}

func TestReconcile_Schedule(t *testing.T) {
	env := newTestEnv(t, NewMemoryRepository(), 1<<20)

	cfg := DefaultReconcileConfig()
	cfg.Interval = 0
	assert.Nil(t, newTestReconciler(env, cfg).Schedule(context.Background()))

	cfg.Interval = 10 * time.Millisecond
	stop := newTestReconciler(env, cfg).Schedule(context.Background())
	require.NotNil(t, stop)
	time.Sleep(30 * time.Millisecond)
	close(stop)
}

func TestRebuildLedger(t *testing.T) {
	env := newTestEnv(t, NewMemoryRepository(), 1<<20)
	ctx := context.Background()
	first, err := env.svc.Ingest(ctx, plain(pngData, "a.png"))
	require.NoError(t, err)
	_, err = env.svc.Ingest(ctx, plain([]byte("hello"), "b.txt"))
	require.NoError(t, err)

	// simulate a restart with an empty in-process ledger
	fresh := NewMemoryRepository()
	added, err := RebuildLedger(ctx, fresh, env.store, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	rec, err := fresh.GetByStoredName(ctx, first.StoredName)
	require.NoError(t, err)
	assert.Equal(t, mediatype.Image, rec.Category)
	assert.Equal(t, "image/png", rec.ContentType)
	assert.Equal(t, first.SizeBytes, rec.SizeBytes)

	again, err := RebuildLedger(ctx, fresh, env.store, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, again)

	other := NewMemoryRepository()
	_, err = RebuildLedger(ctx, other, env.store, quietLogger())
	require.NoError(t, err)
	same, err := other.GetByStoredName(ctx, first.StoredName)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, same.ID)
}
