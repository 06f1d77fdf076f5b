package upload

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mediavault/internal/optimizer"
	"mediavault/internal/pkg/logger"
	"mediavault/internal/pkg/mediatype"
	"mediavault/internal/storage"
)

const (
	DefaultPerPage = 10
	MaxPerPage     = 100

	// DefaultIngestAttempts bounds retries when the ledger reports a
	// duplicate id or stored name.
	DefaultIngestAttempts = 5

	lockStripes = 64
)

var (
	ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediavault_ingest_total",
		Help: "Ingest requests by mode and outcome",
	}, []string{"mode", "outcome"})

	deleteTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediavault_delete_total",
		Help: "Delete requests by outcome",
	}, []string{"outcome"})

	consistencyFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediavault_consistency_faults_total",
		Help: "Ledger/storage disagreements by kind",
	}, []string{"kind"})
)

// Storage is the byte store the service writes through.
type Storage interface {
	Put(ctx context.Context, category mediatype.Category, suggested string, data []byte) (string, error)
	Get(ctx context.Context, category mediatype.Category, name string) ([]byte, error)
	Delete(ctx context.Context, category mediatype.Category, name string) error
	Exists(ctx context.Context, category mediatype.Category, name string) (bool, error)
	List(ctx context.Context, category mediatype.Category) ([]storage.Entry, error)
	SweepTemp(ctx context.Context, maxAge time.Duration) int
}

// Optimizer transforms uploads on the web path.
type Optimizer interface {
	Optimize(ctx context.Context, data []byte, category mediatype.Category, contentType string, opts optimizer.Options) (*optimizer.Result, error)
	TranscodingAvailable() bool
}

// IngestRequest is one upload as received from the client.
type IngestRequest struct {
	Data        []byte
	Filename    string
	ContentType string
	Mode        Mode
	Options     optimizer.Options
}

// ListResult is one page of records.
type ListResult struct {
	Items   []*FileRecord
	Total   int64
	Page    int
	PerPage int
}

// FetchResult is a stored file with its record.
type FetchResult struct {
	Record *FileRecord
	Data   []byte
}

// Health summarizes dependencies.
type Health struct {
	Ledger      error
	Transcoding bool
}

// Service runs the ingest pipeline and keeps the ledger and storage in
// step: validate, optionally optimize, store, record.
type Service struct {
	repo      Repository
	store     Storage
	optimizer Optimizer
	validator *Validator
	logger    *slog.Logger
	attempts  int
	now       func() time.Time

	// held exclusively by delete, shared by fetch, keyed by stored name
	locks [lockStripes]sync.RWMutex
}

// NewService wires the pipeline.
func NewService(repo Repository, store Storage, opt Optimizer, validator *Validator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		store:     store,
		optimizer: opt,
		validator: validator,
		logger:    logger.With(slog.String("component", "upload_service")),
		attempts:  DefaultIngestAttempts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ingest stores an upload and records it. On any failure after bytes hit
// the disk the file is removed before the error is returned.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*FileRecord, error) {
	rec, err := s.ingest(ctx, req)
	ingestTotal.WithLabelValues(string(req.Mode), outcome(err)).Inc()
	return rec, err
}

func (s *Service) ingest(ctx context.Context, req IngestRequest) (*FileRecord, error) {
	var opts optimizer.Options
	switch req.Mode {
	case ModePlain:
	case ModeWeb:
		opts = req.Options.WithDefaults()
		if err := opts.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown upload mode %q", ErrInvalidArgument, req.Mode)
	}

	contentType, err := s.validator.Validate(req.Data, req.Filename, req.ContentType)
	if err != nil {
		return nil, err
	}
	category := mediatype.Categorize(contentType)

	data, optimized := req.Data, false
	if req.Mode == ModeWeb {
		res, err := s.optimizer.Optimize(ctx, req.Data, category, contentType, opts)
		if err != nil {
			if errors.Is(err, optimizer.ErrCorruptInput) {
				return nil, fmt.Errorf("%w: %v", ErrProcessing, err)
			}
			return nil, fmt.Errorf("%w: optimize %s: %w", ErrStorage, req.Filename, err)
		}
		data, optimized = res.Data, res.Optimized
		if optimized && res.ContentType != "" {
			contentType = res.ContentType
		}
	}

	ext := storedExt(req.Filename, contentType, optimized)
	for attempt := 1; attempt <= s.attempts; attempt++ {
		name, err := s.store.Put(ctx, category, storage.NewStoredName(ext), data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}

		rec := &FileRecord{
			ID:           uuid.NewString(),
			OriginalName: req.Filename,
			StoredName:   name,
			Category:     category,
			SizeBytes:    int64(len(data)),
			ContentType:  contentType,
			CreatedAt:    s.now(),
			Optimized:    optimized,
		}
		err = s.repo.Create(ctx, rec)
		if err == nil {
			s.logger.Info("file stored",
				slog.String("id", rec.ID),
				slog.String("stored_name", rec.StoredName),
				slog.String("category", string(rec.Category)),
				slog.Int64("size", rec.SizeBytes),
				slog.Bool("optimized", rec.Optimized),
				slog.String("mode", string(req.Mode)),
			)
			return rec, nil
		}

		s.compensate(ctx, category, name)
		if !errors.Is(err, ErrDuplicate) {
			return nil, fmt.Errorf("%w: record metadata: %v", ErrStorage, err)
		}
		s.logger.Warn("ledger rejected duplicate, retrying",
			slog.String("stored_name", name),
			slog.Int("attempt", attempt),
		)
	}
	return nil, fmt.Errorf("%w: no unique id after %d attempts", ErrStorage, s.attempts)
}

// compensate removes bytes written for a request that failed later. It runs
// even if the client went away.
func (s *Service) compensate(ctx context.Context, category mediatype.Category, name string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.Delete(ctx, category, name); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("compensating delete failed, file is orphaned",
			slog.String("category", string(category)),
			slog.String("stored_name", name),
			logger.Error(err),
		)
	}
}

// List returns one page of records. Records whose file is missing are
// excluded and reported as consistency faults.
func (s *Service) List(ctx context.Context, page, perPage int, fileType string) (*ListResult, error) {
	if page < 1 || perPage < 1 {
		return nil, ErrInvalidPage
	}
	if perPage > MaxPerPage {
		return nil, fmt.Errorf("%w: per_page must be at most %d", ErrInvalidArgument, MaxPerPage)
	}

	var category mediatype.Category
	if fileType != "" {
		c, ok := mediatype.ParseCategory(fileType)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, fileType)
		}
		category = c
	}

	recs, total, err := s.repo.ListPage(ctx, page, perPage, category)
	if err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: list: %v", ErrStorage, err)
	}

	items := make([]*FileRecord, 0, len(recs))
	for _, rec := range recs {
		if s.listable(ctx, rec) {
			items = append(items, rec)
		}
	}

	return &ListResult{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

// Fetch returns the full content of a stored file, or ErrNotFound.
func (s *Service) Fetch(ctx context.Context, storedName string) (*FetchResult, error) {
	lock := s.lockFor(storedName)
	lock.RLock()
	defer lock.RUnlock()

	rec, err := s.repo.GetByStoredName(ctx, storedName)
	if err != nil {
		return nil, s.lookupErr(err)
	}

	data, err := s.store.Get(ctx, rec.Category, rec.StoredName)
	if errors.Is(err, storage.ErrNotFound) {
		s.reportMissing(rec)
		return nil, fmt.Errorf("%w: %s has a record but no file", ErrConsistency, storedName)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorage, storedName, err)
	}
	return &FetchResult{Record: rec, Data: data}, nil
}

// Get returns the record for id.
func (s *Service) Get(ctx context.Context, id string) (*FileRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.lookupErr(err)
	}
	return rec, nil
}

// DeleteByID removes the file and its record.
func (s *Service) DeleteByID(ctx context.Context, id string) error {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		err = s.lookupErr(err)
		deleteTotal.WithLabelValues(outcome(err)).Inc()
		return err
	}
	err = s.remove(ctx, rec)
	deleteTotal.WithLabelValues(outcome(err)).Inc()
	return err
}

// DeleteByStoredName removes the file and its record.
func (s *Service) DeleteByStoredName(ctx context.Context, storedName string) error {
	rec, err := s.repo.GetByStoredName(ctx, storedName)
	if err != nil {
		err = s.lookupErr(err)
		deleteTotal.WithLabelValues(outcome(err)).Inc()
		return err
	}
	err = s.remove(ctx, rec)
	deleteTotal.WithLabelValues(outcome(err)).Inc()
	return err
}

// remove deletes the backing file first, then the record. A file that is
// already gone does not block removing the record.
func (s *Service) remove(ctx context.Context, rec *FileRecord) error {
	lock := s.lockFor(rec.StoredName)
	lock.Lock()
	defer lock.Unlock()

	err := s.store.Delete(ctx, rec.Category, rec.StoredName)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Warn("backing file already absent, removing record",
			slog.String("id", rec.ID),
			slog.String("stored_name", rec.StoredName),
		)
	case err != nil:
		return fmt.Errorf("%w: delete %s: %v", ErrStorage, rec.StoredName, err)
	}

	if err := s.repo.DeleteByID(ctx, rec.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			// lost a race with another delete of the same record
			return ErrNotFound
		}
		return fmt.Errorf("%w: delete record %s: %v", ErrStorage, rec.ID, err)
	}

	s.logger.Info("file deleted",
		slog.String("id", rec.ID),
		slog.String("stored_name", rec.StoredName),
		slog.String("category", string(rec.Category)),
	)
	return nil
}

// Health checks the ledger and reports transcoder availability.
func (s *Service) Health(ctx context.Context) Health {
	return Health{
		Ledger:      s.repo.Ping(ctx),
		Transcoding: s.optimizer.TranscodingAvailable(),
	}
}

// MaxUploadBytes returns the configured size cap.
func (s *Service) MaxUploadBytes() int64 {
	return s.validator.MaxBytes()
}

// listable checks the backing file under the stripe lock. A record whose
// file is gone is only a fault if it is still in the ledger afterwards;
// otherwise a delete finished between the page query and the check.
func (s *Service) listable(ctx context.Context, rec *FileRecord) bool {
	lock := s.lockFor(rec.StoredName)
	lock.RLock()
	defer lock.RUnlock()

	ok, err := s.store.Exists(ctx, rec.Category, rec.StoredName)
	if err != nil {
		s.logger.Warn("could not check backing file", slog.String("id", rec.ID), logger.Error(err))
		return true
	}
	if ok {
		return true
	}

	if _, err := s.repo.GetByID(ctx, rec.ID); errors.Is(err, ErrNotFound) {
		return false
	}
	s.reportMissing(rec)
	return false
}

func (s *Service) reportMissing(rec *FileRecord) {
	consistencyFaults.WithLabelValues(faultMissingFile).Inc()
	s.logger.Error("consistency fault: record without file",
		slog.String("fault", faultMissingFile),
		slog.String("id", rec.ID),
		slog.String("category", string(rec.Category)),
		slog.String("stored_name", rec.StoredName),
	)
}

func (s *Service) lookupErr(err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: lookup: %v", ErrStorage, err)
}

func (s *Service) lockFor(storedName string) *sync.RWMutex {
	h := fnv.New32a()
	h.Write([]byte(storedName))
	return &s.locks[h.Sum32()%lockStripes]
}

// storedExt keeps a sane client extension unless the bytes were re-encoded.
func storedExt(filename, contentType string, optimized bool) string {
	if !optimized {
		if ext := storage.CleanExt(filename); ext != "" {
			return ext
		}
	}
	return mediatype.Extension(contentType)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "rejected"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrProcessing):
		return "processing_error"
	case errors.Is(err, ErrConsistency):
		return "consistency_fault"
	default:
		return "error"
	}
}
