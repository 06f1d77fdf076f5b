// Package optimizer implements the web-upload transform: images are
// downsized and recompressed, videos are transcoded when a transcoder is
// available and passed through otherwise. CPU-heavy work runs on a bounded
// worker pool so it cannot starve unrelated requests.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"

	"mediavault/internal/pkg/logger"
	"mediavault/internal/pkg/mediatype"
)

var (
	// ErrCorruptInput means the input could not be transformed.
	ErrCorruptInput = errors.New("input could not be processed")

	// ErrToolUnavailable means the external transcoder cannot run. The
	// optimizer treats it as a pass-through, never as a failure.
	ErrToolUnavailable = errors.New("transcoder unavailable")
)

var (
	optimizeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediavault_optimize_total",
		Help: "Optimization attempts by category and outcome",
	}, []string{"category", "outcome"})

	optimizeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediavault_optimize_duration_seconds",
		Help:    "Time spent transforming uploads",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 300},
	}, []string{"category"})
)

// Transcoder re-encodes a video at a quality tier.
type Transcoder interface {
	Transcode(ctx context.Context, input []byte, quality VideoQuality) ([]byte, error)
}

// Result is the output of Optimize.
type Result struct {
	Data        []byte
	ContentType string
	// Optimized is true only when Data differs from the input.
	Optimized bool
	// Width and Height are set for raster images.
	Width  int
	Height int
}

// Config sizes the optimizer.
type Config struct {
	// Workers bounds concurrent transforms; <= 0 uses GOMAXPROCS.
	Workers int
	// MaxOutputBytes caps the transformed size; larger outputs are discarded
	// in favour of the original bytes.
	MaxOutputBytes int64
	// MaxPixels caps width*height of decoded images; <= 0 uses
	// DefaultMaxPixels.
	MaxPixels int64
}

// Optimizer dispatches on category. It is safe for concurrent use.
type Optimizer struct {
	pool       *semaphore.Weighted
	transcoder Transcoder
	maxOutput  int64
	maxPixels  int64
	logger     *slog.Logger
}

// New builds an optimizer. A nil transcoder means the transcoding capability
// was not found at startup and videos pass through unchanged.
func New(cfg Config, transcoder Transcoder, logger *slog.Logger) *Optimizer {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	maxPixels := cfg.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{
		pool:       semaphore.NewWeighted(int64(workers)),
		transcoder: transcoder,
		maxOutput:  cfg.MaxOutputBytes,
		maxPixels:  maxPixels,
		logger:     logger.With(slog.String("component", "optimizer")),
	}
}

// TranscodingAvailable reports whether videos can be transcoded.
func (o *Optimizer) TranscodingAvailable() bool {
	return o.transcoder != nil
}

// Optimize transforms data for the web. opts must already be validated.
func (o *Optimizer) Optimize(ctx context.Context, data []byte, category mediatype.Category, contentType string, opts Options) (*Result, error) {
	switch category {
	case mediatype.Image:
		return o.optimizeImage(ctx, data, contentType, opts)
	case mediatype.Video:
		return o.optimizeVideo(ctx, data, contentType, opts)
	default:
		return passThrough(data, contentType), nil
	}
}

func (o *Optimizer) optimizeImage(ctx context.Context, data []byte, contentType string, opts Options) (*Result, error) {
	if mediatype.IsVector(contentType) {
		optimizeTotal.WithLabelValues("image", "vector").Inc()
		return passThrough(data, contentType), nil
	}
	if !isRaster(contentType) {
		o.logger.Info("no decoder for image type, storing as uploaded", slog.String("content_type", contentType))
		optimizeTotal.WithLabelValues("image", "unsupported").Inc()
		return passThrough(data, contentType), nil
	}

	res, err := o.run(ctx, "image", func() (*Result, error) {
		return processImage(data, opts, o.maxPixels)
	})
	if err != nil {
		return nil, err
	}
	return o.capOutput(res, data, contentType), nil
}

func (o *Optimizer) optimizeVideo(ctx context.Context, data []byte, contentType string, opts Options) (*Result, error) {
	if o.transcoder == nil {
		o.logger.Info("transcoder unavailable, storing video as uploaded", slog.Int("bytes", len(data)))
		optimizeTotal.WithLabelValues("video", "unavailable").Inc()
		return passThrough(data, contentType), nil
	}

	res, err := o.run(ctx, "video", func() (*Result, error) {
		out, err := o.transcoder.Transcode(ctx, data, opts.VideoQuality)
		if err != nil {
			return nil, err
		}
		return &Result{Data: out, ContentType: "video/mp4", Optimized: true}, nil
	})
	if errors.Is(err, ErrToolUnavailable) {
		o.logger.Info("transcoder disappeared, storing video as uploaded", logger.Error(err))
		optimizeTotal.WithLabelValues("video", "unavailable").Inc()
		return passThrough(data, contentType), nil
	}
	if err != nil {
		return nil, err
	}
	return o.capOutput(res, data, contentType), nil
}

// run executes fn on the worker pool and records metrics.
func (o *Optimizer) run(ctx context.Context, label string, fn func() (*Result, error)) (*Result, error) {
	if err := o.pool.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for optimizer worker: %w", err)
	}
	defer o.pool.Release(1)

	start := time.Now()
	res, err := fn()
	optimizeDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		optimizeTotal.WithLabelValues(label, "error").Inc()
		return nil, err
	}
	optimizeTotal.WithLabelValues(label, "optimized").Inc()
	return res, nil
}

func (o *Optimizer) capOutput(res *Result, original []byte, contentType string) *Result {
	if o.maxOutput > 0 && int64(len(res.Data)) > o.maxOutput {
		o.logger.Warn("optimized output exceeds size limit, keeping original",
			slog.Int("output_bytes", len(res.Data)),
			slog.Int64("limit", o.maxOutput),
		)
		return passThrough(original, contentType)
	}
	return res
}

func passThrough(data []byte, contentType string) *Result {
	return &Result{Data: data, ContentType: contentType}
}
