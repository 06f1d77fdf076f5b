package optimizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"mediavault/internal/pkg/logger"
)

const (
	DefaultTranscodeTimeout = 5 * time.Minute
	probeTimeout            = 5 * time.Second

	maxVideoWidth  = 1280
	maxVideoHeight = 720
)

type videoTier struct {
	crf          string
	preset       string
	audioBitrate string
}

var videoTiers = map[VideoQuality]videoTier{
	VideoLow:    {crf: "28", preset: "veryfast", audioBitrate: "96k"},
	VideoMedium: {crf: "23", preset: "medium", audioBitrate: "128k"},
	VideoHigh:   {crf: "18", preset: "slow", audioBitrate: "192k"},
}

// FFmpeg transcodes videos to web-friendly H.264/AAC MP4 by running the
// ffmpeg binary. Input and output go through temp files that are removed
// when the job finishes.
type FFmpeg struct {
	path    string
	timeout time.Duration
	tempDir string
	logger  *slog.Logger
}

// NewFFmpeg returns a transcoder for the binary at path ("ffmpeg" looks it
// up on PATH). An empty tempDir uses the OS default.
func NewFFmpeg(path string, timeout time.Duration, tempDir string, logger *slog.Logger) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = DefaultTranscodeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{
		path:    path,
		timeout: timeout,
		tempDir: tempDir,
		logger:  logger.With(slog.String("component", "ffmpeg")),
	}
}

// Probe reports whether the binary can be executed. Meant to be called once
// at startup.
func (f *FFmpeg) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := exec.CommandContext(ctx, f.path, "-version").Run(); err != nil {
		f.logger.Info("ffmpeg not available, videos will be stored as uploaded",
			slog.String("path", f.path),
			logger.Error(err),
		)
		return false
	}
	return true
}

// Transcode re-encodes input at the given quality tier.
func (f *FFmpeg) Transcode(ctx context.Context, input []byte, quality VideoQuality) ([]byte, error) {
	in, err := os.CreateTemp(f.tempDir, "transcode-in-*")
	if err != nil {
		return nil, fmt.Errorf("create transcode input: %w", err)
	}
	inPath := in.Name()
	defer f.removeTemp(inPath)

	if _, err := in.Write(input); err != nil {
		in.Close()
		return nil, fmt.Errorf("write transcode input: %w", err)
	}
	if err := in.Close(); err != nil {
		return nil, fmt.Errorf("close transcode input: %w", err)
	}

	out, err := os.CreateTemp(f.tempDir, "transcode-out-*.mp4")
	if err != nil {
		return nil, fmt.Errorf("create transcode output: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer f.removeTemp(outPath)

	jobCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(jobCtx, f.path, transcodeArgs(inPath, outPath, quality)...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrToolUnavailable, err)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("transcode cancelled: %w", ctx.Err())
		}
		if jobCtx.Err() != nil {
			return nil, fmt.Errorf("%w: transcode timed out after %s", ErrCorruptInput, f.timeout)
		}
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrCorruptInput, err, tail(stderr.Bytes(), 512))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read transcode output: %w", err)
	}
	return data, nil
}

func (f *FFmpeg) removeTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		f.logger.Warn("remove transcode temp file", slog.String("file", path), logger.Error(err))
	}
}

// transcodeArgs builds the ffmpeg command line. The frame is bounded to
// 1280x720 without upscaling and forced to even dimensions for libx264.
func transcodeArgs(in, out string, quality VideoQuality) []string {
	tier, ok := videoTiers[quality]
	if !ok {
		tier = videoTiers[VideoMedium]
	}
	scale := fmt.Sprintf(
		"scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease,scale=trunc(iw/2)*2:trunc(ih/2)*2",
		maxVideoWidth, maxVideoHeight,
	)
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-i", in, "-y",
		"-c:v", "libx264",
		"-crf", tier.crf,
		"-preset", tier.preset,
		"-vf", scale,
		"-c:a", "aac", "-b:a", tier.audioBitrate,
		"-movflags", "+faststart",
		"-f", "mp4",
		out,
	}
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(bytes.TrimSpace(b))
}
