package optimizer

import (
	"errors"
	"fmt"
	"strings"
)

// VideoQuality selects the transcoding tier.
type VideoQuality string

const (
	VideoLow    VideoQuality = "low"
	VideoMedium VideoQuality = "medium"
	VideoHigh   VideoQuality = "high"
)

const (
	DefaultQuality   = 80
	DefaultMaxWidth  = 1200
	DefaultMaxHeight = 800

	MinQuality   = 1
	MaxQuality   = 100
	MinDimension = 100
	MaxDimension = 4000
)

// ErrInvalidOptions is returned when an option is out of bounds.
var ErrInvalidOptions = errors.New("invalid optimization options")

// Options tunes web optimization. Zero values mean "use the default".
type Options struct {
	Quality       int
	MaxWidth      int
	MaxHeight     int
	PreserveAlpha bool
	VideoQuality  VideoQuality
}

// DefaultOptions returns the defaults for every option.
func DefaultOptions() Options {
	return Options{
		Quality:      DefaultQuality,
		MaxWidth:     DefaultMaxWidth,
		MaxHeight:    DefaultMaxHeight,
		VideoQuality: VideoMedium,
	}
}

// WithDefaults fills unset options.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.Quality == 0 {
		o.Quality = d.Quality
	}
	if o.MaxWidth == 0 {
		o.MaxWidth = d.MaxWidth
	}
	if o.MaxHeight == 0 {
		o.MaxHeight = d.MaxHeight
	}
	if o.VideoQuality == "" {
		o.VideoQuality = d.VideoQuality
	}
	o.VideoQuality = VideoQuality(strings.ToLower(string(o.VideoQuality)))
	return o
}

// Validate checks bounds on options that already had defaults applied.
func (o Options) Validate() error {
	if o.Quality < MinQuality || o.Quality > MaxQuality {
		return fmt.Errorf("%w: quality %d not in [%d, %d]", ErrInvalidOptions, o.Quality, MinQuality, MaxQuality)
	}
	if o.MaxWidth < MinDimension || o.MaxWidth > MaxDimension {
		return fmt.Errorf("%w: max_width %d not in [%d, %d]", ErrInvalidOptions, o.MaxWidth, MinDimension, MaxDimension)
	}
	if o.MaxHeight < MinDimension || o.MaxHeight > MaxDimension {
		return fmt.Errorf("%w: max_height %d not in [%d, %d]", ErrInvalidOptions, o.MaxHeight, MinDimension, MaxDimension)
	}
	switch o.VideoQuality {
	case VideoLow, VideoMedium, VideoHigh:
	default:
		return fmt.Errorf("%w: video_quality %q must be low, medium or high", ErrInvalidOptions, o.VideoQuality)
	}
	return nil
}
