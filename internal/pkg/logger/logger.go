// Package logger builds the process-wide slog logger.
package logger

import (
	"io"
	"log/slog"
	"os"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// FormatFor picks JSON output for prod-like environments and text otherwise.
func FormatFor(prodLike bool) Format {
	if prodLike {
		return FormatJSON
	}
	return FormatText
}

// New returns a logger writing to out (stdout when nil).
func New(format Format, level slog.Level, out io.Writer, attrs ...slog.Attr) *slog.Logger {
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if format == FormatJSON {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	if len(attrs) > 0 {
		h = h.WithAttrs(attrs)
	}
	return slog.New(h)
}

// Error records err under the key "error". A nil err yields an empty attr,
// which slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
