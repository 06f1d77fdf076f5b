// Package storage keeps file bytes on the local filesystem, partitioned by
// category. Files are written to a temp file, fsynced and then hard-linked
// into place so a stored name is never overwritten and readers never see a
// partially written file.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediavault/internal/pkg/logger"
	"mediavault/internal/pkg/mediatype"
)

const (
	// DefaultMaxAttempts bounds name regeneration on collision.
	DefaultMaxAttempts = 5

	tempPrefix = ".upload-"
	tempSuffix = ".tmp"
)

// Entry describes one stored file found while scanning a partition.
type Entry struct {
	Category mediatype.Category
	Name     string
	Size     int64
	ModTime  time.Time
}

// Local is the filesystem backend. It is safe for concurrent use.
type Local struct {
	root        string
	maxAttempts int
	newName     func(ext string) string
	logger      *slog.Logger
}

// Option configures Local.
type Option func(*Local)

// WithMaxAttempts overrides how many names Put tries before giving up.
func WithMaxAttempts(n int) Option {
	return func(l *Local) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithNameGenerator replaces the token generator used on collision.
func WithNameGenerator(fn func(ext string) string) Option {
	return func(l *Local) {
		if fn != nil {
			l.newName = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Local) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLocal creates the root and one directory per category.
func NewLocal(root string, opts ...Option) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	l := &Local{
		root:        abs,
		maxAttempts: DefaultMaxAttempts,
		newName:     NewStoredName,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(slog.String("component", "storage"))

	for _, c := range mediatype.Categories {
		if err := os.MkdirAll(filepath.Join(abs, string(c)), 0o755); err != nil {
			return nil, fmt.Errorf("create %s partition: %w", c, err)
		}
	}
	return l, nil
}

// Root returns the absolute storage root.
func (l *Local) Root() string { return l.root }

// Put writes data under category and returns the stored name actually used.
// When suggested already exists the identifier part is regenerated, keeping
// the extension; after maxAttempts collisions ErrNameExhausted is returned.
func (l *Local) Put(ctx context.Context, category mediatype.Category, suggested string, data []byte) (string, error) {
	dir, err := l.partition(category)
	if err != nil {
		return "", err
	}
	if suggested == "" {
		suggested = l.newName("")
	}
	if err := checkName(suggested); err != nil {
		return "", err
	}

	tmp, err := writeTemp(dir, data)
	if err != nil {
		return "", err
	}
	// the temp file only ever serves as a link source
	defer os.Remove(tmp)

	name := suggested
	ext := filepath.Ext(suggested)
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		err := os.Link(tmp, filepath.Join(dir, name))
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: publish %s: %v", ErrWrite, name, err)
		}

		l.logger.Warn("stored name collision, regenerating",
			slog.String("category", string(category)),
			slog.String("name", name),
			slog.Int("attempt", attempt),
		)
		name = l.newName(ext)
	}
	return "", fmt.Errorf("%w after %d attempts", ErrNameExhausted, l.maxAttempts)
}

// Get returns the full contents of a stored file.
func (l *Local) Get(_ context.Context, category mediatype.Category, name string) ([]byte, error) {
	path, err := l.path(category, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, category, name)
		}
		return nil, fmt.Errorf("read %s/%s: %w", category, name, err)
	}
	return data, nil
}

// Delete removes a stored file. ErrNotFound when it is already gone.
func (l *Local) Delete(_ context.Context, category mediatype.Category, name string) error {
	path, err := l.path(category, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, category, name)
		}
		return fmt.Errorf("delete %s/%s: %w", category, name, err)
	}
	return nil
}

// Exists reports whether a regular file is stored at (category, name).
func (l *Local) Exists(_ context.Context, category mediatype.Category, name string) (bool, error) {
	path, err := l.path(category, name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// List returns the published files of one partition. Temp files are skipped.
func (l *Local) List(_ context.Context, category mediatype.Category) ([]Entry, error) {
	dir, err := l.partition(category)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read partition %s: %w", category, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() || isTemp(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		entries = append(entries, Entry{
			Category: category,
			Name:     de.Name(),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
	}
	return entries, nil
}

// SweepTemp removes temp files older than maxAge left behind by interrupted
// writes. Failures are logged and skipped.
func (l *Local) SweepTemp(_ context.Context, maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, c := range mediatype.Categories {
		dir := filepath.Join(l.root, string(c))
		dirEntries, err := os.ReadDir(dir)
		if err != nil {
			l.logger.Warn("temp sweep: read partition", slog.String("category", string(c)), logger.Error(err))
			continue
		}
		for _, de := range dirEntries {
			if !isTemp(de.Name()) {
				continue
			}
			info, err := de.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, de.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
				l.logger.Warn("temp sweep: remove", slog.String("file", de.Name()), logger.Error(err))
				continue
			}
			removed++
		}
	}
	return removed
}

func (l *Local) partition(category mediatype.Category) (string, error) {
	if !category.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	return filepath.Join(l.root, string(category)), nil
}

func (l *Local) path(category mediatype.Category, name string) (string, error) {
	dir, err := l.partition(category)
	if err != nil {
		return "", err
	}
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func writeTemp(dir string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, tempPrefix+"*"+tempSuffix)
	if err != nil {
		return "", fmt.Errorf("%w: create temp: %v", ErrWrite, err)
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("%w: fsync: %v", ErrWrite, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("%w: close: %v", ErrWrite, err)
	}
	return tmp, nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) ||
		isTemp(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, tempSuffix)
}
