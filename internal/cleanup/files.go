// Package cleanup removes aged artifacts from the upload and output
// directories.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"waveq/internal/logging"
)

// Result contains the outcome of a cleanup pass.
type Result struct {
	Removed []string
	Errors  []Error
}

// Error pairs a path with its cleanup error.
type Error struct {
	Path string
	Err  error
}

// Merge appends other to r.
func (r *Result) Merge(other Result) {
	r.Removed = append(r.Removed, other.Removed...)
	r.Errors = append(r.Errors, other.Errors...)
}

// RemoveStale deletes direct children of dir (uploaded files and per-job
// output directories) last modified before now minus maxAge. A missing dir
// is not an error. ctx is checked between entries.
func RemoveStale(ctx context.Context, dir string, maxAge time.Duration, now time.Time, logger *slog.Logger) Result {
	result := Result{}

	dir = strings.TrimSpace(dir)
	if dir == "" || maxAge <= 0 {
		return result
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, Error{Path: dir, Err: err})
		}
		return result
	}

	cutoff := now.Add(-maxAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			return result
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, Error{Path: path, Err: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			result.Errors = append(result.Errors, Error{Path: path, Err: err})
			logger.Warn("failed to remove stale artifact",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "file_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "check upload_dir and output_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, path)
		logger.Debug("removed stale artifact",
			logging.String("path", path),
			logging.Duration("age", now.Sub(info.ModTime())),
			logging.String(logging.FieldEventType, "file_cleanup"),
		)
	}
	return result
}

// Usage reports the number of entries and total bytes under dir.
func Usage(dir string) (entries int, bytes int64, err error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return 0, 0, nil
	}
	children, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	entries = len(children)
	err = filepath.WalkDir(dir, func(_ string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil
		}
		if info, infoErr := d.Info(); infoErr == nil {
			bytes += info.Size()
		}
		return nil
	})
	return entries, bytes, err
}
