package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RetentionTarget selects the files of Dir matching Pattern for pruning.
// Paths listed in Exclude are always kept.
type RetentionTarget struct {
	Dir     string
	Pattern string
	Exclude []string
}

// CleanupOldLogs deletes files older than retentionDays and returns how
// many were removed. Daily logs are aged by the date in their name; any
// other match falls back to its modification time. A retentionDays of 0
// disables pruning.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) int {
	if retentionDays <= 0 {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, target := range targets {
		removed += target.prune(logger, cutoff)
	}
	return removed
}

func (t RetentionTarget) prune(logger *slog.Logger, cutoff time.Time) int {
	dir := strings.TrimSpace(t.Dir)
	if dir == "" {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	keep := t.excluded()
	pattern := strings.TrimSpace(t.Pattern)

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if pattern != "" {
			if ok, err := filepath.Match(pattern, name); err != nil || !ok {
				continue
			}
		}
		path := absolute(filepath.Join(dir, name))
		if _, skip := keep[path]; skip {
			continue
		}
		written, ok := logDay(name)
		if !ok {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			written = info.ModTime()
		}
		if !written.Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "old log not removed", "log_retention_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check permissions on the log directory"),
				String(FieldImpact, "log directory keeps growing"),
			)
			continue
		}
		removed++
		if logger != nil {
			logger.Debug("log pruned", String("path", path), String(FieldEventType, "log_pruned"))
		}
	}
	return removed
}

func (t RetentionTarget) excluded() map[string]struct{} {
	keep := make(map[string]struct{}, len(t.Exclude))
	for _, path := range t.Exclude {
		if path = strings.TrimSpace(path); path != "" {
			keep[absolute(path)] = struct{}{}
		}
	}
	return keep
}

// logDay parses the day out of a "reelvault-YYYY-MM-DD.log" name. The end
// of that day is returned so a file is kept for full retention days.
func logDay(name string) (time.Time, bool) {
	stamp, ok := strings.CutPrefix(name, logFilePrefix)
	if !ok {
		return time.Time{}, false
	}
	stamp, ok = strings.CutSuffix(stamp, logFileExt)
	if !ok {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation(logDayLayout, stamp, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return day.AddDate(0, 0, 1), true
}

func absolute(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
