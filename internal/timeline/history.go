package timeline

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"reelvault/internal/faults"
)

const (
	snapshotPrefix = "timeline_"
	snapshotExt    = ".json"
	// stampLayout is the sortable UTC timestamp in snapshot names; the
	// fractional separator is rewritten to '-' so names stay portable.
	stampLayout = "2006-01-02T15-04-05.000Z"
	stampLen    = len("2006-01-02T15-04-05-000Z")
)

// RollbackLabel marks the safety snapshot taken before a rollback.
const RollbackLabel = "pre-rollback-backup"

// HistoryEntry describes one snapshot file.
type HistoryEntry struct {
	Filename   string    `json:"filename"`
	Timestamp  time.Time `json:"timestamp"`
	Label      string    `json:"label,omitempty"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

func formatStamp(t time.Time) string {
	s := t.UTC().Format(stampLayout)
	return strings.Replace(s, ".", "-", 1)
}

// parseSnapshotName splits a snapshot file name into timestamp and label.
func parseSnapshotName(name string) (time.Time, string, bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotExt) {
		return time.Time{}, "", false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotExt)
	if len(body) < stampLen {
		return time.Time{}, "", false
	}
	stamp := body[:stampLen]
	rest := body[stampLen:]
	if rest != "" && !strings.HasPrefix(rest, "_") {
		return time.Time{}, "", false
	}
	ts, err := time.Parse(stampLayout, stamp[:19]+"."+stamp[20:])
	if err != nil {
		return time.Time{}, "", false
	}
	return ts, strings.TrimPrefix(rest, "_"), true
}

// SanitizeLabel lowercases label and reduces it to [a-z0-9_-].
func SanitizeLabel(label string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func snapshotName(ts time.Time, label string) string {
	name := snapshotPrefix + formatStamp(ts)
	if label = SanitizeLabel(label); label != "" {
		name += "_" + label
	}
	return name + snapshotExt
}

// historyPath resolves a snapshot name, with or without .json, inside dir.
func historyPath(dir, name string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", "", faults.Wrap(faults.ErrValidation, "timeline", "resolve snapshot", "invalid snapshot name "+name, nil)
	}
	if !strings.HasSuffix(name, snapshotExt) {
		name += snapshotExt
	}
	return filepath.Join(dir, name), name, nil
}

// listSnapshots returns the snapshot names in dir, newest first.
func listSnapshots(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, _, ok := parseSnapshotName(entry.Name()); ok {
			names = append(names, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}
