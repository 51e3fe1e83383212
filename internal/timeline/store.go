package timeline

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"reelvault/internal/faults"
	"reelvault/internal/fileutil"
	"reelvault/internal/logging"
	"reelvault/internal/project"
)

// DefaultMaxSnapshots is the history retention ceiling.
const DefaultMaxSnapshots = 50

const maxStampAttempts = 1000

// Saved is the result of Save and AutoSave.
type Saved struct {
	SavedAt  time.Time `json:"saved_at"`
	Snapshot string    `json:"snapshot,omitempty"`
	Pruned   []string  `json:"pruned,omitempty"`
	Warnings []string  `json:"warnings,omitempty"`
}

// Snapshotted is the result of Snapshot.
type Snapshotted struct {
	Filename string   `json:"filename"`
	Pruned   []string `json:"pruned,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Pruned is the result of Prune.
type Pruned struct {
	Removed  []string `json:"removed"`
	Warnings []string `json:"warnings,omitempty"`
}

// RolledBack is the result of Rollback.
type RolledBack struct {
	Document Document `json:"timeline"`
	Backup   string   `json:"backup,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Option configures a Store.
type Option func(*Store)

// WithMaxSnapshots sets the number of history files kept per project.
func WithMaxSnapshots(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSnapshots = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces the time source (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store persists timeline documents and their history.
type Store struct {
	maxSnapshots int
	logger       *slog.Logger
	now          func() time.Time

	mu        sync.Mutex
	lastStamp time.Time
}

// NewStore constructs a timeline store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		maxSnapshots: DefaultMaxSnapshots,
		logger:       logging.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "timeline")
	return s
}

// MaxSnapshots reports the retention ceiling.
func (s *Store) MaxSnapshots() int {
	return s.maxSnapshots
}

// nextStamp returns a millisecond timestamp strictly after the previous one.
func (s *Store) nextStamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UTC().Truncate(time.Millisecond)
	if !ts.After(s.lastStamp) {
		ts = s.lastStamp.Add(time.Millisecond)
	}
	s.lastStamp = ts
	return ts
}

// reserveSnapshot claims a history filename for label. Another process
// may hold the same stamp, so the name is created exclusively and the
// stamp bumped until a free one is found.
func (s *Store) reserveSnapshot(dir, label string) (string, error) {
	ts := s.nextStamp()
	for attempt := 0; attempt < maxStampAttempts; attempt++ {
		name := snapshotName(ts, label)
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			s.advanceStamp(ts)
			return name, f.Close()
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
		ts = ts.Add(time.Millisecond)
	}
	return "", fmt.Errorf("no free snapshot name after %d attempts", maxStampAttempts)
}

func (s *Store) advanceStamp(ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts.After(s.lastStamp) {
		s.lastStamp = ts
	}
}

func historyDir(projectPath string) string {
	return filepath.Join(projectPath, filepath.FromSlash(project.HistoryDir))
}

func activePath(projectPath string) (string, error) {
	m, _, err := project.ReadManifest(projectPath)
	if err != nil {
		return "", err
	}
	return m.TimelinePath(projectPath), nil
}

func readDocument(path, op string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, faults.Wrap(faults.ErrNotFound, "timeline", op, filepath.Base(path), err)
		}
		return Document{}, faults.Wrap(faults.ErrIO, "timeline", op, filepath.Base(path), err)
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return Document{}, faults.Wrap(faults.ErrIntegrity, "timeline", op, filepath.Base(path), err)
	}
	return doc, nil
}

func writeDocument(path string, doc Document, op string) error {
	if err := fileutil.WriteJSONAtomic(path, doc); err != nil {
		return faults.Wrap(faults.ErrIO, "timeline", op, filepath.Base(path), err)
	}
	return nil
}

// Load returns the active document, or the named history snapshot when
// version is non-empty.
func (s *Store) Load(projectPath, version string) (Document, error) {
	if version != "" {
		path, _, err := historyPath(historyDir(projectPath), version)
		if err != nil {
			return Document{}, err
		}
		return readDocument(path, "load snapshot")
	}
	path, err := activePath(projectPath)
	if err != nil {
		return Document{}, err
	}
	return readDocument(path, "load")
}

// Save normalizes state and atomically replaces the active document. With
// createHistory a snapshot is written and old ones pruned; a failing
// snapshot is reported as a warning since the save itself succeeded.
func (s *Store) Save(projectPath string, state State, createHistory bool) (Saved, error) {
	path, err := activePath(projectPath)
	if err != nil {
		return Saved{}, err
	}
	doc, err := Normalize(state)
	if err != nil {
		return Saved{}, err
	}
	doc.SavedAt = s.now().UTC()
	if err := writeDocument(path, doc, "save"); err != nil {
		return Saved{}, err
	}

	result := Saved{SavedAt: doc.SavedAt}
	if createHistory {
		snap, err := s.snapshot(projectPath, doc, "")
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("history snapshot not written: %v", err))
			logging.WarnWithContext(s.logger, "history snapshot failed", "timeline_snapshot_failed",
				logging.Project(projectPath),
				logging.Error(err),
				logging.String(logging.FieldImpact, "this save cannot be rolled back to"),
			)
		} else {
			result.Snapshot = snap.Filename
			result.Pruned = snap.Pruned
			result.Warnings = append(result.Warnings, snap.Warnings...)
		}
	}
	if err := project.TouchSaved(projectPath, doc.SavedAt); err != nil {
		return result, err
	}

	s.logger.Info("timeline saved",
		logging.Project(projectPath),
		logging.Int("tracks", len(doc.Tracks)),
		logging.Int("clips", doc.ClipCount()),
		logging.String("snapshot", result.Snapshot),
		logging.String(logging.FieldEventType, "timeline_saved"),
	)
	return result, nil
}

// Snapshot writes doc, or the active document when doc is nil, into the
// history folder and prunes beyond the retention ceiling.
func (s *Store) Snapshot(projectPath string, doc *Document, label string) (Snapshotted, error) {
	var current Document
	if doc != nil {
		current = *doc
	} else {
		loaded, err := s.Load(projectPath, "")
		if err != nil {
			return Snapshotted{}, err
		}
		current = loaded
	}
	return s.snapshot(projectPath, current, label)
}

func (s *Store) snapshot(projectPath string, doc Document, label string) (Snapshotted, error) {
	dir := historyDir(projectPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Snapshotted{}, faults.Wrap(faults.ErrIO, "timeline", "snapshot", "create history folder", err)
	}
	name, err := s.reserveSnapshot(dir, label)
	if err != nil {
		return Snapshotted{}, faults.Wrap(faults.ErrIO, "timeline", "snapshot", "reserve name", err)
	}
	if err := writeDocument(filepath.Join(dir, name), doc, "snapshot"); err != nil {
		_ = os.Remove(filepath.Join(dir, name))
		return Snapshotted{}, err
	}
	s.logger.Debug("snapshot written", logging.Project(projectPath), logging.String("snapshot", name))

	pruned, err := s.Prune(projectPath)
	if err != nil {
		return Snapshotted{Filename: name, Warnings: []string{fmt.Sprintf("history not pruned: %v", err)}}, nil
	}
	return Snapshotted{Filename: name, Pruned: pruned.Removed, Warnings: pruned.Warnings}, nil
}

// ListHistory returns the project's snapshots, newest first.
func (s *Store) ListHistory(projectPath string) ([]HistoryEntry, error) {
	dir := historyDir(projectPath)
	names, err := listSnapshots(dir)
	if err != nil {
		return nil, faults.Wrap(faults.ErrIO, "timeline", "list history", dir, err)
	}
	entries := make([]HistoryEntry, 0, len(names))
	for _, name := range names {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		ts, label, _ := parseSnapshotName(name)
		entries = append(entries, HistoryEntry{
			Filename:   name,
			Timestamp:  ts,
			Label:      label,
			Size:       info.Size(),
			ModifiedAt: info.ModTime().UTC(),
		})
	}
	return entries, nil
}

// Prune deletes the oldest snapshots beyond the retention ceiling.
func (s *Store) Prune(projectPath string) (Pruned, error) {
	dir := historyDir(projectPath)
	names, err := listSnapshots(dir)
	if err != nil {
		return Pruned{}, faults.Wrap(faults.ErrIO, "timeline", "prune history", dir, err)
	}
	result := Pruned{Removed: []string{}}
	if len(names) <= s.maxSnapshots {
		return result, nil
	}
	for _, name := range names[s.maxSnapshots:] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("remove %s: %v", name, err))
			continue
		}
		result.Removed = append(result.Removed, name)
	}
	if len(result.Removed) > 0 {
		s.logger.Debug("history pruned",
			logging.Project(projectPath),
			logging.Int("removed", len(result.Removed)),
			logging.Int("kept", s.maxSnapshots),
		)
	}
	return result, nil
}

// Rollback makes the named snapshot the active document. The current
// document is first saved as a labelled backup snapshot.
func (s *Store) Rollback(projectPath, name string) (RolledBack, error) {
	path, name, err := historyPath(historyDir(projectPath), name)
	if err != nil {
		return RolledBack{}, err
	}
	target, err := readDocument(path, "rollback")
	if err != nil {
		return RolledBack{}, err
	}
	active, err := activePath(projectPath)
	if err != nil {
		return RolledBack{}, err
	}

	result := RolledBack{Document: target}
	current, err := readDocument(active, "rollback")
	switch {
	case err == nil:
		backup, err := s.snapshot(projectPath, current, RollbackLabel)
		if err != nil {
			return RolledBack{}, err
		}
		result.Backup = backup.Filename
		result.Warnings = backup.Warnings
	case errors.Is(err, faults.ErrNotFound), errors.Is(err, faults.ErrIntegrity):
		result.Warnings = append(result.Warnings, fmt.Sprintf("no backup of the active timeline: %v", err))
	default:
		return RolledBack{}, err
	}

	if err := writeDocument(active, target, "rollback"); err != nil {
		return RolledBack{}, err
	}
	if err := project.TouchSaved(projectPath, s.now()); err != nil {
		return result, err
	}
	s.logger.Info("timeline rolled back",
		logging.Project(projectPath),
		logging.String("snapshot", name),
		logging.String("backup", result.Backup),
		logging.String(logging.FieldEventType, "timeline_rollback"),
	)
	return result, nil
}

// AutoSave saves with history and records the outcome in the project's
// autosave or error log.
func (s *Store) AutoSave(projectPath string, state State) (Saved, error) {
	result, err := s.Save(projectPath, state, true)
	stamp := s.now().UTC().Format(time.RFC3339)
	logPath := filepath.Join(projectPath, filepath.FromSlash(project.AutosaveLog))
	line := stamp + " Auto-save successful"
	if err != nil {
		logPath = filepath.Join(projectPath, filepath.FromSlash(project.ErrorLog))
		line = fmt.Sprintf("%s Auto-save failed: %v", stamp, err)
	}
	if appendErr := appendProjectLog(logPath, line); appendErr != nil {
		logging.WarnWithContext(s.logger, "project log not written", "project_log_failed",
			logging.Project(projectPath),
			logging.String("path", logPath),
			logging.Error(appendErr),
			logging.String(logging.FieldImpact, "autosave history incomplete"),
		)
	}
	return result, err
}

func appendProjectLog(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return fileutil.AppendLine(path, line)
}
