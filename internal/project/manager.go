package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"reelvault/internal/faults"
	"reelvault/internal/fileutil"
	"reelvault/internal/lock"
	"reelvault/internal/logging"
)

const (
	orphanSettleDelay = 100 * time.Millisecond
	deleteVerifyDelay = 100 * time.Millisecond
	deleteRetryDelay  = 200 * time.Millisecond
)

// Seeder writes one of the initial documents of a new project. Seeders run
// after the directory tree and manifest exist.
type Seeder func(projectPath string, m Manifest) error

// Defaults are applied to new projects when CreateOptions leaves a field zero.
type Defaults struct {
	BaseDir      string
	FPS          float64
	Width        int
	Height       int
	SampleRate   int
	ProxyQuality string
}

// CreateOptions overrides per-project creation parameters.
type CreateOptions struct {
	BaseDir    string
	FPS        float64
	Width      int
	Height     int
	SampleRate int
}

// Created is the result of a successful Create.
type Created struct {
	ProjectID string   `json:"project_id"`
	Path      string   `json:"project_path"`
	Manifest  Manifest `json:"manifest"`
	Warnings  []string `json:"warnings,omitempty"`
}

// OpenOptions controls how a project is opened.
type OpenOptions struct {
	ReadOnly bool
	Force    bool
}

// Opened is the result of a successful Open.
type Opened struct {
	Path            string      `json:"project_path"`
	Manifest        Manifest    `json:"manifest"`
	ReadOnly        bool        `json:"read_only"`
	IntegrityIssues []string    `json:"integrity_issues"`
	Lock            lock.Status `json:"lock"`
	Warnings        []string    `json:"warnings,omitempty"`
}

// Deleted is the result of a successful Delete.
type Deleted struct {
	Path     string   `json:"project_path"`
	Warnings []string `json:"warnings,omitempty"`
}

// Summary describes one project found by List.
type Summary struct {
	Path      string   `json:"project_path"`
	Manifest  Manifest `json:"manifest"`
	SizeBytes int64    `json:"size_bytes"`
}

// Listing is the result of List.
type Listing struct {
	Projects []Summary `json:"projects"`
	Warnings []string  `json:"warnings,omitempty"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaults sets creation defaults.
func WithDefaults(d Defaults) Option {
	return func(m *Manager) { m.defaults = d }
}

// WithSeeders registers the writers of the initial documents.
func WithSeeders(seeders ...Seeder) Option {
	return func(m *Manager) { m.seeders = append(m.seeders, seeders...) }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock replaces the time source (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager implements the project lifecycle.
type Manager struct {
	locks    lock.Manager
	defaults Defaults
	seeders  []Seeder
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager constructs a lifecycle manager using locks for exclusivity.
func NewManager(locks lock.Manager, opts ...Option) *Manager {
	m := &Manager{
		locks:  locks,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "project")
	return m
}

// Create makes a new project directory named after name under the base
// directory, writes its initial documents, and takes the lock.
func (m *Manager) Create(ctx context.Context, name string, opts CreateOptions) (Created, error) {
	normalized, err := ValidateName(name)
	if err != nil {
		return Created{}, err
	}
	base := strings.TrimSpace(opts.BaseDir)
	if base == "" {
		base = m.defaults.BaseDir
	}
	if base == "" {
		return Created{}, faults.Wrap(faults.ErrValidation, "project", "create", "no projects directory configured", nil)
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return Created{}, faults.Wrap(faults.ErrIO, "project", "create", "ensure projects directory", err)
	}
	projectPath := filepath.Join(base, normalized)

	var warnings []string
	if _, err := os.Stat(projectPath); err == nil {
		if fileutil.Exists(manifestPath(projectPath)) {
			return Created{}, faults.Wrap(faults.ErrValidation, "project", "create", fmt.Sprintf("project %q already exists", normalized), nil)
		}
		if err := m.clearOrphan(ctx, projectPath); err != nil {
			return Created{}, err
		}
		warnings = append(warnings, "removed leftover directory without a manifest")
	}

	manifest := m.newManifest(normalized, opts)
	if err := m.scaffold(projectPath, manifest); err != nil {
		m.discard(projectPath)
		return Created{}, err
	}

	if _, err := m.locks.Acquire(projectPath, false); err != nil {
		m.discard(projectPath)
		return Created{}, err
	}

	if w := CloudSyncWarning(projectPath); w != "" {
		warnings = append(warnings, w)
		logging.WarnWithContext(m.logger, "project created in synced folder", "project_cloud_sync",
			logging.Project(projectPath),
			logging.String(logging.FieldImpact, "sync clients may upload cache files or lag behind saves"),
			logging.String(logging.FieldErrorHint, "exclude cache/ and assets/proxies/ from sync"),
		)
	}
	m.logger.Info("project created",
		logging.Project(projectPath),
		logging.String("project_id", manifest.ProjectID),
		logging.String(logging.FieldEventType, "project_created"),
	)
	return Created{ProjectID: manifest.ProjectID, Path: projectPath, Manifest: manifest, Warnings: warnings}, nil
}

// discard removes a project directory whose creation did not complete.
func (m *Manager) discard(projectPath string) {
	if err := os.RemoveAll(projectPath); err != nil {
		logging.WarnWithContext(m.logger, "partial project left on disk", "project_create_cleanup_failed",
			logging.Project(projectPath), logging.Error(err),
			logging.String(logging.FieldImpact, "directory will be treated as an orphan on the next create"),
		)
	}
}

func (m *Manager) clearOrphan(ctx context.Context, projectPath string) error {
	logging.WarnWithContext(m.logger, "removing orphaned project directory", "project_orphan",
		logging.Project(projectPath),
		logging.String(logging.FieldImpact, "leftover files from an aborted create are discarded"),
	)
	if err := os.RemoveAll(projectPath); err != nil {
		return faults.Wrap(faults.ErrIO, "project", "create", "remove orphaned directory", err)
	}
	return sleep(ctx, orphanSettleDelay)
}

func (m *Manager) newManifest(name string, opts CreateOptions) Manifest {
	now := m.now().UTC()
	pick := func(v, d int, fallback int) int {
		switch {
		case v > 0:
			return v
		case d > 0:
			return d
		default:
			return fallback
		}
	}
	fps := opts.FPS
	if fps <= 0 {
		fps = m.defaults.FPS
	}
	if fps <= 0 {
		fps = 30
	}
	return Manifest{
		SchemaVersion: SchemaVersion,
		ProjectID:     uuid.NewString(),
		Name:          name,
		CreatedAt:     now,
		LastSavedAt:   now,
		Version:       FormatVersion,
		FPS:           fps,
		Resolution: Resolution{
			Width:  pick(opts.Width, m.defaults.Width, 1920),
			Height: pick(opts.Height, m.defaults.Height, 1080),
		},
		SampleRate:     pick(opts.SampleRate, m.defaults.SampleRate, 48000),
		ActiveTimeline: DefaultTimeline,
		AssetsIndex:    DefaultAssetsIndex,
		SettingsFile:   SettingsFile,
	}
}

func (m *Manager) scaffold(projectPath string, manifest Manifest) error {
	for _, dir := range Directories {
		if err := os.MkdirAll(filepath.Join(projectPath, filepath.FromSlash(dir)), 0o755); err != nil {
			return faults.Wrap(faults.ErrIO, "project", "create", "create directory "+dir, err)
		}
	}
	if err := WriteManifest(projectPath, manifest); err != nil {
		return err
	}
	docs := []struct {
		rel string
		v   any
	}{
		{manifest.SettingsFile, DefaultSettings(m.defaults.ProxyQuality)},
		{MarkersFile, Markers{Markers: []json.RawMessage{}, Chapters: []json.RawMessage{}, Comments: []json.RawMessage{}}},
	}
	for _, doc := range docs {
		if err := fileutil.WriteJSONAtomic(filepath.Join(projectPath, filepath.FromSlash(doc.rel)), doc.v); err != nil {
			return faults.Wrap(faults.ErrIO, "project", "create", "write "+doc.rel, err)
		}
	}
	for _, rel := range []string{AutosaveLog, ErrorLog} {
		if err := os.WriteFile(filepath.Join(projectPath, filepath.FromSlash(rel)), nil, 0o644); err != nil {
			return faults.Wrap(faults.ErrIO, "project", "create", "write "+rel, err)
		}
	}
	for _, seed := range m.seeders {
		if err := seed(projectPath, manifest); err != nil {
			return faults.Wrap(faults.ErrIO, "project", "create", "seed documents", err)
		}
	}
	return nil
}

// Open loads a project's manifest and reports integrity issues. Unless
// ReadOnly is set, a valid foreign lock fails with *lock.LockedError (or is
// overridden with Force) and the lock is acquired for this process.
func (m *Manager) Open(ctx context.Context, projectPath string, opts OpenOptions) (Opened, error) {
	if err := ctx.Err(); err != nil {
		return Opened{}, err
	}
	if info, err := os.Stat(projectPath); err != nil || !info.IsDir() {
		return Opened{}, faults.Wrap(faults.ErrNotFound, "project", "open", projectPath, err)
	}

	status, err := m.locks.Check(projectPath)
	if err != nil {
		return Opened{}, err
	}
	if status.Exists && !status.OwnedBySelf && !opts.ReadOnly && !opts.Force {
		return Opened{}, &lock.LockedError{Path: projectPath, Info: *status.Info}
	}

	manifest, migrated, err := ReadManifest(projectPath)
	if err != nil {
		return Opened{}, err
	}

	var warnings []string
	if migrated && !opts.ReadOnly {
		if err := WriteManifest(projectPath, manifest); err != nil {
			warnings = append(warnings, "manifest migration not saved: "+err.Error())
		} else {
			m.logger.Info("manifest migrated",
				logging.Project(projectPath),
				logging.Int("schema_version", SchemaVersion),
				logging.String(logging.FieldEventType, "manifest_migrated"),
			)
		}
	}

	issues := CheckIntegrity(projectPath, manifest)
	if len(issues) > 0 {
		logging.WarnWithContext(m.logger, "project integrity issues", "project_integrity",
			logging.Project(projectPath),
			logging.Any("issues", issues),
			logging.String(logging.FieldImpact, "some operations may fail until the files are restored"),
		)
	}

	if !opts.ReadOnly {
		info, err := m.locks.Acquire(projectPath, opts.Force)
		if err != nil {
			return Opened{}, err
		}
		status = lock.Status{Exists: true, OwnedBySelf: true, Info: &info}
	}
	if w := CloudSyncWarning(projectPath); w != "" {
		warnings = append(warnings, w)
	}
	if issues == nil {
		issues = []string{}
	}

	m.logger.Info("project opened",
		logging.Project(projectPath),
		logging.Bool("read_only", opts.ReadOnly),
		logging.String(logging.FieldEventType, "project_opened"),
	)
	return Opened{
		Path:            projectPath,
		Manifest:        manifest,
		ReadOnly:        opts.ReadOnly,
		IntegrityIssues: issues,
		Lock:            status,
		Warnings:        warnings,
	}, nil
}

// Close releases the project lock. Closing an unlocked project succeeds.
func (m *Manager) Close(projectPath string) error {
	if err := m.locks.Release(projectPath); err != nil {
		return err
	}
	m.logger.Debug("project closed", logging.Project(projectPath))
	return nil
}

// CheckLock reports the lock state, purging a stale lock.
func (m *Manager) CheckLock(projectPath string) (lock.Status, error) {
	return m.locks.Check(projectPath)
}

// Delete removes a project directory. A valid foreign lock blocks deletion
// unless force is set.
func (m *Manager) Delete(ctx context.Context, projectPath string, force bool) (Deleted, error) {
	if info, err := os.Stat(projectPath); err != nil || !info.IsDir() {
		return Deleted{}, faults.Wrap(faults.ErrNotFound, "project", "delete", projectPath, err)
	}
	if !fileutil.Exists(manifestPath(projectPath)) {
		return Deleted{}, faults.Wrap(faults.ErrValidation, "project", "delete", "not a project directory (no project.json)", nil)
	}

	status, err := m.locks.Check(projectPath)
	if err != nil {
		return Deleted{}, err
	}
	if status.Exists && !status.OwnedBySelf && !force {
		return Deleted{}, &lock.LockedError{Path: projectPath, Info: *status.Info}
	}

	result := Deleted{Path: projectPath}
	if status.Exists {
		if err := m.locks.Release(projectPath); err != nil {
			result.Warnings = append(result.Warnings, "release lock: "+err.Error())
		}
	}

	if err := removeVerified(ctx, projectPath); err != nil {
		return Deleted{}, err
	}
	m.logger.Info("project deleted",
		logging.Project(projectPath),
		logging.Bool("forced", force),
		logging.String(logging.FieldEventType, "project_deleted"),
	)
	return result, nil
}

// removeVerified deletes dir and confirms it is gone, retrying once.
func removeVerified(ctx context.Context, dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return faults.Wrap(faults.ErrIO, "project", "delete", "remove directory", err)
	}
	if err := sleep(ctx, deleteVerifyDelay); err != nil {
		return err
	}
	if !fileutil.Exists(dir) {
		return nil
	}
	if err := sleep(ctx, deleteRetryDelay); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return faults.Wrap(faults.ErrIO, "project", "delete", "retry remove directory", err)
	}
	if fileutil.Exists(dir) {
		return faults.Wrap(faults.ErrIO, "project", "delete", "directory still present after retry", nil)
	}
	return nil
}

// List returns every project directly below base, most recently saved
// first. Directories without a manifest are skipped; unreadable manifests
// become warnings.
func (m *Manager) List(base string) (Listing, error) {
	if strings.TrimSpace(base) == "" {
		base = m.defaults.BaseDir
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Listing{Projects: []Summary{}}, nil
		}
		return Listing{}, faults.Wrap(faults.ErrIO, "project", "list", base, err)
	}

	listing := Listing{Projects: []Summary{}}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(base, entry.Name())
		if !fileutil.Exists(manifestPath(dir)) {
			continue
		}
		manifest, _, err := ReadManifest(dir)
		if err != nil {
			listing.Warnings = append(listing.Warnings, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		size, err := fileutil.DirSize(dir)
		if err != nil {
			listing.Warnings = append(listing.Warnings, fmt.Sprintf("%s: size: %v", entry.Name(), err))
		}
		listing.Projects = append(listing.Projects, Summary{Path: dir, Manifest: manifest, SizeBytes: size})
	}
	sort.SliceStable(listing.Projects, func(i, j int) bool {
		return listing.Projects[i].Manifest.LastSavedAt.After(listing.Projects[j].Manifest.LastSavedAt)
	})
	return listing, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
