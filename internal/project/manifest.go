package project

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reelvault/internal/faults"
	"reelvault/internal/fileutil"
)

// Layout of a project directory, relative to its root.
const (
	ManifestFile       = "project.json"
	SettingsFile       = "settings.json"
	MarkersFile        = "metadata/markers.json"
	AutosaveLog        = "logs/autosave.log"
	ErrorLog           = "logs/errors.log"
	DefaultTimeline    = "timeline/timeline_v1.json"
	DefaultAssetsIndex = "assets/index.json"
	HistoryDir         = "timeline/history"
	ProxiesDir         = "assets/proxies"
	MediaDir           = "assets/media"
	ThumbnailsDir      = "cache/thumbnails"
	WaveformsDir       = "cache/waveforms"
	RenderCacheDir     = "cache/render_cache"
)

// Directories is the tree created for every new project.
var Directories = []string{
	"assets/media/video",
	"assets/media/audio",
	"assets/media/images",
	ProxiesDir,
	HistoryDir,
	ThumbnailsDir,
	WaveformsDir,
	RenderCacheDir,
	"metadata/color_grading",
	"logs",
}

// SchemaVersion is the manifest layout written by this build. Manifests
// without a schema_version predate it and are migrated on read.
const SchemaVersion = 1

// FormatVersion is the user-visible project format version.
const FormatVersion = "1.0.0"

// Resolution is the project frame size.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Manifest is the project.json descriptor.
type Manifest struct {
	SchemaVersion  int        `json:"schema_version"`
	ProjectID      string     `json:"project_id"`
	Name           string     `json:"name"`
	CreatedAt      time.Time  `json:"created_at"`
	LastSavedAt    time.Time  `json:"last_saved_at"`
	Version        string     `json:"version"`
	FPS            float64    `json:"fps"`
	Resolution     Resolution `json:"resolution"`
	SampleRate     int        `json:"sample_rate"`
	ActiveTimeline string     `json:"active_timeline"`
	AssetsIndex    string     `json:"assets_index"`
	SettingsFile   string     `json:"settings_file"`
}

// TimelinePath returns the absolute path of the active timeline document.
func (m Manifest) TimelinePath(projectPath string) string {
	return filepath.Join(projectPath, filepath.FromSlash(m.ActiveTimeline))
}

// AssetsIndexPath returns the absolute path of the asset index.
func (m Manifest) AssetsIndexPath(projectPath string) string {
	return filepath.Join(projectPath, filepath.FromSlash(m.AssetsIndex))
}

// SettingsPath returns the absolute path of the project settings.
func (m Manifest) SettingsPath(projectPath string) string {
	return filepath.Join(projectPath, filepath.FromSlash(m.SettingsFile))
}

// Settings is the per-project preferences document.
type Settings struct {
	AutosaveInterval int     `json:"autosave_interval"`
	ProxyQuality     string  `json:"proxy_quality"`
	CacheLimitGB     float64 `json:"cache_limit_gb"`
	UseProxy         bool    `json:"use_proxy"`
}

// DefaultSettings returns the settings written into new projects.
func DefaultSettings(proxyQuality string) Settings {
	if strings.TrimSpace(proxyQuality) == "" {
		proxyQuality = "720p"
	}
	return Settings{AutosaveInterval: 300, ProxyQuality: proxyQuality, CacheLimitGB: 1, UseProxy: true}
}

// Markers holds timeline markers, chapters and review comments. Entries are
// kept verbatim.
type Markers struct {
	Markers  []json.RawMessage `json:"markers"`
	Chapters []json.RawMessage `json:"chapters"`
	Comments []json.RawMessage `json:"comments"`
}

func manifestPath(projectPath string) string {
	return filepath.Join(projectPath, ManifestFile)
}

// ReadManifest loads project.json. Legacy manifests are migrated in memory
// and migrated reports true so the caller can persist the result.
func ReadManifest(projectPath string) (m Manifest, migrated bool, err error) {
	if err := fileutil.ReadJSON(manifestPath(projectPath), &m); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{}, false, faults.Wrap(faults.ErrNotFound, "project", "read manifest", projectPath, err)
		}
		return Manifest{}, false, faults.Wrap(faults.ErrIntegrity, "project", "read manifest", projectPath, err)
	}
	migrated = migrateManifest(&m)
	return m, migrated, nil
}

// migrateManifest fills fields absent from older layouts.
func migrateManifest(m *Manifest) bool {
	if m.SchemaVersion >= SchemaVersion {
		return false
	}
	if m.Version == "" {
		m.Version = FormatVersion
	}
	if m.ActiveTimeline == "" {
		m.ActiveTimeline = DefaultTimeline
	}
	if m.AssetsIndex == "" {
		m.AssetsIndex = DefaultAssetsIndex
	}
	if m.SettingsFile == "" {
		m.SettingsFile = SettingsFile
	}
	if m.FPS <= 0 {
		m.FPS = 30
	}
	if m.Resolution.Width <= 0 || m.Resolution.Height <= 0 {
		m.Resolution = Resolution{Width: 1920, Height: 1080}
	}
	if m.SampleRate <= 0 {
		m.SampleRate = 48000
	}
	if m.LastSavedAt.IsZero() {
		m.LastSavedAt = m.CreatedAt
	}
	m.SchemaVersion = SchemaVersion
	return true
}

// WriteManifest persists m atomically.
func WriteManifest(projectPath string, m Manifest) error {
	if err := fileutil.WriteJSONAtomic(manifestPath(projectPath), m); err != nil {
		return faults.Wrap(faults.ErrIO, "project", "write manifest", projectPath, err)
	}
	return nil
}

// TouchSaved records at as the manifest's last_saved_at.
func TouchSaved(projectPath string, at time.Time) error {
	m, _, err := ReadManifest(projectPath)
	if err != nil {
		return err
	}
	m.LastSavedAt = at.UTC()
	return WriteManifest(projectPath, m)
}

// ReadSettings loads the project's settings document, falling back to the
// defaults when it is missing.
func ReadSettings(projectPath string) (Settings, error) {
	m, _, err := ReadManifest(projectPath)
	if err != nil {
		return Settings{}, err
	}
	var s Settings
	if err := fileutil.ReadJSON(m.SettingsPath(projectPath), &s); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultSettings(""), nil
		}
		return Settings{}, faults.Wrap(faults.ErrIntegrity, "project", "read settings", projectPath, err)
	}
	return s, nil
}

// CheckIntegrity lists the required files and directories missing from
// projectPath. An empty result means the layout is complete.
func CheckIntegrity(projectPath string, m Manifest) []string {
	var issues []string
	files := []string{ManifestFile, m.AssetsIndex, m.ActiveTimeline, m.SettingsFile}
	for _, rel := range files {
		info, err := os.Stat(filepath.Join(projectPath, filepath.FromSlash(rel)))
		switch {
		case err != nil:
			issues = append(issues, "missing file: "+rel)
		case info.IsDir():
			issues = append(issues, rel+" is a directory")
		}
	}
	for _, rel := range []string{"assets", "timeline", "cache", "metadata", "logs"} {
		info, err := os.Stat(filepath.Join(projectPath, rel))
		switch {
		case err != nil:
			issues = append(issues, "missing directory: "+rel)
		case !info.IsDir():
			issues = append(issues, rel+" is not a directory")
		}
	}
	return issues
}
