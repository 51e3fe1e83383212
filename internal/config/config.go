package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	ProjectsDir string `toml:"projects_dir"`
	LogDir      string `toml:"log_dir"`
}

// Project contains the defaults stamped into new project manifests.
type Project struct {
	FPS        float64 `toml:"fps"`
	Width      int     `toml:"width"`
	Height     int     `toml:"height"`
	SampleRate int     `toml:"sample_rate"`
}

// Lock contains advisory project lock settings.
type Lock struct {
	// Backend selects the lock implementation: "marker" (JSON marker file
	// only) or "flock" (marker plus a kernel lock held while open).
	Backend           string `toml:"backend"`
	StaleAfterMinutes int    `toml:"stale_after_minutes"`
}

// History contains timeline snapshot retention settings.
type History struct {
	MaxSnapshots int `toml:"max_snapshots"`
}

// Proxy contains proxy generation settings.
type Proxy struct {
	DefaultProfile string `toml:"default_profile"`
	FFmpegBinary   string `toml:"ffmpeg_binary"`
	FFprobeBinary  string `toml:"ffprobe_binary"`
	EventBuffer    int    `toml:"event_buffer"`
}

// Cache contains thumbnail and waveform cache settings.
type Cache struct {
	ThumbnailWidth           int `toml:"thumbnail_width"`
	MaxAgeDays               int `toml:"max_age_days"`
	WaveformMemoryEntries    int `toml:"waveform_memory_entries"`
	WaveformMemoryTTLMinutes int `toml:"waveform_memory_ttl_minutes"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for reelvault.
//
// Configuration sections by subsystem:
//   - Paths: where projects and application logs live
//   - Project: fps, resolution and sample rate for new projects
//   - Lock: lock backend and staleness threshold
//   - History: timeline snapshot retention
//   - Proxy: default profile, ffmpeg/ffprobe binaries, event buffering
//   - Cache: thumbnail width, cache expiry, waveform memo size
//   - Logging: log format, level, and retention
type Config struct {
	Paths   Paths   `toml:"paths"`
	Project Project `toml:"project"`
	Lock    Lock    `toml:"lock"`
	History History `toml:"history"`
	Proxy   Proxy   `toml:"proxy"`
	Cache   Cache   `toml:"cache"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	localPath, err := filepath.Abs("reelvault.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(localPath); err == nil && !info.IsDir() {
		return localPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the projects and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ProjectsDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable used for proxies and cache artifacts.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Proxy.FFmpegBinary); bin != "" {
		return bin
	}
	return defaultFFmpegBinary
}

// FFprobeBinary returns the ffprobe executable used for asset metadata.
func (c *Config) FFprobeBinary() string {
	if bin := strings.TrimSpace(c.Proxy.FFprobeBinary); bin != "" {
		return bin
	}
	return defaultFFprobeBinary
}

// LockStaleAfter returns the age after which a project lock is considered stale.
func (c *Config) LockStaleAfter() time.Duration {
	return time.Duration(c.Lock.StaleAfterMinutes) * time.Minute
}

// WaveformMemoryTTL returns how long decoded waveforms stay memoized.
func (c *Config) WaveformMemoryTTL() time.Duration {
	return time.Duration(c.Cache.WaveformMemoryTTLMinutes) * time.Minute
}

// CacheMaxAge returns the age beyond which cached artifacts are cleaned up.
func (c *Config) CacheMaxAge() time.Duration {
	return time.Duration(c.Cache.MaxAgeDays) * 24 * time.Hour
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
