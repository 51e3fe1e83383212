package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"reelvault/internal/assets"
	"reelvault/internal/faults"
	"reelvault/internal/fileutil"
	"reelvault/internal/logging"
	"reelvault/internal/media/ffmpeg"
	"reelvault/internal/project"
)

const (
	DefaultThumbnailWidth  = 320
	DefaultWaveformEntries = 32
	DefaultWaveformTTL     = 10 * time.Minute
)

const cacheRoot = "cache"

// Kind selects one area of the cache.
type Kind string

const (
	KindAll        Kind = ""
	KindThumbnails Kind = "thumbnails"
	KindWaveforms  Kind = "waveforms"
	KindRender     Kind = "render"
)

// ParseKind converts a user-supplied cache area name.
func ParseKind(value string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(value))); k {
	case KindAll, KindThumbnails, KindWaveforms, KindRender:
		return k, nil
	case "all":
		return KindAll, nil
	default:
		return "", faults.Wrap(faults.ErrValidation, "cache", "parse kind",
			fmt.Sprintf("unknown cache kind %q (expected thumbnails, waveforms or render)", value), nil)
	}
}

func (k Kind) dirs() []string {
	switch k {
	case KindThumbnails:
		return []string{project.ThumbnailsDir}
	case KindWaveforms:
		return []string{project.WaveformsDir}
	case KindRender:
		return []string{project.RenderCacheDir}
	default:
		return []string{project.ThumbnailsDir, project.WaveformsDir, project.RenderCacheDir}
	}
}

// ThumbnailRecorder stores the number of cached thumbnails of an asset.
type ThumbnailRecorder interface {
	SetThumbnailCount(projectPath, id string, count int) (assets.Record, error)
}

// Option configures a Cache.
type Option func(*Cache)

// WithRunner sets the ffmpeg runner used to extract frames and audio.
func WithRunner(r *ffmpeg.Runner) Option {
	return func(c *Cache) {
		if r != nil {
			c.runner = r
		}
	}
}

// WithThumbnailWidth sets the width thumbnails are scaled to.
func WithThumbnailWidth(width int) Option {
	return func(c *Cache) {
		if width > 0 {
			c.thumbWidth = width
		}
	}
}

// WithWaveformMemory sizes the in-memory waveform memo.
func WithWaveformMemory(entries int, ttl time.Duration) Option {
	return func(c *Cache) {
		if entries > 0 {
			c.memoEntries = entries
		}
		if ttl > 0 {
			c.memoTTL = ttl
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces the time source (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Cache manages derived artifacts below a project's cache/ folder.
type Cache struct {
	runner      *ffmpeg.Runner
	recorder    ThumbnailRecorder
	thumbWidth  int
	memoEntries int
	memoTTL     time.Duration
	logger      *slog.Logger
	now         func() time.Time

	waveforms *expirable.LRU[string, Waveform]
}

// New constructs a cache. recorder may be nil when thumbnail counts need
// not be tracked.
func New(recorder ThumbnailRecorder, opts ...Option) *Cache {
	c := &Cache{
		runner:      ffmpeg.New(""),
		recorder:    recorder,
		thumbWidth:  DefaultThumbnailWidth,
		memoEntries: DefaultWaveformEntries,
		memoTTL:     DefaultWaveformTTL,
		logger:      logging.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "cache")
	c.waveforms = expirable.NewLRU[string, Waveform](c.memoEntries, nil, c.memoTTL)
	return c
}

// Usage breaks down the bytes held by a project's cache.
type Usage struct {
	Thumbnails int64 `json:"thumbnails"`
	Waveforms  int64 `json:"waveforms"`
	Render     int64 `json:"render"`
	Total      int64 `json:"total"`
}

// Size reports the bytes used below cache/.
func (c *Cache) Size(projectPath string) (Usage, error) {
	var usage Usage
	areas := []struct {
		rel string
		dst *int64
	}{
		{project.ThumbnailsDir, &usage.Thumbnails},
		{project.WaveformsDir, &usage.Waveforms},
		{project.RenderCacheDir, &usage.Render},
	}
	for _, area := range areas {
		size, err := fileutil.DirSize(filepath.Join(projectPath, filepath.FromSlash(area.rel)))
		if err != nil {
			return Usage{}, faults.Wrap(faults.ErrIO, "cache", "size", area.rel, err)
		}
		*area.dst = size
	}
	total, err := fileutil.DirSize(filepath.Join(projectPath, cacheRoot))
	if err != nil {
		return Usage{}, faults.Wrap(faults.ErrIO, "cache", "size", cacheRoot, err)
	}
	usage.Total = total
	return usage, nil
}

// Cleared is the result of Clear.
type Cleared struct {
	Cleared  []string `json:"cleared"`
	Warnings []string `json:"warnings,omitempty"`
}

// Clear empties one cache area, or all of them for KindAll. The folders
// themselves are recreated empty.
func (c *Cache) Clear(projectPath string, kind Kind) (Cleared, error) {
	if !fileutil.Exists(filepath.Join(projectPath, project.ManifestFile)) {
		return Cleared{}, faults.Wrap(faults.ErrNotFound, "cache", "clear", projectPath, nil)
	}
	result := Cleared{Cleared: []string{}}
	for _, rel := range kind.dirs() {
		dir := filepath.Join(projectPath, filepath.FromSlash(rel))
		if err := os.RemoveAll(dir); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("clear %s: %v", rel, err))
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("recreate %s: %v", rel, err))
			continue
		}
		result.Cleared = append(result.Cleared, rel)
	}
	if kind == KindAll || kind == KindWaveforms {
		c.forgetProject(projectPath)
	}
	c.logger.Info("cache cleared",
		logging.Project(projectPath),
		logging.String("kind", string(kind)),
		logging.Int("areas", len(result.Cleared)),
	)
	return result, nil
}

// Cleaned is the result of CleanupOld.
type Cleaned struct {
	Removed  int      `json:"removed"`
	Freed    int64    `json:"freed_bytes"`
	Warnings []string `json:"warnings,omitempty"`
}

// CleanupOld deletes cached files last modified more than maxAge ago.
func (c *Cache) CleanupOld(projectPath string, maxAge time.Duration) (Cleaned, error) {
	if maxAge <= 0 {
		return Cleaned{}, faults.Wrap(faults.ErrValidation, "cache", "cleanup", "max age must be positive", nil)
	}
	root := filepath.Join(projectPath, cacheRoot)
	cutoff := c.now().Add(-maxAge)
	var result Cleaned
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("remove %s: %v", path, err))
			return nil
		}
		result.Removed++
		result.Freed += info.Size()
		return nil
	})
	if err != nil {
		return result, faults.Wrap(faults.ErrIO, "cache", "cleanup", root, err)
	}
	if result.Removed > 0 {
		c.forgetProject(projectPath)
	}
	c.logger.Info("cache cleanup complete",
		logging.Project(projectPath),
		logging.Int("removed", result.Removed),
		logging.Int64("freed_bytes", result.Freed),
		logging.Duration("max_age", maxAge),
	)
	return result, nil
}

func memoKey(projectPath, id string) string {
	return filepath.Clean(projectPath) + "\x00" + id
}

func (c *Cache) forgetProject(projectPath string) {
	prefix := filepath.Clean(projectPath) + "\x00"
	for _, key := range c.waveforms.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.waveforms.Remove(key)
		}
	}
}
