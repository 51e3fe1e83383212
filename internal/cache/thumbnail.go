package cache

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"reelvault/internal/faults"
	"reelvault/internal/fileutil"
	"reelvault/internal/logging"
	"reelvault/internal/project"
)

// Thumbnail is the result of Thumbnail.
type Thumbnail struct {
	Path   string `json:"path"`
	Cached bool   `json:"cached"`
	Count  int    `json:"count"`
}

// ThumbnailName returns the frame file name for a position in seconds, at
// a tenth of a second precision.
func ThumbnailName(at float64) string {
	frame := int(math.Floor(at * 10))
	return fmt.Sprintf("frame_%04d.jpg", frame)
}

// Thumbnail extracts the frame of input at the given second into
// cache/thumbnails/<id>/. An existing frame is returned as cached.
func (c *Cache) Thumbnail(ctx context.Context, projectPath, id, input string, at float64) (Thumbnail, error) {
	if at < 0 || math.IsNaN(at) || math.IsInf(at, 0) {
		return Thumbnail{}, faults.Wrap(faults.ErrValidation, "cache", "thumbnail", "position must be a non-negative number of seconds", nil)
	}
	dir := filepath.Join(projectPath, filepath.FromSlash(project.ThumbnailsDir), id)
	out := filepath.Join(dir, ThumbnailName(at))
	if fileutil.Exists(out) {
		return Thumbnail{Path: out, Cached: true, Count: countFrames(dir)}, nil
	}
	if !fileutil.Exists(input) {
		return Thumbnail{}, faults.Wrap(faults.ErrOffline, "cache", "thumbnail", input, nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Thumbnail{}, faults.Wrap(faults.ErrIO, "cache", "thumbnail", "create thumbnail folder", err)
	}

	args := []string{
		"-ss", strconv.FormatFloat(at, 'f', -1, 64),
		"-i", input,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:-1", c.thumbWidth),
		"-q:v", "2",
		out,
		"-y",
	}
	if err := c.runner.Run(ctx, args, nil); err != nil {
		_ = os.Remove(out)
		return Thumbnail{}, faults.Wrap(faults.ErrExternalTool, "cache", "thumbnail", id, err)
	}
	if !fileutil.Exists(out) {
		return Thumbnail{}, faults.Wrap(faults.ErrExternalTool, "cache", "thumbnail", "ffmpeg produced no frame at "+ThumbnailName(at), nil)
	}

	count := countFrames(dir)
	if c.recorder != nil {
		if _, err := c.recorder.SetThumbnailCount(projectPath, id, count); err != nil {
			logging.WarnWithContext(c.logger, "thumbnail count not recorded", "thumbnail_count_failed",
				logging.Project(projectPath),
				logging.Asset(id),
				logging.Error(err),
				logging.String(logging.FieldImpact, "asset index shows a stale thumbnail count"),
			)
		}
	}
	c.logger.Debug("thumbnail generated", logging.Project(projectPath), logging.Asset(id), logging.String("path", out))
	return Thumbnail{Path: out, Count: count}, nil
}

func countFrames(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, "frame_") && strings.HasSuffix(name, ".jpg") {
			n++
		}
	}
	return n
}
