package assets

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"reelvault/internal/faults"
	"reelvault/internal/fileutil"
	"reelvault/internal/media/mediatype"
	"reelvault/internal/project"
)

// IndexVersion is the asset index schema written by this build.
const IndexVersion = 1

// Storage says where the bytes of an asset live.
type Storage string

const (
	// Internal assets were copied or moved into assets/media.
	Internal Storage = "internal"
	// External assets are referenced at their original path.
	External Storage = "external"
)

// Mode selects how Import transfers a source file.
type Mode string

const (
	ModeCopy Mode = "copy"
	ModeMove Mode = "move"
	ModeLink Mode = "link"
)

// ParseMode converts a user-supplied mode name.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeCopy:
		return ModeCopy, nil
	case ModeMove:
		return ModeMove, nil
	case ModeLink:
		return ModeLink, nil
	default:
		return "", faults.Wrap(faults.ErrValidation, "assets", "parse mode", fmt.Sprintf("unknown import mode %q (expected copy, move or link)", value), nil)
	}
}

// Metadata is the probed or caller-supplied technical description of a
// media file. Zero values mean unknown.
type Metadata struct {
	Duration   float64 `json:"duration,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	Codec      string  `json:"codec,omitempty"`
	BitRate    int64   `json:"bitrate,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
	AudioCodec string  `json:"audio_codec,omitempty"`
	Channels   int     `json:"channels,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
}

// merge returns m with every unknown field taken from fallback.
func (m Metadata) merge(fallback Metadata) Metadata {
	if m.Duration <= 0 {
		m.Duration = fallback.Duration
	}
	if m.Width <= 0 {
		m.Width = fallback.Width
	}
	if m.Height <= 0 {
		m.Height = fallback.Height
	}
	if m.Codec == "" {
		m.Codec = fallback.Codec
	}
	if m.BitRate <= 0 {
		m.BitRate = fallback.BitRate
	}
	if m.FPS <= 0 {
		m.FPS = fallback.FPS
	}
	if m.AudioCodec == "" {
		m.AudioCodec = fallback.AudioCodec
	}
	if m.Channels <= 0 {
		m.Channels = fallback.Channels
	}
	if m.SampleRate <= 0 {
		m.SampleRate = fallback.SampleRate
	}
	return m
}

// Record is one imported asset. LocalPath and Checksum are set exactly when
// Storage is Internal; paths inside the project are slash-separated and
// relative to the project root.
type Record struct {
	UUID         string         `json:"uuid"`
	Type         mediatype.Kind `json:"type"`
	OriginalPath string         `json:"original_path"`
	Filename     string         `json:"filename"`
	ImportedAt   time.Time      `json:"imported_at"`
	Metadata
	Storage        Storage `json:"storage"`
	LocalPath      *string `json:"local_path"`
	ProxyAvailable bool    `json:"proxy_available"`
	ProxyPath      *string `json:"proxy_path"`
	ProxyProfile   string  `json:"proxy_profile,omitempty"`
	ThumbnailCount int     `json:"thumbnail_count"`
	Checksum       *string `json:"checksum"`
	Size           int64   `json:"size"`
}

// SourcePath returns the absolute path of the asset's original-quality file.
func (r Record) SourcePath(projectPath string) string {
	if r.Storage == Internal && r.LocalPath != nil {
		return filepath.Join(projectPath, filepath.FromSlash(*r.LocalPath))
	}
	return r.OriginalPath
}

// ProxyFile returns the absolute proxy path, or "" when none is recorded.
func (r Record) ProxyFile(projectPath string) string {
	if r.ProxyPath == nil || *r.ProxyPath == "" {
		return ""
	}
	return filepath.Join(projectPath, filepath.FromSlash(*r.ProxyPath))
}

// Index is the assets/index.json document.
type Index struct {
	Version int                `json:"version"`
	Assets  map[string]*Record `json:"assets"`
}

// NewIndex returns an empty index at the current version.
func NewIndex() Index {
	return Index{Version: IndexVersion, Assets: map[string]*Record{}}
}

// Seed writes the empty index of a new project.
func Seed(projectPath string, m project.Manifest) error {
	return fileutil.WriteJSONAtomic(m.AssetsIndexPath(projectPath), NewIndex())
}

// IndexPath resolves the asset index of projectPath through its manifest.
func IndexPath(projectPath string) (string, error) {
	m, _, err := project.ReadManifest(projectPath)
	if err != nil {
		return "", err
	}
	return m.AssetsIndexPath(projectPath), nil
}

type storedIndex struct {
	Version json.RawMessage    `json:"version"`
	Assets  map[string]*Record `json:"assets"`
}

// readIndex loads the index at path. A missing file reads as an empty
// index; older layouts are migrated in memory and reported via migrated.
func readIndex(path string) (idx Index, migrated bool, err error) {
	var stored storedIndex
	if err := fileutil.ReadJSON(path, &stored); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewIndex(), false, nil
		}
		return Index{}, false, faults.Wrap(faults.ErrIntegrity, "assets", "read index", path, err)
	}
	idx = Index{Version: parseIndexVersion(stored.Version), Assets: stored.Assets}
	if idx.Assets == nil {
		idx.Assets = map[string]*Record{}
	}
	if idx.Version >= IndexVersion {
		return idx, false, nil
	}
	for key, rec := range idx.Assets {
		if rec == nil {
			delete(idx.Assets, key)
			continue
		}
		normalizeRecord(key, rec)
	}
	idx.Version = IndexVersion
	return idx, true, nil
}

// parseIndexVersion accepts the integer schema version and reads the
// semver strings of older indexes as version 0.
func parseIndexVersion(raw json.RawMessage) int {
	v, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0
	}
	return v
}

func normalizeRecord(key string, rec *Record) {
	if rec.UUID == "" {
		rec.UUID = key
	}
	if rec.Filename == "" && rec.OriginalPath != "" {
		rec.Filename = filepath.Base(rec.OriginalPath)
	}
	if rec.Type == "" {
		if kind, err := mediatype.FromPath(rec.Filename); err == nil {
			rec.Type = kind
		}
	}
	if rec.Storage == "" {
		if rec.LocalPath != nil && *rec.LocalPath != "" {
			rec.Storage = Internal
		} else {
			rec.Storage = External
		}
	}
	if rec.Storage == External {
		rec.LocalPath = nil
		rec.Checksum = nil
	}
	if rec.ProxyPath != nil && *rec.ProxyPath == "" {
		rec.ProxyPath = nil
	}
	if rec.ProxyPath == nil {
		rec.ProxyAvailable = false
	}
}

func writeIndex(path string, idx Index) error {
	idx.Version = IndexVersion
	if err := fileutil.WriteJSONAtomic(path, idx); err != nil {
		return faults.Wrap(faults.ErrIO, "assets", "write index", path, err)
	}
	return nil
}
