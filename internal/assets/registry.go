package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelvault/internal/faults"
	"reelvault/internal/fileutil"
	"reelvault/internal/logging"
	"reelvault/internal/media/mediatype"
	"reelvault/internal/project"
)

// OfflineError reports an asset whose backing file cannot be reached.
type OfflineError struct {
	UUID string
	Path string
}

func (e *OfflineError) Error() string {
	return fmt.Sprintf("asset %s is offline: %s not reachable", e.UUID, e.Path)
}

func (e *OfflineError) Is(target error) bool { return target == faults.ErrOffline }

// Prober extracts technical metadata from a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (Metadata, error)
}

// Imported is the result of Import.
type Imported struct {
	UUID     string   `json:"uuid"`
	Record   Record   `json:"metadata"`
	Warnings []string `json:"warnings,omitempty"`
}

// Removed is the result of Remove.
type Removed struct {
	UUID     string   `json:"uuid"`
	Warnings []string `json:"warnings,omitempty"`
}

// Resolved is the result of Resolve.
type Resolved struct {
	Path    string `json:"path"`
	IsProxy bool   `json:"is_proxy"`
	Record  Record `json:"metadata"`
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Type           mediatype.Kind
	Storage        Storage
	ProxyAvailable *bool
}

func (f Filter) match(r *Record) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Storage != "" && r.Storage != f.Storage {
		return false
	}
	if f.ProxyAvailable != nil && r.ProxyAvailable != *f.ProxyAvailable {
		return false
	}
	return true
}

// Patch lists the fields Update may change. Nil fields are left untouched;
// storage, location and checksum are owned by Import.
type Patch struct {
	Filename       *string  `json:"filename,omitempty"`
	OriginalPath   *string  `json:"original_path,omitempty"`
	Duration       *float64 `json:"duration,omitempty"`
	Width          *int     `json:"width,omitempty"`
	Height         *int     `json:"height,omitempty"`
	Codec          *string  `json:"codec,omitempty"`
	BitRate        *int64   `json:"bitrate,omitempty"`
	FPS            *float64 `json:"fps,omitempty"`
	AudioCodec     *string  `json:"audio_codec,omitempty"`
	Channels       *int     `json:"channels,omitempty"`
	SampleRate     *int     `json:"sample_rate,omitempty"`
	ThumbnailCount *int     `json:"thumbnail_count,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

func (p Patch) apply(r *Record) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&r.Filename, p.Filename)
	set(&r.Codec, p.Codec)
	set(&r.AudioCodec, p.AudioCodec)
	if p.OriginalPath != nil && r.Storage == External {
		r.OriginalPath = *p.OriginalPath
	}
	if p.Duration != nil {
		r.Duration = *p.Duration
	}
	if p.Width != nil {
		r.Width = *p.Width
	}
	if p.Height != nil {
		r.Height = *p.Height
	}
	if p.BitRate != nil {
		r.BitRate = *p.BitRate
	}
	if p.FPS != nil {
		r.FPS = *p.FPS
	}
	if p.Channels != nil {
		r.Channels = *p.Channels
	}
	if p.SampleRate != nil {
		r.SampleRate = *p.SampleRate
	}
	if p.ThumbnailCount != nil {
		r.ThumbnailCount = *p.ThumbnailCount
	}
}

// Option configures a Registry.
type Option func(*Registry)

// WithProber sets the metadata prober used on import.
func WithProber(p Prober) Option {
	return func(r *Registry) { r.prober = p }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock replaces the time source (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry manages the asset index of projects. Every mutation reads,
// changes and rewrites the whole index while holding a per-index mutex, so
// the proxy worker and foreground callers in one process never drop each
// other's edits.
type Registry struct {
	prober Prober
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	indexMu map[string]*sync.Mutex
}

// NewRegistry constructs a registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		logger:  logging.NewNop(),
		now:     time.Now,
		indexMu: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "assets")
	return r
}

func (r *Registry) lockFor(indexPath string) *sync.Mutex {
	key := filepath.Clean(indexPath)
	r.mu.Lock()
	defer r.mu.Unlock()
	mu, ok := r.indexMu[key]
	if !ok {
		mu = &sync.Mutex{}
		r.indexMu[key] = mu
	}
	return mu
}

// mutate runs fn against the current index and persists the result.
func (r *Registry) mutate(projectPath string, fn func(*Index) error) error {
	indexPath, err := IndexPath(projectPath)
	if err != nil {
		return err
	}
	mu := r.lockFor(indexPath)
	mu.Lock()
	defer mu.Unlock()

	idx, _, err := readIndex(indexPath)
	if err != nil {
		return err
	}
	if err := fn(&idx); err != nil {
		return err
	}
	return writeIndex(indexPath, idx)
}

func (r *Registry) load(projectPath string) (Index, error) {
	indexPath, err := IndexPath(projectPath)
	if err != nil {
		return Index{}, err
	}
	idx, _, err := readIndex(indexPath)
	return idx, err
}

func notFound(op, id string) error {
	return faults.Wrap(faults.ErrNotFound, "assets", op, "asset "+id, nil)
}

// Import registers sourcePath with the project. Copy and move place the file
// under assets/media/<kind>/<uuid><ext> and record its SHA-256; link keeps
// only a reference to the original location.
func (r *Registry) Import(ctx context.Context, projectPath, sourcePath string, mode Mode, extra Metadata) (Imported, error) {
	if mode == "" {
		mode = ModeCopy
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return Imported{}, err
	}
	absSource, err := filepath.Abs(sourcePath)
	if err != nil {
		return Imported{}, faults.Wrap(faults.ErrValidation, "assets", "import", "resolve source path", err)
	}
	info, err := os.Stat(absSource)
	if err != nil {
		return Imported{}, faults.Wrap(faults.ErrNotFound, "assets", "import", "source "+sourcePath, err)
	}
	if !info.Mode().IsRegular() {
		return Imported{}, faults.Wrap(faults.ErrValidation, "assets", "import", "source is not a regular file", nil)
	}
	kind, err := mediatype.FromPath(absSource)
	if err != nil {
		return Imported{}, faults.Wrap(faults.ErrValidation, "assets", "import", "classify source", err)
	}
	if _, err := IndexPath(projectPath); err != nil {
		return Imported{}, err
	}

	id := uuid.NewString()
	result := Imported{UUID: id}
	meta := extra
	if kind.HasTimebase() && r.prober != nil {
		probed, err := r.prober.Probe(ctx, absSource)
		if err != nil {
			result.Warnings = append(result.Warnings, "metadata probe failed; using supplied metadata")
			logging.WarnWithContext(r.logger, "metadata probe failed", "asset_probe_failed",
				logging.Project(projectPath),
				logging.String("source", absSource),
				logging.Error(err),
				logging.String(logging.FieldImpact, "asset recorded with caller-supplied metadata only"),
				logging.String(logging.FieldErrorHint, "check that ffprobe is installed and the file is readable"),
			)
		} else {
			meta = probed.merge(extra)
		}
	}

	rec := Record{
		UUID:         id,
		Type:         kind,
		OriginalPath: absSource,
		Filename:     filepath.Base(absSource),
		ImportedAt:   r.now().UTC(),
		Metadata:     meta,
		Storage:      External,
		Size:         info.Size(),
	}

	var placed string
	if mode != ModeLink {
		rel := path.Join(project.MediaDir, kind.Subfolder(), id+filepath.Ext(absSource))
		placed = filepath.Join(projectPath, filepath.FromSlash(rel))
		sum, size, err := transfer(absSource, placed, mode)
		if err != nil {
			return Imported{}, err
		}
		rec.Storage = Internal
		rec.LocalPath = &rel
		rec.Checksum = &sum
		rec.Size = size
	}

	err = r.mutate(projectPath, func(idx *Index) error {
		idx.Assets[id] = &rec
		return nil
	})
	if err != nil {
		if placed != "" {
			r.rollbackTransfer(absSource, placed, mode)
		}
		return Imported{}, err
	}

	r.logger.Info("asset imported",
		logging.Project(projectPath),
		logging.Asset(id),
		logging.String("type", string(kind)),
		logging.String("mode", string(mode)),
		logging.Int64("size", rec.Size),
		logging.String(logging.FieldEventType, "asset_imported"),
	)
	result.Record = rec
	return result, nil
}

func transfer(src, dst string, mode Mode) (string, int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, faults.Wrap(faults.ErrIO, "assets", "import", "create media folder", err)
	}
	switch mode {
	case ModeMove:
		sum, err := fileutil.MoveFile(src, dst)
		if err != nil {
			return "", 0, faults.Wrap(faults.ErrIO, "assets", "import", "move source", err)
		}
		if sum == "" {
			if sum, err = fileutil.Checksum(dst); err != nil {
				return "", 0, faults.Wrap(faults.ErrIO, "assets", "import", "checksum moved file", err)
			}
		}
		info, err := os.Stat(dst)
		if err != nil {
			return "", 0, faults.Wrap(faults.ErrIO, "assets", "import", "stat moved file", err)
		}
		return sum, info.Size(), nil
	default:
		sum, size, err := fileutil.CopyWithChecksum(src, dst)
		if err != nil {
			return "", 0, faults.Wrap(faults.ErrIO, "assets", "import", "copy source", err)
		}
		return sum, size, nil
	}
}

// rollbackTransfer undoes a file placement whose index write failed.
func (r *Registry) rollbackTransfer(src, placed string, mode Mode) {
	var err error
	if mode == ModeMove {
		_, err = fileutil.MoveFile(placed, src)
	} else {
		err = os.Remove(placed)
	}
	if err != nil {
		logging.WarnWithContext(r.logger, "could not undo media placement", "asset_rollback_failed",
			logging.String("path", placed),
			logging.Error(err),
			logging.String(logging.FieldImpact, "an unreferenced media file remains in the project"),
		)
	}
}

// Get returns the record for id.
func (r *Registry) Get(projectPath, id string) (Record, error) {
	idx, err := r.load(projectPath)
	if err != nil {
		return Record{}, err
	}
	rec, ok := idx.Assets[id]
	if !ok {
		return Record{}, notFound("get", id)
	}
	return *rec, nil
}

// Update merges patch into the record for id.
func (r *Registry) Update(projectPath, id string, patch Patch) (Record, error) {
	return r.modify(projectPath, "update", id, func(rec *Record) { patch.apply(rec) })
}

// SetProxy records a generated proxy for id. relPath is relative to the
// project root.
func (r *Registry) SetProxy(projectPath, id, relPath, profile string) (Record, error) {
	relPath = filepath.ToSlash(relPath)
	return r.modify(projectPath, "set proxy", id, func(rec *Record) {
		rec.ProxyAvailable = true
		rec.ProxyPath = &relPath
		rec.ProxyProfile = profile
	})
}

// ClearProxy drops the proxy pointer of id.
func (r *Registry) ClearProxy(projectPath, id string) (Record, error) {
	return r.modify(projectPath, "clear proxy", id, func(rec *Record) {
		rec.ProxyAvailable = false
		rec.ProxyPath = nil
		rec.ProxyProfile = ""
	})
}

// SetThumbnailCount records how many thumbnails are cached for id.
func (r *Registry) SetThumbnailCount(projectPath, id string, count int) (Record, error) {
	return r.modify(projectPath, "set thumbnail count", id, func(rec *Record) {
		rec.ThumbnailCount = count
	})
}

func (r *Registry) modify(projectPath, op, id string, fn func(*Record)) (Record, error) {
	var out Record
	err := r.mutate(projectPath, func(idx *Index) error {
		rec, ok := idx.Assets[id]
		if !ok {
			return notFound(op, id)
		}
		fn(rec)
		out = *rec
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	r.logger.Debug("asset updated", logging.Project(projectPath), logging.Asset(id), logging.String("operation", op))
	return out, nil
}

// Remove drops id from the index. With deleteFiles, an internal asset's
// media file, proxy and cached thumbnails and waveform are deleted as well;
// failures there are returned as warnings.
func (r *Registry) Remove(projectPath, id string, deleteFiles bool) (Removed, error) {
	var rec Record
	err := r.mutate(projectPath, func(idx *Index) error {
		found, ok := idx.Assets[id]
		if !ok {
			return notFound("remove", id)
		}
		rec = *found
		delete(idx.Assets, id)
		return nil
	})
	if err != nil {
		return Removed{}, err
	}

	result := Removed{UUID: id}
	if deleteFiles && rec.Storage == Internal {
		targets := []string{rec.SourcePath(projectPath)}
		if proxy := rec.ProxyFile(projectPath); proxy != "" {
			targets = append(targets, proxy)
		}
		targets = append(targets,
			filepath.Join(projectPath, filepath.FromSlash(project.ThumbnailsDir), id),
			filepath.Join(projectPath, filepath.FromSlash(project.WaveformsDir), id+".json"),
		)
		for _, target := range targets {
			if err := os.RemoveAll(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
				result.Warnings = append(result.Warnings, fmt.Sprintf("delete %s: %v", target, err))
				logging.WarnWithContext(r.logger, "asset file not deleted", "asset_cleanup_failed",
					logging.Project(projectPath),
					logging.Asset(id),
					logging.String("path", target),
					logging.Error(err),
					logging.String(logging.FieldImpact, "orphaned file remains on disk"),
				)
			}
		}
	}
	r.logger.Info("asset removed",
		logging.Project(projectPath),
		logging.Asset(id),
		logging.Bool("delete_files", deleteFiles),
		logging.String(logging.FieldEventType, "asset_removed"),
	)
	return result, nil
}

// Resolve returns the file to use for id: the proxy when useProxy is set and
// one is recorded, else the original. An unreachable file yields
// *OfflineError.
func (r *Registry) Resolve(projectPath, id string, useProxy bool) (Resolved, error) {
	rec, err := r.Get(projectPath, id)
	if err != nil {
		return Resolved{}, err
	}
	if useProxy && rec.ProxyAvailable {
		if proxy := rec.ProxyFile(projectPath); proxy != "" {
			if fileutil.Exists(proxy) {
				return Resolved{Path: proxy, IsProxy: true, Record: rec}, nil
			}
			logging.WarnWithContext(r.logger, "recorded proxy missing; using original", "proxy_missing",
				logging.Project(projectPath),
				logging.Asset(id),
				logging.String("path", proxy),
				logging.String(logging.FieldImpact, "preview uses full-quality media"),
				logging.String(logging.FieldErrorHint, "regenerate the proxy"),
			)
		}
	}
	source := rec.SourcePath(projectPath)
	if source == "" || !fileutil.Exists(source) {
		return Resolved{}, &OfflineError{UUID: id, Path: source}
	}
	return Resolved{Path: source, Record: rec}, nil
}

// List returns the records matching filter, oldest import first.
func (r *Registry) List(projectPath string, filter Filter) ([]Record, error) {
	idx, err := r.load(projectPath)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(idx.Assets))
	for _, rec := range idx.Assets {
		if filter.match(rec) {
			out = append(out, *rec)
		}
	}
	sortRecords(out)
	return out, nil
}

// FindOffline returns the records whose original-quality file is
// unreachable.
func (r *Registry) FindOffline(projectPath string) ([]Record, error) {
	idx, err := r.load(projectPath)
	if err != nil {
		return nil, err
	}
	out := []Record{}
	for _, rec := range idx.Assets {
		source := rec.SourcePath(projectPath)
		if strings.TrimSpace(source) == "" || !fileutil.Exists(source) {
			out = append(out, *rec)
		}
	}
	sortRecords(out)
	return out, nil
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].ImportedAt.Equal(records[j].ImportedAt) {
			return records[i].ImportedAt.Before(records[j].ImportedAt)
		}
		return records[i].UUID < records[j].UUID
	})
}
