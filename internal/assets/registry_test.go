package assets_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"reelvault/internal/assets"
	"reelvault/internal/faults"
	"reelvault/internal/fileutil"
	"reelvault/internal/media/mediatype"
	"reelvault/internal/project"
)

type fakeProber struct {
	meta  assets.Metadata
	err   error
	mu    sync.Mutex
	calls []string
}

func (f *fakeProber) Probe(_ context.Context, path string) (assets.Metadata, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()
	return f.meta, f.err
}

func newProject(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "proj")
	for _, sub := range project.Directories {
		if err := os.MkdirAll(filepath.Join(dir, filepath.FromSlash(sub)), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	m := project.Manifest{
		SchemaVersion:  project.SchemaVersion,
		ProjectID:      "p1",
		Name:           "proj",
		ActiveTimeline: project.DefaultTimeline,
		AssetsIndex:    project.DefaultAssetsIndex,
		SettingsFile:   project.SettingsFile,
	}
	if err := project.WriteManifest(dir, m); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	if err := assets.Seed(dir, m); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return dir
}

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func steppingClock() func() time.Time {
	var mu sync.Mutex
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestImportCopyChecksumsAndProbes(t *testing.T) {
	proj := newProject(t)
	src := writeSource(t, "Clip.MP4", "frames")
	prober := &fakeProber{meta: assets.Metadata{Duration: 12.5, Width: 1920, Height: 1080}}
	reg := assets.NewRegistry(assets.WithProber(prober))

	imported, err := reg.Import(context.Background(), proj, src, assets.ModeCopy, assets.Metadata{Duration: 99, Codec: "h264"})
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}
	rec := imported.Record
	if rec.Type != mediatype.Video || rec.Storage != assets.Internal {
		t.Fatalf("unexpected classification %+v", rec)
	}
	if rec.Duration != 12.5 || rec.Codec != "h264" || rec.Width != 1920 {
		t.Fatalf("expected probed metadata with caller fallback, got %+v", rec.Metadata)
	}
	wantRel := "assets/media/video/" + imported.UUID + ".MP4"
	if rec.LocalPath == nil || *rec.LocalPath != wantRel {
		t.Fatalf("unexpected local path %v", rec.LocalPath)
	}
	if !fileutil.Exists(src) {
		t.Fatal("copy must leave the source in place")
	}
	sum, err := fileutil.Checksum(src)
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	if rec.Checksum == nil || *rec.Checksum != sum {
		t.Fatalf("checksum mismatch: %v vs %s", rec.Checksum, sum)
	}
	if rec.Size != int64(len("frames")) || rec.Filename != "Clip.MP4" {
		t.Fatalf("unexpected size or filename %+v", rec)
	}
	if len(prober.calls) != 1 || prober.calls[0] != src {
		t.Fatalf("expected probe of source, got %v", prober.calls)
	}

	got, err := reg.Get(proj, imported.UUID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UUID != imported.UUID || !fileutil.Exists(got.SourcePath(proj)) {
		t.Fatalf("stored record not usable: %+v", got)
	}
}

func TestImportMoveRemovesSource(t *testing.T) {
	proj := newProject(t)
	src := writeSource(t, "take.wav", "pcm")
	reg := assets.NewRegistry()

	imported, err := reg.Import(context.Background(), proj, src, assets.ModeMove, assets.Metadata{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if fileutil.Exists(src) {
		t.Fatal("move must remove the source")
	}
	rec := imported.Record
	if rec.Type != mediatype.Audio || rec.Checksum == nil || *rec.Checksum == "" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !strings.HasPrefix(*rec.LocalPath, "assets/media/audio/") {
		t.Fatalf("unexpected local path %s", *rec.LocalPath)
	}
	data, err := os.ReadFile(rec.SourcePath(proj))
	if err != nil || string(data) != "pcm" {
		t.Fatalf("moved file unreadable: %v %q", err, data)
	}
}

func TestImportLinkKeepsReference(t *testing.T) {
	proj := newProject(t)
	src := writeSource(t, "still.png", "png")
	prober := &fakeProber{}
	reg := assets.NewRegistry(assets.WithProber(prober))

	imported, err := reg.Import(context.Background(), proj, src, assets.ModeLink, assets.Metadata{Width: 640})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	rec := imported.Record
	if rec.Storage != assets.External || rec.LocalPath != nil || rec.Checksum != nil {
		t.Fatalf("linked asset must be external without local copy: %+v", rec)
	}
	if rec.OriginalPath != src || rec.Width != 640 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(prober.calls) != 0 {
		t.Fatal("images must not be probed")
	}
	entries, err := os.ReadDir(filepath.Join(proj, "assets", "media", "images"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("link must not copy media, found %d files", len(entries))
	}
}

func TestImportProbeFailureFallsBack(t *testing.T) {
	proj := newProject(t)
	src := writeSource(t, "broken.mov", "??")
	reg := assets.NewRegistry(assets.WithProber(&fakeProber{err: errors.New("exit status 1")}))

	imported, err := reg.Import(context.Background(), proj, src, assets.ModeLink, assets.Metadata{Duration: 3})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if imported.Record.Duration != 3 {
		t.Fatalf("expected caller duration, got %v", imported.Record.Duration)
	}
	if len(imported.Warnings) != 1 {
		t.Fatalf("expected probe warning, got %v", imported.Warnings)
	}
}

func TestImportRejections(t *testing.T) {
	proj := newProject(t)
	reg := assets.NewRegistry()
	ctx := context.Background()

	cases := []struct {
		name   string
		source string
		mode   assets.Mode
		want   error
	}{
		{name: "unsupported", source: writeSource(t, "notes.txt", "x"), mode: assets.ModeCopy, want: faults.ErrValidation},
		{name: "missing", source: filepath.Join(t.TempDir(), "gone.mp4"), mode: assets.ModeCopy, want: faults.ErrNotFound},
		{name: "directory", source: t.TempDir(), mode: assets.ModeLink, want: faults.ErrValidation},
		{name: "mode", source: writeSource(t, "a.mp4", "x"), mode: assets.Mode("symlink"), want: faults.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.Import(ctx, proj, tc.source, tc.mode, assets.Metadata{})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	list, err := reg.List(proj, assets.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("rejected imports must not be recorded, got %d", len(list))
	}
}

func TestImportIntoMissingProject(t *testing.T) {
	reg := assets.NewRegistry()
	src := writeSource(t, "a.mp4", "x")
	_, err := reg.Import(context.Background(), filepath.Join(t.TempDir(), "nope"), src, assets.ModeCopy, assets.Metadata{})
	if !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdatePatchesMetadata(t *testing.T) {
	proj := newProject(t)
	reg := assets.NewRegistry()
	imported, err := reg.Import(context.Background(), proj, writeSource(t, "a.mp4", "x"), assets.ModeCopy, assets.Metadata{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	name := "renamed.mp4"
	duration := 42.0
	origin := "/elsewhere/a.mp4"
	updated, err := reg.Update(proj, imported.UUID, assets.Patch{Filename: &name, Duration: &duration, OriginalPath: &origin})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Filename != name || updated.Duration != 42 {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if updated.OriginalPath == origin {
		t.Fatal("internal assets must keep their original path")
	}
	if updated.Checksum == nil || updated.LocalPath == nil {
		t.Fatal("update must not touch storage fields")
	}

	if _, err := reg.Update(proj, "missing", assets.Patch{Filename: &name}); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := reg.Get(proj, "missing"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolvePrefersProxyAndReportsOffline(t *testing.T) {
	proj := newProject(t)
	reg := assets.NewRegistry()
	src := writeSource(t, "far.mp4", "x")
	imported, err := reg.Import(context.Background(), proj, src, assets.ModeLink, assets.Metadata{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	id := imported.UUID

	resolved, err := reg.Resolve(proj, id, true)
	if err != nil || resolved.IsProxy || resolved.Path != src {
		t.Fatalf("expected original without proxy, got %+v %v", resolved, err)
	}

	rel := "assets/proxies/" + id + "_720p.mp4"
	if err := os.WriteFile(filepath.Join(proj, filepath.FromSlash(rel)), []byte("proxy"), 0o644); err != nil {
		t.Fatalf("write proxy: %v", err)
	}
	if _, err := reg.SetProxy(proj, id, rel, "720p"); err != nil {
		t.Fatalf("SetProxy: %v", err)
	}
	resolved, err = reg.Resolve(proj, id, true)
	if err != nil || !resolved.IsProxy {
		t.Fatalf("expected proxy, got %+v %v", resolved, err)
	}
	resolved, err = reg.Resolve(proj, id, false)
	if err != nil || resolved.IsProxy {
		t.Fatalf("expected original when proxies disabled, got %+v %v", resolved, err)
	}

	if err := os.Remove(src); err != nil {
		t.Fatalf("remove source: %v", err)
	}
	if _, err := reg.Resolve(proj, id, false); !errors.Is(err, faults.ErrOffline) {
		t.Fatalf("expected offline error, got %v", err)
	}
	var offline *assets.OfflineError
	if _, err := reg.Resolve(proj, id, false); !errors.As(err, &offline) || offline.UUID != id {
		t.Fatalf("expected *OfflineError for %s, got %v", id, err)
	}
	if resolved, err := reg.Resolve(proj, id, true); err != nil || !resolved.IsProxy {
		t.Fatalf("proxy should still resolve while original is offline: %v", err)
	}

	missing, err := reg.FindOffline(proj)
	if err != nil {
		t.Fatalf("FindOffline: %v", err)
	}
	if len(missing) != 1 || missing[0].UUID != id {
		t.Fatalf("unexpected offline list %+v", missing)
	}

	cleared, err := reg.ClearProxy(proj, id)
	if err != nil {
		t.Fatalf("ClearProxy: %v", err)
	}
	if cleared.ProxyAvailable || cleared.ProxyPath != nil || cleared.ProxyProfile != "" {
		t.Fatalf("proxy not cleared: %+v", cleared)
	}
}

func TestRemoveDeletesProjectFiles(t *testing.T) {
	proj := newProject(t)
	reg := assets.NewRegistry()
	imported, err := reg.Import(context.Background(), proj, writeSource(t, "a.mp4", "x"), assets.ModeCopy, assets.Metadata{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	id := imported.UUID
	local := imported.Record.SourcePath(proj)
	thumbs := filepath.Join(proj, "cache", "thumbnails", id)
	if err := os.MkdirAll(thumbs, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(thumbs, "thumb_0001.jpg"), []byte("j"), 0o644); err != nil {
		t.Fatalf("write thumb: %v", err)
	}

	removed, err := reg.Remove(proj, id, true)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(removed.Warnings) != 0 {
		t.Fatalf("unexpected warnings %v", removed.Warnings)
	}
	if fileutil.Exists(local) || fileutil.Exists(thumbs) {
		t.Fatal("expected media and thumbnails to be deleted")
	}
	if _, err := reg.Get(proj, id); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected record to be gone, got %v", err)
	}
	if _, err := reg.Remove(proj, id, false); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found on second remove, got %v", err)
	}
}

func TestRemoveKeepsExternalFiles(t *testing.T) {
	proj := newProject(t)
	reg := assets.NewRegistry()
	src := writeSource(t, "a.mp3", "x")
	imported, err := reg.Import(context.Background(), proj, src, assets.ModeLink, assets.Metadata{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if _, err := reg.Remove(proj, imported.UUID, true); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !fileutil.Exists(src) {
		t.Fatal("external media must never be deleted")
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	proj := newProject(t)
	reg := assets.NewRegistry(assets.WithClock(steppingClock()))
	ctx := context.Background()

	video, err := reg.Import(ctx, proj, writeSource(t, "v.mp4", "x"), assets.ModeCopy, assets.Metadata{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	audio, err := reg.Import(ctx, proj, writeSource(t, "a.wav", "x"), assets.ModeLink, assets.Metadata{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if _, err := reg.SetProxy(proj, video.UUID, "assets/proxies/x.mp4", "720p"); err != nil {
		t.Fatalf("SetProxy: %v", err)
	}

	all, err := reg.List(proj, assets.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].UUID != video.UUID || all[1].UUID != audio.UUID {
		t.Fatalf("expected import order, got %+v", all)
	}

	yes := true
	cases := []struct {
		name   string
		filter assets.Filter
		want   string
	}{
		{name: "type", filter: assets.Filter{Type: mediatype.Audio}, want: audio.UUID},
		{name: "storage", filter: assets.Filter{Storage: assets.Internal}, want: video.UUID},
		{name: "proxy", filter: assets.Filter{ProxyAvailable: &yes}, want: video.UUID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := reg.List(proj, tc.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != 1 || got[0].UUID != tc.want {
				t.Fatalf("unexpected result %+v", got)
			}
		})
	}
}

func TestConcurrentImportsAreAllRecorded(t *testing.T) {
	proj := newProject(t)
	reg := assets.NewRegistry()
	const n = 8
	sources := make([]string, n)
	for i := range sources {
		sources[i] = writeSource(t, fmt.Sprintf("clip%d.mp4", i), "x")
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, src := range sources {
		wg.Add(1)
		go func(src string) {
			defer wg.Done()
			if _, err := reg.Import(context.Background(), proj, src, assets.ModeLink, assets.Metadata{}); err != nil {
				errs <- err
			}
		}(src)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Import: %v", err)
	}

	list, err := reg.List(proj, assets.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != n {
		t.Fatalf("expected %d records, got %d", n, len(list))
	}
}

func TestLegacyIndexIsNormalized(t *testing.T) {
	proj := newProject(t)
	legacy := `{
  "version": "1.0.0",
  "assets": {
    "a1": {"original_path": "/src/one.mp4", "local_path": "assets/media/video/a1.mp4", "proxy_path": ""},
    "a2": {"uuid": "a2", "original_path": "/src/two.wav", "checksum": "abc"}
  }
}`
	if err := os.WriteFile(filepath.Join(proj, "assets", "index.json"), []byte(legacy), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	reg := assets.NewRegistry()

	one, err := reg.Get(proj, "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if one.UUID != "a1" || one.Storage != assets.Internal || one.Type != mediatype.Video || one.Filename != "one.mp4" {
		t.Fatalf("legacy record not normalized: %+v", one)
	}
	if one.ProxyPath != nil || one.ProxyAvailable {
		t.Fatalf("empty proxy path should read as none: %+v", one)
	}
	two, err := reg.Get(proj, "a2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if two.Storage != assets.External || two.Checksum != nil {
		t.Fatalf("external record must not carry a checksum: %+v", two)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]assets.Mode{"": assets.ModeCopy, "COPY": assets.ModeCopy, " move ": assets.ModeMove, "link": assets.ModeLink} {
		got, err := assets.ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := assets.ParseMode("hardlink"); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
