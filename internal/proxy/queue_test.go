package proxy_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reelvault/internal/assets"
	"reelvault/internal/faults"
	"reelvault/internal/fileutil"
	"reelvault/internal/media/ffmpeg"
	"reelvault/internal/project"
	"reelvault/internal/proxy"
)

type fakeTranscoder struct {
	progress []float64
	fail     func(input string) error
	delay    time.Duration

	mu      sync.Mutex
	inputs  []string
	outputs []string
	active  int32
	peak    int32
}

func (f *fakeTranscoder) Transcode(_ context.Context, input, output string, _ proxy.Profile, onProgress func(float64)) error {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		peak := atomic.LoadInt32(&f.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&f.peak, peak, n) {
			break
		}
	}
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.outputs = append(f.outputs, output)
	f.mu.Unlock()

	time.Sleep(f.delay)
	for _, s := range f.progress {
		onProgress(s)
	}
	if f.fail != nil {
		if err := f.fail(input); err != nil {
			_ = os.WriteFile(output, []byte("partial"), 0o644)
			return err
		}
	}
	return os.WriteFile(output, []byte("proxy"), 0o644)
}

func (f *fakeTranscoder) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
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

func linkAsset(t *testing.T, reg *assets.Registry, proj, name string, duration float64) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(src, []byte("media"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	imported, err := reg.Import(context.Background(), proj, src, assets.ModeLink, assets.Metadata{Duration: duration})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	return imported.UUID
}

func waitCompleted(t *testing.T, q *proxy.Queue) proxy.CompletedEvent {
	t.Helper()
	select {
	case ev := <-q.Completed():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
	return proxy.CompletedEvent{}
}

func waitFailed(t *testing.T, q *proxy.Queue) proxy.FailedEvent {
	t.Helper()
	select {
	case ev := <-q.Failed():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for failure")
	}
	return proxy.FailedEvent{}
}

func stopQueue(t *testing.T, q *proxy.Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestFailureDoesNotBlockQueue(t *testing.T) {
	proj := newProject(t)
	reg := assets.NewRegistry()
	bad := linkAsset(t, reg, proj, "bad.mp4", 10)
	good := linkAsset(t, reg, proj, "good.mp4", 10)

	transcoder := &fakeTranscoder{fail: func(input string) error {
		if strings.HasSuffix(input, "bad.mp4") {
			return errors.New("exit status 1")
		}
		return nil
	}}
	q := proxy.NewQueue(reg, proxy.WithTranscoder(transcoder))
	defer stopQueue(t, q)

	if _, err := q.Enqueue(proj, bad, "", "720p"); err != nil {
		t.Fatalf("Enqueue bad: %v", err)
	}
	goodJob, err := q.Enqueue(proj, good, "", "720p")
	if err != nil {
		t.Fatalf("Enqueue good: %v", err)
	}

	failed := waitFailed(t, q)
	if failed.AssetUUID != bad || failed.Error == "" {
		t.Fatalf("unexpected failure event %+v", failed)
	}
	completed := waitCompleted(t, q)
	if completed.JobID != goodJob || completed.AssetUUID != good {
		t.Fatalf("unexpected completion event %+v", completed)
	}

	rec, err := reg.Get(proj, good)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := "assets/proxies/" + good + "_720p.mp4"
	if !rec.ProxyAvailable || rec.ProxyPath == nil || *rec.ProxyPath != want || rec.ProxyProfile != "720p" {
		t.Fatalf("registry not updated: %+v", rec)
	}
	failedRec, err := reg.Get(proj, bad)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if failedRec.ProxyAvailable {
		t.Fatal("failed job must not mark a proxy")
	}
	entries, err := os.ReadDir(filepath.Join(proj, "assets", "proxies"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".part.") {
			t.Fatalf("partial output left behind: %s", entry.Name())
		}
	}
}

func TestJobsRunSequentiallyInOrder(t *testing.T) {
	proj := newProject(t)
	reg := assets.NewRegistry()
	transcoder := &fakeTranscoder{delay: 10 * time.Millisecond}
	q := proxy.NewQueue(reg, proxy.WithTranscoder(transcoder))
	defer stopQueue(t, q)

	var ids []string
	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		id := linkAsset(t, reg, proj, name, 4)
		jobID, err := q.Enqueue(proj, id, "", "480p")
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if !strings.HasPrefix(jobID, id+"_") {
			t.Fatalf("unexpected job id %s", jobID)
		}
		ids = append(ids, id)
	}
	for i, id := range ids {
		ev := waitCompleted(t, q)
		if ev.AssetUUID != id {
			t.Fatalf("completion %d is %s, want %s", i, ev.AssetUUID, id)
		}
	}
	if peak := atomic.LoadInt32(&transcoder.peak); peak != 1 {
		t.Fatalf("expected one transcode at a time, saw %d", peak)
	}
	for _, out := range transcoder.outputs {
		if !strings.HasSuffix(out, "_480p.part.mp4") {
			t.Fatalf("transcoder must write a partial file, got %s", out)
		}
	}
}

func TestExistingProxyIsSkipped(t *testing.T) {
	proj := newProject(t)
	reg := assets.NewRegistry()
	id := linkAsset(t, reg, proj, "clip.mp4", 4)
	profile, _ := proxy.Lookup("1080p")
	output := filepath.Join(proj, filepath.FromSlash(profile.OutputPath(id)))
	if err := os.WriteFile(output, []byte("done"), 0o644); err != nil {
		t.Fatalf("write proxy: %v", err)
	}

	transcoder := &fakeTranscoder{}
	q := proxy.NewQueue(reg, proxy.WithTranscoder(transcoder))
	defer stopQueue(t, q)
	if _, err := q.Enqueue(proj, id, "", "1080p"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ev := waitCompleted(t, q)
	if !ev.Skipped {
		t.Fatalf("expected skipped completion, got %+v", ev)
	}
	if transcoder.calls() != 0 {
		t.Fatal("transcoder must not run when the output exists")
	}
	status, err := q.CheckStatus(proj, id)
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if !status.Available || status.Path != output || status.Profile != "1080p" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestProgressEventsFollowDuration(t *testing.T) {
	proj := newProject(t)
	reg := assets.NewRegistry()
	id := linkAsset(t, reg, proj, "clip.mp4", 10)
	q := proxy.NewQueue(reg, proxy.WithTranscoder(&fakeTranscoder{progress: []float64{2.5, 5, 20}}))
	defer stopQueue(t, q)

	if _, err := q.Enqueue(proj, id, "", ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitCompleted(t, q)

	var got []float64
	for len(q.Progress()) > 0 {
		got = append(got, (<-q.Progress()).Progress)
	}
	want := []float64{25, 50, 99, 100}
	if len(got) != len(want) {
		t.Fatalf("progress events %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("progress events %v, want %v", got, want)
		}
	}
}

func TestUnknownDurationEmitsOnlyCompletionProgress(t *testing.T) {
	proj := newProject(t)
	reg := assets.NewRegistry()
	id := linkAsset(t, reg, proj, "clip.mp4", 0)
	q := proxy.NewQueue(reg, proxy.WithTranscoder(&fakeTranscoder{progress: []float64{1, 2}}))
	defer stopQueue(t, q)

	if _, err := q.Enqueue(proj, id, "", "720p"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitCompleted(t, q)
	if n := len(q.Progress()); n != 1 {
		t.Fatalf("expected only the completion progress event, got %d", n)
	}
}

func TestToolFailureCarriesDiagnostics(t *testing.T) {
	proj := newProject(t)
	reg := assets.NewRegistry()
	id := linkAsset(t, reg, proj, "clip.mp4", 10)

	exec := execFunc(func(_ context.Context, _ string, args []string, onStderr func(string)) error {
		if args[len(args)-1] != "-y" {
			return errors.New("unexpected argument order")
		}
		onStderr("Input #0, mov,mp4")
		onStderr("Unknown encoder 'libx264'")
		return errors.New("exit status 1")
	})
	runner := ffmpeg.New("ffmpeg", ffmpeg.WithExecutor(exec))
	q := proxy.NewQueue(reg, proxy.WithTranscoder(proxy.FFmpegTranscoder{Runner: runner}))
	defer stopQueue(t, q)

	if _, err := q.Enqueue(proj, id, "", "720p"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ev := waitFailed(t, q)
	if !strings.Contains(ev.Diagnostics, "Unknown encoder") {
		t.Fatalf("diagnostics missing stderr tail: %q", ev.Diagnostics)
	}
	if !strings.Contains(ev.Error, faults.ErrExternalTool.Error()) {
		t.Fatalf("error should be tagged as external tool failure: %q", ev.Error)
	}
}

type execFunc func(ctx context.Context, binary string, args []string, onStderr func(string)) error

func (f execFunc) Run(ctx context.Context, binary string, args []string, onStderr func(string)) error {
	return f(ctx, binary, args, onStderr)
}

func TestOfflineSourceFails(t *testing.T) {
	proj := newProject(t)
	reg := assets.NewRegistry()
	id := linkAsset(t, reg, proj, "clip.mp4", 10)
	rec, err := reg.Get(proj, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := os.Remove(rec.OriginalPath); err != nil {
		t.Fatalf("remove source: %v", err)
	}

	transcoder := &fakeTranscoder{}
	q := proxy.NewQueue(reg, proxy.WithTranscoder(transcoder))
	defer stopQueue(t, q)
	if _, err := q.Enqueue(proj, id, "", "720p"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ev := waitFailed(t, q)
	if !strings.Contains(ev.Error, "offline") || transcoder.calls() != 0 {
		t.Fatalf("unexpected failure %+v", ev)
	}
}

func TestEnqueueValidation(t *testing.T) {
	proj := newProject(t)
	reg := assets.NewRegistry()
	id := linkAsset(t, reg, proj, "clip.mp4", 1)
	q := proxy.NewQueue(reg, proxy.WithTranscoder(&fakeTranscoder{}))

	if _, err := q.Enqueue(proj, id, "", "4k"); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := q.Enqueue(proj, "missing", "", "720p"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if jobs := q.Jobs(); len(jobs) != 0 {
		t.Fatalf("rejected requests must not queue jobs: %+v", jobs)
	}

	stopQueue(t, q)
	if _, err := q.Enqueue(proj, id, "", "720p"); !errors.Is(err, proxy.ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestJobsSnapshot(t *testing.T) {
	proj := newProject(t)
	reg := assets.NewRegistry()
	release := make(chan struct{})
	blocking := transcoderFunc(func(ctx context.Context, _, output string, _ proxy.Profile, _ func(float64)) error {
		<-release
		return os.WriteFile(output, []byte("proxy"), 0o644)
	})
	q := proxy.NewQueue(reg, proxy.WithTranscoder(blocking))
	defer stopQueue(t, q)

	first := linkAsset(t, reg, proj, "a.mp4", 1)
	second := linkAsset(t, reg, proj, "b.mp4", 1)
	if _, err := q.Enqueue(proj, first, "", "720p"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Enqueue(proj, second, "", "720p"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		jobs := q.Jobs()
		if len(jobs) == 2 && jobs[0].Status == proxy.StatusProcessing {
			if jobs[0].AssetUUID != first || jobs[1].Status != proxy.StatusQueued {
				t.Fatalf("unexpected snapshot %+v", jobs)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker never started: %+v", jobs)
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(release)
	waitCompleted(t, q)
	waitCompleted(t, q)
}

type transcoderFunc func(ctx context.Context, input, output string, profile proxy.Profile, onProgress func(float64)) error

func (f transcoderFunc) Transcode(ctx context.Context, input, output string, profile proxy.Profile, onProgress func(float64)) error {
	return f(ctx, input, output, profile, onProgress)
}

func TestDeleteProxyClearsRegistry(t *testing.T) {
	proj := newProject(t)
	reg := assets.NewRegistry()
	id := linkAsset(t, reg, proj, "clip.mp4", 1)
	q := proxy.NewQueue(reg, proxy.WithTranscoder(&fakeTranscoder{}))
	defer stopQueue(t, q)

	if _, err := q.Enqueue(proj, id, "", "720p"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ev := waitCompleted(t, q)
	file := filepath.Join(proj, filepath.FromSlash(ev.ProxyPath))
	if !fileutil.Exists(file) {
		t.Fatalf("proxy file missing at %s", file)
	}

	deleted, err := q.DeleteProxy(proj, id)
	if err != nil {
		t.Fatalf("DeleteProxy: %v", err)
	}
	if deleted.Path != file || len(deleted.Warnings) != 0 {
		t.Fatalf("unexpected result %+v", deleted)
	}
	if fileutil.Exists(file) {
		t.Fatal("proxy file should be removed")
	}
	status, err := q.CheckStatus(proj, id)
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if status.Available {
		t.Fatalf("proxy should be unavailable, got %+v", status)
	}
}
