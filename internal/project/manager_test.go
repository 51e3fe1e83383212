package project_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reelvault/internal/faults"
	"reelvault/internal/fileutil"
	"reelvault/internal/lock"
	"reelvault/internal/project"
)

var (
	self    = lock.Info{User: "editor", Hostname: "studio", PID: 100}
	foreign = lock.Info{User: "colorist", Hostname: "studio", PID: 200}
)

func emptyDocs(projectPath string, m project.Manifest) error {
	if err := fileutil.WriteJSONAtomic(m.AssetsIndexPath(projectPath), map[string]any{"version": 1, "assets": map[string]any{}}); err != nil {
		return err
	}
	return fileutil.WriteJSONAtomic(m.TimelinePath(projectPath), map[string]any{"version": "1.0.0"})
}

func newManager(t *testing.T, owner lock.Info) (*project.Manager, string) {
	t.Helper()
	base := t.TempDir()
	locks := lock.NewMarker(lock.WithOwner(owner), lock.WithLiveness(func(int) bool { return true }))
	mgr := project.NewManager(locks,
		project.WithDefaults(project.Defaults{BaseDir: base, FPS: 25, Width: 1280, Height: 720, SampleRate: 44100, ProxyQuality: "480p"}),
		project.WithSeeders(emptyDocs),
	)
	return mgr, base
}

func TestCreateWritesLayout(t *testing.T) {
	mgr, base := newManager(t, self)
	created, err := mgr.Create(context.Background(), "My Film", project.CreateOptions{FPS: 24})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.Path != filepath.Join(base, "My Film") {
		t.Fatalf("unexpected path %s", created.Path)
	}
	if created.ProjectID == "" || created.Manifest.ProjectID != created.ProjectID {
		t.Fatal("expected project id in result and manifest")
	}
	if created.Manifest.FPS != 24 || created.Manifest.Resolution.Width != 1280 || created.Manifest.SampleRate != 44100 {
		t.Fatalf("unexpected manifest defaults %+v", created.Manifest)
	}

	for _, dir := range project.Directories {
		if info, err := os.Stat(filepath.Join(created.Path, dir)); err != nil || !info.IsDir() {
			t.Fatalf("missing directory %s", dir)
		}
	}
	for _, rel := range []string{project.ManifestFile, project.SettingsFile, project.MarkersFile, project.AutosaveLog, project.ErrorLog, lock.FileName} {
		if !fileutil.Exists(filepath.Join(created.Path, rel)) {
			t.Fatalf("missing file %s", rel)
		}
	}

	settings, err := project.ReadSettings(created.Path)
	if err != nil {
		t.Fatalf("ReadSettings: %v", err)
	}
	if settings.ProxyQuality != "480p" || settings.AutosaveInterval != 300 || !settings.UseProxy {
		t.Fatalf("unexpected settings %+v", settings)
	}

	if issues := project.CheckIntegrity(created.Path, created.Manifest); len(issues) != 0 {
		t.Fatalf("unexpected integrity issues %v", issues)
	}
}

func TestCreateRejectsExistingProject(t *testing.T) {
	mgr, _ := newManager(t, self)
	if _, err := mgr.Create(context.Background(), "P", project.CreateOptions{}); err != nil {
		t.Fatal(err)
	}
	_, err := mgr.Create(context.Background(), "P", project.CreateOptions{})
	if !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateReplacesOrphanDirectory(t *testing.T) {
	mgr, base := newManager(t, self)
	orphan := filepath.Join(base, "P")
	if err := os.MkdirAll(filepath.Join(orphan, "junk"), 0o755); err != nil {
		t.Fatal(err)
	}
	created, err := mgr.Create(context.Background(), "P", project.CreateOptions{})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if fileutil.Exists(filepath.Join(orphan, "junk")) {
		t.Fatal("orphaned content should be removed")
	}
	if len(created.Warnings) == 0 {
		t.Fatal("expected a warning about the removed directory")
	}
}

type refusingLocks struct{ lock.Manager }

func (refusingLocks) Acquire(string, bool) (lock.Info, error) {
	return lock.Info{}, faults.Wrap(faults.ErrIO, "lock", "acquire", "write marker", errors.New("read-only file system"))
}

func TestCreateRemovesDirectoryWhenLockFails(t *testing.T) {
	base := t.TempDir()
	defaults := project.WithDefaults(project.Defaults{BaseDir: base})
	failing := project.NewManager(refusingLocks{lock.NewMarker()}, defaults, project.WithSeeders(emptyDocs))

	if _, err := failing.Create(context.Background(), "Retry", project.CreateOptions{}); !errors.Is(err, faults.ErrIO) {
		t.Fatalf("expected io error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "Retry")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected project directory to be removed, stat err=%v", err)
	}

	locks := lock.NewMarker(lock.WithOwner(self), lock.WithLiveness(func(int) bool { return true }))
	mgr := project.NewManager(locks, defaults, project.WithSeeders(emptyDocs))
	if _, err := mgr.Create(context.Background(), "Retry", project.CreateOptions{}); err != nil {
		t.Fatalf("Create after failed attempt: %v", err)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"Holiday 2026", true},
		{"Café", true},
		{"", false},
		{" padded", false},
		{"trailing ", false},
		{"a/b", false},
		{"what?", false},
		{"tab\tname", false},
		{"..", false},
		{strings.Repeat("x", 255), true},
		{strings.Repeat("x", 256), false},
	}
	for _, tt := range tests {
		_, err := project.ValidateName(tt.name)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateName(%q) err=%v, want ok=%v", tt.name, err, tt.ok)
		}
		if err != nil && !errors.Is(err, faults.ErrValidation) {
			t.Errorf("ValidateName(%q) error not tagged as validation: %v", tt.name, err)
		}
	}
}

func TestValidateNameNormalizesToNFC(t *testing.T) {
	decomposed := "Cafe\u0301"
	got, err := project.ValidateName(decomposed)
	if err != nil {
		t.Fatalf("ValidateName: %v", err)
	}
	if got != "Caf\u00e9" {
		t.Fatalf("expected NFC form, got %q", got)
	}
}

func TestCloudSyncWarning(t *testing.T) {
	if project.CloudSyncWarning("/home/me/Dropbox/films/P") == "" {
		t.Fatal("expected warning for Dropbox path")
	}
	if project.CloudSyncWarning("/srv/projects/P") != "" {
		t.Fatal("unexpected warning for local path")
	}
}

func TestOpenRespectsForeignLock(t *testing.T) {
	owner, base := newManager(t, foreign)
	created, err := owner.Create(context.Background(), "Shared", project.CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}

	locks := lock.NewMarker(lock.WithOwner(self), lock.WithLiveness(func(int) bool { return true }))
	mgr := project.NewManager(locks, project.WithDefaults(project.Defaults{BaseDir: base}))

	_, err = mgr.Open(context.Background(), created.Path, project.OpenOptions{})
	var locked *lock.LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected LockedError, got %v", err)
	}
	if locked.Info.User != "colorist" {
		t.Fatalf("unexpected holder %+v", locked.Info)
	}

	ro, err := mgr.Open(context.Background(), created.Path, project.OpenOptions{ReadOnly: true})
	if err != nil {
		t.Fatalf("read-only open: %v", err)
	}
	if !ro.ReadOnly || ro.Lock.OwnedBySelf || ro.Lock.PID != foreign.PID {
		t.Fatalf("unexpected read-only result %+v", ro.Lock)
	}

	forced, err := mgr.Open(context.Background(), created.Path, project.OpenOptions{Force: true})
	if err != nil {
		t.Fatalf("forced open: %v", err)
	}
	if !forced.Lock.OwnedBySelf || forced.Lock.PID != self.PID {
		t.Fatalf("expected lock to move to self, got %+v", forced.Lock)
	}
}

func TestOpenReplacesStaleLock(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		openedAt time.Time
		alive    bool
	}{
		{"holder process gone", now.Add(-time.Minute), false},
		{"older than an hour", now.Add(-90 * time.Minute), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, base := newManager(t, foreign)
			created, err := owner.Create(context.Background(), "Stale", project.CreateOptions{})
			if err != nil {
				t.Fatal(err)
			}
			held := foreign
			held.OpenedAt = tt.openedAt
			if err := fileutil.WriteJSONAtomic(filepath.Join(created.Path, lock.FileName), held); err != nil {
				t.Fatalf("write marker: %v", err)
			}

			locks := lock.NewMarker(
				lock.WithOwner(self),
				lock.WithClock(func() time.Time { return now }),
				lock.WithLiveness(func(pid int) bool { return pid == foreign.PID && tt.alive }),
			)
			mgr := project.NewManager(locks, project.WithDefaults(project.Defaults{BaseDir: base}))
			opened, err := mgr.Open(context.Background(), created.Path, project.OpenOptions{})
			if err != nil {
				t.Fatalf("Open over stale lock: %v", err)
			}
			if !opened.Lock.OwnedBySelf || opened.Lock.PID != self.PID {
				t.Fatalf("expected lock to be replaced, got %+v", opened.Lock)
			}

			var onDisk lock.Info
			if err := fileutil.ReadJSON(filepath.Join(created.Path, lock.FileName), &onDisk); err != nil {
				t.Fatalf("read marker: %v", err)
			}
			if onDisk.PID != self.PID || onDisk.User != self.User || !onDisk.OpenedAt.Equal(now) {
				t.Fatalf("marker not rewritten for the new owner: %+v", onDisk)
			}
		})
	}
}

func TestOpenReportsIntegrityIssues(t *testing.T) {
	mgr, _ := newManager(t, self)
	created, err := mgr.Create(context.Background(), "Damaged", project.CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(created.Path, project.SettingsFile)); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(filepath.Join(created.Path, "cache")); err != nil {
		t.Fatal(err)
	}

	opened, err := mgr.Open(context.Background(), created.Path, project.OpenOptions{})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	want := map[string]bool{"missing file: settings.json": true, "missing directory: cache": true}
	if len(opened.IntegrityIssues) != len(want) {
		t.Fatalf("unexpected issues %v", opened.IntegrityIssues)
	}
	for _, issue := range opened.IntegrityIssues {
		if !want[issue] {
			t.Fatalf("unexpected issue %q", issue)
		}
	}
}

func TestOpenMigratesLegacyManifest(t *testing.T) {
	mgr, base := newManager(t, self)
	dir := filepath.Join(base, "Legacy")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	legacy := map[string]any{
		"project_id":    "abc",
		"name":          "Legacy",
		"created_at":    "2024-01-01T00:00:00Z",
		"last_saved_at": "2024-01-02T00:00:00Z",
	}
	if err := fileutil.WriteJSONAtomic(filepath.Join(dir, project.ManifestFile), legacy); err != nil {
		t.Fatal(err)
	}

	opened, err := mgr.Open(context.Background(), dir, project.OpenOptions{})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if opened.Manifest.ActiveTimeline != project.DefaultTimeline || opened.Manifest.FPS != 30 {
		t.Fatalf("expected migrated defaults, got %+v", opened.Manifest)
	}

	onDisk, migrated, err := project.ReadManifest(dir)
	if err != nil {
		t.Fatal(err)
	}
	if migrated || onDisk.SchemaVersion != project.SchemaVersion {
		t.Fatalf("expected migration to be persisted, got %+v", onDisk)
	}
}

func TestOpenMissingProject(t *testing.T) {
	mgr, base := newManager(t, self)
	_, err := mgr.Open(context.Background(), filepath.Join(base, "nope"), project.OpenOptions{})
	if !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	mgr, _ := newManager(t, self)
	created, err := mgr.Create(context.Background(), "P", project.CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Close(created.Path); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := mgr.Close(created.Path); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	status, err := mgr.CheckLock(created.Path)
	if err != nil || status.Exists {
		t.Fatalf("expected unlocked project, got %+v err=%v", status, err)
	}
}

func TestDeleteProject(t *testing.T) {
	owner, base := newManager(t, foreign)
	created, err := owner.Create(context.Background(), "Doomed", project.CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	locks := lock.NewMarker(lock.WithOwner(self), lock.WithLiveness(func(int) bool { return true }))
	mgr := project.NewManager(locks, project.WithDefaults(project.Defaults{BaseDir: base}))

	if _, err := mgr.Delete(context.Background(), created.Path, false); !errors.Is(err, faults.ErrLocked) {
		t.Fatalf("expected locked error, got %v", err)
	}
	if !fileutil.Exists(created.Path) {
		t.Fatal("locked project must survive")
	}
	if _, err := mgr.Delete(context.Background(), created.Path, true); err != nil {
		t.Fatalf("forced Delete: %v", err)
	}
	if fileutil.Exists(created.Path) {
		t.Fatal("project directory should be gone")
	}
}

func TestDeleteRefusesNonProject(t *testing.T) {
	mgr, base := newManager(t, self)
	dir := filepath.Join(base, "plain")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Delete(context.Background(), dir, true); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListSortsByLastSaved(t *testing.T) {
	mgr, base := newManager(t, self)
	ctx := context.Background()
	for _, name := range []string{"Older", "Newer"} {
		if _, err := mgr.Create(ctx, name, project.CreateOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := project.TouchSaved(filepath.Join(base, "Older"), time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(base, "not-a-project"), 0o755); err != nil {
		t.Fatal(err)
	}
	broken := filepath.Join(base, "Broken")
	if err := os.MkdirAll(broken, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(broken, project.ManifestFile), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	listing, err := mgr.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listing.Projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(listing.Projects))
	}
	if listing.Projects[0].Manifest.Name != "Newer" || listing.Projects[1].Manifest.Name != "Older" {
		t.Fatalf("unexpected order: %s, %s", listing.Projects[0].Manifest.Name, listing.Projects[1].Manifest.Name)
	}
	if listing.Projects[0].SizeBytes <= 0 {
		t.Fatal("expected size to be computed")
	}
	if len(listing.Warnings) != 1 {
		t.Fatalf("expected one warning for the broken manifest, got %v", listing.Warnings)
	}
}
