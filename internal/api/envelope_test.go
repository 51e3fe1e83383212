package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"reelvault/internal/api"
	"reelvault/internal/assets"
	"reelvault/internal/faults"
	"reelvault/internal/lock"
	"reelvault/internal/proxy"
	"reelvault/internal/timeline"
)

type result struct {
	Name     string   `json:"name"`
	Warnings []string `json:"warnings,omitempty"`
}

func TestOKLiftsWarnings(t *testing.T) {
	resp := api.OK(result{Name: "p", Warnings: []string{"proxy not deleted"}})
	if !resp.Success || resp.Error != "" {
		t.Fatalf("unexpected envelope %+v", resp)
	}
	if len(resp.Warnings) != 1 || resp.Warnings[0] != "proxy not deleted" {
		t.Fatalf("warnings not lifted: %+v", resp.Warnings)
	}

	ptr := &result{Warnings: []string{"a", "b"}}
	if got := api.OK(ptr).Warnings; len(got) != 2 {
		t.Fatalf("expected warnings from pointer result, got %v", got)
	}
	if got := api.OK([]string{"x"}).Warnings; got != nil {
		t.Fatalf("non-struct data must not yield warnings, got %v", got)
	}
	var nilResult *result
	if got := api.OK(nilResult).Warnings; got != nil {
		t.Fatalf("nil pointer must not yield warnings, got %v", got)
	}
}

func TestFailLocked(t *testing.T) {
	opened := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	err := fmt.Errorf("open: %w", &lock.LockedError{
		Path: "/projects/P",
		Info: lock.Info{User: "ana", Hostname: "edit-01", PID: 4242, OpenedAt: opened},
	})
	resp := api.Fail(err)
	if resp.Success || !resp.Locked || resp.Kind != "locked" {
		t.Fatalf("unexpected envelope %+v", resp)
	}
	if resp.LockInfo == nil || resp.LockInfo.Hostname != "edit-01" || resp.LockInfo.PID != 4242 {
		t.Fatalf("lock info missing: %+v", resp.LockInfo)
	}
}

func TestFailOffline(t *testing.T) {
	resp := api.Fail(&assets.OfflineError{UUID: "a1", Path: "/media/clip.mov"})
	if !resp.Offline || resp.OfflinePath != "/media/clip.mov" || resp.Kind != "offline" {
		t.Fatalf("unexpected envelope %+v", resp)
	}

	resp = api.Fail(faults.Wrap(faults.ErrOffline, "cache", "thumbnail", "/gone.mp4", nil))
	if !resp.Offline || resp.OfflinePath != "" {
		t.Fatalf("sentinel offline error should set offline only: %+v", resp)
	}
}

func TestFromPicksBranch(t *testing.T) {
	if resp := api.From(nil, faults.Wrap(faults.ErrNotFound, "assets", "get", "a1", nil)); resp.Success || resp.Kind != "not_found" || resp.Locked || resp.Offline {
		t.Fatalf("unexpected failure envelope %+v", resp)
	}
	if resp := api.From(42, nil); !resp.Success || resp.Data != 42 {
		t.Fatalf("unexpected success envelope %+v", resp)
	}
	if resp := api.Fail(nil); !resp.Success {
		t.Fatalf("nil error should be success: %+v", resp)
	}
	if resp := api.Fail(errors.New("disk full")); resp.Kind != "io" {
		t.Fatalf("untagged errors default to io, got %q", resp.Kind)
	}
}

func TestWriteJSONShape(t *testing.T) {
	var buf bytes.Buffer
	if err := api.Write(&buf, api.Fail(&lock.LockedError{Path: "/p", Info: lock.Info{User: "u", Hostname: "h", PID: 1}})); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["success"] != false || decoded["locked"] != true {
		t.Fatalf("unexpected payload %s", buf.String())
	}
	info, ok := decoded["lock_info"].(map[string]any)
	if !ok || info["hostname"] != "h" {
		t.Fatalf("lock_info missing from %s", buf.String())
	}
	if _, ok := decoded["data"]; ok {
		t.Fatalf("failure must not carry data: %s", buf.String())
	}
}

func TestConverters(t *testing.T) {
	enqueued := time.Date(2024, 3, 1, 10, 0, 0, 500_000_000, time.FixedZone("X", 3600))
	items := api.FromJobs([]proxy.Job{
		{ID: "j1", ProjectPath: "/p", AssetUUID: "a1", Profile: "720p", Status: proxy.StatusProcessing, Progress: 40, EnqueuedAt: enqueued},
		{ID: "j2", Status: proxy.StatusQueued},
	})
	if len(items) != 2 || items[0].ID != "j1" || items[1].ID != "j2" {
		t.Fatalf("order not preserved: %+v", items)
	}
	if items[0].EnqueuedAt != "2024-03-01T09:00:00.500Z" || items[0].Status != "processing" {
		t.Fatalf("unexpected job item %+v", items[0])
	}
	if items[1].EnqueuedAt != "" {
		t.Fatalf("zero time should be omitted, got %q", items[1].EnqueuedAt)
	}

	entry := api.FromHistoryEntry(timeline.HistoryEntry{
		Filename:  "timeline_2024-03-01T09-00-00-000Z_cut.json",
		Label:     "cut",
		Timestamp: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Size:      128,
	})
	if entry.Label != "cut" || entry.SizeBytes != 128 || entry.Timestamp != "2024-03-01T09:00:00.000Z" {
		t.Fatalf("unexpected history item %+v", entry)
	}
}
