package api

import (
	"strings"

	"reelvault/internal/proxy"
	"reelvault/internal/timeline"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobItem describes a proxy job in a transport-friendly format.
type JobItem struct {
	ID         string  `json:"id"`
	Project    string  `json:"project_path"`
	AssetUUID  string  `json:"asset_uuid"`
	Profile    string  `json:"profile"`
	Status     string  `json:"status"`
	Progress   float64 `json:"progress"`
	EnqueuedAt string  `json:"enqueued_at,omitempty"`
}

// FromJob converts a queue job to its API representation.
func FromJob(job proxy.Job) JobItem {
	item := JobItem{
		ID:        job.ID,
		Project:   job.ProjectPath,
		AssetUUID: job.AssetUUID,
		Profile:   job.Profile,
		Status:    string(job.Status),
		Progress:  job.Progress,
	}
	if !job.EnqueuedAt.IsZero() {
		item.EnqueuedAt = job.EnqueuedAt.UTC().Format(dateTimeFormat)
	}
	return item
}

// FromJobs converts a job snapshot, preserving order.
func FromJobs(jobs []proxy.Job) []JobItem {
	out := make([]JobItem, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// HistoryItem describes one timeline snapshot.
type HistoryItem struct {
	Filename  string `json:"filename"`
	Label     string `json:"label,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
}

// FromHistoryEntry converts a snapshot listing entry.
func FromHistoryEntry(entry timeline.HistoryEntry) HistoryItem {
	item := HistoryItem{
		Filename:  entry.Filename,
		Label:     strings.TrimSpace(entry.Label),
		SizeBytes: entry.Size,
	}
	if !entry.Timestamp.IsZero() {
		item.Timestamp = entry.Timestamp.UTC().Format(dateTimeFormat)
	}
	return item
}
