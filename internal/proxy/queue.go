package proxy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"reelvault/internal/assets"
	"reelvault/internal/faults"
	"reelvault/internal/fileutil"
	"reelvault/internal/logging"
	"reelvault/internal/media/ffmpeg"
)

// ErrStopped is returned by Enqueue once Stop has been called.
var ErrStopped = errors.New("proxy queue stopped")

// DefaultEventBuffer is the capacity of each event channel.
const DefaultEventBuffer = 64

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is one proxy request. Jobs live in memory only.
type Job struct {
	ID          string    `json:"id"`
	ProjectPath string    `json:"project_path"`
	AssetUUID   string    `json:"asset_uuid"`
	AssetPath   string    `json:"asset_path"`
	Profile     string    `json:"profile"`
	Duration    float64   `json:"duration,omitempty"`
	Status      Status    `json:"status"`
	Progress    float64   `json:"progress"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// ProgressEvent reports the running percentage of a job.
type ProgressEvent struct {
	JobID     string  `json:"job_id"`
	AssetUUID string  `json:"asset_uuid"`
	Progress  float64 `json:"progress"`
}

// CompletedEvent reports a finished proxy. Skipped is set when the output
// already existed and no transcoding ran.
type CompletedEvent struct {
	JobID       string `json:"job_id"`
	ProjectPath string `json:"project_path"`
	AssetUUID   string `json:"asset_uuid"`
	ProxyPath   string `json:"proxy_path"`
	Skipped     bool   `json:"skipped,omitempty"`
}

// FailedEvent reports a job that produced no proxy.
type FailedEvent struct {
	JobID       string `json:"job_id"`
	ProjectPath string `json:"project_path"`
	AssetUUID   string `json:"asset_uuid"`
	Error       string `json:"error"`
	Kind        string `json:"kind"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// AssetStore is the part of the asset registry the queue reads and updates.
type AssetStore interface {
	Get(projectPath, id string) (assets.Record, error)
	SetProxy(projectPath, id, relPath, profile string) (assets.Record, error)
	ClearProxy(projectPath, id string) (assets.Record, error)
}

// Option configures a Queue.
type Option func(*Queue)

// WithTranscoder replaces the ffmpeg transcoder.
func WithTranscoder(t Transcoder) Option {
	return func(q *Queue) {
		if t != nil {
			q.transcoder = t
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithEventBuffer sets the capacity of each event channel.
func WithEventBuffer(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.buffer = n
		}
	}
}

// WithClock replaces the time source (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// Queue transcodes proxies one job at a time on a single background
// goroutine. The worker starts on the first Enqueue and exits whenever the
// queue runs empty.
type Queue struct {
	store      AssetStore
	transcoder Transcoder
	logger     *slog.Logger
	sampler    *logging.ProgressSampler
	now        func() time.Time
	buffer     int

	progress  chan ProgressEvent
	completed chan CompletedEvent
	failed    chan FailedEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending []*Job
	active  *Job
	running bool
	stopped bool
}

// NewQueue constructs a queue updating store.
func NewQueue(store AssetStore, opts ...Option) *Queue {
	q := &Queue{
		store:      store,
		transcoder: FFmpegTranscoder{},
		logger:     logging.NewNop(),
		sampler:    logging.NewProgressSampler(5),
		now:        time.Now,
		buffer:     DefaultEventBuffer,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = logging.NewComponentLogger(q.logger, "proxy")
	q.progress = make(chan ProgressEvent, q.buffer)
	q.completed = make(chan CompletedEvent, q.buffer)
	q.failed = make(chan FailedEvent, q.buffer)
	q.ctx, q.cancel = context.WithCancel(context.Background())
	return q
}

// Progress delivers per-job progress. Events are dropped when the buffer
// is full.
func (q *Queue) Progress() <-chan ProgressEvent { return q.progress }

// Completed delivers one event per successful job, in queue order.
func (q *Queue) Completed() <-chan CompletedEvent { return q.completed }

// Failed delivers one event per failed job.
func (q *Queue) Failed() <-chan FailedEvent { return q.failed }

// Enqueue adds a proxy job for asset id. An empty assetPath resolves to the
// asset's original-quality file. It returns the job id.
func (q *Queue) Enqueue(projectPath, id, assetPath, profileName string) (string, error) {
	profile, ok := Lookup(profileName)
	if !ok {
		return "", faults.Wrap(faults.ErrValidation, "proxy", "enqueue",
			fmt.Sprintf("unknown profile %q (available: %s)", profileName, strings.Join(Names(), ", ")), nil)
	}
	rec, err := q.store.Get(projectPath, id)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(assetPath) == "" {
		assetPath = rec.SourcePath(projectPath)
	}

	job := &Job{
		ID:          fmt.Sprintf("%s_%d", id, q.now().UnixNano()),
		ProjectPath: projectPath,
		AssetUUID:   id,
		AssetPath:   assetPath,
		Profile:     profile.Name,
		Duration:    rec.Duration,
		Status:      StatusQueued,
		EnqueuedAt:  q.now().UTC(),
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return "", ErrStopped
	}
	q.pending = append(q.pending, job)
	depth := len(q.pending)
	if !q.running {
		q.running = true
		q.wg.Add(1)
		go q.run()
	}
	q.mu.Unlock()

	q.logger.Info("proxy job queued",
		logging.String(logging.FieldJobID, job.ID),
		logging.Asset(id),
		logging.String(logging.FieldProfile, profile.Name),
		logging.Int("queue_depth", depth),
		logging.String(logging.FieldEventType, "proxy_queued"),
	)
	return job.ID, nil
}

// Jobs returns a snapshot of the processing job followed by queued jobs.
func (q *Queue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.pending)+1)
	if q.active != nil {
		out = append(out, *q.active)
	}
	for _, job := range q.pending {
		out = append(out, *job)
	}
	return out
}

// Stop rejects new jobs and waits for the queued ones to finish. When ctx
// ends first the running transcode is cancelled and ctx's error returned.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		q.pending = nil
		q.mu.Unlock()
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		job := q.next()
		if job == nil {
			return
		}
		q.process(job)
		q.mu.Lock()
		q.active = nil
		q.mu.Unlock()
	}
}

// next pops the head job, or marks the worker idle when there is none.
func (q *Queue) next() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		q.running = false
		return nil
	}
	job := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	job.Status = StatusProcessing
	q.active = job
	return job
}

func (q *Queue) process(job *Job) {
	profile, _ := Lookup(job.Profile)
	rel := profile.OutputPath(job.AssetUUID)
	output := filepath.Join(job.ProjectPath, filepath.FromSlash(rel))
	logger := q.logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldAssetUUID, job.AssetUUID),
		logging.String(logging.FieldProfile, profile.Name),
	)

	if fileutil.Exists(output) {
		logger.Info("proxy already present; skipping transcode", logging.String("output", output))
		q.finish(logger, job, rel, true)
		return
	}
	if !fileutil.Exists(job.AssetPath) {
		q.fail(logger, job, &assets.OfflineError{UUID: job.AssetUUID, Path: job.AssetPath})
		return
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		q.fail(logger, job, faults.Wrap(faults.ErrIO, "proxy", "transcode", "create proxy folder", err))
		return
	}

	partial := strings.TrimSuffix(output, ".mp4") + ".part.mp4"
	logger.Info("proxy transcode started",
		logging.String("input", job.AssetPath),
		logging.String(logging.FieldEventType, "proxy_started"),
	)
	start := q.now()
	err := q.transcoder.Transcode(q.ctx, job.AssetPath, partial, profile, func(seconds float64) {
		pct, ok := ffmpeg.Percent(seconds, job.Duration)
		if !ok {
			return
		}
		q.setProgress(job, pct)
		if q.sampler.ShouldLog(job.ID, pct) {
			logger.Debug("proxy progress", logging.Float64("percent", pct))
		}
	})
	if err != nil {
		_ = os.Remove(partial)
		q.fail(logger, job, err)
		return
	}
	if err := os.Rename(partial, output); err != nil {
		_ = os.Remove(partial)
		q.fail(logger, job, faults.Wrap(faults.ErrIO, "proxy", "transcode", "move proxy into place", err))
		return
	}
	logger.Debug("proxy transcode finished", logging.Duration("elapsed", q.now().Sub(start)))
	q.finish(logger, job, rel, false)
}

func (q *Queue) setProgress(job *Job, pct float64) {
	q.mu.Lock()
	job.Progress = pct
	q.mu.Unlock()
	select {
	case q.progress <- ProgressEvent{JobID: job.ID, AssetUUID: job.AssetUUID, Progress: pct}:
	default:
	}
}

func (q *Queue) finish(logger *slog.Logger, job *Job, rel string, skipped bool) {
	if _, err := q.store.SetProxy(job.ProjectPath, job.AssetUUID, rel, job.Profile); err != nil {
		q.fail(logger, job, err)
		return
	}
	q.setProgress(job, 100)
	q.mu.Lock()
	job.Status = StatusCompleted
	q.mu.Unlock()

	logger.Info("proxy ready",
		logging.String("proxy_path", rel),
		logging.Bool("skipped", skipped),
		logging.String(logging.FieldEventType, "proxy_completed"),
	)
	event := CompletedEvent{JobID: job.ID, ProjectPath: job.ProjectPath, AssetUUID: job.AssetUUID, ProxyPath: rel, Skipped: skipped}
	select {
	case q.completed <- event:
	default:
		logging.WarnWithContext(logger, "completion event dropped", "proxy_event_dropped",
			logging.String(logging.FieldImpact, "listeners miss this completion; registry is up to date"),
			logging.String(logging.FieldErrorHint, "drain Completed() or raise proxy.event_buffer"),
		)
	}
}

func (q *Queue) fail(logger *slog.Logger, job *Job, err error) {
	q.mu.Lock()
	job.Status = StatusFailed
	q.mu.Unlock()

	var diagnostics string
	var toolErr *ffmpeg.ToolError
	if errors.As(err, &toolErr) {
		diagnostics = toolErr.Diagnostics()
		err = faults.Wrap(faults.ErrExternalTool, "proxy", "transcode", toolErr.Binary, toolErr.Err)
	}
	logging.ErrorWithContext(logger, "proxy job failed", "proxy_failed",
		logging.Error(err),
		logging.String("diagnostics", diagnostics),
		logging.String(logging.FieldImpact, "asset keeps playing from original media"),
		logging.String(logging.FieldErrorHint, "inspect the diagnostics and re-run proxy generate"),
	)
	event := FailedEvent{JobID: job.ID, ProjectPath: job.ProjectPath, AssetUUID: job.AssetUUID, Error: err.Error(), Kind: faults.Kind(err), Diagnostics: diagnostics}
	select {
	case q.failed <- event:
	default:
		logging.WarnWithContext(logger, "failure event dropped", "proxy_event_dropped",
			logging.String(logging.FieldImpact, "listeners miss this failure"),
			logging.String(logging.FieldErrorHint, "drain Failed() or raise proxy.event_buffer"),
		)
	}
}

// ProxyStatus is the persisted proxy state of an asset.
type ProxyStatus struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Profile   string `json:"profile,omitempty"`
}

// CheckStatus reports the proxy recorded in the registry for id. A recorded
// proxy whose file is gone reads as unavailable.
func (q *Queue) CheckStatus(projectPath, id string) (ProxyStatus, error) {
	rec, err := q.store.Get(projectPath, id)
	if err != nil {
		return ProxyStatus{}, err
	}
	path := rec.ProxyFile(projectPath)
	if !rec.ProxyAvailable || path == "" {
		return ProxyStatus{}, nil
	}
	return ProxyStatus{Available: fileutil.Exists(path), Path: path, Profile: rec.ProxyProfile}, nil
}

// Deleted is the result of DeleteProxy.
type Deleted struct {
	UUID     string   `json:"uuid"`
	Path     string   `json:"path,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// DeleteProxy removes the proxy file of id and clears its registry
// pointer.
func (q *Queue) DeleteProxy(projectPath, id string) (Deleted, error) {
	rec, err := q.store.Get(projectPath, id)
	if err != nil {
		return Deleted{}, err
	}
	result := Deleted{UUID: id, Path: rec.ProxyFile(projectPath)}
	if result.Path != "" {
		if err := os.Remove(result.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("delete %s: %v", result.Path, err))
			logging.WarnWithContext(q.logger, "proxy file not deleted", "proxy_delete_failed",
				logging.Asset(id),
				logging.String("path", result.Path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "orphaned proxy remains on disk"),
			)
		}
	}
	if _, err := q.store.ClearProxy(projectPath, id); err != nil {
		return Deleted{}, err
	}
	q.logger.Info("proxy deleted", logging.Project(projectPath), logging.Asset(id))
	return result, nil
}
