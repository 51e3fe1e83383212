// Package workspace wires configuration, logging and every project store
// component into one handle. It owns the lifetime of the proxy queue's
// background worker; callers must Close the workspace before exiting.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"reelvault/internal/assets"
	"reelvault/internal/cache"
	"reelvault/internal/config"
	"reelvault/internal/faults"
	"reelvault/internal/lock"
	"reelvault/internal/logging"
	"reelvault/internal/media/ffmpeg"
	"reelvault/internal/project"
	"reelvault/internal/proxy"
	"reelvault/internal/timeline"
)

// Option customizes how Open builds a workspace.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	lockOptions []lock.Option
	transcoder  proxy.Transcoder
	prober      assets.Prober
	executor    ffmpeg.Executor
}

// WithLogger uses logger instead of building one from the config.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLockOptions passes extra options to the lock backend.
func WithLockOptions(opts ...lock.Option) Option {
	return func(o *options) {
		o.lockOptions = append(o.lockOptions, opts...)
	}
}

// WithTranscoder replaces the ffmpeg proxy transcoder.
func WithTranscoder(t proxy.Transcoder) Option {
	return func(o *options) {
		o.transcoder = t
	}
}

// WithProber replaces the ffprobe metadata probe.
func WithProber(p assets.Prober) Option {
	return func(o *options) {
		o.prober = p
	}
}

// WithExecutor replaces the process executor behind every ffmpeg run.
func WithExecutor(exec ffmpeg.Executor) Option {
	return func(o *options) {
		o.executor = exec
	}
}

// Workspace bundles the components operating on projects.
type Workspace struct {
	Config   *config.Config
	Logger   *slog.Logger
	Locks    lock.Manager
	Projects *project.Manager
	Assets   *assets.Registry
	Timeline *timeline.Store
	Proxies  *proxy.Queue
	Cache    *cache.Cache
}

// Open builds a workspace from cfg.
func Open(cfg *config.Config, opts ...Option) (*Workspace, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if _, ok := proxy.Lookup(cfg.Proxy.DefaultProfile); !ok {
		return nil, fmt.Errorf("proxy.default_profile %q is not one of %v", cfg.Proxy.DefaultProfile, proxy.Names())
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.NewFromConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}
	if cfg.Paths.LogDir != "" {
		logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, logging.RetentionTarget{
			Dir:     cfg.Paths.LogDir,
			Pattern: logging.LogFilePattern,
			Exclude: []string{logging.LogFilePath(cfg.Paths.LogDir, time.Now())},
		})
	}

	lockOpts := append([]lock.Option{
		lock.WithStaleAfter(cfg.LockStaleAfter()),
		lock.WithLogger(logger),
	}, o.lockOptions...)
	locks, err := lock.New(cfg.Lock.Backend, lockOpts...)
	if err != nil {
		return nil, err
	}

	projects := project.NewManager(locks,
		project.WithDefaults(project.Defaults{
			BaseDir:      cfg.Paths.ProjectsDir,
			FPS:          cfg.Project.FPS,
			Width:        cfg.Project.Width,
			Height:       cfg.Project.Height,
			SampleRate:   cfg.Project.SampleRate,
			ProxyQuality: cfg.Proxy.DefaultProfile,
		}),
		project.WithSeeders(assets.Seed, timeline.Seed),
		project.WithLogger(logger),
	)

	prober := o.prober
	if prober == nil {
		prober = assets.FFprobe{Binary: cfg.FFprobeBinary()}
	}
	registry := assets.NewRegistry(
		assets.WithProber(prober),
		assets.WithLogger(logger),
	)

	store := timeline.NewStore(
		timeline.WithMaxSnapshots(cfg.History.MaxSnapshots),
		timeline.WithLogger(logger),
	)

	var runnerOpts []ffmpeg.Option
	if o.executor != nil {
		runnerOpts = append(runnerOpts, ffmpeg.WithExecutor(o.executor))
	}
	runner := ffmpeg.New(cfg.FFmpegBinary(), runnerOpts...)

	transcoder := o.transcoder
	if transcoder == nil {
		transcoder = proxy.FFmpegTranscoder{Runner: runner}
	}
	queue := proxy.NewQueue(registry,
		proxy.WithTranscoder(transcoder),
		proxy.WithEventBuffer(cfg.Proxy.EventBuffer),
		proxy.WithLogger(logger),
	)

	artifacts := cache.New(registry,
		cache.WithRunner(runner),
		cache.WithThumbnailWidth(cfg.Cache.ThumbnailWidth),
		cache.WithWaveformMemory(cfg.Cache.WaveformMemoryEntries, cfg.WaveformMemoryTTL()),
		cache.WithLogger(logger),
	)

	logger.Debug("workspace ready",
		logging.String("projects_dir", cfg.Paths.ProjectsDir),
		logging.String("lock_backend", cfg.Lock.Backend),
		logging.String("ffmpeg", runner.Binary()),
		logging.Int("max_snapshots", store.MaxSnapshots()),
	)
	return &Workspace{
		Config:   cfg,
		Logger:   logger,
		Locks:    locks,
		Projects: projects,
		Assets:   registry,
		Timeline: store,
		Proxies:  queue,
		Cache:    artifacts,
	}, nil
}

// Close stops the proxy worker, waiting for the running job until ctx ends.
func (w *Workspace) Close(ctx context.Context) error {
	if w == nil || w.Proxies == nil {
		return nil
	}
	return w.Proxies.Stop(ctx)
}

// JobError reports a proxy job that failed while being waited on. It
// matches the faults sentinel named by the event's kind.
type JobError struct {
	Event proxy.FailedEvent
}

func (e *JobError) Error() string {
	return fmt.Sprintf("proxy job %s failed: %s", e.Event.JobID, e.Event.Error)
}

func (e *JobError) Is(target error) bool {
	marker := faults.Sentinel(e.Event.Kind)
	return marker != nil && target == marker
}

// WaitForJob blocks until the proxy job jobID completes or fails, forwarding
// progress percentages to onProgress. Events of other jobs are discarded.
func (w *Workspace) WaitForJob(ctx context.Context, jobID string, onProgress func(float64)) (proxy.CompletedEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return proxy.CompletedEvent{}, ctx.Err()
		case ev := <-w.Proxies.Progress():
			if ev.JobID == jobID && onProgress != nil {
				onProgress(ev.Progress)
			}
		case ev := <-w.Proxies.Completed():
			if ev.JobID == jobID {
				w.drainProgress(jobID, onProgress)
				return ev, nil
			}
		case ev := <-w.Proxies.Failed():
			if ev.JobID == jobID {
				return proxy.CompletedEvent{}, &JobError{Event: ev}
			}
		}
	}
}

// drainProgress forwards progress events already buffered for jobID. The
// worker sends them before the completion event, so none are lost.
func (w *Workspace) drainProgress(jobID string, onProgress func(float64)) {
	for {
		select {
		case ev := <-w.Proxies.Progress():
			if ev.JobID == jobID && onProgress != nil {
				onProgress(ev.Progress)
			}
		default:
			return
		}
	}
}
