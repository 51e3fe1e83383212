package config

const (
	defaultConfigPath         = "~/.config/reelvault/config.toml"
	defaultProjectsDir        = "~/Videos/reelvault"
	defaultLogDir             = "~/.local/share/reelvault/logs"
	defaultFPS                = 30
	defaultWidth              = 1920
	defaultHeight             = 1080
	defaultSampleRate         = 48000
	defaultLockBackend        = "marker"
	defaultLockStaleMinutes   = 60
	defaultMaxSnapshots       = 50
	defaultProxyProfile       = "720p"
	defaultFFmpegBinary       = "ffmpeg"
	defaultFFprobeBinary      = "ffprobe"
	defaultEventBuffer        = 64
	defaultThumbnailWidth     = 320
	defaultCacheMaxAgeDays    = 30
	defaultWaveformEntries    = 32
	defaultWaveformTTLMinutes = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ProjectsDir: defaultProjectsDir,
			LogDir:      defaultLogDir,
		},
		Project: Project{
			FPS:        defaultFPS,
			Width:      defaultWidth,
			Height:     defaultHeight,
			SampleRate: defaultSampleRate,
		},
		Lock: Lock{
			Backend:           defaultLockBackend,
			StaleAfterMinutes: defaultLockStaleMinutes,
		},
		History: History{
			MaxSnapshots: defaultMaxSnapshots,
		},
		Proxy: Proxy{
			DefaultProfile: defaultProxyProfile,
			FFmpegBinary:   defaultFFmpegBinary,
			FFprobeBinary:  defaultFFprobeBinary,
			EventBuffer:    defaultEventBuffer,
		},
		Cache: Cache{
			ThumbnailWidth:           defaultThumbnailWidth,
			MaxAgeDays:               defaultCacheMaxAgeDays,
			WaveformMemoryEntries:    defaultWaveformEntries,
			WaveformMemoryTTLMinutes: defaultWaveformTTLMinutes,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
