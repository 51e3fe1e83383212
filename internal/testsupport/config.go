package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"reelvault/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.ProjectsDir = filepath.Join(base, "projects")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Logging.Level = "debug"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithLockBackend selects the lock backend on the test config.
func WithLockBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Lock.Backend = backend
	}
}

// WithMaxSnapshots overrides timeline history retention.
func WithMaxSnapshots(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.History.MaxSnapshots = n
	}
}

// ffmpegStub writes a small file at the output argument (the one before -y)
// and reports one progress line on stderr.
const ffmpegStub = `#!/bin/sh
prev=""
last=""
for a in "$@"; do
  prev="$last"
  last="$a"
done
echo "frame=   30 fps=30 time=00:00:02.00 bitrate=1000kbits/s" >&2
printf 'stub media' > "$prev"
`

// ffprobeStub reports a four second 1080p H.264 clip with stereo AAC audio.
const ffprobeStub = `#!/bin/sh
cat <<'JSON'
{"streams":[{"index":0,"codec_name":"h264","codec_type":"video","width":1920,"height":1080,"r_frame_rate":"30/1","bit_rate":"8000000"},{"index":1,"codec_name":"aac","codec_type":"audio","channels":2,"sample_rate":"48000"}],"format":{"duration":"4.000000","bit_rate":"8100000","format_name":"mov,mp4"}}
JSON
`

// WithStubbedBinaries writes working ffmpeg and ffprobe stubs, points the
// config at them and prepends their folder to PATH.
func WithStubbedBinaries() ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		stubs := map[string]string{"ffmpeg": ffmpegStub, "ffprobe": ffprobeStub}
		for name, script := range stubs {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		b.cfg.Proxy.FFmpegBinary = filepath.Join(binDir, "ffmpeg")
		b.cfg.Proxy.FFprobeBinary = filepath.Join(binDir, "ffprobe")

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.ProjectsDir)
}
