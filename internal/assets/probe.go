package assets

import (
	"context"

	"reelvault/internal/media/ffprobe"
)

// FFprobe probes media files with the ffprobe binary.
type FFprobe struct {
	Binary string
}

// Probe runs ffprobe against path.
func (p FFprobe) Probe(ctx context.Context, path string) (Metadata, error) {
	result, err := ffprobe.Inspect(ctx, p.Binary, path)
	if err != nil {
		return Metadata{}, err
	}
	s := result.Summary()
	return Metadata{
		Duration:   s.Duration,
		Width:      s.Width,
		Height:     s.Height,
		Codec:      s.Codec,
		BitRate:    s.BitRate,
		FPS:        s.FPS,
		AudioCodec: s.AudioCodec,
		Channels:   s.Channels,
		SampleRate: s.SampleRate,
	}, nil
}
