package proxy

import (
	"context"

	"reelvault/internal/media/ffmpeg"
)

// Transcoder renders a proxy file. onProgress receives the encoded
// position in seconds.
type Transcoder interface {
	Transcode(ctx context.Context, input, output string, profile Profile, onProgress func(seconds float64)) error
}

// FFmpegTranscoder runs the profile's ffmpeg command.
type FFmpegTranscoder struct {
	Runner *ffmpeg.Runner
}

// Transcode implements Transcoder.
func (t FFmpegTranscoder) Transcode(ctx context.Context, input, output string, profile Profile, onProgress func(seconds float64)) error {
	runner := t.Runner
	if runner == nil {
		runner = ffmpeg.New("")
	}
	return runner.Run(ctx, profile.Args(input, output), onProgress)
}
