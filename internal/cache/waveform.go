package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"reelvault/internal/faults"
	"reelvault/internal/fileutil"
	"reelvault/internal/logging"
	"reelvault/internal/project"
)

const (
	waveformSampleRate = 8000
	wavHeaderSize      = 44
	// peakStride is the distance in samples between kept peaks.
	peakStride = 50
)

// Waveform is the cached peak envelope of an asset's audio.
type Waveform struct {
	UUID        string    `json:"uuid"`
	Samples     []float64 `json:"samples"`
	SampleRate  int       `json:"sample_rate"`
	GeneratedAt time.Time `json:"generated_at"`
}

// WaveformPath returns where the waveform of id is stored.
func WaveformPath(projectPath, id string) string {
	return filepath.Join(projectPath, filepath.FromSlash(project.WaveformsDir), id+".json")
}

// Waveform returns the waveform of id, decoding input's audio with ffmpeg
// when neither the memo nor the cached file has it. cached reports that no
// decoding ran.
func (c *Cache) Waveform(ctx context.Context, projectPath, id, input string) (wf Waveform, cached bool, err error) {
	key := memoKey(projectPath, id)
	if wf, ok := c.waveforms.Get(key); ok {
		return wf, true, nil
	}
	path := WaveformPath(projectPath, id)
	if err := fileutil.ReadJSON(path, &wf); err == nil {
		c.waveforms.Add(key, wf)
		return wf, true, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		logging.WarnWithContext(c.logger, "cached waveform unreadable; regenerating", "waveform_cache_corrupt",
			logging.Project(projectPath),
			logging.Asset(id),
			logging.Error(err),
			logging.String(logging.FieldImpact, "waveform decoded again"),
		)
	}

	if !fileutil.Exists(input) {
		return Waveform{}, false, faults.Wrap(faults.ErrOffline, "cache", "waveform", input, nil)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Waveform{}, false, faults.Wrap(faults.ErrIO, "cache", "waveform", "create waveform folder", err)
	}
	tmp := filepath.Join(dir, id+"_temp.wav")
	defer os.Remove(tmp)

	args := []string{"-i", input, "-ac", "1", "-ar", "8000", tmp, "-y"}
	if err := c.runner.Run(ctx, args, nil); err != nil {
		return Waveform{}, false, faults.Wrap(faults.ErrExternalTool, "cache", "waveform", id, err)
	}
	pcm, err := os.ReadFile(tmp)
	if err != nil {
		return Waveform{}, false, faults.Wrap(faults.ErrIO, "cache", "waveform", "read decoded audio", err)
	}

	wf = Waveform{
		UUID:        id,
		Samples:     Peaks(pcm),
		SampleRate:  waveformSampleRate,
		GeneratedAt: c.now().UTC(),
	}
	if err := fileutil.WriteJSONAtomic(path, wf); err != nil {
		return Waveform{}, false, faults.Wrap(faults.ErrIO, "cache", "waveform", "write waveform", err)
	}
	c.waveforms.Add(key, wf)
	c.logger.Debug("waveform generated",
		logging.Project(projectPath),
		logging.Asset(id),
		logging.Int("peaks", len(wf.Samples)),
	)
	return wf, false, nil
}

// Peaks reduces a 16-bit little-endian mono WAV file to the absolute
// normalized value of every 50th sample after the header.
func Peaks(wav []byte) []float64 {
	peaks := []float64{}
	step := peakStride * 2
	for i := wavHeaderSize; i+1 < len(wav); i += step {
		sample := int16(binary.LittleEndian.Uint16(wav[i:]))
		v := float64(sample) / 32768
		if v < 0 {
			v = -v
		}
		peaks = append(peaks, v)
	}
	return peaks
}
