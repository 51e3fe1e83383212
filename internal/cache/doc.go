// Package cache produces and maintains derived artifacts under a project's
// cache/ folder: per-asset thumbnail frames, waveform peak envelopes, and
// the render cache. Everything here can be regenerated from the assets, so
// clearing or age-based cleanup never touches the asset index beyond the
// thumbnail count.
package cache
