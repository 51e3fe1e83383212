// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: individual audio/video stream properties
//   - Summary: the flattened fields an asset record stores
//
// Primary entry point:
//   - Inspect: executes ffprobe and returns parsed Result
//
// FrameRate understands ffprobe's rational notation ("30000/1001").
package ffprobe
