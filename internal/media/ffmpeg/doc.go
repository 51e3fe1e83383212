// Package ffmpeg runs the ffmpeg binary for proxy transcodes and cache
// extraction.
//
// The Runner streams stderr, turns time= status lines into progress
// callbacks, and keeps the last DiagnosticLines lines so a failed run can be
// reported with the tool's own explanation. Tests substitute an Executor.
package ffmpeg
