// Package assets maintains the per-project asset index (assets/index.json).
//
// Records are keyed by UUID. Imports copy, move or link source files,
// classify them with mediatype, checksum internal copies, and enrich them
// with ffprobe metadata when available. The proxy queue and cache write
// their pointers back through the same serialized read-modify-write path as
// interactive edits.
package assets
