// Package proxy generates low-resolution stand-ins for project assets.
//
// A Queue owns one background worker that drains jobs strictly in order,
// so at most one ffmpeg process transcodes at a time. Output is written to
// a .part.mp4 file and renamed into place, which makes an existing proxy
// file proof of a finished transcode and lets re-enqueued jobs skip work.
// Results are written back to the asset registry and announced on the
// Progress, Completed and Failed channels.
package proxy
