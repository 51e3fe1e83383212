// Package lock enforces a single writer per project directory.
//
// The default backend writes a JSON marker (.lock) naming the user, host,
// pid and acquisition time. Any reader that finds a marker whose process is
// gone, or that is older than the staleness threshold, removes it. The
// flock backend additionally holds an exclusive kernel lock for as long as
// the project stays open in this process. Both satisfy Manager.
package lock
