// Package api defines the wire format every reelvault operation reports
// through. It translates Go results and errors into a discriminated
// envelope that scripts and UI collaborators can branch on without parsing
// error strings.
//
// # Envelope
//
// Response carries success plus either data or error. Failures also carry
// kind (the faults taxonomy name) and, when applicable, locked/lock_info or
// offline/offline_path. Non-fatal warnings found on a result are lifted to
// the top level so callers see them without knowing the result shape.
//
// # Converters
//
// FromJob and FromHistoryEntry flatten queue jobs and timeline snapshots
// into transport rows with RFC3339 millisecond timestamps.
//
// # Design Notes
//
// DTOs use snake_case JSON tags to match the on-disk documents. Data is
// passed through as-is so each result keeps its own schema.
package api
