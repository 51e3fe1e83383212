// Package logging builds the structured slog loggers used by every reelvault
// component.
//
// Two handlers are available: a compact console format for interactive use
// and JSON for machine consumption. Components obtain a child logger through
// NewComponentLogger so every line carries a component attribute, and use the
// Field* keys for project paths, asset UUIDs and proxy job IDs. NewNop returns
// a discarding logger for tests and optional wiring.
package logging
