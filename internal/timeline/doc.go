// Package timeline persists the active timeline document of a project and
// its snapshot history.
//
// Saves replace the whole document through a temp file and rename. Each
// history snapshot is an immutable copy named by a strictly increasing UTC
// timestamp, so lexical order of the file names is creation order and
// pruning can drop the oldest names first.
package timeline
