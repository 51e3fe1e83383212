// Package project owns the lifecycle of project directories: creation with
// the standard layout, opening with integrity checks, closing, deletion,
// and listing. Exclusivity is delegated to a lock.Manager.
//
// The manifest (project.json) is the only document this package writes after
// creation; timeline saves update its last_saved_at through TouchSaved. The
// initial asset index and timeline are written by Seeders supplied by the
// owning packages.
package project
