// Package config loads, normalizes, and validates reelvault configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// REELVAULT_PROJECTS_DIR and FFMPEG_BINARY. The Config type centralizes the
// knobs the CLI and the project store need: where projects live, the lock
// backend and staleness window, history retention, and the external tools
// used for proxies and cache artifacts.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
