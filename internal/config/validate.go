package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateProject(); err != nil {
		return err
	}
	if err := c.validateLock(); err != nil {
		return err
	}
	if c.History.MaxSnapshots <= 0 {
		return errors.New("history.max_snapshots must be positive")
	}
	if err := c.validateProxy(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateProject() error {
	if c.Project.FPS <= 0 {
		return errors.New("project.fps must be positive")
	}
	if c.Project.Width <= 0 || c.Project.Height <= 0 {
		return errors.New("project.width and project.height must be positive")
	}
	if c.Project.SampleRate <= 0 {
		return errors.New("project.sample_rate must be positive")
	}
	return nil
}

func (c *Config) validateLock() error {
	switch c.Lock.Backend {
	case "marker", "flock":
	default:
		return fmt.Errorf("lock.backend: unsupported value %q (expected marker or flock)", c.Lock.Backend)
	}
	if c.Lock.StaleAfterMinutes <= 0 {
		return errors.New("lock.stale_after_minutes must be positive")
	}
	return nil
}

func (c *Config) validateProxy() error {
	if c.Proxy.EventBuffer < 0 {
		return errors.New("proxy.event_buffer must be zero or positive")
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.ThumbnailWidth <= 0 {
		return errors.New("cache.thumbnail_width must be positive")
	}
	if c.Cache.MaxAgeDays < 0 {
		return errors.New("cache.max_age_days must be zero or positive")
	}
	if c.Cache.WaveformMemoryEntries <= 0 {
		return errors.New("cache.waveform_memory_entries must be positive")
	}
	if c.Cache.WaveformMemoryTTLMinutes <= 0 {
		return errors.New("cache.waveform_memory_ttl_minutes must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	return nil
}
