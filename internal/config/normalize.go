package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLock()
	c.normalizeProxy()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("REELVAULT_PROJECTS_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.ProjectsDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.ProjectsDir) == "" {
		c.Paths.ProjectsDir = defaultProjectsDir
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	var err error
	if c.Paths.ProjectsDir, err = expandPath(strings.TrimSpace(c.Paths.ProjectsDir)); err != nil {
		return fmt.Errorf("paths.projects_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLock() {
	c.Lock.Backend = strings.ToLower(strings.TrimSpace(c.Lock.Backend))
	if c.Lock.Backend == "" {
		c.Lock.Backend = defaultLockBackend
	}
}

func (c *Config) normalizeProxy() {
	c.Proxy.DefaultProfile = strings.ToLower(strings.TrimSpace(c.Proxy.DefaultProfile))
	if c.Proxy.DefaultProfile == "" {
		c.Proxy.DefaultProfile = defaultProxyProfile
	}
	if value, ok := os.LookupEnv("FFMPEG_BINARY"); ok && strings.TrimSpace(value) != "" {
		c.Proxy.FFmpegBinary = value
	}
	if value, ok := os.LookupEnv("FFPROBE_BINARY"); ok && strings.TrimSpace(value) != "" {
		c.Proxy.FFprobeBinary = value
	}
	c.Proxy.FFmpegBinary = strings.TrimSpace(c.Proxy.FFmpegBinary)
	if c.Proxy.FFmpegBinary == "" {
		c.Proxy.FFmpegBinary = defaultFFmpegBinary
	}
	c.Proxy.FFprobeBinary = strings.TrimSpace(c.Proxy.FFprobeBinary)
	if c.Proxy.FFprobeBinary == "" {
		c.Proxy.FFprobeBinary = defaultFFprobeBinary
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
		c.Logging.Format = "json"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}
