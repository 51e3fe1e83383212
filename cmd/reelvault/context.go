package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"reelvault/internal/config"
	"reelvault/internal/lock"
	"reelvault/internal/logging"
	"reelvault/internal/workspace"
)

// shutdownTimeout bounds how long a command waits for queued proxy jobs
// once it has finished.
const shutdownTimeout = 30 * time.Minute

// contextOption adjusts a commandContext (primarily for tests).
type contextOption func(*commandContext)

func withWorkspaceOptions(opts ...workspace.Option) contextOption {
	return func(c *commandContext) {
		c.workspaceOptions = append(c.workspaceOptions, opts...)
	}
}

type commandContext struct {
	configFlag     *string
	jsonFlag       *bool
	verboseFlag    *bool
	ignoreLockFlag *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	workspaceOptions []workspace.Option
}

func newCommandContext(configFlag *string, jsonFlag, verboseFlag, ignoreLockFlag *bool, opts ...contextOption) *commandContext {
	c := &commandContext{
		configFlag:     configFlag,
		jsonFlag:       jsonFlag,
		verboseFlag:    verboseFlag,
		ignoreLockFlag: ignoreLockFlag,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// logger writes to today's log file, and to stderr as well with --verbose.
func (c *commandContext) logger(cfg *config.Config) (*slog.Logger, error) {
	if c.verboseFlag != nil && *c.verboseFlag {
		return logging.NewFromConfig(cfg)
	}
	return logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{logging.LogFilePath(cfg.Paths.LogDir, time.Now())},
	})
}

// withWorkspace opens a workspace for the duration of fn. Closing waits for
// queued proxy jobs, so jobs enqueued by fn complete before the process
// exits unless the command context is cancelled.
func (c *commandContext) withWorkspace(cmd *cobra.Command, fn func(*workspace.Workspace) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.logger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	opts := append([]workspace.Option{workspace.WithLogger(logger)}, c.workspaceOptions...)
	ws, err := workspace.Open(cfg, opts...)
	if err != nil {
		return err
	}
	runErr := fn(ws)

	closeCtx, cancel := context.WithTimeout(commandCtx(cmd), shutdownTimeout)
	defer cancel()
	if err := ws.Close(closeCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("stop proxy queue: %w", err)
	}
	return runErr
}

// requireWritable refuses to modify a project locked by another live
// process unless --ignore-lock is set.
func (c *commandContext) requireWritable(ws *workspace.Workspace, projectPath string) error {
	if c.ignoreLockFlag != nil && *c.ignoreLockFlag {
		return nil
	}
	status, err := ws.Projects.CheckLock(projectPath)
	if err != nil {
		return err
	}
	if status.Exists && !status.OwnedBySelf && status.Info != nil {
		return &lock.LockedError{Path: projectPath, Info: *status.Info}
	}
	return nil
}

func commandCtx(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
