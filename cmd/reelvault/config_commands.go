package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"reelvault/internal/config"
)

type configReport struct {
	Path        string `json:"path"`
	Exists      bool   `json:"exists"`
	ProjectsDir string `json:"projects_dir,omitempty"`
	LockBackend string `json:"lock_backend,omitempty"`
}

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand(ctx))

	return configCmd
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			return ctx.respond(cmd, configReport{Path: target, Exists: true}, nil, func(out io.Writer) error {
				fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
				fmt.Fprintln(out, "Edit paths.projects_dir and the ffmpeg binaries before creating projects.")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(strings.TrimSpace(*ctx.configFlag))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			report := configReport{Path: path, Exists: exists, ProjectsDir: cfg.Paths.ProjectsDir, LockBackend: cfg.Lock.Backend}
			return ctx.respond(cmd, report, nil, func(out io.Writer) error {
				fmt.Fprintf(out, "Config path: %s\n", path)
				if !exists {
					fmt.Fprintln(out, "Config file did not exist; defaults were used")
				}
				fmt.Fprintf(out, "Projects directory: %s\n", cfg.Paths.ProjectsDir)
				fmt.Fprintf(out, "Lock backend: %s (stale after %s)\n", cfg.Lock.Backend, cfg.LockStaleAfter())
				fmt.Fprintln(out, "Configuration valid")
				return nil
			})
		},
	}
}
