package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"reelvault/internal/config"
	"reelvault/internal/project"
	"reelvault/internal/workspace"
)

// projectPath resolves a command argument to a project directory. A bare
// name that is not an existing path refers to the projects directory.
func (c *commandContext) projectPath(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", fmt.Errorf("project path or name is required")
	}
	if !strings.ContainsRune(arg, os.PathSeparator) && !strings.HasPrefix(arg, "~") {
		if _, err := os.Stat(arg); err != nil {
			cfg, err := c.ensureConfig()
			if err != nil {
				return "", err
			}
			return filepath.Join(cfg.Paths.ProjectsDir, arg), nil
		}
	}
	expanded, err := config.ExpandPath(arg)
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}

func newProjectCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create, open, lock and delete projects",
	}
	cmd.AddCommand(newProjectCreateCommand(ctx))
	cmd.AddCommand(newProjectOpenCommand(ctx))
	cmd.AddCommand(newProjectCloseCommand(ctx))
	cmd.AddCommand(newProjectDeleteCommand(ctx))
	cmd.AddCommand(newProjectLockCommand(ctx))
	cmd.AddCommand(newProjectListCommand(ctx))
	cmd.AddCommand(newProjectCheckCommand(ctx))
	return cmd
}

func newProjectCreateCommand(ctx *commandContext) *cobra.Command {
	var opts project.CreateOptions
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new project in the projects directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				if opts.BaseDir != "" {
					dir, err := config.ExpandPath(opts.BaseDir)
					if err != nil {
						return err
					}
					opts.BaseDir = dir
				}
				created, err := ws.Projects.Create(commandCtx(cmd), args[0], opts)
				return ctx.respond(cmd, created, err, func(out io.Writer) error {
					fmt.Fprintf(out, "Created project %q\n", created.Manifest.Name)
					fmt.Fprintf(out, "  Path: %s\n", created.Path)
					fmt.Fprintf(out, "  ID:   %s\n", created.ProjectID)
					fmt.Fprintf(out, "  Format: %dx%d @ %g fps, %d Hz\n",
						created.Manifest.Resolution.Width, created.Manifest.Resolution.Height,
						created.Manifest.FPS, created.Manifest.SampleRate)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&opts.BaseDir, "dir", "", "Parent directory (defaults to paths.projects_dir)")
	cmd.Flags().Float64Var(&opts.FPS, "fps", 0, "Frame rate")
	cmd.Flags().IntVar(&opts.Width, "width", 0, "Frame width")
	cmd.Flags().IntVar(&opts.Height, "height", 0, "Frame height")
	cmd.Flags().IntVar(&opts.SampleRate, "sample-rate", 0, "Audio sample rate")
	return cmd
}

func newProjectOpenCommand(ctx *commandContext) *cobra.Command {
	var opts project.OpenOptions
	cmd := &cobra.Command{
		Use:   "open <project>",
		Short: "Open a project, taking its lock and reporting integrity issues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				opened, err := ws.Projects.Open(commandCtx(cmd), path, opts)
				return ctx.respond(cmd, opened, err, func(out io.Writer) error {
					fmt.Fprintf(out, "Opened %q (%s)\n", opened.Manifest.Name, opened.Path)
					if opened.ReadOnly {
						fmt.Fprintln(out, "  Mode: read-only")
					}
					colorize := isTerminal(out)
					if len(opened.IntegrityIssues) == 0 {
						fmt.Fprintln(out, renderStatusLine("Integrity", statusOK, "", colorize))
					}
					for _, issue := range opened.IntegrityIssues {
						fmt.Fprintln(out, renderStatusLine("Integrity", statusWarn, issue, colorize))
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Take over a lock held by another process")
	cmd.Flags().BoolVar(&opts.ReadOnly, "read-only", false, "Open without taking the lock")
	return cmd
}

func newProjectCloseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "close <project>",
		Short: "Release the project lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				err := ws.Projects.Close(path)
				data := map[string]string{"project_path": path}
				return ctx.respond(cmd, data, err, func(out io.Writer) error {
					fmt.Fprintf(out, "Released lock on %s\n", path)
					return nil
				})
			})
		},
	}
}

func newProjectDeleteCommand(ctx *commandContext) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete <project>",
		Short: "Delete a project directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				deleted, err := ws.Projects.Delete(commandCtx(cmd), path, force)
				return ctx.respond(cmd, deleted, err, func(out io.Writer) error {
					fmt.Fprintf(out, "Deleted %s\n", deleted.Path)
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Delete even if another process holds the lock")
	return cmd
}

func newProjectLockCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "lock <project>",
		Short: "Show who holds the project lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				status, err := ws.Projects.CheckLock(path)
				return ctx.respond(cmd, status, err, func(out io.Writer) error {
					switch {
					case status.Exists && status.Info != nil:
						fmt.Fprintf(out, "Locked by %s@%s (pid %d) %s\n",
							status.Info.User, status.Info.Hostname, status.Info.PID, formatAge(status.Info.OpenedAt))
						fmt.Fprintf(out, "  Owned by this process: %s\n", yesNo(status.OwnedBySelf))
					case status.Stale:
						fmt.Fprintf(out, "Not locked (removed stale lock: %s)\n", status.StaleReason)
					default:
						fmt.Fprintln(out, "Not locked")
					}
					return nil
				})
			})
		},
	}
}

func newProjectListCommand(ctx *commandContext) *cobra.Command {
	var base string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects, most recently saved first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				dir := base
				if dir != "" {
					expanded, err := config.ExpandPath(dir)
					if err != nil {
						return err
					}
					dir = expanded
				}
				listing, err := ws.Projects.List(dir)
				return ctx.respond(cmd, listing, err, func(out io.Writer) error {
					if len(listing.Projects) == 0 {
						fmt.Fprintln(out, "No projects found")
						return nil
					}
					rows := make([][]string, 0, len(listing.Projects))
					for _, p := range listing.Projects {
						rows = append(rows, []string{
							p.Manifest.Name,
							formatAge(p.Manifest.LastSavedAt),
							formatBytes(p.SizeBytes),
							p.Path,
						})
					}
					fmt.Fprintln(out, renderTable([]string{"Name", "Saved", "Size", "Path"}, rows, 2))
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&base, "dir", "", "Directory to scan (defaults to paths.projects_dir)")
	return cmd
}

// integrityReport is the result of project check.
type integrityReport struct {
	Path   string   `json:"project_path"`
	Name   string   `json:"name"`
	Issues []string `json:"issues"`
}

func newProjectCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check <project>",
		Short: "Verify the expected files and folders of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			manifest, _, err := project.ReadManifest(path)
			report := integrityReport{Path: path, Name: manifest.Name, Issues: []string{}}
			if err == nil {
				report.Issues = append(report.Issues, project.CheckIntegrity(path, manifest)...)
			}
			return ctx.respond(cmd, report, err, func(out io.Writer) error {
				colorize := isTerminal(out)
				fmt.Fprintf(out, "Project %q\n", report.Name)
				if len(report.Issues) == 0 {
					fmt.Fprintln(out, renderStatusLine("Integrity", statusOK, "all files present", colorize))
					return nil
				}
				for _, issue := range report.Issues {
					fmt.Fprintln(out, renderStatusLine("Integrity", statusWarn, issue, colorize))
				}
				return nil
			})
		},
	}
}
