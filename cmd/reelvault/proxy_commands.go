package main

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"reelvault/internal/api"
	"reelvault/internal/proxy"
	"reelvault/internal/workspace"
)

func newProxyCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "proxy",
		Aliases: []string{"proxies"},
		Short:   "Generate and manage low-resolution proxies",
	}
	cmd.AddCommand(newProxyGenerateCommand(ctx))
	cmd.AddCommand(newProxyStatusCommand(ctx))
	cmd.AddCommand(newProxyDeleteCommand(ctx))
	cmd.AddCommand(newProxyProfilesCommand(ctx))
	return cmd
}

// generated is the result of proxy generate.
type generated struct {
	Jobs      []api.JobItem          `json:"jobs"`
	Completed []proxy.CompletedEvent `json:"completed,omitempty"`
}

func newProxyGenerateCommand(ctx *commandContext) *cobra.Command {
	var profile string
	var wait bool
	cmd := &cobra.Command{
		Use:   "generate <project> <uuid>...",
		Short: "Queue proxy transcodes for assets",
		Long: "Queue proxy transcodes for assets. The command returns once every queued job has\n" +
			"finished; --wait also reports progress and stops at the first failure.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				if err := ctx.requireWritable(ws, path); err != nil {
					return ctx.respond(cmd, nil, err, nil)
				}
				name := profile
				if name == "" {
					name = ws.Config.Proxy.DefaultProfile
				}
				var ids []string
				for _, id := range args[1:] {
					jobID, err := ws.Proxies.Enqueue(path, id, "", name)
					if err != nil {
						return ctx.respond(cmd, nil, err, nil)
					}
					ids = append(ids, jobID)
				}
				result := generated{Jobs: api.FromJobs(ws.Proxies.Jobs())}
				if wait {
					for i, jobID := range ids {
						done, err := waitWithProgress(cmd, ws, jobID, fmt.Sprintf("%s (%d/%d)", args[i+1], i+1, len(ids)), ctx.jsonOutput())
						if err != nil {
							return ctx.respond(cmd, result, err, nil)
						}
						result.Completed = append(result.Completed, done)
					}
				}
				return ctx.respond(cmd, result, nil, func(out io.Writer) error {
					if !wait {
						for _, job := range result.Jobs {
							fmt.Fprintf(out, "Queued %s for %s (%s)\n", job.ID, job.AssetUUID, job.Profile)
						}
						return nil
					}
					for _, done := range result.Completed {
						status := "generated"
						if done.Skipped {
							status = "already present"
						}
						fmt.Fprintf(out, "%s: proxy %s at %s\n", done.AssetUUID, status, done.ProxyPath)
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&profile, "profile", "p", "", "Proxy profile (defaults to proxy.default_profile)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Report progress for each job")
	return cmd
}

// waitWithProgress waits for jobID, drawing a progress bar when stderr is
// a terminal and printing coarse percentages otherwise.
func waitWithProgress(cmd *cobra.Command, ws *workspace.Workspace, jobID, description string, quiet bool) (proxy.CompletedEvent, error) {
	stderr := cmd.ErrOrStderr()
	if quiet {
		return ws.WaitForJob(commandCtx(cmd), jobID, nil)
	}
	if !isTerminal(stderr) {
		last := -1
		return ws.WaitForJob(commandCtx(cmd), jobID, func(pct float64) {
			step := int(pct) / 25 * 25
			if step > last {
				last = step
				fmt.Fprintf(stderr, "%s: %d%%\n", description, step)
			}
		})
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
	done, err := ws.WaitForJob(commandCtx(cmd), jobID, func(pct float64) {
		_ = bar.Set(int(pct))
	})
	if err == nil {
		_ = bar.Finish()
	} else {
		_ = bar.Exit()
	}
	return done, err
}

func newProxyStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <project> <uuid>",
		Short: "Report whether an asset has a usable proxy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				status, err := ws.Proxies.CheckStatus(path, args[1])
				return ctx.respond(cmd, status, err, func(out io.Writer) error {
					if !status.Available {
						fmt.Fprintln(out, "No proxy available")
						return nil
					}
					fmt.Fprintf(out, "Proxy %s (%s)\n", status.Path, status.Profile)
					return nil
				})
			})
		},
	}
}

func newProxyDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project> <uuid>",
		Short: "Delete an asset's proxy file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				if err := ctx.requireWritable(ws, path); err != nil {
					return ctx.respond(cmd, nil, err, nil)
				}
				deleted, err := ws.Proxies.DeleteProxy(path, args[1])
				return ctx.respond(cmd, deleted, err, func(out io.Writer) error {
					if deleted.Path == "" {
						fmt.Fprintf(out, "%s had no proxy\n", deleted.UUID)
						return nil
					}
					fmt.Fprintf(out, "Deleted proxy %s\n", deleted.Path)
					return nil
				})
			})
		},
	}
}

func newProxyProfilesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List proxy profiles",
		Annotations: map[string]string{
			"skipConfigLoad": "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles := proxy.Profiles()
			return ctx.respond(cmd, profiles, nil, func(out io.Writer) error {
				rows := make([][]string, 0, len(profiles))
				for _, p := range profiles {
					rows = append(rows, []string{
						p.Name,
						fmt.Sprintf("%dx%d", p.Width, p.Height),
						p.Codec,
						fmt.Sprintf("%d", p.CRF),
						p.Preset,
						p.Bitrate,
					})
				}
				fmt.Fprintln(out, renderTable([]string{"Profile", "Size", "Codec", "CRF", "Preset", "Max rate"}, rows, 3))
				return nil
			})
		},
	}
}
