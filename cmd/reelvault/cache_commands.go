package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"reelvault/internal/assets"
	"reelvault/internal/cache"
	"reelvault/internal/workspace"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Generate and clean thumbnails, waveforms and render files",
	}
	cmd.AddCommand(newCacheThumbnailCommand(ctx))
	cmd.AddCommand(newCacheWaveformCommand(ctx))
	cmd.AddCommand(newCacheSizeCommand(ctx))
	cmd.AddCommand(newCacheClearCommand(ctx))
	cmd.AddCommand(newCacheCleanupCommand(ctx))
	return cmd
}

// cacheInput resolves the media to decode for id. Offline media still
// yields its expected path so already cached artifacts can be served.
func cacheInput(ws *workspace.Workspace, projectPath, id string, useProxy bool) (string, error) {
	resolved, err := ws.Assets.Resolve(projectPath, id, useProxy)
	if err == nil {
		return resolved.Path, nil
	}
	var offline *assets.OfflineError
	if errors.As(err, &offline) {
		return offline.Path, nil
	}
	return "", err
}

func newCacheThumbnailCommand(ctx *commandContext) *cobra.Command {
	var at float64
	var useProxy bool
	cmd := &cobra.Command{
		Use:   "thumbnail <project> <uuid>",
		Short: "Extract a thumbnail frame",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				input, err := cacheInput(ws, path, args[1], useProxy)
				if err != nil {
					return ctx.respond(cmd, nil, err, nil)
				}
				thumb, err := ws.Cache.Thumbnail(commandCtx(cmd), path, args[1], input, at)
				return ctx.respond(cmd, thumb, err, func(out io.Writer) error {
					state := "generated"
					if thumb.Cached {
						state = "cached"
					}
					fmt.Fprintf(out, "%s (%s, %d frames cached for this asset)\n", thumb.Path, state, thumb.Count)
					return nil
				})
			})
		},
	}
	cmd.Flags().Float64Var(&at, "at", 1, "Position in seconds")
	cmd.Flags().BoolVar(&useProxy, "proxy", true, "Decode from the proxy when available")
	return cmd
}

// waveformResult is the result of cache waveform.
type waveformResult struct {
	cache.Waveform
	Cached bool `json:"cached"`
}

func newCacheWaveformCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "waveform <project> <uuid>",
		Short: "Compute or load an asset's waveform peaks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				input, err := cacheInput(ws, path, args[1], false)
				if err != nil {
					return ctx.respond(cmd, nil, err, nil)
				}
				wf, cached, err := ws.Cache.Waveform(commandCtx(cmd), path, args[1], input)
				result := waveformResult{Waveform: wf, Cached: cached}
				return ctx.respond(cmd, result, err, func(out io.Writer) error {
					state := "generated"
					if cached {
						state = "cached"
					}
					fmt.Fprintf(out, "%d peaks at %d per second (%s)\n", len(wf.Samples), wf.SampleRate, state)
					fmt.Fprintf(out, "  %s\n", cache.WaveformPath(path, args[1]))
					return nil
				})
			})
		},
	}
	return cmd
}

func newCacheSizeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "size <project>",
		Short: "Report disk usage of the cache folders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				usage, err := ws.Cache.Size(path)
				return ctx.respond(cmd, usage, err, func(out io.Writer) error {
					rows := [][]string{
						{"thumbnails", formatBytes(usage.Thumbnails)},
						{"waveforms", formatBytes(usage.Waveforms)},
						{"render", formatBytes(usage.Render)},
						{"total", formatBytes(usage.Total)},
					}
					fmt.Fprintln(out, renderTable([]string{"Cache", "Size"}, rows, 1))
					return nil
				})
			})
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	var kindFlag string
	cmd := &cobra.Command{
		Use:   "clear <project>",
		Short: "Empty cache folders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := cache.ParseKind(kindFlag)
			if err != nil {
				return ctx.respond(cmd, nil, err, nil)
			}
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				if err := ctx.requireWritable(ws, path); err != nil {
					return ctx.respond(cmd, nil, err, nil)
				}
				cleared, err := ws.Cache.Clear(path, kind)
				return ctx.respond(cmd, cleared, err, func(out io.Writer) error {
					for _, dir := range cleared.Cleared {
						fmt.Fprintf(out, "Cleared %s\n", dir)
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&kindFlag, "kind", "all", "Cache to clear: all, thumbnails, waveforms or render")
	return cmd
}

func newCacheCleanupCommand(ctx *commandContext) *cobra.Command {
	var maxAgeDays int
	cmd := &cobra.Command{
		Use:   "cleanup <project>",
		Short: "Delete cache files older than the configured age",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				if err := ctx.requireWritable(ws, path); err != nil {
					return ctx.respond(cmd, nil, err, nil)
				}
				maxAge := ws.Config.CacheMaxAge()
				if cmd.Flags().Changed("max-age-days") {
					maxAge = time.Duration(maxAgeDays) * 24 * time.Hour
				}
				cleaned, err := ws.Cache.CleanupOld(path, maxAge)
				return ctx.respond(cmd, cleaned, err, func(out io.Writer) error {
					fmt.Fprintf(out, "Removed %d files, freed %s\n", cleaned.Removed, formatBytes(cleaned.Freed))
					return nil
				})
			})
		},
	}
	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "Override cache.max_age_days")
	return cmd
}
