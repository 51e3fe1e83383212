package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"reelvault/internal/assets"
	"reelvault/internal/config"
	"reelvault/internal/faults"
	"reelvault/internal/media/mediatype"
	"reelvault/internal/workspace"
)

func newAssetCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "asset",
		Aliases: []string{"assets"},
		Short:   "Import and manage project media",
	}
	cmd.AddCommand(newAssetImportCommand(ctx))
	cmd.AddCommand(newAssetListCommand(ctx))
	cmd.AddCommand(newAssetShowCommand(ctx))
	cmd.AddCommand(newAssetUpdateCommand(ctx))
	cmd.AddCommand(newAssetRemoveCommand(ctx))
	cmd.AddCommand(newAssetResolveCommand(ctx))
	cmd.AddCommand(newAssetOfflineCommand(ctx))
	return cmd
}

// importBatch collects the outcome of importing several files.
type importBatch struct {
	Imported []assets.Imported `json:"imported"`
	Failed   []importFailure   `json:"failed,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

type importFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func newAssetImportCommand(ctx *commandContext) *cobra.Command {
	var modeFlag string
	cmd := &cobra.Command{
		Use:   "import <project> <file>...",
		Short: "Import media files into a project",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := assets.ParseMode(modeFlag)
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
				batch := importBatch{Imported: []assets.Imported{}}
				for _, arg := range args[1:] {
					source, err := config.ExpandPath(arg)
					if err == nil {
						source, err = filepath.Abs(source)
					}
					var imported assets.Imported
					if err == nil {
						imported, err = ws.Assets.Import(commandCtx(cmd), path, source, mode, assets.Metadata{})
					}
					if err != nil {
						batch.Failed = append(batch.Failed, importFailure{Path: arg, Error: err.Error(), Kind: faults.Kind(err)})
						continue
					}
					batch.Imported = append(batch.Imported, imported)
					for _, w := range imported.Warnings {
						batch.Warnings = append(batch.Warnings, fmt.Sprintf("%s: %s", filepath.Base(source), w))
					}
				}

				var batchErr error
				if len(batch.Imported) == 0 {
					batchErr = faults.Wrap(faults.ErrValidation, "assets", "import", "no files were imported", nil)
					if len(batch.Failed) == 1 {
						batchErr = fmt.Errorf("import %s: %s", batch.Failed[0].Path, batch.Failed[0].Error)
					}
				}
				for _, f := range batch.Failed {
					batch.Warnings = append(batch.Warnings, fmt.Sprintf("%s not imported: %s", f.Path, f.Error))
				}
				return ctx.respond(cmd, batch, batchErr, func(out io.Writer) error {
					for _, imp := range batch.Imported {
						fmt.Fprintf(out, "Imported %s as %s (%s, %s)\n",
							imp.Record.Filename, imp.UUID, imp.Record.Type, imp.Record.Storage)
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&modeFlag, "mode", "copy", "Import mode: copy, move or link")
	return cmd
}

func newAssetListCommand(ctx *commandContext) *cobra.Command {
	var typeFlag, storageFlag, proxyFlag string
	cmd := &cobra.Command{
		Use:   "list <project>",
		Short: "List project assets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseAssetFilter(typeFlag, storageFlag, proxyFlag)
			if err != nil {
				return ctx.respond(cmd, nil, err, nil)
			}
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				records, err := ws.Assets.List(path, filter)
				return ctx.respond(cmd, records, err, func(out io.Writer) error {
					fmt.Fprint(out, assetTable(records))
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&typeFlag, "type", "", "Only assets of this type (video, audio, image)")
	cmd.Flags().StringVar(&storageFlag, "storage", "", "Only internal or external assets")
	cmd.Flags().StringVar(&proxyFlag, "proxy", "", "Only assets with (true) or without (false) a proxy")
	return cmd
}

func parseAssetFilter(typeFlag, storageFlag, proxyFlag string) (assets.Filter, error) {
	var filter assets.Filter
	if v := strings.TrimSpace(typeFlag); v != "" {
		kind, ok := mediatype.Parse(v)
		if !ok {
			return filter, faults.Wrap(faults.ErrValidation, "cli", "asset list", fmt.Sprintf("unknown asset type %q", v), nil)
		}
		filter.Type = kind
	}
	switch v := assets.Storage(strings.ToLower(strings.TrimSpace(storageFlag))); v {
	case "":
	case assets.Internal, assets.External:
		filter.Storage = v
	default:
		return filter, faults.Wrap(faults.ErrValidation, "cli", "asset list", fmt.Sprintf("unknown storage %q (expected internal or external)", storageFlag), nil)
	}
	if v := strings.TrimSpace(proxyFlag); v != "" {
		available, err := strconv.ParseBool(v)
		if err != nil {
			return filter, faults.Wrap(faults.ErrValidation, "cli", "asset list", fmt.Sprintf("invalid --proxy value %q", v), nil)
		}
		filter.ProxyAvailable = &available
	}
	return filter, nil
}

func assetTable(records []assets.Record) string {
	if len(records) == 0 {
		return "No assets\n"
	}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		proxy := "-"
		if rec.ProxyAvailable {
			proxy = rec.ProxyProfile
			if proxy == "" {
				proxy = "yes"
			}
		}
		rows = append(rows, []string{
			rec.UUID,
			rec.Filename,
			string(rec.Type),
			string(rec.Storage),
			formatSeconds(rec.Duration),
			formatBytes(rec.Size),
			proxy,
		})
	}
	return renderTable([]string{"UUID", "File", "Type", "Storage", "Duration", "Size", "Proxy"}, rows, 4, 5) + "\n"
}

func newAssetShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <project> <uuid>",
		Short: "Show one asset record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				rec, err := ws.Assets.Get(path, args[1])
				return ctx.respond(cmd, rec, err, func(out io.Writer) error {
					printRecord(out, path, rec)
					return nil
				})
			})
		},
	}
}

func printRecord(out io.Writer, projectPath string, rec assets.Record) {
	fmt.Fprintf(out, "%s\n", rec.Filename)
	fmt.Fprintf(out, "  UUID:      %s\n", rec.UUID)
	fmt.Fprintf(out, "  Type:      %s\n", rec.Type)
	fmt.Fprintf(out, "  Storage:   %s\n", rec.Storage)
	fmt.Fprintf(out, "  Source:    %s\n", rec.SourcePath(projectPath))
	fmt.Fprintf(out, "  Imported:  %s\n", formatAge(rec.ImportedAt))
	fmt.Fprintf(out, "  Size:      %s\n", formatBytes(rec.Size))
	if rec.Duration > 0 {
		fmt.Fprintf(out, "  Duration:  %s\n", formatSeconds(rec.Duration))
	}
	if rec.Width > 0 && rec.Height > 0 {
		fmt.Fprintf(out, "  Frame:     %dx%d", rec.Width, rec.Height)
		if rec.FPS > 0 {
			fmt.Fprintf(out, " @ %g fps", rec.FPS)
		}
		fmt.Fprintln(out)
	}
	if rec.Codec != "" {
		fmt.Fprintf(out, "  Codec:     %s\n", rec.Codec)
	}
	if rec.AudioCodec != "" {
		fmt.Fprintf(out, "  Audio:     %s, %d ch, %d Hz\n", rec.AudioCodec, rec.Channels, rec.SampleRate)
	}
	proxy := "none"
	if rec.ProxyAvailable && rec.ProxyPath != nil {
		proxy = fmt.Sprintf("%s (%s)", *rec.ProxyPath, rec.ProxyProfile)
	}
	fmt.Fprintf(out, "  Proxy:     %s\n", proxy)
	if rec.Checksum != nil {
		fmt.Fprintf(out, "  Checksum:  %s\n", *rec.Checksum)
	}
}

func newAssetUpdateCommand(ctx *commandContext) *cobra.Command {
	var (
		filename, originalPath, codec, audioCodec string
		duration, fps                             float64
		width, height, channels, sampleRate       int
		bitRate                                   int64
	)
	cmd := &cobra.Command{
		Use:   "update <project> <uuid>",
		Short: "Change asset metadata",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var patch assets.Patch
			if flags.Changed("filename") {
				patch.Filename = &filename
			}
			if flags.Changed("original-path") {
				expanded, err := config.ExpandPath(originalPath)
				if err != nil {
					return err
				}
				patch.OriginalPath = &expanded
			}
			if flags.Changed("duration") {
				patch.Duration = &duration
			}
			if flags.Changed("width") {
				patch.Width = &width
			}
			if flags.Changed("height") {
				patch.Height = &height
			}
			if flags.Changed("codec") {
				patch.Codec = &codec
			}
			if flags.Changed("bitrate") {
				patch.BitRate = &bitRate
			}
			if flags.Changed("fps") {
				patch.FPS = &fps
			}
			if flags.Changed("audio-codec") {
				patch.AudioCodec = &audioCodec
			}
			if flags.Changed("channels") {
				patch.Channels = &channels
			}
			if flags.Changed("sample-rate") {
				patch.SampleRate = &sampleRate
			}
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				if err := ctx.requireWritable(ws, path); err != nil {
					return ctx.respond(cmd, nil, err, nil)
				}
				rec, err := ws.Assets.Update(path, args[1], patch)
				return ctx.respond(cmd, rec, err, func(out io.Writer) error {
					printRecord(out, path, rec)
					return nil
				})
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&filename, "filename", "", "Display filename")
	flags.StringVar(&originalPath, "original-path", "", "Relink an external asset to a new location")
	flags.Float64Var(&duration, "duration", 0, "Duration in seconds")
	flags.IntVar(&width, "width", 0, "Frame width")
	flags.IntVar(&height, "height", 0, "Frame height")
	flags.StringVar(&codec, "codec", "", "Video codec")
	flags.Int64Var(&bitRate, "bitrate", 0, "Bit rate in bits per second")
	flags.Float64Var(&fps, "fps", 0, "Frame rate")
	flags.StringVar(&audioCodec, "audio-codec", "", "Audio codec")
	flags.IntVar(&channels, "channels", 0, "Audio channels")
	flags.IntVar(&sampleRate, "sample-rate", 0, "Audio sample rate")
	return cmd
}

func newAssetRemoveCommand(ctx *commandContext) *cobra.Command {
	var deleteFiles bool
	cmd := &cobra.Command{
		Use:   "remove <project> <uuid>",
		Short: "Remove an asset from the registry",
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
				removed, err := ws.Assets.Remove(path, args[1], deleteFiles)
				return ctx.respond(cmd, removed, err, func(out io.Writer) error {
					fmt.Fprintf(out, "Removed %s\n", removed.UUID)
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVar(&deleteFiles, "delete-files", false, "Also delete the copied media and proxy")
	return cmd
}

func newAssetResolveCommand(ctx *commandContext) *cobra.Command {
	var useProxy bool
	cmd := &cobra.Command{
		Use:   "resolve <project> <uuid>",
		Short: "Print the file to read for an asset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				resolved, err := ws.Assets.Resolve(path, args[1], useProxy)
				return ctx.respond(cmd, resolved, err, func(out io.Writer) error {
					fmt.Fprintln(out, resolved.Path)
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVar(&useProxy, "proxy", false, "Prefer the proxy when one exists")
	return cmd
}

func newAssetOfflineCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "offline <project>",
		Short: "List assets whose media cannot be found",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				records, err := ws.Assets.FindOffline(path)
				return ctx.respond(cmd, records, err, func(out io.Writer) error {
					if len(records) == 0 {
						fmt.Fprintln(out, "All media online")
						return nil
					}
					rows := make([][]string, 0, len(records))
					for _, rec := range records {
						rows = append(rows, []string{rec.UUID, rec.Filename, rec.SourcePath(path)})
					}
					fmt.Fprintln(out, renderTable([]string{"UUID", "File", "Expected at"}, rows))
					return nil
				})
			})
		},
	}
}
