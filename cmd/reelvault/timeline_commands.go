package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"reelvault/internal/api"
	"reelvault/internal/faults"
	"reelvault/internal/timeline"
	"reelvault/internal/workspace"
)

func newTimelineCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Save, snapshot and roll back project timelines",
	}
	cmd.AddCommand(newTimelineShowCommand(ctx))
	cmd.AddCommand(newTimelineSaveCommand(ctx, false))
	cmd.AddCommand(newTimelineSaveCommand(ctx, true))
	cmd.AddCommand(newTimelineSnapshotCommand(ctx))
	cmd.AddCommand(newTimelineHistoryCommand(ctx))
	cmd.AddCommand(newTimelineRollbackCommand(ctx))
	cmd.AddCommand(newTimelinePruneCommand(ctx))
	return cmd
}

func newTimelineShowCommand(ctx *commandContext) *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "show <project>",
		Short: "Print the active timeline or a history snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				doc, err := ws.Timeline.Load(path, version)
				return ctx.respond(cmd, doc, err, func(out io.Writer) error {
					fmt.Fprintf(out, "Saved %s, %s long, %d tracks, %d clips\n",
						formatAge(doc.SavedAt), formatSeconds(doc.Duration), len(doc.Tracks), doc.ClipCount())
					if len(doc.Tracks) == 0 {
						return nil
					}
					rows := make([][]string, 0, len(doc.Tracks))
					for _, track := range doc.Tracks {
						rows = append(rows, []string{
							track.ID,
							track.Name,
							string(track.Type),
							fmt.Sprintf("%d", len(track.Clips)),
							yesNo(track.Muted),
							yesNo(track.Locked),
						})
					}
					fmt.Fprintln(out, renderTable([]string{"ID", "Name", "Type", "Clips", "Muted", "Locked"}, rows, 3))
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "History snapshot filename to show instead of the active timeline")
	return cmd
}

// readState decodes a timeline state from file, or stdin when file is "-".
func readState(cmd *cobra.Command, file string) (timeline.State, error) {
	var state timeline.State
	var data []byte
	var err error
	switch strings.TrimSpace(file) {
	case "":
		return state, faults.Wrap(faults.ErrValidation, "cli", "read timeline", "--file is required (use - for stdin)", nil)
	case "-":
		data, err = io.ReadAll(cmd.InOrStdin())
	default:
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return state, faults.Wrap(faults.ErrIO, "cli", "read timeline", file, err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, faults.Wrap(faults.ErrValidation, "cli", "read timeline", "decode timeline state", err)
	}
	return state, nil
}

func newTimelineSaveCommand(ctx *commandContext, auto bool) *cobra.Command {
	var file string
	var history bool
	use, short := "save <project>", "Replace the active timeline"
	if auto {
		use, short = "autosave <project>", "Save with history and record the result in the project's autosave log"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := readState(cmd, file)
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
				var saved timeline.Saved
				if auto {
					saved, err = ws.Timeline.AutoSave(path, state)
				} else {
					saved, err = ws.Timeline.Save(path, state, history)
				}
				return ctx.respond(cmd, saved, err, func(out io.Writer) error {
					fmt.Fprintf(out, "Timeline saved at %s\n", saved.SavedAt.Local().Format("2006-01-02 15:04:05"))
					if saved.Snapshot != "" {
						fmt.Fprintf(out, "  Snapshot: %s\n", saved.Snapshot)
					}
					if len(saved.Pruned) > 0 {
						fmt.Fprintf(out, "  Pruned %d old snapshots\n", len(saved.Pruned))
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Timeline state JSON file (- for stdin)")
	if !auto {
		cmd.Flags().BoolVar(&history, "history", false, "Also write a history snapshot")
	}
	return cmd
}

func newTimelineSnapshotCommand(ctx *commandContext) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "snapshot <project>",
		Short: "Copy the active timeline into history",
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
				snap, err := ws.Timeline.Snapshot(path, nil, label)
				return ctx.respond(cmd, snap, err, func(out io.Writer) error {
					fmt.Fprintf(out, "Snapshot %s\n", snap.Filename)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&label, "label", "l", "", "Label stored in the snapshot filename")
	return cmd
}

func newTimelineHistoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "history <project>",
		Short: "List timeline snapshots, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.projectPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(ws *workspace.Workspace) error {
				entries, err := ws.Timeline.ListHistory(path)
				items := make([]api.HistoryItem, 0, len(entries))
				for _, entry := range entries {
					items = append(items, api.FromHistoryEntry(entry))
				}
				return ctx.respond(cmd, items, err, func(out io.Writer) error {
					if len(entries) == 0 {
						fmt.Fprintln(out, "No snapshots")
						return nil
					}
					rows := make([][]string, 0, len(entries))
					for _, entry := range entries {
						rows = append(rows, []string{
							entry.Filename,
							entry.Label,
							formatAge(entry.Timestamp),
							formatBytes(entry.Size),
						})
					}
					fmt.Fprintln(out, renderTable([]string{"Snapshot", "Label", "Taken", "Size"}, rows, 3))
					return nil
				})
			})
		},
	}
}

func newTimelineRollbackCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <project> <snapshot>",
		Short: "Restore a history snapshot as the active timeline",
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
				rolled, err := ws.Timeline.Rollback(path, args[1])
				return ctx.respond(cmd, rolled, err, func(out io.Writer) error {
					fmt.Fprintf(out, "Restored %s (%d tracks, %d clips)\n", args[1], len(rolled.Document.Tracks), rolled.Document.ClipCount())
					if rolled.Backup != "" {
						fmt.Fprintf(out, "  Previous timeline kept as %s\n", rolled.Backup)
					}
					return nil
				})
			})
		},
	}
}

func newTimelinePruneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prune <project>",
		Short: "Delete snapshots beyond the retention limit",
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
				pruned, err := ws.Timeline.Prune(path)
				return ctx.respond(cmd, pruned, err, func(out io.Writer) error {
					fmt.Fprintf(out, "Removed %d snapshots (keeping at most %d)\n", len(pruned.Removed), ws.Timeline.MaxSnapshots())
					return nil
				})
			})
		},
	}
}
