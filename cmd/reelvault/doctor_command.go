package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"reelvault/internal/deps"
	"reelvault/internal/faults"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the configured media tools are installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			statuses := deps.CheckBinaries(commandCtx(cmd), deps.Requirements(cfg))

			var checkErr error
			if missing := deps.Missing(statuses); len(missing) > 0 {
				names := make([]string, 0, len(missing))
				for _, m := range missing {
					names = append(names, m.Name)
				}
				checkErr = faults.Wrap(faults.ErrExternalTool, "doctor", "check binaries",
					"missing required tools: "+strings.Join(names, ", "), nil)
			}
			if ctx.jsonOutput() {
				return ctx.respond(cmd, statuses, checkErr, nil)
			}

			out := cmd.OutOrStdout()
			colorize := isTerminal(out)
			for _, status := range statuses {
				fmt.Fprintln(out, doctorLine(status, colorize))
			}
			return checkErr
		},
	}
}

func doctorLine(status deps.Status, colorize bool) string {
	kind := statusOK
	message := status.Command
	if status.Version != "" {
		message = status.Version
	}
	if status.Detail != "" {
		message += " (" + status.Detail + ")"
	}
	if !status.Available {
		kind = statusError
		if status.Optional {
			kind = statusWarn
		}
		message = status.Detail
		if status.Optional && status.Description != "" {
			message += "; optional: " + status.Description
		}
	}
	return renderStatusLine(status.Name, kind, message, colorize)
}
