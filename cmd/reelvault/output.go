package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"reelvault/internal/api"
	"reelvault/internal/assets"
	"reelvault/internal/lock"
)

// errReported marks a failure already printed as a JSON envelope.
var errReported = errors.New("failure reported")

// respond prints the outcome of an operation: the api envelope with
// --json, otherwise render's text followed by any warnings on stderr.
func (c *commandContext) respond(cmd *cobra.Command, data any, err error, render func(io.Writer) error) error {
	if c.jsonOutput() {
		if werr := api.Write(cmd.OutOrStdout(), api.From(data, err)); werr != nil {
			return werr
		}
		if err != nil {
			return errReported
		}
		return nil
	}
	if err != nil {
		return describeError(err)
	}
	if render != nil {
		if err := render(cmd.OutOrStdout()); err != nil {
			return err
		}
	}
	for _, w := range api.OK(data).Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
	return nil
}

// describeError adds an operator hint to errors that carry a payload.
func describeError(err error) error {
	var locked *lock.LockedError
	if errors.As(err, &locked) {
		return fmt.Errorf("%w\nhint: close the project in the other session, or pass --force / --ignore-lock", err)
	}
	var offline *assets.OfflineError
	if errors.As(err, &offline) {
		return fmt.Errorf("%w\nhint: reconnect the media or update the asset's original path", err)
	}
	return err
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func formatSeconds(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	d := time.Duration(seconds * float64(time.Second)).Round(100 * time.Millisecond)
	return d.String()
}
