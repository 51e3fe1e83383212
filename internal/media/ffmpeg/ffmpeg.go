package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// DiagnosticLines is how many trailing stderr lines a failed run keeps.
const DiagnosticLines = 20

// Executor abstracts command execution for testability. onStderr receives
// each stderr line; ffmpeg terminates progress lines with a carriage return
// so both \r and \n delimit lines.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStderr func(string)) error
}

// Option configures the runner.
type Option func(*Runner)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(r *Runner) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// Runner invokes the ffmpeg binary.
type Runner struct {
	binary string
	exec   Executor
}

// New constructs a runner for binary, defaulting to "ffmpeg".
func New(binary string, opts ...Option) *Runner {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	r := &Runner{binary: binary, exec: commandExecutor{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Binary returns the executable the runner invokes.
func (r *Runner) Binary() string { return r.binary }

// ToolError reports a failed ffmpeg invocation with its stderr tail.
type ToolError struct {
	Binary string
	Err    error
	Tail   []string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Binary, e.Err)
	if len(e.Tail) > 0 {
		msg += "\n" + strings.Join(e.Tail, "\n")
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// Diagnostics returns the captured stderr tail as one string.
func (e *ToolError) Diagnostics() string { return strings.Join(e.Tail, "\n") }

// Run executes ffmpeg with args. When onProgress is set it receives the
// encoded position in seconds each time ffmpeg reports a time= value.
func (r *Runner) Run(ctx context.Context, args []string, onProgress func(seconds float64)) error {
	tail := newTail(DiagnosticLines)
	err := r.exec.Run(ctx, r.binary, args, func(line string) {
		tail.add(line)
		if onProgress == nil {
			return
		}
		if seconds, ok := ParseProgressTime(line); ok {
			onProgress(seconds)
		}
	})
	if err != nil {
		return &ToolError{Binary: r.binary, Err: err, Tail: tail.lines()}
	}
	return nil
}

var timePattern = regexp.MustCompile(`time=\s*(-?\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// ParseProgressTime extracts the time=HH:MM:SS.ss position from an ffmpeg
// status line.
func ParseProgressTime(line string) (float64, bool) {
	m := timePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, err := strconv.Atoi(m[1])
	if err != nil || hours < 0 {
		return 0, false
	}
	minutes, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	return float64(hours)*3600 + float64(minutes)*60 + seconds, true
}

// Percent converts a position into a running percentage of duration,
// clamped to 0..99 so that 100 is reserved for completion. It reports false
// when duration is unknown.
func Percent(position, duration float64) (float64, bool) {
	if duration <= 0 {
		return 0, false
	}
	pct := position / duration * 100
	switch {
	case pct < 0:
		pct = 0
	case pct > 99:
		pct = 99
	}
	return pct, true
}

type tailBuffer struct {
	mu    sync.Mutex
	max   int
	items []string
}

func newTail(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, line)
	if len(t.items) > t.max {
		t.items = t.items[len(t.items)-t.max:]
	}
}

func (t *tailBuffer) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.items...)
}

// commandExecutor executes commands using os/exec.
type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStderr func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.Stdout = io.Discard
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(ScanLines)
	for scanner.Scan() {
		if onStderr != nil {
			onStderr(scanner.Text())
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		_ = cmd.Process.Kill()
	}

	waitErr := cmd.Wait()
	if scanErr != nil {
		return fmt.Errorf("scan output: %w", scanErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return fmt.Errorf("exit status %d", exitErr.ExitCode())
		}
		return fmt.Errorf("wait command: %w", waitErr)
	}
	return nil
}

// ScanLines is a bufio.SplitFunc that treats \r, \n and \r\n as line ends.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' {
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
			} else if !atEOF {
				return 0, nil, nil
			}
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
