// Package procutil runs external tools and reports their outcome as a value
// instead of an error, so callers can branch on exit status.
package procutil

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// stderrTailLimit bounds how much stderr is retained for error reporting.
const stderrTailLimit = 8 * 1024

// Result holds the outcome of a finished process. ExitCode is zero on
// success; Stderr is always populated with whatever the tool wrote.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Ok reports whether the process exited zero.
func (r Result) Ok() bool {
	return r.ExitCode == 0
}

// SpawnError means the executable could not be located or started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ProcessError describes a non-zero exit. Run never returns it directly;
// callers build one from the Result when they decide the exit is fatal.
type ProcessError struct {
	Path     string
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	excerpt := StderrExcerpt(e.Stderr)
	if excerpt == "" {
		return fmt.Sprintf("%s exited with code %d", e.Path, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Path, e.ExitCode, excerpt)
}

// Options controls one Run invocation.
type Options struct {
	// Timeout kills the process if it runs longer. Zero means no timeout.
	Timeout time.Duration
	// OnStderrLine is invoked for every line the tool writes to stderr,
	// as it arrives. Used for progress parsing.
	OnStderrLine func(line string)
}

// Run executes path with args and waits for it to exit. A non-zero exit is
// reported through the Result, not as an error; the returned error is
// non-nil only when the process could not be started (SpawnError) or the
// context/timeout fired. The child is always reaped.
func Run(ctx context.Context, path string, args []string, opts Options) (Result, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, path, args...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, &SpawnError{Path: path, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return Result{}, &SpawnError{Path: path, Err: err}
	}

	// Drain stderr on the spot so the tool never blocks on a full pipe,
	// feeding each line to the progress callback as it arrives.
	var stderr bytes.Buffer
	scanner := bufio.NewScanner(stderrPipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		stderr.WriteString(line)
		stderr.WriteByte('\n')
		if stderr.Len() > stderrTailLimit {
			trimmed := stderr.Bytes()[stderr.Len()-stderrTailLimit:]
			tail := make([]byte, len(trimmed))
			copy(tail, trimmed)
			stderr.Reset()
			stderr.Write(tail)
		}
		if opts.OnStderrLine != nil {
			opts.OnStderrLine(line)
		}
	}

	waitErr := cmd.Wait()

	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			// Timeout/cancellation surfaces as a killed process; report
			// it as an error rather than a plain non-zero exit.
			if ctx.Err() != nil {
				return result, fmt.Errorf("%s terminated: %w", path, ctx.Err())
			}
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, &SpawnError{Path: path, Err: waitErr}
	}

	return result, nil
}

// StderrExcerpt trims a stderr capture down to its last few meaningful
// lines for inclusion in error messages.
func StderrExcerpt(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	var kept []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	if len(kept) > 5 {
		kept = kept[len(kept)-5:]
	}
	return strings.Join(kept, " | ")
}
