// Package executil runs external commands for command-backed oracles.
package executil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"time"
)

// Result is the observable outcome of one command run.
type Result struct {
	ExitCode int
	Output   string
	TimedOut bool
	Duration time.Duration
}

// CommandRunner abstracts command execution so oracles can be tested
// without spawning processes.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, env map[string]string) (Result, error)
}

// OSRunner executes commands on the host.
type OSRunner struct {
	// Timeout bounds each run. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// Run executes argv with env merged over the current environment and
// captures combined stdout and stderr.
//
// A command that starts and exits, with any status, is not an error. An
// error is returned only when argv is empty, the command cannot be started,
// or ctx itself is done.
func (r OSRunner) Run(ctx context.Context, argv []string, env map[string]string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("empty argv")
	}
	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	// #nosec G204 -- argv comes from the operator's oracle configuration.
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.WaitDelay = time.Second
	if len(env) != 0 {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		merged := cmd.Environ()
		for _, k := range keys {
			merged = append(merged, fmt.Sprintf("%s=%s", k, env[k]))
		}
		cmd.Env = merged
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	res := Result{Output: out.String(), Duration: time.Since(start), ExitCode: -1}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("run %q: %w", argv, ctxErr)
	}
	if timedOut(err, runCtx.Err()) {
		res.TimedOut = true
		return res, nil
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, fmt.Errorf("run %q failed: %w", argv, err)
	}
	return res, nil
}

// timedOut reports whether a run failed because its deadline passed. A
// command that exits cleanly just before the deadline was not timed out,
// even if the deadline has expired by the time Run returns.
func timedOut(runErr, ctxErr error) bool {
	return runErr != nil && errors.Is(ctxErr, context.DeadlineExceeded)
}
