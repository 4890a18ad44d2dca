// Command dd-gate runs the repository's verification gates in order and
// stops at the first failure.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lattice-substrate/delta-debug/runtime/executil"
)

type gateStep struct {
	label string
	args  []string
	race  bool
}

var requiredGateSteps = []gateStep{
	{label: "go vet", args: []string{"go", "vet", "./..."}},
	{label: "unit tests", args: []string{"go", "test", "./...", "-count=1", "-timeout=20m"}},
	{label: "race tests", args: []string{"go", "test", "./dd/...", "./runtime/...", "./ddmetrics/...", "-race", "-count=1", "-timeout=25m"}, race: true},
	{label: "examples", args: []string{"go", "test", "./dd", "-run", "^Example", "-count=1", "-v"}},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr, executil.OSRunner{}))
}

//nolint:gocyclo,cyclop // gate orchestration dispatch is explicit and linear.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, runner executil.CommandRunner) int {
	skipRace := false
	for _, arg := range args {
		switch arg {
		case "--help", "-h":
			if err := writeUsage(stdout); err != nil {
				return 1
			}
			return 0
		case "--skip-race":
			skipRace = true
		default:
			if err := writef(stderr, "error: unknown argument %q\n", arg); err != nil {
				return 1
			}
			if err := writeUsage(stderr); err != nil {
				return 1
			}
			return 2
		}
	}

	steps := make([]gateStep, 0, len(requiredGateSteps))
	for _, step := range requiredGateSteps {
		if step.race && skipRace {
			continue
		}
		steps = append(steps, step)
	}

	for i, step := range steps {
		if err := writef(stdout, "[%d/%d] %s\n", i+1, len(steps), step.label); err != nil {
			return 1
		}
		res, err := runner.Run(ctx, step.args, nil)
		if err == nil && res.ExitCode != 0 {
			err = fmt.Errorf("%s exited with %d", strings.Join(step.args, " "), res.ExitCode)
		}
		if err != nil {
			if out := strings.TrimSpace(res.Output); out != "" {
				_ = writeLine(stderr, out)
			}
			if writeErr := writef(stderr, "gate failed: %s: %v\n", step.label, err); writeErr != nil {
				return 1
			}
			return 1
		}
	}

	if err := writeLine(stdout, "all gates passed"); err != nil {
		return 1
	}
	return 0
}

func writeUsage(w io.Writer) error {
	if err := writeLine(w, "usage: go run ./cmd/dd-gate [--skip-race] [--help]"); err != nil {
		return err
	}
	return writeLine(w, "runs: vet, tests, race (dd, runtime, ddmetrics), examples")
}

func writeLine(w io.Writer, msg string) error {
	return writef(w, "%s\n", msg)
}

func writef(w io.Writer, format string, args ...any) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return fmt.Errorf("write stream: %w", err)
	}
	return nil
}
