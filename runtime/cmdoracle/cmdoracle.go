// Package cmdoracle implements a delta-debugging oracle that runs an
// external command on each configuration.
//
// The configuration is rendered to a temporary file. Every "{}" in the
// command's arguments is replaced by that file's path, and the path is also
// exported as DD_INPUT. The command's exit status and output decide the
// outcome.
package cmdoracle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/lattice-substrate/delta-debug/dd"
	"github.com/lattice-substrate/delta-debug/runtime/executil"
)

// Placeholder is replaced by the input file path in command arguments.
const Placeholder = "{}"

// InputEnv names the environment variable holding the input file path.
const InputEnv = "DD_INPUT"

// Config describes the command and how its result is classified.
type Config struct {
	Argv []string
	Env  map[string]string

	// PassCodes are exit codes meaning the failure did not occur.
	// Empty means {0}.
	PassCodes []int
	// FailCodes are exit codes that may indicate the target failure.
	// Empty means every exit status not in PassCodes, plus death by signal
	// when FailPattern is set.
	FailCodes []int
	// FailPattern, if set, must also match the combined output for a
	// failing exit code to count as FAIL. A failing exit whose output does
	// not match is a different failure and yields UNRESOLVED.
	FailPattern *regexp.Regexp

	// Dir holds the temporary input files. Empty means os.TempDir().
	Dir string
	// Suffix is appended to temporary file names, e.g. ".json", so
	// extension-sensitive programs see the right type.
	Suffix string

	Logger *zap.Logger
}

// RenderFunc serialises a configuration into the bytes given to the command.
// A render error fails the test instead of running the command.
type RenderFunc[T comparable] func(c []T) ([]byte, error)

// Oracle runs Config.Argv once per test. It is safe for concurrent use when
// the runner is.
type Oracle[T comparable] struct {
	runner executil.CommandRunner
	cfg    Config
	render RenderFunc[T]
	log    *zap.Logger
}

// New validates cfg and builds an oracle. A nil runner uses
// executil.OSRunner without a timeout.
func New[T comparable](runner executil.CommandRunner, cfg Config, render RenderFunc[T]) (*Oracle[T], error) {
	if len(cfg.Argv) == 0 || cfg.Argv[0] == "" {
		return nil, fmt.Errorf("cmdoracle: command is empty")
	}
	if render == nil {
		return nil, fmt.Errorf("cmdoracle: render func is nil")
	}
	for _, code := range cfg.FailCodes {
		if slices.Contains(cfg.PassCodes, code) {
			return nil, fmt.Errorf("cmdoracle: exit code %d is both a pass and a fail code", code)
		}
	}
	if len(cfg.PassCodes) == 0 {
		cfg.PassCodes = []int{0}
	}
	if runner == nil {
		runner = executil.OSRunner{}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Oracle[T]{runner: runner, cfg: cfg, render: render, log: log}, nil
}

// Test renders c, runs the command and classifies the result. It returns an
// error only when the input cannot be rendered or written, or the command
// cannot run.
func (o *Oracle[T]) Test(ctx context.Context, c []T) (dd.Outcome, error) {
	path, err := o.writeInput(c)
	if err != nil {
		return dd.Unresolved, err
	}
	defer os.Remove(path)

	env := make(map[string]string, len(o.cfg.Env)+1)
	for k, v := range o.cfg.Env {
		env[k] = v
	}
	env[InputEnv] = path

	res, err := o.runner.Run(ctx, o.argv(path), env)
	if err != nil {
		return dd.Unresolved, fmt.Errorf("cmdoracle: %w", err)
	}
	out := o.Classify(res)
	o.log.Debug("oracle command finished",
		zap.Int("circumstances", len(c)),
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("timed_out", res.TimedOut),
		zap.Duration("duration", res.Duration),
		zap.Stringer("outcome", out))
	return out, nil
}

// Classify maps a command result to an outcome.
func (o *Oracle[T]) Classify(res executil.Result) dd.Outcome {
	switch {
	case res.TimedOut:
		return dd.Unresolved
	case slices.Contains(o.cfg.PassCodes, res.ExitCode):
		return dd.Pass
	case o.isFailCode(res.ExitCode):
		if o.cfg.FailPattern == nil || o.cfg.FailPattern.MatchString(res.Output) {
			return dd.Fail
		}
		return dd.Unresolved
	default:
		return dd.Unresolved
	}
}

func (o *Oracle[T]) isFailCode(code int) bool {
	if len(o.cfg.FailCodes) == 0 {
		// A signal death (code -1) is only the target failure when the
		// output identifies it.
		return code >= 0 || o.cfg.FailPattern != nil
	}
	return slices.Contains(o.cfg.FailCodes, code)
}

func (o *Oracle[T]) argv(path string) []string {
	argv := make([]string, len(o.cfg.Argv))
	for i, a := range o.cfg.Argv {
		argv[i] = strings.ReplaceAll(a, Placeholder, path)
	}
	return argv
}

func (o *Oracle[T]) writeInput(c []T) (string, error) {
	data, err := o.render(c)
	if err != nil {
		return "", fmt.Errorf("cmdoracle: render input: %w", err)
	}
	f, err := os.CreateTemp(o.cfg.Dir, "dd-input-*"+o.cfg.Suffix)
	if err != nil {
		return "", fmt.Errorf("cmdoracle: create input: %w", err)
	}
	path := filepath.Clean(f.Name())
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("cmdoracle: write input: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("cmdoracle: close input: %w", err)
	}
	return path, nil
}
