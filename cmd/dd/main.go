// Command dd minimizes failure-inducing input and isolates failure-inducing
// differences with delta debugging.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lattice-substrate/delta-debug/dderr"
)

const (
	exitSuccess  = 0
	exitInvalid  = 2
	exitInternal = 10
)

// maxInputSize bounds every file the command reads.
const maxInputSize = 64 << 20

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	root := app.rootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitSuccess
	}
	if !app.started && !isClassified(err) {
		// Cobra rejected the command line before any command ran.
		err = dderr.Wrap(dderr.CLIUsage, "", "invalid command line", err)
	}
	return writeClassifiedError(stderr, err)
}

type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// started is set once a subcommand's RunE is entered.
	started bool

	configPath string
	verbose    bool
	overrides  overrides
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "dd",
		Short:         "Delta debugging: minimize failing input, isolate failure-inducing differences",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dderr.New(dderr.CLIUsage, "", "missing command (want minimize or isolate)")
		},
		Args: cobra.NoArgs,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return dderr.Wrap(dderr.CLIUsage, "", "invalid flag", err)
	})
	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "YAML run configuration")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "log every oracle test")
	a.overrides.register(pf)

	root.AddCommand(a.minimizeCommand(), a.isolateCommand())
	return root
}

func (a *app) logger() *zap.Logger {
	level := zap.InfoLevel
	if a.verbose {
		level = zap.DebugLevel
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(a.stderr), level)
	return zap.New(core)
}

func isClassified(err error) bool {
	var e *dderr.Error
	return errors.As(err, &e)
}

func writeClassifiedError(stderr io.Writer, err error) int {
	class := dderr.ClassOf(err)
	code := class.ExitCode()
	if werr := writef(stderr, "error: %v\n", err); werr != nil {
		return exitInternal
	}
	return code
}

func writef(w io.Writer, format string, args ...any) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return fmt.Errorf("write stream: %w", err)
	}
	return nil
}
