package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/lattice-substrate/delta-debug/dd"
	"github.com/lattice-substrate/delta-debug/ddconfig"
	"github.com/lattice-substrate/delta-debug/dderr"
	"github.com/lattice-substrate/delta-debug/ddinput"
	"github.com/lattice-substrate/delta-debug/ddmetrics"
	"github.com/lattice-substrate/delta-debug/ddpatch"
	"github.com/lattice-substrate/delta-debug/ddreport"
	"github.com/lattice-substrate/delta-debug/runtime/cmdoracle"
	"github.com/lattice-substrate/delta-debug/runtime/executil"
)

// overrides are command-line values that replace configuration fields when
// set explicitly.
type overrides struct {
	unit        string
	timeout     time.Duration
	parallelism int
	union       string
	noRecheck   bool
	cacheSize   int
	failPattern string
	passCodes   []int
	failCodes   []int
	suffix      string
	report      string
	metrics     string
}

func (o *overrides) register(fs *pflag.FlagSet) {
	fs.StringVarP(&o.unit, "unit", "u", "", "circumstance unit: char, line or word")
	fs.DurationVar(&o.timeout, "timeout", 0, "per-test timeout; a timed out test is UNRESOLVED")
	fs.IntVarP(&o.parallelism, "parallelism", "j", 0, "oracle calls in flight per scan step")
	fs.StringVar(&o.union, "union", "", "ddiso union policy: concat or unique")
	fs.BoolVar(&o.noRecheck, "no-recheck", false, "skip re-testing c_pass and c_fail every ddiso round")
	fs.IntVar(&o.cacheSize, "cache-size", 0, "memoize up to N outcomes (0 disables)")
	fs.StringVar(&o.failPattern, "fail-pattern", "", "regexp the oracle output must match to count as FAIL")
	fs.IntSliceVar(&o.passCodes, "pass-code", nil, "exit codes meaning PASS (default 0)")
	fs.IntSliceVar(&o.failCodes, "fail-code", nil, "exit codes meaning FAIL (default: any other)")
	fs.StringVar(&o.suffix, "suffix", "", "file name suffix for the rendered input")
	fs.StringVar(&o.report, "report", "", "write a JSON run report to this path")
	fs.StringVar(&o.metrics, "metrics", "", "write oracle metrics in Prometheus text format to this path")
}

func (o *overrides) apply(fs *pflag.FlagSet, c *ddconfig.Config) {
	if fs.Changed("unit") {
		c.Unit = ddinput.Unit(o.unit)
	}
	if fs.Changed("timeout") {
		c.Oracle.Timeout = o.timeout
	}
	if fs.Changed("parallelism") {
		c.Search.Parallelism = o.parallelism
	}
	if fs.Changed("union") {
		c.Search.Union = o.union
	}
	if fs.Changed("no-recheck") {
		recheck := !o.noRecheck
		c.Search.RecheckInvariants = &recheck
	}
	if fs.Changed("cache-size") {
		c.Search.CacheSize = o.cacheSize
	}
	if fs.Changed("fail-pattern") {
		c.Oracle.FailPattern = o.failPattern
	}
	if fs.Changed("pass-code") {
		c.Oracle.PassExitCodes = o.passCodes
	}
	if fs.Changed("fail-code") {
		c.Oracle.FailExitCodes = o.failCodes
	}
	if fs.Changed("suffix") {
		c.Oracle.InputSuffix = o.suffix
	}
	if fs.Changed("report") {
		c.Output.Report = o.report
	}
	if fs.Changed("metrics") {
		c.Output.Metrics = o.metrics
	}
}

// splitArgs separates positional inputs from the oracle command after "--".
func splitArgs(cmd *cobra.Command, args []string) (inputs, command []string) {
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		return args[:dash], args[dash:]
	}
	return args, nil
}

func (a *app) resolveConfig(cmd *cobra.Command, mode ddconfig.Mode, command []string) (*ddconfig.Config, error) {
	cfg := ddconfig.Default()
	if a.configPath != "" {
		var err error
		if cfg, err = ddconfig.Read(a.configPath); err != nil {
			return nil, err
		}
	}
	cfg.Mode = mode
	a.overrides.apply(cmd.Flags(), cfg)
	if len(command) > 0 {
		cfg.Oracle.Command = command
	}
	if err := ddconfig.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func inputArgs(inputs []string, want string) error {
	if len(inputs) != 1 {
		return dderr.New(dderr.CLIUsage, "", fmt.Sprintf("expected exactly one %s argument, got %d", want, len(inputs)))
	}
	return nil
}

func (a *app) minimizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "minimize [flags] FILE|- -- COMMAND [ARG...]",
		Short: "Reduce FILE to a 1-minimal failing input",
		Long: "Reduce FILE to a 1-minimal failing input with ddmin.\n\n" +
			"COMMAND runs once per test; {} in its arguments and $DD_INPUT name the candidate file.\n" +
			"Exit 0 is PASS. Any other exit status is FAIL unless --fail-code narrows it; a process killed by a\n" +
			"signal is UNRESOLVED unless --fail-pattern matches its output or --fail-code=-1 is given.\n" +
			"The minimized input is written to stdout.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.started = true
			inputs, command := splitArgs(cmd, args)
			if err := inputArgs(inputs, "FILE"); err != nil {
				return err
			}
			cfg, err := a.resolveConfig(cmd, ddconfig.ModeMinimize, command)
			if err != nil {
				return err
			}
			return a.runText(cmd.Context(), cfg, inputs[0])
		},
	}
}

func (a *app) isolateCommand() *cobra.Command {
	var patchPath string
	cmd := &cobra.Command{
		Use:   "isolate [flags] FILE|- -- COMMAND [ARG...]",
		Short: "Isolate a 1-minimal failure-inducing difference",
		Long: "Isolate a 1-minimal failure-inducing difference with ddiso.\n\n" +
			"Exit 0 is PASS. Any other exit status is FAIL unless --fail-code narrows it; a process killed by a\n" +
			"signal is UNRESOLVED unless --fail-pattern matches its output or --fail-code=-1 is given.\n" +
			"Without --patch the passing configuration is empty and the failing one is FILE.\n" +
			"With --patch PATCH, FILE is the base the patch applies to and its hunks are the circumstances;\n" +
			"the failure-inducing hunks are written to stdout as a unified diff.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.started = true
			inputs, command := splitArgs(cmd, args)
			if err := inputArgs(inputs, "FILE"); err != nil {
				return err
			}
			cfg, err := a.resolveConfig(cmd, ddconfig.ModeIsolate, command)
			if err != nil {
				return err
			}
			if patchPath != "" {
				return a.runPatch(cmd.Context(), cfg, patchPath, inputs[0])
			}
			return a.runText(cmd.Context(), cfg, inputs[0])
		},
	}
	cmd.Flags().StringVar(&patchPath, "patch", "", "unified diff whose hunks are the circumstances")
	return cmd
}

// session carries what both input kinds share: logging, metrics and the
// report.
type session struct {
	cfg     *ddconfig.Config
	log     *zap.Logger
	reg     *prometheus.Registry
	metrics *ddmetrics.Metrics
	report  *ddreport.Report
}

func (a *app) newSession(cfg *ddconfig.Config, unit string, input []byte, circumstances int) (*session, error) {
	reg := prometheus.NewRegistry()
	m, err := ddmetrics.New(reg)
	if err != nil {
		return nil, dderr.Wrap(dderr.InternalError, "metrics", "register metrics", err)
	}
	algorithm := "ddmin"
	if cfg.Mode == ddconfig.ModeIsolate {
		algorithm = "ddiso"
	}
	return &session{
		cfg:     cfg,
		log:     a.logger(),
		reg:     reg,
		metrics: m,
		report:  ddreport.New(algorithm, unit, input, circumstances, time.Now()),
	}, nil
}

// buildOracle assembles command execution, metrics and memoisation.
func buildOracle[T comparable](s *session, render cmdoracle.RenderFunc[T], key dd.KeyFunc[T]) (dd.Oracle[T], error) {
	cc := s.cfg.CommandConfig()
	cc.Logger = s.log
	runner := executil.OSRunner{Timeout: s.cfg.Oracle.Timeout}
	cmdOracle, err := cmdoracle.New[T](runner, cc, render)
	if err != nil {
		return nil, dderr.Wrap(dderr.InvalidConfig, "oracle", "build oracle", err)
	}
	oracle := ddmetrics.Instrument[T](cmdOracle, s.metrics)
	if s.cfg.Search.CacheSize > 0 {
		if oracle, err = dd.Memoize[T](oracle, key, s.cfg.Search.CacheSize); err != nil {
			return nil, dderr.Wrap(dderr.InvalidConfig, "oracle", "build cache", err)
		}
	}
	return oracle, nil
}

func (s *session) options() dd.Options {
	opts := s.cfg.SearchOptions()
	opts.Logger = s.log
	return opts
}

// finish writes the optional artifacts. It runs after failed searches too,
// so the metrics of an aborted run are kept.
func (s *session) finish(searchErr error) error {
	defer func() { _ = s.log.Sync() }()
	if s.cfg.Output.Metrics != "" {
		if err := ddmetrics.WriteText(s.cfg.Output.Metrics, s.reg); err != nil && searchErr == nil {
			return dderr.Wrap(dderr.InternalIO, "metrics", "write metrics", err)
		}
	}
	if searchErr != nil {
		return searchErr
	}
	if s.cfg.Output.Report == "" {
		return nil
	}
	counts := s.metrics.Counts()
	s.report.Oracle = ddreport.Counts{
		Pass:       counts[dd.Pass],
		Fail:       counts[dd.Fail],
		Unresolved: counts[dd.Unresolved],
		Errors:     s.metrics.Errors(),
	}
	if err := ddreport.Seal(s.report, time.Now()); err != nil {
		return dderr.Wrap(dderr.InternalError, "report", "seal report", err)
	}
	if err := ddreport.Write(s.cfg.Output.Report, s.report); err != nil {
		return dderr.Wrap(dderr.InternalIO, "report", "write report", err)
	}
	s.log.Info("report written", zap.String("path", s.cfg.Output.Report), zap.String("report_sha256", s.report.ReportSHA256))
	return nil
}

func (a *app) runText(ctx context.Context, cfg *ddconfig.Config, path string) error {
	input, err := a.readInput(path)
	if err != nil {
		return err
	}
	all, err := ddinput.Split(string(input), cfg.Unit)
	if err != nil {
		return dderr.Wrap(dderr.InvalidConfig, "input", "split input", err)
	}
	s, err := a.newSession(cfg, string(cfg.Unit), input, len(all))
	if err != nil {
		return err
	}
	render := func(c []ddinput.Circumstance) ([]byte, error) { return []byte(ddinput.Render(c)), nil }
	oracle, err := buildOracle[ddinput.Circumstance](s, render, ddinput.Render)
	if err != nil {
		return err
	}
	d := &dd.Debugger[ddinput.Circumstance]{Oracle: oracle, Options: s.options()}
	if a.verbose {
		d.Observer = func(ev dd.Event[ddinput.Circumstance]) {
			if ev.Kind == dd.EventTest {
				s.log.Debug("tested", zap.String("config", ddinput.Mask(all, ev.Config, '.')), zap.Stringer("outcome", ev.Outcome))
			}
		}
	}

	var out string
	switch cfg.Mode {
	case ddconfig.ModeIsolate:
		res, err := d.Isolate(ctx, nil, all)
		if err != nil {
			return s.finish(err)
		}
		out = ddinput.Render(res.Delta)
		s.report.Result = ddreport.NewArtifact(out, len(res.Delta))
		s.report.Isolation = &ddreport.Isolation{
			Delta: ddreport.NewArtifact(out, len(res.Delta)),
			Pass:  ddreport.NewArtifact(ddinput.Render(res.Pass), len(res.Pass)),
			Fail:  ddreport.NewArtifact(ddinput.Render(res.Fail), len(res.Fail)),
		}
	default:
		res, err := d.Minimize(ctx, all)
		if err != nil {
			return s.finish(err)
		}
		out = ddinput.Render(res)
		s.report.Result = ddreport.NewArtifact(out, len(res))
	}
	if err := writef(a.stdout, "%s", out); err != nil {
		return dderr.Wrap(dderr.InternalIO, "output", "write result", err)
	}
	return s.finish(nil)
}

func (a *app) runPatch(ctx context.Context, cfg *ddconfig.Config, patchPath, basePath string) error {
	patchData, err := a.readInput(patchPath)
	if err != nil {
		return err
	}
	base, err := a.readInput(basePath)
	if err != nil {
		return err
	}
	p, err := ddpatch.Parse(patchData)
	if err != nil {
		return dderr.Wrap(dderr.InvalidConfig, "patch", "parse patch", err)
	}
	all := p.Changes()
	if _, err := p.Apply(base, all); err != nil {
		return dderr.Wrap(dderr.Precondition, "patch", "patch does not apply to base", err)
	}
	s, err := a.newSession(cfg, "hunk", patchData, len(all))
	if err != nil {
		return err
	}
	// Every subset applies once the full patch does: hunks never overlap.
	render := func(c []ddpatch.Change) ([]byte, error) {
		return p.Apply(base, c)
	}
	oracle, err := buildOracle[ddpatch.Change](s, render, dd.DefaultKey[ddpatch.Change])
	if err != nil {
		return err
	}
	res, err := dd.Isolate[ddpatch.Change](ctx, oracle, nil, all, s.options())
	if err != nil {
		return s.finish(err)
	}
	formatted, err := p.Format(res.Delta)
	if err != nil {
		return s.finish(dderr.Wrap(dderr.InternalError, "patch", "format delta", err))
	}
	passText, _ := p.Format(res.Pass)
	failText, _ := p.Format(res.Fail)
	s.report.Result = ddreport.NewArtifact(string(formatted), len(res.Delta))
	s.report.Isolation = &ddreport.Isolation{
		Delta: s.report.Result,
		Pass:  ddreport.NewArtifact(string(passText), len(res.Pass)),
		Fail:  ddreport.NewArtifact(string(failText), len(res.Fail)),
	}
	if _, err := a.stdout.Write(formatted); err != nil {
		return dderr.Wrap(dderr.InternalIO, "output", "write result", err)
	}
	return s.finish(nil)
}

func (a *app) readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := readBounded(a.stdin)
		if err != nil {
			return nil, dderr.Wrap(dderr.InternalIO, "input", "read stdin", err)
		}
		return data, nil
	}
	f, err := os.Open(path) // #nosec G304 -- path is operator input.
	if err != nil {
		return nil, dderr.Wrap(dderr.CLIUsage, "input", fmt.Sprintf("open %q", path), err)
	}
	defer func() {
		_ = f.Close()
	}()
	data, err := readBounded(f)
	if err != nil {
		return nil, dderr.Wrap(dderr.InternalIO, "input", fmt.Sprintf("read %q", path), err)
	}
	return data, nil
}

func readBounded(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxInputSize {
		return nil, fmt.Errorf("input exceeds maximum size %d bytes", maxInputSize)
	}
	return data, nil
}
