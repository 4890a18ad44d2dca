// Package ddconfig loads delta-debugging run configurations from YAML.
package ddconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lattice-substrate/delta-debug/dd"
	"github.com/lattice-substrate/delta-debug/dderr"
	"github.com/lattice-substrate/delta-debug/ddinput"
	"github.com/lattice-substrate/delta-debug/runtime/cmdoracle"
)

// Version is the only accepted configuration version.
const Version = "dd.v1"

// Mode selects the algorithm.
type Mode string

const (
	ModeMinimize Mode = "minimize"
	ModeIsolate  Mode = "isolate"
)

// Config is one run configuration.
type Config struct {
	Version string       `yaml:"version"`
	Mode    Mode         `yaml:"mode"`
	Unit    ddinput.Unit `yaml:"unit"`
	Oracle  OracleConfig `yaml:"oracle"`
	Search  SearchConfig `yaml:"search"`
	Output  OutputConfig `yaml:"output"`
}

// OracleConfig describes the command-backed oracle.
type OracleConfig struct {
	Command       []string          `yaml:"command"`
	Env           map[string]string `yaml:"env"`
	Timeout       time.Duration     `yaml:"timeout"`
	PassExitCodes []int             `yaml:"pass_exit_codes"`
	FailExitCodes []int             `yaml:"fail_exit_codes"`
	FailPattern   string            `yaml:"fail_pattern"`
	InputSuffix   string            `yaml:"input_suffix"`
}

// SearchConfig tunes the algorithms.
type SearchConfig struct {
	Parallelism       int    `yaml:"parallelism"`
	Union             string `yaml:"union"`
	RecheckInvariants *bool  `yaml:"recheck_invariants"`
	CacheSize         int    `yaml:"cache_size"`
}

// OutputConfig names optional artifacts. Empty paths disable them.
type OutputConfig struct {
	Report  string `yaml:"report"`
	Metrics string `yaml:"metrics"`
}

// Default returns a configuration with every default applied and no
// oracle command.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = Version
	}
	if c.Mode == "" {
		c.Mode = ModeMinimize
	}
	if c.Unit == "" {
		c.Unit = ddinput.UnitChar
	}
	if len(c.Oracle.PassExitCodes) == 0 {
		c.Oracle.PassExitCodes = []int{0}
	}
	if c.Search.Parallelism == 0 {
		c.Search.Parallelism = 1
	}
	if c.Search.Union == "" {
		c.Search.Union = dd.UnionConcat.String()
	}
	if c.Search.RecheckInvariants == nil {
		recheck := true
		c.Search.RecheckInvariants = &recheck
	}
}

// Load reads, decodes, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	c, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Read reads, decodes and defaults a configuration file without validating
// it, so callers can apply overrides first.
//
//nolint:gosec // config path is explicit operator input.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dderr.Wrap(dderr.InternalIO, "load config", "read config", err)
	}
	return Decode(data)
}

// Parse decodes and validates a single YAML document.
func Parse(data []byte) (*Config, error) {
	c, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Decode decodes a single YAML document and applies defaults. Unknown
// fields are rejected.
func Decode(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var c Config
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, dderr.New(dderr.InvalidConfig, "load config", "config is empty")
		}
		return nil, dderr.Wrap(dderr.InvalidConfig, "load config", "decode config yaml", err)
	}
	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return nil, dderr.New(dderr.InvalidConfig, "load config", "unexpected trailing yaml document")
	}
	c.ApplyDefaults()
	return &c, nil
}

// Validate checks configuration semantics.
//
//nolint:gocyclo,cyclop // flat field validation keeps error messages specific.
func Validate(c *Config) error {
	if c == nil {
		return invalid("config is nil")
	}
	if c.Version != Version {
		return invalid(fmt.Sprintf("unsupported version %q (want %q)", c.Version, Version))
	}
	switch c.Mode {
	case ModeMinimize, ModeIsolate:
	default:
		return invalid(fmt.Sprintf("invalid mode %q", c.Mode))
	}
	if _, err := ddinput.ParseUnit(string(c.Unit)); err != nil {
		return invalid(err.Error())
	}
	if len(c.Oracle.Command) == 0 || c.Oracle.Command[0] == "" {
		return invalid("oracle.command is required")
	}
	if c.Oracle.Timeout < 0 {
		return invalid("oracle.timeout cannot be negative")
	}
	for _, code := range c.Oracle.FailExitCodes {
		for _, pass := range c.Oracle.PassExitCodes {
			if code == pass {
				return invalid(fmt.Sprintf("exit code %d is both a pass and a fail code", code))
			}
		}
	}
	if _, err := c.FailRegexp(); err != nil {
		return invalid(err.Error())
	}
	if c.Search.Parallelism < 1 {
		return invalid("search.parallelism must be >= 1")
	}
	if _, err := ParseUnion(c.Search.Union); err != nil {
		return invalid(err.Error())
	}
	if c.Search.CacheSize < 0 {
		return invalid("search.cache_size cannot be negative")
	}
	return nil
}

func invalid(msg string) error {
	return dderr.New(dderr.InvalidConfig, "validate config", msg)
}

// ParseUnion maps "concat" or "unique" to a union policy.
func ParseUnion(s string) (dd.UnionPolicy, error) {
	switch s {
	case dd.UnionConcat.String():
		return dd.UnionConcat, nil
	case dd.UnionUnique.String():
		return dd.UnionUnique, nil
	default:
		return dd.UnionConcat, fmt.Errorf("invalid union policy %q (want concat or unique)", s)
	}
}

// FailRegexp compiles oracle.fail_pattern; an empty pattern yields nil.
func (c *Config) FailRegexp() (*regexp.Regexp, error) {
	if c.Oracle.FailPattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(c.Oracle.FailPattern)
	if err != nil {
		return nil, fmt.Errorf("oracle.fail_pattern: %w", err)
	}
	return re, nil
}

// SearchOptions converts the search section to algorithm options. The
// configuration must have been validated.
func (c *Config) SearchOptions() dd.Options {
	union, _ := ParseUnion(c.Search.Union)
	recheck := c.Search.RecheckInvariants == nil || *c.Search.RecheckInvariants
	return dd.Options{
		Parallelism:          c.Search.Parallelism,
		Union:                union,
		SkipInvariantRecheck: !recheck,
	}
}

// CommandConfig converts the oracle section for cmdoracle.New. The
// configuration must have been validated.
func (c *Config) CommandConfig() cmdoracle.Config {
	re, _ := c.FailRegexp()
	return cmdoracle.Config{
		Argv:        append([]string(nil), c.Oracle.Command...),
		Env:         c.Oracle.Env,
		PassCodes:   c.Oracle.PassExitCodes,
		FailCodes:   c.Oracle.FailExitCodes,
		FailPattern: re,
		Suffix:      c.Oracle.InputSuffix,
	}
}
