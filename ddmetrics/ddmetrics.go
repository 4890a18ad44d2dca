// Package ddmetrics instruments oracles with Prometheus metrics.
package ddmetrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/lattice-substrate/delta-debug/dd"
)

const (
	namespace = "dd"
	subsystem = "oracle"
)

// Metrics holds the oracle collectors of one run.
type Metrics struct {
	tests    *prometheus.CounterVec
	errors   prometheus.Counter
	duration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		tests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tests_total",
			Help:      "Oracle tests by outcome",
		}, []string{"outcome"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Oracle calls that failed to execute",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "test_duration_seconds",
			Help:      "Wall time of one oracle call",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
	for _, c := range []prometheus.Collector{m.tests, m.errors, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	// Pre-create every outcome series so reports show explicit zeros.
	for _, o := range dd.Outcomes() {
		m.tests.WithLabelValues(o.String())
	}
	return m, nil
}

type instrumented[T comparable] struct {
	oracle dd.Oracle[T]
	m      *Metrics
}

// Instrument wraps o so every call is counted and timed in m.
func Instrument[T comparable](o dd.Oracle[T], m *Metrics) dd.Oracle[T] {
	return &instrumented[T]{oracle: o, m: m}
}

func (i *instrumented[T]) Test(ctx context.Context, c []T) (dd.Outcome, error) {
	start := time.Now()
	out, err := i.oracle.Test(ctx, c)
	i.m.duration.Observe(time.Since(start).Seconds())
	if err != nil {
		i.m.errors.Inc()
		return out, err
	}
	i.m.tests.WithLabelValues(out.String()).Inc()
	return out, nil
}

// Counts snapshots the number of tests per outcome.
func (m *Metrics) Counts() map[dd.Outcome]int64 {
	counts := make(map[dd.Outcome]int64, 3)
	for _, o := range dd.Outcomes() {
		counts[o] = counterValue(m.tests.WithLabelValues(o.String()))
	}
	return counts
}

// Errors returns the number of oracle calls that failed to execute.
func (m *Metrics) Errors() int64 {
	return counterValue(m.errors)
}

func counterValue(c prometheus.Counter) int64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return int64(pb.GetCounter().GetValue())
}

// WriteText gathers g and writes it in the Prometheus text format to path.
func WriteText(path string, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create metrics dir: %w", err)
		}
	}
	f, err := os.Create(path) // #nosec G304 -- path is operator-provided output location.
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			_ = f.Close()
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close metrics file: %w", err)
	}
	return nil
}
