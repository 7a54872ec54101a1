package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lucasnoah/fixlog/internal/analytics"
	"github.com/lucasnoah/fixlog/internal/orchestrator"
	"github.com/lucasnoah/fixlog/internal/runner"
)

const (
	MetricsNamespace = "fixlog"
)

// RunMetrics holds the gauges describing the most recent run. Each
// invocation builds its own registry and writes it out once, in the
// node_exporter textfile format.
type RunMetrics struct {
	registry *prometheus.Registry

	commandDuration *prometheus.GaugeVec
	commandExitCode *prometheus.GaugeVec
	commandFailure  *prometheus.GaugeVec

	testsPassed        prometheus.Gauge
	relatedTests       prometheus.Gauge
	autoGeneratedTests prometheus.Gauge
	failureMessages    prometheus.Gauge

	// Only exported when the target printed the metric.
	executionTime *prometheus.GaugeVec
	memoryUsage   *prometheus.GaugeVec

	persisted prometheus.Gauge
	lastRun   prometheus.Gauge
}

// New registers the run gauges on a fresh registry.
func New() *RunMetrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &RunMetrics{
		registry: reg,
		commandDuration: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "command_duration_seconds",
			Help:      "Wall-clock duration of the command",
		}, []string{"command"}),
		commandExitCode: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "command_exit_code",
			Help:      "Exit code of the command, -1 when it could not start or timed out",
		}, []string{"command"}),
		commandFailure: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "command_failure",
			Help:      "Set to 1 for the way the command failed",
		}, []string{"command", "kind"}),
		testsPassed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "tests_passed",
			Help:      "1 if the test suite was classified as passed",
		}),
		relatedTests: f.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "related_tests",
			Help:      "Distinct test identifiers seen in the test output",
		}),
		autoGeneratedTests: f.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "auto_generated_tests",
			Help:      "Distinct auto-generated test identifiers seen in the test output",
		}),
		failureMessages: f.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "failure_messages",
			Help:      "Failure messages extracted from the test output",
		}),
		executionTime: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "target_execution_time_seconds",
			Help:      "Execution time reported by the target program",
		}, []string{}),
		memoryUsage: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "target_memory_usage_megabytes",
			Help:      "Memory usage reported by the target program",
		}, []string{}),
		persisted: f.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "log_persisted",
			Help:      "1 if the entry was written to the fix log",
		}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the run finished",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *RunMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Record sets every gauge from rep.
func (m *RunMetrics) Record(rep *orchestrator.Report, finished time.Time) {
	m.recordCommand("target", rep.Target)
	m.recordCommand("tests", rep.Tests)

	res := rep.TestResult
	m.testsPassed.Set(boolToFloat(res.Passed()))
	m.relatedTests.Set(float64(len(res.RelatedTests)))
	m.autoGeneratedTests.Set(float64(len(res.AutoGeneratedTests)))
	m.failureMessages.Set(float64(len(res.FailureMessages)))

	if v, ok := analytics.ParseMetric(rep.Performance.ExecutionTime, "s"); ok {
		m.executionTime.WithLabelValues().Set(v)
	}
	if v, ok := analytics.ParseMetric(rep.Performance.MemoryUsage, "MB"); ok {
		m.memoryUsage.WithLabelValues().Set(v)
	}

	m.persisted.Set(boolToFloat(rep.PersistErr == nil && rep.Entry != nil))
	m.lastRun.Set(float64(finished.Unix()))
}

func (m *RunMetrics) recordCommand(name string, o runner.Outcome) {
	m.commandDuration.WithLabelValues(name).Set(o.Duration.Seconds())
	m.commandExitCode.WithLabelValues(name).Set(float64(o.ExitCode))
	if o.Failure != runner.FailureNone {
		m.commandFailure.WithLabelValues(name, string(o.Failure)).Set(1)
	}
}

// WriteTextfile writes the gauges to path for a node_exporter textfile
// collector. The write is atomic.
func (m *RunMetrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
