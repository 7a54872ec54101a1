package analytics

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/lucasnoah/fixlog/internal/fixlog"
	"github.com/lucasnoah/fixlog/internal/parser"
)

// Summary holds aggregate stats over a fix log history.
type Summary struct {
	Entries       int           `json:"entries"`
	Passed        int           `json:"passed"`
	Failed        int           `json:"failed"`
	PassRate      float64       `json:"pass_rate_pct"`
	TargetErrors  int           `json:"target_errors"`
	ExecutionTime MetricStats   `json:"execution_time_seconds"`
	MemoryUsage   MetricStats   `json:"memory_usage_mb"`
	TopFailures   []FailureRate `json:"top_failures"`
	Tests         []TestHistory `json:"tests"`
}

// MetricStats holds stats for one recorded metric across entries that
// captured it.
type MetricStats struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	Last  float64 `json:"last"`
}

// FailureRate counts how often a failure message was recorded.
type FailureRate struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// TestHistory counts the runs a test identifier appeared in, and how many
// of those runs failed.
type TestHistory struct {
	Test          string  `json:"test"`
	Runs          int     `json:"runs"`
	FailedRuns    int     `json:"failed_runs"`
	FailRate      float64 `json:"fail_rate_pct"`
	AutoGenerated bool    `json:"auto_generated"`
}

// DefaultTopFailures is how many failure messages Summarize keeps.
const DefaultTopFailures = 5

// Summarize computes stats over every entry in l. topN bounds TopFailures;
// zero or less means DefaultTopFailures.
func Summarize(l *fixlog.Log, topN int) Summary {
	if topN <= 0 {
		topN = DefaultTopFailures
	}
	s := Summary{Entries: len(l.History)}

	var execTimes, memUsage []float64
	failures := make(map[string]int)
	tests := make(map[string]*TestHistory)

	for _, e := range l.History {
		failed := e.Tests.PreFixStatus != parser.StatusPassed
		if failed {
			s.Failed++
		} else {
			s.Passed++
		}
		if e.Performance.Error != nil {
			s.TargetErrors++
		}
		if v, ok := ParseMetric(e.Performance.ExecutionTime, "s"); ok {
			execTimes = append(execTimes, v)
		}
		if v, ok := ParseMetric(e.Performance.MemoryUsage, "MB"); ok {
			memUsage = append(memUsage, v)
		}
		for _, msg := range e.Tests.FailureMessages {
			failures[msg]++
		}

		auto := make(map[string]bool, len(e.Tests.AutoGeneratedTests))
		for _, name := range e.Tests.AutoGeneratedTests {
			auto[name] = true
		}
		for _, name := range e.Tests.RelatedTests {
			th, ok := tests[name]
			if !ok {
				th = &TestHistory{Test: name}
				tests[name] = th
			}
			th.Runs++
			if failed {
				th.FailedRuns++
			}
			if auto[name] {
				th.AutoGenerated = true
			}
		}
	}

	s.PassRate = pct(s.Passed, s.Entries)
	s.ExecutionTime = stats(execTimes)
	s.MemoryUsage = stats(memUsage)
	s.TopFailures = topFailures(failures, topN)

	for _, th := range tests {
		th.FailRate = pct(th.FailedRuns, th.Runs)
		s.Tests = append(s.Tests, *th)
	}
	sort.Slice(s.Tests, func(i, j int) bool {
		if s.Tests[i].FailRate != s.Tests[j].FailRate {
			return s.Tests[i].FailRate > s.Tests[j].FailRate
		}
		return s.Tests[i].Test < s.Tests[j].Test
	})
	return s
}

// ParseMetric reads a formatted metric such as "1.50s" or "128.00MB".
func ParseMetric(v *string, unit string) (float64, bool) {
	if v == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(*v), unit), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func topFailures(counts map[string]int, n int) []FailureRate {
	var out []FailureRate
	for msg, c := range counts {
		out = append(out, FailureRate{Message: msg, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Message < out[j].Message
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func stats(values []float64) MetricStats {
	if len(values) == 0 {
		return MetricStats{}
	}
	last := values[len(values)-1]
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return MetricStats{
		Count: len(values),
		Avg:   avg(sorted),
		P50:   percentile(sorted, 50),
		P95:   percentile(sorted, 95),
		Last:  last,
	}
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*100) / 100
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*100) / 100
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*100) / 100
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
