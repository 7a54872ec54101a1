package parser

import (
	"fmt"
	"regexp"
	"strconv"
)

// MetricPattern pairs a regular expression with the rule that formats its
// first capture group.
type MetricPattern struct {
	Name   string
	Regexp *regexp.Regexp
	// Format receives the parsed number of the first match.
	Format func(v float64) string
}

// Find returns the formatted value of the first match in text.
func (p MetricPattern) Find(text string) (string, bool) {
	m := p.Regexp.FindStringSubmatch(text)
	if m == nil || len(m) < 2 {
		return "", false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return "", false
	}
	return p.Format(v), true
}

// twoDecimals builds a Format func rendering "%.2f" followed by unit.
func twoDecimals(unit string) func(float64) string {
	return func(v float64) string {
		return fmt.Sprintf("%.2f%s", v, unit)
	}
}

var (
	// ExecutionTimePattern matches "Execution time: 1.5 seconds" -> "1.50s".
	ExecutionTimePattern = MetricPattern{
		Name:   "execution_time",
		Regexp: regexp.MustCompile(`Execution time: (\d+\.?\d*) seconds`),
		Format: twoDecimals("s"),
	}

	// MemoryUsagePattern matches "Memory usage: 128 MB" -> "128.00MB".
	MemoryUsagePattern = MetricPattern{
		Name:   "memory_usage",
		Regexp: regexp.MustCompile(`Memory usage: (\d+\.?\d*) MB`),
		Format: twoDecimals("MB"),
	}
)

// Defaults for test identifier extraction.
const (
	DefaultTestPrefix     = "test_"
	DefaultAutoTestPrefix = "test_auto_"
)

// TestNamePattern returns the identifier pattern for prefix: the prefix
// followed by one or more word characters.
func TestNamePattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(prefix) + `\w+`)
}
