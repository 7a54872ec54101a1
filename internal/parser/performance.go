package parser

import (
	"github.com/acarl005/stripansi"

	"github.com/lucasnoah/fixlog/internal/runner"
)

// ExtractPerformance scrapes execution time and memory usage from the
// target program's stdout. Output is scanned even when the run failed.
func ExtractPerformance(out runner.Outcome) PerformanceMetrics {
	m := PerformanceMetrics{
		Stdout: out.Stdout,
		Stderr: out.Stderr,
	}
	if !out.Succeeded() {
		m.Error = strPtr(out.Summary())
	}
	text := stripansi.Strip(out.Stdout)
	if v, ok := ExecutionTimePattern.Find(text); ok {
		m.ExecutionTime = strPtr(v)
	}
	if v, ok := MemoryUsagePattern.Find(text); ok {
		m.MemoryUsage = strPtr(v)
	}
	return m
}
