package parser

// Test status values recorded in pre_fix_status.
const (
	StatusPassed = "passed"
	StatusFailed = "failed"
)

// PerformanceMetrics holds the signals scraped from the target program's run.
// Nil pointers serialize as null: a missing metric is a lack of evidence.
type PerformanceMetrics struct {
	ExecutionTime *string `json:"execution_time_change"`
	MemoryUsage   *string `json:"memory_usage_change"`
	Error         *string `json:"error"`
	Stdout        string  `json:"stdout"`
	Stderr        string  `json:"stderr"`
}

// TestRunResult holds the signals scraped from the test suite's run.
type TestRunResult struct {
	PreFixStatus       string   `json:"pre_fix_status"`
	RelatedTests       []string `json:"related_tests"`
	AutoGeneratedTests []string `json:"auto_generated_tests"`
	FailureMessages    []string `json:"failure_messages"`
	Error              *string  `json:"error"`
	Stdout             string   `json:"stdout"`
	Stderr             string   `json:"stderr"`
}

// Passed reports whether the run was classified as passing.
func (r TestRunResult) Passed() bool {
	return r.PreFixStatus == StatusPassed
}

func strPtr(s string) *string {
	return &s
}
