package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/acarl005/stripansi"

	"github.com/lucasnoah/fixlog/internal/runner"
)

// StatusRule selects how pre_fix_status is derived from test output.
type StatusRule string

const (
	// StatusRuleLastLine marks the run passed as soon as any non-blank line
	// mentions neither "failed" nor "error". Earlier failure lines do not
	// prevent it, so a passing summary line wins. Blank lines, including the
	// empty segment after a trailing newline, are not evidence: output made
	// only of failure lines stays failed.
	StatusRuleLastLine StatusRule = "last-line"
	// StatusRuleStrict marks the run passed only when the process succeeded
	// and no line mentioned "failed" or "error".
	StatusRuleStrict StatusRule = "strict"
)

// ParseStatusRule validates a rule name. The empty string selects the default.
func ParseStatusRule(s string) (StatusRule, error) {
	switch StatusRule(s) {
	case "":
		return StatusRuleLastLine, nil
	case StatusRuleLastLine, StatusRuleStrict:
		return StatusRule(s), nil
	}
	return "", fmt.Errorf("unknown status rule %q (want %q or %q)", s, StatusRuleLastLine, StatusRuleStrict)
}

// failureMarkers are the case-sensitive words that make a line a failure report.
var failureMarkers = []string{"FAILED", "ERROR"}

// TestOptions configures test output extraction.
type TestOptions struct {
	StatusRule     StatusRule
	TestPrefix     string
	AutoTestPrefix string
}

// TestParser extracts a TestRunResult from a test suite outcome.
type TestParser struct {
	rule       StatusRule
	autoPrefix string
	names      *regexp.Regexp
}

// NewTestParser builds a parser, filling unset options with defaults.
func NewTestParser(opts TestOptions) *TestParser {
	if opts.StatusRule == "" {
		opts.StatusRule = StatusRuleLastLine
	}
	if opts.TestPrefix == "" {
		opts.TestPrefix = DefaultTestPrefix
	}
	if opts.AutoTestPrefix == "" {
		opts.AutoTestPrefix = DefaultAutoTestPrefix
	}
	return &TestParser{
		rule:       opts.StatusRule,
		autoPrefix: opts.AutoTestPrefix,
		names:      TestNamePattern(opts.TestPrefix),
	}
}

// ExtractTestResult parses out with the default options.
func ExtractTestResult(out runner.Outcome) TestRunResult {
	return NewTestParser(TestOptions{}).Parse(out)
}

// Parse walks stdout line by line collecting status evidence, test
// identifiers and failure messages. Terminal color codes are ignored; the
// stored stdout keeps them.
func (p *TestParser) Parse(out runner.Outcome) TestRunResult {
	res := TestRunResult{
		PreFixStatus:       StatusFailed,
		RelatedTests:       []string{},
		AutoGeneratedTests: []string{},
		FailureMessages:    []string{},
		Stdout:             out.Stdout,
		Stderr:             out.Stderr,
	}
	if !out.Succeeded() {
		res.Error = strPtr(out.Summary())
	}

	related := make(map[string]struct{})
	auto := make(map[string]struct{})
	sawPassLine := false
	sawFailLine := false

	for _, line := range strings.Split(stripansi.Strip(out.Stdout), "\n") {
		line = strings.TrimRight(line, "\r")

		if strings.TrimSpace(line) != "" {
			lower := strings.ToLower(line)
			if strings.Contains(lower, "failed") || strings.Contains(lower, "error") {
				sawFailLine = true
			} else {
				sawPassLine = true
			}
		}

		for _, name := range p.names.FindAllString(line, -1) {
			related[name] = struct{}{}
			if strings.HasPrefix(name, p.autoPrefix) {
				auto[name] = struct{}{}
			}
		}

		if msg, ok := failureMessage(line); ok {
			res.FailureMessages = append(res.FailureMessages, msg)
		}
	}

	switch p.rule {
	case StatusRuleStrict:
		if out.Succeeded() && sawPassLine && !sawFailLine {
			res.PreFixStatus = StatusPassed
		}
	default:
		if sawPassLine {
			res.PreFixStatus = StatusPassed
		}
	}

	res.RelatedTests = sortedKeys(related)
	res.AutoGeneratedTests = sortedKeys(auto)
	return res
}

// failureMessage returns the message carried by a FAILED/ERROR line: the
// trimmed text after the first ": " that follows the marker, or the whole
// line when there is no such separator. The message may be empty.
func failureMessage(line string) (string, bool) {
	at := -1
	for _, marker := range failureMarkers {
		if i := strings.Index(line, marker); i >= 0 && (at < 0 || i < at) {
			at = i
		}
	}
	if at < 0 {
		return "", false
	}
	msg := line
	if sep := strings.Index(line[at:], ": "); sep >= 0 {
		msg = line[at+sep+2:]
	}
	return strings.TrimSpace(msg), true
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
