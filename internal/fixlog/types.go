package fixlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lucasnoah/fixlog/internal/parser"
)

// Log is the whole persisted fix_log.json document.
type Log struct {
	CurrentPhase       int                       `json:"current_phase"`
	History            []Entry                   `json:"history"`
	Todo               []json.RawMessage         `json:"todo"`
	TestCoverageReport string                    `json:"test_coverage_report"`
	PerformanceSummary parser.PerformanceMetrics `json:"performance_summary"`

	// Extra holds top-level keys written by other tools; they are kept
	// verbatim across a load/save cycle.
	Extra map[string]json.RawMessage `json:"-"`
}

// Entry is one record in the history.
type Entry struct {
	UID          string                    `json:"UID"`
	FileName     Value                     `json:"file_name"`
	Line         Value                     `json:"line"`
	Operation    Value                     `json:"operation"`
	Content      Value                     `json:"content"`
	Explanation  Value                     `json:"explanation"`
	Priority     Value                     `json:"priority"`
	Dependencies []string                  `json:"dependencies"`
	Tests        parser.TestRunResult      `json:"tests"`
	Performance  parser.PerformanceMetrics `json:"performance_impact"`
	RollbackInfo RollbackInfo              `json:"rollback_info"`
}

// RollbackInfo is filled in by whoever applies the fix.
type RollbackInfo struct {
	PreviousContent string `json:"previous_content"`
	RollbackScript  string `json:"rollback_script"`
}

// New returns an empty log as written on first run.
func New() *Log {
	return &Log{
		CurrentPhase: 1,
		History:      []Entry{},
		Todo:         []json.RawMessage{},
	}
}

// NewEntry builds an entry for a run. The UID is assigned on append and the
// free-form fields are left for an external actor to fill in.
func NewEntry(tests parser.TestRunResult, perf parser.PerformanceMetrics) Entry {
	return Entry{
		FileName:     StringValue(""),
		Line:         IntValue(0),
		Operation:    StringValue(""),
		Content:      StringValue(""),
		Explanation:  StringValue(""),
		Priority:     StringValue(""),
		Dependencies: []string{},
		Tests:        tests,
		Performance:  perf,
	}
}

// NextUID returns the UID for the entry appended after n existing entries.
func NextUID(n int) string {
	return fmt.Sprintf("fix_%03d", n+1)
}

// knownKeys are the top-level keys decoded into Log fields.
var knownKeys = []string{"current_phase", "history", "todo", "test_coverage_report", "performance_summary"}

type logAlias Log

// MarshalJSON writes the known fields in order followed by Extra keys sorted
// by name.
func (l Log) MarshalJSON() ([]byte, error) {
	data, err := marshalNoEscape(logAlias(l))
	if err != nil || len(l.Extra) == 0 {
		return data, err
	}

	keys := make([]string, 0, len(l.Extra))
	for k := range l.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(data[:len(data)-1])
	for _, k := range keys {
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		raw := l.Extra[k]
		if len(raw) == 0 {
			raw = json.RawMessage("null")
		}
		buf.Write(raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes the known fields and stashes any others in Extra.
func (l *Log) UnmarshalJSON(data []byte) error {
	var a logAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownKeys {
		delete(raw, k)
	}
	*l = Log(a)
	l.Extra = nil
	if len(raw) > 0 {
		l.Extra = raw
	}
	return nil
}

// normalize replaces missing sequences with empty ones so they serialize as [].
func (l *Log) normalize() {
	if l.History == nil {
		l.History = []Entry{}
	}
	if l.Todo == nil {
		l.Todo = []json.RawMessage{}
	}
	for i := range l.History {
		if l.History[i].Dependencies == nil {
			l.History[i].Dependencies = []string{}
		}
	}
}

// marshalNoEscape is json.Marshal without HTML escaping; test output is
// full of '<' and '>'.
func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
