package fixlog

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/fixlog/internal/parser"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "fix_log.json"), nil)
}

func str(s string) *string { return &s }

func metrics(execTime string) parser.PerformanceMetrics {
	return parser.PerformanceMetrics{ExecutionTime: str(execTime), Stdout: "Execution time: " + execTime}
}

func testResult(status string) parser.TestRunResult {
	return parser.TestRunResult{
		PreFixStatus:       status,
		RelatedTests:       []string{"test_auto_x", "test_foo"},
		AutoGeneratedTests: []string{"test_auto_x"},
		FailureMessages:    []string{},
	}
}

func TestLoadOrInit_Missing(t *testing.T) {
	s := newTestStore(t)

	l, err := s.LoadOrInit()
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	if l.CurrentPhase != 1 {
		t.Errorf("CurrentPhase = %d, want 1", l.CurrentPhase)
	}
	if l.History == nil || len(l.History) != 0 {
		t.Errorf("History = %v, want empty", l.History)
	}
	if l.Todo == nil || len(l.Todo) != 0 {
		t.Errorf("Todo = %v, want empty", l.Todo)
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Error("LoadOrInit must not create the file")
	}
}

func TestLoadOrInit_CorruptBootstraps(t *testing.T) {
	for name, content := range map[string]string{
		"empty":     "",
		"garbage":   "{not json",
		"truncated": `{"current_phase": 3, "history": [`,
		"bad array": `[1, 2`,
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			if err := os.WriteFile(s.Path(), []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			l, err := s.LoadOrInit()
			if err != nil {
				t.Fatalf("LoadOrInit: %v", err)
			}
			if l.CurrentPhase != 1 || len(l.History) != 0 {
				t.Errorf("expected fresh log, got phase=%d history=%d", l.CurrentPhase, len(l.History))
			}
		})
	}
}

func TestLoadOrInit_WrongShapeIsError(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte(`{"current_phase": "two", "history": []}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadOrInit(); err == nil {
		t.Fatal("expected error for mistyped document")
	}
}

func TestLoadOrInit_MissingSequencesNormalized(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte(`{"current_phase": 4}`), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := s.LoadOrInit()
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	if l.CurrentPhase != 4 {
		t.Errorf("CurrentPhase = %d, want 4", l.CurrentPhase)
	}
	if l.History == nil || l.Todo == nil {
		t.Error("expected non-nil sequences")
	}
}

func TestAppendAndSave_Sequence(t *testing.T) {
	s := newTestStore(t)

	for i, execTime := range []string{"1.00s", "2.00s", "3.00s"} {
		e, err := s.AppendAndSave(NewEntry(testResult(parser.StatusFailed), metrics(execTime)), metrics(execTime))
		if err != nil {
			t.Fatalf("AppendAndSave #%d: %v", i, err)
		}
		if want := NextUID(i); e.UID != want {
			t.Errorf("UID = %q, want %q", e.UID, want)
		}
	}

	l, err := s.LoadOrInit()
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	if len(l.History) != 3 {
		t.Fatalf("History has %d entries, want 3", len(l.History))
	}
	for i, want := range []string{"fix_001", "fix_002", "fix_003"} {
		if l.History[i].UID != want {
			t.Errorf("History[%d].UID = %q, want %q", i, l.History[i].UID, want)
		}
	}
	if got := l.PerformanceSummary.ExecutionTime; got == nil || *got != "3.00s" {
		t.Errorf("PerformanceSummary.ExecutionTime = %v, want 3.00s", got)
	}
	if _, err := os.Stat(lockPath(s.Path())); !os.IsNotExist(err) {
		t.Error("lock file should be released")
	}
}

func TestAppendAndSave_PreservesPassThroughFields(t *testing.T) {
	s := newTestStore(t)
	existing := `{
    "current_phase": 7,
    "history": [],
    "todo": ["refactor loss", {"id": 2}],
    "test_coverage_report": "82%",
    "performance_summary": {},
    "agent_notes": "keep me"
}`
	if err := os.WriteFile(s.Path(), []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.AppendAndSave(NewEntry(testResult(parser.StatusPassed), metrics("0.50s")), metrics("0.50s")); err != nil {
		t.Fatalf("AppendAndSave: %v", err)
	}

	l, err := s.LoadOrInit()
	require.NoError(t, err)
	require.Equal(t, 7, l.CurrentPhase)
	require.Equal(t, "82%", l.TestCoverageReport)
	require.Len(t, l.Todo, 2)
	require.JSONEq(t, `{"id": 2}`, string(l.Todo[1]))
	require.JSONEq(t, `"keep me"`, string(l.Extra["agent_notes"]))
	require.Len(t, l.History, 1)
	require.Equal(t, "fix_001", l.History[0].UID)
}

func TestAppendAndSave_FreeFormFieldsSurvive(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AppendAndSave(NewEntry(testResult(parser.StatusFailed), metrics("1.00s")), metrics("1.00s")); err != nil {
		t.Fatalf("AppendAndSave: %v", err)
	}

	// An agent fills in the entry using its own shapes.
	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	entry := doc["history"].([]interface{})[0].(map[string]interface{})
	entry["priority"] = 1
	entry["line"] = "42-48"
	entry["operation"] = map[string]interface{}{"kind": "replace"}
	data, err = json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path(), data, 0o644))

	if _, err := s.AppendAndSave(NewEntry(testResult(parser.StatusPassed), metrics("0.90s")), metrics("0.90s")); err != nil {
		t.Fatalf("AppendAndSave after edit: %v", err)
	}

	l, err := s.LoadOrInit()
	require.NoError(t, err)
	require.Len(t, l.History, 2)
	require.Equal(t, "1", l.History[0].Priority.String())
	require.Equal(t, "42-48", l.History[0].Line.String())
	require.JSONEq(t, `{"kind":"replace"}`, string(l.History[0].Operation))
	require.Equal(t, "fix_002", l.History[1].UID)
}

func TestAppendAndSave_DocumentLayout(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AppendAndSave(NewEntry(testResult(parser.StatusFailed), parser.PerformanceMetrics{Stdout: "<b>"}), parser.PerformanceMetrics{}); err != nil {
		t.Fatalf("AppendAndSave: %v", err)
	}
	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	text := string(data)

	require.True(t, strings.HasPrefix(text, "{\n    \"current_phase\": 1,"), "unexpected layout:\n%s", text)
	require.True(t, strings.HasSuffix(text, "}\n"))
	require.Contains(t, text, `"UID": "fix_001"`)
	require.Contains(t, text, `"execution_time_change": null`)
	require.Contains(t, text, `"stdout": "<b>"`)
	require.Contains(t, text, `"line": 0`)
	require.Contains(t, text, `"dependencies": []`)
	require.Contains(t, text, `"rollback_info": {`)
}

func TestAppendAndSave_WrongShapeNotOverwritten(t *testing.T) {
	s := newTestStore(t)
	original := []byte(`{"current_phase": 1, "history": {"oops": true}}`)
	require.NoError(t, os.WriteFile(s.Path(), original, 0o644))

	_, err := s.AppendAndSave(NewEntry(testResult(parser.StatusFailed), metrics("1.00s")), metrics("1.00s"))
	require.Error(t, err)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	require.Equal(t, original, data)
}

func TestAppendAndSave_NonObjectNotOverwritten(t *testing.T) {
	for name, content := range map[string]string{
		"array":  `[{"UID": "fix_001"}]`,
		"null":   `null`,
		"string": `"notes"`,
		"number": `42`,
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0o644))

			_, err := s.LoadOrInit()
			require.ErrorIs(t, err, ErrNotObject)

			_, err = s.AppendAndSave(NewEntry(testResult(parser.StatusFailed), metrics("1.00s")), metrics("1.00s"))
			require.ErrorIs(t, err, ErrNotObject)

			data, err := os.ReadFile(s.Path())
			require.NoError(t, err)
			require.Equal(t, content, string(data))
		})
	}
}

func TestAppendAndSave_MissingHistoryKept(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"current_phase": 4, "notes": "keep"}`), 0o644))

	e, err := s.AppendAndSave(NewEntry(testResult(parser.StatusFailed), metrics("1.00s")), metrics("1.00s"))
	require.NoError(t, err)
	require.Equal(t, "fix_001", e.UID)

	l, err := s.LoadOrInit()
	require.NoError(t, err)
	require.Equal(t, 4, l.CurrentPhase)
	require.Len(t, l.History, 1)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	require.Contains(t, string(data), `"notes": "keep"`)
}

func TestAppendAndSave_Locked(t *testing.T) {
	s := newTestStore(t)
	s.SetLockTimeout(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(lockPath(s.Path()), []byte("1\n"), 0o644))

	_, err := s.AppendAndSave(NewEntry(testResult(parser.StatusFailed), metrics("1.00s")), metrics("1.00s"))
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestAppendAndSave_StaleLockIgnored(t *testing.T) {
	s := newTestStore(t)
	s.SetLockTimeout(100 * time.Millisecond)
	lp := lockPath(s.Path())
	require.NoError(t, os.WriteFile(lp, []byte("1\n"), 0o644))
	old := time.Now().Add(-2 * staleLockAge)
	require.NoError(t, os.Chtimes(lp, old, old))

	_, err := s.AppendAndSave(NewEntry(testResult(parser.StatusFailed), metrics("1.00s")), metrics("1.00s"))
	require.NoError(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	errSummary := "Return code: 1"
	l := New()
	l.CurrentPhase = 3
	l.Todo = []json.RawMessage{json.RawMessage(`"tune lr"`)}
	l.TestCoverageReport = "coverage: 71%"
	l.Extra = map[string]json.RawMessage{"owner": json.RawMessage(`"agent"`), "rev": json.RawMessage(`12`)}
	e := NewEntry(testResult(parser.StatusFailed), metrics("1.50s"))
	e.UID = NextUID(0)
	e.Tests.Error = &errSummary
	e.Tests.FailureMessages = []string{"AssertionError: bad"}
	e.Dependencies = []string{"fix_000"}
	e.RollbackInfo = RollbackInfo{PreviousContent: "x = 1", RollbackScript: "git checkout malo.py"}
	l.History = append(l.History, e)
	l.PerformanceSummary = metrics("1.50s")

	if err := s.Save(l); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.LoadOrInit()
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	if !reflect.DeepEqual(l, got) {
		t.Errorf("round trip mismatch\n got: %+v\nwant: %+v", got, l)
	}
}

func TestNextUID(t *testing.T) {
	cases := map[int]string{0: "fix_001", 9: "fix_010", 98: "fix_099", 999: "fix_1000"}
	for n, want := range cases {
		if got := NextUID(n); got != want {
			t.Errorf("NextUID(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestWriteAtomic_CreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "fix_log.json")
	if err := WriteAtomic(path, []byte("{}\n")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "{}\n" {
		t.Errorf("unexpected content %q", data)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected temp files cleaned up, found %d entries", len(entries))
	}
}
