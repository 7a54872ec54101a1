package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lucasnoah/fixlog/internal/fixlog"
	"github.com/lucasnoah/fixlog/internal/parser"
	"github.com/lucasnoah/fixlog/internal/runner"
)

// --- Mocks ---

type mockCmdResult struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

// mockCmd answers by program name.
type mockCmd struct {
	results map[string]mockCmdResult
	calls   [][]string
}

func (m *mockCmd) Run(ctx context.Context, dir string, env []string, argv []string) (string, string, int, error) {
	m.calls = append(m.calls, argv)
	r := m.results[argv[0]]
	return r.stdout, r.stderr, r.exitCode, r.err
}

type mockRecorder struct {
	entries []fixlog.Entry
	err     error
}

func (m *mockRecorder) RecordRun(ctx context.Context, logPath string, e fixlog.Entry) (uuid.UUID, error) {
	if m.err != nil {
		return uuid.Nil, m.err
	}
	m.entries = append(m.entries, e)
	return uuid.New(), nil
}

const (
	targetStdout = "Epoch 1000, Error: 0.01\nExecution time: 1.5 seconds\nMemory usage: 128 MB\n"
	passingTests = "collected 2 items\n\ntest_malo.py::test_sigmoid PASSED\ntest_malo.py::test_auto_xor PASSED\n\n===== 2 passed in 0.31s =====\n"
	failingTests = "collected 1 item\nFAILED test_malo.py::test_sigmoid: AssertionError: bad\n===== 1 failed in 0.12s =====\n"
)

func request(t *testing.T) Request {
	t.Helper()
	return Request{
		Target:  runner.Spec{Name: "target", Command: []string{"python3", "malo.py"}},
		Tests:   runner.Spec{Name: "tests", Command: []string{"pytest", "test_malo.py"}},
		LogPath: filepath.Join(t.TempDir(), "fix_log.json"),
	}
}

func newOrchestrator(cmd runner.CommandRunner, opts parser.TestOptions) *Orchestrator {
	return New(runner.New(cmd, nil), parser.NewTestParser(opts), nil)
}

func TestExecute_HappyPath(t *testing.T) {
	cmd := &mockCmd{results: map[string]mockCmdResult{
		"python3": {stdout: targetStdout},
		"pytest":  {stdout: passingTests},
	}}
	o := newOrchestrator(cmd, parser.TestOptions{})
	req := request(t)

	rep, err := o.Execute(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, rep.PersistErr)
	require.True(t, rep.TestsPassed())
	require.NotNil(t, rep.Entry)
	require.Equal(t, "fix_001", rep.Entry.UID)
	require.Equal(t, "1.50s", *rep.Performance.ExecutionTime)
	require.Equal(t, "128.00MB", *rep.Performance.MemoryUsage)
	require.Equal(t, []string{"test_auto_xor", "test_malo", "test_sigmoid"}, rep.TestResult.RelatedTests)
	require.Equal(t, []string{"test_auto_xor"}, rep.TestResult.AutoGeneratedTests)
	require.Equal(t, []State{StateRunTarget, StateRunTests, StateParse, StateLoadLog, StateAppend, StatePersist, StateDone}, rep.States)

	require.Len(t, cmd.calls, 2)
	require.Equal(t, []string{"python3", "malo.py"}, cmd.calls[0], "target runs first")
	require.Equal(t, []string{"pytest", "test_malo.py"}, cmd.calls[1])

	l, err := fixlog.NewStore(req.LogPath, nil).LoadOrInit()
	require.NoError(t, err)
	require.Len(t, l.History, 1)
	require.Equal(t, parser.StatusPassed, l.History[0].Tests.PreFixStatus)
	require.Equal(t, "1.50s", *l.PerformanceSummary.ExecutionTime)
}

func TestExecute_FailuresFlowForward(t *testing.T) {
	cmd := &mockCmd{results: map[string]mockCmdResult{
		"python3": {stdout: "Execution time: 0.2 seconds\n", stderr: "Traceback", exitCode: 1},
		"pytest":  {stdout: failingTests, exitCode: 1},
	}}
	o := newOrchestrator(cmd, parser.TestOptions{StatusRule: parser.StatusRuleStrict})

	rep, err := o.Execute(context.Background(), request(t))
	require.NoError(t, err)
	require.NoError(t, rep.PersistErr)
	require.False(t, rep.TestsPassed())
	require.Equal(t, "Return code: 1", *rep.Performance.Error)
	require.Equal(t, "0.20s", *rep.Performance.ExecutionTime)
	require.Equal(t, "Return code: 1", *rep.TestResult.Error)
	require.Equal(t, []string{"AssertionError: bad"}, rep.TestResult.FailureMessages)
	require.Equal(t, "fix_001", rep.Entry.UID)
}

func TestExecute_LaunchFailure(t *testing.T) {
	cmd := &mockCmd{results: map[string]mockCmdResult{
		"python3": {exitCode: -1, err: errors.New("exec: \"python3\": executable file not found in $PATH")},
		"pytest":  {exitCode: -1, err: errors.New("exec: \"pytest\": executable file not found in $PATH")},
	}}
	o := newOrchestrator(cmd, parser.TestOptions{})

	rep, err := o.Execute(context.Background(), request(t))
	require.NoError(t, err)
	require.Equal(t, runner.FailureLaunch, rep.Target.Failure)
	require.Equal(t, runner.FailureLaunch, rep.Tests.Failure)
	require.Contains(t, *rep.Performance.Error, "Launch failure")
	require.Equal(t, parser.StatusFailed, rep.TestResult.PreFixStatus)
	require.NotNil(t, rep.Entry, "a run that could not start is still recorded")
}

func TestExecute_SequentialRunsAppend(t *testing.T) {
	cmd := &mockCmd{results: map[string]mockCmdResult{
		"python3": {stdout: targetStdout},
		"pytest":  {stdout: passingTests},
	}}
	o := newOrchestrator(cmd, parser.TestOptions{})
	req := request(t)

	for i := 0; i < 3; i++ {
		rep, err := o.Execute(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, fixlog.NextUID(i), rep.Entry.UID)
	}
}

func TestExecute_PersistFailureIsReported(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cmd := &mockCmd{results: map[string]mockCmdResult{"python3": {}, "pytest": {}}}
	o := New(runner.New(cmd, nil), nil, zap.New(core))

	// A directory where the file should be makes the write fail.
	req := request(t)
	require.NoError(t, os.MkdirAll(req.LogPath, 0o755))

	rep, err := o.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Error(t, rep.PersistErr)
	require.Nil(t, rep.Entry)
	require.Equal(t, StateDone, rep.States[len(rep.States)-1])
	require.Equal(t, 1, logs.FilterMessage("could not save fix log").Len())
}

func TestExecute_Mirror(t *testing.T) {
	cmd := &mockCmd{results: map[string]mockCmdResult{"python3": {stdout: targetStdout}, "pytest": {stdout: passingTests}}}
	rec := &mockRecorder{}
	o := newOrchestrator(cmd, parser.TestOptions{})
	o.SetRecorder(rec)

	rep, err := o.Execute(context.Background(), request(t))
	require.NoError(t, err)
	require.NoError(t, rep.MirrorErr)
	require.NotEqual(t, uuid.Nil, rep.RunID)
	require.Len(t, rec.entries, 1)
	require.Equal(t, "fix_001", rec.entries[0].UID)
	require.Contains(t, rep.States, StateMirror)
}

func TestExecute_MirrorFailureIsNotFatal(t *testing.T) {
	cmd := &mockCmd{results: map[string]mockCmdResult{"python3": {}, "pytest": {}}}
	o := newOrchestrator(cmd, parser.TestOptions{})
	o.SetRecorder(&mockRecorder{err: errors.New("connection refused")})
	req := request(t)

	rep, err := o.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Error(t, rep.MirrorErr)
	require.NoError(t, rep.PersistErr)

	l, err := fixlog.NewStore(req.LogPath, nil).LoadOrInit()
	require.NoError(t, err)
	require.Len(t, l.History, 1)
}

func TestExecute_NoLogPath(t *testing.T) {
	o := newOrchestrator(&mockCmd{}, parser.TestOptions{})
	_, err := o.Execute(context.Background(), Request{})
	require.ErrorIs(t, err, ErrNoLogPath)
}
