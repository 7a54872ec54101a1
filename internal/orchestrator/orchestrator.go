package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucasnoah/fixlog/internal/fixlog"
	"github.com/lucasnoah/fixlog/internal/parser"
	"github.com/lucasnoah/fixlog/internal/runner"
)

// ErrNoLogPath is returned when a request names no log file.
var ErrNoLogPath = errors.New("log path not provided")

// State is a step of a run. Runs move through the states in order and
// never branch or retry.
type State string

const (
	StateRunTarget State = "run_target"
	StateRunTests  State = "run_tests"
	StateParse     State = "parse"
	StateLoadLog   State = "load_log"
	StateAppend    State = "append"
	StatePersist   State = "persist"
	StateMirror    State = "mirror"
	StateDone      State = "done"
)

// Recorder mirrors appended entries somewhere other than the log file.
type Recorder interface {
	RecordRun(ctx context.Context, logPath string, e fixlog.Entry) (uuid.UUID, error)
}

// Request names the two commands to run and the log to append to.
type Request struct {
	Target  runner.Spec
	Tests   runner.Spec
	LogPath string
}

// Report is everything a run produced.
type Report struct {
	Target      runner.Outcome
	Tests       runner.Outcome
	Performance parser.PerformanceMetrics
	TestResult  parser.TestRunResult
	// Entry is the appended record; nil when persisting failed.
	Entry      *fixlog.Entry
	PersistErr error
	RunID      uuid.UUID
	MirrorErr  error
	States     []State
}

// TestsPassed reports whether the test suite was classified as passing.
func (r *Report) TestsPassed() bool {
	return r.TestResult.Passed()
}

// Orchestrator runs the target and its tests and records the result.
type Orchestrator struct {
	runner      *runner.Runner
	tests       *parser.TestParser
	recorder    Recorder
	lockTimeout time.Duration
	logger      *zap.Logger
}

// New creates an Orchestrator.
func New(r *runner.Runner, tests *parser.TestParser, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if r == nil {
		r = runner.New(nil, logger)
	}
	if tests == nil {
		tests = parser.NewTestParser(parser.TestOptions{})
	}
	return &Orchestrator{
		runner:      r,
		tests:       tests,
		lockTimeout: fixlog.DefaultLockTimeout,
		logger:      logger,
	}
}

// SetRecorder enables mirroring of appended entries.
func (o *Orchestrator) SetRecorder(rec Recorder) {
	o.recorder = rec
}

// SetLockTimeout overrides how long to wait for a concurrent writer.
func (o *Orchestrator) SetLockTimeout(d time.Duration) {
	if d > 0 {
		o.lockTimeout = d
	}
}

// Execute performs one run. Subprocess failures are recorded, not returned;
// a persistence failure is logged and reported on the Report. The error
// result is reserved for invalid requests.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Report, error) {
	if req.LogPath == "" {
		return nil, ErrNoLogPath
	}
	rep := &Report{}
	step := func(s State) {
		rep.States = append(rep.States, s)
		o.logger.Debug("run state", zap.String("state", string(s)))
	}

	step(StateRunTarget)
	rep.Target = o.runner.Run(ctx, req.Target)

	step(StateRunTests)
	rep.Tests = o.runner.Run(ctx, req.Tests)

	step(StateParse)
	rep.Performance = parser.ExtractPerformance(rep.Target)
	rep.TestResult = o.tests.Parse(rep.Tests)
	o.logger.Info("run parsed",
		zap.String("pre_fix_status", rep.TestResult.PreFixStatus),
		zap.Int("related_tests", len(rep.TestResult.RelatedTests)),
		zap.Int("failure_messages", len(rep.TestResult.FailureMessages)),
		zap.Stringp("execution_time", rep.Performance.ExecutionTime),
		zap.Stringp("memory_usage", rep.Performance.MemoryUsage),
	)

	// Load, append and persist happen under one lock inside the store.
	step(StateLoadLog)
	step(StateAppend)
	step(StatePersist)
	store := fixlog.NewStore(req.LogPath, o.logger)
	store.SetLockTimeout(o.lockTimeout)
	entry, err := store.AppendAndSave(fixlog.NewEntry(rep.TestResult, rep.Performance), rep.Performance)
	if err != nil {
		rep.PersistErr = err
		o.logger.Error("could not save fix log",
			zap.String("path", req.LogPath),
			zap.Error(err),
		)
	} else {
		rep.Entry = entry
	}

	if o.recorder != nil && rep.Entry != nil {
		step(StateMirror)
		runID, err := o.recorder.RecordRun(ctx, req.LogPath, *rep.Entry)
		if err != nil {
			rep.MirrorErr = err
			o.logger.Error("could not mirror run", zap.String("uid", rep.Entry.UID), zap.Error(err))
		} else {
			rep.RunID = runID
			o.logger.Info("run mirrored", zap.String("uid", rep.Entry.UID), zap.String("run_id", runID.String()))
		}
	}

	step(StateDone)
	return rep, nil
}
