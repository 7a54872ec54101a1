package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lucasnoah/fixlog/internal/fixlog"
)

// FixRun is one mirrored history entry.
type FixRun struct {
	ID                 int64
	RunID              uuid.UUID
	LogPath            string
	UID                string
	PreFixStatus       string
	ExecutionTime      *string
	MemoryUsage        *string
	TargetError        *string
	TestsError         *string
	RelatedTests       []string
	AutoGeneratedTests []string
	FailureMessages    []string
	Entry              json.RawMessage
	RecordedAt         time.Time
}

// NewFixRun flattens an appended entry into a row with a fresh run ID.
func NewFixRun(logPath string, e fixlog.Entry) (FixRun, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return FixRun{}, fmt.Errorf("marshal entry %s: %w", e.UID, err)
	}
	return FixRun{
		RunID:              uuid.New(),
		LogPath:            logPath,
		UID:                e.UID,
		PreFixStatus:       e.Tests.PreFixStatus,
		ExecutionTime:      e.Performance.ExecutionTime,
		MemoryUsage:        e.Performance.MemoryUsage,
		TargetError:        e.Performance.Error,
		TestsError:         e.Tests.Error,
		RelatedTests:       nonNil(e.Tests.RelatedTests),
		AutoGeneratedTests: nonNil(e.Tests.AutoGeneratedTests),
		FailureMessages:    nonNil(e.Tests.FailureMessages),
		Entry:              raw,
	}, nil
}

// LogFixRun inserts a fix run record.
func (d *DB) LogFixRun(ctx context.Context, r FixRun) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO fix_runs (run_id, log_path, uid, pre_fix_status, execution_time, memory_usage,
		                       target_error, tests_error, related_tests, auto_generated_tests, failure_messages, entry)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.RunID, r.LogPath, r.UID, r.PreFixStatus, r.ExecutionTime, r.MemoryUsage,
		r.TargetError, r.TestsError, r.RelatedTests, r.AutoGeneratedTests, r.FailureMessages, string(r.Entry),
	)
	if err != nil {
		return fmt.Errorf("log fix run: %w", err)
	}
	return nil
}

// RecordRun mirrors an appended entry and returns its run ID.
func (d *DB) RecordRun(ctx context.Context, logPath string, e fixlog.Entry) (uuid.UUID, error) {
	r, err := NewFixRun(logPath, e)
	if err != nil {
		return uuid.Nil, err
	}
	if err := d.LogFixRun(ctx, r); err != nil {
		return uuid.Nil, err
	}
	return r.RunID, nil
}

// GetFixRuns returns mirrored runs for a log path, oldest first.
func (d *DB) GetFixRuns(ctx context.Context, logPath string) ([]FixRun, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, run_id, log_path, uid, pre_fix_status, execution_time, memory_usage,
		        target_error, tests_error, related_tests, auto_generated_tests, failure_messages, entry, recorded_at
		 FROM fix_runs WHERE log_path = $1 ORDER BY id`,
		logPath,
	)
	if err != nil {
		return nil, fmt.Errorf("get fix runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (FixRun, error) {
		var r FixRun
		var entry []byte
		err := row.Scan(&r.ID, &r.RunID, &r.LogPath, &r.UID, &r.PreFixStatus, &r.ExecutionTime, &r.MemoryUsage,
			&r.TargetError, &r.TestsError, &r.RelatedTests, &r.AutoGeneratedTests, &r.FailureMessages, &entry, &r.RecordedAt)
		r.Entry = entry
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan fix runs: %w", err)
	}
	return runs, nil
}

// GetLatestFixRun returns the most recent run for a log path, or nil if there is none.
func (d *DB) GetLatestFixRun(ctx context.Context, logPath string) (*FixRun, error) {
	runs, err := d.GetFixRuns(ctx, logPath)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[len(runs)-1], nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
