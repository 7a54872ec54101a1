package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/fixlog/internal/config"
	"github.com/lucasnoah/fixlog/internal/db"
	"github.com/lucasnoah/fixlog/internal/metrics"
	"github.com/lucasnoah/fixlog/internal/orchestrator"
	"github.com/lucasnoah/fixlog/internal/parser"
	"github.com/lucasnoah/fixlog/internal/runner"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the target and its tests, then append an entry to the fix log",
	Long: `Run the target program, then its test suite, and append one entry to the
fix log describing what happened. A failing target or test suite is recorded,
not treated as an error; use --fail-on-test-failure to exit non-zero when the
tests did not pass.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		failOnTests, _ := cmd.Flags().GetBool("fail-on-test-failure")
		strictPersist, _ := cmd.Flags().GetBool("strict-persist")

		cfg, err := validConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := newLogger(cmd, cfg)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		rule, err := parser.ParseStatusRule(cfg.StatusRule)
		if err != nil {
			return err
		}
		o := orchestrator.New(
			runner.New(&runner.ExecRunner{}, logger),
			parser.NewTestParser(parser.TestOptions{
				StatusRule:     rule,
				TestPrefix:     cfg.TestPrefix,
				AutoTestPrefix: cfg.AutoTestPrefix,
			}),
			logger,
		)
		o.SetLockTimeout(cfg.LockTimeoutDuration())

		if cfg.DatabaseURL != "" {
			d, err := openMirror(cmd, cfg.DatabaseURL, logger)
			if err == nil {
				defer d.Close()
				o.SetRecorder(d)
			}
		}

		rep, err := o.Execute(cmd.Context(), buildRequest(cfg))
		if err != nil {
			return err
		}
		printReport(cmd.OutOrStdout(), cfg.LogPath, rep)

		if cfg.MetricsFile != "" {
			m := metrics.New()
			m.Record(rep, time.Now())
			if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
				logger.Warn("could not write metrics", zap.Error(err))
			}
		}

		if rep.PersistErr != nil && strictPersist {
			return fmt.Errorf("save fix log: %w", rep.PersistErr)
		}
		if failOnTests && !rep.TestsPassed() {
			return fmt.Errorf("tests did not pass")
		}
		return nil
	},
}

func buildRequest(cfg *config.Config) orchestrator.Request {
	return orchestrator.Request{
		Target: runner.Spec{
			Name:    "target",
			Command: cfg.Target.Command,
			Dir:     cfg.Workdir,
			Env:     cfg.Env,
			Timeout: cfg.Target.TimeoutDuration(runner.DefaultTimeout),
		},
		Tests: runner.Spec{
			Name:    "tests",
			Command: cfg.Tests.Command,
			Dir:     cfg.Workdir,
			Env:     cfg.Env,
			Timeout: cfg.Tests.TimeoutDuration(runner.DefaultTimeout),
		},
		LogPath: cfg.LogPath,
	}
}

// openMirror connects to the run mirror. A database that cannot be reached
// only disables mirroring for this run.
func openMirror(cmd *cobra.Command, url string, logger *zap.Logger) (*db.DB, error) {
	d, err := db.Open(cmd.Context(), url)
	if err != nil {
		logger.Warn("run mirror disabled", zap.Error(err))
		return nil, err
	}
	if err := d.Migrate(cmd.Context()); err != nil {
		d.Close()
		logger.Warn("run mirror disabled", zap.Error(err))
		return nil, err
	}
	return d, nil
}

func printReport(w io.Writer, logPath string, rep *orchestrator.Report) {
	fmt.Fprintf(w, "[%s] target %s (%s)\n", statusIcon(rep.Target.Succeeded()), outcomeSummary(rep.Target), rep.Target.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "       execution time: %s, memory usage: %s\n",
		orNone(rep.Performance.ExecutionTime), orNone(rep.Performance.MemoryUsage))

	res := rep.TestResult
	fmt.Fprintf(w, "[%s] tests %s (%s)\n", statusIcon(res.Passed()), res.PreFixStatus, rep.Tests.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "       %d related, %d auto-generated, %d failure message(s)\n",
		len(res.RelatedTests), len(res.AutoGeneratedTests), len(res.FailureMessages))
	for _, msg := range res.FailureMessages {
		fmt.Fprintf(w, "       - %s\n", msg)
	}
	if res.Error != nil {
		fmt.Fprintf(w, "       %s\n", *res.Error)
	}

	if rep.PersistErr != nil {
		fmt.Fprintf(w, "Could not save %s: %v\n", logPath, rep.PersistErr)
		return
	}
	fmt.Fprintf(w, "Recorded %s in %s\n", rep.Entry.UID, logPath)
	if rep.MirrorErr == nil && rep.RunID != uuid.Nil {
		fmt.Fprintf(w, "Mirrored as run %s\n", rep.RunID)
	}
}

func statusIcon(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}

func outcomeSummary(o runner.Outcome) string {
	if s := o.Summary(); s != "" {
		return s
	}
	return "Return code: 0"
}

func orNone(s *string) string {
	if s == nil {
		return "n/a"
	}
	return *s
}

func init() {
	f := runCmd.Flags()
	f.String(config.KeyTarget, "", "target command (overrides target.command)")
	f.String(config.KeyTests, "", "test command (overrides tests.command)")
	f.String(config.KeyTargetTimeout, "", "target timeout, e.g. 5m")
	f.String(config.KeyTestsTimeout, "", "test suite timeout, e.g. 10m")
	f.String(config.KeyWorkdir, "", "working directory for both commands")
	f.String(config.KeyLogPath, "", "fix log file to append to")
	f.String(config.KeyLockTimeout, "", "how long to wait for another writer of the fix log")
	f.String(config.KeyStatusRule, "", "test status rule (last-line, strict)")
	f.String(config.KeyTestPrefix, "", "test identifier prefix")
	f.String(config.KeyAutoTestPrefix, "", "auto-generated test identifier prefix")
	f.String(config.KeyDatabaseURL, "", "Postgres URL to mirror runs into")
	f.String(config.KeyMetricsFile, "", "write Prometheus textfile metrics for the run to this path")
	f.Bool("fail-on-test-failure", false, "exit non-zero when the tests did not pass")
	f.Bool("strict-persist", false, "exit non-zero when the fix log could not be saved")
}
