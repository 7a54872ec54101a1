package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/fixlog/internal/analytics"
	"github.com/lucasnoah/fixlog/internal/config"
	"github.com/lucasnoah/fixlog/internal/fixlog"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize pass rate, metrics and recurring failures across the fix log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		top, _ := cmd.Flags().GetInt("top")

		l, err := readLog(cmd)
		if err != nil {
			return err
		}
		s := analytics.Summarize(l, top)

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}
		printSummary(cmd.OutOrStdout(), s)
		return nil
	},
}

// readLog loads the configured fix log without creating it.
func readLog(cmd *cobra.Command) (*fixlog.Log, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return fixlog.NewStore(cfg.LogPath, nil).LoadOrInit()
}

func printSummary(w io.Writer, s analytics.Summary) {
	fmt.Fprintf(w, "Entries:       %d (%d passed, %d failed, %.1f%% pass rate)\n", s.Entries, s.Passed, s.Failed, s.PassRate)
	fmt.Fprintf(w, "Target errors: %d\n", s.TargetErrors)
	printMetric(w, "Execution time", "s", s.ExecutionTime)
	printMetric(w, "Memory usage", "MB", s.MemoryUsage)

	if len(s.TopFailures) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetTitle("Most frequent failures")
		t.AppendHeader(table.Row{"Count", "Message"})
		t.SetColumnConfigs([]table.ColumnConfig{
			{Name: "Count", Align: text.AlignRight},
			{Name: "Message", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
		})
		for _, f := range s.TopFailures {
			t.AppendRow(table.Row{f.Count, f.Message})
		}
		t.Render()
	}
	if len(s.Tests) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetTitle("Tests")
		t.AppendHeader(table.Row{"Test", "Runs", "Failed", "Fail %", "Auto"})
		t.SetColumnConfigs([]table.ColumnConfig{
			{Name: "Runs", Align: text.AlignRight},
			{Name: "Failed", Align: text.AlignRight},
			{Name: "Fail %", Align: text.AlignRight},
		})
		for _, tt := range s.Tests {
			auto := ""
			if tt.AutoGenerated {
				auto = "yes"
			}
			t.AppendRow(table.Row{tt.Test, tt.Runs, tt.FailedRuns, fmt.Sprintf("%.1f", tt.FailRate), auto})
		}
		t.Render()
	}
}

func printMetric(w io.Writer, name, unit string, m analytics.MetricStats) {
	if m.Count == 0 {
		fmt.Fprintf(w, "%-14s n/a\n", name+":")
		return
	}
	fmt.Fprintf(w, "%-14s last=%.2f%s avg=%.2f%s p50=%.2f%s p95=%.2f%s (n=%d)\n",
		name+":", m.Last, unit, m.Avg, unit, m.P50, unit, m.P95, unit, m.Count)
}

func init() {
	statsCmd.Flags().String(config.KeyLogPath, "", "fix log file to read")
	statsCmd.Flags().Bool("json", false, "print the summary as JSON")
	statsCmd.Flags().Int("top", analytics.DefaultTopFailures, "number of failure messages to show")
}
