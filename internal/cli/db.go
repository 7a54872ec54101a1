package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/fixlog/internal/config"
	"github.com/lucasnoah/fixlog/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the Postgres run mirror",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.Migrate(cmd.Context()); err != nil {
			return err
		}
		cmd.Println("Database schema is up to date.")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate all mirror tables (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("refusing to reset without --yes")
		}
		d, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.Reset(cmd.Context()); err != nil {
			return err
		}
		cmd.Println("Database reset.")
		return nil
	},
}

var dbRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List mirrored runs for the configured fix log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		d, err := connect(cmd, cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		runs, err := d.GetFixRuns(cmd.Context(), cfg.LogPath)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			cmd.Printf("No runs recorded for %s.\n", cfg.LogPath)
			return nil
		}
		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetTitle(fmt.Sprintf("Mirrored runs for %s", cfg.LogPath))
		t.AppendHeader(table.Row{"Recorded", "UID", "Status", "Exec", "Memory", "Failures", "Run ID"})
		t.SetColumnConfigs([]table.ColumnConfig{
			{Name: "Exec", Align: text.AlignRight},
			{Name: "Memory", Align: text.AlignRight},
			{Name: "Failures", Align: text.AlignRight},
		})
		for _, r := range runs {
			t.AppendRow(table.Row{
				r.RecordedAt.Format("2006-01-02 15:04:05"), r.UID, r.PreFixStatus,
				orNone(r.ExecutionTime), orNone(r.MemoryUsage), len(r.FailureMessages), r.RunID,
			})
		}
		t.Render()
		return nil
	},
}

func openDB(cmd *cobra.Command) (*db.DB, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return connect(cmd, cfg)
}

func connect(cmd *cobra.Command, cfg *config.Config) (*db.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("no database configured (set database_url, FIXLOG_DATABASE_URL or --%s)", config.KeyDatabaseURL)
	}
	return db.Open(cmd.Context(), cfg.DatabaseURL)
}

func init() {
	dbCmd.PersistentFlags().String(config.KeyDatabaseURL, "", "Postgres URL (overrides database_url)")
	dbRunsCmd.Flags().String(config.KeyLogPath, "", "fix log whose runs to list")
	dbResetCmd.Flags().Bool("yes", false, "confirm the reset")

	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
	dbCmd.AddCommand(dbRunsCmd)
}
