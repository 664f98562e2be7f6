package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/labelbot/labelbot/pkg/report"
	"github.com/labelbot/labelbot/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var dbPath string

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the run history database",
}

// historyPath returns --dbpath or the configured output.history_db.
func historyPath() string {
	if dbPath != "" {
		return dbPath
	}
	if p := viper.GetString("output.history_db"); p != "" {
		return p
	}
	return "labelbot.sqlite"
}

func openHistory() (*storage.DB, error) {
	path := historyPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("database file not found: %s", path)
	}
	return storage.Open(path)
}

// shellCmd represents the shell command
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive shell to the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := historyPath()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("database file not found: %s", path)
		}

		// Check if sqlite3 is in PATH
		sqlitePath, err := exec.LookPath("sqlite3")
		if err != nil {
			return fmt.Errorf("sqlite3 command not found in your PATH. Please install it to use the db shell")
		}

		// Print schema first
		fmt.Println("--> Database schema:")
		schemaCmd := exec.Command(sqlitePath, path, ".schema")
		schemaCmd.Stdout = os.Stdout
		schemaCmd.Stderr = os.Stderr
		if err := schemaCmd.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: couldn't retrieve schema: %v\n", err)
		}
		fmt.Println("\n--> Starting interactive shell... (Ctrl+D to exit)")

		c := exec.Command(sqlitePath, path)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr

		return c.Run()
	},
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints how many items were approved, deferred or failed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openHistory()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(context.Background())
		if err != nil {
			return err
		}

		if len(stats) == 0 {
			fmt.Println("No data in the database to generate stats.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "ACTION\tOUTCOME\tITEMS\tRUNS\t")

		var total int
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t\n", s.Action, report.Outcome(s.Action), s.Count, s.Runs)
			total += s.Count
		}

		fmt.Fprintln(w, " \t \t \t \t")
		fmt.Fprintf(w, "TOTAL\t \t%d\t \t\n", total)

		w.Flush()

		return nil
	},
}

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Lists recent runs, newest first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		db, err := openHistory()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.ListRuns(context.Background(), limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tUSER\tQUEUE\tPROCESSED\tAPPROVED\tDEFERRED\tFAILED\tSTOP")
		for _, r := range runs {
			duration := "running"
			if !r.FinishedAt.IsZero() {
				duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
				r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), duration, r.Username, r.Queue,
				r.Processed, r.Approved, r.Deferred, r.Failed, r.StopReason)
		}
		return w.Flush()
	},
}

// recordsCmd represents the records command
var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Prints processed items as delimited lines.",
	Long: `Prints processed items, oldest first.

Output flags: t timestamp, l link, m match, a action, o outcome, p pattern, d platform, r run id.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFlags, _ := cmd.Flags().GetString("output")
		delimiter, _ := cmd.Flags().GetString("delimiter")
		if err := report.ValidateFlags(outputFlags); err != nil {
			return err
		}

		opts := storage.ListOptions{}
		opts.RunID, _ = cmd.Flags().GetString("run")
		opts.Action, _ = cmd.Flags().GetString("action")
		opts.Limit, _ = cmd.Flags().GetInt("limit")
		if since, _ := cmd.Flags().GetString("since"); since != "" {
			t, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			opts.Since = t
		}

		db, err := openHistory()
		if err != nil {
			return err
		}
		defer db.Close()

		records, err := db.ListRecords(context.Background(), opts)
		if err != nil {
			return err
		}
		return report.PrintRecords(os.Stdout, records, outputFlags, delimiter)
	},
}

// parseSince accepts a duration back from now ("24h") or an RFC 3339 time.
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: use a duration like 24h or a date", s)
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(shellCmd)
	dbCmd.AddCommand(statsCmd)
	dbCmd.AddCommand(runsCmd)
	dbCmd.AddCommand(recordsCmd)
	dbCmd.PersistentFlags().StringVar(&dbPath, "dbpath", "", "Path to SQLite DB file (default is output.history_db)")

	runsCmd.Flags().IntP("limit", "n", 20, "Number of runs to list")

	recordsCmd.Flags().StringP("output", "o", report.DefaultFlags, "Output flags")
	recordsCmd.Flags().StringP("delimiter", "d", " ", "Delimiter character to use for output")
	recordsCmd.Flags().String("run", "", "Only items of this run ID")
	recordsCmd.Flags().StringP("action", "a", "all", "Only items with this action (approve, defer or a failure kind)")
	recordsCmd.Flags().String("since", "", "Only items after this time (duration like 24h, RFC 3339 or YYYY-MM-DD)")
	recordsCmd.Flags().IntP("limit", "n", 0, "Maximum number of items (0 = all)")
}
