package cli

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Fuabioo/jsonmerge/internal/audit"
	"github.com/Fuabioo/jsonmerge/internal/config"
	"github.com/Fuabioo/jsonmerge/internal/pathutil"
)

// resolveDBPath returns the audit database path from the --db flag, the
// config file, or the default, in that order.
func resolveDBPath(cmd *cobra.Command) (string, error) {
	if dbPath, err := cmd.Flags().GetString("db"); err == nil && dbPath != "" {
		return pathutil.Resolve(dbPath), nil
	}
	e, err := loadEnv(cmd)
	if err != nil {
		return "", err
	}
	return e.auditDBPath(), nil
}

// openAuditDBReadOnly opens an existing audit DB for read-only queries.
// Returns a clear error if the DB doesn't exist.
func openAuditDBReadOnly(cmd *cobra.Command) (*sql.DB, string, error) {
	dbPath, err := resolveDBPath(cmd)
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, "", fmt.Errorf("audit database not found at %s (set JSONMERGE_AUDIT=1 or audit.enabled to record runs)", dbPath)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audit db %q: %w", dbPath, err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("set busy_timeout on audit db %q: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("connect audit db %q: %w", dbPath, err)
	}
	return db, dbPath, nil
}

// openAuditDBWrite opens (or creates) the audit DB for write operations.
// It returns the underlying *sql.DB, a cleanup function, and any error.
func openAuditDBWrite(cmd *cobra.Command) (*sql.DB, func(), error) {
	dbPath, err := resolveDBPath(cmd)
	if err != nil {
		return nil, nil, err
	}
	a, err := audit.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return a.DB(), func() { _ = a.Close() }, nil
}

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the merge run history",
		Args:  usageArgs(cobra.NoArgs),
	}
	cmd.PersistentFlags().String("db", "", "path to audit database (default: auto-detected)")
	cmd.AddCommand(
		newAuditListCmd(),
		newAuditShowCmd(),
		newAuditTailCmd(),
		newAuditPruneCmd(),
		newAuditStatsCmd(),
		newAuditDBPathCmd(),
		newAuditArchivesCmd(),
	)
	return cmd
}

func newAuditListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List merge runs",
		Args:  usageArgs(cobra.NoArgs),
		RunE:  runAuditList,
	}
	cmd.Flags().Int("limit", 20, "maximum number of entries")
	cmd.Flags().Int("offset", 0, "skip N entries")
	cmd.Flags().String("tool", "", "filter by tool (build-manifest, merge-json)")
	cmd.Flags().String("outcome", "", "filter by outcome (ok, error)")
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runAuditList(cmd *cobra.Command, _ []string) error {
	db, dbPath, err := openAuditDBReadOnly(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return fmt.Errorf("invalid --limit: %w", err)
	}
	offset, err := cmd.Flags().GetInt("offset")
	if err != nil {
		return fmt.Errorf("invalid --offset: %w", err)
	}
	tool, err := cmd.Flags().GetString("tool")
	if err != nil {
		return fmt.Errorf("invalid --tool: %w", err)
	}
	outcome, err := cmd.Flags().GetString("outcome")
	if err != nil {
		return fmt.Errorf("invalid --outcome: %w", err)
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	runs, err := audit.ListRuns(db, limit, offset, tool, outcome)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if asJSON {
		return printJSON(cmd.OutOrStdout(), runs)
	}
	printRunTable(cmd, runs, dbPath)
	return nil
}

func newAuditShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one merge run and its inputs",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE:  runAuditShow,
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runAuditShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return usageError(fmt.Errorf("invalid run ID %q: %w", args[0], err))
	}

	db, _, err := openAuditDBReadOnly(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	run, err := audit.GetRun(db, id)
	if err != nil {
		return fmt.Errorf("get run %d: %w", id, err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, run)
	}

	fmt.Fprintf(out, "Run #%d\n", run.ID)
	fmt.Fprintf(out, "  Timestamp:  %s\n", run.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(out, "  Tool:       %s\n", run.Tool)
	if run.Scope != "" {
		fmt.Fprintf(out, "  Scope:      %s\n", run.Scope)
	}
	fmt.Fprintf(out, "  Output:     %s\n", run.Output)
	fmt.Fprintf(out, "  Inputs:     %d\n", run.InputCount)
	fmt.Fprintf(out, "  Keys:       %d\n", run.KeyCount)
	fmt.Fprintf(out, "  Outcome:    %s\n", run.Outcome)
	if run.Kind != "" {
		fmt.Fprintf(out, "  Kind:       %s\n", run.Kind)
	}
	if run.Reason != "" {
		fmt.Fprintf(out, "  Reason:     %s\n", run.Reason)
	}
	fmt.Fprintf(out, "  Duration:   %dms\n", run.DurationMs)

	if len(run.Inputs) > 0 {
		fmt.Fprintf(out, "\n  Inputs:\n")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "  IDX\tPATH\tKEYS\tOUTCOME\tERROR")
		for _, in := range run.Inputs {
			_, _ = fmt.Fprintf(w, "  %d\t%s\t%d\t%s\t%s\n",
				in.InputIndex, in.Path, in.KeyCount, in.Outcome, shorten(in.Error, 60))
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush tabwriter: %w", err)
		}
	}

	return nil
}

func newAuditTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the last N merge runs",
		Args:  usageArgs(cobra.NoArgs),
		RunE:  runAuditTail,
	}
	cmd.Flags().Int("n", 10, "number of entries")
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runAuditTail(cmd *cobra.Command, _ []string) error {
	db, dbPath, err := openAuditDBReadOnly(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	n, err := cmd.Flags().GetInt("n")
	if err != nil {
		return fmt.Errorf("invalid --n: %w", err)
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	runs, err := audit.Tail(db, n)
	if err != nil {
		return fmt.Errorf("tail: %w", err)
	}

	if asJSON {
		return printJSON(cmd.OutOrStdout(), runs)
	}
	printRunTable(cmd, runs, dbPath)
	return nil
}

func newAuditPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old merge runs",
		Args:  usageArgs(cobra.NoArgs),
		RunE:  runAuditPrune,
	}
	cmd.Flags().String("older-than", "", "delete entries older than duration (e.g., 7d, 24h, 30d)")
	return cmd
}

func runAuditPrune(cmd *cobra.Command, _ []string) error {
	olderThan, err := cmd.Flags().GetString("older-than")
	if err != nil {
		return fmt.Errorf("invalid --older-than: %w", err)
	}
	if olderThan == "" {
		return usageError(errors.New(`required flag "older-than" not set`))
	}
	dur, err := config.ParseDuration(olderThan)
	if err != nil {
		return usageError(fmt.Errorf("invalid duration %q: %w", olderThan, err))
	}

	db, cleanup, err := openAuditDBWrite(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	count, err := audit.Prune(db, dur)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d merge run(s).\n", count)
	return nil
}

func newAuditStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show audit statistics",
		Args:  usageArgs(cobra.NoArgs),
		RunE:  runAuditStats,
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runAuditStats(cmd *cobra.Command, _ []string) error {
	db, _, err := openAuditDBReadOnly(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	stats, err := audit.Stats(db)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, stats)
	}

	fmt.Fprintf(out, "Total runs:     %d\n", stats.TotalRuns)
	fmt.Fprintf(out, "Avg duration:   %.1fms\n", stats.AvgDurationMs)

	if stats.TotalRuns > 0 {
		fmt.Fprintf(out, "Oldest entry:   %s\n", stats.OldestEntry.Format(time.RFC3339))
		fmt.Fprintf(out, "Newest entry:   %s\n", stats.NewestEntry.Format(time.RFC3339))
	}

	printCounts(out, "By outcome", stats.CountByOutcome)
	printCounts(out, "By tool", stats.CountByTool)
	return nil
}

func printCounts(out io.Writer, title string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s:\n", title)
	for k, n := range counts {
		fmt.Fprintf(out, "  %-16s %d\n", k, n)
	}
}

func newAuditDBPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "db-path",
		Short: "Print the audit database path",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, err := resolveDBPath(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dbPath)
			return nil
		},
	}
}

func newAuditArchivesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archives",
		Short: "List audit archive files",
		Args:  usageArgs(cobra.NoArgs),
		RunE:  runAuditArchives,
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func runAuditArchives(cmd *cobra.Command, _ []string) error {
	dbPath, err := resolveDBPath(cmd)
	if err != nil {
		return err
	}
	archiveDir := filepath.Join(filepath.Dir(dbPath), "archives")

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return fmt.Errorf("invalid --json: %w", err)
	}

	archives, err := audit.ListArchives(archiveDir)
	if err != nil {
		return fmt.Errorf("list archives: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(archives) == 0 {
		fmt.Fprintln(out, "No archives found.")
		return nil
	}

	if asJSON {
		return printJSON(out, archives)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tTOOL\tSIZE\tDATE")
	for _, a := range archives {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			a.Name,
			a.Tool,
			formatSize(a.Size),
			a.ModTime.Format(time.RFC3339),
		)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush tabwriter: %w", err)
	}
	return nil
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
	)
	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1fMB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1fKB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}

func shorten(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// printRunTable outputs merge runs in a tabwriter table. When any failed run
// has a reason, a hint on reading the untruncated reasons goes to stderr.
func printRunTable(cmd *cobra.Command, runs []audit.RunRecord, dbPath string) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTIMESTAMP\tTOOL\tSCOPE\tINPUTS\tKEYS\tOUTCOME\tREASON\tDURATION")

	hasReasonedFailure := false
	for _, r := range runs {
		if r.Outcome != audit.OutcomeOK && r.Reason != "" {
			hasReasonedFailure = true
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%s\t%s\t%dms\n",
			r.ID,
			r.Timestamp.Format(time.RFC3339),
			r.Tool,
			r.Scope,
			r.InputCount,
			r.KeyCount,
			r.Outcome,
			shorten(r.Reason, 40),
			r.DurationMs,
		)
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: flush table: %v\n", cmd.Root().Name(), err)
	}

	if hasReasonedFailure {
		fmt.Fprintf(cmd.ErrOrStderr(),
			"\nTip: to see full failure reasons, run:\n  sqlite3 %s \"SELECT id, error_kind, reason FROM merge_runs WHERE outcome != 'ok' ORDER BY id DESC LIMIT %d\"\n",
			dbPath, len(runs),
		)
	}
}

// printJSON marshals v as indented JSON and writes it to out.
func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}
