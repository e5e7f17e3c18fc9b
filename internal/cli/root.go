package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Fuabioo/jsonmerge/internal/audit"
	"github.com/Fuabioo/jsonmerge/internal/config"
	"github.com/Fuabioo/jsonmerge/internal/jsondoc"
	"github.com/Fuabioo/jsonmerge/internal/pathutil"
	"github.com/Fuabioo/jsonmerge/internal/pipeline"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

// Process exit codes.
const (
	exitFailure = 1 // load, parse, type or write failure
	exitUsage   = 2 // bad arguments, flags or config
)

// exitError carries an explicit exit code out of cobra. A nil err means the
// diagnostic was already printed.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error {
	return &exitError{code: exitUsage, err: err}
}

func failure(err error) error {
	return &exitError{code: exitFailure, err: err}
}

// usageArgs wraps a positional argument validator so its errors exit 2.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if os.Getenv("JSONMERGE_DEBUG") == "1" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newToolCmd applies the settings both tool roots share and attaches the
// common subcommands.
func newToolCmd(root *cobra.Command) *cobra.Command {
	root.SilenceUsage = true
	root.SilenceErrors = true
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	root.AddCommand(newVersionCmd())
	root.AddCommand(newAuditCmd())
	return root
}

// runTool executes root with args and returns the process exit code.
func runTool(root *cobra.Command, args []string, stdout, stderr io.Writer) int {
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		code := exitFailure
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
			if ee.err == nil {
				return code
			}
		}
		fmt.Fprintf(stderr, "%s: %v\n", root.Name(), err)
		return code
	}
	return 0
}

// ExecuteManifest runs build-manifest and returns the process exit code.
func ExecuteManifest() int {
	return runTool(newManifestCmd(), os.Args[1:], os.Stdout, os.Stderr)
}

// ExecuteMerge runs merge-json and returns the process exit code.
func ExecuteMerge() int {
	return runTool(newMergeCmd(), os.Args[1:], os.Stdout, os.Stderr)
}

// env is the per-invocation state every command needs.
type env struct {
	cfg    config.Config
	logger *slog.Logger
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	logger := newLogger(cmd.ErrOrStderr())
	cfg, err := config.Load()
	if err != nil {
		return nil, usageError(fmt.Errorf("config error: %w", err))
	}
	return &env{cfg: cfg, logger: logger}, nil
}

// indent picks the --indent flag when given, else the configured indent.
func (e *env) indent(cmd *cobra.Command, flagValue int) (int, error) {
	n := e.cfg.EffectiveIndent()
	if cmd.Flags().Changed("indent") {
		n = flagValue
	}
	if n < 0 {
		return 0, usageError(fmt.Errorf("invalid --indent %d: must not be negative", n))
	}
	return n, nil
}

func (e *env) auditEnabled() bool {
	return os.Getenv("JSONMERGE_AUDIT") == "1" || (e.cfg.Audit != nil && e.cfg.Audit.Enabled)
}

func (e *env) auditDBPath() string {
	if e.cfg.Audit != nil && e.cfg.Audit.DBPath != "" {
		return pathutil.Resolve(e.cfg.Audit.DBPath)
	}
	return audit.DefaultDBPath()
}

// runJob runs job through the pipeline with auditing set up from config,
// and maps the result onto an exit code.
func (e *env) runJob(cmd *cobra.Command, job pipeline.Job) error {
	var auditor audit.Auditor
	if e.auditEnabled() {
		dbPath := e.auditDBPath()
		a, err := audit.Open(dbPath)
		if err != nil {
			e.logger.Warn("failed to open audit db, continuing without audit", "err", err)
		} else {
			auditor = a
			defer func() {
				e.rotate(a, dbPath)
				if err := a.Close(); err != nil {
					e.logger.Warn("close audit db", "err", err)
				}
			}()
		}
	}

	e.logger.Debug("running merge", "tool", job.Tool, "inputs", job.Inputs, "output", job.Output)

	res := pipeline.Run(cmd.Context(), job, pipeline.FileLoader{}, auditor, e.logger)
	if res.Err != nil {
		if errors.Is(res.Err, jsondoc.ErrEmptyInput) {
			return usageError(res.Err)
		}
		return failure(res.Err)
	}

	e.logger.Debug("merge complete", "output", job.Output, "keys", res.Keys)
	return nil
}

// rotate archives old runs when a retention window is configured.
func (e *env) rotate(a *audit.SQLiteAuditor, dbPath string) {
	retention, err := e.cfg.Audit.RetentionDuration()
	if err != nil || retention <= 0 {
		return
	}
	archiveDir := filepath.Join(filepath.Dir(dbPath), "archives")
	audit.MaybeRotate(a.DB(), audit.RotationConfig{
		Retention:   retention,
		ArchiveDir:  archiveDir,
		ThrottleDir: archiveDir,
	}, e.logger)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", cmd.Root().Name(), Version, Commit)
		},
	}
}
