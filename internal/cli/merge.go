package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Fuabioo/jsonmerge/internal/jsondoc"
	"github.com/Fuabioo/jsonmerge/internal/pathutil"
	"github.com/Fuabioo/jsonmerge/internal/pipeline"
)

// MergeTool is the name merge-json runs are recorded under.
const MergeTool = "merge-json"

// MergeOptions are the recognised merge-json inputs.
type MergeOptions struct {
	Files  []string
	Output string
	Indent int
}

func newMergeCmd() *cobra.Command {
	opts := &MergeOptions{}
	root := &cobra.Command{
		Use:   "merge-json <file>... --output <path>",
		Short: "Shallow-merge JSON files, later files overriding earlier ones",
		Long: `Loads every file in argument order and merges their top-level keys:
a key in a later file replaces the same key from any earlier file. Nested
objects and arrays are replaced wholesale. The result is written to --output,
or to stdout when --output is "-".

A file named like a subcommand (version, audit, help) must come after "--":
  merge-json -o out.json -- version`,
		Args: requireFiles,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Files = args
			return runMerge(cmd, opts)
		},
	}
	root.Flags().StringVarP(&opts.Output, "output", "o", "", `output file (required, "-" for stdout)`)
	root.Flags().IntVar(&opts.Indent, "indent", jsondoc.DefaultIndent, "spaces per indentation level, 0 for compact output")

	return newToolCmd(root)
}

func requireFiles(_ *cobra.Command, args []string) error {
	if len(args) == 0 {
		return usageError(fmt.Errorf("%w: at least one input file is required", jsondoc.ErrEmptyInput))
	}
	return nil
}

func runMerge(cmd *cobra.Command, opts *MergeOptions) error {
	if opts.Output == "" {
		return usageError(errors.New(`required flag "output" not set`))
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	indent, err := e.indent(cmd, opts.Indent)
	if err != nil {
		return err
	}

	job := pipeline.Job{
		Tool:   MergeTool,
		Inputs: pathutil.ResolveAll(opts.Files),
		Output: pathutil.Resolve(opts.Output),
		Indent: indent,
		Stdout: cmd.OutOrStdout(),
	}
	return e.runJob(cmd, job)
}
