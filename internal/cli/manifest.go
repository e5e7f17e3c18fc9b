package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Fuabioo/jsonmerge/internal/jsondoc"
	"github.com/Fuabioo/jsonmerge/internal/manifest"
	"github.com/Fuabioo/jsonmerge/internal/pathutil"
)

// ManifestOptions are the recognised build-manifest inputs.
type ManifestOptions struct {
	Browser string
	Source  string
	Indent  int
}

func newManifestCmd() *cobra.Command {
	opts := &ManifestOptions{}
	root := &cobra.Command{
		Use:   "build-manifest <browser> <source-dir>",
		Short: "Build a browser extension manifest from base and browser fragments",
		Long: `Merges <source-dir>/manifest/manifest.base.json with
<source-dir>/manifest/manifest.<browser>.json and writes the result to
<source-dir>/manifest.json. Top-level keys from the browser fragment replace
those of the base fragment; nested values are never merged.

A browser named like a subcommand (version, audit, help)
must come after "--":
  build-manifest -- audit ./ext`,
		Args: usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Browser = args[0]
			opts.Source = args[1]
			return runManifest(cmd, opts)
		},
	}
	root.Flags().IntVar(&opts.Indent, "indent", jsondoc.DefaultIndent, "spaces per indentation level, 0 for compact output")

	return newToolCmd(root)
}

func runManifest(cmd *cobra.Command, opts *ManifestOptions) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	indent, err := e.indent(cmd, opts.Indent)
	if err != nil {
		return err
	}

	if err := manifest.ValidateScope(opts.Browser); err != nil {
		return usageError(err)
	}

	layout := manifest.LayoutFromConfig(e.cfg.Manifest)
	if !layout.Known(opts.Browser) {
		e.logger.Warn("unknown browser, building anyway", "browser", opts.Browser, "known", layout.Browsers)
	}

	job, err := manifest.NewJob(opts.Browser, pathutil.Resolve(opts.Source), layout)
	if err != nil {
		if errors.Is(err, manifest.ErrInvalidScope) {
			return usageError(err)
		}
		return failure(err)
	}
	job.Indent = indent
	job.Stdout = cmd.OutOrStdout()

	return e.runJob(cmd, job)
}
