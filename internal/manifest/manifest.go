// Package manifest resolves the fragment files that make up a browser
// extension manifest and turns them into a merge job.
//
// A source directory is laid out as
//
//	<source>/manifest/manifest.base.json
//	<source>/manifest/manifest.<browser>.json
//	<source>/manifest.json                  (written)
//
// The browser fragment overrides the base fragment key by key.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Fuabioo/jsonmerge/internal/config"
	"github.com/Fuabioo/jsonmerge/internal/jsondoc"
	"github.com/Fuabioo/jsonmerge/internal/pipeline"
)

// BaseScope is the scope of the fragment shared by every browser.
const BaseScope = "base"

// Tool is the name build-manifest runs are recorded under.
const Tool = "build-manifest"

// ErrInvalidScope is returned for browser names that cannot form a
// fragment file name.
var ErrInvalidScope = errors.New("invalid browser name")

// Layout says where fragments live and where the result goes, relative to
// the source directory.
type Layout struct {
	Dir      string   // fragment directory, "manifest" by default
	Output   string   // output file name, "manifest.json" by default
	Browsers []string // known browser scopes
}

// DefaultLayout returns the layout used without configuration.
func DefaultLayout() Layout {
	return LayoutFromConfig(config.ManifestConfig{})
}

// LayoutFromConfig applies config defaults.
func LayoutFromConfig(mc config.ManifestConfig) Layout {
	return Layout{
		Dir:      mc.EffectiveDir(),
		Output:   mc.EffectiveOutput(),
		Browsers: mc.EffectiveBrowsers(),
	}
}

// FragmentPath returns the path of the fragment for scope under source.
func (l Layout) FragmentPath(source, scope string) string {
	return filepath.Join(source, l.Dir, fmt.Sprintf("manifest.%s.json", scope))
}

// OutputPath returns the path of the merged manifest under source.
func (l Layout) OutputPath(source string) string {
	return filepath.Join(source, l.Output)
}

// Known reports whether browser is one of the configured browsers.
func (l Layout) Known(browser string) bool {
	return slices.Contains(l.Browsers, browser)
}

// ValidateScope rejects scopes that are empty or would resolve outside the
// fragment directory. Any other name is accepted, known or not.
func ValidateScope(browser string) error {
	switch {
	case browser == "":
		return fmt.Errorf("%w: empty", ErrInvalidScope)
	case browser == "." || browser == "..", strings.ContainsAny(browser, `/\`):
		return fmt.Errorf("%w: %q", ErrInvalidScope, browser)
	}
	return nil
}

// NewJob checks that source is an existing directory and returns the job
// that merges the base fragment with the browser fragment.
func NewJob(browser, source string, l Layout) (pipeline.Job, error) {
	if err := ValidateScope(browser); err != nil {
		return pipeline.Job{}, err
	}

	info, err := os.Stat(source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return pipeline.Job{}, fmt.Errorf("%w: source directory %s", jsondoc.ErrFileNotFound, source)
		}
		return pipeline.Job{}, fmt.Errorf("%w: stat %s: %w", jsondoc.ErrIO, source, err)
	}
	if !info.IsDir() {
		return pipeline.Job{}, fmt.Errorf("%w: %s is not a directory", jsondoc.ErrFileNotFound, source)
	}

	return pipeline.Job{
		Tool:  Tool,
		Scope: browser,
		Inputs: []string{
			l.FragmentPath(source, BaseScope),
			l.FragmentPath(source, browser),
		},
		Output: l.OutputPath(source),
		Indent: jsondoc.DefaultIndent,
	}, nil
}
