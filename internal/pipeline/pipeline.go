package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Fuabioo/jsonmerge/internal/audit"
	"github.com/Fuabioo/jsonmerge/internal/jsondoc"
)

// StdoutPath as a Job output writes the merged document to Job.Stdout.
const StdoutPath = "-"

// Job describes one merge: inputs in precedence order (last wins) and the
// destination for the merged document.
type Job struct {
	Tool   string   // tool name recorded in the audit log
	Scope  string   // manifest browser, empty for generic merges
	Inputs []string // paths, merged left to right
	Output string   // destination path, or StdoutPath
	Indent int
	Stdout io.Writer // used when Output is StdoutPath; defaults to os.Stdout
}

// Loader reads one input document.
type Loader interface {
	Load(ctx context.Context, path string) (jsondoc.Value, error)
}

// FileLoader loads documents from the local filesystem.
type FileLoader struct{}

// Load implements Loader.
func (FileLoader) Load(ctx context.Context, path string) (jsondoc.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return jsondoc.Load(path)
}

// InputResult reports what happened to a single input.
type InputResult struct {
	Index   int
	Path    string
	Keys    int
	Outcome string // loaded|error
	Err     error
}

// Result holds the final outcome of a merge job.
type Result struct {
	Err    error // nil on success; wraps a jsondoc error kind otherwise
	Keys   int   // number of top-level keys written
	Inputs []InputResult
}

// Run loads every input in order, folds them into one object and writes
// it once. The first failure stops the run. The output is not touched
// until every input has loaded and decoded, so a bad input never clobbers
// an existing output file.
func Run(ctx context.Context, job Job, loader Loader, auditor audit.Auditor, logger *slog.Logger) Result {
	start := time.Now()
	inputs := make([]InputResult, 0, len(job.Inputs))

	if len(job.Inputs) == 0 {
		res := Result{Err: jsondoc.ErrEmptyInput}
		recordAudit(auditor, job, res, start, logger)
		return res
	}

	objs := make([]*jsondoc.Object, 0, len(job.Inputs))
	for i, path := range job.Inputs {
		logger.Debug("loading input", "index", i, "path", path)

		obj, err := loadObject(ctx, loader, path)
		if err != nil {
			logger.Debug("input failed", "index", i, "path", path, "err", err)
			inputs = append(inputs, InputResult{
				Index:   i,
				Path:    path,
				Outcome: audit.InputOutcomeError,
				Err:     err,
			})
			res := Result{Err: err, Inputs: inputs}
			recordAudit(auditor, job, res, start, logger)
			return res
		}

		logger.Debug("loaded input", "index", i, "path", path, "keys", obj.Len())
		inputs = append(inputs, InputResult{
			Index:   i,
			Path:    path,
			Keys:    obj.Len(),
			Outcome: audit.InputOutcomeLoaded,
		})
		objs = append(objs, obj)
	}

	merged, err := jsondoc.MergeObjects(objs...)
	if err != nil {
		res := Result{Err: err, Inputs: inputs}
		recordAudit(auditor, job, res, start, logger)
		return res
	}

	if err := write(job, merged); err != nil {
		res := Result{Err: err, Inputs: inputs}
		recordAudit(auditor, job, res, start, logger)
		return res
	}

	logger.Debug("wrote output", "path", job.Output, "keys", merged.Len())
	res := Result{Keys: merged.Len(), Inputs: inputs}
	recordAudit(auditor, job, res, start, logger)
	return res
}

// loadObject loads path and decodes it as an object, naming path in any
// type error.
func loadObject(ctx context.Context, loader Loader, path string) (*jsondoc.Object, error) {
	v, err := loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	obj, err := jsondoc.Decode(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return obj, nil
}

func write(job Job, merged *jsondoc.Object) error {
	if job.Output == StdoutPath {
		w := job.Stdout
		if w == nil {
			w = os.Stdout
		}
		return jsondoc.WriteTo(w, merged, job.Indent)
	}
	if job.Output == "" {
		return fmt.Errorf("%w: no output path", jsondoc.ErrIO)
	}
	return jsondoc.Write(job.Output, merged, job.Indent)
}

// recordAudit sends a run record to the auditor. Errors are logged but never
// affect the job result.
func recordAudit(auditor audit.Auditor, job Job, res Result, start time.Time, logger *slog.Logger) {
	if auditor == nil {
		return
	}

	outcome := audit.OutcomeOK
	reason := ""
	if res.Err != nil {
		outcome = audit.OutcomeError
		reason = res.Err.Error()
	}

	entry := audit.RunRecord{
		Tool:       job.Tool,
		Scope:      job.Scope,
		Output:     job.Output,
		InputCount: len(job.Inputs),
		KeyCount:   res.Keys,
		Outcome:    outcome,
		Reason:     reason,
		Kind:       ErrorKind(res.Err),
		DurationMs: time.Since(start).Milliseconds(),
	}
	for _, in := range res.Inputs {
		rec := audit.InputRecord{
			InputIndex: in.Index,
			Path:       in.Path,
			KeyCount:   in.Keys,
			Outcome:    in.Outcome,
		}
		if in.Err != nil {
			rec.Error = in.Err.Error()
		}
		entry.Inputs = append(entry.Inputs, rec)
	}

	if err := auditor.RecordRun(entry); err != nil {
		logger.Warn("audit record failed", "err", err)
	}
}

// ErrorKind names the jsondoc error kind wrapped by err, or "" for nil.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, jsondoc.ErrFileNotFound):
		return "file_not_found"
	case errors.Is(err, jsondoc.ErrParse):
		return "parse_error"
	case errors.Is(err, jsondoc.ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, jsondoc.ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, jsondoc.ErrIO):
		return "io_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unknown"
	}
}
