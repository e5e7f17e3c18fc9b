package audit

import "time"

// Outcome constants for RunRecord.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// InputOutcome constants for InputRecord.
const (
	InputOutcomeLoaded = "loaded"
	InputOutcomeError  = "error"
)

// Auditor records merge run history.
type Auditor interface {
	RecordRun(entry RunRecord) error
	Close() error
}

// RunRecord represents one pipeline.Run invocation.
type RunRecord struct {
	ID         int64
	Timestamp  time.Time
	Tool       string // build-manifest|merge-json
	Scope      string // browser for build-manifest, empty otherwise
	Output     string
	InputCount int
	KeyCount   int
	Outcome    string // ok|error
	Kind       string // error kind, empty on success
	Reason     string
	DurationMs int64
	Inputs     []InputRecord
}

// InputRecord represents one input file within a run. Inputs after the
// first failing one are never loaded and so never recorded.
type InputRecord struct {
	ID         int64
	RunID      int64
	InputIndex int
	Path       string
	KeyCount   int
	Outcome    string // loaded|error
	Error      string // truncated to maxErrorLen bytes
}

// AuditStats holds aggregate statistics from the audit database.
type AuditStats struct {
	TotalRuns      int64
	CountByOutcome map[string]int64
	CountByTool    map[string]int64
	AvgDurationMs  float64
	OldestEntry    time.Time
	NewestEntry    time.Time
}

// Truncate shortens s to max bytes, appending "..." if truncated.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
