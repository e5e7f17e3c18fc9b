package audit

import (
	"archive/zip"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"
)

const (
	rotationMarker  = ".last-rotation"
	archiveStamp    = "20060102T150405Z"
	archiveEntry    = "runs.json"
	defaultInterval = time.Hour
)

// RotationConfig controls archiving of old merge runs.
type RotationConfig struct {
	Retention   time.Duration // runs older than this are archived
	ArchiveDir  string        // directory for zip archives
	ThrottleDir string        // directory for the rotation marker
	Interval    time.Duration // minimum time between rotations, 1h when zero
}

// ArchiveInfo describes a single archive file. Archives hold the runs of one
// tool and are named <tool>-<UTC stamp>.zip.
type ArchiveInfo struct {
	Path    string
	Name    string
	Tool    string
	Size    int64
	ModTime time.Time
}

// MaybeRotate moves runs older than the retention window into one zip
// archive per tool, then prunes them. Runs are pruned only when every archive
// was written. Errors are logged, not returned: the merge being audited has
// already finished when this runs.
func MaybeRotate(db *sql.DB, cfg RotationConfig, logger *slog.Logger) {
	if db == nil || cfg.Retention <= 0 {
		return
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	markerPath := filepath.Join(cfg.ThrottleDir, rotationMarker)
	if !rotationDue(markerPath, interval) {
		logger.Debug("rotation throttled", "interval", interval)
		return
	}
	// Marked before the work so a broken archive dir is not retried every run.
	touchMarker(markerPath, logger)

	now := time.Now().UTC()
	cutoff := now.Add(-cfg.Retention)

	byTool, err := exportRuns(db, cutoff)
	if err != nil {
		logger.Warn("rotation: export runs failed", "err", err)
		return
	}
	if len(byTool) == 0 {
		logger.Debug("rotation: nothing older than retention", "cutoff", cutoff)
		return
	}

	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		logger.Warn("rotation: create archive dir", "err", err)
		return
	}

	archived := 0
	for _, tool := range sortedKeys(byTool) {
		runs := byTool[tool]
		path := filepath.Join(cfg.ArchiveDir, archiveName(tool, now))
		if err := writeArchive(path, runs); err != nil {
			logger.Warn("rotation: write archive failed, keeping runs", "tool", tool, "err", err)
			return
		}
		logger.Debug("rotation: archived runs", "tool", tool, "runs", len(runs), "archive", path)
		archived += len(runs)
	}

	pruned, err := PruneBefore(db, cutoff)
	if err != nil {
		logger.Warn("rotation: prune failed (archives already written)", "err", err)
		return
	}

	logger.Info("rotation complete", "archived", archived, "pruned", pruned, "tools", len(byTool))
}

// rotationDue reports whether the marker is missing or older than interval.
func rotationDue(markerPath string, interval time.Duration) bool {
	info, err := os.Stat(markerPath)
	if err != nil {
		return true
	}
	return time.Since(info.ModTime()) >= interval
}

func touchMarker(path string, logger *slog.Logger) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.Warn("rotation: create throttle dir", "err", err)
		return
	}
	now := time.Now()
	if err := os.Chtimes(path, now, now); err == nil {
		return
	}
	f, err := os.Create(path)
	if err != nil {
		logger.Warn("rotation: touch marker", "err", err)
		return
	}
	if err := f.Close(); err != nil {
		logger.Warn("rotation: close marker", "err", err)
	}
}

// archiveName returns <tool>-<stamp>.zip. Tools that cannot form a file name
// are archived under "unknown".
func archiveName(tool string, at time.Time) string {
	if tool == "" || strings.ContainsAny(tool, `/\`) {
		tool = "unknown"
	}
	return fmt.Sprintf("%s-%s.zip", tool, at.UTC().Format(archiveStamp))
}

// archiveTool recovers the tool from an archive file name, or "" when the
// name does not follow the <tool>-<stamp>.zip pattern.
func archiveTool(name string) string {
	base, ok := strings.CutSuffix(name, ".zip")
	if !ok {
		return ""
	}
	i := strings.LastIndexByte(base, '-')
	if i <= 0 {
		return ""
	}
	if _, err := time.Parse(archiveStamp, base[i+1:]); err != nil {
		return ""
	}
	return base[:i]
}

// exportRuns loads every run older than cutoff with its inputs, grouped by
// tool and ordered oldest first within each tool.
func exportRuns(db *sql.DB, cutoff time.Time) (map[string][]RunRecord, error) {
	cutoffStr := cutoff.UTC().Format(timeLayout)

	rows, err := db.Query(
		"SELECT "+runColumns+" FROM merge_runs WHERE timestamp < ? ORDER BY timestamp ASC, id ASC",
		cutoffStr,
	)
	if err != nil {
		return nil, fmt.Errorf("query old runs: %w", err)
	}
	var runs []RunRecord
	index := make(map[int64]int)
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan old run: %w", err)
		}
		index[r.ID] = len(runs)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate old runs: %w", err)
	}
	_ = rows.Close()

	if len(runs) == 0 {
		return nil, nil
	}

	inRows, err := db.Query(
		`SELECT i.id, i.run_id, i.input_index, i.path, i.key_count, i.outcome, i.error
		 FROM run_inputs i JOIN merge_runs r ON r.id = i.run_id
		 WHERE r.timestamp < ? ORDER BY i.run_id, i.input_index`,
		cutoffStr,
	)
	if err != nil {
		return nil, fmt.Errorf("query old run inputs: %w", err)
	}
	defer func() { _ = inRows.Close() }()

	for inRows.Next() {
		var in InputRecord
		if err := inRows.Scan(&in.ID, &in.RunID, &in.InputIndex, &in.Path, &in.KeyCount, &in.Outcome, &in.Error); err != nil {
			return nil, fmt.Errorf("scan old run input: %w", err)
		}
		if i, ok := index[in.RunID]; ok {
			runs[i].Inputs = append(runs[i].Inputs, in)
		}
	}
	if err := inRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate old run inputs: %w", err)
	}

	byTool := make(map[string][]RunRecord)
	for _, r := range runs {
		byTool[r.Tool] = append(byTool[r.Tool], r)
	}
	return byTool, nil
}

func sortedKeys(m map[string][]RunRecord) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// writeArchive writes runs as runs.json inside a zip archive, through a temp
// file renamed into place.
func writeArchive(path string, runs []RunRecord) error {
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	fail := func(format string, err error) error {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf(format, err)
	}

	zw := zip.NewWriter(f)
	w, err := zw.Create(archiveEntry)
	if err != nil {
		return fail("create zip entry: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(runs); err != nil {
		return fail("encode runs: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fail("close zip writer: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp archive: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp archive: %w", err)
	}
	return nil
}

// ListArchives returns archive files in archiveDir, newest first. A missing
// directory yields no archives.
func ListArchives(archiveDir string) ([]ArchiveInfo, error) {
	dirEntries, err := os.ReadDir(archiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read archive dir: %w", err)
	}

	var archives []ArchiveInfo
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".zip") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		archives = append(archives, ArchiveInfo{
			Path:    filepath.Join(archiveDir, de.Name()),
			Name:    de.Name(),
			Tool:    archiveTool(de.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].ModTime.After(archives[j].ModTime)
	})
	return archives, nil
}
