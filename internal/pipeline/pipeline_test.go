package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Fuabioo/jsonmerge/internal/audit"
	"github.com/Fuabioo/jsonmerge/internal/jsondoc"
)

// mockLoader implements Loader for testing.
type mockLoader struct {
	docs  map[string]string
	errs  map[string]error
	calls []string
}

func (m *mockLoader) Load(_ context.Context, path string) (jsondoc.Value, error) {
	m.calls = append(m.calls, path)
	if err, ok := m.errs[path]; ok {
		return nil, err
	}
	doc, ok := m.docs[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jsondoc.ErrFileNotFound, path)
	}
	return jsondoc.Value(doc), nil
}

// mockAuditor implements audit.Auditor for testing.
type mockAuditor struct {
	entries []audit.RunRecord
	err     error // if set, RecordRun returns this error
}

func (m *mockAuditor) RecordRun(entry audit.RunRecord) error {
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockAuditor) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s): %v", path, err)
	}
	return string(data)
}

func TestRunGenericMergeScenario(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	c := filepath.Join(dir, "c.json")
	writeFile(t, a, `{"x":1}`)
	writeFile(t, b, `{"x":2,"y":3}`)
	writeFile(t, c, `{"y":4}`)
	out := filepath.Join(dir, "out.json")

	job := Job{Tool: "merge-json", Inputs: []string{a, b, c}, Output: out, Indent: 0}
	res := Run(context.Background(), job, FileLoader{}, nil, testLogger())
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}
	if res.Keys != 2 {
		t.Errorf("Keys = %d, want 2", res.Keys)
	}
	if got := readFile(t, out); got != `{"x":2,"y":4}` {
		t.Errorf("output = %s, want {\"x\":2,\"y\":4}", got)
	}
	if len(res.Inputs) != 3 {
		t.Fatalf("Inputs = %d, want 3", len(res.Inputs))
	}
	if res.Inputs[1].Keys != 2 || res.Inputs[1].Outcome != audit.InputOutcomeLoaded {
		t.Errorf("Inputs[1] = %+v", res.Inputs[1])
	}
}

func TestRunSingleInputCopies(t *testing.T) {
	m := &mockLoader{docs: map[string]string{"a": `{"k":[1,2]}`}}
	var stdout bytes.Buffer

	job := Job{Inputs: []string{"a"}, Output: StdoutPath, Indent: 0, Stdout: &stdout}
	res := Run(context.Background(), job, m, nil, testLogger())
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}
	if stdout.String() != "{\"k\":[1,2]}\n" {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRunEmptyInputs(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.json")
	a := &mockAuditor{}

	res := Run(context.Background(), Job{Tool: "merge-json", Output: out}, &mockLoader{}, a, testLogger())
	if !errors.Is(res.Err, jsondoc.ErrEmptyInput) {
		t.Fatalf("Err = %v, want ErrEmptyInput", res.Err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output should not be created, stat err = %v", err)
	}
	if len(a.entries) != 1 || a.entries[0].Kind != "empty_input" {
		t.Errorf("audit entries = %+v, want one empty_input record", a.entries)
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	m := &mockLoader{
		docs: map[string]string{"a": `{"x":1}`, "c": `{"z":1}`},
		errs: map[string]error{"b": fmt.Errorf("%w: b: line 1, column 2", jsondoc.ErrParse)},
	}

	res := Run(context.Background(), Job{Inputs: []string{"a", "b", "c"}, Output: StdoutPath, Stdout: &bytes.Buffer{}}, m, nil, testLogger())
	if !errors.Is(res.Err, jsondoc.ErrParse) {
		t.Fatalf("Err = %v, want ErrParse", res.Err)
	}
	if len(m.calls) != 2 {
		t.Errorf("loader calls = %v, want [a b] (no load after failure)", m.calls)
	}
	if len(res.Inputs) != 2 || res.Inputs[1].Outcome != audit.InputOutcomeError {
		t.Errorf("Inputs = %+v", res.Inputs)
	}
}

func TestRunMalformedInputLeavesOutputUntouched(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	out := filepath.Join(dir, "out.json")
	writeFile(t, good, `{"a":1}`)
	writeFile(t, bad, `{"a": }`)
	writeFile(t, out, `{"previous":"content"}`)

	res := Run(context.Background(), Job{Inputs: []string{good, bad}, Output: out, Indent: 4}, FileLoader{}, nil, testLogger())
	if !errors.Is(res.Err, jsondoc.ErrParse) {
		t.Fatalf("Err = %v, want ErrParse", res.Err)
	}
	if !strings.Contains(res.Err.Error(), bad) {
		t.Errorf("error %q should name %s", res.Err, bad)
	}
	if got := readFile(t, out); got != `{"previous":"content"}` {
		t.Errorf("output modified: %s", got)
	}
}

func TestRunTypeMismatchNamesPath(t *testing.T) {
	m := &mockLoader{docs: map[string]string{"a": `{"x":1}`, "list.json": `[1,2]`}}

	res := Run(context.Background(), Job{Inputs: []string{"a", "list.json"}, Output: StdoutPath, Stdout: &bytes.Buffer{}}, m, nil, testLogger())
	if !errors.Is(res.Err, jsondoc.ErrTypeMismatch) {
		t.Fatalf("Err = %v, want ErrTypeMismatch", res.Err)
	}
	if !strings.Contains(res.Err.Error(), "list.json") {
		t.Errorf("error %q should name list.json", res.Err)
	}
}

func TestRunUnwritableOutput(t *testing.T) {
	m := &mockLoader{docs: map[string]string{"a": `{"x":1}`}}
	out := filepath.Join(t.TempDir(), "missing-dir", "out.json")

	res := Run(context.Background(), Job{Inputs: []string{"a"}, Output: out}, m, nil, testLogger())
	if !errors.Is(res.Err, jsondoc.ErrIO) {
		t.Fatalf("Err = %v, want ErrIO", res.Err)
	}
	if len(res.Inputs) != 1 {
		t.Errorf("Inputs = %d, want 1 (input loaded before write failed)", len(res.Inputs))
	}
}

func TestRunEmptyOutputPath(t *testing.T) {
	m := &mockLoader{docs: map[string]string{"a": `{}`}}
	res := Run(context.Background(), Job{Inputs: []string{"a"}}, m, nil, testLogger())
	if !errors.Is(res.Err, jsondoc.ErrIO) {
		t.Errorf("Err = %v, want ErrIO", res.Err)
	}
}

func TestRunCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	writeFile(t, a, `{}`)

	res := Run(ctx, Job{Inputs: []string{a}, Output: filepath.Join(dir, "out.json")}, FileLoader{}, nil, testLogger())
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", res.Err)
	}
	if ErrorKind(res.Err) != "canceled" {
		t.Errorf("ErrorKind = %q, want canceled", ErrorKind(res.Err))
	}
}

func TestShallowMerge_NestedObjectReplacedWholesale(t *testing.T) {
	m := &mockLoader{docs: map[string]string{
		"base":   `{"name":"Ext","background":{"scripts":["bg.js"],"persistent":false}}`,
		"chrome": `{"background":{"service_worker":"sw.js"}}`,
	}}
	var stdout bytes.Buffer

	res := Run(context.Background(), Job{Inputs: []string{"base", "chrome"}, Output: StdoutPath, Stdout: &stdout}, m, nil, testLogger())
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}
	want := `{"name":"Ext","background":{"service_worker":"sw.js"}}` + "\n"
	if stdout.String() != want {
		t.Errorf("stdout = %s, want %s", stdout.String(), want)
	}
}

func TestAuditRecording(t *testing.T) {
	m := &mockLoader{docs: map[string]string{"base": `{"a":1,"b":2}`, "firefox": `{"b":3,"c":4}`}}
	a := &mockAuditor{}

	job := Job{
		Tool:   "build-manifest",
		Scope:  "firefox",
		Inputs: []string{"base", "firefox"},
		Output: StdoutPath,
		Stdout: &bytes.Buffer{},
	}
	res := Run(context.Background(), job, m, a, testLogger())
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}

	if len(a.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(a.entries))
	}
	entry := a.entries[0]

	if entry.Tool != "build-manifest" {
		t.Errorf("Tool = %q, want build-manifest", entry.Tool)
	}
	if entry.Scope != "firefox" {
		t.Errorf("Scope = %q, want firefox", entry.Scope)
	}
	if entry.InputCount != 2 {
		t.Errorf("InputCount = %d, want 2", entry.InputCount)
	}
	if entry.KeyCount != 3 {
		t.Errorf("KeyCount = %d, want 3", entry.KeyCount)
	}
	if entry.Outcome != audit.OutcomeOK {
		t.Errorf("Outcome = %q, want ok", entry.Outcome)
	}
	if entry.Kind != "" || entry.Reason != "" {
		t.Errorf("Kind/Reason = %q/%q, want empty on success", entry.Kind, entry.Reason)
	}
	if entry.DurationMs < 0 {
		t.Errorf("DurationMs = %d, want >= 0", entry.DurationMs)
	}

	if len(entry.Inputs) != 2 {
		t.Fatalf("input records = %d, want 2", len(entry.Inputs))
	}
	if entry.Inputs[1].Path != "firefox" || entry.Inputs[1].InputIndex != 1 || entry.Inputs[1].KeyCount != 2 {
		t.Errorf("Inputs[1] = %+v", entry.Inputs[1])
	}
}

func TestAuditRecordsFailure(t *testing.T) {
	m := &mockLoader{docs: map[string]string{"base": `{}`}}
	a := &mockAuditor{}

	res := Run(context.Background(), Job{Tool: "build-manifest", Inputs: []string{"base", "missing"}, Output: StdoutPath, Stdout: &bytes.Buffer{}}, m, a, testLogger())
	if !errors.Is(res.Err, jsondoc.ErrFileNotFound) {
		t.Fatalf("Err = %v, want ErrFileNotFound", res.Err)
	}

	entry := a.entries[0]
	if entry.Outcome != audit.OutcomeError {
		t.Errorf("Outcome = %q, want error", entry.Outcome)
	}
	if entry.Kind != "file_not_found" {
		t.Errorf("Kind = %q, want file_not_found", entry.Kind)
	}
	if !strings.Contains(entry.Reason, "missing") {
		t.Errorf("Reason = %q, want mention of missing", entry.Reason)
	}
	if entry.Inputs[1].Error == "" {
		t.Error("failing input should carry its error")
	}
}

func TestAuditErrorDoesNotBlockPipeline(t *testing.T) {
	m := &mockLoader{docs: map[string]string{"a": `{"x":1}`}}
	a := &mockAuditor{err: fmt.Errorf("disk full")}

	res := Run(context.Background(), Job{Inputs: []string{"a"}, Output: StdoutPath, Stdout: &bytes.Buffer{}}, m, a, testLogger())
	if res.Err != nil {
		t.Errorf("Err = %v, want nil (audit error should not fail the run)", res.Err)
	}
	if len(a.entries) != 1 {
		t.Errorf("audit entries = %d, want 1", len(a.entries))
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("x: %w", jsondoc.ErrFileNotFound), "file_not_found"},
		{fmt.Errorf("x: %w", jsondoc.ErrParse), "parse_error"},
		{jsondoc.ErrEmptyInput, "empty_input"},
		{fmt.Errorf("input 1: %w", jsondoc.ErrTypeMismatch), "type_mismatch"},
		{fmt.Errorf("%w: disk", jsondoc.ErrIO), "io_error"},
		{errors.New("other"), "unknown"},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
