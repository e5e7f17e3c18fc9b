package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Fuabioo/jsonmerge/internal/config"
	"github.com/Fuabioo/jsonmerge/internal/jsondoc"
)

func TestLayoutPaths(t *testing.T) {
	l := DefaultLayout()

	if got, want := l.FragmentPath("/src", BaseScope), filepath.Join("/src", "manifest", "manifest.base.json"); got != want {
		t.Errorf("FragmentPath(base) = %q, want %q", got, want)
	}
	if got, want := l.FragmentPath("/src", "firefox"), filepath.Join("/src", "manifest", "manifest.firefox.json"); got != want {
		t.Errorf("FragmentPath(firefox) = %q, want %q", got, want)
	}
	if got, want := l.OutputPath("/src"), filepath.Join("/src", "manifest.json"); got != want {
		t.Errorf("OutputPath = %q, want %q", got, want)
	}
}

func TestLayoutFromConfig(t *testing.T) {
	l := LayoutFromConfig(config.ManifestConfig{Dir: "parts", Output: "out.json", Browsers: []string{"edge"}})

	if got, want := l.FragmentPath("/src", "edge"), filepath.Join("/src", "parts", "manifest.edge.json"); got != want {
		t.Errorf("FragmentPath = %q, want %q", got, want)
	}
	if got, want := l.OutputPath("/src"), filepath.Join("/src", "out.json"); got != want {
		t.Errorf("OutputPath = %q, want %q", got, want)
	}
	if !l.Known("edge") || l.Known("chrome") {
		t.Errorf("Known: configured browsers should replace the defaults")
	}
}

func TestKnown(t *testing.T) {
	l := DefaultLayout()
	for _, b := range []string{"firefox", "chrome"} {
		if !l.Known(b) {
			t.Errorf("Known(%q) = false, want true", b)
		}
	}
	if l.Known("safari") {
		t.Error("Known(safari) = true, want false")
	}
}

func TestValidateScope(t *testing.T) {
	tests := []struct {
		browser string
		ok      bool
	}{
		{"firefox", true},
		{"chrome", true},
		{"opera-gx", true},
		{"", false},
		{"safari", true},
		{"..", false},
		{"../etc", false},
		{`a\b`, false},
	}
	for _, tt := range tests {
		err := ValidateScope(tt.browser)
		if tt.ok && err != nil {
			t.Errorf("ValidateScope(%q) = %v, want nil", tt.browser, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidScope) {
			t.Errorf("ValidateScope(%q) = %v, want ErrInvalidScope", tt.browser, err)
		}
	}
}

func TestNewJob(t *testing.T) {
	src := t.TempDir()

	job, err := NewJob("chrome", src, DefaultLayout())
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}

	if job.Tool != Tool {
		t.Errorf("Tool = %q, want %q", job.Tool, Tool)
	}
	if job.Scope != "chrome" {
		t.Errorf("Scope = %q, want chrome", job.Scope)
	}
	want := []string{
		filepath.Join(src, "manifest", "manifest.base.json"),
		filepath.Join(src, "manifest", "manifest.chrome.json"),
	}
	if len(job.Inputs) != 2 || job.Inputs[0] != want[0] || job.Inputs[1] != want[1] {
		t.Errorf("Inputs = %v, want %v (base first, browser overrides)", job.Inputs, want)
	}
	if job.Output != filepath.Join(src, "manifest.json") {
		t.Errorf("Output = %q", job.Output)
	}
	if job.Indent != jsondoc.DefaultIndent {
		t.Errorf("Indent = %d, want %d", job.Indent, jsondoc.DefaultIndent)
	}
}

func TestNewJobMissingSource(t *testing.T) {
	_, err := NewJob("chrome", filepath.Join(t.TempDir(), "nope"), DefaultLayout())
	if !errors.Is(err, jsondoc.ErrFileNotFound) {
		t.Errorf("err = %v, want ErrFileNotFound", err)
	}
}

func TestNewJobSourceIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := NewJob("chrome", path, DefaultLayout())
	if !errors.Is(err, jsondoc.ErrFileNotFound) {
		t.Errorf("err = %v, want ErrFileNotFound", err)
	}
}

func TestNewJobInvalidScope(t *testing.T) {
	_, err := NewJob("../x", t.TempDir(), DefaultLayout())
	if !errors.Is(err, ErrInvalidScope) {
		t.Errorf("err = %v, want ErrInvalidScope", err)
	}
}
