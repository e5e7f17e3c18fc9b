package jsondoc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultIndent is the number of spaces per nesting level in written files.
const DefaultIndent = 4

// Encode renders obj as JSON with keys in insertion order. indent is the
// number of spaces per level; zero produces compact output. HTML characters
// are written literally so manifests like "<all_urls>" stay readable.
func Encode(obj *Object, indent int) ([]byte, error) {
	if obj == nil {
		return nil, fmt.Errorf("%w: got nil", ErrTypeMismatch)
	}
	if indent < 0 {
		return nil, fmt.Errorf("indent must not be negative, got %d", indent)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range obj.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeKey(&buf, key); err != nil {
			return nil, fmt.Errorf("encode key %q: %w", key, err)
		}
		buf.WriteByte(':')
		v, _ := obj.Get(key)
		if err := json.Compact(&buf, v); err != nil {
			return nil, fmt.Errorf("encode value of %q: %w", key, err)
		}
	}
	buf.WriteByte('}')

	if indent == 0 {
		return buf.Bytes(), nil
	}

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", strings.Repeat(" ", indent)); err != nil {
		return nil, fmt.Errorf("indent output: %w", err)
	}
	return out.Bytes(), nil
}

func encodeKey(buf *bytes.Buffer, key string) error {
	var kb bytes.Buffer
	enc := json.NewEncoder(&kb)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(key); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(kb.Bytes(), "\n"))
	return nil
}

// WriteTo encodes obj and writes it to w followed by a newline.
func WriteTo(w io.Writer, obj *Object, indent int) error {
	data, err := Encode(obj, indent)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// Write encodes obj and replaces path with the result. The document is
// encoded before the destination is touched, then written to a temp file in
// the same directory and renamed into place, so a failure never leaves a
// truncated destination behind. An existing destination keeps its mode.
func Write(path string, obj *Object, indent int) error {
	data, err := Encode(obj, indent)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: output directory %s does not exist", ErrIO, dir)
		}
		return fmt.Errorf("%w: stat %s: %w", ErrIO, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrIO, dir)
	}

	mode := fs.FileMode(0o644)
	if st, err := os.Stat(path); err == nil {
		if st.IsDir() {
			return fmt.Errorf("%w: %s is a directory", ErrIO, path)
		}
		mode = st.Mode().Perm()
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file in %s: %w", ErrIO, dir, err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: write %s: %w", ErrIO, tmpPath, err)
	}

	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: chmod %s: %w", ErrIO, tmpPath, err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: close %s: %w", ErrIO, tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: rename %s to %s: %w", ErrIO, tmpPath, path, err)
	}

	return nil
}
