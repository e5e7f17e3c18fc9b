package jsondoc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"unicode/utf8"
)

// Value is the raw text of a single JSON value of any type.
type Value = json.RawMessage

// Load reads path and checks that it holds exactly one valid JSON value.
// The returned Value is the file content as-is; callers decode it with
// Decode when they need an object.
func Load(path string) (Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, path, err)
	}

	if err := validate(data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}

	return Value(data), nil
}

// Parse checks data the same way Load checks file content.
func Parse(data []byte) (Value, error) {
	if err := validate(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return Value(data), nil
}

// validate reports the first syntax error in data with a line and column.
// Only syntax is checked: numbers of any size or precision are accepted,
// since values are kept as raw text. Input must be UTF-8.
func validate(data []byte) error {
	if i := invalidUTF8(data); i >= 0 {
		line, col := position(data, int64(i))
		return fmt.Errorf("line %d, column %d: invalid UTF-8 byte 0x%02x", line, col, data[i])
	}

	var raw json.RawMessage
	err := json.Unmarshal(data, &raw)
	if err == nil {
		return nil
	}
	var se *json.SyntaxError
	if errors.As(err, &se) {
		line, col := position(data, se.Offset)
		return fmt.Errorf("line %d, column %d: %v", line, col, se)
	}
	return err
}

// invalidUTF8 returns the offset of the first byte that is not part of a
// valid UTF-8 sequence, or -1.
func invalidUTF8(data []byte) int {
	if utf8.Valid(data) {
		return -1
	}
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return -1
}

// position converts a byte offset into a 1-based line and column.
func position(data []byte, offset int64) (int, int) {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	if offset < 0 {
		offset = 0
	}
	head := data[:offset]
	line := bytes.Count(head, []byte{'\n'}) + 1
	col := len(head) - bytes.LastIndexByte(head, '\n')
	return line, col
}

// kindOf names the JSON type of v from its first significant byte.
func kindOf(v Value) string {
	trimmed := bytes.TrimSpace(v)
	if len(trimmed) == 0 {
		return "empty"
	}
	switch trimmed[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
