package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

func decodeJSONC(content string) (fileConfig, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return fileConfig{}, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload fileConfig
	if err := decoder.Decode(&payload); err != nil {
		return fileConfig{}, locateJSONError(normalized, err)
	}
	if err := expectEOF(decoder); err != nil {
		return fileConfig{}, locateJSONError(normalized, err)
	}
	return payload, nil
}

// normalizeJSONC turns JSONC into JSON by blanking comments and dangling
// commas with spaces. Byte offsets and line breaks are unchanged, so decoder
// errors still point at the original text.
func normalizeJSONC(content string) (string, error) {
	buf := []byte(content)
	comma := -1

	for i := 0; i < len(buf); i++ {
		switch buf[i] {
		case '"':
			comma = -1
			i = stringEnd(buf, i)
		case '/':
			end, err := commentEnd(buf, i)
			if err != nil {
				return "", err
			}
			if end < 0 {
				comma = -1
				continue
			}
			blank(buf[i:end])
			i = end - 1
		case ',':
			comma = i
		case '}', ']':
			if comma >= 0 {
				buf[comma] = ' '
			}
			comma = -1
		case ' ', '\t', '\n', '\r':
		default:
			comma = -1
		}
	}
	return string(buf), nil
}

// stringEnd returns the index of the quote closing the string opened at
// start, or the last index when the string is unterminated.
func stringEnd(buf []byte, start int) int {
	for i := start + 1; i < len(buf); i++ {
		switch buf[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return len(buf) - 1
}

// commentEnd returns the index just past the comment opening at start, or -1
// when there is none.
func commentEnd(buf []byte, start int) (int, error) {
	if start+1 >= len(buf) {
		return -1, nil
	}
	switch buf[start+1] {
	case '/':
		if n := bytes.IndexAny(buf[start:], "\r\n"); n >= 0 {
			return start + n, nil
		}
		return len(buf), nil
	case '*':
		if n := bytes.Index(buf[start+2:], []byte("*/")); n >= 0 {
			return start + 2 + n + 2, nil
		}
		return 0, errors.New("unterminated block comment in JSONC")
	default:
		return -1, nil
	}
}

// blank overwrites b with spaces, keeping line breaks and tabs.
func blank(b []byte) {
	for i, ch := range b {
		if ch != '\n' && ch != '\r' && ch != '\t' {
			b[i] = ' '
		}
	}
}

func expectEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	switch {
	case errors.Is(err, io.EOF):
		return nil
	case err == nil:
		return errors.New("multiple JSON values are not allowed")
	default:
		return err
	}
}

// locateJSONError prefixes syntax and type errors with a line and column.
func locateJSONError(content string, err error) error {
	var offset int64
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	default:
		return err
	}
	line, col := lineCol(content, offset)
	return fmt.Errorf("line %d column %d: %w", line, col, err)
}

// lineCol maps a decoder offset (bytes consumed, error byte included) to a
// 1-based line and column.
func lineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}
	end := min(int(offset), len(content)) - 1
	prefix := content[:end]
	line := strings.Count(prefix, "\n") + 1
	col := end - (strings.LastIndexByte(prefix, '\n') + 1) + 1
	return line, col
}
