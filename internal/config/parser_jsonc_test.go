package config

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeJSONCRemovesCommentsAndTrailingCommas(t *testing.T) {
	input := `
{
  // line comment
  "items": [
    "one", /* block comment */
    "two",
  ],
  "nested": {
    "enabled": true,
  },
}
`

	normalized, err := normalizeJSONC(input)
	require.NoError(t, err)
	require.NotContains(t, normalized, "//")
	require.NotContains(t, normalized, "/*")
	require.Len(t, normalized, len(input))
	require.Equal(t, strings.Count(input, "\n"), strings.Count(normalized, "\n"))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(normalized), &decoded))
	require.Equal(t, []any{"one", "two"}, decoded["items"])
}

func TestNormalizeJSONCDropsCommaBeforeCommentedClose(t *testing.T) {
	normalized, err := normalizeJSONC("[1, 2, // last\n]")
	require.NoError(t, err)

	var decoded []int
	require.NoError(t, json.Unmarshal([]byte(normalized), &decoded))
	require.Equal(t, []int{1, 2}, decoded)
}

func TestNormalizeJSONCKeepsEscapedQuotes(t *testing.T) {
	input := `{"value":"say \"hi\", // not a comment",}`
	normalized, err := normalizeJSONC(input)
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(normalized), &decoded))
	require.Equal(t, `say "hi", // not a comment`, decoded["value"])
}

func TestNormalizeJSONCRetainsCommentLikeTextInsideStrings(t *testing.T) {
	input := `{"value":"contains // and /* comment-like */ text",}`
	normalized, err := normalizeJSONC(input)
	require.NoError(t, err)
	require.Contains(t, normalized, "// and /* comment-like */")
}

func TestNormalizeJSONCUnterminatedBlockCommentFails(t *testing.T) {
	_, err := normalizeJSONC("{ /* unterminated ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unterminated block comment")
}

func TestExpectEOFRejectsExtraPayload(t *testing.T) {
	decoder := json.NewDecoder(strings.NewReader(`{"one":1}{"two":2}`))
	var payload map[string]any
	require.NoError(t, decoder.Decode(&payload))

	err := expectEOF(decoder)
	require.Error(t, err)
	require.Contains(t, err.Error(), "multiple JSON values")
}

func TestLineCol(t *testing.T) {
	content := "line1\nline2\nline3"
	line, col := lineCol(content, 1)
	require.Equal(t, 1, line)
	require.Equal(t, 1, col)

	line, col = lineCol(content, 8) // line2, col2
	require.Equal(t, 2, line)
	require.Equal(t, 2, col)

	line, col = lineCol(content, 999)
	require.Equal(t, 3, line)
	require.Equal(t, 5, col)
}

func TestParseJSONCTrimsAndLowercasesEnums(t *testing.T) {
	cfg, _, err := Parse(`{
  // capture from a file
  "audio": {"source": " FILE ", "file": "  /tmp/in.wav  ",},
  "recognizer": {"backend": " Whisper ", "endpoint": "http://127.0.0.1:9000", "task": "Translate"},
}`, Default())
	require.NoError(t, err)
	require.Equal(t, SourceFile, cfg.Audio.Source)
	require.Equal(t, "/tmp/in.wav", cfg.Audio.File)
	require.Equal(t, "whisper", cfg.Recognizer.Backend)
	require.Equal(t, "translate", cfg.Recognizer.Task)
}

func TestParseJSONCRejectsUnknownField(t *testing.T) {
	_, _, err := Parse(`{"server": {"port": 3000}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field")
}

func TestParseJSONCRejectsMultipleTopLevelValues(t *testing.T) {
	_, _, err := Parse(`{"vad":{"enabled":false}}{"vad":{"enabled":true}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "multiple JSON values")
}

func TestParseJSONCTypeErrorIncludesLocation(t *testing.T) {
	_, _, err := Parse(`{
  "server": {"listen": 123}
}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 2 column")
}
