// Package transcript cleans up recognized text before it is broadcast.
package transcript

import (
	"regexp"
	"strings"
	"unicode"
)

// Options controls text normalization.
type Options struct {
	CapitalizeSentences bool
}

var (
	pronounIPattern = regexp.MustCompile(`\bi\b(['’](?:m|d|ll|ve|re|s)\b)?`)

	// Tokens whose trailing period does not end a sentence.
	nonTerminalAbbreviations = map[string]struct{}{
		"dr": {}, "mr": {}, "mrs": {}, "ms": {}, "prof": {}, "sr": {}, "jr": {},
		"e.g": {}, "i.e": {}, "cf": {}, "vs": {}, "etc": {},
	}
)

// Normalize collapses whitespace and optionally applies sentence casing.
func Normalize(text string, opts Options) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" || !opts.CapitalizeSentences {
		return text
	}
	return capitalizePronounI(capitalizeSentenceStarts(text))
}

// Normalizer returns Normalize bound to opts.
func Normalizer(opts Options) func(string) string {
	return func(text string) string { return Normalize(text, opts) }
}

func capitalizeSentenceStarts(text string) string {
	runes := []rune(text)
	atStart := true
	for i, r := range runes {
		switch {
		case atStart && unicode.IsLetter(r):
			runes[i] = unicode.ToUpper(r)
			atStart = false
		case atStart && unicode.IsDigit(r):
			atStart = false
		case r == '!' || r == '?':
			atStart = true
		case r == '.':
			atStart = endsSentence(runes, i)
		}
	}
	return string(runes)
}

// endsSentence reports whether the period at idx is followed by whitespace
// and is not part of a decimal or known abbreviation.
func endsSentence(runes []rune, idx int) bool {
	if idx+1 < len(runes) && !unicode.IsSpace(runes[idx+1]) {
		return false
	}
	start := idx
	for start > 0 && (unicode.IsLetter(runes[start-1]) || runes[start-1] == '.') {
		start--
	}
	token := strings.ToLower(strings.Trim(string(runes[start:idx]), "."))
	_, abbreviation := nonTerminalAbbreviations[token]
	return !abbreviation
}

// capitalizePronounI upper-cases a standalone "i" but leaves initialisms
// such as "i.e." alone.
func capitalizePronounI(text string) string {
	matches := pronounIPattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	out := []byte(text)
	for _, match := range matches {
		start, end := match[0], match[1]
		if end < len(text) && text[end] == '.' {
			continue
		}
		if start > 0 && text[start-1] == '.' {
			continue
		}
		out[start] = 'I'
	}
	return string(out)
}
