// Package ldmconf holds the line-oriented tokenizer shared by the two
// hand-rolled LDM configuration formats: the access-control file and the
// pattern-action rule file (spec.md §6). Both share the same lexical
// rules: '#' starts a comment that runs to end of line (unless inside a
// double-quoted substring), a line beginning with whitespace is a
// continuation of the previous logical line joined by a single tab, and
// double-quoted substrings in the token stream preserve internal
// whitespace.
package ldmconf

import (
	"bufio"
	"io"
	"strings"
)

// ReadLogicalLines collapses continuations and strips comments, returning
// one string per logical configuration line.
func ReadLogicalLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		raw := stripComment(scanner.Text())
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if (raw[0] == ' ' || raw[0] == '\t') && len(lines) > 0 {
			lines[len(lines)-1] += "\t" + strings.TrimSpace(raw)
			continue
		}
		lines = append(lines, raw)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// stripComment removes a trailing '#'-to-end-of-line comment, honoring
// double-quoted substrings so a literal '#' inside quotes is kept.
func stripComment(line string) string {
	inQuote := false
	for i, r := range line {
		switch r {
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return line[:i]
			}
		}
	}
	return line
}

// Tokenize splits a logical line on whitespace, treating a double-quoted
// substring as a single token with its quotes removed and its internal
// whitespace preserved.
func Tokenize(line string) []string {
	var tokens []string
	var cur strings.Builder
	inQuote := false
	have := false

	flush := func() {
		if have {
			tokens = append(tokens, cur.String())
			cur.Reset()
			have = false
		}
	}

	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			have = true
		case !inQuote && (r == ' ' || r == '\t'):
			flush()
		default:
			cur.WriteRune(r)
			have = true
		}
	}
	flush()
	return tokens
}
