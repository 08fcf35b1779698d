package artifact

import (
	"fmt"
	"strings"
)

const (
	// DefaultReadOffset is the 0-based first line returned by Read when none is given.
	DefaultReadOffset = 0
	// DefaultReadLimit is the number of lines returned by Read when none is given.
	DefaultReadLimit = 2000
	// MaxLineLength truncates long lines in Read output.
	MaxLineLength = 2000
	// LineNumberWidth is the right-aligned width of the line number column.
	LineNumberWidth = 6

	// EmptyContentReminder replaces the listing of an empty artifact.
	EmptyContentReminder = "System reminder: File exists but has empty contents"
)

// Lines splits content into lines, dropping the empty element a trailing
// newline would produce.
func Lines(content string) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// FormatLines renders lines in cat -n style ("%6d\t<line>") numbered from
// startLine. Lines longer than MaxLineLength runes are truncated.
func FormatLines(lines []string, startLine int) string {
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		if r := []rune(line); len(r) > MaxLineLength {
			line = string(r[:MaxLineLength])
		}
		fmt.Fprintf(&b, "%*d\t%s", LineNumberWidth, startLine+i, line)
	}
	return b.String()
}

// Read returns up to limit lines of content starting at the 0-based offset,
// line-numbered from offset+1. Empty or whitespace-only content yields
// EmptyContentReminder. An offset at or past the end fails with
// ErrOffsetOutOfRange. Non-positive limits fall back to DefaultReadLimit.
func Read(content string, offset, limit int) (string, error) {
	if strings.TrimSpace(content) == "" {
		return EmptyContentReminder, nil
	}

	if offset < 0 {
		offset = DefaultReadOffset
	}
	if limit <= 0 {
		limit = DefaultReadLimit
	}

	lines := Lines(content)
	if offset >= len(lines) {
		return "", fmt.Errorf("%w: line offset %d exceeds artifact length (%d lines)", ErrOffsetOutOfRange, offset, len(lines))
	}

	end := offset + limit
	if end > len(lines) {
		end = len(lines)
	}

	return FormatLines(lines[offset:end], offset+1), nil
}

// Edit replaces oldString with newString in content. Zero occurrences fail
// with ErrStringNotFound; more than one occurrence fails with
// ErrAmbiguousEdit unless replaceAll is set. It returns the new content and
// the number of replaced occurrences.
func Edit(content, oldString, newString string, replaceAll bool) (string, int, error) {
	if oldString == "" {
		return "", 0, fmt.Errorf("%w: old_string must not be empty", ErrStringNotFound)
	}

	n := strings.Count(content, oldString)
	switch {
	case n == 0:
		return "", 0, fmt.Errorf("%w: '%s'", ErrStringNotFound, oldString)
	case n > 1 && !replaceAll:
		return "", 0, fmt.Errorf("%w: string '%s' appears %d times in artifact; use replace_all=true to replace all instances, or provide a more specific string with surrounding context", ErrAmbiguousEdit, oldString, n)
	}

	return strings.ReplaceAll(content, oldString, newString), n, nil
}

// Sample returns the first n lines of content in Read format.
func Sample(content string, n int) string {
	lines := Lines(content)
	if len(lines) > n {
		lines = lines[:n]
	}
	return FormatLines(lines, 1)
}
